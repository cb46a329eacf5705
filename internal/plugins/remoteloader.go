// Package plugins - remoteloader.go
//
// The Remote Loader fetches a plugin artifact from an external URL and
// evaluates it, exposing a named symbol — the Go-native restatement of
// spec.md §4.5's "script-tag injection against a named global."
//
// Go has no DOM and no dynamically-typed global object. The closest
// idiomatic mechanism for loading foreign code at runtime is the
// standard library's plugin package, which this runtime's teacher
// already uses for exactly this purpose in its own dynamic-plugin
// discovery (fetch/cache a .so, plugin.Open it, Lookup a well-known
// exported symbol). That file's own doc comments already record the
// package's defining limitation:
//
//	No unload: Once loaded, plugins can't be unloaded (memory leak)
//
// which is the Go-idiomatic restatement of spec.md §4.5's own
// documented limitation: after remote unload, the JS engine's module
// cache is unaffected, and that is intentional and documented. Unload
// below does complete, real cleanup of the cache entry and the
// downloaded artifact; the underlying *plugin.Plugin symbol table
// remains resident for the life of the process, exactly as upstream.
package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pluginhost/runtime/internal/cache"
	pluginlog "github.com/pluginhost/runtime/internal/log"
)

// RemotePluginConfig is the per-call input to RemoteLoader.Load.
type RemotePluginConfig struct {
	Name    string
	URL     string
	// ExposedSymbol is the exported plugin symbol to Lookup, the flat
	// Go analogue of spec.md's dotted exposedGlobal path (Go plugin
	// symbols have no nesting).
	ExposedSymbol string
	Timeout       time.Duration
	Retry         bool
	RetryAttempts int
}

// RemoteLoadResult mirrors spec.md §4.5's {module, loadTimeMs, fromCache}.
type RemoteLoadResult struct {
	Module     Module
	LoadTimeMs int64
	FromCache  bool
}

type remoteCacheEntry struct {
	id           string
	url          string
	module       Module
	artifactPath string
	loadedAt     time.Time
}

// remoteCacheRecord is the distributed-tier mirror of a cacheByURL
// entry; only what a second process needs to know an artifact was
// already fetched, not the loaded Module itself (a Go value holding
// live function pointers has no useful wire form).
type remoteCacheRecord struct {
	URL      string    `json:"url"`
	LoadedAt time.Time `json:"loadedAt"`
}

// RemoteLoader loads plugin artifacts from external URLs via Go's
// plugin package, with a retry/timeout/cache pipeline and true
// teardown on Unload.
type RemoteLoader struct {
	mu          sync.Mutex
	cacheByURL  map[string]*remoteCacheEntry
	cacheByName map[string]*remoteCacheEntry
	cfg         RemoteLoaderConfig
	client      *http.Client
	redis       *cache.Cache
	logger      *zerolog.Logger
	dir         string
}

func newRemoteLoader(cfg RemoteLoaderConfig) *RemoteLoader {
	dir := cfg.CacheDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "pluginhost-remote-cache")
	}
	_ = os.MkdirAll(dir, 0o755)

	rl := &RemoteLoader{
		cacheByURL:  make(map[string]*remoteCacheEntry),
		cacheByName: make(map[string]*remoteCacheEntry),
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.FetchTimeout},
		logger:      pluginlog.Component("remoteloader"),
		dir:         dir,
	}

	if cfg.Redis != nil && cfg.Redis.Enabled {
		redisCache, err := cache.NewCache(cache.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Enabled:  true,
		})
		if err != nil {
			rl.logger.Warn().Err(err).Msg("redis cache tier unreachable, falling back to in-process cache only")
		} else {
			rl.redis = redisCache
		}
	}

	return rl
}

// Load implements spec.md §4.5's algorithm: cache-first, fetch raced
// against a timeout, retry-with-backoff on network error, record on
// success.
func (rl *RemoteLoader) Load(ctx context.Context, cfg RemotePluginConfig) (RemoteLoadResult, error) {
	start := time.Now()

	rl.mu.Lock()
	if entry, ok := rl.cacheByURL[cfg.URL]; ok {
		rl.mu.Unlock()
		return RemoteLoadResult{Module: entry.module, FromCache: true, LoadTimeMs: 0}, nil
	}
	rl.mu.Unlock()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := 1
	if cfg.Retry {
		maxAttempts = cfg.RetryAttempts
		if maxAttempts < 1 {
			maxAttempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		module, artifactPath, err := rl.fetchAndOpen(ctx, cfg, timeout)
		if err == nil {
			entry := &remoteCacheEntry{
				id:           uuid.NewString(),
				url:          cfg.URL,
				module:       module,
				artifactPath: artifactPath,
				loadedAt:     time.Now(),
			}
			rl.mu.Lock()
			rl.cacheByURL[cfg.URL] = entry
			rl.cacheByName[cfg.Name] = entry
			rl.mu.Unlock()
			rl.mirrorToRedis(ctx, entry)

			return RemoteLoadResult{
				Module:     module,
				LoadTimeMs: time.Since(start).Milliseconds(),
				FromCache:  false,
			}, nil
		}

		lastErr = err
		if pe, ok := err.(*PluginError); ok && pe.RemoteCode != RemoteNetworkError {
			break
		}
		if attempt < maxAttempts {
			backoff := time.Duration(attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return RemoteLoadResult{}, NewRemoteLoadError(cfg.URL, RemoteNetworkError, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return RemoteLoadResult{}, lastErr
}

func (rl *RemoteLoader) fetchAndOpen(ctx context.Context, cfg RemotePluginConfig, timeout time.Duration) (Module, string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	artifactPath := filepath.Join(rl.dir, sanitizeArtifactName(cfg.Name)+".so")
	if err := rl.download(fetchCtx, cfg.URL, artifactPath); err != nil {
		os.Remove(artifactPath) // discard the partial artifact between attempts
		if fetchCtx.Err() != nil {
			return Module{}, "", NewRemoteLoadError(cfg.URL, RemoteTimeout, fetchCtx.Err())
		}
		return Module{}, "", NewRemoteLoadError(cfg.URL, RemoteNetworkError, err)
	}

	p, err := plugin.Open(artifactPath)
	if err != nil {
		os.Remove(artifactPath)
		return Module{}, "", NewRemoteLoadError(cfg.URL, RemoteNetworkError, err)
	}

	symbol, err := p.Lookup(cfg.ExposedSymbol)
	if err != nil {
		return Module{}, "", NewRemoteLoadError(cfg.URL, RemoteModuleNotFound, err)
	}

	factory, ok := symbol.(func() Module)
	if !ok {
		return Module{}, "", NewRemoteLoadError(cfg.URL, RemoteInvalidModule,
			fmt.Errorf("symbol %s has wrong signature, expected func() Module", cfg.ExposedSymbol))
	}

	module := factory()
	if module.Manifest.Name == "" {
		return Module{}, "", NewRemoteLoadError(cfg.URL, RemoteInvalidModule, fmt.Errorf("module missing PluginManifest"))
	}

	return module, artifactPath, nil
}

func (rl *RemoteLoader) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := rl.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

func sanitizeArtifactName(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return replacer.Replace(name)
}

func (rl *RemoteLoader) mirrorToRedis(ctx context.Context, entry *remoteCacheEntry) {
	if rl.redis == nil {
		return
	}
	key := "pluginhost:remotecache:" + entry.url
	record := remoteCacheRecord{URL: entry.url, LoadedAt: entry.loadedAt}

	var existing remoteCacheRecord
	if err := rl.redis.Get(ctx, key, &existing); err == nil && existing.URL == record.URL {
		// Another host already mirrored this artifact; skip the redundant write.
		return
	}

	if err := rl.redis.Set(ctx, key, record, rl.cfg.EntryTTL); err != nil {
		rl.logger.Warn().Err(err).Str("url", entry.url).Msg("failed to mirror remote cache entry to redis")
	}
}

// RedisStats returns the Redis mirror tier's pool/server stats, or
// {"enabled": "false"} when no Redis tier is configured.
func (rl *RemoteLoader) RedisStats(ctx context.Context) (map[string]string, error) {
	if rl.redis == nil {
		return map[string]string{"enabled": "false"}, nil
	}
	return rl.redis.GetStats(ctx)
}

// close releases the Redis mirror tier's connection pool, if any.
func (rl *RemoteLoader) close() {
	if rl.redis != nil {
		_ = rl.redis.Close()
	}
}

// Unload removes the cached .so artifact and evicts the cache entry
// for name — the Go analogue of removing the <script> element and
// deleting the exposed global. It does not and cannot free the
// process's internal plugin symbol table; see the package doc above.
func (rl *RemoteLoader) Unload(ctx context.Context, name string) error {
	rl.mu.Lock()
	entry, ok := rl.cacheByName[name]
	if ok {
		delete(rl.cacheByName, name)
		delete(rl.cacheByURL, entry.url)
	}
	rl.mu.Unlock()

	if !ok {
		return nil
	}

	if entry.artifactPath != "" {
		_ = os.Remove(entry.artifactPath)
	}
	if rl.redis != nil {
		_ = rl.redis.Delete(ctx, "pluginhost:remotecache:"+entry.url)
	}
	return nil
}

// RemoteCacheStats mirrors spec.md §4.5's stats() → {size, entries}.
type RemoteCacheStats struct {
	Size    int
	Entries []RemoteCacheEntryStats
}

type RemoteCacheEntryStats struct {
	URL      string
	LoadedAt time.Time
}

func (rl *RemoteLoader) Stats() RemoteCacheStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	stats := RemoteCacheStats{Size: len(rl.cacheByURL)}
	for url, entry := range rl.cacheByURL {
		stats.Entries = append(stats.Entries, RemoteCacheEntryStats{URL: url, LoadedAt: entry.loadedAt})
	}
	return stats
}

// Clear evicts every cache entry and removes its artifact.
func (rl *RemoteLoader) Clear() {
	rl.mu.Lock()
	entries := make([]*remoteCacheEntry, 0, len(rl.cacheByURL))
	for _, e := range rl.cacheByURL {
		entries = append(entries, e)
	}
	rl.cacheByURL = make(map[string]*remoteCacheEntry)
	rl.cacheByName = make(map[string]*remoteCacheEntry)
	rl.mu.Unlock()

	for _, e := range entries {
		if e.artifactPath != "" {
			_ = os.Remove(e.artifactPath)
		}
	}
}

// sweepExpired evicts cache entries older than cfg.EntryTTL. Invoked
// by the cache janitor cron job, never by the hot Load/Unload path.
func (rl *RemoteLoader) sweepExpired() {
	if rl.cfg.EntryTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-rl.cfg.EntryTTL)

	rl.mu.Lock()
	expired := make([]*remoteCacheEntry, 0)
	for url, e := range rl.cacheByURL {
		if e.loadedAt.Before(cutoff) {
			expired = append(expired, e)
			delete(rl.cacheByURL, url)
			for name, byName := range rl.cacheByName {
				if byName == e {
					delete(rl.cacheByName, name)
				}
			}
		}
	}
	rl.mu.Unlock()

	for _, e := range expired {
		if e.artifactPath != "" {
			_ = os.Remove(e.artifactPath)
		}
		rl.logger.Debug().Str("url", e.url).Msg("cache janitor evicted expired remote plugin artifact")
	}
}
