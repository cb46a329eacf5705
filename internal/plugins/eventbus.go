package plugins

import (
	"fmt"
	"sync"
)

// contextEventHandler is a subscriber callback registered through a
// PluginContext. Panics are isolated per-handler; they never interrupt
// the rest of a fan-out.
type contextEventHandler func(payload any)

// contextSubscription pairs a handler with a stable id assigned at
// subscribe time. The id, not the handler's position in the slice, is
// what a disposer removes: positions shift as earlier subscribers are
// unsubscribed, but ids never do.
type contextSubscription struct {
	id      uint64
	handler contextEventHandler
}

// contextEventBus is the pub/sub surface backing a single plugin's
// Context. It is deliberately per-context rather than process-wide
// (unlike the registry-wide EventBus this is grounded on), since
// spec.md §4.3 scopes emit/subscribe to one plugin's own context.
type contextEventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]contextSubscription
	nextID      uint64
	destroyed   bool
}

func newContextEventBus() *contextEventBus {
	return &contextEventBus{subscribers: make(map[string][]contextSubscription)}
}

// subscribe registers handler for event and returns a disposer that
// removes it by id and prunes the bucket if it becomes empty.
func (b *contextEventBus) subscribe(event string, handler contextEventHandler) func() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		// Per the resolved Open Question (SPEC_FULL.md §5.3): subscribe
		// after destroy returns a no-op disposer rather than panicking.
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subscribers[event] = append(b.subscribers[event], contextSubscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[event]
			for i, s := range subs {
				if s.id == id {
					subs = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(subs) == 0 {
				delete(b.subscribers, event)
			} else {
				b.subscribers[event] = subs
			}
		})
	}
}

// emit invokes every subscriber for event, in registration order.
// Per-handler panics are recovered and logged; they never interrupt
// the rest of the fan-out, matching spec.md §4.3.
func (b *contextEventBus) emit(event string, payload any, log func(format string, args ...any)) {
	b.mu.RLock()
	if b.destroyed {
		b.mu.RUnlock()
		return
	}
	subs := make([]contextSubscription, len(b.subscribers[event]))
	copy(subs, b.subscribers[event])
	b.mu.RUnlock()

	for _, s := range subs {
		func(h contextEventHandler) {
			defer func() {
				if r := recover(); r != nil {
					if log != nil {
						log("context event handler panicked on %q: %v", event, r)
					}
				}
			}()
			h(payload)
		}(s.handler)
	}
}

// destroy clears every handler table. Subsequent subscribe/emit calls
// become no-ops (see the resolved Open Question above).
func (b *contextEventBus) destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyed = true
	b.subscribers = make(map[string][]contextSubscription)
}

// errPanic is a small helper so a recovered panic value can be reported
// through the same error-wrapping path as a genuine handler error,
// without reproducing the teacher's missing-fmt-import defect.
func errPanic(v any) error {
	return fmt.Errorf("panic: %v", v)
}
