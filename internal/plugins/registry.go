package plugins

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	pluginlog "github.com/pluginhost/runtime/internal/log"
)

// Loader resolves a plugin's Module, the Go analogue of the host
// bundler's dynamic import() call in spec.md §3.
type Loader func(context.Context) (Module, error)

// Descriptor is the input to Register.
type Descriptor struct {
	Name   string
	Load   Loader
	Config PluginConfig
}

// PluginConfig is per-plugin registration configuration.
type PluginConfig struct {
	AutoLoad bool
	Timeout  time.Duration
	// AllowedServices, if non-empty, whitelists the service tokens this
	// plugin's Context may resolve.
	AllowedServices map[ServiceToken]struct{}
	// RetryOnError / MaxRetries are reserved fields: accepted at
	// registration, never acted on by the core (spec.md §9).
	RetryOnError bool
	MaxRetries   int
	Metadata     map[string]any
}

// EntryMetadata is the observable state of a registry entry.
type EntryMetadata struct {
	Manifest            *PluginManifest
	State               State
	LoadedAt            *time.Time
	ActivatedAt         *time.Time
	Error               *PluginError
	ErrorCount          int
	HasComponent        bool
	IsCreatingComponent bool
	CustomMetadata      map[string]any
}

func (m EntryMetadata) clone() EntryMetadata {
	out := m
	if m.CustomMetadata != nil {
		out.CustomMetadata = make(map[string]any, len(m.CustomMetadata))
		for k, v := range m.CustomMetadata {
			out.CustomMetadata[k] = v
		}
	}
	return out
}

// ComponentHandle is an opaque handle to a mounted entry component.
type ComponentHandle struct {
	ID        string
	Component Component
}

// registryEntry is the Registry's internal record for one plugin. The
// Manager (same package) reaches into it directly; nothing outside
// this package sees it.
type registryEntry struct {
	mu               sync.Mutex
	registration     Descriptor
	metadata         EntryMetadata
	scope            *Scope
	pluginContext    *PluginContext
	module           *Module
	mountedComponent *ComponentHandle
}

// Registry owns the name->entry mapping and the state-event feed. It
// never throws on teardown sub-failures: an entry is always removed.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	feed    *StateFeed
	devMode bool
	logger  *zerolog.Logger
}

func newRegistry(devMode bool) *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		feed:    newStateFeed(),
		devMode: devMode,
		logger:  pluginlog.Component("registry"),
	}
}

// Subscribe exposes the registry's state feed to the outside world.
func (r *Registry) Subscribe() (<-chan StateEvent, func()) {
	return r.feed.Subscribe()
}

// Register inserts a new entry in StateRegistered. Fails if the name
// already exists.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	if _, exists := r.entries[d.Name]; exists {
		r.mu.Unlock()
		return NewPluginAlreadyRegisteredError(d.Name)
	}
	entry := &registryEntry{
		registration: d,
		metadata: EntryMetadata{
			State:          StateRegistered,
			CustomMetadata: d.Config.Metadata,
		},
	}
	r.entries[d.Name] = entry
	r.mu.Unlock()

	r.emit(d.Name, StateRegistered, nil)
	return nil
}

// getEntry returns the live entry pointer (not a copy) for internal
// package use by the Manager.
func (r *Registry) getEntry(name string) (*registryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Get returns a metadata snapshot for name.
func (r *Registry) Get(name string) (EntryMetadata, bool) {
	e, ok := r.getEntry(name)
	if !ok {
		return EntryMetadata{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metadata.clone(), true
}

// GetMetadata is an alias for Get kept for naming parity with
// spec.md §4.4's getMetadata.
func (r *Registry) GetMetadata(name string) (EntryMetadata, bool) { return r.Get(name) }

// GetAll returns a snapshot of every entry's metadata, keyed by name.
func (r *Registry) GetAll() map[string]EntryMetadata {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	entries := make([]*registryEntry, 0, len(r.entries))
	for name, e := range r.entries {
		names = append(names, name)
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make(map[string]EntryMetadata, len(names))
	for i, name := range names {
		entries[i].mu.Lock()
		out[name] = entries[i].metadata.clone()
		entries[i].mu.Unlock()
	}
	return out
}

// GetByState returns every entry currently in the given state.
func (r *Registry) GetByState(state State) map[string]EntryMetadata {
	all := r.GetAll()
	out := make(map[string]EntryMetadata)
	for name, m := range all {
		if m.State == state {
			out[name] = m
		}
	}
	return out
}

// GetByMetadata returns entries whose CustomMetadata contains every
// key/value pair in filter.
func (r *Registry) GetByMetadata(filter map[string]any) map[string]EntryMetadata {
	all := r.GetAll()
	out := make(map[string]EntryMetadata)
	for name, m := range all {
		matches := true
		for k, v := range filter {
			if mv, ok := m.CustomMetadata[k]; !ok || mv != v {
				matches = false
				break
			}
		}
		if matches {
			out[name] = m
		}
	}
	return out
}

// UpdateMetadata shallow-merges patch into the entry's metadata and
// emits a state event reflecting the resulting state.
func (r *Registry) UpdateMetadata(name string, patch func(*EntryMetadata)) error {
	e, ok := r.getEntry(name)
	if !ok {
		return NewPluginNotFoundError(name)
	}
	e.mu.Lock()
	patch(&e.metadata)
	state := e.metadata.State
	errCopy := e.metadata.Error
	e.mu.Unlock()

	r.emit(name, state, errCopy)
	return nil
}

func (r *Registry) setScope(name string, scope *Scope) {
	e, ok := r.getEntry(name)
	if !ok {
		return
	}
	e.mu.Lock()
	e.scope = scope
	e.mu.Unlock()
}

func (r *Registry) setContext(name string, ctx *PluginContext) {
	e, ok := r.getEntry(name)
	if !ok {
		return
	}
	e.mu.Lock()
	e.pluginContext = ctx
	e.mu.Unlock()
}

func (r *Registry) setManifest(name string, manifest PluginManifest) {
	e, ok := r.getEntry(name)
	if !ok {
		return
	}
	e.mu.Lock()
	e.metadata.Manifest = &manifest
	e.mu.Unlock()
}

func (r *Registry) setModule(name string, module *Module) {
	e, ok := r.getEntry(name)
	if !ok {
		return
	}
	e.mu.Lock()
	e.module = module
	e.mu.Unlock()
}

func (r *Registry) setMountedComponent(name string, handle *ComponentHandle) {
	e, ok := r.getEntry(name)
	if !ok {
		return
	}
	e.mu.Lock()
	e.mountedComponent = handle
	e.metadata.HasComponent = handle != nil
	e.mu.Unlock()
}

// transition sets the entry's state (and, on error, records it) and
// emits the resulting state event.
func (r *Registry) transition(name string, state State, pluginErr *PluginError) {
	e, ok := r.getEntry(name)
	if !ok {
		return
	}
	e.mu.Lock()
	e.metadata.State = state
	now := time.Now()
	switch state {
	case StateLoaded:
		e.metadata.LoadedAt = &now
	case StateActive:
		e.metadata.ActivatedAt = &now
	}
	if pluginErr != nil {
		e.metadata.Error = pluginErr
		e.metadata.ErrorCount++
	}
	e.mu.Unlock()

	if r.devMode {
		r.logger.Debug().Str("plugin", name).Str("state", string(state)).Msg("state transition")
	}
	r.emit(name, state, pluginErr)
}

func (r *Registry) emit(name string, state State, pluginErr *PluginError) {
	r.feed.publish(StateEvent{
		PluginName: name,
		State:      state,
		Timestamp:  time.Now().UnixNano(),
		Error:      pluginErr,
	})
}

// Unregister destroys the entry's context and scope (best-effort —
// failures are caught, logged in dev mode, and discarded), deletes it
// from the mapping, and emits UNLOADED. The entry is always removed,
// even if teardown of its resources misbehaves.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return NewPluginNotFoundError(name)
	}
	delete(r.entries, name)
	r.mu.Unlock()

	r.destroyEntryResources(e)
	r.emit(name, StateUnloaded, nil)
	return nil
}

func (r *Registry) destroyEntryResources(e *registryEntry) {
	e.mu.Lock()
	ctx := e.pluginContext
	scope := e.scope
	e.mu.Unlock()

	r.safely("destroy context", func() {
		if ctx != nil {
			ctx.Destroy()
		}
	})
	r.safely("destroy scope", func() {
		if scope != nil {
			scope.Destroy()
		}
	})
}

// safely runs fn, recovering and logging (in dev mode) any panic. The
// registry must guarantee entry removal regardless of how badly a
// scope or context's teardown misbehaves.
func (r *Registry) safely(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil && r.devMode {
			r.logger.Warn().Str("op", what).Interface("recover", rec).Msg("swallowed panic during teardown")
		}
	}()
	fn()
}

// Clear tears down every entry.
func (r *Registry) Clear() {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	for _, name := range names {
		_ = r.Unregister(name)
	}
}
