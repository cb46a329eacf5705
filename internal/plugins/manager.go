package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	pluginlog "github.com/pluginhost/runtime/internal/log"
)

// ViewContainer is the host's UI-framework bridge: the one call the
// Manager makes out into whatever renders a plugin's entry component.
// Its actual component/injection primitives are out of scope; the
// Manager only needs it to mount a factory against a Scope and hand
// back a handle it can drive through OnActivate/OnDeactivate/OnDestroy.
type ViewContainer interface {
	CreateComponent(factory ComponentFactory, scope *Scope) (*ComponentHandle, error)
}

// LoadResult is one element of LoadMany's return value.
type LoadResult struct {
	Name     string
	Metadata EntryMetadata
	Err      error
}

// PluginInfo is a read-only projection of a registry entry, the shape
// a dashboard or devtools client actually wants.
type PluginInfo struct {
	Name         string
	State        State
	Manifest     *PluginManifest
	ErrorCount   int
	Error        *PluginError
	HasComponent bool
}

type loadCall struct {
	done     chan struct{}
	metadata EntryMetadata
	err      error
}

type unloadCall struct {
	done chan struct{}
	err  error
}

// Manager is the plugin runtime's orchestration core: it owns the
// Registry, the Remote Loader, the cache janitor, and the in-flight
// call dedup tables, and drives every lifecycle hook through its
// configured timeouts and global hooks.
//
// A process builds exactly one Manager via New and holds it for the
// process's lifetime (SPEC_FULL.md §7's explicit-singleton design
// note) — nothing here prevents building more than one, but nothing
// coordinates across them either.
type Manager struct {
	cfg           PluginSystemConfig
	registry      *Registry
	remoteLoader  *RemoteLoader
	janitor       *cacheJanitor
	parentLocator ServiceLocator
	natsBridge    *natsBridge
	logger        *zerolog.Logger

	inFlightLoadsMu sync.Mutex
	inFlightLoads   map[string]*loadCall

	inFlightUnloadsMu sync.Mutex
	inFlightUnloads   map[string]*unloadCall
}

// New builds a Manager against parent, the host's own ServiceLocator
// (pass nil if the host has none yet). It starts the cache janitor
// immediately and connects the NATS bridge if cfg.NATS.URL is set.
func New(cfg PluginSystemConfig, parent ServiceLocator) *Manager {
	if cfg.MaxConcurrentLoads <= 0 {
		cfg.MaxConcurrentLoads = 1
	}

	m := &Manager{
		cfg:             cfg,
		registry:        newRegistry(cfg.EnableDevMode),
		remoteLoader:    newRemoteLoader(cfg.RemoteLoader),
		janitor:         newCacheJanitor(),
		parentLocator:   parent,
		natsBridge:      newNATSBridge(cfg.NATS),
		logger:          pluginlog.Component("manager"),
		inFlightLoads:   make(map[string]*loadCall),
		inFlightUnloads: make(map[string]*unloadCall),
	}

	m.janitor.start(cfg.RemoteLoader.JanitorInterval, m.remoteLoader)
	m.natsBridge.mirror(m.registry.feed)

	return m
}

// Close stops the cache janitor and NATS bridge, tears down every
// registered plugin, and releases the remote loader's Redis mirror
// connection (if one was configured).
func (m *Manager) Close() {
	m.janitor.stop()
	m.natsBridge.close()
	m.registry.Clear()
	m.remoteLoader.Clear()
	m.remoteLoader.close()
}

// RemoteCacheStats returns the remote loader's in-process cache stats.
func (m *Manager) RemoteCacheStats() RemoteCacheStats {
	return m.remoteLoader.Stats()
}

// RemoteCacheRedisStats returns the remote loader's Redis mirror tier
// stats, or {"enabled": "false"} when no Redis tier is configured.
func (m *Manager) RemoteCacheRedisStats(ctx context.Context) (map[string]string, error) {
	return m.remoteLoader.RedisStats(ctx)
}

// PluginState exposes the registry's broadcast state feed.
func (m *Manager) PluginState() (<-chan StateEvent, func()) {
	return m.registry.Subscribe()
}

// Register adds a plugin descriptor in StateRegistered. If
// Config.AutoLoad is set, Load is kicked off in the background and its
// error (if any) is only logged — Register itself never blocks on it.
func (m *Manager) Register(d Descriptor) error {
	if err := m.registry.Register(d); err != nil {
		return err
	}
	if d.Config.AutoLoad {
		go func() {
			if _, err := m.Load(context.Background(), d.Name); err != nil {
				m.logger.Warn().Err(err).Str("plugin", d.Name).Msg("autoLoad failed")
			}
		}()
	}
	return nil
}

// Load resolves name's Loader, builds its Scope and Context, and runs
// onLoad. Concurrent callers for the same name share one in-flight
// call rather than racing the loader twice (spec.md §4.6.6). A plugin
// already LOADED or ACTIVE returns its current metadata immediately.
// A plugin currently UNLOADING is rejected rather than queued — the
// resolved Open Question in SPEC_FULL.md §5.3.
func (m *Manager) Load(ctx context.Context, name string) (EntryMetadata, error) {
	entry, ok := m.registry.getEntry(name)
	if !ok {
		return EntryMetadata{}, NewPluginNotFoundError(name)
	}

	entry.mu.Lock()
	state := entry.metadata.State
	entry.mu.Unlock()

	switch state {
	case StateLoaded, StateActive:
		md, _ := m.registry.Get(name)
		return md, nil
	case StateUnloading:
		return EntryMetadata{}, NewPluginStateError(name, StateRegistered, StateUnloading)
	}

	m.inFlightLoadsMu.Lock()
	if call, inFlight := m.inFlightLoads[name]; inFlight {
		m.inFlightLoadsMu.Unlock()
		<-call.done
		return call.metadata, call.err
	}
	call := &loadCall{done: make(chan struct{})}
	m.inFlightLoads[name] = call
	m.inFlightLoadsMu.Unlock()

	md, err := m.doLoad(ctx, name, entry)

	call.metadata, call.err = md, err
	close(call.done)

	m.inFlightLoadsMu.Lock()
	delete(m.inFlightLoads, name)
	m.inFlightLoadsMu.Unlock()

	return md, err
}

func (m *Manager) doLoad(ctx context.Context, name string, entry *registryEntry) (EntryMetadata, error) {
	m.callGlobalHook(func() {
		if m.cfg.LifecycleHooks.BeforeLoad != nil {
			m.cfg.LifecycleHooks.BeforeLoad(name)
		}
	})

	m.registry.transition(name, StateLoading, nil)

	entry.mu.Lock()
	descriptor := entry.registration
	entry.mu.Unlock()

	timeout := descriptor.Config.Timeout
	if timeout <= 0 {
		timeout = m.cfg.GlobalTimeout
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	moduleCh := make(chan Module, 1)
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- errPanic(r)
			}
		}()
		mod, err := descriptor.Load(loadCtx)
		if err != nil {
			errCh <- err
			return
		}
		moduleCh <- mod
	}()

	var module Module
	select {
	case mod := <-moduleCh:
		module = mod
	case err := <-errCh:
		return m.failLoad(name, nil, nil, NewPluginLoadError(name, err))
	case <-loadCtx.Done():
		return m.failLoad(name, nil, nil, NewPluginLoadError(name, loadCtx.Err()))
	}

	if module.Manifest.Name == "" || module.Manifest.EntryComponent == nil {
		return m.failLoad(name, nil, nil, NewPluginLoadError(name, fmt.Errorf("module missing manifest or entry component")))
	}
	manifest := module.Manifest

	if m.cfg.DebugOptions.ValidateManifests && manifest.Name != name {
		msg := fmt.Sprintf("manifest name %q does not match registered name %q", manifest.Name, name)
		if m.cfg.DebugOptions.ThrowOnWarnings {
			return m.failLoad(name, nil, nil, NewPluginLoadError(name, fmt.Errorf(msg)))
		}
		m.logger.Warn().Str("plugin", name).Msg(msg)
	}

	allowed := mergeAllowedServices(m.cfg.DefaultAllowedServices, descriptor.Config.AllowedServices)
	pctx := newPluginContext(name, m.parentLocator, allowed)
	scope := NewScope(ScopeOptions{Parent: m.parentLocator, PluginName: name, Context: pctx})

	m.registry.setContext(name, pctx)
	m.registry.setScope(name, scope)
	m.registry.setManifest(name, manifest)
	m.registry.setModule(name, &module)

	instance := manifest.EntryComponent()

	if err := m.runHook(ctx, name, "onLoad", func(hctx context.Context) error {
		return instance.OnLoad(hctx, pctx)
	}); err != nil {
		return m.failLoad(name, pctx, scope, err)
	}

	m.registry.transition(name, StateLoaded, nil)
	md, _ := m.registry.Get(name)

	m.callGlobalHook(func() {
		if m.cfg.LifecycleHooks.AfterLoad != nil {
			m.cfg.LifecycleHooks.AfterLoad(name)
		}
	})

	return md, nil
}

// failLoad tears down any scope/context already built for a failed
// load, transitions the entry to ERROR, and notifies the global
// OnError hook. The entry itself is left registered — a failed load
// can be retried by calling Load again.
func (m *Manager) failLoad(name string, pctx *PluginContext, scope *Scope, err *PluginError) (EntryMetadata, error) {
	if pctx != nil {
		pctx.Destroy()
	}
	if scope != nil {
		scope.Destroy()
	}
	m.registry.transition(name, StateError, err)
	m.invokeOnError(name, err)
	md, _ := m.registry.Get(name)
	return md, err
}

// CreatePluginComponent mounts a LOADED or ACTIVE plugin's entry
// component into container and runs onActivate. isCreatingComponent
// guards against a concurrent Unregister tearing the scope down mid
// mount (spec.md §8 scenario 5).
func (m *Manager) CreatePluginComponent(ctx context.Context, name string, container ViewContainer) (*ComponentHandle, error) {
	entry, ok := m.registry.getEntry(name)
	if !ok {
		return nil, NewPluginNotFoundError(name)
	}

	entry.mu.Lock()
	if entry.metadata.IsCreatingComponent {
		entry.mu.Unlock()
		return nil, NewPluginOperationInProgressError(name, OperationCreating)
	}
	state := entry.metadata.State
	if state != StateLoaded && state != StateActive {
		entry.mu.Unlock()
		return nil, NewPluginStateError(name, StateLoaded, state)
	}
	entry.metadata.IsCreatingComponent = true
	scope := entry.scope
	pctx := entry.pluginContext
	manifest := entry.metadata.Manifest
	entry.mu.Unlock()

	defer func() {
		entry.mu.Lock()
		entry.metadata.IsCreatingComponent = false
		entry.mu.Unlock()
	}()

	if scope == nil || scope.IsDestroyed() || manifest == nil {
		return nil, NewPluginStateError(name, StateLoaded, StateUnloading)
	}

	handle, err := container.CreateComponent(manifest.EntryComponent, scope)
	if err != nil {
		return nil, NewPluginLoadError(name, err)
	}
	m.registry.setMountedComponent(name, handle)

	if err := m.runHook(ctx, name, "onActivate", func(hctx context.Context) error {
		return handle.Component.OnActivate(hctx, pctx)
	}); err != nil {
		m.recordTeardownError(name, err)
		return nil, err
	}

	m.registry.transition(name, StateActive, nil)
	return handle, nil
}

// Unregister deactivates and destroys a mounted component (if any),
// then destroys the plugin's scope and context and removes it from
// the registry. Concurrent Unregister calls for the same name share
// one in-flight call. A plugin whose component is mid-creation is
// rejected rather than torn down underneath CreatePluginComponent.
func (m *Manager) Unregister(ctx context.Context, name string) error {
	m.inFlightUnloadsMu.Lock()
	if call, inFlight := m.inFlightUnloads[name]; inFlight {
		m.inFlightUnloadsMu.Unlock()
		<-call.done
		return call.err
	}
	m.inFlightUnloadsMu.Unlock()

	entry, ok := m.registry.getEntry(name)
	if !ok {
		return NewPluginNotFoundError(name)
	}

	entry.mu.Lock()
	creating := entry.metadata.IsCreatingComponent
	entry.mu.Unlock()
	if creating {
		return NewPluginOperationInProgressError(name, OperationUnloading)
	}

	m.inFlightUnloadsMu.Lock()
	if call, inFlight := m.inFlightUnloads[name]; inFlight {
		m.inFlightUnloadsMu.Unlock()
		<-call.done
		return call.err
	}
	call := &unloadCall{done: make(chan struct{})}
	m.inFlightUnloads[name] = call
	m.inFlightUnloadsMu.Unlock()

	err := m.doUnregister(ctx, name, entry)

	call.err = err
	close(call.done)

	m.inFlightUnloadsMu.Lock()
	delete(m.inFlightUnloads, name)
	m.inFlightUnloadsMu.Unlock()

	return err
}

func (m *Manager) doUnregister(ctx context.Context, name string, entry *registryEntry) error {
	m.callGlobalHook(func() {
		if m.cfg.LifecycleHooks.BeforeUnload != nil {
			m.cfg.LifecycleHooks.BeforeUnload(name)
		}
	})

	m.registry.transition(name, StateUnloading, nil)

	entry.mu.Lock()
	handle := entry.mountedComponent
	entry.mu.Unlock()

	if handle != nil {
		if err := m.runHook(ctx, name, "onDeactivate", func(hctx context.Context) error {
			return handle.Component.OnDeactivate(hctx)
		}); err != nil {
			m.recordTeardownError(name, err)
		}
		if err := m.runHook(ctx, name, "onDestroy", func(hctx context.Context) error {
			return handle.Component.OnDestroy(hctx)
		}); err != nil {
			m.recordTeardownError(name, err)
		}
		m.registry.setMountedComponent(name, nil)
	}

	_ = m.registry.Unregister(name)

	m.callGlobalHook(func() {
		if m.cfg.LifecycleHooks.AfterUnload != nil {
			m.cfg.LifecycleHooks.AfterUnload(name)
		}
	})

	return nil
}

func (m *Manager) recordTeardownError(name string, err error) {
	pe, _ := err.(*PluginError)
	_ = m.registry.UpdateMetadata(name, func(md *EntryMetadata) {
		md.ErrorCount++
		if pe != nil {
			md.Error = pe
		}
	})
	m.invokeOnError(name, err)
}

// LoadMany loads every name, capped at cfg.MaxConcurrentLoads
// concurrent loaders (spec.md §4.6's LoadMany), and returns one
// LoadResult per input name in the input order.
func (m *Manager) LoadMany(ctx context.Context, names []string) []LoadResult {
	results := make([]LoadResult, len(names))
	sem := make(chan struct{}, m.cfg.MaxConcurrentLoads)
	var wg sync.WaitGroup

	for i, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, name string) {
			defer wg.Done()
			defer func() { <-sem }()
			md, err := m.Load(ctx, name)
			results[i] = LoadResult{Name: name, Metadata: md, Err: err}
		}(i, name)
	}
	wg.Wait()
	return results
}

// LoadAndActivate loads name if needed, then mounts its component.
func (m *Manager) LoadAndActivate(ctx context.Context, name string, container ViewContainer) (*ComponentHandle, error) {
	if _, err := m.Load(ctx, name); err != nil {
		return nil, err
	}
	return m.CreatePluginComponent(ctx, name, container)
}

// RegisterRemotePlugin registers a Loader backed by the Remote Loader
// and immediately loads it.
func (m *Manager) RegisterRemotePlugin(ctx context.Context, remote RemotePluginConfig, cfg PluginConfig) (EntryMetadata, error) {
	loader := func(lctx context.Context) (Module, error) {
		result, err := m.remoteLoader.Load(lctx, remote)
		if err != nil {
			return Module{}, err
		}
		return result.Module, nil
	}
	if err := m.Register(Descriptor{Name: remote.Name, Load: loader, Config: cfg}); err != nil {
		return EntryMetadata{}, err
	}
	return m.Load(ctx, remote.Name)
}

// UnregisterRemotePlugin unregisters name and evicts its Remote
// Loader cache entry and downloaded artifact.
func (m *Manager) UnregisterRemotePlugin(ctx context.Context, name string) error {
	if err := m.Unregister(ctx, name); err != nil {
		return err
	}
	return m.remoteLoader.Unload(ctx, name)
}

// UnloadAll unregisters every currently registered plugin concurrently.
func (m *Manager) UnloadAll(ctx context.Context) {
	all := m.registry.GetAll()
	var wg sync.WaitGroup
	for name := range all {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_ = m.Unregister(ctx, name)
		}(name)
	}
	wg.Wait()
}

// GetPluginsByMetadata filters registered plugins by CustomMetadata.
func (m *Manager) GetPluginsByMetadata(filter map[string]any) map[string]EntryMetadata {
	return m.registry.GetByMetadata(filter)
}

// GetPluginInfo returns a read-only projection of name's entry.
func (m *Manager) GetPluginInfo(name string) (PluginInfo, bool) {
	md, ok := m.registry.Get(name)
	if !ok {
		return PluginInfo{}, false
	}
	return PluginInfo{
		Name:         name,
		State:        md.State,
		Manifest:     md.Manifest,
		ErrorCount:   md.ErrorCount,
		Error:        md.Error,
		HasComponent: md.HasComponent,
	}, true
}

// IsUnloading reports whether name is currently tearing down.
func (m *Manager) IsUnloading(name string) bool {
	md, ok := m.registry.Get(name)
	return ok && md.State == StateUnloading
}

// IsReady reports whether name is LOADED or ACTIVE.
func (m *Manager) IsReady(name string) bool {
	md, ok := m.registry.Get(name)
	return ok && (md.State == StateLoaded || md.State == StateActive)
}

// runHook executes fn under the configured lifecycle hook timeout (if
// any), isolating a panic into a PluginLifecycleError rather than
// letting it escape to the caller. On timeout, it returns a
// PluginLifecycleTimeoutError without waiting for fn to actually
// return — fn's goroutine is abandoned, mirroring the JS host's
// Promise.race-against-a-timer, and documented as a leak risk the
// same way spec.md §4.6.4 documents it.
func (m *Manager) runHook(ctx context.Context, pluginName, hookName string, fn func(context.Context) error) error {
	hookCtx := ctx
	timeout := m.cfg.LifecycleHookTimeout
	var cancel context.CancelFunc
	if hookTimeoutEnabled(timeout) {
		hookCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if m.cfg.DebugOptions.LogLifecycleHooks {
		m.logger.Debug().Str("plugin", pluginName).Str("hook", hookName).Msg("running lifecycle hook")
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errPanic(r)
			}
		}()
		done <- fn(hookCtx)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		return NewPluginLifecycleError(pluginName, hookName, err)
	case <-hookCtx.Done():
		if hookTimeoutEnabled(timeout) {
			return NewPluginLifecycleTimeoutError(pluginName, hookName, timeout.Milliseconds())
		}
		return NewPluginLifecycleError(pluginName, hookName, hookCtx.Err())
	}
}

// callGlobalHook runs fn, recovering any panic. In dev mode the
// recovered value is rethrown after logging, so host-hook bugs are
// loud during development; in production it is only logged, so a
// broken host hook can never brick plugin loading (spec.md §4.6.5).
func (m *Manager) callGlobalHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn().Interface("recover", r).Msg("global lifecycle hook panicked")
			if m.cfg.EnableDevMode {
				panic(r)
			}
		}
	}()
	fn()
}

func (m *Manager) invokeOnError(name string, err error) {
	if m.cfg.LifecycleHooks.OnError == nil {
		return
	}
	m.callGlobalHook(func() { m.cfg.LifecycleHooks.OnError(name, err) })
}

// mergeAllowedServices picks the whitelist a plugin's context enforces:
// the plugin's own whitelist when it is non-empty (replacing the
// Manager-wide default entirely, not added to it), otherwise the
// default. An empty result means no whitelist at all is enforced.
func mergeAllowedServices(defaults, override map[ServiceToken]struct{}) map[ServiceToken]struct{} {
	if len(override) > 0 {
		return override
	}
	return defaults
}
