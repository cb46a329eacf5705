package plugins

import (
	"context"
	"sync"

	pluginlog "github.com/pluginhost/runtime/internal/log"
)

// Outlet is the thin host-view adapter a UI framework integration
// holds onto for exactly one plugin slot: mount once the plugin is
// ready, unmount on its own teardown, never block the host's render
// path on a misbehaving plugin.
//
// Grounded on spec.md §4.7's host-outlet contract: an Outlet is a
// leaf, not a second source of truth — every state decision still
// comes from the Manager and its Registry.
type Outlet struct {
	manager   *Manager
	container ViewContainer
	name      string

	mu      sync.Mutex
	handle  *ComponentHandle
	mounted bool
}

// NewOutlet builds an Outlet bound to one plugin name, mounted
// through container.
func NewOutlet(manager *Manager, name string, container ViewContainer) *Outlet {
	return &Outlet{manager: manager, container: container, name: name}
}

// Mount loads the plugin (if needed) and creates its component. Mount
// is idempotent: calling it again while already mounted is a no-op.
func (o *Outlet) Mount(ctx context.Context) error {
	o.mu.Lock()
	if o.mounted {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	handle, err := o.manager.LoadAndActivate(ctx, o.name, o.container)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.handle = handle
	o.mounted = true
	o.mu.Unlock()
	return nil
}

// Unmount unregisters the plugin, running its full onDeactivate and
// onDestroy hooks through the Manager. Errors are logged, never
// returned — an Outlet tearing down must never be able to fail a
// host's own unmount path.
func (o *Outlet) Unmount(ctx context.Context) {
	o.mu.Lock()
	if !o.mounted {
		o.mu.Unlock()
		return
	}
	o.mounted = false
	o.handle = nil
	o.mu.Unlock()

	if err := o.manager.Unregister(ctx, o.name); err != nil {
		pluginlog.Component("outlet").Warn().Err(err).Str("plugin", o.name).Msg("unmount failed")
	}
}

// IsMounted reports whether this outlet currently holds a live
// component handle.
func (o *Outlet) IsMounted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mounted
}

// Handle returns the current component handle, if mounted.
func (o *Outlet) Handle() (*ComponentHandle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.mounted {
		return nil, false
	}
	return o.handle, true
}
