package plugins

import (
	pluginlog "github.com/pluginhost/runtime/internal/log"
)

// PluginContext is the controlled communication surface exposed to
// plugin code: whitelisted service lookup plus a pub/sub event bus
// scoped to this plugin alone.
type PluginContext struct {
	pluginName      string
	parent          ServiceLocator
	allowedServices map[ServiceToken]struct{}
	bus             *contextEventBus
	logger          *PluginLogger
}

func newPluginContext(pluginName string, parent ServiceLocator, allowedServices map[ServiceToken]struct{}) *PluginContext {
	if parent == nil {
		parent = emptyLocator
	}
	return &PluginContext{
		pluginName:      pluginName,
		parent:          parent,
		allowedServices: allowedServices,
		bus:             newContextEventBus(),
		logger:          newPluginLogger(pluginName),
	}
}

// PluginName is read-only.
func (c *PluginContext) PluginName() string { return c.pluginName }

// Logger returns this plugin's tagged structured logger.
func (c *PluginContext) Logger() *PluginLogger { return c.logger }

// GetService resolves token from the parent scope, unless a non-empty
// allowedServices whitelist is configured and token is absent from it,
// in which case it returns (nil, false) without touching the parent.
// GetService never panics.
func (c *PluginContext) GetService(token ServiceToken) (any, bool) {
	if len(c.allowedServices) > 0 {
		if _, ok := c.allowedServices[token]; !ok {
			return nil, false
		}
	}
	return c.parent.Get(token)
}

// Emit invokes every subscriber for event, in registration order.
// A subscriber's panic or error never interrupts the rest of the
// fan-out.
func (c *PluginContext) Emit(event string, payload any) {
	logger := pluginlog.Component("plugin-context")
	c.bus.emit(event, payload, func(format string, args ...any) {
		logger.Warn().Str("plugin", c.pluginName).Msgf(format, args...)
	})
}

// Subscribe registers handler for event and returns a disposer. After
// Destroy, Subscribe returns a no-op disposer rather than erroring —
// see the resolved Open Question in SPEC_FULL.md §5.3.
func (c *PluginContext) Subscribe(event string, handler func(payload any)) (unsubscribe func()) {
	return c.bus.subscribe(event, handler)
}

// Destroy clears all handler tables. Later Subscribe/Emit calls are
// no-ops.
func (c *PluginContext) Destroy() {
	c.bus.destroy()
}
