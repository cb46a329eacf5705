package plugins

import "sync"

// ServiceToken identifies a service a plugin may look up through its
// Context. The host's actual DI primitives are out of scope (spec.md
// §1); a token is deliberately opaque so any comparable host type
// (a string, an interface pointer, a typed const) can serve as one.
type ServiceToken any

// contextToken is the well-known token every Scope resolves to the
// PluginContext bound into it.
type contextToken struct{}

// ContextToken is the token a plugin's own code can use to retrieve
// its PluginContext back out of a Scope, mirroring spec.md §4.2's
// CONTEXT_TOKEN.
var ContextToken ServiceToken = contextToken{}

// ServiceLocator resolves a token to a value, or reports a miss. The
// host's parent injector is expected to implement this.
type ServiceLocator interface {
	Get(token ServiceToken) (any, bool)
}

// ServiceLocatorFunc adapts a function to a ServiceLocator.
type ServiceLocatorFunc func(token ServiceToken) (any, bool)

func (f ServiceLocatorFunc) Get(token ServiceToken) (any, bool) { return f(token) }

// emptyLocator is used when a plugin is registered with no host
// parent scope at all.
var emptyLocator = ServiceLocatorFunc(func(ServiceToken) (any, bool) { return nil, false })

// Scope is a child dependency-resolution context parented to a host
// scope. It binds the plugin's Context to ContextToken, resolves any
// ExtraProviders ahead of the parent, and delegates every other lookup
// to the parent.
type Scope struct {
	parent          ServiceLocator
	pluginName      string
	pluginContext   *PluginContext
	extraProviders  map[ServiceToken]any
	destroyOnce     sync.Once
	destroyed       bool
	mu              sync.Mutex
}

// ScopeOptions configures a new Scope.
type ScopeOptions struct {
	Parent         ServiceLocator
	PluginName     string
	Context        *PluginContext
	ExtraProviders map[ServiceToken]any
}

// NewScope builds a child scope resolving ContextToken to opts.Context,
// opts.ExtraProviders' tokens to their values, and delegating every
// other lookup to opts.Parent.
func NewScope(opts ScopeOptions) *Scope {
	parent := opts.Parent
	if parent == nil {
		parent = emptyLocator
	}
	return &Scope{
		parent:         parent,
		pluginName:     opts.PluginName,
		pluginContext:  opts.Context,
		extraProviders: opts.ExtraProviders,
	}
}

// Get resolves token against the scope's own bindings first, then the
// parent. Returns (nil, false) once the scope has been destroyed.
func (s *Scope) Get(token ServiceToken) (any, bool) {
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		return nil, false
	}
	if token == ContextToken {
		return s.pluginContext, true
	}
	if v, ok := s.extraProviders[token]; ok {
		return v, true
	}
	return s.parent.Get(token)
}

// Destroy releases the scope's own resources. It is safe to call more
// than once; only the first call has any effect, and it never panics —
// a misbehaving scope must not be able to crash the host during
// teardown.
func (s *Scope) Destroy() {
	s.destroyOnce.Do(func() {
		s.mu.Lock()
		s.destroyed = true
		s.mu.Unlock()
	})
}

// IsDestroyed reports whether Destroy has been called.
func (s *Scope) IsDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}
