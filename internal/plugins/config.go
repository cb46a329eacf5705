package plugins

import "time"

// GlobalHooks are optional host-supplied hooks invoked around every
// plugin's lifecycle transitions. Exceptions from these are logged and,
// in dev mode, rethrown; in production they are swallowed so host code
// cannot brick plugin loading.
type GlobalHooks struct {
	BeforeLoad   func(pluginName string)
	AfterLoad    func(pluginName string)
	BeforeUnload func(pluginName string)
	AfterUnload  func(pluginName string)
	OnError      func(pluginName string, err error)
}

// DebugOptions gates extra tracing and strictness, all off by default.
type DebugOptions struct {
	LogLifecycleHooks  bool
	LogStateTransitions bool
	ValidateManifests  bool
	ThrowOnWarnings    bool
}

// RemoteLoaderConfig configures the Remote Loader's HTTP fetch, local
// artifact cache, and optional distributed (Redis) cache tier.
type RemoteLoaderConfig struct {
	// FetchTimeout bounds a single HTTP fetch of a remote plugin artifact.
	FetchTimeout time.Duration
	// CacheDir is where downloaded .so artifacts are staged before
	// plugin.Open. Empty uses os.TempDir().
	CacheDir string
	// JanitorInterval is how often the cache janitor sweeps expired
	// entries. Zero disables the janitor.
	JanitorInterval time.Duration
	// EntryTTL is how long a cache entry is considered fresh.
	EntryTTL time.Duration
	// Redis, if non-nil, backs the URL->metadata cache with a
	// distributed tier in addition to the in-process one.
	Redis *RedisCacheConfig
}

// RedisCacheConfig configures the optional Redis-backed cache tier for
// the Remote Loader. Left zero-valued, the Remote Loader falls back to
// a purely in-process cache.
type RedisCacheConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// DashboardConfig configures the optional gin-based read-only HTTP API.
type DashboardConfig struct {
	Enabled bool
	Addr    string
}

// DevtoolsConfig configures the optional gorilla/websocket bridge that
// mirrors pluginState$ to connected devtools clients.
type DevtoolsConfig struct {
	Enabled bool
	Addr    string
}

// NATSConfig configures the optional cross-process mirror of
// pluginState$ onto a NATS subject. Left with an empty URL, the
// mirror is gracefully disabled.
type NATSConfig struct {
	URL     string
	Subject string // defaults to "pluginhost.<pluginName>.state" per plugin
}

// PluginSystemConfig is the Manager's typed configuration. It has no
// CLI, env-var, or on-disk representation of its own — a host wires
// one together however it likes and passes the struct to New.
type PluginSystemConfig struct {
	// GlobalTimeout bounds a loader's execution. Default 30s.
	GlobalTimeout time.Duration
	// MaxConcurrentLoads bounds LoadMany's concurrency. Default 3.
	MaxConcurrentLoads int
	// EnableDevMode turns on dev logging and rethrows global-hook
	// failures instead of swallowing them.
	EnableDevMode bool
	// LifecycleHookTimeout bounds each plugin hook call. Zero disables
	// the timeout. Default 5s.
	LifecycleHookTimeout time.Duration
	LifecycleHooks       GlobalHooks
	// DefaultAllowedServices seeds every plugin's context whitelist
	// unless the plugin's own config overrides it.
	DefaultAllowedServices map[ServiceToken]struct{}
	DebugOptions           DebugOptions

	RemoteLoader RemoteLoaderConfig
	Dashboard    DashboardConfig
	Devtools     DevtoolsConfig
	NATS         NATSConfig
}

// DefaultConfig returns the documented defaults for every field
// spec.md assigns one to; every expansion field defaults to disabled.
func DefaultConfig() PluginSystemConfig {
	return PluginSystemConfig{
		GlobalTimeout:        30 * time.Second,
		MaxConcurrentLoads:   3,
		EnableDevMode:        false,
		LifecycleHookTimeout: 5 * time.Second,
		RemoteLoader: RemoteLoaderConfig{
			FetchTimeout:    30 * time.Second,
			JanitorInterval: 5 * time.Minute,
			EntryTTL:        30 * time.Minute,
		},
	}
}

// hookTimeoutEnabled reports whether the configured hook timeout
// should be applied. A zero or negative duration disables it, the Go
// analogue of "0 or Infinity" in spec.md.
func hookTimeoutEnabled(d time.Duration) bool { return d > 0 }
