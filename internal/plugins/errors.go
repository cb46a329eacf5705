// Package plugins implements the dynamic plugin runtime: registration,
// isolated DI scopes, lifecycle orchestration, remote loading, and the
// host-facing Outlet adapter.
package plugins

import "fmt"

// PluginErrorKind tags the variant of a PluginError, mirroring the
// tagged-union error taxonomy plugins are expected to recognize by name.
type PluginErrorKind string

const (
	ErrPluginLoad                PluginErrorKind = "PluginLoadError"
	ErrPluginNotFound            PluginErrorKind = "PluginNotFoundError"
	ErrPluginAlreadyRegistered   PluginErrorKind = "PluginAlreadyRegisteredError"
	ErrPluginState                PluginErrorKind = "PluginStateError"
	ErrPluginLifecycle           PluginErrorKind = "PluginLifecycleError"
	ErrPluginLifecycleTimeout    PluginErrorKind = "PluginLifecycleTimeoutError"
	ErrPluginOperationInProgress PluginErrorKind = "PluginOperationInProgressError"
	ErrRemoteLoad                PluginErrorKind = "RemoteLoadError"
)

// RemoteErrorCode discriminates the cause of a RemoteLoadError.
type RemoteErrorCode string

const (
	RemoteTimeout        RemoteErrorCode = "TIMEOUT"
	RemoteNetworkError   RemoteErrorCode = "NETWORK_ERROR"
	RemoteModuleNotFound RemoteErrorCode = "MODULE_NOT_FOUND"
	RemoteInvalidModule  RemoteErrorCode = "INVALID_MODULE"
)

// OperationKind discriminates which in-progress operation is holding a
// plugin's lock for a PluginOperationInProgressError.
type OperationKind string

const (
	OperationCreating  OperationKind = "creating"
	OperationUnloading OperationKind = "unloading"
)

// PluginError is the single root error type for the runtime. Every
// specific failure is reported through this struct, tagged by Kind.
type PluginError struct {
	Kind       PluginErrorKind
	PluginName string
	Cause      error
	Suggestion string
	DocsRef    string

	// Variant-specific payload. Only the fields relevant to Kind are set.
	Expected   State
	Actual     State
	HookName   string
	TimeoutMs  int64
	Operation  OperationKind
	RemoteCode RemoteErrorCode
	URL        string
}

func (e *PluginError) Error() string {
	msg := string(e.Kind)
	if e.PluginName != "" {
		msg += fmt.Sprintf(" (plugin %q)", e.PluginName)
	}
	switch e.Kind {
	case ErrPluginState:
		msg += fmt.Sprintf(": expected state %s, got %s", e.Expected, e.Actual)
	case ErrPluginLifecycle:
		msg += fmt.Sprintf(": hook %s failed", e.HookName)
	case ErrPluginLifecycleTimeout:
		msg += fmt.Sprintf(": hook %s exceeded %dms", e.HookName, e.TimeoutMs)
	case ErrPluginOperationInProgress:
		msg += fmt.Sprintf(": %s already in progress", e.Operation)
	case ErrRemoteLoad:
		msg += fmt.Sprintf(": %s (%s)", e.RemoteCode, e.URL)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Suggestion != "" {
		msg += " (" + e.Suggestion + ")"
	}
	return msg
}

func (e *PluginError) Unwrap() error { return e.Cause }

func NewPluginLoadError(pluginName string, cause error) *PluginError {
	return &PluginError{Kind: ErrPluginLoad, PluginName: pluginName, Cause: cause}
}

func NewPluginNotFoundError(pluginName string) *PluginError {
	return &PluginError{
		Kind:       ErrPluginNotFound,
		PluginName: pluginName,
		Suggestion: "register the plugin before referencing it",
	}
}

func NewPluginAlreadyRegisteredError(pluginName string) *PluginError {
	return &PluginError{
		Kind:       ErrPluginAlreadyRegistered,
		PluginName: pluginName,
		Suggestion: "unregister before re-registering",
	}
}

func NewPluginStateError(pluginName string, expected, actual State) *PluginError {
	return &PluginError{Kind: ErrPluginState, PluginName: pluginName, Expected: expected, Actual: actual}
}

func NewPluginLifecycleError(pluginName, hookName string, cause error) *PluginError {
	return &PluginError{Kind: ErrPluginLifecycle, PluginName: pluginName, HookName: hookName, Cause: cause}
}

func NewPluginLifecycleTimeoutError(pluginName, hookName string, timeoutMs int64) *PluginError {
	return &PluginError{Kind: ErrPluginLifecycleTimeout, PluginName: pluginName, HookName: hookName, TimeoutMs: timeoutMs}
}

func NewPluginOperationInProgressError(pluginName string, op OperationKind) *PluginError {
	return &PluginError{Kind: ErrPluginOperationInProgress, PluginName: pluginName, Operation: op}
}

func NewRemoteLoadError(url string, code RemoteErrorCode, cause error) *PluginError {
	return &PluginError{Kind: ErrRemoteLoad, RemoteCode: code, URL: url, Cause: cause}
}

// IsKind reports whether err is a *PluginError of the given kind.
func IsKind(err error, kind PluginErrorKind) bool {
	pe, ok := err.(*PluginError)
	return ok && pe.Kind == kind
}
