package plugins

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPluginErrorMessagesIncludeVariantPayload(t *testing.T) {
	stateErr := NewPluginStateError("demo", StateRegistered, StateUnloading)
	assert.Contains(t, stateErr.Error(), "expected state REGISTERED, got UNLOADING")

	timeoutErr := NewPluginLifecycleTimeoutError("demo", "onLoad", 50)
	assert.Contains(t, timeoutErr.Error(), "onLoad exceeded 50ms")

	remoteErr := NewRemoteLoadError("https://example.test/plugin.so", RemoteTimeout, nil)
	assert.Contains(t, remoteErr.Error(), "TIMEOUT")
}

func TestPluginErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewPluginLoadError("demo", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsKindDistinguishesVariants(t *testing.T) {
	err := NewPluginNotFoundError("demo")
	assert.True(t, IsKind(err, ErrPluginNotFound))
	assert.False(t, IsKind(err, ErrPluginState))
	assert.False(t, IsKind(errors.New("plain"), ErrPluginNotFound))
}
