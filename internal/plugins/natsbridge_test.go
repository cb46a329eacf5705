package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewNATSBridgeWithoutURLIsDisabled(t *testing.T) {
	b := newNATSBridge(NATSConfig{})
	assert.False(t, b.enabled)
}

func TestDisabledNATSBridgeMirrorAndCloseAreNoOps(t *testing.T) {
	b := newNATSBridge(NATSConfig{})
	feed := newStateFeed()

	assert.NotPanics(t, func() {
		b.mirror(feed)
		b.close()
	})
}

func TestNewNATSBridgeWithUnreachableURLFallsBackDisabled(t *testing.T) {
	b := newNATSBridge(NATSConfig{URL: "nats://127.0.0.1:1"})
	assert.False(t, b.enabled)
}
