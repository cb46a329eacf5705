package devtools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluginhost/runtime/internal/plugins"
)

func TestHubRegisterAndUnregisterTracksClientCount(t *testing.T) {
	h := NewHub()
	go h.Run()

	c := &client{hub: h, send: make(chan []byte, 1)}
	h.register <- c
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)

	h.unregister <- c
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, time.Millisecond)
}

func TestHubBroadcastDeliversToEveryClient(t *testing.T) {
	h := NewHub()
	go h.Run()

	c1 := &client{hub: h, send: make(chan []byte, 1)}
	c2 := &client{hub: h, send: make(chan []byte, 1)}
	h.register <- c1
	h.register <- c2
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, time.Millisecond)

	h.broadcast <- []byte("hello")

	select {
	case msg := <-c1.send:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("client 1 never received broadcast")
	}
	select {
	case msg := <-c2.send:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("client 2 never received broadcast")
	}
}

func TestHubDropsClientWithFullSendBuffer(t *testing.T) {
	h := NewHub()
	go h.Run()

	slow := &client{hub: h, send: make(chan []byte, 1)}
	slow.send <- []byte("already full")
	h.register <- slow
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)

	h.broadcast <- []byte("this must not block")

	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, time.Millisecond,
		"a client whose send buffer is full must be dropped rather than block the broadcast loop")
}

func TestHubMirrorFromForwardsManagerStateEvents(t *testing.T) {
	cfg := plugins.DefaultConfig()
	cfg.RemoteLoader.JanitorInterval = 0
	m := plugins.New(cfg, nil)
	defer m.Close()

	h := NewHub()
	go h.Run()
	unsubscribe := h.MirrorFrom(m)
	defer unsubscribe()

	c := &client{hub: h, send: make(chan []byte, 8)}
	h.register <- c
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Register(plugins.Descriptor{Name: "demo", Load: func(context.Context) (plugins.Module, error) {
		return plugins.Module{Manifest: plugins.PluginManifest{
			Name:           "demo",
			EntryComponent: func() plugins.Component { return &plugins.BaseComponent{} },
		}}, nil
	}}))

	select {
	case msg := <-c.send:
		assert.Contains(t, string(msg), "demo")
	case <-time.After(time.Second):
		t.Fatal("devtools client never received the mirrored registration event")
	}
}
