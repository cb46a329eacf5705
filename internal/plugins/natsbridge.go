package plugins

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	pluginlog "github.com/pluginhost/runtime/internal/log"
)

// natsBridge mirrors pluginState$ onto a NATS subject per plugin, so a
// separate process can observe lifecycle transitions without holding a
// Go reference into this one. Grounded on internal/events/subscriber.go's
// graceful-disable-when-unconfigured pattern: an empty URL yields a
// bridge that is present but inert, never blocking the hot path.
type natsBridge struct {
	conn    *nats.Conn
	subject string
	enabled bool
	done    chan struct{}
}

func newNATSBridge(cfg NATSConfig) *natsBridge {
	if cfg.URL == "" {
		return &natsBridge{enabled: false}
	}

	logger := pluginlog.Component("nats-bridge")
	conn, err := nats.Connect(cfg.URL,
		nats.Name("pluginhost"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unreachable, state mirror disabled")
		return &natsBridge{enabled: false}
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "pluginhost.%s.state"
	}

	return &natsBridge{conn: conn, subject: subject, enabled: true, done: make(chan struct{})}
}

// mirror subscribes to the registry's state feed and republishes every
// event to NATS until stopped. Fire-and-forget: a publish failure is
// logged, never surfaced to a plugin-runtime caller.
func (b *natsBridge) mirror(feed *StateFeed) {
	if !b.enabled {
		return
	}
	events, unsubscribe := feed.Subscribe()
	logger := pluginlog.Component("nats-bridge")

	go func() {
		defer unsubscribe()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				subject := fmt.Sprintf(b.subject, ev.PluginName)
				if err := b.conn.Publish(subject, payload); err != nil {
					logger.Warn().Err(err).Str("plugin", ev.PluginName).Msg("failed to mirror state event to nats")
				}
			case <-b.done:
				return
			}
		}
	}()
}

func (b *natsBridge) close() {
	if !b.enabled {
		return
	}
	close(b.done)
	b.conn.Close()
}
