package plugins

import (
	"github.com/rs/zerolog"

	pluginlog "github.com/pluginhost/runtime/internal/log"
)

// PluginLogger is the structured logger handed to plugin code through
// PluginContext.Logger. Unlike a direct zerolog.Logger, it always tags
// entries with the owning plugin's name.
type PluginLogger struct {
	logger zerolog.Logger
}

func newPluginLogger(pluginName string) *PluginLogger {
	return &PluginLogger{logger: pluginlog.Component("plugin").With().Str("plugin", pluginName).Logger()}
}

func (l *PluginLogger) Debug(message string, fields ...map[string]interface{}) {
	l.log(l.logger.Debug(), message, fields...)
}

func (l *PluginLogger) Info(message string, fields ...map[string]interface{}) {
	l.log(l.logger.Info(), message, fields...)
}

func (l *PluginLogger) Warn(message string, fields ...map[string]interface{}) {
	l.log(l.logger.Warn(), message, fields...)
}

func (l *PluginLogger) Error(message string, fields ...map[string]interface{}) {
	l.log(l.logger.Error(), message, fields...)
}

// Fatal logs at error severity without exiting the process: a plugin
// must never be able to take the host down.
func (l *PluginLogger) Fatal(message string, fields ...map[string]interface{}) {
	l.log(l.logger.Error(), message, fields...)
}

func (l *PluginLogger) log(ev *zerolog.Event, message string, fields ...map[string]interface{}) {
	if len(fields) > 0 {
		ev = ev.Fields(map[string]interface{}(fields[0]))
	}
	ev.Msg(message)
}

// WithField returns a logger that merges the given field into every
// subsequent call, with call-site fields taking precedence on conflict.
func (l *PluginLogger) WithField(key string, value interface{}) *PluginLogger {
	return &PluginLogger{logger: l.logger.With().Interface(key, value).Logger()}
}

func (l *PluginLogger) WithFields(fields map[string]interface{}) *PluginLogger {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &PluginLogger{logger: ctx.Logger()}
}
