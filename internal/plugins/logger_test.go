package plugins

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPluginContextExposesALogger(t *testing.T) {
	pctx := newPluginContext("demo", nil, nil)
	assert.NotNil(t, pctx.Logger())
}

func TestPluginLoggerWithFieldReturnsIndependentLogger(t *testing.T) {
	base := newPluginLogger("demo")
	derived := base.WithField("requestId", "abc")
	assert.NotSame(t, base, derived)

	assert.NotPanics(t, func() {
		base.Info("hello")
		derived.Info("hello", map[string]interface{}{"extra": 1})
		base.Warn("careful")
		base.Error("oops")
		base.Fatal("still alive")
		base.Debug("noisy")
	})
}

func TestPluginLoggerWithFieldsMergesMultipleKeys(t *testing.T) {
	var buf bytes.Buffer
	base := &PluginLogger{logger: zerolog.New(&buf)}
	derived := base.WithFields(map[string]interface{}{"a": 1, "b": 2})
	assert.NotNil(t, derived)

	derived.Info("hello")
	assert.Contains(t, buf.String(), `"a":1`)
	assert.Contains(t, buf.String(), `"b":2`)
}
