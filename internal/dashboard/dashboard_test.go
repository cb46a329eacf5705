package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluginhost/runtime/internal/plugins"
)

func newTestManager(t *testing.T) *plugins.Manager {
	t.Helper()
	cfg := plugins.DefaultConfig()
	cfg.RemoteLoader.JanitorInterval = 0
	m := plugins.New(cfg, nil)
	t.Cleanup(m.Close)
	return m
}

func registerLoadedPlugin(t *testing.T, m *plugins.Manager, name string) {
	t.Helper()
	require.NoError(t, m.Register(plugins.Descriptor{Name: name, Load: func(context.Context) (plugins.Module, error) {
		return plugins.Module{Manifest: plugins.PluginManifest{
			Name:           name,
			DisplayName:    "<b>" + name + "</b>",
			EntryComponent: func() plugins.Component { return &plugins.BaseComponent{} },
		}}, nil
	}}))
	_, err := m.Load(context.Background(), name)
	require.NoError(t, err)
}

func TestHandleListReturnsEveryRegisteredPlugin(t *testing.T) {
	m := newTestManager(t)
	registerLoadedPlugin(t, m, "a")
	registerLoadedPlugin(t, m, "b")

	d := New(m)
	req := httptest.NewRequest(http.MethodGet, "/plugins", nil)
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Plugins []map[string]any `json:"plugins"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Plugins, 2)
}

func TestHandleGetReturnsSanitizedManifest(t *testing.T) {
	m := newTestManager(t)
	registerLoadedPlugin(t, m, "a")

	d := New(m)
	req := httptest.NewRequest(http.MethodGet, "/plugins/a", nil)
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	manifest, ok := body["manifest"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", manifest["displayName"], "bluemonday must strip markup from the display name")
}

func TestHandleGetReturnsNotFoundForUnknownPlugin(t *testing.T) {
	m := newTestManager(t)
	d := New(m)

	req := httptest.NewRequest(http.MethodGet, "/plugins/missing", nil)
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUnloadRemovesThePlugin(t *testing.T) {
	m := newTestManager(t)
	registerLoadedPlugin(t, m, "a")

	d := New(m)
	req := httptest.NewRequest(http.MethodPost, "/plugins/a/unload", nil)
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	_, ok := m.GetPluginInfo("a")
	assert.False(t, ok)
}

func TestHandleUnloadOfUnknownPluginMapsPluginErrorToHTTPStatus(t *testing.T) {
	m := newTestManager(t)
	d := New(m)

	req := httptest.NewRequest(http.MethodPost, "/plugins/missing/unload", nil)
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCacheStatsReportsDisabledRedisTierWhenUnconfigured(t *testing.T) {
	m := newTestManager(t)
	d := New(m)

	req := httptest.NewRequest(http.MethodGet, "/plugins/cache/stats", nil)
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		InProcess struct {
			Size int `json:"size"`
		} `json:"inProcess"`
		Redis map[string]string `json:"redis"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.InProcess.Size)
	assert.Equal(t, "false", body.Redis["enabled"])
}
