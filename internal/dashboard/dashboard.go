// Package dashboard exposes a read-mostly gin HTTP API over a plugin
// Manager: list registered plugins, inspect one, and request an
// unload. Grounded on the teacher's endpoint-registry-then-attach
// idiom (each route registered against a shared engine, with the
// runtime's own error taxonomy translated at the HTTP boundary rather
// than leaking into it).
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/pluginhost/runtime/internal/errors"
	pluginlog "github.com/pluginhost/runtime/internal/log"
	"github.com/pluginhost/runtime/internal/plugins"
)

// Dashboard wraps a *plugins.Manager with a read-mostly HTTP surface.
type Dashboard struct {
	manager *plugins.Manager
	engine  *gin.Engine
	server  *http.Server
}

// New builds a Dashboard bound to manager. Call Router to mount it
// onto an existing gin.Engine, or Start to run its own HTTP server.
func New(manager *plugins.Manager) *Dashboard {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	d := &Dashboard{manager: manager, engine: engine}
	d.registerRoutes()
	return d
}

// Router returns the underlying gin.Engine, for a host that wants to
// mount the dashboard alongside its own routes.
func (d *Dashboard) Router() *gin.Engine { return d.engine }

func (d *Dashboard) registerRoutes() {
	group := d.engine.Group("/plugins")
	group.GET("", d.handleList)
	group.GET("/:name", d.handleGet)
	group.POST("/:name/unload", d.handleUnload)
	group.GET("/cache/stats", d.handleCacheStats)
}

type pluginSummary struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	ErrorCount   int    `json:"errorCount"`
	HasComponent bool   `json:"hasComponent"`
}

func (d *Dashboard) handleList(c *gin.Context) {
	all := d.manager.GetPluginsByMetadata(nil)
	out := make([]pluginSummary, 0, len(all))
	for name, md := range all {
		out = append(out, pluginSummary{
			Name:         name,
			State:        string(md.State),
			ErrorCount:   md.ErrorCount,
			HasComponent: md.HasComponent,
		})
	}
	c.JSON(http.StatusOK, gin.H{"plugins": out})
}

func (d *Dashboard) handleGet(c *gin.Context) {
	name := c.Param("name")
	info, ok := d.manager.GetPluginInfo(name)
	if !ok {
		err := apperrors.NotFound("plugin " + name)
		c.JSON(err.StatusCode, err.ToResponse())
		return
	}

	body := gin.H{
		"name":         info.Name,
		"state":        info.State,
		"errorCount":   info.ErrorCount,
		"hasComponent": info.HasComponent,
	}
	if info.Manifest != nil {
		body["manifest"] = plugins.SanitizeManifest(*info.Manifest)
	}
	if info.Error != nil {
		body["error"] = info.Error.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (d *Dashboard) handleUnload(c *gin.Context) {
	name := c.Param("name")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := d.manager.Unregister(ctx, name); err != nil {
		if pe, ok := err.(*plugins.PluginError); ok {
			mapped := apperrors.FromPluginError(string(pe.Kind), name, pe.Error())
			c.JSON(mapped.StatusCode, mapped.ToResponse())
			return
		}
		mapped := apperrors.InternalServer(err.Error())
		c.JSON(mapped.StatusCode, mapped.ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unloaded", "name": name})
}

func (d *Dashboard) handleCacheStats(c *gin.Context) {
	inProcess := d.manager.RemoteCacheStats()

	redisStats, err := d.manager.RemoteCacheRedisStats(c.Request.Context())
	if err != nil {
		mapped := apperrors.InternalServer(err.Error())
		c.JSON(mapped.StatusCode, mapped.ToResponse())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"inProcess": gin.H{
			"size":    inProcess.Size,
			"entries": inProcess.Entries,
		},
		"redis": redisStats,
	})
}

// Start runs the dashboard's own HTTP server on addr until ctx is
// canceled, then shuts it down gracefully.
func (d *Dashboard) Start(ctx context.Context, addr string) error {
	d.server = &http.Server{Addr: addr, Handler: d.engine}
	logger := pluginlog.Component("dashboard")

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("dashboard listening")
		errCh <- d.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	}
}
