// Command pluginhostd wires a plugin Manager to its optional HTTP and
// WebSocket surfaces and runs until an interrupt or TERM signal,
// grounded on the teacher's cmd/main.go env-var-config and graceful
// shutdown idiom.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pluginhost/runtime/internal/dashboard"
	"github.com/pluginhost/runtime/internal/devtools"
	pluginlog "github.com/pluginhost/runtime/internal/log"
	"github.com/pluginhost/runtime/internal/plugins"
)

func main() {
	pluginlog.Initialize(getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "true") == "true")
	logger := pluginlog.Component("pluginhostd")

	cfg := plugins.DefaultConfig()
	cfg.EnableDevMode = getEnv("DEV_MODE", "false") == "true"
	cfg.MaxConcurrentLoads = getEnvInt("MAX_CONCURRENT_LOADS", cfg.MaxConcurrentLoads)
	cfg.RemoteLoader.CacheDir = getEnv("REMOTE_CACHE_DIR", "")
	cfg.Dashboard = plugins.DashboardConfig{
		Enabled: getEnv("DASHBOARD_ENABLED", "true") == "true",
		Addr:    getEnv("DASHBOARD_ADDR", ":8090"),
	}
	cfg.Devtools = plugins.DevtoolsConfig{
		Enabled: getEnv("DEVTOOLS_ENABLED", "true") == "true",
		Addr:    getEnv("DEVTOOLS_ADDR", ":8091"),
	}
	cfg.NATS = plugins.NATSConfig{URL: getEnv("NATS_URL", "")}

	if redisHost := getEnv("REDIS_HOST", ""); redisHost != "" {
		cfg.RemoteLoader.Redis = &plugins.RedisCacheConfig{
			Enabled:  true,
			Host:     redisHost,
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		}
	}

	logger.Info().Msg("starting plugin runtime")
	manager := plugins.New(cfg, nil)
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Dashboard.Enabled {
		board := dashboard.New(manager)
		go func() {
			if err := board.Start(ctx, cfg.Dashboard.Addr); err != nil {
				logger.Warn().Err(err).Msg("dashboard server stopped")
			}
		}()
		logger.Info().Str("addr", cfg.Dashboard.Addr).Msg("dashboard enabled")
	}

	if cfg.Devtools.Enabled {
		hub := devtools.NewHub()
		go hub.Run()
		unsubscribe := hub.MirrorFrom(manager)
		defer unsubscribe()

		mux := &devtoolsServer{hub: hub, addr: cfg.Devtools.Addr}
		go mux.start(ctx)
		logger.Info().Str("addr", cfg.Devtools.Addr).Msg("devtools bridge enabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	manager.UnloadAll(shutdownCtx)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
