package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pluginhost/runtime/internal/devtools"
	pluginlog "github.com/pluginhost/runtime/internal/log"
)

// devtoolsServer hosts the devtools WebSocket hub on its own HTTP
// server, separate from the dashboard's gin engine.
type devtoolsServer struct {
	hub  *devtools.Hub
	addr string
}

func (s *devtoolsServer) start(ctx context.Context) {
	logger := pluginlog.Component("devtools-server")
	mux := http.NewServeMux()
	mux.HandleFunc("/devtools", s.hub.ServeHTTP)

	server := &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn().Err(err).Msg("devtools server stopped")
	}
}
