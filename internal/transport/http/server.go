// Package http exposes the WebSocket bridge and the admin surface: the same
// message protocol served to ws clients, plus a few read-only endpoints for
// operators.
package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gamenet/internal/history"
	"gamenet/internal/server"
)

// NewServer builds the HTTP server carrying /ws and the admin routes.
// hist may be nil when no transcript store is configured.
func NewServer(addr string, readHeaderTimeout time.Duration, srv *server.Server, hist *history.Store, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	admin := &adminHandlers{srv: srv, hist: hist, log: logger}
	router.GET("/healthz", admin.Health)
	router.GET("/v1/clients", admin.Clients)
	router.GET("/v1/history", admin.History)

	ws := &WSHandler{srv: srv, log: logger}
	router.GET("/ws", ws.Handle)

	return &stdhttp.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
