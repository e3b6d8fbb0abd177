// Package app wires the message core, its transports, and the optional
// transcript store into one runnable unit with an explicit lifecycle.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"gamenet/internal/config"
	"gamenet/internal/history"
	"gamenet/internal/server"
	transporthttp "gamenet/internal/transport/http"
)

// App owns the server core, the TCP listener, and the HTTP bridge.
type App struct {
	srv             *server.Server
	listener        *server.Listener
	httpServer      *stdhttp.Server
	hist            *history.Store
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application with provided configuration. Bind failures
// surface here; there is no silent fallback port.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	var hist *history.Store
	if cfg.HistoryPath != "" {
		var err error
		hist, err = history.Open(cfg.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("init history store: %w", err)
		}
		logger.Info().Str("path", cfg.HistoryPath).Msg("chat history enabled")
	}

	srv := server.New(logger)
	srv.SetConnectionLimit(cfg.EffectiveLimit())
	if hist != nil {
		srv.SetChatLog(hist)
	}

	listener, err := srv.Listen(cfg.Addr)
	if err != nil {
		if hist != nil {
			hist.Close()
		}
		return nil, err
	}

	httpServer := transporthttp.NewServer(cfg.HTTPAddr, cfg.ReadHeaderTimeout, srv, hist, logger)

	return &App{
		srv:             srv,
		listener:        listener,
		httpServer:      httpServer,
		hist:            hist,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}, nil
}

// Server exposes the message core so an embedding game can attach its
// delegate before Run.
func (a *App) Server() *server.Server {
	return a.srv
}

// Run starts both acceptors and blocks until context cancellation or a
// fatal listener error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 2)

	go func() {
		serverErr <- a.listener.Serve()
	}()
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		a.log.Info().Msg("shutting down")
		a.cleanup()
		return nil
	}
}

func (a *App) cleanup() {
	if err := a.listener.Close(); err != nil {
		a.log.Debug().Err(err).Msg("listener close")
	}
	a.srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("http server shutdown")
	}

	if a.hist != nil {
		if err := a.hist.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close history store")
		}
	}
}
