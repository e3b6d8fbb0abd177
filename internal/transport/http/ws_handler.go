package http

import (
	"context"
	"errors"
	"io"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gamenet/internal/proto"
	"gamenet/internal/server"
)

// WSHandler upgrades HTTP connections and attaches each as a session
// speaking the same message protocol as the TCP path.
type WSHandler struct {
	srv *server.Server
	log *zerolog.Logger
}

// Handle runs one WebSocket session: admission check, upgrade, register,
// then a read loop feeding the server dispatcher. The terminal action,
// however the loop ends, removes the session exactly once.
func (h *WSHandler) Handle(c *gin.Context) {
	// Early refusal before the upgrade. The authoritative check happens
	// inside AddClient, atomically with the registry insert.
	if h.srv.Registry().Len() >= h.srv.MaxConnections() {
		h.log.Warn().Str("remote", c.Request.RemoteAddr).Int("limit", h.srv.MaxConnections()).Msg("connection limit reached, dropping ws")
		c.AbortWithStatus(503)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}

	trace := uuid.NewString()
	sess := server.NewWSSession(h.srv, conn, trace)

	h.log.Info().Str("remote", c.Request.RemoteAddr).Str("conn", trace).Msg("ws connection accepted")

	if err := h.srv.AddClient(sess); err != nil {
		if errors.Is(err, server.ErrServerFull) {
			conn.Close(websocket.StatusTryAgainLater, "server full")
		} else {
			conn.Close(websocket.StatusInternalError, "registration failed")
		}
		return
	}
	defer h.srv.RemoveSession(sess.ID)

	ctx := c.Request.Context()
	for {
		var msg proto.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) &&
				websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway {
				h.log.Warn().Err(err).Int("client_id", sess.ID).Str("conn", trace).Msg("ws read failed")
			}
			return
		}
		if msg.Type == "" {
			h.log.Warn().Int("client_id", sess.ID).Msg("ws message with empty type")
			continue
		}
		h.srv.Process(msg)
	}
}
