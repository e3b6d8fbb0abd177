package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gamenet/internal/history"
	"gamenet/internal/server"
)

const defaultHistoryLimit = 50

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

type adminHandlers struct {
	srv  *server.Server
	hist *history.Store
	log  *zerolog.Logger
}

// Health reports liveness.
// GET /healthz
func (h *adminHandlers) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Clients returns the current roster.
// GET /v1/clients
func (h *adminHandlers) Clients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"clients": h.srv.Registry().Snapshot(),
		"limit":   h.srv.MaxConnections(),
	})
}

// History returns recent chat lines, newest first.
// GET /v1/history?limit=N
func (h *adminHandlers) History(c *gin.Context) {
	if h.hist == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "history not configured"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := h.hist.Recent(c.Request.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read chat history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
