package server

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"gamenet/internal/proto"
)

// NewWSSession builds a registered-ready session for a WebSocket connection.
// The ws path shares id allocation and default naming with the TCP acceptor;
// only the transport differs.
func NewWSSession(s *Server, conn *websocket.Conn, trace string) *Session {
	id := s.registry.Allocate()
	return &Session{
		ID:        id,
		Name:      fmt.Sprintf("Client %d", id),
		Color:     s.registry.PickDefaultColor(id),
		Transport: &wsTransport{conn: conn},
		trace:     trace,
	}
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(msg proto.Message) error {
	return wsjson.Write(context.Background(), t.conn, msg)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "closing")
}
