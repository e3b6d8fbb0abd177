package client

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"gamenet/internal/proto"
	"gamenet/internal/server"
)

// inboxSize bounds how far a local client's dispatch loop may fall behind the
// server before deliveries start failing. Delivery happens under the server's
// registry lock, so it must never block.
const inboxSize = 256

// NewLocal builds a client that attaches to an in-process server with no
// sockets involved. Sends are direct calls into the server's dispatcher;
// deliveries are queued into this client's own dispatch loop, preserving the
// same ordering and dispatch semantics as the network path.
func NewLocal(srv *server.Server, logger *zerolog.Logger) *Client {
	return newClient(&localTransport{srv: srv}, logger)
}

type localTransport struct {
	srv *server.Server

	mu     sync.Mutex
	inbox  chan proto.Message
	closed bool
}

var errInboxFull = errors.New("local client inbox full")

func (t *localTransport) connect(c *Client) error {
	t.mu.Lock()
	t.inbox = make(chan proto.Message, inboxSize)
	t.closed = false
	inbox := t.inbox
	t.mu.Unlock()

	deliver := func(msg proto.Message) error {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			return errNotConnected
		}
		select {
		case t.inbox <- msg:
			return nil
		default:
			// Dropping beats blocking the registry lock on a stuck
			// local consumer.
			return errInboxFull
		}
	}

	// Server-side removal (disconnect dispatch, Shutdown) must reach this
	// client the way a socket close reaches a network client: the inbox
	// drains out and further sends fail.
	onClose := func() {
		_ = t.close()
		c.setDisconnected("Connection closed.")
	}

	if err := t.srv.ConnectLocal(deliver, onClose); err != nil {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(inbox)
		return err
	}

	go func() {
		for msg := range inbox {
			c.dispatch(msg)
		}
	}()
	return nil
}

func (t *localTransport) send(msg proto.Message) error {
	t.mu.Lock()
	closed := t.closed || t.inbox == nil
	t.mu.Unlock()
	if closed {
		return errNotConnected
	}
	t.srv.Process(msg)
	return nil
}

func (t *localTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.inbox == nil {
		return nil
	}
	t.closed = true
	close(t.inbox)
	return nil
}
