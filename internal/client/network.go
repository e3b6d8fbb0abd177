package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gamenet/internal/proto"
)

const dialTimeout = 5 * time.Second

// NewNetwork builds a client that talks to a server over TCP. Nothing is
// dialed until Connect.
func NewNetwork(addr string, logger *zerolog.Logger) *Client {
	return newClient(&netTransport{addr: addr}, logger)
}

// netTransport owns the socket and the background reader goroutine. Writes
// are synchronous on the calling goroutine; the encoder serializes them.
type netTransport struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
	enc  *proto.Encoder
}

var errNotConnected = errors.New("not connected")

func (t *netTransport) connect(c *Client) error {
	dialer := net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.Dial("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	t.mu.Lock()
	t.conn = conn
	t.enc = proto.NewEncoder(conn)
	t.mu.Unlock()

	go t.readLoop(c, conn)
	return nil
}

// readLoop decodes one message at a time and hands each to the client's
// dispatcher. End of stream or a decode failure ends the connection episode.
func (t *netTransport) readLoop(c *Client, conn net.Conn) {
	dec := proto.NewDecoder(conn)
	for {
		msg, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.setDisconnected("Connection closed.")
			} else {
				c.log.Warn().Err(err).Msg("read failed")
				c.setDisconnected(err.Error())
			}
			return
		}
		c.dispatch(msg)
	}
}

func (t *netTransport) send(msg proto.Message) error {
	t.mu.Lock()
	enc := t.enc
	t.mu.Unlock()
	if enc == nil {
		return errNotConnected
	}
	return enc.Encode(msg)
}

func (t *netTransport) close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.enc = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
