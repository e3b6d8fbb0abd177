package server

import (
	"errors"
	"net"
	"sync/atomic"

	"gamenet/internal/proto"
)

// Transport is the capability to deliver a message to one endpoint. The
// network and local variants satisfy the same contract so the dispatch logic
// exists once, regardless of how a client is attached.
type Transport interface {
	Send(msg proto.Message) error
	Close() error
}

// Session is the server's view of one connected client. It is owned
// exclusively by the registry; Name and Color are written only under the
// registry lock.
type Session struct {
	ID        int
	Name      string
	Color     proto.Color
	Transport Transport

	// trace identifies the underlying connection in logs across its
	// whole lifecycle. Empty for local sessions.
	trace string
}

// tcpTransport sends messages over a socket as a JSON record stream.
type tcpTransport struct {
	conn net.Conn
	enc  *proto.Encoder
}

func newTCPTransport(conn net.Conn) *tcpTransport {
	return &tcpTransport{conn: conn, enc: proto.NewEncoder(conn)}
}

func (t *tcpTransport) Send(msg proto.Message) error {
	return t.enc.Encode(msg)
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

// DeliverFunc adapts an in-process delivery function to the Transport
// contract. The local client hands the server one of these at connect time;
// "sending" becomes a direct call into the client's own dispatch queue.
type DeliverFunc func(msg proto.Message) error

var errLocalClosed = errors.New("local transport closed")

// localTransport bridges a session to an in-process client. Closing it must
// reach the client side: the sockets that carry the disconnect signal for
// network sessions do not exist here, so onClose carries it instead.
type localTransport struct {
	deliver DeliverFunc
	onClose func()
	closed  atomic.Bool
}

func (t *localTransport) Send(msg proto.Message) error {
	if t.closed.Load() {
		return errLocalClosed
	}
	return t.deliver(msg)
}

func (t *localTransport) Close() error {
	if t.closed.CompareAndSwap(false, true) && t.onClose != nil {
		t.onClose()
	}
	return nil
}
