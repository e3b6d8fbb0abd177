package server

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"

	"gamenet/internal/proto"
)

// DefaultPort is the compiled-in listening port used when configuration
// does not say otherwise.
const DefaultPort = 5000

// Listener accepts TCP connections and turns each into a registered session
// with a dedicated reader goroutine. One acceptor goroutine, one reader per
// connection: reads block, so every connection gets its own.
type Listener struct {
	srv *Server
	ln  net.Listener
}

// Listen binds the TCP address. A bind failure is surfaced to the caller and
// treated as fatal; there is no fallback to a random port.
func (s *Server) Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return &Listener{srv: s, ln: ln}, nil
}

// Addr reports the bound address, useful when listening on port 0.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops the acceptor. In-flight sessions stay up until the server
// shuts them down.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve runs the accept loop until the listener is closed. When the session
// count has reached the connection limit, the incoming connection is dropped
// at accept time without a session or a reply.
func (l *Listener) Serve() error {
	s := l.srv
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		// Early drop before an id is allocated. The authoritative check
		// happens inside AddClient, atomically with the registry insert.
		if s.registry.Len() >= s.MaxConnections() {
			s.log.Warn().Str("remote", conn.RemoteAddr().String()).Int("limit", s.MaxConnections()).Msg("connection limit reached, dropping")
			_ = conn.Close()
			continue
		}

		trace := uuid.NewString()
		id := s.registry.Allocate()
		sess := &Session{
			ID:        id,
			Name:      fmt.Sprintf("Client %d", id),
			Color:     s.registry.PickDefaultColor(id),
			Transport: newTCPTransport(conn),
			trace:     trace,
		}

		s.log.Info().Str("remote", conn.RemoteAddr().String()).Str("conn", trace).Msg("connection accepted")

		if err := s.AddClient(sess); err != nil {
			_ = conn.Close()
			continue
		}
		go l.readSession(sess, conn)
	}
}

// readSession decodes one message at a time and hands each to the dispatcher.
// Whatever ends the loop, graceful disconnect, I/O failure, or a corrupt
// record, the terminal action is removing this session exactly once.
func (l *Listener) readSession(sess *Session, conn net.Conn) {
	s := l.srv
	defer s.RemoveSession(sess.ID)

	dec := proto.NewDecoder(conn)
	for {
		msg, err := dec.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Warn().Err(err).Int("client_id", sess.ID).Str("conn", sess.trace).Msg("read failed")
			}
			return
		}
		s.Process(msg)
	}
}
