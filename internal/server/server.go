package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/rs/zerolog"

	"gamenet/internal/proto"
)

// NoConnectionLimit leaves admission control wide open.
const NoConnectionLimit = math.MaxInt32

// ColorInUseMessage is the reply a client gets when it requests a color
// someone else already claimed.
const ColorInUseMessage = "Color already in use.  Choose another."

// GameServer is the application-side delegate. It receives every dispatched
// message after system processing, including pure system messages, so a game
// can observe connection lifecycle events without re-implementing them.
type GameServer interface {
	ReceiveMessage(msg proto.Message, srv *Server)
}

// ChatLog records relayed chat lines. Optional; wired in by the application
// when a transcript store is configured.
type ChatLog interface {
	Record(ctx context.Context, sender int, name, text string) error
}

// Server owns the client registry, arbitrates the color pool, assigns ids,
// and dispatches system messages. Transports attach sessions to it; the
// delegate extends it with game semantics.
type Server struct {
	registry *Registry
	limit    atomicInt
	delegate GameServer
	chatLog  ChatLog
	log      *zerolog.Logger
}

// atomicInt is an int-typed wrapper over atomic.Int64 for the connection
// limit, which the acceptors read while dispatchers write.
type atomicInt struct {
	v atomic.Int64
}

func (a *atomicInt) Load() int {
	return int(a.v.Load())
}

func (a *atomicInt) Store(n int) {
	a.v.Store(int64(n))
}

// New builds a server with the default nine-color palette and no connection
// limit. The delegate may be nil for pure chat/lobby use.
func New(logger *zerolog.Logger) *Server {
	s := &Server{
		registry: NewRegistry(proto.DefaultPalette(), logger),
		log:      logger,
	}
	s.limit.Store(NoConnectionLimit)
	return s
}

// SetGameServer attaches the application delegate.
func (s *Server) SetGameServer(gs GameServer) {
	s.delegate = gs
}

// SetChatLog attaches a chat transcript recorder.
func (s *Server) SetChatLog(cl ChatLog) {
	s.chatLog = cl
}

// Registry exposes the session table, mainly for admin surfaces and tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

// MaxConnections reports the current admission bound.
func (s *Server) MaxConnections() int {
	return s.limit.Load()
}

// SetConnectionLimit bounds how many sessions the acceptors will admit.
func (s *Server) SetConnectionLimit(n int) {
	s.limit.Store(n)
}

// SetColorOptions replaces the color pool and tells every client about it.
func (s *Server) SetColorOptions(palette []proto.Color) {
	s.registry.SetPalette(palette)
	s.broadcastAvailableColors()
}

// AvailableColors returns the unclaimed color pool.
func (s *Server) AvailableColors() []proto.Color {
	return s.registry.AvailableColors()
}

// Send delivers a message to one client. A missing or failing recipient is
// logged and absorbed so one bad connection cannot abort an unrelated request.
func (s *Server) Send(recipientID int, msg proto.Message) {
	s.registry.SendTo(recipientID, msg)
}

// SendToAll delivers a message to every live session.
func (s *Server) SendToAll(msg proto.Message) {
	s.registry.Broadcast(msg)
}

// ConnectLocal attaches an in-process client. The deliver function becomes
// the session's transport; no sockets, no reader goroutine. onClose fires
// when the server drops the session, so the client side can tear down its
// own state. The client learns its id the same way a networked one does,
// through ASSIGN_CLIENT_ID.
func (s *Server) ConnectLocal(deliver DeliverFunc, onClose func()) error {
	id := s.registry.Allocate()
	sess := &Session{
		ID:        id,
		Name:      fmt.Sprintf("Client %d", id),
		Color:     s.registry.PickDefaultColor(id),
		Transport: &localTransport{deliver: deliver, onClose: onClose},
	}
	return s.AddClient(sess)
}

// AddClient inserts a session into the registry, tells the client its id,
// and brings every mirror up to date. Network acceptors call this after the
// handshake-free accept; ConnectLocal calls it for in-process clients.
// Admission control lives here: the limit check and the insert run in the
// registry's critical section, so concurrent attempts across the TCP, WS,
// and local paths cannot overshoot the bound.
func (s *Server) AddClient(sess *Session) error {
	if err := s.registry.AddWithin(sess, s.MaxConnections()); err != nil {
		if errors.Is(err, ErrServerFull) {
			s.log.Warn().Int("client_id", sess.ID).Int("limit", s.MaxConnections()).Msg("connection limit reached, refusing session")
		} else {
			// A duplicate id means the monotonic allocation discipline
			// is broken. Refuse the session and make noise.
			s.log.Error().Err(err).Int("client_id", sess.ID).Msg("registry insert failed")
		}
		return err
	}

	s.log.Info().Int("client_id", sess.ID).Str("name", sess.Name).Str("conn", sess.trace).Msg("client connected")

	assign := proto.NewAssignClientID(sess.ID)
	s.Send(sess.ID, assign)
	s.forward(assign)

	s.registry.BroadcastRoster()
	s.broadcastAvailableColors()
	return nil
}

// RemoveSession takes one session out of the registry, closes its transport,
// and rebroadcasts the roster. It is idempotent: reader teardown and an
// explicit DISCONNECT may both get here for the same id.
func (s *Server) RemoveSession(id int) {
	sess := s.registry.Remove(id)
	if sess == nil {
		return
	}
	if err := sess.Transport.Close(); err != nil {
		s.log.Debug().Err(err).Int("client_id", id).Msg("transport close")
	}
	s.log.Info().Int("client_id", id).Str("name", sess.Name).Msg("client disconnected")
	s.registry.BroadcastRoster()
}

// Process is the system dispatcher. Recognized message types get their
// built-in handling; everything, recognized or not, is then forwarded to the
// game delegate.
func (s *Server) Process(msg proto.Message) {
	s.log.Debug().Str("type", msg.Type).Int("sender", msg.Sender).Msg("process")

	switch msg.Type {
	case proto.TypeChat:
		s.handleChat(&msg)
	case proto.TypeDisconnect:
		s.RemoveSession(msg.Sender)
	case proto.TypeRegisterName:
		s.handleRegisterName(msg)
	case proto.TypeRegisterColor:
		s.handleRegisterColor(msg)
	case proto.TypeConnectionLimit:
		s.handleConnectionLimit(msg)
	}

	s.forward(msg)
}

func (s *Server) handleChat(msg *proto.Message) {
	text, err := msg.Text()
	if err != nil {
		s.log.Warn().Err(err).Int("sender", msg.Sender).Msg("bad chat payload")
		return
	}
	sess, ok := s.registry.Get(msg.Sender)
	if !ok {
		s.log.Warn().Int("sender", msg.Sender).Msg("chat from unknown session")
		return
	}
	// One-hop payload rewrite: the relayed chat line carries the sender's
	// display name, two-space separated.
	*msg = msg.WithText(sess.Name + ":  " + text)
	s.SendToAll(*msg)

	if s.chatLog != nil {
		if err := s.chatLog.Record(context.Background(), sess.ID, sess.Name, text); err != nil {
			s.log.Warn().Err(err).Msg("chat log record failed")
		}
	}
}

func (s *Server) handleRegisterName(msg proto.Message) {
	name, err := msg.Text()
	if err != nil {
		s.log.Warn().Err(err).Int("sender", msg.Sender).Msg("bad name payload")
		return
	}
	if !s.registry.SetName(msg.Sender, name) {
		s.log.Warn().Int("sender", msg.Sender).Msg("name registration from unknown session")
		return
	}
	s.registry.BroadcastRoster()
}

func (s *Server) handleRegisterColor(msg proto.Message) {
	color, err := msg.Color()
	if err != nil {
		s.log.Warn().Err(err).Int("sender", msg.Sender).Msg("bad color payload")
		return
	}
	if !s.registry.ClaimColor(msg.Sender, color) {
		// Contention or an invalid color: an expected business-rule
		// failure reported to the requester only.
		s.Send(msg.Sender, proto.NewRegisterColorError(ColorInUseMessage))
		return
	}
	s.registry.BroadcastRoster()
	s.broadcastAvailableColors()
}

func (s *Server) handleConnectionLimit(msg proto.Message) {
	limit, err := msg.Int()
	if err != nil {
		s.log.Warn().Err(err).Int("sender", msg.Sender).Msg("bad connection limit payload")
		return
	}
	s.SetConnectionLimit(limit)
	s.SendToAll(msg)
}

func (s *Server) broadcastAvailableColors() {
	s.SendToAll(proto.NewAvailableColors(s.registry.AvailableColors()))
}

func (s *Server) forward(msg proto.Message) {
	if s.delegate != nil {
		s.delegate.ReceiveMessage(msg, s)
	}
}

// Shutdown removes every session, closing the underlying transports. The
// listener, if any, is stopped by its own Serve loop unwinding.
func (s *Server) Shutdown() {
	for _, id := range s.registry.IDs() {
		s.RemoveSession(id)
	}
}
