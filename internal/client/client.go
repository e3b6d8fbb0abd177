// Package client holds the client half of the message-passing core: the
// session-state mirrors, the built-in system dispatcher, and the observer
// fan-out. Transports (network, local) plug in underneath; the dispatch
// logic exists once.
package client

import (
	"sync"

	"github.com/rs/zerolog"

	"gamenet/internal/proto"
)

// NoID is the client id before the server assigns one.
const NoID = -1

// Status is the client's connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// Handler observes messages the system layer did not consume. Delivery is
// synchronous on the reader goroutine; a slow handler stalls that one
// connection's dispatch, nothing else.
type Handler func(msg proto.Message)

// transport is the capability a client needs underneath it: attach, send,
// detach. Network and local variants implement it.
type transport interface {
	connect(c *Client) error
	send(msg proto.Message) error
	close() error
}

// Client mirrors the server-side session: assigned id, roster, color pool,
// connection status. It builds outgoing messages and interprets the built-in
// vocabulary on incoming ones; everything else goes to the observers.
type Client struct {
	tr  transport
	log *zerolog.Logger

	mu        sync.Mutex
	id        int
	status    Status
	statusMsg string
	errState  bool
	name      string
	roster    proto.Roster
	colors    []proto.Color

	chatHandlers   []Handler
	systemHandlers []Handler
	gameHandlers   []Handler
}

func newClient(tr transport, logger *zerolog.Logger) *Client {
	return &Client{
		tr:        tr,
		log:       logger,
		id:        NoID,
		status:    StatusDisconnected,
		statusMsg: "Not connected.",
	}
}

// Connect attaches the transport. For the network variant this dials the
// server and starts the background reader; for the local variant it registers
// directly with the in-process server.
func (c *Client) Connect() error {
	// Mark connected before the transport attaches: the reader goroutine it
	// starts may legitimately flip the state back the moment the server
	// hangs up, and must not be overwritten afterwards.
	c.mu.Lock()
	c.status = StatusConnected
	c.statusMsg = "Connected."
	c.mu.Unlock()

	if err := c.tr.connect(c); err != nil {
		c.mu.Lock()
		c.status = StatusDisconnected
		c.statusMsg = err.Error()
		c.errState = true
		c.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect announces departure to the server, closes the transport, and
// resets the mirrors. The assigned id is kept; it identifies this connection
// episode.
func (c *Client) Disconnect() {
	_ = c.Send(proto.NewDisconnect(c.ID()))
	if err := c.tr.close(); err != nil {
		c.log.Debug().Err(err).Msg("transport close")
	}
	c.mu.Lock()
	c.status = StatusDisconnected
	c.statusMsg = "Not connected."
	c.roster = nil
	c.mu.Unlock()
}

// Send writes a message through the transport. A transport failure never
// panics the calling goroutine; it flips the client to disconnected and
// records the failure, and the error is returned for callers that care.
func (c *Client) Send(msg proto.Message) error {
	if err := c.tr.send(msg); err != nil {
		c.mu.Lock()
		c.status = StatusDisconnected
		c.statusMsg = "I/O error.  Message not sent."
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("type", msg.Type).Msg("send failed")
		return err
	}
	return nil
}

// SendChat sends a chat line; the server relays it to everyone with this
// client's display name prepended.
func (c *Client) SendChat(text string) error {
	return c.Send(proto.NewChat(text, c.ID()))
}

// RegisterName asks the server to record the player's display name.
func (c *Client) RegisterName(name string) error {
	if err := c.Send(proto.NewRegisterName(name, c.ID())); err != nil {
		return err
	}
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
	return nil
}

// RegisterColor asks the server to claim a display color. Contention comes
// back as REGISTER_COLOR_ERROR and lands in the error state.
func (c *Client) RegisterColor(color proto.Color) error {
	return c.Send(proto.NewRegisterColor(color, c.ID()))
}

// OnChat registers an observer for chat traffic.
func (c *Client) OnChat(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatHandlers = append(c.chatHandlers, h)
}

// OnSystem registers an observer for system messages the dispatcher does not
// consume itself, connection-limit announcements for one.
func (c *Client) OnSystem(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemHandlers = append(c.systemHandlers, h)
}

// OnGame registers an observer for application-defined messages.
func (c *Client) OnGame(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gameHandlers = append(c.gameHandlers, h)
}

// ID returns the server-assigned id, NoID before assignment.
func (c *Client) ID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Status reports the connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StatusMessage is the human-readable companion to Status.
func (c *Client) StatusMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusMsg
}

// ErrorState reports whether the last server reply flagged an error.
func (c *Client) ErrorState() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errState
}

// ClearError resets the error flag and status message.
func (c *Client) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errState = false
	c.statusMsg = "OK"
}

// PlayerName returns the display name last registered.
func (c *Client) PlayerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Roster returns the latest roster mirror.
func (c *Client) Roster() proto.Roster {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(proto.Roster(nil), c.roster...)
}

// AvailableColors returns the latest color-pool mirror.
func (c *Client) AvailableColors() []proto.Color {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]proto.Color(nil), c.colors...)
}

// dispatch runs one incoming message through the system layer and, when the
// system layer does not consume it, fans it out to observers by category.
// Transports call this from their reader goroutine, one message at a time,
// preserving per-connection order.
func (c *Client) dispatch(msg proto.Message) {
	if c.process(msg) {
		return
	}
	switch {
	case msg.IsChat():
		c.notify(c.snapshotHandlers(&c.chatHandlers), msg)
	case msg.IsSystem():
		c.notify(c.snapshotHandlers(&c.systemHandlers), msg)
	default:
		c.notify(c.snapshotHandlers(&c.gameHandlers), msg)
	}
}

// process is the built-in dispatch table. It returns true when the message
// was consumed by the system layer and needs no application involvement.
func (c *Client) process(msg proto.Message) bool {
	c.log.Debug().Str("type", msg.Type).Msg("process")

	switch msg.Type {
	case proto.TypeAssignClientID:
		id, err := msg.Int()
		if err != nil {
			c.log.Warn().Err(err).Msg("bad id payload")
			return true
		}
		c.mu.Lock()
		c.id = id
		c.mu.Unlock()
		return true

	case proto.TypeClientList:
		roster, err := msg.Roster()
		if err != nil {
			c.log.Warn().Err(err).Msg("bad roster payload")
			return true
		}
		c.mu.Lock()
		c.roster = roster
		c.mu.Unlock()
		return true

	case proto.TypeAvailableColors:
		colors, err := msg.Colors()
		if err != nil {
			c.log.Warn().Err(err).Msg("bad colors payload")
			return true
		}
		c.mu.Lock()
		c.colors = colors
		c.mu.Unlock()
		return true

	case proto.TypeRegisterColorError:
		reason, err := msg.Text()
		if err != nil {
			reason = "color registration failed"
		}
		c.mu.Lock()
		c.errState = true
		c.statusMsg = reason
		c.mu.Unlock()
		return true
	}

	return false
}

func (c *Client) snapshotHandlers(hs *[]Handler) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Handler(nil), *hs...)
}

func (c *Client) notify(hs []Handler, msg proto.Message) {
	for _, h := range hs {
		h(msg)
	}
}

// setDisconnected is called by transports when their reader loop dies.
func (c *Client) setDisconnected(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusDisconnected
	c.statusMsg = reason
}
