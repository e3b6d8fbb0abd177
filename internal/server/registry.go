package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"gamenet/internal/proto"
)

// Registry is the single source of truth for who is connected. It owns the
// three pieces of shared mutable state the reader goroutines contend on: the
// session table, the unclaimed color pool, and the next-id counter. One lock
// guards all of them so a broadcast never observes a torn session table and
// two color claims for the same color cannot both win.
type Registry struct {
	mu       sync.Mutex
	sessions map[int]*Session
	colors   []proto.Color
	nextID   int
	log      *zerolog.Logger
}

// NewRegistry builds an empty registry seeded with the given color palette.
func NewRegistry(palette []proto.Color, logger *zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[int]*Session),
		colors:   append([]proto.Color(nil), palette...),
		log:      logger,
	}
}

// Allocate hands out the next client id. Ids are monotonically increasing and
// never reused within a server run, even after disconnects.
func (r *Registry) Allocate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// PickDefaultColor chooses the provisional color for a newly accepted client.
// Claimed colors come out of the pool only through ClaimColor; the default
// assignment cycles the remaining pool without consuming it.
func (r *Registry) PickDefaultColor(id int) proto.Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.colors) == 0 {
		return ""
	}
	return r.colors[id%len(r.colors)]
}

// ErrServerFull reports an admission attempt over the connection limit.
var ErrServerFull = errors.New("connection limit reached")

// Add inserts a session. A duplicate id means the id assignment discipline
// was broken somewhere: that is an internal consistency violation, not a
// recoverable condition.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(s)
}

// AddWithin inserts a session only while the session count is below limit.
// The count check and the insert share one critical section, so two
// concurrent admissions cannot both squeeze under the bound.
func (r *Registry) AddWithin(s *Session, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= limit {
		return ErrServerFull
	}
	return r.addLocked(s)
}

func (r *Registry) addLocked(s *Session) error {
	if _, exists := r.sessions[s.ID]; exists {
		return fmt.Errorf("registry: duplicate client id %d", s.ID)
	}
	r.sessions[s.ID] = s
	return nil
}

// Get looks a session up by id.
func (r *Registry) Get(id int) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetByName returns the first session with the given display name.
func (r *Registry) GetByName(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.orderedIDs() {
		if r.sessions[id].Name == name {
			return r.sessions[id], true
		}
	}
	return nil, false
}

// Remove deletes a session and returns it. Removing an absent id is a no-op
// returning nil: disconnect handling must tolerate double-removal races.
func (r *Registry) Remove(id int) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

// Len reports the number of live sessions, checked against the connection
// limit at accept time.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the live session ids in assignment order.
func (r *Registry) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orderedIDs()
}

// Snapshot builds the serializable roster of live sessions.
func (r *Registry) Snapshot() proto.Roster {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// SetName records a session's display name. Returns false when the session
// is gone, which the dispatcher treats as a stale message, not an error.
func (r *Registry) SetName(id int, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.Name = name
	return true
}

// ClaimColor atomically checks the requested color against the pool, assigns
// it to the session, and rebuilds the pool without it. At most one of two
// concurrent claims for the same color can succeed.
func (r *Registry) ClaimColor(id int, c proto.Color) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	found := false
	for _, avail := range r.colors {
		if avail == c {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	s.Color = c
	remaining := make([]proto.Color, 0, len(r.colors)-1)
	for _, avail := range r.colors {
		if avail != c {
			remaining = append(remaining, avail)
		}
	}
	r.colors = remaining
	return true
}

// AvailableColors returns a copy of the unclaimed color pool.
func (r *Registry) AvailableColors() []proto.Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]proto.Color(nil), r.colors...)
}

// SetPalette replaces the unclaimed color pool wholesale.
func (r *Registry) SetPalette(palette []proto.Color) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colors = append([]proto.Color(nil), palette...)
}

// Broadcast delivers a message to every live session, continuing past
// individual transport failures. The lock is held across the loop so removal
// mid-broadcast cannot corrupt iteration and every client observes broadcasts
// in the same order; a stalled recipient therefore stalls the broadcast.
func (r *Registry) Broadcast(msg proto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg)
}

// BroadcastRoster snapshots the session table and delivers the roster to
// every session in one critical section, so the snapshot can never go stale
// against a concurrent add or remove.
func (r *Registry) BroadcastRoster() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(proto.NewClientList(r.snapshotLocked()))
}

// SendTo delivers a message to one session. A missing recipient is logged
// and absorbed; it must not take the server down.
func (r *Registry) SendTo(id int, msg proto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		r.log.Warn().Int("client_id", id).Str("type", msg.Type).Msg("recipient not found")
		return
	}
	if err := s.Transport.Send(msg); err != nil {
		r.log.Warn().Err(err).Int("client_id", id).Str("type", msg.Type).Msg("send failed")
	}
}

func (r *Registry) broadcastLocked(msg proto.Message) {
	for _, id := range r.orderedIDs() {
		s := r.sessions[id]
		if err := s.Transport.Send(msg); err != nil {
			r.log.Warn().Err(err).Int("client_id", s.ID).Str("type", msg.Type).Msg("broadcast delivery failed")
		}
	}
}

func (r *Registry) snapshotLocked() proto.Roster {
	roster := make(proto.Roster, 0, len(r.sessions))
	for _, id := range r.orderedIDs() {
		s := r.sessions[id]
		roster = append(roster, proto.ClientInfo{ID: s.ID, Name: s.Name, Color: s.Color})
	}
	return roster
}

func (r *Registry) orderedIDs() []int {
	ids := make([]int, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
