package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"gamenet/internal/proto"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// recordingTransport captures everything sent to one session.
type recordingTransport struct {
	mu     sync.Mutex
	msgs   []proto.Message
	fail   bool
	closed bool
}

func (t *recordingTransport) Send(msg proto.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return fmt.Errorf("transport down")
	}
	t.msgs = append(t.msgs, msg)
	return nil
}

func (t *recordingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *recordingTransport) received(msgType string) []proto.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []proto.Message
	for _, m := range t.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func addTestClient(t *testing.T, s *Server) (*Session, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{}
	id := s.Registry().Allocate()
	sess := &Session{
		ID:        id,
		Name:      fmt.Sprintf("Client %d", id),
		Color:     s.Registry().PickDefaultColor(id),
		Transport: tr,
	}
	if err := s.AddClient(sess); err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	return sess, tr
}

func TestAddClientAssignsIDAndBroadcasts(t *testing.T) {
	s := New(nopLogger())

	sessA, trA := addTestClient(t, s)
	if sessA.ID != 0 {
		t.Fatalf("first client id = %d, want 0", sessA.ID)
	}

	assigns := trA.received(proto.TypeAssignClientID)
	if len(assigns) != 1 {
		t.Fatalf("got %d assign messages, want 1", len(assigns))
	}
	if id, err := assigns[0].Int(); err != nil || id != 0 {
		t.Fatalf("assigned id = %d (err %v), want 0", id, err)
	}

	sessB, trB := addTestClient(t, s)
	if sessB.ID != 1 {
		t.Fatalf("second client id = %d, want 1", sessB.ID)
	}

	// B's arrival must be visible in a roster broadcast to A.
	rosters := trA.received(proto.TypeClientList)
	last := rosters[len(rosters)-1]
	roster, err := last.Roster()
	if err != nil {
		t.Fatalf("roster payload: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(roster))
	}
	if _, ok := roster.Get(sessB.ID); !ok {
		t.Fatalf("roster missing client %d: %+v", sessB.ID, roster)
	}
	if len(trB.received(proto.TypeAvailableColors)) == 0 {
		t.Fatal("new client never received the color pool")
	}
}

func TestChatRelayPrependsName(t *testing.T) {
	s := New(nopLogger())
	sessA, trA := addTestClient(t, s)
	_, trB := addTestClient(t, s)

	if !s.Registry().SetName(sessA.ID, "Alice") {
		t.Fatal("SetName failed")
	}
	s.Process(proto.NewChat("hello", sessA.ID))

	for _, tr := range []*recordingTransport{trA, trB} {
		chats := tr.received(proto.TypeChat)
		if len(chats) != 1 {
			t.Fatalf("got %d chat messages, want 1", len(chats))
		}
		text, err := chats[0].Text()
		if err != nil {
			t.Fatalf("chat payload: %v", err)
		}
		if text != "Alice:  hello" {
			t.Fatalf("chat text = %q, want %q", text, "Alice:  hello")
		}
	}
}

func TestRegisterNameRebroadcastsRoster(t *testing.T) {
	s := New(nopLogger())
	sessA, trA := addTestClient(t, s)

	s.Process(proto.NewRegisterName("Alice", sessA.ID))

	rosters := trA.received(proto.TypeClientList)
	roster, err := rosters[len(rosters)-1].Roster()
	if err != nil {
		t.Fatalf("roster payload: %v", err)
	}
	ci, ok := roster.Get(sessA.ID)
	if !ok || ci.Name != "Alice" {
		t.Fatalf("roster entry = %+v, want name Alice", ci)
	}
}

func TestRegisterColorClaimAndContention(t *testing.T) {
	s := New(nopLogger())
	sessA, trA := addTestClient(t, s)
	sessB, trB := addTestClient(t, s)

	s.Process(proto.NewRegisterColor(proto.ColorRed, sessA.ID))

	if sessA.Color != proto.ColorRed {
		t.Fatalf("A color = %q, want red", sessA.Color)
	}
	colors := trA.received(proto.TypeAvailableColors)
	pool, err := colors[len(colors)-1].Colors()
	if err != nil {
		t.Fatalf("colors payload: %v", err)
	}
	for _, c := range pool {
		if c == proto.ColorRed {
			t.Fatal("red still in the broadcast pool after claim")
		}
	}

	// B requests the same color and must get the error, alone.
	s.Process(proto.NewRegisterColor(proto.ColorRed, sessB.ID))

	errs := trB.received(proto.TypeRegisterColorError)
	if len(errs) != 1 {
		t.Fatalf("B got %d color errors, want 1", len(errs))
	}
	reason, err := errs[0].Text()
	if err != nil {
		t.Fatalf("error payload: %v", err)
	}
	if reason != ColorInUseMessage {
		t.Fatalf("error text = %q, want %q", reason, ColorInUseMessage)
	}
	if len(trA.received(proto.TypeRegisterColorError)) != 0 {
		t.Fatal("color error leaked to a bystander")
	}
	if sessB.Color == proto.ColorRed {
		t.Fatal("loser session color changed")
	}
}

func TestDisconnectRemovesAndRebroadcasts(t *testing.T) {
	s := New(nopLogger())
	sessA, trA := addTestClient(t, s)
	_, trB := addTestClient(t, s)

	s.Process(proto.NewDisconnect(sessA.ID))

	if _, ok := s.Registry().Get(sessA.ID); ok {
		t.Fatal("session still registered after disconnect")
	}
	if !trA.closed {
		t.Fatal("transport not closed on disconnect")
	}

	rosters := trB.received(proto.TypeClientList)
	roster, err := rosters[len(rosters)-1].Roster()
	if err != nil {
		t.Fatalf("roster payload: %v", err)
	}
	if _, ok := roster.Get(sessA.ID); ok {
		t.Fatal("departed client still in broadcast roster")
	}

	// Double removal must be a no-op.
	s.RemoveSession(sessA.ID)
}

func TestBroadcastContinuesPastFailures(t *testing.T) {
	s := New(nopLogger())
	_, trA := addTestClient(t, s)
	_, trB := addTestClient(t, s)

	trA.mu.Lock()
	trA.fail = true
	trA.mu.Unlock()

	s.SendToAll(proto.NewChat("ping", proto.SystemSender))

	if len(trB.received(proto.TypeChat)) != 1 {
		t.Fatal("failure on one recipient aborted delivery to another")
	}
}

func TestConnectionLimitBroadcast(t *testing.T) {
	s := New(nopLogger())
	sessA, trA := addTestClient(t, s)

	s.Process(proto.NewConnectionLimit(3, sessA.ID))

	if s.MaxConnections() != 3 {
		t.Fatalf("limit = %d, want 3", s.MaxConnections())
	}
	if len(trA.received(proto.TypeConnectionLimit)) != 1 {
		t.Fatal("limit change not rebroadcast")
	}
}

type recordingDelegate struct {
	mu   sync.Mutex
	msgs []proto.Message
}

func (d *recordingDelegate) ReceiveMessage(msg proto.Message, _ *Server) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
}

func (d *recordingDelegate) types() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, m := range d.msgs {
		out = append(out, m.Type)
	}
	return out
}

func TestDelegateSeesSystemAndGameMessages(t *testing.T) {
	s := New(nopLogger())
	delegate := &recordingDelegate{}
	s.SetGameServer(delegate)

	sessA, trA := addTestClient(t, s)

	move, err := proto.NewGame("MOVE_UNIT", map[string]int{"unit": 7, "x": 3}, sessA.ID)
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	s.Process(move)

	var sawAssign, sawMove bool
	for _, typ := range delegate.types() {
		switch typ {
		case proto.TypeAssignClientID:
			sawAssign = true
		case "MOVE_UNIT":
			sawMove = true
		}
	}
	if !sawAssign {
		t.Fatal("delegate never observed the id assignment")
	}
	if !sawMove {
		t.Fatal("delegate never received the game message")
	}

	// Unknown types are forwarded, not delivered to clients by the server.
	if len(trA.received("MOVE_UNIT")) != 0 {
		t.Fatal("game message was broadcast by the system dispatcher")
	}
}

func TestSendToMissingRecipientIsAbsorbed(t *testing.T) {
	s := New(nopLogger())
	// Must not panic or error out.
	s.Send(42, proto.NewChat("anyone there?", proto.SystemSender))
}

func TestSetColorOptionsBroadcasts(t *testing.T) {
	s := New(nopLogger())
	_, trA := addTestClient(t, s)

	s.SetColorOptions([]proto.Color{proto.ColorRed, proto.ColorBlue})

	colors := trA.received(proto.TypeAvailableColors)
	pool, err := colors[len(colors)-1].Colors()
	if err != nil {
		t.Fatalf("colors payload: %v", err)
	}
	if len(pool) != 2 || pool[0] != proto.ColorRed || pool[1] != proto.ColorBlue {
		t.Fatalf("pool = %v, want [red blue]", pool)
	}
}

func TestChatFromUnknownSenderIsDropped(t *testing.T) {
	s := New(nopLogger())
	_, trA := addTestClient(t, s)

	s.Process(proto.NewChat("ghost", 99))

	if len(trA.received(proto.TypeChat)) != 0 {
		t.Fatal("chat from unregistered sender was relayed")
	}
}

func TestConcurrentAdmissionRespectsLimit(t *testing.T) {
	for iter := 0; iter < 200; iter++ {
		s := New(nopLogger())
		s.SetConnectionLimit(1)

		const attempts = 4
		var admitted atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.ConnectLocal(func(proto.Message) error { return nil }, nil)
				if err == nil {
					admitted.Add(1)
				} else if !errors.Is(err, ErrServerFull) {
					t.Errorf("unexpected admission error: %v", err)
				}
			}()
		}
		wg.Wait()

		if got := admitted.Load(); got != 1 {
			t.Fatalf("admitted %d sessions with limit 1", got)
		}
		if s.Registry().Len() != 1 {
			t.Fatalf("registry size = %d, want 1", s.Registry().Len())
		}
	}
}

func TestShutdownRemovesEverySession(t *testing.T) {
	s := New(nopLogger())
	_, trA := addTestClient(t, s)
	_, trB := addTestClient(t, s)

	s.Shutdown()

	if s.Registry().Len() != 0 {
		t.Fatalf("registry size = %d after shutdown, want 0", s.Registry().Len())
	}
	if !trA.closed || !trB.closed {
		t.Fatal("transports left open after shutdown")
	}
}

type discardTransport struct{}

func (discardTransport) Send(proto.Message) error { return nil }
func (discardTransport) Close() error             { return nil }

func BenchmarkBroadcast(b *testing.B) {
	for _, recipients := range []int{10, 100, 500} {
		b.Run(fmt.Sprintf("%d", recipients), func(b *testing.B) {
			s := New(nopLogger())
			for i := 0; i < recipients; i++ {
				id := s.Registry().Allocate()
				sess := &Session{ID: id, Name: fmt.Sprintf("Client %d", id), Transport: discardTransport{}}
				if err := s.AddClient(sess); err != nil {
					b.Fatalf("AddClient: %v", err)
				}
			}
			msg := proto.NewChat(strings.Repeat("x", 64), proto.SystemSender)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s.SendToAll(msg)
			}
		})
	}
}
