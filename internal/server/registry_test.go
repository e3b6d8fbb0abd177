package server

import (
	"errors"
	"sync"
	"testing"

	"gamenet/internal/proto"
)

func newTestRegistry() *Registry {
	return NewRegistry(proto.DefaultPalette(), nopLogger())
}

func TestAllocateIsMonotonic(t *testing.T) {
	r := newTestRegistry()

	const n = 64
	ids := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.Allocate()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %d allocated twice", id)
		}
		seen[id] = true
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			t.Fatalf("id %d never allocated", i)
		}
	}
}

func TestAddRejectsDuplicateID(t *testing.T) {
	r := newTestRegistry()
	if err := r.Add(&Session{ID: 0, Transport: discardTransport{}}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := r.Add(&Session{ID: 0, Transport: discardTransport{}}); err == nil {
		t.Fatal("duplicate id accepted")
	}
}

func TestAddWithinEnforcesBound(t *testing.T) {
	r := newTestRegistry()
	if err := r.AddWithin(&Session{ID: 0, Transport: discardTransport{}}, 1); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := r.AddWithin(&Session{ID: 1, Transport: discardTransport{}}, 1); !errors.Is(err, ErrServerFull) {
		t.Fatalf("err = %v, want ErrServerFull", err)
	}
	if r.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", r.Len())
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	sess := &Session{ID: 3, Transport: discardTransport{}}
	if err := r.Add(sess); err != nil {
		t.Fatalf("add: %v", err)
	}

	if got := r.Remove(3); got != sess {
		t.Fatalf("Remove returned %v, want the session", got)
	}
	if got := r.Remove(3); got != nil {
		t.Fatalf("second Remove returned %v, want nil", got)
	}
	if _, ok := r.Get(3); ok {
		t.Fatal("session still present after removal")
	}
}

func TestLookupByName(t *testing.T) {
	r := newTestRegistry()
	_ = r.Add(&Session{ID: 0, Name: "Alice", Transport: discardTransport{}})
	_ = r.Add(&Session{ID: 1, Name: "Bob", Transport: discardTransport{}})

	s, ok := r.GetByName("Bob")
	if !ok || s.ID != 1 {
		t.Fatalf("GetByName(Bob) = %v, %v", s, ok)
	}
	if _, ok := r.GetByName("Carol"); ok {
		t.Fatal("found a client that never connected")
	}
}

func TestSnapshotReflectsRegistry(t *testing.T) {
	r := newTestRegistry()
	_ = r.Add(&Session{ID: 0, Name: "Alice", Color: proto.ColorWhite, Transport: discardTransport{}})
	_ = r.Add(&Session{ID: 1, Name: "Bob", Color: proto.ColorBlue, Transport: discardTransport{}})
	r.Remove(0)

	roster := r.Snapshot()
	if len(roster) != 1 {
		t.Fatalf("roster size = %d, want 1", len(roster))
	}
	if roster[0].ID != 1 || roster[0].Name != "Bob" || roster[0].Color != proto.ColorBlue {
		t.Fatalf("unexpected roster entry: %+v", roster[0])
	}
}

func TestClaimColorMutualExclusion(t *testing.T) {
	r := newTestRegistry()
	const contenders = 16
	for i := 0; i < contenders; i++ {
		if err := r.Add(&Session{ID: i, Transport: discardTransport{}}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	start := make(chan struct{})
	wins := make(chan int, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-start
			if r.ClaimColor(id, proto.ColorRed) {
				wins <- id
			}
		}(i)
	}
	close(start)
	wg.Wait()
	close(wins)

	var winners []int
	for id := range wins {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("%d clients claimed the same color: %v", len(winners), winners)
	}

	winner, _ := r.Get(winners[0])
	if winner.Color != proto.ColorRed {
		t.Fatalf("winner color = %q, want red", winner.Color)
	}
	for _, c := range r.AvailableColors() {
		if c == proto.ColorRed {
			t.Fatal("claimed color still in the pool")
		}
	}
}

func TestClaimColorRejectsUnknownColor(t *testing.T) {
	r := newTestRegistry()
	_ = r.Add(&Session{ID: 0, Transport: discardTransport{}})

	if r.ClaimColor(0, proto.Color("plaid")) {
		t.Fatal("claimed a color that was never in the pool")
	}
	if got := len(r.AvailableColors()); got != len(proto.DefaultPalette()) {
		t.Fatalf("pool size changed to %d on a failed claim", got)
	}
}

func TestClaimColorForMissingSession(t *testing.T) {
	r := newTestRegistry()
	if r.ClaimColor(7, proto.ColorRed) {
		t.Fatal("claim succeeded for a session that is not registered")
	}
}

func TestBroadcastDuringMutation(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 8; i++ {
		_ = r.Add(&Session{ID: i, Transport: discardTransport{}})
	}

	// Hammer the registry with concurrent broadcasts, adds, and removes;
	// the race detector and the lock discipline do the judging.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.Broadcast(proto.NewChat("x", proto.SystemSender))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 8; i < 108; i++ {
			_ = r.Add(&Session{ID: i, Transport: discardTransport{}})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.Remove(i)
		}
	}()
	wg.Wait()
}
