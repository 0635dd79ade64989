package client

import (
	"reflect"
	"testing"
)

func seededStore() *Store {
	s := NewStore()
	s.InitSelf("me", 100, 100, "#FF6B6B", "Ann")
	return s
}

func TestMergeRosterIsAddOnlyAndIdempotent(t *testing.T) {
	s := seededStore()
	s.Add(Player{ID: "b", X: 10, Y: 10, Name: "Bob"})
	s.ApplyMove("b", 50, 60)

	roster := []Player{
		{ID: "b", X: 1, Y: 1, Name: "Bob"},
		{ID: "c", X: 300, Y: 200, Name: "Cid"},
		{ID: "me", X: 0, Y: 0, Name: "Impostor"},
	}
	if n := s.MergeRoster(roster); n != 1 {
		t.Fatalf("added %d, want 1", n)
	}
	once := s.Players()
	if n := s.MergeRoster(roster); n != 0 {
		t.Fatalf("second merge added %d", n)
	}
	if twice := s.Players(); !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge not idempotent:\n%+v\n%+v", once, twice)
	}

	b, _ := s.Get("b")
	if b.X != 50 || b.Y != 60 {
		t.Fatalf("roster clobbered fresher position: %+v", b)
	}
	self, _ := s.Self()
	if self.Name != "Ann" || self.X != 100 {
		t.Fatalf("roster clobbered self: %+v", self)
	}
	c, ok := s.Get("c")
	if !ok || c.DisplayX != 300 || c.DisplayY != 200 {
		t.Fatalf("new roster entry should start displayed at its position: %+v", c)
	}
}

func TestApplyMoveSuppressesSelfEcho(t *testing.T) {
	s := seededStore()
	s.Add(Player{ID: "b", X: 10, Y: 10})

	if got := s.ApplyMove("me", 700, 500); got != MoveSelfEcho {
		t.Fatalf("self move result = %v, want MoveSelfEcho", got)
	}
	self, _ := s.Self()
	if self.X != 100 || self.Y != 100 || self.DisplayX != 100 {
		t.Fatalf("self echo moved local player: %+v", self)
	}

	if got := s.ApplyMove("b", 20, 30); got != MoveApplied {
		t.Fatalf("remote move result = %v", got)
	}
	b, _ := s.Get("b")
	if b.X != 20 || b.Y != 30 || b.DisplayX != 10 {
		t.Fatalf("remote move should update authoritative position only: %+v", b)
	}

	if got := s.ApplyMove("ghost", 1, 1); got != MoveUnknown {
		t.Fatalf("unknown move result = %v", got)
	}
	if s.Len() != 2 {
		t.Fatalf("unknown move created a record")
	}
}

func TestRemoveThenLateEventsAreNoops(t *testing.T) {
	s := seededStore()
	s.Add(Player{ID: "x", X: 10, Y: 10})
	if !s.Remove("x") {
		t.Fatalf("remove returned false")
	}
	if _, ok := s.Get("x"); ok {
		t.Fatalf("x still present")
	}
	if s.ApplyMove("x", 5, 5) != MoveUnknown || s.ApplyChat("x", "hi", 1) {
		t.Fatalf("events after leave should be no-ops")
	}
	if _, ok := s.Get("x"); ok {
		t.Fatalf("late event resurrected x")
	}
	if s.Remove("me") {
		t.Fatalf("remote leave must not remove the local player")
	}
}

func TestApplyChatKnownOnly(t *testing.T) {
	s := seededStore()
	if !s.ApplyChat("me", "hello", 42) {
		t.Fatalf("chat on self failed")
	}
	self, _ := s.Self()
	if self.Message != "hello" || self.MessageTime != 42 {
		t.Fatalf("chat not stored: %+v", self)
	}
	if s.ApplyChat("nobody", "hi", 1) || s.Len() != 1 {
		t.Fatalf("chat for unknown id must be ignored")
	}
}

func TestSetSelfPositionKeepsDisplayEqualToAuthoritative(t *testing.T) {
	s := NewStore()
	if s.SetSelfPosition(1, 1) {
		t.Fatalf("set before init should fail")
	}
	s = seededStore()
	s.Add(Player{ID: "b", X: 10, Y: 10})
	s.SetSelfPosition(250, 260)
	self, _ := s.Self()
	if self.X != 250 || self.DisplayX != 250 || self.Y != 260 || self.DisplayY != 260 {
		t.Fatalf("self = %+v", self)
	}
	if b, _ := s.Get("b"); b.X != 10 {
		t.Fatalf("set self touched remote: %+v", b)
	}
}

func TestAddJoinedKeepsDisplayForKnownID(t *testing.T) {
	s := seededStore()
	if s.Add(Player{ID: "me", Name: "Other"}) {
		t.Fatalf("joined for own id must be ignored")
	}
	s.Add(Player{ID: "b", X: 10, Y: 10, Name: "Bob"})
	s.Add(Player{ID: "b", X: 90, Y: 90, Name: "Bob"})
	b, _ := s.Get("b")
	if b.X != 90 || b.DisplayX != 10 {
		t.Fatalf("re-add should keep display position: %+v", b)
	}
}

func TestResetForgetsEverything(t *testing.T) {
	s := seededStore()
	s.Add(Player{ID: "b"})
	s.Reset()
	if s.Len() != 0 || s.SelfID() != "" {
		t.Fatalf("reset left state behind")
	}
	if _, ok := s.Self(); ok {
		t.Fatalf("self should be gone")
	}
}
