package server

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/exp/rand"
)

type fakeSink struct {
	msgs   [][]byte
	closed bool
	full   bool
}

func (f *fakeSink) Enqueue(b []byte) bool {
	if f.closed || f.full {
		return false
	}
	f.msgs = append(f.msgs, b)
	return true
}

func (f *fakeSink) Close() { f.closed = true }

func (f *fakeSink) types(t *testing.T) []string {
	t.Helper()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, decodeType(t, m))
	}
	return out
}

func (f *fakeSink) last(t *testing.T, v any) {
	t.Helper()
	if len(f.msgs) == 0 {
		t.Fatalf("sink is empty")
	}
	if err := json.Unmarshal(f.msgs[len(f.msgs)-1], v); err != nil {
		t.Fatalf("decode last: %v", err)
	}
}

func (f *fakeSink) reset() { f.msgs = nil }

func decodeType(t *testing.T, b []byte) string {
	t.Helper()
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("decode type: %v", err)
	}
	return env.Type
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Seed = 42
	reg := NewRegistry(cfg, &RelayMetrics{}, zaptest.NewLogger(t).Sugar())
	reg.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return reg
}

func joinNew(t *testing.T, reg *Registry, name string) (PlayerID, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	id := reg.onConnect(sink)
	reg.onJoin(id, name)
	return id, sink
}

func ptr(v float64) *float64 { return &v }

func TestConnectSendsInitThenRosterToNewConnectionOnly(t *testing.T) {
	reg := newTestRegistry(t)
	annID, ann := joinNew(t, reg, "Ann")
	ann.reset()

	bob := &fakeSink{}
	bobID := reg.onConnect(bob)

	if got := bob.types(t); strings.Join(got, ",") != "init,players" {
		t.Fatalf("new connection got %v, want [init players]", got)
	}
	if len(ann.msgs) != 0 {
		t.Fatalf("connect must not be broadcast, ann got %v", ann.types(t))
	}

	var init InitMessage
	if err := json.Unmarshal(bob.msgs[0], &init); err != nil {
		t.Fatal(err)
	}
	if init.ID != bobID || init.ID == annID {
		t.Fatalf("unexpected init id %q", init.ID)
	}
	half := PlayerSize / 2
	if init.X < half || init.X > FieldWidth-half || init.Y < half || init.Y > FieldHeight-half {
		t.Fatalf("spawn (%v,%v) outside inset playfield", init.X, init.Y)
	}
	found := false
	for _, c := range Palette {
		found = found || c == init.Color
	}
	if !found {
		t.Fatalf("colour %q not in palette", init.Color)
	}

	var roster RosterMessage
	bob.last(t, &roster)
	if len(roster.Players) != 1 || roster.Players[0].ID != annID || roster.Players[0].Name != "Ann" {
		t.Fatalf("roster = %+v, want only Ann", roster.Players)
	}
}

func TestRosterExcludesConnectionsThatHaveNotJoined(t *testing.T) {
	reg := newTestRegistry(t)
	reg.onConnect(&fakeSink{})

	late := &fakeSink{}
	reg.onConnect(late)
	var roster RosterMessage
	late.last(t, &roster)
	if len(roster.Players) != 0 {
		t.Fatalf("roster should be empty, got %+v", roster.Players)
	}
}

func TestJoinBroadcastsToOthersOnce(t *testing.T) {
	reg := newTestRegistry(t)
	_, ann := joinNew(t, reg, "Ann")
	ann.reset()

	bob := &fakeSink{}
	bobID := reg.onConnect(bob)
	bob.reset()
	reg.onJoin(bobID, "  Bob  ")
	reg.onJoin(bobID, "Robert")

	if len(bob.msgs) != 0 {
		t.Fatalf("joiner must not receive its own playerJoined, got %v", bob.types(t))
	}
	if got := ann.types(t); len(got) != 1 || got[0] != TypePlayerJoined {
		t.Fatalf("ann got %v, want one playerJoined", got)
	}
	var joined JoinedMessage
	ann.last(t, &joined)
	if joined.Player.ID != bobID || joined.Player.Name != "Bob" {
		t.Fatalf("joined = %+v", joined.Player)
	}
	if reg.sessions[bobID].player.Name != "Bob" {
		t.Fatalf("name must stay immutable after first join")
	}
	if reg.Count() != 2 {
		t.Fatalf("count = %d, want 2", reg.Count())
	}
}

func TestJoinWithEmptyNameUsesPlaceholder(t *testing.T) {
	reg := newTestRegistry(t)
	id, _ := joinNew(t, reg, "   ")
	if got := reg.sessions[id].player.Name; got != DefaultName {
		t.Fatalf("name = %q, want %q", got, DefaultName)
	}
}

func TestMoveAndChatBeforeJoinAreNoops(t *testing.T) {
	reg := newTestRegistry(t)
	_, ann := joinNew(t, reg, "Ann")
	ann.reset()

	lurker := &fakeSink{}
	id := reg.onConnect(lurker)
	lurker.reset()
	before := reg.sessions[id].player

	reg.handle(id, InboundMessage{Type: TypeMove, X: ptr(10), Y: ptr(10)})
	reg.handle(id, InboundMessage{Type: TypeChat, Message: "hi"})

	if got := reg.sessions[id].player; got != before {
		t.Fatalf("state mutated before join: %+v -> %+v", before, got)
	}
	if len(ann.msgs) != 0 || len(lurker.msgs) != 0 {
		t.Fatalf("no broadcast expected, ann=%v lurker=%v", ann.types(t), lurker.types(t))
	}
}

func TestMoveBroadcastsToEveryoneIncludingSender(t *testing.T) {
	reg := newTestRegistry(t)
	annID, ann := joinNew(t, reg, "Ann")
	_, bob := joinNew(t, reg, "Bob")
	ann.reset()
	bob.reset()

	reg.handle(annID, InboundMessage{Type: TypeMove, X: ptr(100), Y: ptr(200)})

	for name, sink := range map[string]*fakeSink{"ann": ann, "bob": bob} {
		var moved MovedMessage
		sink.last(t, &moved)
		if moved.Type != TypePlayerMoved || moved.ID != annID || moved.X != 100 || moved.Y != 200 {
			t.Fatalf("%s got %+v", name, moved)
		}
	}
	if p := reg.sessions[annID].player; p.X != 100 || p.Y != 200 {
		t.Fatalf("position not updated: %+v", p)
	}
}

func TestMoveClampsAndDropsNonFinite(t *testing.T) {
	reg := newTestRegistry(t)
	id, sink := joinNew(t, reg, "Ann")
	sink.reset()

	reg.onMove(id, -50, 5000)
	var moved MovedMessage
	sink.last(t, &moved)
	if moved.X != PlayerSize/2 || moved.Y != FieldHeight-PlayerSize/2 {
		t.Fatalf("clamped to (%v,%v)", moved.X, moved.Y)
	}

	sink.reset()
	reg.onMove(id, math.NaN(), 10)
	if len(sink.msgs) != 0 {
		t.Fatalf("non-finite move must be dropped")
	}

	reg.applyConfig(RuntimeConfig{ClampMoves: false, MaxChatLength: MaxChatLength})
	reg.onMove(id, -50, 10)
	sink.last(t, &moved)
	if moved.X != -50 {
		t.Fatalf("unclamped move = %v, want -50", moved.X)
	}
}

func TestChatCarriesServerTimestamp(t *testing.T) {
	reg := newTestRegistry(t)
	id, ann := joinNew(t, reg, "Ann")
	_, bob := joinNew(t, reg, "Bob")
	ann.reset()
	bob.reset()

	reg.onChat(id, "  hello  ")
	var chat ChatMessage
	bob.last(t, &chat)
	if chat.ID != id || chat.Message != "hello" || chat.Timestamp != 1_700_000_000_000 {
		t.Fatalf("chat = %+v", chat)
	}
	if len(ann.msgs) != 1 {
		t.Fatalf("sender should also receive chat")
	}
	p := reg.sessions[id].player
	if p.Message != "hello" || p.MessageTime != chat.Timestamp {
		t.Fatalf("chat fields not stored: %+v", p)
	}

	bob.reset()
	reg.onChat(id, "   ")
	if len(bob.msgs) != 0 {
		t.Fatalf("blank chat must be dropped")
	}

	reg.onChat(id, strings.Repeat("é", MaxChatLength+20))
	bob.last(t, &chat)
	if n := len([]rune(chat.Message)); n != MaxChatLength {
		t.Fatalf("chat length = %d, want %d", n, MaxChatLength)
	}
}

func TestPingRepliesPongToSenderOnly(t *testing.T) {
	reg := newTestRegistry(t)
	_, ann := joinNew(t, reg, "Ann")
	ann.reset()
	s := &fakeSink{}
	id := reg.onConnect(s)
	s.reset()

	reg.handle(id, InboundMessage{Type: TypePing})
	if got := s.types(t); len(got) != 1 || got[0] != TypePong {
		t.Fatalf("got %v, want [pong]", got)
	}
	if len(ann.msgs) != 0 {
		t.Fatalf("pong leaked to others")
	}
}

func TestUnknownTypeIsIgnored(t *testing.T) {
	reg := newTestRegistry(t)
	id, ann := joinNew(t, reg, "Ann")
	ann.reset()
	reg.handle(id, InboundMessage{Type: "teleport"})
	if len(ann.msgs) != 0 {
		t.Fatalf("unknown type produced output")
	}
}

func TestDisconnectRemovesPlayerAndNotifiesRemaining(t *testing.T) {
	reg := newTestRegistry(t)
	annID, ann := joinNew(t, reg, "Ann")
	_, bob := joinNew(t, reg, "Bob")
	bob.reset()

	reg.onDisconnect(annID)

	if !ann.closed {
		t.Fatalf("departed sink should be closed")
	}
	var left LeftMessage
	bob.last(t, &left)
	if left.Type != TypePlayerLeft || left.ID != annID {
		t.Fatalf("bob got %+v", left)
	}
	if _, ok := reg.sessions[annID]; ok {
		t.Fatalf("ann still registered")
	}
	if reg.Count() != 1 {
		t.Fatalf("count = %d, want 1", reg.Count())
	}

	// 断开后的残留事件按 no-op 处理
	bob.reset()
	reg.handle(annID, InboundMessage{Type: TypeMove, X: ptr(1), Y: ptr(1)})
	reg.onDisconnect(annID)
	if len(bob.msgs) != 0 {
		t.Fatalf("events for departed id must be ignored, got %v", bob.types(t))
	}
}

func TestDisconnectBeforeJoinIsSilent(t *testing.T) {
	reg := newTestRegistry(t)
	_, ann := joinNew(t, reg, "Ann")
	ann.reset()
	id := reg.onConnect(&fakeSink{})
	reg.onDisconnect(id)
	if len(ann.msgs) != 0 {
		t.Fatalf("unjoined disconnect should not broadcast, got %v", ann.types(t))
	}
}

func TestCountMatchesJoinedMinusDisconnected(t *testing.T) {
	reg := newTestRegistry(t)
	rng := rand.New(rand.NewSource(7))

	var ids []PlayerID
	joined := map[PlayerID]bool{}
	for i := 0; i < 2000; i++ {
		switch op := rng.Intn(5); {
		case op == 0 || len(ids) == 0:
			ids = append(ids, reg.onConnect(&fakeSink{}))
		default:
			id := ids[rng.Intn(len(ids))]
			switch op {
			case 1:
				reg.onJoin(id, fmt.Sprintf("p%d", i))
				if _, live := reg.sessions[id]; live {
					joined[id] = true
				}
			case 2:
				reg.onMove(id, rng.Float64()*FieldWidth, rng.Float64()*FieldHeight)
			case 3:
				reg.onChat(id, "hey")
			case 4:
				reg.onDisconnect(id)
				delete(joined, id)
			}
		}
		if reg.Count() != len(joined) {
			t.Fatalf("step %d: count = %d, want %d", i, reg.Count(), len(joined))
		}
	}
}

func TestConnectAssignsDistinctIDs(t *testing.T) {
	reg := newTestRegistry(t)
	seen := map[PlayerID]bool{}
	for i := 0; i < 500; i++ {
		id := reg.onConnect(&fakeSink{})
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
		reg.onDisconnect(id)
	}
}
