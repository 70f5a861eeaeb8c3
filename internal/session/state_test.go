package session

import (
	"testing"
	"time"

	"github.com/chanderlud/telepathy/internal/peerid"
)

const (
	tenMillis       = 10 * time.Millisecond
	twoHundredMillis = 200 * time.Millisecond
)

func testPeer(b byte) peerid.ID {
	var id peerid.ID
	id[0] = b
	return id
}

// TestMapAtMostOneEntryPerPeer covers spec.md invariant 6: the session map
// holds at most one State per peer at any time.
func TestMapAtMostOneEntryPerPeer(t *testing.T) {
	m := NewMap()
	peer := testPeer(1)

	first := NewState(peer)
	m.Insert(first)
	if m.Len() != 1 {
		t.Fatalf("Len after first insert: got %d, want 1", m.Len())
	}

	second := NewState(peer)
	m.Insert(second)
	if m.Len() != 1 {
		t.Fatalf("Len after replacing insert: got %d, want 1", m.Len())
	}

	got, ok := m.Get(peer)
	if !ok || got != second {
		t.Fatal("Get should return the newer State, not the replaced one")
	}
}

// TestInsertForceTearsDownPrevious covers the other half of invariant 6: a
// forced re-insert tears down the previous session, not just replaces the
// map entry.
func TestInsertForceTearsDownPrevious(t *testing.T) {
	m := NewMap()
	peer := testPeer(2)

	old := NewState(peer)
	m.Insert(old)

	replacement := NewState(peer)
	m.Insert(replacement)

	select {
	case <-old.EndCall:
	default:
		t.Error("old State's EndCall should have fired on forced replacement")
	}

	select {
	case <-old.Stopped():
	default:
		t.Error("old State's StopSession should have fired on forced replacement")
	}

	select {
	case <-replacement.Stopped():
		t.Error("replacement State should not be stopped")
	default:
	}
}

// TestRemoveOnlyDeletesMatchingEntry guards against a stale Remove call (from
// a session goroutine that lost a race with a forced re-insert) deleting the
// newer session instead of being a no-op.
func TestRemoveOnlyDeletesMatchingEntry(t *testing.T) {
	m := NewMap()
	peer := testPeer(3)

	old := NewState(peer)
	m.Insert(old)

	newer := NewState(peer)
	m.Insert(newer)

	m.Remove(peer, old)

	got, ok := m.Get(peer)
	if !ok || got != newer {
		t.Fatal("Remove with a stale State reference should not remove the current entry")
	}

	m.Remove(peer, newer)
	if _, ok := m.Get(peer); ok {
		t.Fatal("Remove with the current State reference should delete the entry")
	}
	if m.Len() != 0 {
		t.Fatalf("Len after Remove: got %d, want 0", m.Len())
	}
}

func TestStopSessionIdempotent(t *testing.T) {
	s := NewState(testPeer(4))
	s.StopSession()
	s.StopSession() // must not panic on double-close

	select {
	case <-s.Stopped():
	default:
		t.Error("Stopped channel should be closed after StopSession")
	}
}

func TestPeerStateSelectPrefersDirectOverRelayed(t *testing.T) {
	p := NewDialerPeerState()
	direct := ConnectionID{1}
	relayed := ConnectionID{2}

	directLat := twoHundredMillis
	relayedLat := tenMillis
	p.Connections[direct] = &ConnectionState{Latency: &directLat, Relayed: false}
	p.Connections[relayed] = &ConnectionState{Latency: &relayedLat, Relayed: true}

	got, ok := p.Select()
	if !ok || got != direct {
		t.Errorf("Select: got %v, ok=%v, want direct connection even though slower", got, ok)
	}
}

func TestPeerStateSelectFallsBackToRelayedOnlyAfterDCUtRFailure(t *testing.T) {
	p := NewDialerPeerState()
	relayed := ConnectionID{3}
	lat := tenMillis
	p.Connections[relayed] = &ConnectionState{Latency: &lat, Relayed: true}

	if _, ok := p.Select(); ok {
		t.Fatal("should not select a relayed-only candidate before DCUtR is known to have failed")
	}

	p.DCUtRFailed = true
	got, ok := p.Select()
	if !ok || got != relayed {
		t.Errorf("Select after DCUtR failure: got %v, ok=%v, want relayed fallback", got, ok)
	}
}

func TestPeerStateReadyToChoose(t *testing.T) {
	p := NewDialerPeerState()
	if p.ReadyToChoose() {
		t.Error("empty PeerState should not be ready to choose")
	}

	id := ConnectionID{4}
	p.Connections[id] = &ConnectionState{}
	if p.ReadyToChoose() {
		t.Error("a candidate with no latency yet should not be ready to choose")
	}

	lat := tenMillis
	p.Connections[id].Latency = &lat
	if !p.ReadyToChoose() {
		t.Error("all candidates having a latency should be ready to choose")
	}
}
