package server

import (
	"errors"
	"testing"
	"time"
)

func TestRegistry_CreateAndJoin(t *testing.T) {
	rr := NewRoomRegistry(6)

	room, host := rr.CreateRoom("1234", "Alice")
	if !host.IsHost {
		t.Error("room creator should be host")
	}
	if got, ok := rr.Get("1234"); !ok || got != room {
		t.Error("created room should be retrievable")
	}

	_, player, err := rr.JoinRoom("1234", "Bob")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if player.IsHost {
		t.Error("joiner must not be host")
	}
	if len(room.Players) != 2 {
		t.Errorf("room should have 2 players, has %d", len(room.Players))
	}
	if player.ID == host.ID {
		t.Error("player ids must be unique")
	}
}

func TestRegistry_JoinErrors(t *testing.T) {
	rr := NewRoomRegistry(2)
	rr.CreateRoom("1234", "Alice")

	if _, _, err := rr.JoinRoom("9999", "Bob"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}

	if _, _, err := rr.JoinRoom("1234", "Bob"); err != nil {
		t.Fatalf("second seat should be free: %v", err)
	}
	if _, _, err := rr.JoinRoom("1234", "Carol"); !errors.Is(err, ErrRoomFull) {
		t.Errorf("expected ErrRoomFull, got %v", err)
	}
}

func TestRegistry_ResolvePlayer(t *testing.T) {
	rr := NewRoomRegistry(6)
	room, host := rr.CreateRoom("1234", "Alice")

	gotRoom, gotPlayer, err := rr.ResolvePlayer("1234", host.ID)
	if err != nil || gotRoom != room || gotPlayer != host {
		t.Fatalf("resolve failed: %v", err)
	}

	if _, _, err := rr.ResolvePlayer("1234", "stranger"); !errors.Is(err, ErrPlayerNotRegistered) {
		t.Errorf("expected ErrPlayerNotRegistered, got %v", err)
	}
	if _, _, err := rr.ResolvePlayer("0000", host.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistry_ExpiredRooms(t *testing.T) {
	rr := NewRoomRegistry(6)
	stale, _ := rr.CreateRoom("1111", "Alice")
	rr.CreateRoom("2222", "Bob")

	stale.LastActivity = time.Now().Add(-5 * time.Hour)

	expired := rr.ExpiredRooms(4 * time.Hour)
	if len(expired) != 1 || expired[0] != "1111" {
		t.Errorf("expected only room 1111 expired, got %v", expired)
	}

	rr.Remove("1111")
	if rr.ActiveCount() != 1 {
		t.Errorf("active count should be 1, got %d", rr.ActiveCount())
	}
}

func TestTransferHost(t *testing.T) {
	rr := NewRoomRegistry(6)
	room, host := rr.CreateRoom("1234", "Alice")
	_, bob, _ := rr.JoinRoom("1234", "Bob")
	_, carol, _ := rr.JoinRoom("1234", "Carol")

	// Only Carol is connected when Alice leaves.
	carol.conn = &playerConn{id: "c#1", sock: &fakeSock{}}

	newHost := transferHost(room, host)
	if newHost != carol {
		t.Fatalf("host should pass to the first connected player, got %v", newHost)
	}
	if host.IsHost || bob.IsHost || !carol.IsHost {
		t.Error("host flag should move to Carol only")
	}

	// Nobody else connected: host keeps the flag for when they return.
	carol.conn = nil
	if got := transferHost(room, carol); got != nil {
		t.Errorf("no transfer target expected, got %v", got)
	}
	if !carol.IsHost {
		t.Error("host flag must stay put when nobody can take it")
	}
}

func TestSanitizePlayerName(t *testing.T) {
	cases := []struct {
		in    string
		want  string
		valid bool
	}{
		{"Alice", "Alice", true},
		{"  Bob  ", "Bob", true},
		{"Jo-Anne_99", "Jo-Anne_99", true},
		{"Björk", "Björk", true},
		{"x", "", false},
		{"", "", false},
		{"<script>", "", false},
		{"waaaaaaaaaaaaaaaaaaaaaaaaay too long", "", false},
	}

	for _, tc := range cases {
		got, err := SanitizePlayerName(tc.in)
		if tc.valid && (err != nil || got != tc.want) {
			t.Errorf("SanitizePlayerName(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.valid && err == nil {
			t.Errorf("SanitizePlayerName(%q) should fail", tc.in)
		}
	}
}

func TestRoomRecordRoundTrip(t *testing.T) {
	rr := NewRoomRegistry(6)
	room, host := rr.CreateRoom("1234", "Alice")
	rr.JoinRoom("1234", "Bob")

	room.State.GameStarted = true
	room.State.CurrentTurn = host.ID
	host.Cards = []int{10, 20}
	host.TotalCardsPlayed = 3

	rec := room.record()
	restored := roomFromRecord("1234", rec)

	if restored.State.CurrentTurn != host.ID {
		t.Error("current turn should survive the round trip")
	}
	if len(restored.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(restored.Players))
	}
	if got := restored.playerByID(host.ID); got == nil || len(got.Cards) != 2 || got.TotalCardsPlayed != 3 {
		t.Errorf("host state did not round-trip: %+v", got)
	}
	for _, p := range restored.Players {
		if p.Connected() {
			t.Errorf("restored player %s must come back disconnected", p.Name)
		}
	}
}
