package server

import (
	"context"
	"testing"
	"time"

	"thegame-server/internal/game"
)

func TestRecoverActiveRooms(t *testing.T) {
	store := newMemStore()
	store.rooms["4321"] = RoomRecord{
		Players: []PlayerRecord{
			{ID: "host-id", Name: "Alice", IsHost: true, Cards: []int{10, 20}},
			{ID: "bob-id", Name: "Bob", Cards: []int{30}},
		},
		GameState: GameState{
			Deck:         []int{40, 50},
			Board:        game.NewBoard(),
			CurrentTurn:  "host-id",
			GameStarted:  true,
			InitialCards: 6,
		},
		History:      game.NewHistory(),
		LastActivity: time.Now().UnixMilli(),
	}

	s := newServerWith(testConfig(), store)
	if err := s.recoverActiveRooms(context.Background()); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}

	room, ok := s.registry.Get("4321")
	if !ok {
		t.Fatal("room should be back in the registry")
	}
	if room.State.CurrentTurn != "host-id" || !room.State.GameStarted {
		t.Errorf("game state did not survive recovery: %+v", room.State)
	}
	if len(room.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(room.Players))
	}
	for _, p := range room.Players {
		if p.Connected() {
			t.Errorf("recovered player %s must start disconnected", p.Name)
		}
	}

	if room.History == nil || len(room.History.Column(game.Asc1)) == 0 {
		t.Error("history should be present after recovery")
	}
}

func TestDebouncedSaveWritesRoomState(t *testing.T) {
	s, store := newTestServer()
	room, players, _ := setupRoom(s, "Alice")
	fixedGame(room, []int{70}, []int{10, 20})

	sendMsg(s, room, players[0], map[string]any{
		"type": "play_card", "cardValue": 10, "position": "asc1",
	})

	// The play itself only schedules; the write lands after the debounce.
	deadline := time.After(time.Second)
	for {
		store.mu.Lock()
		rec, ok := store.rooms[room.ID]
		store.mu.Unlock()
		if ok && rec.GameState.Board.Top(game.Asc1) == 10 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("debounced save never landed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestShutdownFlushesRooms(t *testing.T) {
	s, store := newTestServer()
	room, _, _ := setupRoom(s, "Alice", "Bob")
	fixedGame(room, []int{70}, []int{10}, []int{5})

	before := store.saves()
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if store.saves() <= before {
		t.Error("shutdown should flush every live room")
	}

	store.mu.Lock()
	rec, ok := store.rooms[room.ID]
	store.mu.Unlock()
	if !ok || !rec.GameState.GameStarted {
		t.Error("flushed record should carry the latest state")
	}
}
