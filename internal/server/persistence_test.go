package server

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"thegame-server/internal/game"
)

// setupTestDB starts a throwaway Postgres container with the schema applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("thegame"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := NewPersistenceManager(db).InitSchema(ctx); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return db
}

func sampleRecord() RoomRecord {
	return RoomRecord{
		Players: []PlayerRecord{
			{
				ID:     "11111111-1111-1111-1111-111111111111",
				Name:   "Alice",
				IsHost: true,
				Cards:  []int{10, 20, 30},
				TurnState: game.TurnState{
					Count: 1,
					Moves: []game.Move{{Value: 5, Position: game.Asc1, PreviousValue: 1}},
				},
				TotalCardsPlayed: 1,
				LastActivity:     time.Now().UnixMilli(),
			},
		},
		GameState: GameState{
			Deck:         []int{40, 50},
			Board:        game.NewBoard(),
			CurrentTurn:  "11111111-1111-1111-1111-111111111111",
			GameStarted:  true,
			InitialCards: 6,
		},
		History:      game.NewHistory(),
		LastActivity: time.Now().UnixMilli(),
	}
}

func TestPersistenceManager_SaveAndLoadRoom(t *testing.T) {
	db := setupTestDB(t)
	pm := NewPersistenceManager(db)
	ctx := context.Background()

	rec := sampleRecord()
	if err := pm.SaveRoom(ctx, "4321", rec); err != nil {
		t.Fatalf("SaveRoom failed: %v", err)
	}

	exists, err := pm.RoomExists(ctx, "4321")
	if err != nil || !exists {
		t.Fatalf("saved room should exist, got %v/%v", exists, err)
	}

	loaded, err := pm.LoadActiveRooms(ctx, 4*time.Hour)
	if err != nil {
		t.Fatalf("LoadActiveRooms failed: %v", err)
	}
	got, ok := loaded["4321"]
	if !ok {
		t.Fatal("saved room missing from recovery set")
	}
	if got.GameState.CurrentTurn != rec.GameState.CurrentTurn {
		t.Errorf("current turn %q, want %q", got.GameState.CurrentTurn, rec.GameState.CurrentTurn)
	}
	if len(got.Players) != 1 || got.Players[0].Name != "Alice" {
		t.Errorf("player roster did not round-trip: %+v", got.Players)
	}
	if got.Players[0].TurnState.Count != 1 {
		t.Errorf("turn state did not round-trip: %+v", got.Players[0].TurnState)
	}
}

func TestPersistenceManager_SaveRoomUpserts(t *testing.T) {
	db := setupTestDB(t)
	pm := NewPersistenceManager(db)
	ctx := context.Background()

	rec := sampleRecord()
	if err := pm.SaveRoom(ctx, "4321", rec); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	rec.GameState.CurrentTurn = "other"
	if err := pm.SaveRoom(ctx, "4321", rec); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	loaded, err := pm.LoadActiveRooms(ctx, time.Hour)
	if err != nil {
		t.Fatalf("LoadActiveRooms failed: %v", err)
	}
	if loaded["4321"].GameState.CurrentTurn != "other" {
		t.Error("second save should replace the first")
	}
}

func TestPersistenceManager_LoadActiveRoomsDropsCorruptRecords(t *testing.T) {
	db := setupTestDB(t)
	pm := NewPersistenceManager(db)
	ctx := context.Background()

	if err := pm.SaveRoom(ctx, "4321", sampleRecord()); err != nil {
		t.Fatalf("SaveRoom failed: %v", err)
	}
	// Valid JSON but the wrong shape for RoomRecord's history field.
	if _, err := db.ExecContext(ctx,
		`INSERT INTO game_states (room_id, game_data) VALUES ($1, $2)`,
		"6666", `{"history": "not-an-object"}`); err != nil {
		t.Fatalf("failed to insert corrupt record: %v", err)
	}

	loaded, err := pm.LoadActiveRooms(ctx, time.Hour)
	if err != nil {
		t.Fatalf("LoadActiveRooms failed: %v", err)
	}
	if _, ok := loaded["6666"]; ok {
		t.Error("corrupt record must not be recovered")
	}
	if _, ok := loaded["4321"]; !ok {
		t.Error("valid record should still be recovered")
	}

	exists, err := pm.RoomExists(ctx, "6666")
	if err != nil {
		t.Fatalf("RoomExists failed: %v", err)
	}
	if exists {
		t.Error("corrupt record should be deleted during recovery")
	}
}

func TestPersistenceManager_ConnectionLedger(t *testing.T) {
	db := setupTestDB(t)
	pm := NewPersistenceManager(db)
	ctx := context.Background()

	if err := pm.SaveRoom(ctx, "4321", sampleRecord()); err != nil {
		t.Fatalf("SaveRoom failed: %v", err)
	}

	playerID := "22222222-2222-2222-2222-222222222222"
	if err := pm.UpsertConnection(ctx, playerID, "4321"); err != nil {
		t.Fatalf("UpsertConnection failed: %v", err)
	}
	if err := pm.TouchConnection(ctx, playerID); err != nil {
		t.Fatalf("TouchConnection failed: %v", err)
	}
	if err := pm.MarkDisconnected(ctx, playerID); err != nil {
		t.Fatalf("MarkDisconnected failed: %v", err)
	}

	var status string
	if err := db.QueryRowContext(ctx,
		`SELECT connection_status FROM player_connections WHERE player_id = $1`,
		playerID).Scan(&status); err != nil {
		t.Fatalf("failed to read ledger: %v", err)
	}
	if status != "disconnected" {
		t.Errorf("status %q, want disconnected", status)
	}

	// Deleting the room cascades to its connections.
	if err := pm.DeleteRoom(ctx, "4321"); err != nil {
		t.Fatalf("DeleteRoom failed: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM player_connections WHERE player_id = $1`,
		playerID).Scan(&n); err != nil {
		t.Fatalf("failed to count ledger rows: %v", err)
	}
	if n != 0 {
		t.Error("connection rows should be removed with their room")
	}
}

func TestPersistenceManager_CleanupExpired(t *testing.T) {
	db := setupTestDB(t)
	pm := NewPersistenceManager(db)
	ctx := context.Background()

	if err := pm.SaveRoom(ctx, "4321", sampleRecord()); err != nil {
		t.Fatalf("SaveRoom failed: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`UPDATE game_states SET last_activity = NOW() - INTERVAL '5 hours' WHERE room_id = '4321'`); err != nil {
		t.Fatalf("failed to age record: %v", err)
	}

	deleted, err := pm.CleanupExpired(ctx, 4*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", deleted)
	}
}

// ============================================================================
// SAVE SCHEDULER
// ============================================================================
func TestSaveScheduler_CoalescesBursts(t *testing.T) {
	var calls atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	ss := NewSaveScheduler(30*time.Millisecond, func(roomID string) {
		if roomID == "1234" {
			calls.Add(1)
			wg.Done()
		}
	})

	for i := 0; i < 10; i++ {
		ss.Schedule("1234")
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("burst of schedules should produce one save, got %d", got)
	}
}

func TestSaveScheduler_CancelStopsPendingSave(t *testing.T) {
	var calls atomic.Int32
	ss := NewSaveScheduler(20*time.Millisecond, func(string) { calls.Add(1) })

	ss.Schedule("1234")
	if !ss.Cancel("1234") {
		t.Error("cancel should report a pending save")
	}
	time.Sleep(60 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("cancelled save must not fire, fired %d times", calls.Load())
	}
	if ss.Cancel("1234") {
		t.Error("second cancel should find nothing pending")
	}
}

func TestSaveScheduler_IndependentRooms(t *testing.T) {
	var mu sync.Mutex
	saved := make(map[string]int)
	var wg sync.WaitGroup
	wg.Add(2)

	ss := NewSaveScheduler(10*time.Millisecond, func(roomID string) {
		mu.Lock()
		saved[roomID]++
		mu.Unlock()
		wg.Done()
	})

	ss.Schedule("1111")
	ss.Schedule("2222")
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if saved["1111"] != 1 || saved["2222"] != 1 {
		t.Errorf("each room should save once, got %v", saved)
	}
}
