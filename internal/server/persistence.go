package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// RoomStore is what the server needs from durable storage. Implemented by
// PersistenceManager over Postgres; tests use an in-memory fake.
type RoomStore interface {
	SaveRoom(ctx context.Context, roomID string, rec RoomRecord) error
	RoomExists(ctx context.Context, roomID string) (bool, error)
	LoadActiveRooms(ctx context.Context, window time.Duration) (map[string]RoomRecord, error)
	DeleteRoom(ctx context.Context, roomID string) error
	CleanupExpired(ctx context.Context, ttl time.Duration) (int, error)
	UpsertConnection(ctx context.Context, playerID, roomID string) error
	MarkDisconnected(ctx context.Context, playerID string) error
	TouchConnection(ctx context.Context, playerID string) error
}

// PersistenceManager stores room state and the connection ledger in Postgres.
type PersistenceManager struct {
	db *sql.DB
}

func NewPersistenceManager(db *sql.DB) *PersistenceManager {
	return &PersistenceManager{db: db}
}

// InitSchema creates the tables if they do not exist yet.
func (pm *PersistenceManager) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS game_states (
			room_id VARCHAR(4) PRIMARY KEY,
			game_data JSONB NOT NULL,
			last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS player_connections (
			player_id UUID PRIMARY KEY,
			room_id VARCHAR(4) NOT NULL REFERENCES game_states(room_id) ON DELETE CASCADE,
			last_ping TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			connection_status VARCHAR(16) NOT NULL DEFAULT 'connected'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_states_last_activity ON game_states(last_activity)`,
	}

	for _, stmt := range statements {
		if _, err := pm.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

// SaveRoom upserts the room's full JSON record.
func (pm *PersistenceManager) SaveRoom(ctx context.Context, roomID string, rec RoomRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize room %s: %w", roomID, err)
	}

	query := `
		INSERT INTO game_states (room_id, game_data, last_activity)
		VALUES ($1, $2, NOW())
		ON CONFLICT (room_id)
		DO UPDATE SET game_data = EXCLUDED.game_data, last_activity = NOW()
	`
	if _, err := pm.db.ExecContext(ctx, query, roomID, data); err != nil {
		return fmt.Errorf("failed to save room %s: %w", roomID, err)
	}
	return nil
}

func (pm *PersistenceManager) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM game_states WHERE room_id = $1)`
	if err := pm.db.QueryRowContext(ctx, query, roomID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check room %s: %w", roomID, err)
	}
	return exists, nil
}

// LoadActiveRooms returns records active within the window. Records that no
// longer parse are deleted rather than carried forward as poison rows.
func (pm *PersistenceManager) LoadActiveRooms(ctx context.Context, window time.Duration) (map[string]RoomRecord, error) {
	cutoff := time.Now().Add(-window)

	query := `SELECT room_id, game_data FROM game_states WHERE last_activity > $1`
	rows, err := pm.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rooms: %w", err)
	}
	defer rows.Close()

	records := make(map[string]RoomRecord)
	var corrupt []string
	for rows.Next() {
		var roomID string
		var data []byte
		if err := rows.Scan(&roomID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}

		var rec RoomRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Printf("dropping unparseable record for room %s: %v", roomID, err)
			corrupt = append(corrupt, roomID)
			continue
		}
		records[roomID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}

	for _, roomID := range corrupt {
		if err := pm.DeleteRoom(ctx, roomID); err != nil {
			log.Printf("failed to delete corrupt room %s: %v", roomID, err)
		}
	}

	return records, nil
}

func (pm *PersistenceManager) DeleteRoom(ctx context.Context, roomID string) error {
	if _, err := pm.db.ExecContext(ctx, `DELETE FROM game_states WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	return nil
}

// CleanupExpired removes rooms idle for longer than ttl. Connection rows go
// with them via the cascade.
func (pm *PersistenceManager) CleanupExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)

	result, err := pm.db.ExecContext(ctx, `DELETE FROM game_states WHERE last_activity < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired rooms: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check cleanup result: %w", err)
	}
	return int(n), nil
}

func (pm *PersistenceManager) UpsertConnection(ctx context.Context, playerID, roomID string) error {
	query := `
		INSERT INTO player_connections (player_id, room_id, last_ping, connection_status)
		VALUES ($1, $2, NOW(), 'connected')
		ON CONFLICT (player_id)
		DO UPDATE SET room_id = EXCLUDED.room_id, last_ping = NOW(), connection_status = 'connected'
	`
	if _, err := pm.db.ExecContext(ctx, query, playerID, roomID); err != nil {
		return fmt.Errorf("failed to upsert connection %s: %w", playerID, err)
	}
	return nil
}

func (pm *PersistenceManager) MarkDisconnected(ctx context.Context, playerID string) error {
	query := `UPDATE player_connections SET connection_status = 'disconnected' WHERE player_id = $1`
	if _, err := pm.db.ExecContext(ctx, query, playerID); err != nil {
		return fmt.Errorf("failed to mark %s disconnected: %w", playerID, err)
	}
	return nil
}

func (pm *PersistenceManager) TouchConnection(ctx context.Context, playerID string) error {
	query := `UPDATE player_connections SET last_ping = NOW() WHERE player_id = $1`
	if _, err := pm.db.ExecContext(ctx, query, playerID); err != nil {
		return fmt.Errorf("failed to touch connection %s: %w", playerID, err)
	}
	return nil
}

// ============================================================================
// DEBOUNCED SAVES
// ============================================================================
// SaveScheduler coalesces save requests per room: many mutations in a short
// burst produce one write. Flush-worthy moments (disconnect, game start,
// game over, turn end) bypass the delay.
type SaveScheduler struct {
	delay  time.Duration
	save   func(roomID string)
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewSaveScheduler(delay time.Duration, save func(roomID string)) *SaveScheduler {
	return &SaveScheduler{
		delay:  delay,
		save:   save,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms (or re-arms) the room's debounce timer.
func (ss *SaveScheduler) Schedule(roomID string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if t, ok := ss.timers[roomID]; ok {
		t.Reset(ss.delay)
		return
	}
	ss.timers[roomID] = time.AfterFunc(ss.delay, func() {
		ss.Cancel(roomID)
		ss.save(roomID)
	})
}

// Cancel disarms any pending save for the room. Returns true if one was
// pending.
func (ss *SaveScheduler) Cancel(roomID string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if t, ok := ss.timers[roomID]; ok {
		t.Stop()
		delete(ss.timers, roomID)
		return true
	}
	return false
}
