package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Server struct {
	cfg       Config
	startedAt time.Time

	registry    *RoomRegistry
	connections *ConnectionManager
	limiter     *RateLimiter
	store       RoomStore
	saves       *SaveScheduler

	db *sql.DB
}

func NewServer() (*Server, *http.Server, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pm := NewPersistenceManager(db)
	if err := pm.InitSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	srv := newServerWith(cfg, pm)
	srv.db = db

	if err := srv.recoverActiveRooms(ctx); err != nil {
		// Recovery failure is not fatal; start with an empty registry.
		log.Printf("room recovery failed: %v", err)
	}

	go srv.cleanupTask()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv, httpServer, nil
}

// newServerWith wires the server around an arbitrary store. Split out so
// tests can inject a fake without a database.
func newServerWith(cfg Config, store RoomStore) *Server {
	srv := &Server{
		cfg:         cfg,
		startedAt:   time.Now(),
		registry:    NewRoomRegistry(cfg.MaxPlayersPerRoom),
		connections: NewConnectionManager(),
		limiter:     NewRateLimiter(cfg.RateLimitMaxEvents, cfg.RateLimitWindow),
		store:       store,
	}
	srv.saves = NewSaveScheduler(cfg.SaveDebounce, srv.saveRoomByID)
	return srv
}

// recoverActiveRooms rebuilds the in-memory registry from records active
// within the room TTL. Everything older has expired.
func (s *Server) recoverActiveRooms(ctx context.Context) error {
	records, err := s.store.LoadActiveRooms(ctx, s.cfg.RoomTTL)
	if err != nil {
		return err
	}
	for roomID, rec := range records {
		s.registry.Restore(roomFromRecord(roomID, rec))
	}
	if len(records) > 0 {
		log.Printf("recovered %d rooms", len(records))
	}
	return nil
}

// saveRoomByID is the debounced save path. It runs on a timer goroutine, so
// it takes room.mu itself.
func (s *Server) saveRoomByID(roomID string) {
	room, ok := s.registry.Get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	rec := room.record()
	room.mu.Unlock()

	if err := s.store.SaveRoom(context.Background(), roomID, rec); err != nil {
		log.Printf("save failed for room %s: %v", roomID, err)
	}
}

// flushSave writes the room immediately, cancelling any pending debounce.
// Caller holds room.mu.
func (s *Server) flushSave(room *Room) {
	s.saves.Cancel(room.ID)
	if err := s.store.SaveRoom(context.Background(), room.ID, room.record()); err != nil {
		log.Printf("flush save failed for room %s: %v", room.ID, err)
	}
}

// cleanupTask periodically drops rooms idle past the TTL, both durable and
// in-memory, and trims stale rate-limiter windows.
func (s *Server) cleanupTask() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		for _, roomID := range s.registry.ExpiredRooms(s.cfg.RoomTTL) {
			s.saves.Cancel(roomID)
			s.registry.Remove(roomID)
		}

		deleted, err := s.store.CleanupExpired(context.Background(), s.cfg.RoomTTL)
		if err != nil {
			log.Printf("cleanup task failed: %v", err)
		} else if deleted > 0 {
			log.Printf("cleanup task: removed %d expired rooms", deleted)
		}

		s.limiter.Cleanup()
	}
}

// Shutdown saves every live room and closes the database.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.mu.RLock()
	rooms := make([]*Room, 0, len(s.registry.rooms))
	for _, room := range s.registry.rooms {
		rooms = append(rooms, room)
	}
	s.registry.mu.RUnlock()

	for _, room := range rooms {
		room.mu.Lock()
		s.flushSave(room)
		room.mu.Unlock()
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
