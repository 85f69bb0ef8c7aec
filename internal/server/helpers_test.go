package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// memStore is an in-memory RoomStore so handler tests run without Postgres.
type memStore struct {
	mu        sync.Mutex
	rooms     map[string]RoomRecord
	saveCount int
	statuses  map[string]string // playerID -> connection status
}

func newMemStore() *memStore {
	return &memStore{
		rooms:    make(map[string]RoomRecord),
		statuses: make(map[string]string),
	}
}

func (m *memStore) SaveRoom(_ context.Context, roomID string, rec RoomRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[roomID] = rec
	m.saveCount++
	return nil
}

func (m *memStore) RoomExists(_ context.Context, roomID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[roomID]
	return ok, nil
}

func (m *memStore) LoadActiveRooms(_ context.Context, _ time.Duration) (map[string]RoomRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]RoomRecord, len(m.rooms))
	for id, rec := range m.rooms {
		out[id] = rec
	}
	return out, nil
}

func (m *memStore) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	return nil
}

func (m *memStore) CleanupExpired(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

func (m *memStore) UpsertConnection(_ context.Context, playerID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[playerID] = "connected"
	return nil
}

func (m *memStore) MarkDisconnected(_ context.Context, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[playerID] = "disconnected"
	return nil
}

func (m *memStore) TouchConnection(_ context.Context, _ string) error {
	return nil
}

func (m *memStore) saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCount
}

// fakeSock records outbound frames in place of a real websocket.
type fakeSock struct {
	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	closeCode websocket.StatusCode
}

func (f *fakeSock) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeSock) Close(code websocket.StatusCode, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	return nil
}

func (f *fakeSock) Ping(_ context.Context) error { return nil }

// framesOfType decodes every recorded frame with the given type field.
func (f *fakeSock) framesOfType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]any
	for _, raw := range f.frames {
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unparseable frame %s: %v", raw, err)
		}
		if frame["type"] == typ {
			out = append(out, frame)
		}
	}
	return out
}

func (f *fakeSock) lastOfType(t *testing.T, typ string) map[string]any {
	t.Helper()
	frames := f.framesOfType(t, typ)
	if len(frames) == 0 {
		t.Fatalf("no %q frame recorded", typ)
	}
	return frames[len(frames)-1]
}

func (f *fakeSock) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func testConfig() Config {
	return Config{
		Port:               "0",
		AllowedOrigins:     []string{"http://localhost:5173"},
		MaxPlayersPerRoom:  6,
		RateLimitWindow:    time.Second,
		RateLimitMaxEvents: 30,
		SaveDebounce:       20 * time.Millisecond,
		RoomTTL:            4 * time.Hour,
		HeartbeatInterval:  25 * time.Second,
		MaxPayloadBytes:    8192,
		WSWriteTimeout:     time.Second,
	}
}

func newTestServer() (*Server, *memStore) {
	store := newMemStore()
	return newServerWith(testConfig(), store), store
}

// setupRoom creates a room with the given players, all bound to fake
// sockets. The first name is the host.
func setupRoom(s *Server, names ...string) (*Room, []*Player, []*fakeSock) {
	room, host := s.registry.CreateRoom("1234", names[0])
	players := []*Player{host}
	for _, name := range names[1:] {
		_, p, _ := s.registry.JoinRoom(room.ID, name)
		players = append(players, p)
	}

	socks := make([]*fakeSock, len(players))
	for i, p := range players {
		socks[i] = &fakeSock{}
		p.conn = &playerConn{id: p.ID + "#1", sock: socks[i]}
	}
	return room, players, socks
}

// startGame deals and starts through the normal handler path.
func startGame(s *Server, room *Room, host *Player, initialCards int) {
	payload, _ := json.Marshal(map[string]any{"type": "start_game", "initialCards": initialCards})
	room.mu.Lock()
	s.dispatch(room, host, "start_game", payload)
	room.mu.Unlock()
}

// sendMsg runs one frame through dispatch the way the read loop would.
func sendMsg(s *Server, room *Room, p *Player, msg map[string]any) {
	raw, _ := json.Marshal(msg)
	room.mu.Lock()
	s.dispatch(room, p, msg["type"].(string), raw)
	room.mu.Unlock()
}
