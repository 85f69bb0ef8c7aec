package server

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRoomNotFound        = errors.New("ROOM_NOT_FOUND: room does not exist")
	ErrRoomFull            = errors.New("ROOM_FULL: room is at capacity")
	ErrPlayerNotRegistered = errors.New("PLAYER_NOT_REGISTERED: player does not belong to this room")
	ErrInvalidPlayerName   = errors.New("INVALID_PLAYER_NAME: name must be 2-24 letters, digits, spaces, _ or -")
)

var playerNamePattern = regexp.MustCompile(`^[\p{L}\p{N}_\- ]{2,24}$`)

// SanitizePlayerName trims and validates a display name.
func SanitizePlayerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !playerNamePattern.MatchString(name) {
		return "", ErrInvalidPlayerName
	}
	return name, nil
}

// RoomRegistry is the in-memory index of live rooms. Lock order is
// registry.mu before room.mu, never the reverse.
type RoomRegistry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	maxPlayers int
}

func NewRoomRegistry(maxPlayers int) *RoomRegistry {
	return &RoomRegistry{
		rooms:      make(map[string]*Room),
		maxPlayers: maxPlayers,
	}
}

// CreateRoom makes a room with hostName as its sole, host player.
func (rr *RoomRegistry) CreateRoom(roomID, hostName string) (*Room, *Player) {
	room := newRoom(roomID)
	host := &Player{
		ID:           uuid.NewString(),
		Name:         hostName,
		IsHost:       true,
		LastActivity: time.Now(),
	}
	room.Players = append(room.Players, host)

	rr.mu.Lock()
	rr.rooms[roomID] = room
	rr.mu.Unlock()

	return room, host
}

func (rr *RoomRegistry) Get(roomID string) (*Room, bool) {
	rr.mu.RLock()
	room, ok := rr.rooms[roomID]
	rr.mu.RUnlock()
	return room, ok
}

// JoinRoom adds a new player to an existing room.
func (rr *RoomRegistry) JoinRoom(roomID, playerName string) (*Room, *Player, error) {
	room, ok := rr.Get(roomID)
	if !ok {
		return nil, nil, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if len(room.Players) >= rr.maxPlayers {
		return nil, nil, ErrRoomFull
	}

	player := &Player{
		ID:           uuid.NewString(),
		Name:         playerName,
		LastActivity: time.Now(),
	}
	room.Players = append(room.Players, player)
	room.touch()

	return room, player, nil
}

// ResolvePlayer checks a (roomID, playerID) pair. This is the whole of the
// authentication model: the player id is the bearer credential.
func (rr *RoomRegistry) ResolvePlayer(roomID, playerID string) (*Room, *Player, error) {
	room, ok := rr.Get(roomID)
	if !ok {
		return nil, nil, ErrRoomNotFound
	}

	room.mu.Lock()
	player := room.playerByID(playerID)
	room.mu.Unlock()

	if player == nil {
		return nil, nil, ErrPlayerNotRegistered
	}
	return room, player, nil
}

// Restore re-registers a room rebuilt from its durable record.
func (rr *RoomRegistry) Restore(room *Room) {
	rr.mu.Lock()
	rr.rooms[room.ID] = room
	rr.mu.Unlock()
}

func (rr *RoomRegistry) Remove(roomID string) {
	rr.mu.Lock()
	delete(rr.rooms, roomID)
	rr.mu.Unlock()
}

func (rr *RoomRegistry) ActiveCount() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return len(rr.rooms)
}

// ExpiredRooms returns ids of rooms idle for longer than ttl.
func (rr *RoomRegistry) ExpiredRooms(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)

	rr.mu.RLock()
	rooms := make([]*Room, 0, len(rr.rooms))
	for _, room := range rr.rooms {
		rooms = append(rooms, room)
	}
	rr.mu.RUnlock()

	var expired []string
	for _, room := range rooms {
		room.mu.Lock()
		if room.LastActivity.Before(cutoff) {
			expired = append(expired, room.ID)
		}
		room.mu.Unlock()
	}
	return expired
}

// transferHost hands the host flag to the first connected non-host player.
// Caller holds room.mu. Returns the new host, or nil when nobody is
// connected to take it.
func transferHost(room *Room, leaving *Player) *Player {
	if !leaving.IsHost {
		return nil
	}
	for _, p := range room.Players {
		if p.ID != leaving.ID && p.Connected() {
			leaving.IsHost = false
			p.IsHost = true
			return p
		}
	}
	return nil
}
