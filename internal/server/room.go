package server

import (
	"sync"
	"time"

	"thegame-server/internal/game"
)

// GameState is the shared, non-per-player portion of a room's game.
type GameState struct {
	Deck         []int      `json:"deck"`
	Board        game.Board `json:"board"`
	CurrentTurn  string     `json:"currentTurn"`
	GameStarted  bool       `json:"gameStarted"`
	InitialCards int        `json:"initialCards"`
	GameOver     bool       `json:"gameOver,omitempty"`
}

func newGameState() *GameState {
	return &GameState{
		Deck:  game.NewDeck(),
		Board: game.NewBoard(),
	}
}

// DrawCard pops the top card. Returns false when the deck is exhausted.
func (gs *GameState) DrawCard() (int, bool) {
	if len(gs.Deck) == 0 {
		return 0, false
	}
	card := gs.Deck[len(gs.Deck)-1]
	gs.Deck = gs.Deck[:len(gs.Deck)-1]
	return card, true
}

type Player struct {
	ID               string
	Name             string
	IsHost           bool
	Cards            []int
	Turn             game.TurnState
	TotalCardsPlayed int
	LastActivity     time.Time

	conn *playerConn
}

// Connected reports whether the player has a live socket bound.
func (p *Player) Connected() bool {
	return p.conn != nil
}

// RemoveCard takes one copy of value out of the hand. Returns false if the
// player does not hold it.
func (p *Player) RemoveCard(value int) bool {
	for i, c := range p.Cards {
		if c == value {
			p.Cards = append(p.Cards[:i], p.Cards[i+1:]...)
			return true
		}
	}
	return false
}

// Room is one game session. All game-mutating work happens under mu; the
// registry only touches a room's identity fields without it.
type Room struct {
	ID           string
	Players      []*Player
	State        *GameState
	History      *game.History
	LastActivity time.Time

	mu sync.Mutex
}

func newRoom(id string) *Room {
	return &Room{
		ID:           id,
		State:        newGameState(),
		History:      game.NewHistory(),
		LastActivity: time.Now(),
	}
}

func (r *Room) playerByID(id string) *Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) currentPlayer() *Player {
	return r.playerByID(r.State.CurrentTurn)
}

func (r *Room) touch() {
	r.LastActivity = time.Now()
}

// hands collects every player's cards for board-wide playability checks.
func (r *Room) hands() [][]int {
	out := make([][]int, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, p.Cards)
	}
	return out
}

func (r *Room) totalCardsInHands() int {
	n := 0
	for _, p := range r.Players {
		n += len(p.Cards)
	}
	return n
}

// playerInfos builds the public roster sent in broadcasts.
func (r *Room) playerInfos() []PlayerInfo {
	infos := make([]PlayerInfo, 0, len(r.Players))
	for _, p := range r.Players {
		infos = append(infos, PlayerInfo{
			ID:                  p.ID,
			Name:                p.Name,
			IsHost:              p.IsHost,
			CardCount:           len(p.Cards),
			CardsPlayedThisTurn: p.Turn.Count,
			Connected:           p.Connected(),
		})
	}
	return infos
}

// ============================================================================
// DURABLE RECORD
// ============================================================================
// RoomRecord is the JSON document stored per room. Connection state is
// deliberately absent: sockets never survive a restart.
type RoomRecord struct {
	Players      []PlayerRecord `json:"players"`
	GameState    GameState      `json:"gameState"`
	History      *game.History  `json:"history"`
	LastActivity int64          `json:"lastActivity"`
}

type PlayerRecord struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	IsHost           bool           `json:"isHost"`
	Cards            []int          `json:"cards"`
	TurnState        game.TurnState `json:"turnState"`
	TotalCardsPlayed int            `json:"totalCardsPlayed"`
	LastActivity     int64          `json:"lastActivity"`
}

// record snapshots the room for persistence. Caller holds room.mu.
func (r *Room) record() RoomRecord {
	rec := RoomRecord{
		GameState:    *r.State,
		History:      r.History,
		LastActivity: r.LastActivity.UnixMilli(),
	}
	for _, p := range r.Players {
		rec.Players = append(rec.Players, PlayerRecord{
			ID:               p.ID,
			Name:             p.Name,
			IsHost:           p.IsHost,
			Cards:            p.Cards,
			TurnState:        p.Turn,
			TotalCardsPlayed: p.TotalCardsPlayed,
			LastActivity:     p.LastActivity.UnixMilli(),
		})
	}
	return rec
}

// roomFromRecord rebuilds a room after a restart. Every player comes back
// disconnected.
func roomFromRecord(id string, rec RoomRecord) *Room {
	state := rec.GameState
	history := rec.History
	if history == nil {
		history = game.NewHistory()
	}
	r := &Room{
		ID:           id,
		State:        &state,
		History:      history,
		LastActivity: time.UnixMilli(rec.LastActivity),
	}
	for _, pr := range rec.Players {
		r.Players = append(r.Players, &Player{
			ID:               pr.ID,
			Name:             pr.Name,
			IsHost:           pr.IsHost,
			Cards:            pr.Cards,
			Turn:             pr.TurnState,
			TotalCardsPlayed: pr.TotalCardsPlayed,
			LastActivity:     time.UnixMilli(pr.LastActivity),
		})
	}
	return r
}
