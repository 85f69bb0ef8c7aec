package server

import "thegame-server/internal/game"

// EventMeta is embedded in every outbound frame. Broadcast fills Timestamp
// with the server clock so clients can order events from one room.
type EventMeta struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (m *EventMeta) stamp(ts int64) { m.Timestamp = ts }

// Event is any outbound frame that can carry a server timestamp.
type Event interface {
	stamp(ts int64)
}

// ============================================================================
// ERRORS / NOTIFICATIONS (notification)
// ============================================================================
type Notification struct {
	EventMeta
	Message   string `json:"message"`
	IsError   bool   `json:"isError"`
	ErrorCode string `json:"errorCode,omitempty"`
}

func errNotification(message, code string) *Notification {
	return &Notification{
		EventMeta: EventMeta{Type: "notification"},
		Message:   message,
		IsError:   true,
		ErrorCode: code,
	}
}

func infoNotification(message string) *Notification {
	return &Notification{
		EventMeta: EventMeta{Type: "notification"},
		Message:   message,
	}
}

// ============================================================================
// CONNECT (init_game)
// ============================================================================
type InitGame struct {
	EventMeta
	PlayerID   string        `json:"playerId"`
	PlayerName string        `json:"playerName"`
	RoomID     string        `json:"roomId"`
	IsHost     bool          `json:"isHost"`
	GameState  InitGameState `json:"gameState"`
	History    *game.History `json:"history"`
	IsYourTurn bool          `json:"isYourTurn"`
	YourCards  []int         `json:"yourCards,omitempty"`
	Players    []PlayerInfo  `json:"players,omitempty"`
}

type InitGameState struct {
	Board         game.Board   `json:"board"`
	CurrentTurn   string       `json:"currentTurn"`
	GameStarted   bool         `json:"gameStarted"`
	InitialCards  int          `json:"initialCards"`
	RemainingDeck int          `json:"remainingDeck"`
	Players       []PlayerInfo `json:"players"`
}

// PlayerInfo is the public roster entry: no hand contents, only the count.
type PlayerInfo struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	IsHost              bool   `json:"isHost"`
	CardCount           int    `json:"cardCount"`
	CardsPlayedThisTurn int    `json:"cardsPlayedThisTurn"`
	Connected           bool   `json:"connected"`
}

// ============================================================================
// STATE SNAPSHOT (gs)
// ============================================================================
// Compact keys: this frame is sent after nearly every mutation, once per
// recipient, so it stays small on the wire.
type GameStateFrame struct {
	EventMeta
	S Snapshot `json:"s"`
}

type Snapshot struct {
	B game.Board       `json:"b"` // board
	T string           `json:"t"` // current turn player id
	Y []int            `json:"y"` // your cards
	I int              `json:"i"` // initial cards target
	D int              `json:"d"` // remaining deck
	P []SnapshotPlayer `json:"p"`
}

type SnapshotPlayer struct {
	I  string `json:"i"`  // id
	N  string `json:"n"`  // name
	H  bool   `json:"h"`  // is host
	C  int    `json:"c"`  // hand size
	S  int    `json:"s"`  // cards played this turn
	PT int    `json:"pt"` // lifetime cards played
}

// ============================================================================
// GAME FLOW EVENTS
// ============================================================================
type GameStarted struct {
	EventMeta
	State GameStartedState `json:"state"`
}

type GameStartedState struct {
	Board         game.Board   `json:"board"`
	CurrentTurn   string       `json:"currentTurn"`
	RemainingDeck int          `json:"remainingDeck"`
	InitialCards  int          `json:"initialCards"`
	Players       []PlayerInfo `json:"players"`
}

type YourCards struct {
	EventMeta
	Cards      []int  `json:"cards"`
	PlayerName string `json:"playerName"`
	PlayerID   string `json:"currentPlayerId"`
}

type CardPlayed struct {
	EventMeta
	PlayerID            string        `json:"playerId"`
	PlayerName          string        `json:"playerName"`
	CardValue           int           `json:"cardValue"`
	Position            game.Position `json:"position"`
	PreviousValue       int           `json:"previousValue"`
	CardsPlayedThisTurn int           `json:"cardsPlayedThisTurn"`
	RemainingDeck       int           `json:"remainingDeck"`
	DeckEmpty           bool          `json:"deckEmpty"`
}

type TurnChanged struct {
	EventMeta
	NewTurn             string `json:"newTurn"`
	PreviousPlayer      string `json:"previousPlayer"`
	PlayerName          string `json:"playerName"`
	CardsPlayedThisTurn int    `json:"cardsPlayedThisTurn"`
	MinCardsRequired    int    `json:"minCardsRequired"`
	RemainingDeck       int    `json:"remainingDeck"`
	DeckEmpty           bool   `json:"deckEmpty"`
	SkippedPlayers      int    `json:"skippedPlayers"`
}

type MoveUndone struct {
	EventMeta
	PlayerID      string        `json:"playerId"`
	PlayerName    string        `json:"playerName"`
	CardValue     int           `json:"cardValue"`
	Position      game.Position `json:"position"`
	PreviousValue int           `json:"previousValue"`
}

type DeckEmpty struct {
	EventMeta
	RoomID string `json:"roomId"`
}

type ColumnHistoryUpdate struct {
	EventMeta
	Column  game.Position `json:"column"`
	History []int         `json:"history"`
}

type GameOver struct {
	EventMeta
	Result  string `json:"result"` // "win" or "lose"
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

type GameStateUpdate struct {
	EventMeta
	RemainingDeck    int `json:"remainingDeck"`
	MinCardsRequired int `json:"minCardsRequired"`
}

// ============================================================================
// ROOM / ROSTER EVENTS
// ============================================================================
type PlayerJoined struct {
	EventMeta
	PlayerID   string       `json:"playerId"`
	PlayerName string       `json:"playerName"`
	Players    []PlayerInfo `json:"players"`
}

type PlayerUpdate struct {
	EventMeta
	Players []PlayerInfo `json:"players"`
}

type RoomReset struct {
	EventMeta
	Message string `json:"message"`
}

type Pong struct {
	EventMeta
}

// ============================================================================
// PER-PLAYER STATE (player_state_update, full_state_update)
// ============================================================================
type PlayerStateUpdate struct {
	EventMeta
	CardsPlayedThisTurn int          `json:"cardsPlayedThisTurn"`
	TotalCardsPlayed    int          `json:"totalCardsPlayed"`
	MinCardsRequired    int          `json:"minCardsRequired"`
	CurrentTurn         string       `json:"currentTurn"`
	Players             []PlayerInfo `json:"players"`
}

type FullStateUpdate struct {
	EventMeta
	Room               FullRoomState   `json:"room"`
	GameState          InitGameState   `json:"gameState"`
	History            *game.History   `json:"history"`
	CurrentPlayerState FullPlayerState `json:"currentPlayerState"`
}

type FullRoomState struct {
	Players     []FullPlayerInfo `json:"players"`
	GameStarted bool             `json:"gameStarted"`
}

// FullPlayerInfo is only ever addressed to the player it describes; it is
// the one roster shape that includes hand contents.
type FullPlayerInfo struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	IsHost              bool        `json:"isHost"`
	Cards               []int       `json:"cards"`
	CardsPlayedThisTurn int         `json:"cardsPlayedThisTurn"`
	MovesThisTurn       []game.Move `json:"movesThisTurn"`
	TotalCardsPlayed    int         `json:"totalCardsPlayed"`
	LastActivity        int64       `json:"lastActivity"`
}

type FullPlayerState struct {
	CardsPlayedThisTurn int `json:"cardsPlayedThisTurn"`
	MinCardsRequired    int `json:"minCardsRequired"`
}
