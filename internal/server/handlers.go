package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"thegame-server/internal/game"
)

const defaultInitialCards = 6

// dispatch routes one parsed client frame to its handler. Caller holds
// room.mu for the whole call, so handlers mutate room state freely.
func (s *Server) dispatch(room *Room, player *Player, msgType string, raw []byte) {
	switch msgType {
	case "start_game":
		s.handleStartGame(room, player, raw)
	case "play_card":
		s.handlePlayCard(room, player, raw)
	case "end_turn":
		s.handleEndTurn(room, player)
	case "undo_move":
		s.handleUndoMove(room, player, raw)
	case "self_blocked":
		s.handleSelfBlocked(room, player, raw)
	case "reset_room":
		s.handleResetRoom(room, player)
	case "update_player":
		s.handleUpdatePlayer(room, player, raw)
	case "get_game_state":
		s.sendGameState(room, player)
	case "get_full_state":
		s.handleGetFullState(room, player)
	case "get_player_state":
		s.handleGetPlayerState(room, player)
	case "deck_empty":
		s.handleDeckEmptyNotice(room, player)
	case "ping":
		s.handlePing(room, player)
	default:
		s.sendTo(player, errNotification(
			fmt.Sprintf("Unknown message type %q", msgType), "UNKNOWN_MESSAGE_TYPE"))
	}
}

func (s *Server) sendTo(player *Player, ev Event) {
	if err := sendEvent(context.Background(), player.conn, ev, s.cfg.WSWriteTimeout); err != nil {
		log.Printf("send to %s failed: %v", player.ID, err)
	}
}

// ============================================================================
// GAME START
// ============================================================================
func (s *Server) handleStartGame(room *Room, player *Player, raw []byte) {
	if !player.IsHost {
		s.sendTo(player, errNotification("Only the host can start the game", "NOT_HOST"))
		return
	}
	if room.State.GameStarted {
		s.sendTo(player, errNotification("Game already started", "GAME_ALREADY_STARTED"))
		return
	}

	var payload StartGamePayload
	if err := decodePayload(raw, &payload); err != nil {
		s.sendTo(player, errNotification("Malformed start_game payload", "INVALID_JSON"))
		return
	}

	initialCards := defaultInitialCards
	if payload.InitialCards != nil && *payload.InitialCards >= 1 && *payload.InitialCards <= 10 {
		initialCards = *payload.InitialCards
	}

	room.State.InitialCards = initialCards
	for _, p := range room.Players {
		p.Cards = nil
		p.Turn.Reset()
		for i := 0; i < initialCards; i++ {
			card, ok := room.State.DrawCard()
			if !ok {
				break
			}
			p.Cards = append(p.Cards, card)
		}
	}
	room.State.GameStarted = true
	room.State.CurrentTurn = room.Players[0].ID
	room.touch()

	s.flushSave(room)

	s.broadcastToRoom(room, &GameStarted{
		EventMeta: EventMeta{Type: "game_started"},
		State: GameStartedState{
			Board:         room.State.Board,
			CurrentTurn:   room.State.CurrentTurn,
			RemainingDeck: len(room.State.Deck),
			InitialCards:  initialCards,
			Players:       room.playerInfos(),
		},
	}, broadcastOpts{})

	for _, p := range room.Players {
		if p.conn == nil {
			continue
		}
		s.sendTo(p, &YourCards{
			EventMeta:  EventMeta{Type: "your_cards"},
			Cards:      p.Cards,
			PlayerName: p.Name,
			PlayerID:   p.ID,
		})
	}
}

// ============================================================================
// PLAY CARD
// ============================================================================
func (s *Server) handlePlayCard(room *Room, player *Player, raw []byte) {
	if !s.requireActiveTurn(room, player) {
		return
	}

	var payload PlayCardPayload
	if err := decodePayload(raw, &payload); err != nil {
		s.sendTo(player, errNotification("Malformed play_card payload", "INVALID_JSON"))
		return
	}
	if payload.CardValue == nil || payload.Position == nil {
		s.sendTo(player, errNotification("cardValue and position are required", "MISSING_REQUIRED_FIELDS"))
		return
	}
	if payload.RoomID != nil && *payload.RoomID != room.ID {
		s.sendTo(player, errNotification("Message addressed to a different room", "INVALID_ROOM"))
		return
	}

	pos, ok := game.ParsePosition(*payload.Position)
	if !ok {
		s.sendTo(player, errNotification(
			fmt.Sprintf("Unknown position %q", *payload.Position), "INVALID_POSITION"))
		return
	}

	cardValue := *payload.CardValue
	check := game.CheckMove(cardValue, pos, room.State.Board)
	if !check.Valid {
		s.sendTo(player, errNotification(
			fmt.Sprintf("Card %d cannot be played on %s (top card %d)", cardValue, pos, check.TargetValue),
			"INVALID_MOVE"))
		return
	}
	if !player.RemoveCard(cardValue) {
		s.sendTo(player, errNotification(
			fmt.Sprintf("Card %d is not in your hand", cardValue), "CARD_NOT_IN_HAND"))
		return
	}

	room.State.Board.Set(pos, cardValue)
	player.Turn.Push(game.Move{
		Value:         cardValue,
		Position:      pos,
		PreviousValue: check.TargetValue,
	})
	player.TotalCardsPlayed++
	room.touch()

	if room.History.Record(pos, cardValue) {
		s.broadcastToRoom(room, &ColumnHistoryUpdate{
			EventMeta: EventMeta{Type: "column_history_update"},
			Column:    pos,
			History:   room.History.Column(pos),
		}, broadcastOpts{})
	}

	s.broadcastToRoom(room, &CardPlayed{
		EventMeta:           EventMeta{Type: "card_played_animated"},
		PlayerID:            player.ID,
		PlayerName:          player.Name,
		CardValue:           cardValue,
		Position:            pos,
		PreviousValue:       check.TargetValue,
		CardsPlayedThisTurn: player.Turn.Count,
		RemainingDeck:       len(room.State.Deck),
		DeckEmpty:           len(room.State.Deck) == 0,
	}, broadcastOpts{IncludeState: true})

	s.saves.Schedule(room.ID)

	// A player who has not yet met the minimum and holds no playable card
	// has wedged the game single-handedly. An emptied hand counts: with the
	// draw pile non-empty, end_turn would still demand a second card.
	min := game.MinCardsRequired(len(room.State.Deck))
	if player.Turn.Count < min &&
		len(game.PlayableCards(player.Cards, room.State.Board)) == 0 {
		s.endGame(room, "lose", "self_blocked",
			fmt.Sprintf("%s cannot reach the minimum of %d cards", player.Name, min))
		return
	}

	s.checkGameStatus(room)
}

// ============================================================================
// END TURN
// ============================================================================
func (s *Server) handleEndTurn(room *Room, player *Player) {
	if !s.requireActiveTurn(room, player) {
		return
	}

	min := game.MinCardsRequired(len(room.State.Deck))
	if player.Turn.Count < min {
		s.sendTo(player, errNotification(
			fmt.Sprintf("You must play at least %d card(s) before ending your turn", min),
			"MIN_CARDS_NOT_MET"))
		return
	}

	deckHadCards := len(room.State.Deck) > 0
	for len(room.State.Deck) > 0 && len(player.Cards) < room.State.InitialCards {
		card, _ := room.State.DrawCard()
		player.Cards = append(player.Cards, card)
	}
	if deckHadCards && len(room.State.Deck) == 0 {
		s.broadcastToRoom(room, &DeckEmpty{
			EventMeta: EventMeta{Type: "deck_empty"},
			RoomID:    room.ID,
		}, broadcastOpts{})
	}

	next, skipped := s.advanceTurn(room, player)
	player.Turn.Reset()
	room.State.CurrentTurn = next.ID
	room.touch()

	s.flushSave(room)

	// The incoming player loses the game for everyone if the deck still has
	// cards but their hand cannot produce the required minimum. Resolved
	// before any turn_changed goes out so nobody is invited into a dead turn.
	nextMin := game.MinCardsRequired(len(room.State.Deck))
	if len(room.State.Deck) > 0 &&
		len(game.PlayableCards(next.Cards, room.State.Board)) < nextMin {
		s.endGame(room, "lose", "min_cards_not_met",
			fmt.Sprintf("%s cannot play the required %d cards", next.Name, nextMin))
		return
	}

	s.broadcastToRoom(room, &TurnChanged{
		EventMeta:           EventMeta{Type: "turn_changed"},
		NewTurn:             next.ID,
		PreviousPlayer:      player.ID,
		PlayerName:          next.Name,
		CardsPlayedThisTurn: next.Turn.Count,
		MinCardsRequired:    nextMin,
		RemainingDeck:       len(room.State.Deck),
		DeckEmpty:           len(room.State.Deck) == 0,
		SkippedPlayers:      skipped,
	}, broadcastOpts{IncludeState: true})

	s.checkGameStatus(room)
}

// advanceTurn walks one lap from the current player, skipping players who
// are disconnected or, once the deck is empty, have nothing playable. When
// everyone is skippable the turn stays put. Returns the chosen player and
// how many eligible seats were passed over.
func (s *Server) advanceTurn(room *Room, current *Player) (*Player, int) {
	idx := 0
	for i, p := range room.Players {
		if p.ID == current.ID {
			idx = i
			break
		}
	}

	deckEmpty := len(room.State.Deck) == 0
	skipped := 0
	for step := 1; step <= len(room.Players); step++ {
		candidate := room.Players[(idx+step)%len(room.Players)]
		if candidate.ID != current.ID && !candidate.Connected() {
			skipped++
			continue
		}
		if deckEmpty && len(game.PlayableCards(candidate.Cards, room.State.Board)) == 0 && len(candidate.Cards) > 0 {
			skipped++
			continue
		}
		return candidate, skipped
	}
	return current, skipped
}

// ============================================================================
// UNDO
// ============================================================================
func (s *Server) handleUndoMove(room *Room, player *Player, raw []byte) {
	if !s.requireActiveTurn(room, player) {
		return
	}

	var payload UndoMovePayload
	if err := decodePayload(raw, &payload); err != nil {
		s.sendTo(player, errNotification("Malformed undo_move payload", "INVALID_JSON"))
		return
	}
	if payload.CardValue == nil || payload.Position == nil {
		s.sendTo(player, errNotification("cardValue and position are required", "MISSING_REQUIRED_FIELDS"))
		return
	}

	pos, ok := game.ParsePosition(*payload.Position)
	if !ok {
		s.sendTo(player, errNotification(
			fmt.Sprintf("Unknown position %q", *payload.Position), "INVALID_POSITION"))
		return
	}

	move, ok := player.Turn.Undo(*payload.CardValue, pos)
	if !ok {
		s.sendTo(player, errNotification("No matching move to undo this turn", "NO_SUCH_MOVE"))
		return
	}

	room.State.Board.Set(pos, move.PreviousValue)
	player.Cards = append(player.Cards, move.Value)
	player.TotalCardsPlayed--
	room.touch()

	s.broadcastToRoom(room, &MoveUndone{
		EventMeta:     EventMeta{Type: "move_undone"},
		PlayerID:      player.ID,
		PlayerName:    player.Name,
		CardValue:     move.Value,
		Position:      pos,
		PreviousValue: move.PreviousValue,
	}, broadcastOpts{IncludeState: true})

	s.saves.Schedule(room.ID)
}

// ============================================================================
// GAME END
// ============================================================================
// checkGameStatus evaluates the standing win and loss conditions after a
// mutation. Caller holds room.mu.
func (s *Server) checkGameStatus(room *Room) {
	if room.State.GameOver || !room.State.GameStarted {
		return
	}

	remaining := room.totalCardsInHands()
	deckEmpty := len(room.State.Deck) == 0

	if deckEmpty && remaining == 0 {
		s.endGame(room, "win", "all_cards_played", "All cards played. Perfect game!")
		return
	}

	if deckEmpty && remaining > 0 && !game.AnyPlayable(room.hands(), room.State.Board) {
		total := remaining
		if total <= 10 {
			s.endGame(room, "win", "low_remaining_cards",
				fmt.Sprintf("No moves left with only %d card(s) remaining. Well played!", total))
		} else {
			s.endGame(room, "lose", "too_many_remaining_cards",
				fmt.Sprintf("No moves left with %d cards remaining", total))
		}
	}
}

// endGame freezes the room and announces the result. Caller holds room.mu.
func (s *Server) endGame(room *Room, result, reason, message string) {
	room.State.GameOver = true
	room.touch()
	s.flushSave(room)

	s.broadcastToRoom(room, &GameOver{
		EventMeta: EventMeta{Type: "game_over"},
		Result:    result,
		Message:   message,
		Reason:    reason,
	}, broadcastOpts{})
}

// handleSelfBlocked lets the current player concede when they cannot meet
// the minimum. The client sends the reason it detected.
func (s *Server) handleSelfBlocked(room *Room, player *Player, raw []byte) {
	if !s.requireActiveTurn(room, player) {
		return
	}

	var payload SelfBlockedPayload
	if err := decodePayload(raw, &payload); err != nil {
		s.sendTo(player, errNotification("Malformed self_blocked payload", "INVALID_JSON"))
		return
	}

	reason := payload.Reason
	if reason != "self_blocked" && reason != "min_cards_not_met" {
		reason = "self_blocked"
	}

	min := game.MinCardsRequired(len(room.State.Deck))
	s.endGame(room, "lose", reason,
		fmt.Sprintf("%s cannot play the required %d card(s)", player.Name, min))
}

// ============================================================================
// ROOM MANAGEMENT
// ============================================================================
func (s *Server) handleResetRoom(room *Room, player *Player) {
	if !player.IsHost {
		s.sendTo(player, errNotification("Only the host can reset the room", "NOT_HOST"))
		return
	}

	room.State = &GameState{
		Deck:         game.NewDeck(),
		Board:        game.NewBoard(),
		CurrentTurn:  room.Players[0].ID,
		InitialCards: room.State.InitialCards,
	}
	room.History = game.NewHistory()
	for _, p := range room.Players {
		p.Cards = nil
		p.Turn.Reset()
		p.TotalCardsPlayed = 0
	}
	room.touch()

	s.flushSave(room)

	s.broadcastToRoom(room, &RoomReset{
		EventMeta: EventMeta{Type: "room_reset"},
		Message:   fmt.Sprintf("%s reset the room", player.Name),
	}, broadcastOpts{IncludeState: true})
}

func (s *Server) handleUpdatePlayer(room *Room, player *Player, raw []byte) {
	var payload UpdatePlayerPayload
	if err := decodePayload(raw, &payload); err != nil {
		s.sendTo(player, errNotification("Malformed update_player payload", "INVALID_JSON"))
		return
	}

	name, err := SanitizePlayerName(payload.Name)
	if err != nil {
		s.sendTo(player, errNotification("Invalid player name", "INVALID_PLAYER_NAME"))
		return
	}

	player.Name = name
	room.touch()

	s.broadcastToRoom(room, &PlayerUpdate{
		EventMeta: EventMeta{Type: "player_update"},
		Players:   room.playerInfos(),
	}, broadcastOpts{})

	s.saves.Schedule(room.ID)
}

// ============================================================================
// STATE QUERIES
// ============================================================================
func (s *Server) handleGetFullState(room *Room, player *Player) {
	min := game.MinCardsRequired(len(room.State.Deck))

	full := &FullStateUpdate{
		EventMeta: EventMeta{Type: "full_state_update"},
		Room: FullRoomState{
			GameStarted: room.State.GameStarted,
		},
		GameState: InitGameState{
			Board:         room.State.Board,
			CurrentTurn:   room.State.CurrentTurn,
			GameStarted:   room.State.GameStarted,
			InitialCards:  room.State.InitialCards,
			RemainingDeck: len(room.State.Deck),
			Players:       room.playerInfos(),
		},
		History: room.History,
		CurrentPlayerState: FullPlayerState{
			CardsPlayedThisTurn: player.Turn.Count,
			MinCardsRequired:    min,
		},
	}
	for _, p := range room.Players {
		info := FullPlayerInfo{
			ID:                  p.ID,
			Name:                p.Name,
			IsHost:              p.IsHost,
			CardsPlayedThisTurn: p.Turn.Count,
			MovesThisTurn:       p.Turn.Moves,
			TotalCardsPlayed:    p.TotalCardsPlayed,
			LastActivity:        p.LastActivity.UnixMilli(),
		}
		// Hands are private. Only the requester sees card values.
		if p.ID == player.ID {
			info.Cards = p.Cards
		}
		full.Room.Players = append(full.Room.Players, info)
	}

	s.sendTo(player, full)
}

func (s *Server) handleGetPlayerState(room *Room, player *Player) {
	s.sendTo(player, &PlayerStateUpdate{
		EventMeta:           EventMeta{Type: "player_state_update"},
		CardsPlayedThisTurn: player.Turn.Count,
		TotalCardsPlayed:    player.TotalCardsPlayed,
		MinCardsRequired:    game.MinCardsRequired(len(room.State.Deck)),
		CurrentTurn:         room.State.CurrentTurn,
		Players:             room.playerInfos(),
	})
}

// handleDeckEmptyNotice answers a client that believes the deck ran out.
// When the claim holds, everyone gets the lowered minimum; otherwise only
// the sender is corrected.
func (s *Server) handleDeckEmptyNotice(room *Room, player *Player) {
	update := &GameStateUpdate{
		EventMeta:        EventMeta{Type: "game_state_update"},
		RemainingDeck:    len(room.State.Deck),
		MinCardsRequired: game.MinCardsRequired(len(room.State.Deck)),
	}
	if len(room.State.Deck) == 0 {
		s.broadcastToRoom(room, update, broadcastOpts{})
		return
	}
	s.sendTo(player, update)
}

func (s *Server) handlePing(room *Room, player *Player) {
	player.LastActivity = time.Now()
	if err := s.store.TouchConnection(context.Background(), player.ID); err != nil {
		log.Printf("touch connection %s failed: %v", player.ID, err)
	}
	s.sendTo(player, &Pong{EventMeta: EventMeta{Type: "pong"}})
}

// requireActiveTurn gates the handlers that only the current player of a
// running, unfinished game may call.
func (s *Server) requireActiveTurn(room *Room, player *Player) bool {
	if !room.State.GameStarted {
		s.sendTo(player, errNotification("Game has not started", "GAME_NOT_STARTED"))
		return false
	}
	if room.State.GameOver {
		s.sendTo(player, errNotification("Game is over", "GAME_OVER"))
		return false
	}
	if room.State.CurrentTurn != player.ID {
		s.sendTo(player, errNotification("It is not your turn", "NOT_YOUR_TURN"))
		return false
	}
	return true
}
