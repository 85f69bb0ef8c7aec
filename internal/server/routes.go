package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("POST /create-room", s.createRoomHandler)
	mux.HandleFunc("POST /join-room", s.joinRoomHandler)
	mux.HandleFunc("GET /room-info/{roomId}", s.roomInfoHandler)
	mux.HandleFunc("GET /room-history/{roomId}", s.roomHistoryHandler)
	mux.HandleFunc("/ws", s.websocketHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		allowed[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

// ============================================================================
// REST ENDPOINTS
// ============================================================================
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"activeRooms": s.registry.ActiveCount(),
	})
}

type createRoomRequest struct {
	PlayerName string `json:"playerName"`
}

func (s *Server) createRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name, err := SanitizePlayerName(req.PlayerName)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid player name")
		return
	}

	roomID, err := GenerateRoomID(r.Context(), func(ctx context.Context, id string) (bool, error) {
		if _, ok := s.registry.Get(id); ok {
			return true, nil
		}
		return s.store.RoomExists(ctx, id)
	})
	if err != nil {
		log.Printf("room id generation failed: %v", err)
		writeJSONError(w, http.StatusServiceUnavailable, "no room ids available")
		return
	}

	room, host := s.registry.CreateRoom(roomID, name)

	room.mu.Lock()
	s.flushSave(room)
	room.mu.Unlock()

	if err := s.store.UpsertConnection(r.Context(), host.ID, roomID); err != nil {
		log.Printf("failed to record connection for %s: %v", host.ID, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"roomId":     roomID,
		"playerId":   host.ID,
		"playerName": host.Name,
	})
}

type joinRoomRequest struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
}

func (s *Server) joinRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !ValidateRoomID(req.RoomID) {
		writeJSONError(w, http.StatusBadRequest, "room id must be 4 digits")
		return
	}
	name, err := SanitizePlayerName(req.PlayerName)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid player name")
		return
	}

	room, player, err := s.registry.JoinRoom(req.RoomID, name)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		writeJSONError(w, http.StatusNotFound, "room not found")
		return
	case errors.Is(err, ErrRoomFull):
		writeJSONError(w, http.StatusConflict, "room is full")
		return
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, "failed to join room")
		return
	}

	room.mu.Lock()
	s.flushSave(room)
	s.broadcastToRoom(room, &PlayerJoined{
		EventMeta:  EventMeta{Type: "player_joined"},
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Players:    room.playerInfos(),
	}, broadcastOpts{ExcludePlayerID: player.ID})
	room.mu.Unlock()

	if err := s.store.UpsertConnection(r.Context(), player.ID, room.ID); err != nil {
		log.Printf("failed to record connection for %s: %v", player.ID, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"roomId":     room.ID,
		"playerId":   player.ID,
		"playerName": player.Name,
	})
}

func (s *Server) roomInfoHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	if !ValidateRoomID(roomID) {
		writeJSONError(w, http.StatusBadRequest, "room id must be 4 digits")
		return
	}

	room, ok := s.registry.Get(roomID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "room not found")
		return
	}

	room.mu.Lock()
	resp := map[string]any{
		"roomId":       room.ID,
		"players":      room.playerInfos(),
		"gameStarted":  room.State.GameStarted,
		"gameOver":     room.State.GameOver,
		"currentTurn":  room.State.CurrentTurn,
		"initialCards": room.State.InitialCards,
		"maxPlayers":   s.cfg.MaxPlayersPerRoom,
	}
	room.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) roomHistoryHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	if !ValidateRoomID(roomID) {
		writeJSONError(w, http.StatusBadRequest, "room id must be 4 digits")
		return
	}

	room, ok := s.registry.Get(roomID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "room not found")
		return
	}

	room.mu.Lock()
	resp := map[string]any{
		"roomId":  room.ID,
		"history": room.History,
	}
	room.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// WEBSOCKET
// ============================================================================
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	playerID := r.URL.Query().Get("playerId")

	if !ValidateRoomID(roomID) || playerID == "" {
		http.Error(w, "roomId and playerId are required", http.StatusBadRequest)
		return
	}

	room, player, err := s.registry.ResolvePlayer(roomID, playerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		log.Printf("websocket accept failed for %s: %v", playerID, err)
		return
	}
	socket.SetReadLimit(s.cfg.MaxPayloadBytes)
	defer socket.Close(websocket.StatusGoingAway, "server closing")

	ctx := r.Context()

	pc := s.connections.Bind(ctx, playerID, socket, s.cfg.WSWriteTimeout)

	if !s.attachConnection(room, player, pc, r.URL.Query().Get("playerName")) {
		// A newer handshake for this player won the race between Bind and
		// attach; that bind already closed this socket.
		return
	}
	go heartbeat(ctx, pc, s.cfg.HeartbeatInterval)

	if err := s.store.UpsertConnection(ctx, playerID, roomID); err != nil {
		log.Printf("failed to record connection for %s: %v", playerID, err)
	}

	defer s.teardownConnection(room, player, pc)

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Printf("read error for %s in room %s: %v", playerID, roomID, err)
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		if !s.limiter.Allow(playerID) {
			room.mu.Lock()
			s.sendTo(player, errNotification("Too many messages, slow down", "RATE_LIMIT_EXCEEDED"))
			room.mu.Unlock()
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			room.mu.Lock()
			s.sendTo(player, errNotification("Invalid JSON", "INVALID_JSON"))
			room.mu.Unlock()
			continue
		}

		room.mu.Lock()
		s.dispatch(room, player, msg.Type, data)
		room.mu.Unlock()
	}
}

// attachConnection installs pc as the player's live handle and announces
// them, all under the room lock. Two handshakes for one player can race
// between Bind and here; the attach only lands while pc is still the
// registered connection, so a socket superseded in that window is never
// installed over the winner. Returns false for the losing socket.
func (s *Server) attachConnection(room *Room, player *Player, pc *playerConn, rawName string) bool {
	room.mu.Lock()
	defer room.mu.Unlock()

	if s.connections.Get(player.ID) != pc {
		return false
	}

	player.conn = pc
	// An optional playerName query renames on connect.
	if rawName != "" {
		if name, err := SanitizePlayerName(rawName); err == nil {
			player.Name = name
		}
	}
	player.LastActivity = time.Now()
	room.touch()
	s.sendInitGame(room, player)
	s.broadcastToRoom(room, &PlayerUpdate{
		EventMeta: EventMeta{Type: "player_update"},
		Players:   room.playerInfos(),
	}, broadcastOpts{ExcludePlayerID: player.ID})
	return true
}

// sendInitGame gives a freshly connected player everything needed to render
// the room. Caller holds room.mu.
func (s *Server) sendInitGame(room *Room, player *Player) {
	init := &InitGame{
		EventMeta:  EventMeta{Type: "init_game"},
		PlayerID:   player.ID,
		PlayerName: player.Name,
		RoomID:     room.ID,
		IsHost:     player.IsHost,
		GameState: InitGameState{
			Board:         room.State.Board,
			CurrentTurn:   room.State.CurrentTurn,
			GameStarted:   room.State.GameStarted,
			InitialCards:  room.State.InitialCards,
			RemainingDeck: len(room.State.Deck),
			Players:       room.playerInfos(),
		},
		History:    room.History,
		IsYourTurn: room.State.CurrentTurn == player.ID,
	}
	if room.State.GameStarted {
		init.YourCards = player.Cards
		init.Players = room.playerInfos()
	}
	s.sendTo(player, init)
}

// teardownConnection runs when a socket's read loop exits. If the binding
// was superseded by a newer connection the player stays "connected" and
// nothing else happens.
func (s *Server) teardownConnection(room *Room, player *Player, pc *playerConn) {
	if !s.connections.Unbind(player.ID, pc) {
		return
	}
	s.limiter.Remove(player.ID)

	room.mu.Lock()
	if player.conn == pc {
		player.conn = nil
	}
	room.touch()
	s.flushSave(room)

	var newHost *Player
	if player.IsHost {
		newHost = transferHost(room, player)
	}

	s.broadcastToRoom(room, &PlayerUpdate{
		EventMeta: EventMeta{Type: "player_update"},
		Players:   room.playerInfos(),
	}, broadcastOpts{})
	if newHost != nil {
		s.broadcastToRoom(room, infoNotification(newHost.Name+" is now the host"), broadcastOpts{})
	}
	room.mu.Unlock()

	if err := s.store.MarkDisconnected(context.Background(), player.ID); err != nil {
		log.Printf("failed to mark %s disconnected: %v", player.ID, err)
	}
}
