package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/coder/websocket"
)

// sendEvent stamps and writes one frame to a single connection. Writes to
// the same socket are serialized so a broadcast and a handler reply cannot
// interleave bytes.
func sendEvent(ctx context.Context, pc *playerConn, ev Event, timeout time.Duration) error {
	if pc == nil || pc.sock == nil {
		return nil
	}

	ev.stamp(time.Now().UnixMilli())
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	return pc.sock.Write(writeCtx, websocket.MessageText, data)
}

// broadcastOpts tunes one broadcast. IncludeState additionally sends each
// recipient a personalized compact snapshot after the event itself.
type broadcastOpts struct {
	IncludeState    bool
	ExcludePlayerID string
}

// broadcastToRoom fans an event out to every connected player in the room.
// Caller holds room.mu. A failed write only logs; the heartbeat loop will
// reap the dead socket.
func (s *Server) broadcastToRoom(room *Room, ev Event, opts broadcastOpts) {
	for _, p := range room.Players {
		if p.conn == nil || p.ID == opts.ExcludePlayerID {
			continue
		}
		if err := sendEvent(context.Background(), p.conn, ev, s.cfg.WSWriteTimeout); err != nil {
			log.Printf("broadcast to %s in room %s failed: %v", p.ID, room.ID, err)
			continue
		}
		if opts.IncludeState {
			s.sendGameState(room, p)
		}
	}
}

// sendGameState sends one player their personalized snapshot: everyone's
// public roster entry plus their own hand. Caller holds room.mu.
func (s *Server) sendGameState(room *Room, p *Player) {
	frame := &GameStateFrame{
		EventMeta: EventMeta{Type: "gs"},
		S:         buildSnapshot(room, p),
	}
	if err := sendEvent(context.Background(), p.conn, frame, s.cfg.WSWriteTimeout); err != nil {
		log.Printf("snapshot to %s in room %s failed: %v", p.ID, room.ID, err)
	}
}

func buildSnapshot(room *Room, viewer *Player) Snapshot {
	snap := Snapshot{
		B: room.State.Board,
		T: room.State.CurrentTurn,
		Y: viewer.Cards,
		I: room.State.InitialCards,
		D: len(room.State.Deck),
	}
	for _, p := range room.Players {
		snap.P = append(snap.P, SnapshotPlayer{
			I:  p.ID,
			N:  p.Name,
			H:  p.IsHost,
			C:  len(p.Cards),
			S:  p.Turn.Count,
			PT: p.TotalCardsPlayed,
		})
	}
	return snap
}
