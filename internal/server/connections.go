package server

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// wsConn is the slice of *websocket.Conn the server writes through. Tests
// substitute a recording fake.
type wsConn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	Ping(ctx context.Context) error
}

// playerConn pairs a socket with a per-binding id so a stale goroutine
// cannot unbind the connection that superseded it.
type playerConn struct {
	id   string
	sock wsConn

	writeMu sync.Mutex
}

// ConnectionManager tracks the single live socket per player id.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*playerConn // playerID -> live connection
	next  int
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*playerConn),
	}
}

// Bind registers sock as the player's live connection. Any previous socket
// for the same player is told it was superseded and then closed; the new
// connection wins.
func (cm *ConnectionManager) Bind(ctx context.Context, playerID string, sock wsConn, writeTimeout time.Duration) *playerConn {
	cm.mu.Lock()
	old := cm.conns[playerID]
	cm.next++
	pc := &playerConn{id: playerID + "#" + strconv.Itoa(cm.next), sock: sock}
	cm.conns[playerID] = pc
	cm.mu.Unlock()

	if old != nil {
		notice := infoNotification("Connection replaced by a newer session")
		_ = sendEvent(ctx, old, notice, writeTimeout)
		_ = old.sock.Close(websocket.StatusNormalClosure, "superseded")
	}
	return pc
}

// Unbind drops the binding, but only if pc is still the live one. Returns
// whether the player is now disconnected.
func (cm *ConnectionManager) Unbind(playerID string, pc *playerConn) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cur, ok := cm.conns[playerID]; ok && cur == pc {
		delete(cm.conns, playerID)
		return true
	}
	return false
}

func (cm *ConnectionManager) Get(playerID string) *playerConn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conns[playerID]
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// heartbeat pings the socket on a fixed interval and closes it when a ping
// fails, which unblocks the connection's read loop.
func heartbeat(ctx context.Context, pc *playerConn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval/2)
			err := pc.sock.Ping(pingCtx)
			cancel()
			if err != nil {
				_ = pc.sock.Close(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}
