package services

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// wsClient serialises writes: a websocket connection allows one writer.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// WSConnManager - открытые WebSocket соединения по пользователям.
type WSConnManager struct {
	mu    sync.RWMutex
	users map[int64][]*wsClient
}

func NewWSConnManager() *WSConnManager {
	return &WSConnManager{
		users: make(map[int64][]*wsClient),
	}
}

func (m *WSConnManager) Add(userID int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = append(m.users[userID], &wsClient{conn: conn})
}

func (m *WSConnManager) Remove(userID int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clients := m.users[userID]
	for i, c := range clients {
		if c.conn == conn {
			m.users[userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(m.users[userID]) == 0 {
		delete(m.users, userID)
	}
}

// Send writes message to every connection of userID and returns how many
// writes succeeded.
func (m *WSConnManager) Send(userID int64, message []byte) int {
	m.mu.RLock()
	clients := append([]*wsClient(nil), m.users[userID]...)
	m.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if err := c.write(message); err == nil {
			sent++
		}
	}
	return sent
}

func (m *WSConnManager) Connections(userID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}
