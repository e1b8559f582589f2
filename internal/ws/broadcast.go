package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/chatstream/chatstream/internal/metrics"
	"github.com/chatstream/chatstream/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrTooManyConnections is returned by AddClient when the broadcaster is at
// its connection limit.
var ErrTooManyConnections = errors.New("too many websocket connections")

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

type client struct {
	id   string
	user protocol.User
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
	once sync.Once
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.logger.Debug("Stream client write failed",
				zap.String("connection_id", c.id),
				zap.Error(err),
			)
			c.b.RemoveClient(c)
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcaster fans events out to every connected stream client.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int
	logger   *zap.Logger
}

// NewBroadcaster creates a broadcaster. maxConns <= 0 means unlimited.
func NewBroadcaster(maxConns int, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		logger:   logger,
	}
}

// AddClient registers conn and starts its write pump. first, if non-nil, is
// queued before anything else.
func (b *Broadcaster) AddClient(conn *websocket.Conn, id string, user protocol.User, first []byte) (*client, error) {
	c := &client{
		id:   id,
		user: user,
		conn: conn,
		b:    b,
		send: make(chan []byte, sendBuffer),
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	count := len(b.clients)
	if first != nil {
		c.send <- first
	}
	b.mu.Unlock()

	metrics.ServerClientsConnected.Set(float64(count))
	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	count := len(b.clients)
	b.mu.Unlock()
	metrics.ServerClientsConnected.Set(float64(count))
}

// Broadcast sends ev to every client and returns how many accepted it.
func (b *Broadcaster) Broadcast(ev *protocol.Event) int {
	data, err := protocol.Encode(ev)
	if err != nil {
		b.logger.Error("Failed to encode broadcast", zap.Error(err))
		return 0
	}
	metrics.ServerBroadcastsTotal.WithLabelValues(string(ev.Type)).Inc()

	delivered := 0
	for _, c := range b.snapshot() {
		if b.sendTo(c, data) {
			delivered++
		}
	}
	return delivered
}

// HealthCheck sends every client a health.check carrying its own
// connection id.
func (b *Broadcaster) HealthCheck(now time.Time) {
	for _, c := range b.snapshot() {
		data, err := protocol.Encode(&protocol.Event{
			Type:         protocol.EventHealthCheck,
			ConnectionID: c.id,
			CreatedAt:    now,
		})
		if err != nil {
			continue
		}
		b.sendTo(c, data)
	}
}

func (b *Broadcaster) sendTo(c *client, data []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
	}
	// Client can't keep up, disconnect it.
	go func() {
		b.logger.Warn("Stream client too slow, disconnecting", zap.String("connection_id", c.id))
		b.RemoveClient(c)
	}()
	return false
}

// DropAll closes every client socket without a close frame. Clients see an
// abnormal closure.
func (b *Broadcaster) DropAll() int {
	clients := b.snapshot()
	for _, c := range clients {
		c.conn.UnderlyingConn().Close()
		b.RemoveClient(c)
	}
	return len(clients)
}

// CloseAll sends code to every client and disconnects it.
func (b *Broadcaster) CloseAll(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	for _, c := range b.snapshot() {
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) snapshot() []*client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	return clients
}
