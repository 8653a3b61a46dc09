package channel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FeedEvent is pushed to dashboard clients after each processed message.
type FeedEvent struct {
	Type      string    `json:"type"` // "status" | "processed"
	Channel   string    `json:"channel,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Result    any       `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type FeedConfig struct {
	Path   string // default /api/feed
	Logger *slog.Logger
}

// Feed broadcasts processing events to connected WebSocket clients. It is
// read-only: anything clients send is discarded.
type Feed struct {
	path   string
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*feedClient
}

type feedClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewFeed(cfg FeedConfig) *Feed {
	if cfg.Path == "" {
		cfg.Path = "/api/feed"
	}
	return &Feed{
		path:   cfg.Path,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]*feedClient),
	}
}

func (f *Feed) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+f.path, f.handleUpgrade)
}

// Clients reports the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *Feed) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		f.logger.Warn("feed upgrade failed", "err", err)
		return
	}

	client := &feedClient{conn: conn}
	clientID := fmt.Sprintf("%s-%p", r.RemoteAddr, conn)
	f.mu.Lock()
	f.clients[clientID] = client
	f.mu.Unlock()
	f.logger.Debug("feed client connected", "client_id", clientID)

	client.send(FeedEvent{Type: "status", Timestamp: time.Now().UTC()})

	defer func() {
		f.mu.Lock()
		delete(f.clients, clientID)
		f.mu.Unlock()
		conn.Close()
		f.logger.Debug("feed client disconnected", "client_id", clientID)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Warn("feed read error", "err", err)
			}
			return
		}
	}
}

// Broadcast sends ev to every connected client.
func (f *Feed) Broadcast(ev FeedEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("feed marshal failed", "err", err)
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, c := range f.clients {
		if err := c.write(data); err != nil {
			f.logger.Debug("feed write failed", "client_id", id, "err", err)
		}
	}
}

// Close disconnects every client.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.clients {
		c.conn.Close()
		delete(f.clients, id)
	}
}

func (c *feedClient) send(ev FeedEvent) {
	data, _ := json.Marshal(ev)
	c.write(data)
}

func (c *feedClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
