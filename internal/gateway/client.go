package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/soyeahso/flowbot/internal/domain"
	"github.com/soyeahso/flowbot/internal/logging"
)

const writeTimeout = 10 * time.Second

// Client is one WebSocket connection bound to a conversation session.
type Client struct {
	ConnID      string
	SessionID   string
	Socket      *websocket.Conn
	ConnectedAt time.Time

	limiter *rate.Limiter
	mu      sync.Mutex
	closed  bool
	log     *logging.Logger
}

// NewClient wraps an upgraded connection. A nil limiter admits every frame.
func NewClient(conn *websocket.Conn, sessionID string, limiter *rate.Limiter, log *logging.Logger) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	id := uuid.New().String()
	return &Client{
		ConnID:      id,
		SessionID:   sessionID,
		Socket:      conn,
		ConnectedAt: time.Now(),
		limiter:     limiter,
		log:         log.With("connId", id),
	}
}

// Send writes a response frame tagged with the session id. Thread-safe.
// Once the connection is closed it returns ErrClientClosed without writing.
func (c *Client) Send(resp domain.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}

	resp.SessionID = c.SessionID
	c.Socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Socket.WriteJSON(resp)
}

// ReadFrame reads the next data frame.
func (c *Client) ReadFrame() ([]byte, error) {
	_, msg, err := c.Socket.ReadMessage()
	return msg, err
}

// Allow reports whether another inbound frame fits the connection's rate.
func (c *Client) Allow() bool {
	return c.limiter.Allow()
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry tracks open connections so they can be closed on shutdown.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Debug().Str("connId", c.ConnID).Str("session", c.SessionID).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Debug().Str("connId", connID).Msg("client disconnected")
}

// Get returns a client by connection ID.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
