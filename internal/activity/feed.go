// Package activity streams ingestion and registration events to connected
// admin clients over WebSocket.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kaonic/k1serial/internal/ingest"
	"github.com/rs/zerolog"
)

// EventType identifies what happened.
type EventType string

const (
	EventSerialsIngested      EventType = "serials.ingested"
	EventRegistrationApproved EventType = "registration.approved"
	EventRegistrationDenied   EventType = "registration.denied"
	EventRegistrationRevoked  EventType = "registration.revoked"
)

// Event is one entry of the feed.
type Event struct {
	ID      uuid.UUID      `json:"id"`
	Type    EventType      `json:"type"`
	Factory string         `json:"factory"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// Filter limits the events a client receives. Empty fields match everything.
type Filter struct {
	Factories []string    `json:"factories,omitempty"`
	Types     []EventType `json:"types,omitempty"`
}

// Matches reports whether ev passes the filter. Factories match case-insensitively.
func (f *Filter) Matches(ev *Event) bool {
	if f == nil {
		return true
	}
	if len(f.Factories) > 0 {
		found := false
		for _, name := range f.Factories {
			if strings.EqualFold(name, ev.Factory) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == ev.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Config holds configuration for the Feed.
type Config struct {
	// PingInterval is how often clients are pinged.
	PingInterval time.Duration
	// WriteTimeout bounds a single write to a client.
	WriteTimeout time.Duration
	// ReadTimeout is reset by every pong.
	ReadTimeout time.Duration
	// MaxMessageSize caps filter updates sent by clients.
	MaxMessageSize int64
	// SendBufferSize is the per-client queue; a full queue drops events.
	SendBufferSize int
	// Backlog is how many recent events a new client receives first.
	Backlog int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 4096,
		SendBufferSize: 256,
		Backlog:        50,
	}
}

type client struct {
	id     uuid.UUID
	conn   *websocket.Conn
	send   chan *Event
	feed   *Feed
	mu     sync.Mutex
	filter *Filter
}

func (c *client) matches(ev *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter.Matches(ev)
}

// Feed fans events out to connected clients.
type Feed struct {
	config   Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	clients map[uuid.UUID]*client
	recent  []*Event

	broadcast  chan *Event
	register   chan *client
	unregister chan *client

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFeed creates a new Feed. Call Start before publishing.
func NewFeed(cfg Config, logger zerolog.Logger) *Feed {
	return &Feed{
		config: cfg,
		logger: logger.With().Str("component", "activity_feed").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Access is decided by the admin bearer token, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now:        func() time.Time { return time.Now().UTC() },
		clients:    make(map[uuid.UUID]*client),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Start begins processing events and client management.
func (f *Feed) Start() {
	f.wg.Add(1)
	go f.run()
	f.logger.Info().Msg("activity feed started")
}

// Stop closes all client connections and stops the feed.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
		f.wg.Wait()
		f.logger.Info().Msg("activity feed stopped")
	})
}

func (f *Feed) run() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			f.closeAllClients()
			return
		case c := <-f.register:
			f.addClient(c)
		case c := <-f.unregister:
			f.removeClient(c)
		case ev := <-f.broadcast:
			f.broadcastEvent(ev)
		}
	}
}

func (f *Feed) addClient(c *client) {
	f.mu.Lock()
	f.clients[c.id] = c
	backlog := make([]*Event, len(f.recent))
	copy(backlog, f.recent)
	f.mu.Unlock()

	for _, ev := range backlog {
		if c.matches(ev) {
			select {
			case c.send <- ev:
			default:
			}
		}
	}
	f.logger.Debug().Str("client_id", c.id.String()).Int("backlog", len(backlog)).Msg("client connected")
}

func (f *Feed) removeClient(c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.clients[c.id]; !ok {
		return
	}
	delete(f.clients, c.id)
	close(c.send)
	f.logger.Debug().Str("client_id", c.id.String()).Msg("client disconnected")
}

func (f *Feed) closeAllClients() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.clients {
		close(c.send)
	}
	f.clients = make(map[uuid.UUID]*client)
}

func (f *Feed) broadcastEvent(ev *Event) {
	f.mu.Lock()
	f.recent = append(f.recent, ev)
	if over := len(f.recent) - f.config.Backlog; over > 0 {
		f.recent = append([]*Event(nil), f.recent[over:]...)
	}
	clients := make([]*client, 0, len(f.clients))
	for _, c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()

	for _, c := range clients {
		if !c.matches(ev) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			f.logger.Warn().Str("client_id", c.id.String()).Msg("client send buffer full, dropping event")
		}
	}
}

// Publish queues ev for every matching client.
func (f *Feed) Publish(ev *Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = f.now()
	}
	select {
	case f.broadcast <- ev:
	default:
		f.logger.Warn().Str("type", string(ev.Type)).Msg("broadcast buffer full, dropping event")
	}
}

// PublishIngested announces a committed ingestion.
func (f *Feed) PublishIngested(_ context.Context, ev ingest.Event) error {
	data := map[string]any{
		"accepted":     ev.Accepted,
		"added":        ev.Added,
		"skipped":      ev.Skipped,
		"payload_hash": ev.PayloadHash,
	}
	if ev.BatchID != "" {
		data["batch_id"] = ev.BatchID
	}
	if ev.ChunkIndex != nil {
		data["chunk_index"] = *ev.ChunkIndex
	}
	f.Publish(&Event{
		Type:    EventSerialsIngested,
		Factory: ev.Provenance,
		Message: fmt.Sprintf("%d serial numbers added", ev.Added),
		Data:    data,
		At:      ev.IngestedAt,
	})
	return nil
}

// RegistrationDecided announces an admin decision on a registration.
func (f *Feed) RegistrationDecided(_ context.Context, id int64, factory, decision, actor string) {
	var t EventType
	switch decision {
	case "approved":
		t = EventRegistrationApproved
	case "denied":
		t = EventRegistrationDenied
	default:
		t = EventRegistrationRevoked
	}
	msg := fmt.Sprintf("Registration %d %s", id, decision)
	if actor != "" {
		msg += " by " + actor
	}
	f.Publish(&Event{
		Type:    t,
		Factory: factory,
		Message: msg,
		Data:    map[string]any{"request_id": id, "actor": actor},
	})
}

// ClientCount returns the number of connected clients.
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// HandleWebSocket upgrades the request and streams events to it. The
// initial filter is read from the repeated "factory" and "type" query
// parameters; clients may replace it with a {"type":"filter"} message.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	filter := &Filter{Factories: r.URL.Query()["factory"]}
	for _, t := range r.URL.Query()["type"] {
		filter.Types = append(filter.Types, EventType(t))
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	c := &client{
		id:     uuid.New(),
		conn:   conn,
		send:   make(chan *Event, f.config.SendBufferSize),
		feed:   f,
		filter: filter,
	}

	select {
	case f.register <- c:
	case <-f.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.feed.unregister <- c:
		case <-c.feed.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.feed.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.feed.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.feed.config.ReadTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.feed.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		var update struct {
			Type   string `json:"type"`
			Filter Filter `json:"filter"`
		}
		if err := json.Unmarshal(message, &update); err == nil && update.Type == "filter" {
			c.mu.Lock()
			c.filter = &update.Filter
			c.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.feed.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.feed.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.feed.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
