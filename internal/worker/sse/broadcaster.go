// Package sse streams worker run events to connected clients as Server-Sent Events.
package sse

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Event types.
const (
	EventConnected    = "connected"
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// Event is one message on the stream.
type Event struct {
	Data any    `json:"data,omitempty"`
	Type string `json:"type"`
}

// Client is a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
	mu      sync.Mutex
}

// write sends one message unless the client was already removed.
func (c *Client) write(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.Done:
		return nil
	default:
	}
	if _, err := c.Writer.Write(message); err != nil {
		return err
	}
	c.Flusher.Flush()
	return nil
}

// Broadcaster fans events out to every connected client.
type Broadcaster struct {
	log     zerolog.Logger
	clients map[string]*Client
	nextID  int
	mu      sync.RWMutex
}

// NewBroadcaster creates an SSE broadcaster.
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
		log:     log.With().Str("component", "sse").Logger(),
	}
}

// AddClient registers a streaming response writer.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:      fmt.Sprintf("client-%d", b.nextID),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	b.log.Debug().Str("client_id", client.ID).Int("clients", count).Msg("SSE client connected")
	return client, nil
}

// RemoveClient unregisters a client. It is safe to call more than once.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	_, exists := b.clients[client.ID]
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	if !exists {
		return
	}
	client.mu.Lock()
	close(client.Done)
	client.mu.Unlock()
	b.log.Debug().Str("client_id", client.ID).Int("clients", count).Msg("SSE client disconnected")
}

// Broadcast sends an event to all clients and drops the ones that fail.
func (b *Broadcaster) Broadcast(eventType string, data any) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		b.log.Error().Err(err).Str("type", eventType).Msg("marshal SSE event")
		return
	}
	message := []byte(fmt.Sprintf("data: %s\n\n", payload))

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var dead []*Client
	for _, c := range clients {
		if err := c.write(message); err != nil {
			b.log.Debug().Err(err).Str("client_id", c.ID).Msg("SSE write failed, dropping client")
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		b.RemoveClient(c)
	}
}

// Close disconnects every client so their streams end.
func (b *Broadcaster) Close() {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.RemoveClient(c)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE serves one event stream until the client disconnects.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	hello, _ := json.Marshal(Event{Type: EventConnected, Data: map[string]string{"client_id": client.ID}})
	if err := client.write([]byte(fmt.Sprintf("data: %s\n\n", hello))); err != nil {
		return
	}

	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}
