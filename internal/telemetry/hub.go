package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/robot-control/robotd/internal/command"
)

// Event types published by the robot.
const (
	EventReady              = "ready"
	EventHeartbeat          = "heartbeat"
	EventCommandScheduled   = string(command.EventScheduled)
	EventCommandInterrupted = string(command.EventInterrupted)
	EventCommandFinished    = string(command.EventFinished)
	EventCommandFault       = string(command.EventFault)
	EventVisionRejected     = "visionRejected"
	EventSensorFault        = "sensorFault"
	EventModeChanged        = "modeChanged"
	EventConfigReloaded     = "configReloaded"
)

// Event represents a telemetry event with SSE formatting.
type Event struct {
	ID   int64          `json:"id,omitempty"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Config sizes the replay buffer and the keep-alive cadence.
type Config struct {
	BufferSize int
	Heartbeat  time.Duration
}

// DefaultConfig returns a 50 event buffer and a 15 s heartbeat.
func DefaultConfig() Config {
	return Config{BufferSize: 50, Heartbeat: 15 * time.Second}
}

// Client represents an SSE client connection.
type Client struct {
	ID      string
	Writer  http.ResponseWriter
	Context context.Context
	Cancel  context.CancelFunc
	LastID  int64
	// Types filters the stream; empty means every type.
	Types  map[string]bool
	Events chan Event
	mu     sync.Mutex // Protect Writer access
}

func (c *Client) wants(eventType string) bool {
	return len(c.Types) == 0 || c.Types[eventType] || eventType == EventHeartbeat
}

// Hub manages SSE telemetry distribution.
//
// h.mu protects clients and the heartbeat ticker; the buffer has its own
// lock and is never replaced.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	nextID  atomic.Int64
	dropped atomic.Int64

	buffer *EventBuffer
	config Config

	// Snapshot, when set, supplies the state sent in each client's ready
	// event.
	Snapshot func() any

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// EventBuffer is a bounded buffer of the most recent events.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewHub creates a new telemetry hub with the specified configuration.
func NewHub(cfg Config) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultConfig().Heartbeat
	}
	return &Hub{
		clients: make(map[string]*Client),
		buffer:  NewEventBuffer(cfg.BufferSize),
		config:  cfg,
		done:    make(chan struct{}),
	}
}

// Subscribe streams events to w until ctx is done or the hub stops. The
// Last-Event-ID header replays buffered events after that ID; the types
// query parameter (comma separated) filters the stream.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	clientCtx, cancel := context.WithCancel(ctx)

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	var types map[string]bool
	if q := r.URL.Query().Get("types"); q != "" {
		types = make(map[string]bool)
		for _, t := range strings.Split(q, ",") {
			types[strings.TrimSpace(t)] = true
		}
	}

	client := &Client{
		ID:      uuid.NewString(),
		Writer:  w,
		Context: clientCtx,
		Cancel:  cancel,
		LastID:  lastEventID,
		Types:   types,
		Events:  make(chan Event, 100),
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		cancel()
		return fmt.Errorf("telemetry hub stopped")
	default:
	}
	h.clients[client.ID] = client
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()
	defer h.unregisterClient(client.ID)

	if err := h.sendReadyEvent(client); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastEventID > 0 {
		for _, event := range h.buffer.GetEventsAfter(lastEventID) {
			if !client.wants(event.Type) {
				continue
			}
			if err := h.sendEventToClient(client, event); err != nil {
				return fmt.Errorf("failed to replay events: %w", err)
			}
		}
	}

	h.handleClient(client)
	return nil
}

// Publish assigns the next ID, buffers the event and offers it to every
// client. A client whose queue is full misses the event.
func (h *Hub) Publish(event Event) {
	if event.ID == 0 {
		event.ID = h.nextID.Add(1)
	}
	if event.Type != EventHeartbeat {
		h.buffer.AddEvent(event)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.wants(event.Type) {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// CommandEvent publishes a scheduler lifecycle event.
func (h *Hub) CommandEvent(e command.Event) {
	data := map[string]any{
		"command":   e.Command,
		"runId":     e.RunID,
		"resources": e.Resources,
		"default":   e.Default,
		"atMs":      e.At.Milliseconds(),
	}
	if e.Kind != command.EventScheduled {
		data["runtimeMs"] = e.Runtime.Milliseconds()
	}
	if e.Err != nil {
		data["error"] = e.Err.Error()
	}
	h.Publish(Event{Type: string(e.Kind), Data: data})
}

// Dropped returns how many client deliveries were skipped because a client
// fell behind.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) sendReadyEvent(client *Client) error {
	data := map[string]any{}
	if h.Snapshot != nil {
		data["snapshot"] = h.Snapshot()
	}
	return h.sendEventToClient(client, Event{Type: EventReady, Data: data})
}

// sendEventToClient sends a single event to a client via SSE.
func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// handleClient delivers queued events until the client goes away.
func (h *Hub) handleClient(client *Client) {
	for {
		select {
		case <-client.Context.Done():
			return
		case <-h.done:
			return
		case event := <-client.Events:
			if err := h.sendEventToClient(client, event); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.clients[clientID]
	if !exists {
		return
	}
	client.Cancel()
	delete(h.clients, clientID)

	if len(h.clients) == 0 {
		h.stopHeartbeatLocked()
	}
}

// startHeartbeat starts the heartbeat ticker. Caller holds h.mu.
func (h *Hub) startHeartbeat() {
	h.heartbeatTicker = time.NewTicker(h.config.Heartbeat)
	h.stopHeartbeat = make(chan struct{})

	ticker := h.heartbeatTicker
	stop := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.Publish(Event{
					Type: EventHeartbeat,
					Data: map[string]any{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

func (h *Hub) stopHeartbeatLocked() {
	if h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
	}
	if h.stopHeartbeat != nil {
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

// Stop disconnects every client and stops the heartbeat. It is safe to
// call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		close(h.done)
		for _, client := range h.clients {
			client.Cancel()
		}
		h.stopHeartbeatLocked()
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// NewEventBuffer creates a new event buffer with the specified capacity.
func NewEventBuffer(capacity int) *EventBuffer {
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// AddEvent adds an event, evicting the oldest beyond capacity.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

// GetEventsAfter returns events after the specified ID.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}

// GetCapacity returns the buffer capacity.
func (b *EventBuffer) GetCapacity() int {
	return b.capacity
}

// GetSize returns the current buffer size.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
