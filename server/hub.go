package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bosley/noties/pipeline"
)

const (
	EventStatus     = "status"
	EventTranscript = "transcript"
	EventSummary    = "summary"
	EventLevel      = "level"

	sendBuffer = 256
)

// Event is the websocket frame pushed to subscribers.
type Event struct {
	Type      string            `json:"type"`
	Text      string            `json:"text,omitempty"`
	Severity  pipeline.Severity `json:"severity"`
	Level     int               `json:"level"`
	Timestamp time.Time         `json:"timestamp"`
}

// Hub fans pipeline events out to websocket subscribers. A subscriber that
// falls behind misses frames rather than stalling the pipeline.
type Hub struct {
	subscribers map[uuid.UUID]*wsConnection
	mu          sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]*wsConnection),
	}
}

func (h *Hub) Add(c *wsConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[c.id] = c
}

// Remove unregisters a subscriber and closes its send channel.
func (h *Hub) Remove(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(c.send)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.subscribers {
		delete(h.subscribers, id)
		close(c.send)
	}
}

func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.subscribers {
		select {
		case c.send <- data:
		default:
			// Level frames are superseded on the next tick.
			if ev.Type == EventLevel {
				slog.Debug("Dropped level frame for slow subscriber", "subscriber", id)
				continue
			}
			slog.Warn("Failed to send to subscriber - channel full", "subscriber", id, "type", ev.Type)
		}
	}
}

func (h *Hub) StatusChanged(text string, severity pipeline.Severity) {
	h.Broadcast(Event{Type: EventStatus, Text: text, Severity: severity, Timestamp: time.Now()})
}

func (h *Hub) TranscriptAppended(text string) {
	h.Broadcast(Event{Type: EventTranscript, Text: text, Timestamp: time.Now()})
}

func (h *Hub) SummaryUpdated(text string) {
	h.Broadcast(Event{Type: EventSummary, Text: text, Timestamp: time.Now()})
}
