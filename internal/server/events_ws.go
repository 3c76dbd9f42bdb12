package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/medprep/qbank/internal/exam"
)

// wireEvent is the JSON shape broadcast to feed subscribers.
type wireEvent struct {
	SessionID string         `json:"sessionId"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// EventHub fans session events out to websocket subscribers. It satisfies
// exam.EventLogger, so wiring it as the machine's logger makes every
// lifecycle transition observable live. A slow subscriber drops events
// rather than stalling the machine.
type EventHub struct {
	next exam.EventLogger

	mu   sync.Mutex
	subs map[chan wireEvent]struct{}
}

// NewEventHub creates a hub that forwards each event to next after
// broadcasting. next may be nil.
func NewEventHub(next exam.EventLogger) *EventHub {
	if next == nil {
		next = exam.NopEventLogger{}
	}
	return &EventHub{
		next: next,
		subs: make(map[chan wireEvent]struct{}),
	}
}

func (h *EventHub) LogEvent(event exam.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	wire := wireEvent{
		SessionID: event.SessionID,
		Type:      event.EventType,
		Data:      event.Data,
		CreatedAt: event.CreatedAt,
	}

	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- wire:
		default:
		}
	}
	h.mu.Unlock()

	return h.next.LogEvent(event)
}

func (h *EventHub) subscribe() chan wireEvent {
	ch := make(chan wireEvent, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) unsubscribe(ch chan wireEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *EventHub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// CloseRead cancels the context when the client goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-ch:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
