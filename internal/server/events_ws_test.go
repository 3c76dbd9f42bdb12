package server_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/medprep/qbank/internal/exam"
	"github.com/medprep/qbank/internal/server"
)

func TestEventHub_BroadcastsToSubscriber(t *testing.T) {
	next := exam.NewMemoryEventLogger()
	hub := server.NewEventHub(next)
	srv := newTestServer(t, server.Config{Events: hub})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.URL, "http", "ws", 1) + "/api/session/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// The dial handshake finished, but give the handler a beat to register
	// the subscription before publishing.
	time.Sleep(50 * time.Millisecond)

	if err := hub.LogEvent(exam.Event{
		SessionID: "s1",
		EventType: exam.EventTestStarted,
		Data:      map[string]any{"total": 4},
	}); err != nil {
		t.Fatal(err)
	}

	var got struct {
		SessionID string         `json:"sessionId"`
		Type      string         `json:"type"`
		Data      map[string]any `json:"data"`
	}
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.SessionID != "s1" || got.Type != exam.EventTestStarted {
		t.Errorf("event = %+v", got)
	}

	// The hub still forwards to the wrapped logger.
	if events := next.Events(); len(events) != 1 {
		t.Errorf("forwarded events = %d, want 1", len(events))
	}
}

func TestEventHub_NoSubscribersIsFine(t *testing.T) {
	hub := server.NewEventHub(nil)
	if err := hub.LogEvent(exam.Event{SessionID: "s1", EventType: exam.EventTestFinished}); err != nil {
		t.Errorf("LogEvent with no subscribers = %v", err)
	}
}
