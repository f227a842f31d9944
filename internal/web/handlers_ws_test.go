package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"benchlink/internal/gateway"
	"benchlink/internal/store"
)

func TestParseEventTypes(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]struct{}
	}{
		{"", nil},
		{" , ", nil},
		{"reading", map[string]struct{}{"reading": {}}},
		{"reading, setting_changed", map[string]struct{}{"reading": {}, "setting_changed": {}}},
	}
	for _, tt := range tests {
		if got := parseEventTypes(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseEventTypes(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestHubBroadcastFilters(t *testing.T) {
	hub := NewWSHub(testLogger())
	defer hub.Stop()

	all := &wsClient{out: make(chan []byte, 4)}
	readings := &wsClient{out: make(chan []byte, 4), types: map[string]struct{}{gateway.EventReading: {}}}
	hub.add(all)
	hub.add(readings)

	hub.Broadcast(gateway.Event{Type: gateway.EventSettingChanged, Setting: "digits", Value: 5})
	hub.Broadcast(gateway.Event{Type: gateway.EventReading, Reading: &store.Reading{Function: "dc_volts", Value: 1.5}})

	if n := len(all.out); n != 2 {
		t.Errorf("unfiltered client queued %d messages, want 2", n)
	}
	if n := len(readings.out); n != 1 {
		t.Fatalf("filtered client queued %d messages, want 1", n)
	}

	var event gateway.Event
	if err := json.Unmarshal(<-readings.out, &event); err != nil {
		t.Fatal(err)
	}
	if event.Type != gateway.EventReading || event.Reading == nil || event.Reading.Value != 1.5 {
		t.Errorf("filtered client got %+v", event)
	}
}

func TestHubEvictsFullClient(t *testing.T) {
	hub := NewWSHub(testLogger())
	defer hub.Stop()

	slow := &wsClient{out: make(chan []byte, 1)}
	hub.add(slow)

	hub.Broadcast(gateway.Event{Type: gateway.EventReading})
	hub.Broadcast(gateway.Event{Type: gateway.EventReading})

	// The second broadcast found the queue full and evicted the client,
	// closing its channel behind the buffered message.
	<-slow.out
	if _, open := <-slow.out; open {
		t.Error("evicted client queue still open")
	}
	if ok := hub.add(&wsClient{out: make(chan []byte, 1)}); !ok {
		t.Fatal("hub refused a new client while running")
	}
}

func TestWebSocketStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(srv.URL, "http", "ws", 1) + "/ws?types=reading"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give handleWS a moment to register the client before emitting.
	deadline := time.Now().Add(time.Second)
	for {
		s.wsHub.mu.Lock()
		n := len(s.wsHub.clients)
		s.wsHub.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.gw.Events().Emit(gateway.Event{Type: gateway.EventSettingChanged, Setting: "digits", Value: 5})
	s.gw.Events().Emit(gateway.Event{Type: gateway.EventReading, Reading: &store.Reading{Function: "dc_volts", Value: 2.5}})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var event gateway.Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatal(err)
	}
	if event.Type != gateway.EventReading {
		t.Errorf("first delivered event type = %q, want %q (setting_changed filtered out)", event.Type, gateway.EventReading)
	}
	if event.Reading == nil || event.Reading.Value != 2.5 {
		t.Errorf("event reading = %+v", event.Reading)
	}
	if event.Time.IsZero() {
		t.Error("event time not stamped")
	}
}
