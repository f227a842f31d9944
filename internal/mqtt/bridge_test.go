package mqtt

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"benchlink/internal/dmm"
	"benchlink/internal/gateway"
	"benchlink/internal/store"
)

// The OnConnect handler fires as soon as the broker accepts the
// session, possibly before Connect returns; the client must already be
// assigned by then.
func TestClientAssignedBeforeConnect(t *testing.T) {
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := gateway.New(dmm.NewSimulated(logger), st, gateway.NewEventBus(logger), logger)

	b := newBridge(gw, Config{Broker: "tcp://127.0.0.1:1", TopicPrefix: "bench"}, logger)
	if b.client == nil {
		t.Fatal("client not assigned at construction")
	}

	// Invoking the handler against the unconnected client must not
	// panic; publishes simply fail and are logged.
	b.onConnect(b.client)
}

func TestSettingTopicMapping(t *testing.T) {
	tests := []struct {
		name  string
		topic string
	}{
		{"digits", "bench/settings/digits"},
		{"filter.count", "bench/settings/filter/count"},
		{"measurement.function", "bench/settings/measurement/function"},
	}
	for _, tt := range tests {
		if got := settingTopic("bench", tt.name); got != tt.topic {
			t.Errorf("settingTopic(%q) = %q, want %q", tt.name, got, tt.topic)
		}
	}
}

func TestSettingFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		name  string
	}{
		{"bench/set/digits", "digits"},
		{"bench/set/filter/count", "filter.count"},
		{"bench/set/trigger/delay_auto", "trigger.delay_auto"},
	}
	for _, tt := range tests {
		if got := settingFromTopic("bench", tt.topic); got != tt.name {
			t.Errorf("settingFromTopic(%q) = %q, want %q", tt.topic, got, tt.name)
		}
	}
}
