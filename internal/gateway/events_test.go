package gateway

import "testing"

func TestSubscribeFilters(t *testing.T) {
	eb := NewEventBus(testLogger())

	var all, readings []string
	eb.Subscribe(func(e Event) { all = append(all, e.Type) })
	eb.Subscribe(func(e Event) { readings = append(readings, e.Type) }, EventReading)

	eb.Emit(Event{Type: EventSettingChanged, Setting: "nplc", Value: 1.0})
	eb.Emit(Event{Type: EventReading})
	eb.Emit(Event{Type: EventSequenceLog, Message: "step"})

	if len(all) != 3 {
		t.Errorf("unfiltered subscriber saw %d events, want 3", len(all))
	}
	if len(readings) != 1 || readings[0] != EventReading {
		t.Errorf("filtered subscriber saw %v, want [reading]", readings)
	}
}

func TestUnsubscribe(t *testing.T) {
	eb := NewEventBus(testLogger())

	n := 0
	unsub := eb.Subscribe(func(Event) { n++ })

	eb.Emit(Event{Type: EventReading})
	unsub()
	eb.Emit(Event{Type: EventReading})

	if n != 1 {
		t.Errorf("handler ran %d times, want 1", n)
	}
}

func TestEmitRecoversPanickingHandler(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Subscribe(func(Event) { panic("boom") })
	after := false
	eb.Subscribe(func(Event) { after = true })

	eb.Emit(Event{Type: EventReading})

	if !after {
		t.Error("handler after the panicking one did not run")
	}
}

func TestEmitStampsTime(t *testing.T) {
	eb := NewEventBus(testLogger())

	var got Event
	eb.Subscribe(func(e Event) { got = e })
	eb.Emit(Event{Type: EventReading})

	if got.Time.IsZero() {
		t.Error("emit did not stamp the event time")
	}
}
