// Package gateway ties the instrument driver, the store and the event
// bus together. Service surfaces (web, MQTT, sequences) go through the
// gateway rather than holding the driver directly, so every state change
// is logged, persisted and broadcast in one place.
package gateway

import (
	"fmt"
	"log/slog"
	"time"

	"benchlink/internal/dmm"
	"benchlink/internal/store"
)

// Gateway owns the driver instance and fans its activity out to the
// event bus and the store.
type Gateway struct {
	driver *dmm.Driver
	store  store.Store
	events *EventBus
	logger *slog.Logger
}

// New creates a gateway around a driver.
func New(driver *dmm.Driver, st store.Store, events *EventBus, logger *slog.Logger) *Gateway {
	return &Gateway{
		driver: driver,
		store:  st,
		events: events,
		logger: logger.With("component", "gateway"),
	}
}

// Driver returns the underlying instrument driver.
func (g *Gateway) Driver() *dmm.Driver { return g.driver }

// Events returns the gateway event bus.
func (g *Gateway) Events() *EventBus { return g.events }

// Store returns the persistence layer.
func (g *Gateway) Store() store.Store { return g.store }

// Status summarizes the gateway for the API surfaces.
type Status struct {
	Identity dmm.Identity `json:"identity"`
	Simulate bool         `json:"simulate"`
	Function string       `json:"function"`
}

// Status reports identity and the active measurement function.
func (g *Gateway) Status() (*Status, error) {
	id, err := g.driver.Identity()
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	fn, err := g.driver.MeasurementFunction()
	if err != nil {
		return nil, fmt.Errorf("measurement function: %w", err)
	}
	return &Status{
		Identity: id,
		Simulate: g.driver.Simulated(),
		Function: string(fn),
	}, nil
}

// Setting reads one named setting through the driver cache.
func (g *Gateway) Setting(name string) (any, error) {
	return g.driver.Setting(dmm.Attribute(name))
}

// AllSettings reads the full configuration.
func (g *Gateway) AllSettings() (map[string]any, error) {
	settings, err := g.driver.AllSettings()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(settings))
	for attr, v := range settings {
		out[string(attr)] = v
	}
	return out, nil
}

// ApplySetting writes one named setting and broadcasts the change.
func (g *Gateway) ApplySetting(name string, value any) error {
	attr := dmm.Attribute(name)
	if err := g.driver.ApplySetting(attr, value); err != nil {
		return err
	}

	// Read back through the cache so the event carries the canonical
	// typed value, not the caller's raw payload.
	applied, err := g.driver.Setting(attr)
	if err != nil {
		return err
	}

	g.logger.Info("setting changed", "setting", name, "value", applied)
	g.events.Emit(Event{Type: EventSettingChanged, Setting: name, Value: applied})
	if attr == dmm.AttrFunction {
		g.events.Emit(Event{Type: EventFunctionChanged, Setting: name, Value: applied})
	}
	return nil
}

// Measure takes one reading, logs it to the store and broadcasts it.
func (g *Gateway) Measure() (*store.Reading, error) {
	fn, err := g.driver.MeasurementFunction()
	if err != nil {
		return nil, err
	}
	value, err := g.driver.ReadMeasurement()
	if err != nil {
		g.events.Emit(Event{Type: EventInstrumentError, Message: "measure: " + err.Error()})
		return nil, err
	}

	r := &store.Reading{
		Timestamp: time.Now(),
		Function:  string(fn),
		Value:     value,
		OverRange: dmm.OutOfRange(value),
	}
	if err := g.store.AppendReading(r); err != nil {
		g.logger.Error("log reading", "err", err)
	}
	g.events.Emit(Event{Type: EventReading, Reading: r})
	return r, nil
}

// FetchBuffer returns the readings buffered by the last multipoint
// acquisition.
func (g *Gateway) FetchBuffer() ([]float64, error) {
	return g.driver.Multipoint().FetchAll()
}

// Readings returns the most recent logged readings, newest first.
func (g *Gateway) Readings(limit int) ([]*store.Reading, error) {
	return g.store.ListReadings(limit)
}

// SaveProfile snapshots the current configuration under a name.
func (g *Gateway) SaveProfile(name, comment string) (*store.Profile, error) {
	snap, err := g.driver.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	now := time.Now()
	p := &store.Profile{
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Comment:   comment,
		Settings:  snap,
	}
	if existing, err := g.store.GetProfile(name); err == nil {
		p.CreatedAt = existing.CreatedAt
	}
	if err := g.store.SaveProfile(p); err != nil {
		return nil, err
	}
	g.logger.Info("profile saved", "name", name)
	return p, nil
}

// ApplyProfile restores a named profile onto the instrument.
func (g *Gateway) ApplyProfile(name string) error {
	p, err := g.store.GetProfile(name)
	if err != nil {
		return err
	}
	if err := g.driver.Restore(p.Settings); err != nil {
		return fmt.Errorf("apply profile %s: %w", name, err)
	}

	if err := g.store.SaveGatewayState(&store.GatewayState{
		LastProfile: name,
		LastSeen:    time.Now(),
	}); err != nil {
		g.logger.Error("save gateway state", "err", err)
	}

	g.logger.Info("profile applied", "name", name)
	g.events.Emit(Event{Type: EventProfileApplied, Profile: name})
	return nil
}
