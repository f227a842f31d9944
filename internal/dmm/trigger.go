package dmm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"benchlink/internal/scpi"
)

// Trigger exposes the instrument's trigger model. It is a component of
// the driver, sharing its cache and transport; the session layer
// composes it explicitly rather than inheriting it.
type Trigger struct {
	d *Driver
}

// Trigger returns the trigger component.
func (d *Driver) Trigger() *Trigger { return &Trigger{d: d} }

// Source returns what starts a measurement cycle.
func (t *Trigger) Source() (scpi.TriggerSource, error) {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrTriggerSource] {
		reply, err := d.tr.Ask(":trigger:source?")
		if err != nil {
			return "", err
		}
		v, err := scpi.TriggerSourceFromToken(reply)
		if err != nil {
			return "", fmt.Errorf("trigger source reply: %w", err)
		}
		d.trigSource = v
		d.valid[AttrTriggerSource] = true
	}
	return d.trigSource, nil
}

// SetSource selects the trigger source.
func (t *Trigger) SetSource(s scpi.TriggerSource) error {
	tok, ok := scpi.TriggerSourceToken(s)
	if !ok {
		return fmt.Errorf("trigger source %q: %w", s, ErrUnsupportedValue)
	}
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.tr.Write(":trigger:source " + tok); err != nil {
			return err
		}
	}
	d.trigSource = s
	d.valid[AttrTriggerSource] = true
	return nil
}

// Delay returns the trigger delay in seconds.
func (t *Trigger) Delay() (float64, error) {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrTriggerDelay] {
		reply, err := d.tr.Ask(":trigger:delay?")
		if err != nil {
			return 0, err
		}
		v, err := parseFloatReply(reply)
		if err != nil {
			return 0, fmt.Errorf("trigger delay reply %q: %w", reply, err)
		}
		d.trigDelay = v
		d.valid[AttrTriggerDelay] = true
	}
	return d.trigDelay, nil
}

// SetDelay sets the trigger delay in seconds and disables auto-delay.
func (t *Trigger) SetDelay(v float64) error {
	if v < 0 || v > 999999.999 {
		return fmt.Errorf("trigger delay %g: %w", v, ErrUnsupportedValue)
	}
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.tr.Write(":trigger:delay " + formatFloat(v)); err != nil {
			return err
		}
	}
	d.trigDelay = v
	d.valid[AttrTriggerDelay] = true
	delete(d.valid, AttrTriggerDelayAuto)
	return nil
}

// DelayAuto reports whether the instrument picks the trigger delay
// itself.
func (t *Trigger) DelayAuto() (bool, error) {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrTriggerDelayAuto] {
		reply, err := d.tr.Ask(":trigger:delay:auto?")
		if err != nil {
			return false, err
		}
		v, err := parseBoolReply(reply)
		if err != nil {
			return false, fmt.Errorf("trigger delay auto reply %q: %w", reply, err)
		}
		d.trigDelayAuto = v
		d.valid[AttrTriggerDelayAuto] = true
	}
	return d.trigDelayAuto, nil
}

// SetDelayAuto enables or disables automatic trigger delay.
func (t *Trigger) SetDelayAuto(on bool) error {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.tr.Write(":trigger:delay:auto " + formatBool(on)); err != nil {
			return err
		}
	}
	d.trigDelayAuto = on
	d.valid[AttrTriggerDelayAuto] = true
	return nil
}

// Initiate arms the trigger model for one measurement cycle.
func (t *Trigger) Initiate() error {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.simulate {
		return nil
	}
	return d.tr.Write(":init")
}

// Abort stops any measurement in progress and returns the trigger model
// to idle.
func (t *Trigger) Abort() error {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.simulate {
		return nil
	}
	return d.tr.Write(":abort")
}

// SendSoftwareTrigger fires the bus trigger. Only meaningful when the
// source is set to software.
func (t *Trigger) SendSoftwareTrigger() error {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.simulate {
		return nil
	}
	return d.tr.Write("*trg")
}

// Multipoint exposes multi-sample acquisition settings, composed into
// the driver the same way as Trigger.
type Multipoint struct {
	d *Driver
}

// Multipoint returns the multipoint acquisition component.
func (d *Driver) Multipoint() *Multipoint { return &Multipoint{d: d} }

// SampleCount returns the number of samples taken per trigger.
func (m *Multipoint) SampleCount() (int, error) {
	d := m.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrSampleCount] {
		reply, err := d.tr.Ask(":sample:count?")
		if err != nil {
			return 0, err
		}
		v, err := parseIntReply(reply)
		if err != nil {
			return 0, fmt.Errorf("sample count reply %q: %w", reply, err)
		}
		d.sampleCount = v
		d.valid[AttrSampleCount] = true
	}
	return d.sampleCount, nil
}

// SetSampleCount sets the number of samples per trigger, 1 to 1024.
func (m *Multipoint) SetSampleCount(v int) error {
	if v < minSampleCount || v > maxSampleCount {
		return fmt.Errorf("sample count %d: %w (want %d..%d)", v, ErrUnsupportedValue, minSampleCount, maxSampleCount)
	}
	d := m.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.tr.Write(":sample:count " + strconv.Itoa(v)); err != nil {
			return err
		}
	}
	d.sampleCount = v
	d.valid[AttrSampleCount] = true
	return nil
}

// TriggerCount returns the number of trigger cycles per initiation.
func (m *Multipoint) TriggerCount() (int, error) {
	d := m.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrTriggerCount] {
		reply, err := d.tr.Ask(":trigger:count?")
		if err != nil {
			return 0, err
		}
		v, err := parseIntReply(reply)
		if err != nil {
			return 0, fmt.Errorf("trigger count reply %q: %w", reply, err)
		}
		d.trigCount = v
		d.valid[AttrTriggerCount] = true
	}
	return d.trigCount, nil
}

// SetTriggerCount sets the number of trigger cycles per initiation.
func (m *Multipoint) SetTriggerCount(v int) error {
	if v < minTrigCount || v > maxTrigCount {
		return fmt.Errorf("trigger count %d: %w (want %d..%d)", v, ErrUnsupportedValue, minTrigCount, maxTrigCount)
	}
	d := m.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.tr.Write(":trigger:count " + strconv.Itoa(v)); err != nil {
			return err
		}
	}
	d.trigCount = v
	d.valid[AttrTriggerCount] = true
	return nil
}

// FetchAll retrieves every buffered reading from the last acquisition as
// a float slice.
func (m *Multipoint) FetchAll() ([]float64, error) {
	d := m.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.simulate {
		return nil, nil
	}
	reply, err := d.tr.Ask(":fetch?")
	if err != nil {
		return nil, err
	}
	fields := strings.Split(reply, ",")
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := parseFloatReply(f)
		if err != nil {
			return nil, fmt.Errorf("fetch field %q: %w", f, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// --- Single measurements ---

// overRangeMagnitude is the sentinel instruments report for an
// over-range reading.
const overRangeMagnitude = 9.9e37

// OutOfRange reports whether a reading is the over-range sentinel rather
// than a real value.
func OutOfRange(v float64) bool {
	return math.Abs(v) >= overRangeMagnitude/2
}

// ReadMeasurement initiates a measurement and returns the reading. In
// simulate mode it returns zero without any I/O.
func (d *Driver) ReadMeasurement() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.simulate {
		return 0, nil
	}
	reply, err := d.tr.Ask(":read?")
	if err != nil {
		return 0, err
	}
	v, err := parseFloatReply(firstField(reply))
	if err != nil {
		return 0, fmt.Errorf("read reply %q: %w", reply, err)
	}
	return v, nil
}

// FetchMeasurement returns the last reading without triggering a new
// one.
func (d *Driver) FetchMeasurement() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.simulate {
		return 0, nil
	}
	reply, err := d.tr.Ask(":fetch?")
	if err != nil {
		return 0, err
	}
	v, err := parseFloatReply(firstField(reply))
	if err != nil {
		return 0, fmt.Errorf("fetch reply %q: %w", reply, err)
	}
	return v, nil
}

// firstField returns the first comma-separated field of a reply. Some
// instruments append units or timestamps after the value.
func firstField(reply string) string {
	if i := strings.IndexByte(reply, ','); i >= 0 {
		return reply[:i]
	}
	return reply
}
