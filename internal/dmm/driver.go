// Package dmm implements the DMM driver core: typed, validated setting
// accessors backed by a per-attribute cache, with command routing scoped
// to the active measurement function.
package dmm

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"benchlink/internal/scpi"
	"benchlink/internal/transport"
)

// ErrUnsupportedValue is returned by setters when a value is outside the
// attribute's declared domain. No state changes and no I/O occurs.
var ErrUnsupportedValue = errors.New("unsupported value")

// Driver drives a bench multimeter through a textual command protocol.
// Each setting is cached with a validity flag so repeated reads do not
// re-query the device; changing the measurement function invalidates the
// function-scoped settings as a group.
//
// The driver is synchronous and not safe for unserialized concurrent
// use; an internal mutex serializes the service surfaces that share one
// instance. No operation retries internally: a transport failure is
// surfaced to the caller and the affected attribute stays stale, so the
// next read re-queries instead of trusting a half-completed exchange.
type Driver struct {
	tr       transport.Transport
	simulate bool
	logger   *slog.Logger

	mu    sync.Mutex
	valid map[Attribute]bool

	// In-memory values. Defaults below also serve as the fallback an
	// inapplicable read returns.
	function      scpi.MeasurementFunction
	rangeValue    float64
	autoRange     bool
	digits        int
	nplc          float64
	filterEnabled bool
	filterType    scpi.FilterType
	filterCount   int
	continuous    bool
	trigSource    scpi.TriggerSource
	trigDelay     float64
	trigDelayAuto bool
	sampleCount   int
	trigCount     int

	identity      Identity
	identityValid bool
}

// New creates a driver over the given transport.
func New(tr transport.Transport, logger *slog.Logger) *Driver {
	d := newDriver(logger)
	d.tr = tr
	return d
}

// NewSimulated creates a driver that never touches a transport. All
// get/set traffic operates purely on the in-memory cache, which makes it
// usable for tests and for staging a configuration offline.
func NewSimulated(logger *slog.Logger) *Driver {
	d := newDriver(logger)
	d.simulate = true
	return d
}

func newDriver(logger *slog.Logger) *Driver {
	return &Driver{
		logger: logger.With("component", "dmm"),
		valid:  make(map[Attribute]bool),

		// Every attribute starts stale; these values are what a caller
		// sees before the first device round-trip resolves the truth.
		function:      scpi.FunctionDCVolts,
		rangeValue:    1,
		autoRange:     true,
		digits:        7,
		nplc:          1,
		filterType:    scpi.FilterMovingAverage,
		filterCount:   10,
		trigSource:    scpi.TriggerImmediate,
		sampleCount:   1,
		trigCount:     1,
	}
}

// Simulated reports whether the driver bypasses all device I/O.
func (d *Driver) Simulated() bool { return d.simulate }

// InvalidateCache marks every attribute stale, forcing the next read of
// each to re-query the device. Called after operations known to perturb
// instrument state out-of-band, such as a reset.
func (d *Driver) InvalidateCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidateAllLocked()
}

func (d *Driver) invalidateAllLocked() {
	for a := range d.valid {
		delete(d.valid, a)
	}
	d.identityValid = false
}

// --- Measurement function ---

// MeasurementFunction returns the active measurement function.
func (d *Driver) MeasurementFunction() (scpi.MeasurementFunction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.functionLocked()
}

// functionLocked resolves the active function through the cache. Other
// accessors call this on their stale path, so a single device query can
// serve a whole burst of scoped reads.
func (d *Driver) functionLocked() (scpi.MeasurementFunction, error) {
	if !d.simulate && !d.valid[AttrFunction] {
		reply, err := d.tr.Ask(":sense:function?")
		if err != nil {
			return "", err
		}
		f, err := scpi.FunctionFromToken(reply)
		if err != nil {
			return "", fmt.Errorf("sense function reply: %w", err)
		}
		d.function = f
		d.valid[AttrFunction] = true
	}
	return d.function, nil
}

// SetMeasurementFunction selects the measurement function and marks
// every function-scoped setting stale. A failed device write leaves the
// cache untouched: the function change did not take effect, so the
// dependents must not be invalidated.
func (d *Driver) SetMeasurementFunction(f scpi.MeasurementFunction) error {
	tok, ok := scpi.FunctionCommand(f)
	if !ok {
		return fmt.Errorf("measurement function %q: %w", f, ErrUnsupportedValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.tr.Write(fmt.Sprintf(":sense:function '%s'", tok)); err != nil {
			return err
		}
	}
	d.function = f
	d.valid[AttrFunction] = true
	for _, a := range functionDependents {
		delete(d.valid, a)
	}
	d.logger.Debug("measurement function changed", "function", f)
	return nil
}

// --- Function-scoped cache plumbing ---

// commandLookup resolves the concrete command for an attribute family
// under a given measurement function.
type commandLookup func(scpi.MeasurementFunction) (string, bool)

// askScoped runs the stale-path query for a function-scoped attribute.
// ok is false when the attribute does not apply to the active function;
// that is not an error, the caller keeps its in-memory value and the
// attribute stays stale.
func (d *Driver) askScoped(lookup commandLookup, suffix string) (reply string, ok bool, err error) {
	fn, err := d.functionLocked()
	if err != nil {
		return "", false, err
	}
	cmd, ok := lookup(fn)
	if !ok {
		return "", false, nil
	}
	reply, err = d.tr.Ask(cmd + suffix + "?")
	if err != nil {
		return "", false, err
	}
	return reply, true, nil
}

// writeScoped issues a device write for a function-scoped attribute,
// silently skipping it when the active function has no mapped command.
func (d *Driver) writeScoped(lookup commandLookup, suffix, args string) error {
	fn, err := d.functionLocked()
	if err != nil {
		return err
	}
	cmd, ok := lookup(fn)
	if !ok {
		return nil
	}
	return d.tr.Write(cmd + suffix + " " + args)
}

// --- Range ---

// Range returns the measurement range for the active function, in the
// function's base unit.
func (d *Driver) Range() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrRange] {
		reply, ok, err := d.askScoped(scpi.RangeCommand, "")
		if err != nil {
			return 0, err
		}
		if ok {
			v, err := parseFloatReply(reply)
			if err != nil {
				return 0, fmt.Errorf("range reply %q: %w", reply, err)
			}
			d.rangeValue = v
			d.valid[AttrRange] = true
		}
	}
	return d.rangeValue, nil
}

// SetRange sets the measurement range and disables auto-ranging on the
// instrument side.
func (d *Driver) SetRange(v float64) error {
	if v < 0 {
		return fmt.Errorf("range %g: %w", v, ErrUnsupportedValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.writeScoped(scpi.RangeCommand, "", formatFloat(v)); err != nil {
			return err
		}
	}
	d.rangeValue = v
	d.valid[AttrRange] = true
	delete(d.valid, AttrAutoRange)
	return nil
}

// AutoRange reports whether the instrument selects the range itself.
func (d *Driver) AutoRange() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrAutoRange] {
		reply, ok, err := d.askScoped(scpi.AutoRangeCommand, "")
		if err != nil {
			return false, err
		}
		if ok {
			v, err := parseBoolReply(reply)
			if err != nil {
				return false, fmt.Errorf("auto range reply %q: %w", reply, err)
			}
			d.autoRange = v
			d.valid[AttrAutoRange] = true
		}
	}
	return d.autoRange, nil
}

// SetAutoRange enables or disables auto-ranging.
func (d *Driver) SetAutoRange(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.writeScoped(scpi.AutoRangeCommand, "", formatBool(on)); err != nil {
			return err
		}
	}
	d.autoRange = on
	d.valid[AttrAutoRange] = true
	return nil
}

// --- Digits ---

// Digits returns the display resolution in digits.
func (d *Driver) Digits() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrDigits] {
		reply, ok, err := d.askScoped(scpi.DigitsCommand, "")
		if err != nil {
			return 0, err
		}
		if ok {
			v, err := parseIntReply(reply)
			if err != nil {
				return 0, fmt.Errorf("digits reply %q: %w", reply, err)
			}
			d.digits = v
			d.valid[AttrDigits] = true
		}
	}
	return d.digits, nil
}

// SetDigits sets the display resolution. Accepted values are 4 to 7.
func (d *Driver) SetDigits(v int) error {
	if v < minDigits || v > maxDigits {
		return fmt.Errorf("digits %d: %w (want %d..%d)", v, ErrUnsupportedValue, minDigits, maxDigits)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.writeScoped(scpi.DigitsCommand, "", strconv.Itoa(v)); err != nil {
			return err
		}
	}
	d.digits = v
	d.valid[AttrDigits] = true
	return nil
}

// --- NPLC ---

// NPLC returns the integration time in power-line cycles.
func (d *Driver) NPLC() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrNPLC] {
		reply, ok, err := d.askScoped(scpi.NPLCCommand, "")
		if err != nil {
			return 0, err
		}
		if ok {
			v, err := parseFloatReply(reply)
			if err != nil {
				return 0, fmt.Errorf("nplc reply %q: %w", reply, err)
			}
			d.nplc = v
			d.valid[AttrNPLC] = true
		}
	}
	return d.nplc, nil
}

// SetNPLC sets the integration time in power-line cycles, 0.01 to 10
// inclusive.
func (d *Driver) SetNPLC(v float64) error {
	if v < minNPLC || v > maxNPLC {
		return fmt.Errorf("nplc %g: %w (want %g..%g)", v, ErrUnsupportedValue, minNPLC, maxNPLC)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.writeScoped(scpi.NPLCCommand, "", formatFloat(v)); err != nil {
			return err
		}
	}
	d.nplc = v
	d.valid[AttrNPLC] = true
	return nil
}

// --- Averaging filter ---

// FilterEnabled reports whether the averaging filter is on.
func (d *Driver) FilterEnabled() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrFilterEnabled] {
		reply, ok, err := d.askScoped(scpi.FilterCommand, ":stat")
		if err != nil {
			return false, err
		}
		if ok {
			v, err := parseBoolReply(reply)
			if err != nil {
				return false, fmt.Errorf("filter state reply %q: %w", reply, err)
			}
			d.filterEnabled = v
			d.valid[AttrFilterEnabled] = true
		}
	}
	return d.filterEnabled, nil
}

// SetFilterEnabled switches the averaging filter on or off.
func (d *Driver) SetFilterEnabled(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.writeScoped(scpi.FilterCommand, ":stat", formatBool(on)); err != nil {
			return err
		}
	}
	d.filterEnabled = on
	d.valid[AttrFilterEnabled] = true
	return nil
}

// FilterType returns the averaging filter behavior.
func (d *Driver) FilterType() (scpi.FilterType, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrFilterType] {
		reply, ok, err := d.askScoped(scpi.FilterCommand, ":tcon")
		if err != nil {
			return "", err
		}
		if ok {
			v, err := scpi.FilterTypeFromToken(reply)
			if err != nil {
				return "", fmt.Errorf("filter type reply: %w", err)
			}
			d.filterType = v
			d.valid[AttrFilterType] = true
		}
	}
	return d.filterType, nil
}

// SetFilterType selects moving_average or repeat filtering.
func (d *Driver) SetFilterType(ft scpi.FilterType) error {
	tok, ok := scpi.FilterTypeToken(ft)
	if !ok {
		return fmt.Errorf("filter type %q: %w", ft, ErrUnsupportedValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.writeScoped(scpi.FilterCommand, ":tcon", tok); err != nil {
			return err
		}
	}
	d.filterType = ft
	d.valid[AttrFilterType] = true
	return nil
}

// FilterCount returns the averaging sample count.
func (d *Driver) FilterCount() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrFilterCount] {
		reply, ok, err := d.askScoped(scpi.FilterCommand, ":count")
		if err != nil {
			return 0, err
		}
		if ok {
			v, err := parseIntReply(reply)
			if err != nil {
				return 0, fmt.Errorf("filter count reply %q: %w", reply, err)
			}
			d.filterCount = v
			d.valid[AttrFilterCount] = true
		}
	}
	return d.filterCount, nil
}

// SetFilterCount sets the averaging sample count, 1 to 100.
func (d *Driver) SetFilterCount(v int) error {
	if v < minFilterCount || v > maxFilterCount {
		return fmt.Errorf("filter count %d: %w (want %d..%d)", v, ErrUnsupportedValue, minFilterCount, maxFilterCount)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.writeScoped(scpi.FilterCommand, ":count", strconv.Itoa(v)); err != nil {
			return err
		}
	}
	d.filterCount = v
	d.valid[AttrFilterCount] = true
	return nil
}

// --- Continuous initiation ---

// MeasurementContinuous reports whether the instrument re-arms its
// trigger model automatically after each reading.
func (d *Driver) MeasurementContinuous() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate && !d.valid[AttrContinuous] {
		reply, err := d.tr.Ask(":init:cont?")
		if err != nil {
			return false, err
		}
		v, err := parseBoolReply(reply)
		if err != nil {
			return false, fmt.Errorf("init cont reply %q: %w", reply, err)
		}
		d.continuous = v
		d.valid[AttrContinuous] = true
	}
	return d.continuous, nil
}

// SetMeasurementContinuous enables or disables continuous initiation.
func (d *Driver) SetMeasurementContinuous(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.tr.Write(":init:cont " + formatBool(on)); err != nil {
			return err
		}
	}
	d.continuous = on
	d.valid[AttrContinuous] = true
	return nil
}

// --- Reply parsing helpers ---

func parseIntReply(s string) (int, error) {
	t := strings.TrimSpace(s)
	if v, err := strconv.Atoi(t); err == nil {
		return v, nil
	}
	// Some firmware echoes integers in float notation, e.g. "+7.00000E+00".
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func parseFloatReply(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func parseBoolReply(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "off":
		return false, nil
	case "1", "on":
		return true, nil
	default:
		return false, fmt.Errorf("not a boolean reply")
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatBool(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
