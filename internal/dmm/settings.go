package dmm

import (
	"fmt"
	"strconv"
	"strings"

	"benchlink/internal/scpi"
)

// Setting reads the named setting through the cache. This is the
// string-keyed entry point the service surfaces (HTTP, MQTT, Lua) use;
// the dispatch table is a fixed switch over the closed attribute set.
func (d *Driver) Setting(attr Attribute) (any, error) {
	switch attr {
	case AttrFunction:
		return d.MeasurementFunction()
	case AttrRange:
		return d.Range()
	case AttrAutoRange:
		return d.AutoRange()
	case AttrDigits:
		return d.Digits()
	case AttrNPLC:
		return d.NPLC()
	case AttrFilterEnabled:
		return d.FilterEnabled()
	case AttrFilterType:
		return d.FilterType()
	case AttrFilterCount:
		return d.FilterCount()
	case AttrContinuous:
		return d.MeasurementContinuous()
	case AttrTriggerSource:
		return d.Trigger().Source()
	case AttrTriggerDelay:
		return d.Trigger().Delay()
	case AttrTriggerDelayAuto:
		return d.Trigger().DelayAuto()
	case AttrSampleCount:
		return d.Multipoint().SampleCount()
	case AttrTriggerCount:
		return d.Multipoint().TriggerCount()
	default:
		return nil, fmt.Errorf("setting %q: %w", attr, ErrUnsupportedValue)
	}
}

// ApplySetting writes the named setting, coercing the value from the
// loosely typed forms JSON, MQTT payloads and Lua produce.
func (d *Driver) ApplySetting(attr Attribute, value any) error {
	switch attr {
	case AttrFunction:
		s, ok := coerceString(value)
		if !ok {
			return fmt.Errorf("setting %q wants a function name: %w", attr, ErrUnsupportedValue)
		}
		return d.SetMeasurementFunction(scpi.MeasurementFunction(s))
	case AttrRange:
		v, ok := coerceFloat(value)
		if !ok {
			return fmt.Errorf("setting %q wants a number: %w", attr, ErrUnsupportedValue)
		}
		return d.SetRange(v)
	case AttrAutoRange:
		v, ok := coerceBool(value)
		if !ok {
			return fmt.Errorf("setting %q wants a boolean: %w", attr, ErrUnsupportedValue)
		}
		return d.SetAutoRange(v)
	case AttrDigits:
		v, ok := coerceInt(value)
		if !ok {
			return fmt.Errorf("setting %q wants an integer: %w", attr, ErrUnsupportedValue)
		}
		return d.SetDigits(v)
	case AttrNPLC:
		v, ok := coerceFloat(value)
		if !ok {
			return fmt.Errorf("setting %q wants a number: %w", attr, ErrUnsupportedValue)
		}
		return d.SetNPLC(v)
	case AttrFilterEnabled:
		v, ok := coerceBool(value)
		if !ok {
			return fmt.Errorf("setting %q wants a boolean: %w", attr, ErrUnsupportedValue)
		}
		return d.SetFilterEnabled(v)
	case AttrFilterType:
		s, ok := coerceString(value)
		if !ok {
			return fmt.Errorf("setting %q wants a filter type: %w", attr, ErrUnsupportedValue)
		}
		return d.SetFilterType(scpi.FilterType(s))
	case AttrFilterCount:
		v, ok := coerceInt(value)
		if !ok {
			return fmt.Errorf("setting %q wants an integer: %w", attr, ErrUnsupportedValue)
		}
		return d.SetFilterCount(v)
	case AttrContinuous:
		v, ok := coerceBool(value)
		if !ok {
			return fmt.Errorf("setting %q wants a boolean: %w", attr, ErrUnsupportedValue)
		}
		return d.SetMeasurementContinuous(v)
	case AttrTriggerSource:
		s, ok := coerceString(value)
		if !ok {
			return fmt.Errorf("setting %q wants a trigger source: %w", attr, ErrUnsupportedValue)
		}
		return d.Trigger().SetSource(scpi.TriggerSource(s))
	case AttrTriggerDelay:
		v, ok := coerceFloat(value)
		if !ok {
			return fmt.Errorf("setting %q wants a number: %w", attr, ErrUnsupportedValue)
		}
		return d.Trigger().SetDelay(v)
	case AttrTriggerDelayAuto:
		v, ok := coerceBool(value)
		if !ok {
			return fmt.Errorf("setting %q wants a boolean: %w", attr, ErrUnsupportedValue)
		}
		return d.Trigger().SetDelayAuto(v)
	case AttrSampleCount:
		v, ok := coerceInt(value)
		if !ok {
			return fmt.Errorf("setting %q wants an integer: %w", attr, ErrUnsupportedValue)
		}
		return d.Multipoint().SetSampleCount(v)
	case AttrTriggerCount:
		v, ok := coerceInt(value)
		if !ok {
			return fmt.Errorf("setting %q wants an integer: %w", attr, ErrUnsupportedValue)
		}
		return d.Multipoint().SetTriggerCount(v)
	default:
		return fmt.Errorf("setting %q: %w", attr, ErrUnsupportedValue)
	}
}

// AllSettings reads every setting through the cache and returns them
// keyed by attribute name.
func (d *Driver) AllSettings() (map[Attribute]any, error) {
	out := make(map[Attribute]any, len(Attributes()))
	for _, attr := range Attributes() {
		v, err := d.Setting(attr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", attr, err)
		}
		out[attr] = v
	}
	return out, nil
}

func coerceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

func coerceBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case int:
		return v != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "on", "true", "yes":
			return true, true
		case "0", "off", "false", "no":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

func coerceString(value any) (string, bool) {
	s, ok := value.(string)
	return strings.TrimSpace(s), ok
}
