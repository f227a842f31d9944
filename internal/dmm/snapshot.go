package dmm

import (
	"fmt"

	"benchlink/internal/scpi"
)

// Snapshot is a complete copy of the instrument configuration. Snapshots
// taken from a simulated driver can be applied to a live one later,
// which is how a configuration is staged offline.
type Snapshot struct {
	Function         scpi.MeasurementFunction `json:"function"`
	Range            float64                  `json:"range"`
	AutoRange        bool                     `json:"auto_range"`
	Digits           int                      `json:"digits"`
	NPLC             float64                  `json:"nplc"`
	FilterEnabled    bool                     `json:"filter_enabled"`
	FilterType       scpi.FilterType          `json:"filter_type"`
	FilterCount      int                      `json:"filter_count"`
	Continuous       bool                     `json:"continuous"`
	TriggerSource    scpi.TriggerSource       `json:"trigger_source"`
	TriggerDelay     float64                  `json:"trigger_delay"`
	TriggerDelayAuto bool                     `json:"trigger_delay_auto"`
	SampleCount      int                      `json:"sample_count"`
	TriggerCount     int                      `json:"trigger_count"`
}

// Snapshot reads every setting through the cache and returns the full
// configuration.
func (d *Driver) Snapshot() (Snapshot, error) {
	var s Snapshot
	var err error
	read := func(name Attribute, get func() error) {
		if err != nil {
			return
		}
		if e := get(); e != nil {
			err = fmt.Errorf("snapshot %s: %w", name, e)
		}
	}
	read(AttrFunction, func() (e error) { s.Function, e = d.MeasurementFunction(); return })
	read(AttrRange, func() (e error) { s.Range, e = d.Range(); return })
	read(AttrAutoRange, func() (e error) { s.AutoRange, e = d.AutoRange(); return })
	read(AttrDigits, func() (e error) { s.Digits, e = d.Digits(); return })
	read(AttrNPLC, func() (e error) { s.NPLC, e = d.NPLC(); return })
	read(AttrFilterEnabled, func() (e error) { s.FilterEnabled, e = d.FilterEnabled(); return })
	read(AttrFilterType, func() (e error) { s.FilterType, e = d.FilterType(); return })
	read(AttrFilterCount, func() (e error) { s.FilterCount, e = d.FilterCount(); return })
	read(AttrContinuous, func() (e error) { s.Continuous, e = d.MeasurementContinuous(); return })
	read(AttrTriggerSource, func() (e error) { s.TriggerSource, e = d.Trigger().Source(); return })
	read(AttrTriggerDelay, func() (e error) { s.TriggerDelay, e = d.Trigger().Delay(); return })
	read(AttrTriggerDelayAuto, func() (e error) { s.TriggerDelayAuto, e = d.Trigger().DelayAuto(); return })
	read(AttrSampleCount, func() (e error) { s.SampleCount, e = d.Multipoint().SampleCount(); return })
	read(AttrTriggerCount, func() (e error) { s.TriggerCount, e = d.Multipoint().TriggerCount(); return })
	return s, err
}

// Restore applies a snapshot to the instrument. The measurement function
// goes first so the function-scoped settings land under the right
// function; the cascade then forces them onto the device.
func (d *Driver) Restore(s Snapshot) error {
	steps := []struct {
		name  Attribute
		apply func() error
	}{
		{AttrFunction, func() error { return d.SetMeasurementFunction(s.Function) }},
		{AttrAutoRange, func() error { return d.SetAutoRange(s.AutoRange) }},
		{AttrDigits, func() error { return d.SetDigits(s.Digits) }},
		{AttrNPLC, func() error { return d.SetNPLC(s.NPLC) }},
		{AttrFilterEnabled, func() error { return d.SetFilterEnabled(s.FilterEnabled) }},
		{AttrFilterType, func() error { return d.SetFilterType(s.FilterType) }},
		{AttrFilterCount, func() error { return d.SetFilterCount(s.FilterCount) }},
		{AttrContinuous, func() error { return d.SetMeasurementContinuous(s.Continuous) }},
		{AttrTriggerSource, func() error { return d.Trigger().SetSource(s.TriggerSource) }},
		{AttrTriggerDelayAuto, func() error { return d.Trigger().SetDelayAuto(s.TriggerDelayAuto) }},
		{AttrSampleCount, func() error { return d.Multipoint().SetSampleCount(s.SampleCount) }},
		{AttrTriggerCount, func() error { return d.Multipoint().SetTriggerCount(s.TriggerCount) }},
	}
	for _, step := range steps {
		if err := step.apply(); err != nil {
			return fmt.Errorf("restore %s: %w", step.name, err)
		}
	}
	// A manual range or delay overrides the auto flag, so apply them
	// only when auto is off.
	if !s.AutoRange {
		if err := d.SetRange(s.Range); err != nil {
			return fmt.Errorf("restore %s: %w", AttrRange, err)
		}
	}
	if !s.TriggerDelayAuto {
		if err := d.Trigger().SetDelay(s.TriggerDelay); err != nil {
			return fmt.Errorf("restore %s: %w", AttrTriggerDelay, err)
		}
	}
	return nil
}
