// Package scpi holds the static SCPI command tables for the DMM driver.
// Tables map abstract setting families to the concrete command fragment
// valid for a given measurement function. Lookups are pure; a missing
// entry means the setting does not apply to that function.
package scpi

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownToken is returned when a device reply token has no entry in
// the expected table. This indicates a protocol or table mismatch, not a
// user error.
var ErrUnknownToken = errors.New("unknown wire token")

// MeasurementFunction identifies the active measurement function of the
// instrument. Exactly one is active at a time.
type MeasurementFunction string

const (
	FunctionDCVolts            MeasurementFunction = "dc_volts"
	FunctionACVolts            MeasurementFunction = "ac_volts"
	FunctionDCCurrent          MeasurementFunction = "dc_current"
	FunctionACCurrent          MeasurementFunction = "ac_current"
	FunctionTwoWireResistance  MeasurementFunction = "two_wire_resistance"
	FunctionFourWireResistance MeasurementFunction = "four_wire_resistance"
	FunctionFrequency          MeasurementFunction = "frequency"
	FunctionPeriod             MeasurementFunction = "period"
	FunctionContinuity         MeasurementFunction = "continuity"
	FunctionDiode              MeasurementFunction = "diode"
)

// functionCommands maps every measurement function to its :sense:function
// token.
var functionCommands = map[MeasurementFunction]string{
	FunctionDCVolts:            "volt:dc",
	FunctionACVolts:            "volt:ac",
	FunctionDCCurrent:          "curr:dc",
	FunctionACCurrent:          "curr:ac",
	FunctionTwoWireResistance:  "res",
	FunctionFourWireResistance: "fres",
	FunctionFrequency:          "freq",
	FunctionPeriod:             "per",
	FunctionContinuity:         "cont",
	FunctionDiode:              "diod",
}

// rangeCommands covers only the functions with a settable range.
// Frequency, period, continuity and diode have none.
var rangeCommands = map[MeasurementFunction]string{
	FunctionDCVolts:            "volt:dc:range",
	FunctionACVolts:            "volt:ac:range",
	FunctionDCCurrent:          "curr:dc:range",
	FunctionACCurrent:          "curr:ac:range",
	FunctionTwoWireResistance:  "res:range",
	FunctionFourWireResistance: "fres:range",
}

var autoRangeCommands = map[MeasurementFunction]string{
	FunctionDCVolts:            "volt:dc:range:auto",
	FunctionACVolts:            "volt:ac:range:auto",
	FunctionDCCurrent:          "curr:dc:range:auto",
	FunctionACCurrent:          "curr:ac:range:auto",
	FunctionTwoWireResistance:  "res:range:auto",
	FunctionFourWireResistance: "fres:range:auto",
}

var digitsCommands = map[MeasurementFunction]string{
	FunctionDCVolts:            "volt:dc:digits",
	FunctionACVolts:            "volt:ac:digits",
	FunctionDCCurrent:          "curr:dc:digits",
	FunctionACCurrent:          "curr:ac:digits",
	FunctionTwoWireResistance:  "res:digits",
	FunctionFourWireResistance: "fres:digits",
}

var nplcCommands = map[MeasurementFunction]string{
	FunctionDCVolts:            "volt:dc:nplc",
	FunctionACVolts:            "volt:ac:nplc",
	FunctionDCCurrent:          "curr:dc:nplc",
	FunctionACCurrent:          "curr:ac:nplc",
	FunctionTwoWireResistance:  "res:nplc",
	FunctionFourWireResistance: "fres:nplc",
}

var filterCommands = map[MeasurementFunction]string{
	FunctionDCVolts:            "volt:dc:aver",
	FunctionACVolts:            "volt:ac:aver",
	FunctionDCCurrent:          "curr:dc:aver",
	FunctionACCurrent:          "curr:ac:aver",
	FunctionTwoWireResistance:  "res:aver",
	FunctionFourWireResistance: "fres:aver",
}

// Valid reports whether f is a known measurement function.
func (f MeasurementFunction) Valid() bool {
	_, ok := functionCommands[f]
	return ok
}

// Functions returns all known measurement functions in a stable order.
func Functions() []MeasurementFunction {
	return []MeasurementFunction{
		FunctionDCVolts, FunctionACVolts,
		FunctionDCCurrent, FunctionACCurrent,
		FunctionTwoWireResistance, FunctionFourWireResistance,
		FunctionFrequency, FunctionPeriod,
		FunctionContinuity, FunctionDiode,
	}
}

// FunctionCommand returns the :sense:function token for f.
func FunctionCommand(f MeasurementFunction) (string, bool) {
	cmd, ok := functionCommands[f]
	return cmd, ok
}

// RangeCommand returns the range command for f, if the function has one.
func RangeCommand(f MeasurementFunction) (string, bool) {
	cmd, ok := rangeCommands[f]
	return cmd, ok
}

// AutoRangeCommand returns the auto-range command for f, if the function
// has one.
func AutoRangeCommand(f MeasurementFunction) (string, bool) {
	cmd, ok := autoRangeCommands[f]
	return cmd, ok
}

// DigitsCommand returns the resolution-digits command for f, if the
// function has one.
func DigitsCommand(f MeasurementFunction) (string, bool) {
	cmd, ok := digitsCommands[f]
	return cmd, ok
}

// NPLCCommand returns the integration-time command for f, if the
// function has one.
func NPLCCommand(f MeasurementFunction) (string, bool) {
	cmd, ok := nplcCommands[f]
	return cmd, ok
}

// FilterCommand returns the averaging-filter command root for f, if the
// function has one. Sub-commands (:stat, :tcon, :count) are appended by
// the caller.
func FilterCommand(f MeasurementFunction) (string, bool) {
	cmd, ok := filterCommands[f]
	return cmd, ok
}

// FunctionFromToken reverse-maps a :sense:function? reply token to the
// abstract function name. Replies arrive quoted and case-insensitive,
// e.g. `"VOLT:DC"`. An unmapped token fails with ErrUnknownToken.
func FunctionFromToken(token string) (MeasurementFunction, error) {
	t := normalizeToken(token)
	for f, cmd := range functionCommands {
		if cmd == t {
			return f, nil
		}
	}
	return "", fmt.Errorf("function token %q: %w", token, ErrUnknownToken)
}

// normalizeToken strips surrounding quotes and whitespace and lowercases
// a device reply token.
func normalizeToken(token string) string {
	t := strings.TrimSpace(token)
	t = strings.Trim(t, `"'`)
	return strings.ToLower(t)
}
