package scpi

import (
	"errors"
	"testing"
)

func TestFunctionCommandCoversAllFunctions(t *testing.T) {
	for _, f := range Functions() {
		if _, ok := FunctionCommand(f); !ok {
			t.Errorf("function %q has no :sense:function token", f)
		}
	}
}

func TestFunctionScopedTables(t *testing.T) {
	// Functions with the full set of scoped settings.
	scoped := []MeasurementFunction{
		FunctionDCVolts, FunctionACVolts,
		FunctionDCCurrent, FunctionACCurrent,
		FunctionTwoWireResistance, FunctionFourWireResistance,
	}
	for _, f := range scoped {
		for name, lookup := range map[string]func(MeasurementFunction) (string, bool){
			"range":      RangeCommand,
			"auto_range": AutoRangeCommand,
			"digits":     DigitsCommand,
			"nplc":       NPLCCommand,
			"filter":     FilterCommand,
		} {
			if _, ok := lookup(f); !ok {
				t.Errorf("function %q missing %s command", f, name)
			}
		}
	}

	// Frequency and friends have no range/digits/nplc/filter commands.
	unscoped := []MeasurementFunction{
		FunctionFrequency, FunctionPeriod, FunctionContinuity, FunctionDiode,
	}
	for _, f := range unscoped {
		if _, ok := DigitsCommand(f); ok {
			t.Errorf("function %q should have no digits command", f)
		}
		if _, ok := NPLCCommand(f); ok {
			t.Errorf("function %q should have no nplc command", f)
		}
		if _, ok := FilterCommand(f); ok {
			t.Errorf("function %q should have no filter command", f)
		}
	}
}

func TestFunctionFromToken(t *testing.T) {
	tests := []struct {
		token string
		want  MeasurementFunction
	}{
		{`"VOLT:DC"`, FunctionDCVolts},
		{`"volt:ac"`, FunctionACVolts},
		{`"FRES"`, FunctionFourWireResistance},
		{` "FREQ" `, FunctionFrequency},
		{`diod`, FunctionDiode},
	}
	for _, tt := range tests {
		got, err := FunctionFromToken(tt.token)
		if err != nil {
			t.Errorf("FunctionFromToken(%q): %v", tt.token, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FunctionFromToken(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestFunctionFromTokenUnknown(t *testing.T) {
	_, err := FunctionFromToken(`"TEMP"`)
	if !errors.Is(err, ErrUnknownToken) {
		t.Errorf("expected ErrUnknownToken, got %v", err)
	}
}

func TestFilterTypeTokens(t *testing.T) {
	tok, ok := FilterTypeToken(FilterMovingAverage)
	if !ok || tok != "mov" {
		t.Errorf("FilterTypeToken(moving_average) = %q, %v", tok, ok)
	}

	ft, err := FilterTypeFromToken(`"REP"`)
	if err != nil || ft != FilterRepeat {
		t.Errorf("FilterTypeFromToken(REP) = %q, %v", ft, err)
	}

	if _, err := FilterTypeFromToken("median"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("expected ErrUnknownToken for unmapped filter token, got %v", err)
	}
}

func TestTriggerSourceTokens(t *testing.T) {
	tests := []struct {
		src  TriggerSource
		want string
	}{
		{TriggerImmediate, "imm"},
		{TriggerExternal, "ext"},
		{TriggerSoftware, "bus"},
	}
	for _, tt := range tests {
		tok, ok := TriggerSourceToken(tt.src)
		if !ok || tok != tt.want {
			t.Errorf("TriggerSourceToken(%q) = %q, %v", tt.src, tok, ok)
		}
		back, err := TriggerSourceFromToken(tok)
		if err != nil || back != tt.src {
			t.Errorf("TriggerSourceFromToken(%q) = %q, %v", tok, back, err)
		}
	}
}
