package scpi

import "fmt"

// FilterType selects the averaging filter behavior.
type FilterType string

const (
	FilterMovingAverage FilterType = "moving_average"
	FilterRepeat        FilterType = "repeat"
)

var filterTypeTokens = map[FilterType]string{
	FilterMovingAverage: "mov",
	FilterRepeat:        "rep",
}

// FilterTypeToken returns the :tcon token for t.
func FilterTypeToken(t FilterType) (string, bool) {
	tok, ok := filterTypeTokens[t]
	return tok, ok
}

// FilterTypeFromToken reverse-maps a :tcon? reply token.
func FilterTypeFromToken(token string) (FilterType, error) {
	t := normalizeToken(token)
	for ft, tok := range filterTypeTokens {
		if tok == t {
			return ft, nil
		}
	}
	return "", fmt.Errorf("filter type token %q: %w", token, ErrUnknownToken)
}

// TriggerSource selects what starts a measurement cycle.
type TriggerSource string

const (
	TriggerImmediate TriggerSource = "immediate"
	TriggerExternal  TriggerSource = "external"
	TriggerSoftware  TriggerSource = "software"
)

var triggerSourceTokens = map[TriggerSource]string{
	TriggerImmediate: "imm",
	TriggerExternal:  "ext",
	TriggerSoftware:  "bus",
}

// TriggerSourceToken returns the :trigger:source token for s.
func TriggerSourceToken(s TriggerSource) (string, bool) {
	tok, ok := triggerSourceTokens[s]
	return tok, ok
}

// TriggerSourceFromToken reverse-maps a :trigger:source? reply token.
func TriggerSourceFromToken(token string) (TriggerSource, error) {
	t := normalizeToken(token)
	for s, tok := range triggerSourceTokens {
		if tok == t {
			return s, nil
		}
	}
	return "", fmt.Errorf("trigger source token %q: %w", token, ErrUnknownToken)
}
