package store

import (
	"time"

	"benchlink/internal/dmm"
)

// Profile is a named configuration snapshot. Profiles staged against a
// simulated driver can later be applied to the live instrument.
type Profile struct {
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Comment   string       `json:"comment,omitempty"`
	Settings  dmm.Snapshot `json:"settings"`
}

// Reading is one logged measurement.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Function  string    `json:"function"`
	Value     float64   `json:"value"`
	OverRange bool      `json:"over_range,omitempty"`
}

// GatewayState holds persisted gateway-level state.
type GatewayState struct {
	LastProfile string    `json:"last_profile,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}
