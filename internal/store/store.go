package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Profile operations
	SaveProfile(p *Profile) error
	GetProfile(name string) (*Profile, error)
	DeleteProfile(name string) error
	ListProfiles() ([]*Profile, error)

	// UpdateProfile atomically reads, modifies, and saves a profile in a
	// single transaction. Returns ErrNotFound if the profile does not
	// exist.
	UpdateProfile(name string, fn func(p *Profile) error) error

	// Reading log
	AppendReading(r *Reading) error
	ListReadings(limit int) ([]*Reading, error)

	// Gateway state
	SaveGatewayState(state *GatewayState) error
	GetGatewayState() (*GatewayState, error)

	// Close the store
	Close() error
}
