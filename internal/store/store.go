package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store persists the last known property values of each device and a log of
// power-line status reports. Device configuration itself is not persisted.
type Store interface {
	// Device state snapshots
	SaveState(state *DeviceState) error
	GetState(deviceID string) (*DeviceState, error)
	DeleteState(deviceID string) error
	ListStates() ([]*DeviceState, error)

	// UpdateState atomically reads, modifies, and saves a snapshot in a single
	// transaction. A missing snapshot is passed to fn as an empty one.
	UpdateState(deviceID string, fn func(state *DeviceState) error) error

	// Status log
	RecordStatus(rec *StatusRecord) error
	RecentStatus(limit int) ([]*StatusRecord, error)

	// Close the store
	Close() error
}
