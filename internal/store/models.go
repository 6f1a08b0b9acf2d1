package store

import "time"

// DeviceState is the persisted snapshot of one device's property values.
type DeviceState struct {
	DeviceID   string         `json:"device_id"`
	Address    string         `json:"address"`
	ModuleType string         `json:"module_type"`
	Properties map[string]any `json:"properties"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// StatusRecord is one entry in the status log.
type StatusRecord struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	House     string    `json:"house"`
	Addresses []string  `json:"addresses"`
	Function  string    `json:"function"`
	Level     *float64  `json:"level,omitempty"`
	On        *bool     `json:"on,omitempty"`
}
