package translator

import (
	"math"
	"time"

	"x10-go-home/internal/x10"
)

// StatusUpdate is the observational record produced from a controller
// status upload. It is never written back into property values.
type StatusUpdate struct {
	Time      time.Time     `json:"time"`
	House     x10.HouseCode `json:"house"`
	Addresses []x10.Address `json:"addresses"`
	DeviceIDs []string      `json:"device_ids"`
	Function  x10.Function  `json:"function"`
	// On is set for functions that imply a power state.
	On *bool `json:"on,omitempty"`
	// Level is the raw dim amount converted to percent, for dim and bright.
	Level *float64 `json:"level,omitempty"`
}

// DescribeStatus converts a raw unit status into a StatusUpdate.
func DescribeStatus(st x10.UnitStatus) StatusUpdate {
	u := StatusUpdate{
		Time:      time.Now(),
		House:     st.House,
		Addresses: append([]x10.Address(nil), st.Addresses...),
		DeviceIDs: make([]string, 0, len(st.Addresses)),
		Function:  st.Function,
	}
	for _, a := range st.Addresses {
		u.DeviceIDs = append(u.DeviceIDs, a.DeviceID())
	}
	switch st.Function {
	case x10.FuncOn, x10.FuncStatusOn, x10.FuncAllLightsOn:
		on := true
		u.On = &on
	case x10.FuncOff, x10.FuncStatusOff, x10.FuncAllUnitsOff, x10.FuncAllLightsOff:
		on := false
		u.On = &on
	case x10.FuncDim, x10.FuncBright:
		pct := math.Round(float64(st.Level)/x10.MaxStatusLevel*1000) / 10
		u.Level = &pct
	}
	return u
}
