// Package translator maps logical property changes on X10 devices to
// controller commands, and controller status uploads to status records.
//
// It holds no state of its own and performs no I/O; callers own the
// previous adjust state and pass it back in on every level change.
package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"x10-go-home/internal/x10"
)

// Property names understood by the translator.
const (
	PropOn    = "on"
	PropLevel = "level"
)

var (
	// ErrUnknownProperty is returned for property names other than on and level.
	ErrUnknownProperty = errors.New("translator: unknown property")
	// ErrInvalidValue is returned when a value has the wrong type or range.
	ErrInvalidValue = errors.New("translator: invalid value")
)

// Direction of a level adjustment.
type Direction string

const (
	DirectionBrighten Direction = "brighten"
	DirectionDim      Direction = "dim"
)

// AdjustState is the bookkeeping kept alongside a level property between
// changes. PreviousLevel is the level the next change is measured against.
type AdjustState struct {
	PreviousLevel float64   `json:"previous_level"`
	Direction     Direction `json:"direction,omitempty"`
	Steps         int       `json:"steps"`
}

// DimSteps converts a level change in percent into a direction and a number
// of X10 dim increments. An unchanged level yields zero brighten steps.
func DimSteps(oldLevel, newLevel float64) (Direction, int) {
	diff := newLevel - oldLevel
	dir := DirectionBrighten
	if diff < 0 {
		dir = DirectionDim
	}
	steps := int(math.Round(math.Abs(diff) / 100 * x10.MaxDimSteps))
	return dir, steps
}

// ApplyOnOff maps a boolean on property to TurnOn or TurnOff.
func ApplyOnOff(addr x10.Address, on bool) x10.Command {
	if on {
		return x10.Command{Kind: x10.TurnOn, Address: addr}
	}
	return x10.Command{Kind: x10.TurnOff, Address: addr}
}

// ApplyLevel maps a level change to Brighten or Dim. The returned state
// records newLevel as the reference for the next change. Zero-step commands
// are returned as-is.
func ApplyLevel(addr x10.Address, newLevel float64, st AdjustState) (x10.Command, AdjustState) {
	dir, steps := DimSteps(st.PreviousLevel, newLevel)
	kind := x10.Brighten
	if dir == DirectionDim {
		kind = x10.Dim
	}
	return x10.Command{Kind: kind, Address: addr, Steps: steps},
		AdjustState{PreviousLevel: newLevel, Direction: dir, Steps: steps}
}

// ApplyPropertyChange dispatches on the property name. The state argument is
// only consulted for level changes and returned unchanged for on changes.
func ApplyPropertyChange(addr x10.Address, name string, value any, st AdjustState) (x10.Command, AdjustState, error) {
	if !addr.Valid() {
		return x10.Command{}, st, fmt.Errorf("%s: %w", addr, x10.ErrInvalidAddress)
	}
	switch name {
	case PropOn:
		on, err := ToBool(value)
		if err != nil {
			return x10.Command{}, st, err
		}
		return ApplyOnOff(addr, on), st, nil
	case PropLevel:
		level, err := ToLevel(value)
		if err != nil {
			return x10.Command{}, st, err
		}
		cmd, next := ApplyLevel(addr, level, st)
		return cmd, next, nil
	default:
		return x10.Command{}, st, fmt.Errorf("%q: %w", name, ErrUnknownProperty)
	}
}

// ToBool accepts a bool or the strings "true"/"false"/"on"/"off".
func ToBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch b {
		case "true", "on", "ON":
			return true, nil
		case "false", "off", "OFF":
			return false, nil
		}
	}
	return false, fmt.Errorf("on = %v (%T): %w", v, v, ErrInvalidValue)
}

// ToLevel accepts a whole-number percent in 0..100 as any Go integer or
// float type, or a json.Number. Fractions are rejected with ErrInvalidValue.
func ToLevel(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("level = %q: %w", n, ErrInvalidValue)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("level = %v (%T): %w", v, v, ErrInvalidValue)
	}
	if math.IsNaN(f) || f < 0 || f > 100 {
		return 0, fmt.Errorf("level = %v out of range 0-100: %w", v, ErrInvalidValue)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("level = %v is not a whole percent: %w", v, ErrInvalidValue)
	}
	return f, nil
}
