package x10

import (
	"fmt"
	"strings"
)

// MaxDimSteps is the number of dim increments spanning the full 0-100% range.
const MaxDimSteps = 22

// MaxStatusLevel is the top of the level byte range reported by the CM11A
// for dim and bright uploads.
const MaxStatusLevel = 210

// Function is an X10 function code (low nibble of a function byte).
type Function byte

const (
	FuncAllUnitsOff   Function = 0x0
	FuncAllLightsOn   Function = 0x1
	FuncOn            Function = 0x2
	FuncOff           Function = 0x3
	FuncDim           Function = 0x4
	FuncBright        Function = 0x5
	FuncAllLightsOff  Function = 0x6
	FuncExtended      Function = 0x7
	FuncHailRequest   Function = 0x8
	FuncHailAck       Function = 0x9
	FuncPresetDim1    Function = 0xA
	FuncPresetDim2    Function = 0xB
	FuncExtendedData  Function = 0xC
	FuncStatusOn      Function = 0xD
	FuncStatusOff     Function = 0xE
	FuncStatusRequest Function = 0xF
)

var functionNames = [16]string{
	"all_units_off", "all_lights_on", "on", "off", "dim", "bright",
	"all_lights_off", "extended", "hail_request", "hail_ack",
	"preset_dim_1", "preset_dim_2", "extended_data", "status_on",
	"status_off", "status_request",
}

func (f Function) String() string {
	if int(f) < len(functionNames) {
		return functionNames[f]
	}
	return fmt.Sprintf("function(0x%X)", byte(f))
}

// ParseFunction resolves a function name as returned by Function.String.
func ParseFunction(s string) (Function, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range functionNames {
		if n == s {
			return Function(i), nil
		}
	}
	return 0, fmt.Errorf("x10: unknown function %q", s)
}

// MarshalText encodes the function by name.
func (f Function) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText resolves a function name.
func (f *Function) UnmarshalText(b []byte) error {
	v, err := ParseFunction(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// CommandKind enumerates the commands the adapter sends.
type CommandKind int

const (
	TurnOn CommandKind = iota + 1
	TurnOff
	Brighten
	Dim
)

func (k CommandKind) String() string {
	switch k {
	case TurnOn:
		return "turn_on"
	case TurnOff:
		return "turn_off"
	case Brighten:
		return "brighten"
	case Dim:
		return "dim"
	}
	return "unknown"
}

// MarshalText encodes the kind by name.
func (k CommandKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Function returns the X10 function code carrying this command.
func (k CommandKind) Function() Function {
	switch k {
	case TurnOn:
		return FuncOn
	case TurnOff:
		return FuncOff
	case Brighten:
		return FuncBright
	case Dim:
		return FuncDim
	}
	return 0
}

// Command is a single controller instruction targeting one address.
// Steps is only meaningful for Brighten and Dim and may be zero.
type Command struct {
	Kind    CommandKind `json:"kind"`
	Address Address     `json:"address"`
	Steps   int         `json:"steps,omitempty"`
}

func (c Command) String() string {
	switch c.Kind {
	case Brighten, Dim:
		return fmt.Sprintf("%s(%s, %d)", c.Kind, c.Address, c.Steps)
	default:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Address)
	}
}

// UnitStatus is an unsolicited notification uploaded by the controller: a
// function observed on the power line together with the addresses that
// preceded it. Level is the raw dim/bright amount (0..MaxStatusLevel).
type UnitStatus struct {
	House     HouseCode `json:"house"`
	Addresses []Address `json:"addresses"`
	Function  Function  `json:"function"`
	Level     int       `json:"level,omitempty"`
}
