package translator

import "x10-go-home/internal/x10"

// Descriptor describes a property as exposed to the host.
type Descriptor struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Unit    string `json:"unit,omitempty"`
	Default any    `json:"default"`
}

// Property is one of the two property kinds an X10 device can carry.
// Implementations are not safe for concurrent use; the owning device
// serialises access.
type Property interface {
	Name() string
	Describe() Descriptor
	Value() any
	// Set validates v, updates the cached value and returns the command
	// that realises the change on the power line.
	Set(addr x10.Address, v any) (x10.Command, error)
	// Restore overwrites the cached value without producing a command.
	Restore(v any) error
}

// NewProperty creates the property kind for a descriptor name. It returns
// ErrUnknownProperty for anything other than on and level.
func NewProperty(name string) (Property, error) {
	switch name {
	case PropOn:
		return NewOnOffProperty(), nil
	case PropLevel:
		return NewLevelProperty(), nil
	}
	return nil, ErrUnknownProperty
}

// OnOffProperty is the boolean on property.
type OnOffProperty struct {
	on bool
}

// NewOnOffProperty returns an on property defaulting to false.
func NewOnOffProperty() *OnOffProperty { return &OnOffProperty{} }

func (p *OnOffProperty) Name() string { return PropOn }

func (p *OnOffProperty) Describe() Descriptor {
	return Descriptor{Name: PropOn, Type: "boolean", Default: false}
}

func (p *OnOffProperty) Value() any { return p.on }

func (p *OnOffProperty) Set(addr x10.Address, v any) (x10.Command, error) {
	on, err := ToBool(v)
	if err != nil {
		return x10.Command{}, err
	}
	p.on = on
	return ApplyOnOff(addr, on), nil
}

func (p *OnOffProperty) Restore(v any) error {
	on, err := ToBool(v)
	if err != nil {
		return err
	}
	p.on = on
	return nil
}

// DefaultLevel is the initial level of a dimmable device, in percent.
const DefaultLevel = 100

// LevelProperty is the numeric level property together with the adjust
// state of the last change.
type LevelProperty struct {
	level float64
	state AdjustState
}

// NewLevelProperty returns a level property at DefaultLevel.
func NewLevelProperty() *LevelProperty {
	return &LevelProperty{
		level: DefaultLevel,
		state: AdjustState{PreviousLevel: DefaultLevel},
	}
}

func (p *LevelProperty) Name() string { return PropLevel }

func (p *LevelProperty) Describe() Descriptor {
	return Descriptor{Name: PropLevel, Type: "number", Unit: "percent", Default: DefaultLevel}
}

func (p *LevelProperty) Value() any { return p.level }

// State returns the adjust state recorded by the last Set.
func (p *LevelProperty) State() AdjustState { return p.state }

func (p *LevelProperty) Set(addr x10.Address, v any) (x10.Command, error) {
	level, err := ToLevel(v)
	if err != nil {
		return x10.Command{}, err
	}
	cmd, next := ApplyLevel(addr, level, p.state)
	p.level = level
	p.state = next
	return cmd, nil
}

func (p *LevelProperty) Restore(v any) error {
	level, err := ToLevel(v)
	if err != nil {
		return err
	}
	p.level = level
	p.state = AdjustState{PreviousLevel: level}
	return nil
}
