package adapter

import (
	"fmt"
	"slices"
	"sort"

	"x10-go-home/internal/translator"
)

// Capability types reported to the host.
const (
	CapDimmableLight    = "dimmableLight"
	CapOnOffLight       = "onOffLight"
	CapOnOffSwitch      = "onOffSwitch"
	CapMultiLevelSwitch = "multiLevelSwitch"
	CapBinarySensor     = "binarySensor"
)

// Module type tags accepted in configuration.
const (
	ModuleLamp      = "Lamp Module"
	ModuleAppliance = "Appliance Module"
	ModuleSwitch    = "On/Off Switch"
	ModuleDimmer    = "Dimmer Switch"
	ModuleSensor    = "On/Off Sensor"
)

// Template describes the shape shared by every device of one module type.
type Template struct {
	ModuleType string                  `json:"module_type"`
	Name       string                  `json:"name"`
	Type       string                  `json:"type"`
	Properties []translator.Descriptor `json:"properties"`
}

// Dimmable reports whether devices of this template carry a level property.
func (t *Template) Dimmable() bool {
	for _, p := range t.Properties {
		if p.Name == translator.PropLevel {
			return true
		}
	}
	return false
}

// clone returns a copy that shares no memory with t.
func (t *Template) clone() *Template {
	c := *t
	c.Properties = slices.Clone(t.Properties)
	return &c
}

var (
	onDescriptor    = translator.NewOnOffProperty().Describe()
	levelDescriptor = translator.NewLevelProperty().Describe()
)

var templates = map[string]*Template{
	ModuleLamp: {
		ModuleType: ModuleLamp,
		Name:       "Lamp Module",
		Type:       CapDimmableLight,
		Properties: []translator.Descriptor{onDescriptor, levelDescriptor},
	},
	ModuleAppliance: {
		ModuleType: ModuleAppliance,
		Name:       "Appliance Module",
		Type:       CapOnOffLight,
		Properties: []translator.Descriptor{onDescriptor},
	},
	ModuleSwitch: {
		ModuleType: ModuleSwitch,
		Name:       "On/Off Switch",
		Type:       CapOnOffSwitch,
		Properties: []translator.Descriptor{onDescriptor},
	},
	ModuleDimmer: {
		ModuleType: ModuleDimmer,
		Name:       "Dimmer Switch",
		Type:       CapMultiLevelSwitch,
		Properties: []translator.Descriptor{onDescriptor, levelDescriptor},
	},
	ModuleSensor: {
		ModuleType: ModuleSensor,
		Name:       "On/Off Sensor",
		Type:       CapBinarySensor,
		Properties: []translator.Descriptor{onDescriptor},
	},
}

// LookupTemplate returns a copy of the template for a module type tag.
func LookupTemplate(moduleType string) (*Template, error) {
	t, ok := templates[moduleType]
	if !ok {
		return nil, fmt.Errorf("module type %q: %w", moduleType, ErrUnknownModuleType)
	}
	return t.clone(), nil
}

// Templates returns copies of all templates ordered by module type.
func Templates() []*Template {
	out := make([]*Template, 0, len(templates))
	for _, t := range templates {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleType < out[j].ModuleType })
	return out
}
