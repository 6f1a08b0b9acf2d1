package adapter

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"x10-go-home/internal/translator"
	"x10-go-home/internal/x10"
)

// ModuleConfig is one configured X10 module.
type ModuleConfig struct {
	HouseCode  string `yaml:"house_code" json:"house_code"`
	UnitCode   int    `yaml:"unit_code" json:"unit_code"`
	ModuleType string `yaml:"module_type" json:"module_type"`
}

// Resolve validates the entry and returns its address and template.
func (m ModuleConfig) Resolve() (x10.Address, *Template, error) {
	h := strings.TrimSpace(m.HouseCode)
	if len(h) != 1 {
		return x10.Address{}, nil, fmt.Errorf("house code %q: %w", m.HouseCode, x10.ErrInvalidAddress)
	}
	addr, err := x10.NewAddress(h[0], m.UnitCode)
	if err != nil {
		return x10.Address{}, nil, err
	}
	tmpl, err := LookupTemplate(m.ModuleType)
	if err != nil {
		return x10.Address{}, nil, err
	}
	return addr, tmpl, nil
}

// Device is one X10 module bound to its template. Property access is
// serialised per device.
type Device struct {
	id       string
	name     string
	addr     x10.Address
	template *Template

	// opMu orders set-and-send sequences; mu guards props.
	opMu  sync.Mutex
	mu    sync.Mutex
	props []translator.Property
}

func newDevice(addr x10.Address, tmpl *Template) (*Device, error) {
	d := &Device{
		id:       addr.DeviceID(),
		name:     fmt.Sprintf("X10 %s (%s)", tmpl.Name, addr),
		addr:     addr,
		template: tmpl,
	}
	for _, desc := range tmpl.Properties {
		p, err := translator.NewProperty(desc.Name)
		if err != nil {
			return nil, err
		}
		d.props = append(d.props, p)
	}
	return d, nil
}

func (d *Device) ID() string { return d.id }

func (d *Device) Name() string { return d.name }

func (d *Device) Address() x10.Address { return d.addr }

func (d *Device) Template() *Template { return d.template.clone() }

// Property returns the cached value of a property.
func (d *Device) Property(name string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.lookup(name)
	if p == nil {
		return nil, false
	}
	return p.Value(), true
}

// Properties returns a copy of all cached property values.
func (d *Device) Properties() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]any, len(d.props))
	for _, p := range d.props {
		out[p.Name()] = p.Value()
	}
	return out
}

// set updates the cached value and returns the command to send along with
// the applied value.
func (d *Device) set(name string, v any) (x10.Command, any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.lookup(name)
	if p == nil {
		return x10.Command{}, nil, fmt.Errorf("%s has no property %q: %w", d.id, name, translator.ErrUnknownProperty)
	}
	cmd, err := p.Set(d.addr, v)
	if err != nil {
		return x10.Command{}, nil, err
	}
	return cmd, p.Value(), nil
}

// restore loads saved values without producing commands. Unknown names and
// invalid values are skipped.
func (d *Device) restore(values map[string]any) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for name, v := range values {
		if p := d.lookup(name); p != nil && p.Restore(v) == nil {
			n++
		}
	}
	return n
}

func (d *Device) lookup(name string) translator.Property {
	for _, p := range d.props {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// DeviceInfo is the JSON view of a device.
type DeviceInfo struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name"`
	Address    x10.Address             `json:"address"`
	ModuleType string                  `json:"module_type"`
	Type       string                  `json:"type"`
	Properties map[string]any          `json:"properties"`
	Schema     []translator.Descriptor `json:"schema"`
}

// Info returns a snapshot of the device for serialisation.
func (d *Device) Info() DeviceInfo {
	return DeviceInfo{
		ID:         d.id,
		Name:       d.name,
		Address:    d.addr,
		ModuleType: d.template.ModuleType,
		Type:       d.template.Type,
		Properties: d.Properties(),
		Schema:     slices.Clone(d.template.Properties),
	}
}
