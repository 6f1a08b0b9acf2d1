// Package adapter exposes configured X10 modules as host devices and routes
// property changes through the translator to the power-line controller.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"x10-go-home/internal/cm11a"
	"x10-go-home/internal/store"
	"x10-go-home/internal/translator"
	"x10-go-home/internal/x10"
)

var (
	ErrDeviceNotFound    = errors.New("adapter: device not found")
	ErrDuplicateDevice   = errors.New("adapter: device already exists")
	ErrUnknownModuleType = errors.New("adapter: unknown module type")
)

// Adapter owns the controller link and the device set.
type Adapter struct {
	ctrl   cm11a.Controller
	store  store.Store
	events *EventBus
	logger *slog.Logger

	mu      sync.RWMutex
	devices map[string]*Device

	startedAt  time.Time
	closed     chan struct{}
	closedOnce sync.Once
	unloadOnce sync.Once
}

// New creates an adapter around an already opened controller. st may be nil
// to run without persisted state.
func New(ctrl cm11a.Controller, st store.Store, events *EventBus, logger *slog.Logger) *Adapter {
	a := &Adapter{
		ctrl:    ctrl,
		store:   st,
		events:  events,
		logger:  logger.With("component", "adapter"),
		devices: make(map[string]*Device),
		closed:  make(chan struct{}),
	}
	a.registerControllerHandlers()
	return a
}

func (a *Adapter) registerControllerHandlers() {
	a.ctrl.OnUnitStatus(a.handleUnitStatus)
	a.ctrl.OnClosed(func() {
		a.closedOnce.Do(func() { close(a.closed) })
	})
}

// Start registers every configured module. Invalid entries are logged and
// skipped; entries whose identifier is already registered are skipped
// silently. It returns the number of devices created.
func (a *Adapter) Start(modules []ModuleConfig) int {
	a.mu.Lock()
	a.startedAt = time.Now()
	a.mu.Unlock()
	a.events.Emit(Event{Type: EventControllerState, Data: "open"})

	created := 0
	for i, m := range modules {
		if _, err := a.AddDevice(m); err != nil {
			if errors.Is(err, ErrDuplicateDevice) {
				a.logger.Debug("module already registered", "index", i, "house_code", m.HouseCode, "unit_code", m.UnitCode)
				continue
			}
			a.logger.Warn("skipping invalid module", "index", i, "house_code", m.HouseCode,
				"unit_code", m.UnitCode, "module_type", m.ModuleType, "err", err)
			continue
		}
		created++
	}
	a.logger.Info("adapter started", "configured", len(modules), "devices", created)
	return created
}

// AddDevice creates and registers a device for m. It returns
// ErrDuplicateDevice if the identifier is taken.
func (a *Adapter) AddDevice(m ModuleConfig) (*Device, error) {
	addr, tmpl, err := m.Resolve()
	if err != nil {
		return nil, err
	}
	dev, err := newDevice(addr, tmpl)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	_, exists := a.devices[dev.ID()]
	a.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%s: %w", dev.ID(), ErrDuplicateDevice)
	}
	a.restoreState(dev)

	a.mu.Lock()
	if _, exists := a.devices[dev.ID()]; exists {
		a.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", dev.ID(), ErrDuplicateDevice)
	}
	a.devices[dev.ID()] = dev
	a.mu.Unlock()

	a.logger.Info("device added", "id", dev.ID(), "name", dev.Name(), "type", tmpl.Type)
	a.events.Emit(Event{Type: EventDeviceAdded, Data: map[string]any{
		"device_id":   dev.ID(),
		"name":        dev.Name(),
		"address":     addr.String(),
		"module_type": tmpl.ModuleType,
		"type":        tmpl.Type,
	}})
	return dev, nil
}

func (a *Adapter) restoreState(dev *Device) {
	if a.store == nil {
		return
	}
	st, err := a.store.GetState(dev.ID())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("load saved state", "id", dev.ID(), "err", err)
		}
		return
	}
	if st.ModuleType != "" && st.ModuleType != dev.Template().ModuleType {
		a.logger.Info("saved state belongs to another module type, ignoring", "id", dev.ID(), "saved", st.ModuleType)
		return
	}
	if n := dev.restore(st.Properties); n > 0 {
		a.logger.Debug("restored saved state", "id", dev.ID(), "properties", n)
	}
}

// Device returns the device with the given identifier.
func (a *Adapter) Device(id string) (*Device, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	dev, ok := a.devices[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrDeviceNotFound)
	}
	return dev, nil
}

// Devices returns all devices ordered by identifier.
func (a *Adapter) Devices() []*Device {
	a.mu.RLock()
	out := make([]*Device, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, d)
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// SetProperty applies a host property change: the value is validated and
// cached, a property_changed event is emitted, then the resulting command is
// sent. A send failure is returned after the value has been applied.
func (a *Adapter) SetProperty(ctx context.Context, deviceID, name string, value any) (any, error) {
	dev, err := a.Device(deviceID)
	if err != nil {
		return nil, err
	}

	dev.opMu.Lock()
	defer dev.opMu.Unlock()

	cmd, applied, err := dev.set(name, value)
	if err != nil {
		return nil, err
	}

	a.saveState(dev)
	a.events.Emit(Event{Type: EventPropertyChanged, Data: map[string]any{
		"device_id": deviceID,
		"property":  name,
		"value":     applied,
	}})

	if err := cm11a.Send(ctx, a.ctrl, cmd); err != nil {
		a.logger.Error("send command", "id", deviceID, "command", cmd.String(), "err", err)
		return applied, fmt.Errorf("send %s: %w", cmd, err)
	}
	a.logger.Info("property set", "id", deviceID, "property", name, "value", applied, "command", cmd.String())
	return applied, nil
}

func (a *Adapter) saveState(dev *Device) {
	if a.store == nil {
		return
	}
	props := dev.Properties()
	err := a.store.UpdateState(dev.ID(), func(st *store.DeviceState) error {
		st.Address = dev.Address().String()
		st.ModuleType = dev.Template().ModuleType
		st.Properties = props
		st.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		a.logger.Error("save state", "id", dev.ID(), "err", err)
	}
}

// handleUnitStatus reports power-line activity. Cached property values are
// left untouched.
func (a *Adapter) handleUnitStatus(st x10.UnitStatus) {
	u := translator.DescribeStatus(st)
	a.logger.Info("unit status", "house", u.House.String(), "function", u.Function.String(), "devices", u.DeviceIDs)

	a.events.Emit(Event{Type: EventUnitStatus, Data: StatusEventData(u)})

	if a.store == nil {
		return
	}
	rec := &store.StatusRecord{
		Time:     u.Time,
		Function: u.Function.String(),
		Level:    u.Level,
		On:       u.On,
	}
	if u.House.Valid() {
		rec.House = u.House.String()
	}
	for _, addr := range u.Addresses {
		rec.Addresses = append(rec.Addresses, addr.String())
	}
	if err := a.store.RecordStatus(rec); err != nil {
		a.logger.Error("record status", "err", err)
	}
}

// StatusEventData is the event payload for a status update.
func StatusEventData(u translator.StatusUpdate) map[string]any {
	addrs := make([]string, 0, len(u.Addresses))
	for _, a := range u.Addresses {
		addrs = append(addrs, a.String())
	}
	data := map[string]any{
		"house":      "",
		"addresses":  addrs,
		"device_ids": u.DeviceIDs,
		"function":   u.Function.String(),
	}
	if u.House.Valid() {
		data["house"] = u.House.String()
	}
	if u.On != nil {
		data["on"] = *u.On
	}
	if u.Level != nil {
		data["level"] = *u.Level
	}
	return data
}

// RecentStatus returns the most recent status records, newest first.
func (a *Adapter) RecentStatus(limit int) ([]*store.StatusRecord, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.RecentStatus(limit)
}

// Events returns the event bus.
func (a *Adapter) Events() *EventBus {
	return a.events
}

// Info returns adapter runtime information.
func (a *Adapter) Info() map[string]any {
	a.mu.RLock()
	n := len(a.devices)
	started := a.startedAt
	a.mu.RUnlock()
	state := "open"
	select {
	case <-a.closed:
		state = "closed"
	default:
	}
	return map[string]any{
		"controller": state,
		"devices":    n,
		"started_at": started,
	}
}

// Unload closes the controller and blocks until it reports closed. There is
// no timeout on the wait.
func (a *Adapter) Unload() {
	a.unloadOnce.Do(func() {
		if err := a.ctrl.Close(); err != nil {
			a.logger.Warn("close controller", "err", err)
		}
		<-a.closed
		a.events.Emit(Event{Type: EventControllerState, Data: "closed"})
		a.logger.Info("adapter unloaded")
	})
}
