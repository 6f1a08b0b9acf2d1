package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"x10-go-home/internal/store"
	"x10-go-home/internal/translator"
	"x10-go-home/internal/x10"
)

// stubController records commands instead of driving a serial link.
type stubController struct {
	mu       sync.Mutex
	commands []x10.Command
	sendErr  error
	onStatus func(x10.UnitStatus)
	onClosed func()
	closed   int
}

func (s *stubController) record(kind x10.CommandKind, addrs []x10.Address, steps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range addrs {
		s.commands = append(s.commands, x10.Command{Kind: kind, Address: a, Steps: steps})
	}
	return s.sendErr
}

func (s *stubController) TurnOn(_ context.Context, addrs ...x10.Address) error {
	return s.record(x10.TurnOn, addrs, 0)
}
func (s *stubController) TurnOff(_ context.Context, addrs ...x10.Address) error {
	return s.record(x10.TurnOff, addrs, 0)
}
func (s *stubController) Brighten(_ context.Context, addrs []x10.Address, steps int) error {
	return s.record(x10.Brighten, addrs, steps)
}
func (s *stubController) Dim(_ context.Context, addrs []x10.Address, steps int) error {
	return s.record(x10.Dim, addrs, steps)
}
func (s *stubController) OnUnitStatus(h func(x10.UnitStatus)) { s.onStatus = h }
func (s *stubController) OnClosed(h func())                   { s.onClosed = h }
func (s *stubController) Close() error {
	s.mu.Lock()
	s.closed++
	h := s.onClosed
	s.mu.Unlock()
	if h != nil {
		go h()
	}
	return nil
}

func (s *stubController) sent() []x10.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]x10.Command(nil), s.commands...)
}

// memStore is a minimal in-memory store for adapter tests.
type memStore struct {
	mu     sync.Mutex
	states map[string]*store.DeviceState
	status []*store.StatusRecord
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]*store.DeviceState)}
}

func (m *memStore) SaveState(st *store.DeviceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.DeviceID] = st
	return nil
}
func (m *memStore) GetState(id string) (*store.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st, nil
}
func (m *memStore) DeleteState(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}
func (m *memStore) ListStates() ([]*store.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.DeviceState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	return out, nil
}
func (m *memStore) UpdateState(id string, fn func(*store.DeviceState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		st = &store.DeviceState{DeviceID: id}
	}
	if err := fn(st); err != nil {
		return err
	}
	m.states[id] = st
	return nil
}
func (m *memStore) RecordStatus(rec *store.StatusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Seq = uint64(len(m.status) + 1)
	m.status = append(m.status, rec)
	return nil
}
func (m *memStore) RecentStatus(limit int) ([]*store.StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.StatusRecord
	for i := len(m.status) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.status[i])
	}
	return out, nil
}
func (m *memStore) Close() error { return nil }

func newTestAdapter(t *testing.T) (*Adapter, *stubController, *memStore) {
	t.Helper()
	ctrl := &stubController{}
	ms := newMemStore()
	a := New(ctrl, ms, NewEventBus(newTestLogger()), newTestLogger())
	return a, ctrl, ms
}

func TestStartRegistersModules(t *testing.T) {
	a, _, _ := newTestAdapter(t)

	n := a.Start([]ModuleConfig{
		{HouseCode: "A", UnitCode: 1, ModuleType: ModuleLamp},
		{HouseCode: "A", UnitCode: 2, ModuleType: ModuleAppliance},
		{HouseCode: "B", UnitCode: 1, ModuleType: ModuleSwitch},
		{HouseCode: "B", UnitCode: 2, ModuleType: ModuleDimmer},
		{HouseCode: "C", UnitCode: 1, ModuleType: ModuleSensor},
	})
	if n != 5 {
		t.Fatalf("created %d devices, want 5", n)
	}

	dev, err := a.Device("x10-A1")
	if err != nil {
		t.Fatal(err)
	}
	if dev.Name() != "X10 Lamp Module (A1)" {
		t.Errorf("name = %q", dev.Name())
	}
	if dev.Template().Type != CapDimmableLight {
		t.Errorf("type = %q", dev.Template().Type)
	}
	props := dev.Properties()
	if props["on"] != false || props["level"] != 100.0 {
		t.Errorf("defaults = %v", props)
	}

	dimmer, _ := a.Device("x10-B2")
	if dimmer.Name() != "X10 Dimmer Switch (B2)" || dimmer.Template().Type != CapMultiLevelSwitch {
		t.Errorf("dimmer = %q %q", dimmer.Name(), dimmer.Template().Type)
	}
	appliance, _ := a.Device("x10-A2")
	if _, ok := appliance.Property("level"); ok {
		t.Error("appliance module should not have a level property")
	}
}

func TestStartSkipsDuplicatesAndInvalid(t *testing.T) {
	a, _, _ := newTestAdapter(t)

	var added []string
	a.Events().On(EventDeviceAdded, func(e Event) {
		added = append(added, e.Data.(map[string]any)["device_id"].(string))
	})

	n := a.Start([]ModuleConfig{
		{HouseCode: "A", UnitCode: 1, ModuleType: ModuleLamp},
		{HouseCode: "A", UnitCode: 1, ModuleType: ModuleAppliance},
		{HouseCode: "A", UnitCode: 2, ModuleType: "Toaster"},
		{HouseCode: "Z", UnitCode: 1, ModuleType: ModuleLamp},
		{HouseCode: "A", UnitCode: 17, ModuleType: ModuleLamp},
		{HouseCode: "A", UnitCode: 3, ModuleType: ModuleSwitch},
	})
	if n != 2 {
		t.Errorf("created %d devices, want 2", n)
	}
	if len(a.Devices()) != 2 {
		t.Errorf("got %d devices", len(a.Devices()))
	}
	if len(added) != 2 || added[0] != "x10-A1" || added[1] != "x10-A3" {
		t.Errorf("device_added events = %v", added)
	}
	dev, _ := a.Device("x10-A1")
	if dev.Template().ModuleType != ModuleLamp {
		t.Errorf("first registration should win, got %q", dev.Template().ModuleType)
	}

	// A second bulk load is idempotent.
	if n := a.Start([]ModuleConfig{{HouseCode: "A", UnitCode: 1, ModuleType: ModuleLamp}}); n != 0 {
		t.Errorf("reload created %d devices", n)
	}
}

func TestAddDeviceErrors(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if _, err := a.AddDevice(ModuleConfig{HouseCode: "D", UnitCode: 4, ModuleType: ModuleLamp}); err != nil {
		t.Fatal(err)
	}
	_, err := a.AddDevice(ModuleConfig{HouseCode: "D", UnitCode: 4, ModuleType: ModuleLamp})
	if !errors.Is(err, ErrDuplicateDevice) {
		t.Errorf("duplicate err = %v", err)
	}
	_, err = a.AddDevice(ModuleConfig{HouseCode: "D", UnitCode: 5, ModuleType: "Fan"})
	if !errors.Is(err, ErrUnknownModuleType) {
		t.Errorf("unknown type err = %v", err)
	}
	_, err = a.AddDevice(ModuleConfig{HouseCode: "DD", UnitCode: 5, ModuleType: ModuleLamp})
	if !errors.Is(err, x10.ErrInvalidAddress) {
		t.Errorf("bad house err = %v", err)
	}
}

func TestSetPropertySendsCommands(t *testing.T) {
	a, ctrl, ms := newTestAdapter(t)
	a.Start([]ModuleConfig{{HouseCode: "A", UnitCode: 1, ModuleType: ModuleLamp}})

	var changes []map[string]any
	a.Events().On(EventPropertyChanged, func(e Event) {
		changes = append(changes, e.Data.(map[string]any))
	})

	ctx := context.Background()
	if _, err := a.SetProperty(ctx, "x10-A1", "on", true); err != nil {
		t.Fatal(err)
	}
	if _, err := a.SetProperty(ctx, "x10-A1", "level", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := a.SetProperty(ctx, "x10-A1", "level", 50); err != nil {
		t.Fatal(err)
	}
	if _, err := a.SetProperty(ctx, "x10-A1", "level", 20.0); err != nil {
		t.Fatal(err)
	}

	a1, _ := x10.ParseAddress("A1")
	want := []x10.Command{
		{Kind: x10.TurnOn, Address: a1},
		{Kind: x10.Dim, Address: a1, Steps: 22},
		{Kind: x10.Brighten, Address: a1, Steps: 11},
		{Kind: x10.Dim, Address: a1, Steps: 7},
	}
	got := ctrl.sent()
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = %s, want %s", i, got[i], want[i])
		}
	}

	if len(changes) != 4 || changes[3]["value"] != 20.0 || changes[0]["property"] != "on" {
		t.Errorf("property_changed events = %v", changes)
	}

	st, err := ms.GetState("x10-A1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Properties["level"] != 20.0 || st.Properties["on"] != true {
		t.Errorf("saved state = %v", st.Properties)
	}
}

func TestSetPropertyRepeatedOn(t *testing.T) {
	a, ctrl, _ := newTestAdapter(t)
	a.Start([]ModuleConfig{{HouseCode: "A", UnitCode: 1, ModuleType: ModuleAppliance}})

	for i := 0; i < 2; i++ {
		if _, err := a.SetProperty(context.Background(), "x10-A1", "on", true); err != nil {
			t.Fatal(err)
		}
	}
	got := ctrl.sent()
	if len(got) != 2 || got[0] != got[1] || got[0].Kind != x10.TurnOn {
		t.Errorf("sent %v", got)
	}
}

func TestSetPropertyErrors(t *testing.T) {
	a, ctrl, _ := newTestAdapter(t)
	a.Start([]ModuleConfig{
		{HouseCode: "A", UnitCode: 1, ModuleType: ModuleAppliance},
		{HouseCode: "B", UnitCode: 2, ModuleType: ModuleLamp},
	})
	ctx := context.Background()

	if _, err := a.SetProperty(ctx, "x10-P16", "on", true); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("missing device err = %v", err)
	}
	if _, err := a.SetProperty(ctx, "x10-A1", "level", 10); err == nil {
		t.Error("expected error for level on appliance module")
	}
	if _, err := a.SetProperty(ctx, "x10-A1", "on", "maybe"); err == nil {
		t.Error("expected error for invalid value")
	}
	if applied, err := a.SetProperty(ctx, "x10-B2", "level", 33.3); !errors.Is(err, translator.ErrInvalidValue) || applied != nil {
		t.Errorf("fractional level: applied=%v err=%v", applied, err)
	}
	lamp, _ := a.Device("x10-B2")
	if v, _ := lamp.Property("level"); v != float64(translator.DefaultLevel) {
		t.Errorf("cached level = %v after rejected change, want %v", v, translator.DefaultLevel)
	}
	if len(ctrl.sent()) != 0 {
		t.Errorf("rejected changes sent commands: %v", ctrl.sent())
	}

	ctrl.sendErr = errors.New("line busy")
	applied, err := a.SetProperty(ctx, "x10-A1", "on", true)
	if err == nil || !errors.Is(err, ctrl.sendErr) {
		t.Fatalf("send failure err = %v", err)
	}
	if applied != true {
		t.Errorf("applied = %v", applied)
	}
	dev, _ := a.Device("x10-A1")
	if v, _ := dev.Property("on"); v != true {
		t.Errorf("cached value = %v, want true despite send failure", v)
	}
}

func TestUnitStatusDoesNotChangeProperties(t *testing.T) {
	a, ctrl, ms := newTestAdapter(t)
	a.Start([]ModuleConfig{{HouseCode: "A", UnitCode: 1, ModuleType: ModuleLamp}})

	var status map[string]any
	a.Events().On(EventUnitStatus, func(e Event) {
		status = e.Data.(map[string]any)
	})

	a1, _ := x10.ParseAddress("A1")
	ctrl.onStatus(x10.UnitStatus{House: 'A', Addresses: []x10.Address{a1}, Function: x10.FuncOn})

	if status == nil || status["function"] != "on" || status["on"] != true {
		t.Fatalf("unit_status event = %v", status)
	}
	dev, _ := a.Device("x10-A1")
	if v, _ := dev.Property("on"); v != false {
		t.Errorf("status report changed on to %v", v)
	}
	if len(ctrl.sent()) != 0 {
		t.Errorf("status report sent commands: %v", ctrl.sent())
	}
	recs, _ := ms.RecentStatus(10)
	if len(recs) != 1 || recs[0].Function != "on" || recs[0].Addresses[0] != "A1" {
		t.Errorf("status log = %v", recs)
	}
}

func TestRestoreSavedState(t *testing.T) {
	ctrl := &stubController{}
	ms := newMemStore()
	ms.SaveState(&store.DeviceState{
		DeviceID:   "x10-B3",
		ModuleType: ModuleLamp,
		Properties: map[string]any{"on": true, "level": 30.0, "bogus": 1},
	})
	a := New(ctrl, ms, NewEventBus(newTestLogger()), newTestLogger())
	a.Start([]ModuleConfig{{HouseCode: "B", UnitCode: 3, ModuleType: ModuleLamp}})

	dev, _ := a.Device("x10-B3")
	props := dev.Properties()
	if props["on"] != true || props["level"] != 30.0 {
		t.Errorf("restored = %v", props)
	}
	if len(ctrl.sent()) != 0 {
		t.Error("restore should not send commands")
	}

	// Level change is measured from the restored value.
	if _, err := a.SetProperty(context.Background(), "x10-B3", "level", 80); err != nil {
		t.Fatal(err)
	}
	got := ctrl.sent()
	if len(got) != 1 || got[0].Kind != x10.Brighten || got[0].Steps != 11 {
		t.Errorf("sent %v", got)
	}
}

func TestUnloadWaitsForClosed(t *testing.T) {
	a, ctrl, _ := newTestAdapter(t)
	a.Start(nil)

	done := make(chan struct{})
	go func() {
		a.Unload()
		a.Unload()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Unload did not return")
	}
	if ctrl.closed != 1 {
		t.Errorf("controller closed %d times", ctrl.closed)
	}
	if a.Info()["controller"] != "closed" {
		t.Errorf("info = %v", a.Info())
	}
}

func TestTemplates(t *testing.T) {
	list := Templates()
	if len(list) != 5 {
		t.Fatalf("got %d templates", len(list))
	}
	tests := []struct {
		module   string
		capType  string
		dimmable bool
	}{
		{ModuleLamp, CapDimmableLight, true},
		{ModuleAppliance, CapOnOffLight, false},
		{ModuleSwitch, CapOnOffSwitch, false},
		{ModuleDimmer, CapMultiLevelSwitch, true},
		{ModuleSensor, CapBinarySensor, false},
	}
	for _, tt := range tests {
		tmpl, err := LookupTemplate(tt.module)
		if err != nil {
			t.Fatal(err)
		}
		if tmpl.Type != tt.capType || tmpl.Dimmable() != tt.dimmable {
			t.Errorf("%s: type=%s dimmable=%v", tt.module, tmpl.Type, tmpl.Dimmable())
		}
		if tmpl.Properties[0].Name != "on" || tmpl.Properties[0].Default != false {
			t.Errorf("%s: first property = %+v", tt.module, tmpl.Properties[0])
		}
	}
}

func TestTemplatesCannotBeMutated(t *testing.T) {
	tmpl, err := LookupTemplate(ModuleLamp)
	if err != nil {
		t.Fatal(err)
	}
	tmpl.Name = "changed"
	tmpl.Properties[0].Name = "changed"
	Templates()[0].Properties[0].Default = "changed"

	fresh, _ := LookupTemplate(ModuleLamp)
	if fresh.Name != "Lamp Module" || fresh.Properties[0].Name != "on" {
		t.Errorf("lookup copy leaked into registry: %+v", fresh)
	}
	for _, tt := range Templates() {
		if tt.Properties[0].Default != false {
			t.Errorf("%s: default = %v after mutating a copy", tt.ModuleType, tt.Properties[0].Default)
		}
	}

	a, _, _ := newTestAdapter(t)
	a.Start([]ModuleConfig{{HouseCode: "A", UnitCode: 1, ModuleType: ModuleLamp}})
	lamp, _ := a.Device("x10-A1")
	lamp.Info().Schema[0].Name = "changed"
	lamp.Template().Properties[1].Name = "changed"
	if info := lamp.Info(); info.Schema[0].Name != "on" || info.Schema[1].Name != "level" {
		t.Errorf("device schema mutated through a returned copy: %+v", info.Schema)
	}
}
