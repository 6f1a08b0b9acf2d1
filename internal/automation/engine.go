//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"x10-go-home/internal/adapter"
)

// runTimeout bounds a one-shot RunLuaCode execution.
const runTimeout = 5 * time.Second

// Host is the adapter surface scripts can reach.
type Host interface {
	Devices() []*adapter.Device
	Device(id string) (*adapter.Device, error)
	SetProperty(ctx context.Context, deviceID, name string, value any) (any, error)
	Events() *adapter.EventBus
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a callback registered with x10.on.
type luaEventHandler struct {
	eventType string
	device    string // device id, empty = any
	property  string // empty = any
	address   string // matches status events that mention this address
	fn        *lua.LFunction
}

// scriptVM is a Lua state owned by one script. All access to state happens
// on the goroutine draining commands.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState)
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	handlers []luaEventHandler
	logSink  func(string)
}

func (vm *scriptVM) addHandler(h luaEventHandler) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		return fmt.Errorf("too many handlers (max %d)", maxHandlersPerScript)
	}
	vm.handlers = append(vm.handlers, h)
	return nil
}

func (vm *scriptVM) snapshotHandlers() []luaEventHandler {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make([]luaEventHandler, len(vm.handlers))
	copy(out, vm.handlers)
	return out
}

// Engine runs enabled scripts and feeds them adapter events.
type Engine struct {
	host    Host
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

// NewEngine creates an automation engine.
func NewEngine(host Host, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		host:    host,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to adapter events and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.host.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop cancels every VM and unsubscribes from the event bus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.mu.Unlock()
	e.logger.Info("automation engine stopped")
}

// Running reports whether a VM exists for the script.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.vms[id]
	return ok
}

// ReloadScript replaces the script's VM with a fresh one. Disabled or
// missing scripts end up stopped.
func (e *Engine) ReloadScript(id string) error {
	e.StopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	vm, ok := e.vms[id]
	delete(e.vms, id)
	e.mu.Unlock()
	if ok {
		vm.cancel()
		e.logger.Info("script stopped", "id", id)
	}
}

// RunScript executes a stored script once in a throwaway VM.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: "script not found: " + err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a throwaway VM, then invokes every handler it
// registered once with a synthetic event so the actions can be observed.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	vm := e.newVM(ctx, cancel)
	defer vm.state.Close()
	vm.state.SetContext(ctx)

	var logs []string
	vm.logSink = func(msg string) { logs = append(logs, msg) }

	result := func(err error) *RunResult {
		r := &RunResult{OK: err == nil, Logs: logs, Duration: time.Since(start).String()}
		if err != nil {
			r.Error = err.Error()
			if strings.Contains(r.Error, "context deadline exceeded") {
				r.Error = fmt.Sprintf("timeout (%s)", runTimeout)
			}
			e.logger.Warn("run script", "err", r.Error)
		}
		return r
	}

	if err := vm.state.DoString(code); err != nil {
		return result(err)
	}
	for _, h := range vm.snapshotHandlers() {
		ev := vm.state.NewTable()
		ev.RawSetString("type", lua.LString(h.eventType))
		if h.device != "" {
			ev.RawSetString("device_id", lua.LString(h.device))
		}
		if h.property != "" {
			ev.RawSetString("property", lua.LString(h.property))
		}
		ev.RawSetString("value", lua.LTrue)
		if err := vm.state.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, ev); err != nil {
			return result(err)
		}
	}
	return result(nil)
}

// newVM builds a sandboxed Lua state with the x10 and system modules.
func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc) *scriptVM {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerX10Module(L, vm, e)
	registerSystemModule(L, vm, e)
	return vm
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := e.newVM(ctx, cancel)

	if err := vm.state.DoString(s.LuaCode); err != nil {
		cancel()
		vm.state.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer vm.state.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(vm.state)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// log writes a script log line and mirrors it to a RunLuaCode capture.
func (e *Engine) log(vm *scriptVM, level, msg string) {
	switch level {
	case "debug":
		e.logger.Debug("script log", "msg", msg)
	case "warn":
		e.logger.Warn("script log", "msg", msg)
	case "error":
		e.logger.Error("script log", "msg", msg)
	default:
		e.logger.Info("script log", "msg", msg)
	}
	vm.mu.Lock()
	sink := vm.logSink
	vm.mu.Unlock()
	if sink == nil {
		return
	}
	if level != "" && level != "info" {
		msg = "[" + level + "] " + msg
	}
	sink(msg)
}

// dispatchEvent queues matching handlers onto each VM's command loop.
func (e *Engine) dispatchEvent(event adapter.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		if vm.ctx.Err() != nil {
			continue
		}
		for _, h := range vm.snapshotHandlers() {
			if !matchesHandler(h, event) {
				continue
			}
			fn := h.fn
			select {
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, event) }:
			default:
				e.logger.Warn("script command queue full, dropping event", "type", event.Type)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event adapter.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	data, ok := event.Data.(map[string]any)
	if !ok {
		return h.device == "" && h.property == "" && h.address == ""
	}
	if h.device != "" {
		if id, _ := data["device_id"].(string); id != h.device {
			if !containsString(data["device_ids"], h.device) {
				return false
			}
		}
	}
	if h.property != "" {
		if prop, _ := data["property"].(string); prop != h.property {
			return false
		}
	}
	if h.address != "" && !containsString(data["addresses"], h.address) {
		return false
	}
	return true
}

func containsString(v any, want string) bool {
	list, ok := v.([]string)
	if !ok {
		return false
	}
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event adapter.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	ev := L.NewTable()
	ev.RawSetString("type", lua.LString(event.Type))
	switch data := event.Data.(type) {
	case map[string]any:
		for k, v := range data {
			ev.RawSetString(k, goToLua(L, v))
		}
	case string:
		ev.RawSetString("state", lua.LString(data))
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, ev); err != nil {
		e.logger.Error("lua handler error", "err", err)
	}
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case *float64:
		if val == nil {
			return lua.LNil
		}
		return lua.LNumber(*val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case fmt.Stringer:
		return lua.LString(val.String())
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
