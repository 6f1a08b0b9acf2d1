//go:build !no_automation

package automation

import (
	"context"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"x10-go-home/internal/adapter"
	"x10-go-home/internal/translator"
	"x10-go-home/internal/x10"
)

const (
	maxHandlersPerScript = 100
	commandTimeout       = 10 * time.Second
)

// registerX10Module installs the `x10` global table.
func registerX10Module(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"on": func(L *lua.LState) int { return x10On(L, vm) },
		"turn_on": func(L *lua.LState) int {
			return x10Set(L, vm, e, translator.PropOn, lua.LTrue)
		},
		"turn_off": func(L *lua.LState) int {
			return x10Set(L, vm, e, translator.PropOn, lua.LFalse)
		},
		"set_level": func(L *lua.LState) int {
			return x10Set(L, vm, e, translator.PropLevel, L.CheckNumber(2))
		},
		"get_property": func(L *lua.LState) int { return x10GetProperty(L, e) },
		"after":        func(L *lua.LState) int { return x10After(L, vm, e) },
		"log": func(L *lua.LState) int {
			e.log(vm, "info", L.CheckString(1))
			return 0
		},
		"devices": func(L *lua.LState) int { return x10Devices(L, e) },
	})
	L.SetGlobal("x10", mod)
}

// x10.on(type, filter, callback). filter may hold device, property and
// address keys.
func x10On(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}
	filter := L.OptTable(2, L.NewTable())
	h.fn = L.CheckFunction(3)

	if v := filter.RawGetString("device"); v != lua.LNil {
		h.device = v.String()
		if addr, err := x10.ParseAddress(h.device); err == nil {
			h.device = addr.DeviceID()
		}
	}
	if v := filter.RawGetString("property"); v != lua.LNil {
		h.property = v.String()
	}
	if v := filter.RawGetString("address"); v != lua.LNil {
		h.address = strings.ToUpper(v.String())
	}

	if err := vm.addHandler(h); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// x10.turn_on / turn_off / set_level(target[, level]). Returns true on
// success, or false and an error message.
func x10Set(L *lua.LState, vm *scriptVM, e *Engine, prop string, value lua.LValue) int {
	target := L.CheckString(1)
	dev := resolveDevice(e.host, target)
	if dev == nil {
		e.logger.Warn("device not found", "target", target)
		L.Push(lua.LFalse)
		L.Push(lua.LString("device not found: " + target))
		return 2
	}

	var v any
	switch lv := value.(type) {
	case lua.LBool:
		v = bool(lv)
	case lua.LNumber:
		v = float64(lv)
	}

	ctx, cancel := context.WithTimeout(vm.ctx, commandTimeout)
	defer cancel()
	if _, err := e.host.SetProperty(ctx, dev.ID(), prop, v); err != nil {
		e.logger.Error("set property", "target", target, "property", prop, "err", err)
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// x10.get_property(target, name)
func x10GetProperty(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	name := L.CheckString(2)

	dev := resolveDevice(e.host, target)
	if dev == nil {
		L.Push(lua.LNil)
		return 1
	}
	v, ok := dev.Property(name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(goToLua(L, v))
	return 1
}

// x10.after(seconds, callback) runs callback on the script's loop later.
func x10After(L *lua.LState, vm *scriptVM, e *Engine) int {
	delay := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		case <-vm.ctx.Done():
		}
	}()
	return 0
}

// x10.devices() returns a list of {id, name, address, module_type, type}.
func x10Devices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, dev := range e.host.Devices() {
		d := L.NewTable()
		d.RawSetString("id", lua.LString(dev.ID()))
		d.RawSetString("name", lua.LString(dev.Name()))
		d.RawSetString("address", lua.LString(dev.Address().String()))
		d.RawSetString("module_type", lua.LString(dev.Template().ModuleType))
		d.RawSetString("type", lua.LString(dev.Template().Type))
		tbl.RawSetInt(i+1, d)
	}
	L.Push(tbl)
	return 1
}

// resolveDevice finds a device by id, X10 address or name.
func resolveDevice(host Host, target string) *adapter.Device {
	if dev, err := host.Device(target); err == nil {
		return dev
	}
	if addr, err := x10.ParseAddress(target); err == nil {
		if dev, err := host.Device(addr.DeviceID()); err == nil {
			return dev
		}
	}
	for _, dev := range host.Devices() {
		if strings.EqualFold(dev.Name(), target) {
			return dev
		}
	}
	return nil
}
