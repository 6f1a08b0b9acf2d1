//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// now is replaced in tests.
var now = time.Now

// registerSystemModule installs the `system` global table.
func registerSystemModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"datetime":     systemDatetime,
		"time_between": systemTimeBetween,
		"log": func(L *lua.LState) int {
			e.log(vm, L.CheckString(1), L.CheckString(2))
			return 0
		},
	})
	L.SetGlobal("system", mod)
}

// system.datetime(component)
func systemDatetime(L *lua.LState) int {
	component := L.CheckString(1)
	t := now()

	switch component {
	case "hour":
		L.Push(lua.LNumber(t.Hour()))
	case "minute":
		L.Push(lua.LNumber(t.Minute()))
	case "second":
		L.Push(lua.LNumber(t.Second()))
	case "weekday":
		L.Push(lua.LNumber(t.Weekday()))
	case "day":
		L.Push(lua.LNumber(t.Day()))
	case "month":
		L.Push(lua.LNumber(t.Month()))
	case "year":
		L.Push(lua.LNumber(t.Year()))
	case "timestamp":
		L.Push(lua.LNumber(t.Unix()))
	case "time_str":
		L.Push(lua.LString(t.Format("15:04:05")))
	case "date_str":
		L.Push(lua.LString(t.Format("2006-01-02")))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// system.time_between(from_hour, to_hour) wraps past midnight when
// from_hour > to_hour.
func systemTimeBetween(L *lua.LState) int {
	from := L.CheckInt(1)
	to := L.CheckInt(2)
	L.Push(lua.LBool(hourBetween(now().Hour(), from, to)))
	return 1
}

func hourBetween(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour < to
	}
	return hour >= from || hour < to
}
