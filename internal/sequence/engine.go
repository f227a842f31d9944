package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"benchlink/internal/gateway"

	lua "github.com/yuin/gopher-lua"
)

// RunResult is the result of a one-shot sequence execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Engine executes measurement sequences in sandboxed Lua VMs.
// Each run gets a fresh VM that is destroyed when the script finishes.
type Engine struct {
	gw      *gateway.Gateway
	manager *Manager
	logger  *slog.Logger
	timeout time.Duration
}

// NewEngine creates a new sequence engine.
func NewEngine(gw *gateway.Gateway, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		gw:      gw,
		manager: mgr,
		logger:  logger.With("component", "sequence"),
		timeout: 60 * time.Second,
	}
}

// List returns all scripts known to the manager.
func (e *Engine) List() ([]*Script, error) {
	return e.manager.List()
}

// RunScript executes a stored script by ID.
func (e *Engine) RunScript(ctx context.Context, id string) (*RunResult, error) {
	s, err := e.manager.Get(id)
	if err != nil {
		return nil, fmt.Errorf("get script: %w", err)
	}
	return e.Run(ctx, s.LuaCode), nil
}

// Run executes Lua code in a temporary sandboxed VM. The run is bounded by
// both the caller's context and the engine timeout.
func (e *Engine) Run(ctx context.Context, code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	defer L.Close()

	// Sandbox: remove dangerous libs and functions
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)

	L.SetContext(ctx)

	var logs []string
	var logMu sync.Mutex
	appendLog := func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
		e.gw.Events().Emit(gateway.Event{Type: gateway.EventSequenceLog, Message: msg})
	}

	e.registerDMMModule(L)
	e.registerBenchModule(L, ctx, appendLog)

	if err := L.DoString(code); err != nil {
		dur := time.Since(start)
		errStr := err.Error()
		if strings.Contains(errStr, "context deadline exceeded") {
			errStr = fmt.Sprintf("timeout (%s)", e.timeout)
		}
		e.logger.Warn("sequence error", "err", errStr)
		return &RunResult{OK: false, Error: errStr, Logs: logs, Duration: dur.String()}
	}

	dur := time.Since(start)
	e.logger.Info("sequence complete", "logs", len(logs), "duration", dur)
	return &RunResult{OK: true, Logs: logs, Duration: dur.String()}
}

// registerDMMModule exposes instrument access to Lua:
//
//	dmm.get(name)        -> current setting value
//	dmm.set(name, value) -> apply a setting
//	dmm.measure()        -> value, over_range
//	dmm.fetch()          -> table of buffered readings
func (e *Engine) registerDMMModule(L *lua.LState) {
	mod := L.NewTable()

	mod.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		v, err := e.gw.Setting(name)
		if err != nil {
			L.RaiseError("dmm.get %s: %s", name, err.Error())
			return 0
		}
		L.Push(goToLua(L, v))
		return 1
	}))

	mod.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		value := luaToGo(L.CheckAny(2))
		if err := e.gw.ApplySetting(name, value); err != nil {
			L.RaiseError("dmm.set %s: %s", name, err.Error())
		}
		return 0
	}))

	mod.RawSetString("measure", L.NewFunction(func(L *lua.LState) int {
		rd, err := e.gw.Measure()
		if err != nil {
			L.RaiseError("dmm.measure: %s", err.Error())
			return 0
		}
		L.Push(lua.LNumber(rd.Value))
		L.Push(lua.LBool(rd.OverRange))
		return 2
	}))

	mod.RawSetString("fetch", L.NewFunction(func(L *lua.LState) int {
		values, err := e.gw.FetchBuffer()
		if err != nil {
			L.RaiseError("dmm.fetch: %s", err.Error())
			return 0
		}
		t := L.NewTable()
		for i, v := range values {
			t.RawSetInt(i+1, lua.LNumber(v))
		}
		L.Push(t)
		return 1
	}))

	L.SetGlobal("dmm", mod)
}

// registerBenchModule exposes run utilities to Lua:
//
//	bench.sleep(ms) -> pause, aborts when the run is cancelled
//	bench.log(msg)  -> record a log line
func (e *Engine) registerBenchModule(L *lua.LState, ctx context.Context, appendLog func(string)) {
	mod := L.NewTable()

	mod.RawSetString("sleep", L.NewFunction(func(L *lua.LState) int {
		ms := L.CheckNumber(1)
		if ms < 0 {
			return 0
		}
		timer := time.NewTimer(time.Duration(float64(ms)) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			L.RaiseError("sequence cancelled")
		}
		return 0
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		appendLog(msg)
		e.logger.Info("sequence log", "msg", msg)
		return 0
	}))

	L.SetGlobal("bench", mod)
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
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
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value to a plain Go value.
func luaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	default:
		return val.String()
	}
}
