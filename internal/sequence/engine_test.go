package sequence

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"benchlink/internal/dmm"
	"benchlink/internal/gateway"
	"benchlink/internal/scpi"
	"benchlink/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	logger := testLogger()
	gw := gateway.New(dmm.NewSimulated(logger), st, gateway.NewEventBus(logger), logger)

	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(gw, mgr, logger)
}

func TestRunCapturesLogs(t *testing.T) {
	e := newTestEngine(t)

	res := e.Run(context.Background(), `
bench.log("start")
bench.log("done")
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 2 || res.Logs[0] != "start" || res.Logs[1] != "done" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRunInstrumentAccess(t *testing.T) {
	e := newTestEngine(t)

	res := e.Run(context.Background(), `
dmm.set("measurement.function", "four_wire_resistance")
dmm.set("nplc", 10)
bench.log(dmm.get("measurement.function"))
local v, over = dmm.measure()
if over then
	bench.log("over range")
else
	bench.log("in range")
end
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 2 {
		t.Fatalf("logs = %v", res.Logs)
	}
	if res.Logs[0] != "four_wire_resistance" {
		t.Errorf("function log = %q", res.Logs[0])
	}
	if res.Logs[1] != "in range" {
		t.Errorf("range log = %q", res.Logs[1])
	}

	fn, err := e.gw.Setting("measurement.function")
	if err != nil {
		t.Fatal(err)
	}
	if fn != scpi.FunctionFourWireResistance {
		t.Errorf("function after run = %v", fn)
	}
}

func TestRunReportsScriptError(t *testing.T) {
	e := newTestEngine(t)

	res := e.Run(context.Background(), `dmm.set("digits", 3)`)
	if res.OK {
		t.Fatal("expected failure for out-of-range digits")
	}
	if !strings.Contains(res.Error, "digits") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRunSyntaxError(t *testing.T) {
	e := newTestEngine(t)

	res := e.Run(context.Background(), `this is not lua`)
	if res.OK {
		t.Fatal("expected syntax error")
	}
	if res.Error == "" {
		t.Error("missing error message")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	e := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := e.Run(ctx, `bench.sleep(10000)`)
	if res.OK {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not interrupt sleep")
	}
}

func TestRunScriptFromManager(t *testing.T) {
	e := newTestEngine(t)

	script := &Script{
		ID:      "warmup",
		Meta:    ScriptMeta{Name: "Warm-up check", Description: "nplc sweep"},
		LuaCode: `bench.log("warmup")`,
	}
	if err := e.manager.Save(script); err != nil {
		t.Fatal(err)
	}

	res, err := e.RunScript(context.Background(), "warmup")
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || len(res.Logs) != 1 || res.Logs[0] != "warmup" {
		t.Errorf("result = %+v", res)
	}

	if _, err := e.RunScript(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown script")
	}
}

func TestManagerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	s := &Script{
		ID:      "sweep",
		Meta:    ScriptMeta{Name: "Resistance sweep"},
		LuaCode: "bench.log(\"hi\")\n",
	}
	if err := mgr.Save(s); err != nil {
		t.Fatal(err)
	}

	got, err := mgr.Get("sweep")
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta.Name != "Resistance sweep" {
		t.Errorf("name = %q", got.Meta.Name)
	}
	if got.LuaCode != "bench.log(\"hi\")\n" {
		t.Errorf("code = %q", got.LuaCode)
	}

	list, err := mgr.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("list = %d scripts", len(list))
	}

	if err := mgr.Delete("sweep"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Get("sweep"); !os.IsNotExist(err) {
		t.Errorf("get after delete: %v", err)
	}
}

func TestManagerRejectsBadIDs(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"", "..", "a/b", "a\\b", "../escape"} {
		if _, err := mgr.Get(id); err == nil {
			t.Errorf("Get(%q) accepted", id)
		}
		if err := mgr.Delete(id); err == nil {
			t.Errorf("Delete(%q) accepted", id)
		}
	}
}
