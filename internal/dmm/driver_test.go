package dmm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"benchlink/internal/scpi"
)

// fakeTransport records traffic and answers queries from a canned table.
type fakeTransport struct {
	replies map[string]string
	asks    []string
	writes  []string
	failAsk error
	failWr  error
	closed  bool
}

func (f *fakeTransport) Write(cmd string) error {
	if f.failWr != nil {
		return f.failWr
	}
	f.writes = append(f.writes, cmd)
	return nil
}

func (f *fakeTransport) Ask(cmd string) (string, error) {
	if f.failAsk != nil {
		return "", f.failAsk
	}
	f.asks = append(f.asks, cmd)
	reply, ok := f.replies[cmd]
	if !ok {
		return "", fmt.Errorf("fake: no reply for %q", cmd)
	}
	return reply, nil
}

func (f *fakeTransport) Clear() error { return nil }
func (f *fakeTransport) Close() error { f.closed = true; return nil }

func (f *fakeTransport) askCount(cmd string) int {
	n := 0
	for _, a := range f.asks {
		if a == cmd {
			n++
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dcVoltsReplies is a baseline canned instrument sitting in DC volts.
func dcVoltsReplies() map[string]string {
	return map[string]string{
		":sense:function?":    `"VOLT:DC"`,
		"volt:dc:range?":      "1.000000E+01",
		"volt:dc:range:auto?": "1",
		"volt:dc:digits?":     "6",
		"volt:dc:nplc?":       "1.00000000E+00",
		"volt:dc:aver:stat?":  "0",
		"volt:dc:aver:tcon?":  `"MOV"`,
		"volt:dc:aver:count?": "10",
		":init:cont?":         "0",
		":trigger:source?":    "IMM",
		":trigger:delay?":     "0",
		":trigger:delay:auto?": "1",
		":sample:count?":      "1",
		":trigger:count?":     "1",
	}
}

func newTestDriver(t *testing.T) (*Driver, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{replies: dcVoltsReplies()}
	return New(tr, testLogger()), tr
}

func TestGetCachesAfterFirstQuery(t *testing.T) {
	d, tr := newTestDriver(t)

	v1, err := d.Digits()
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	v2, err := d.Digits()
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if v1 != 6 || v2 != 6 {
		t.Errorf("digits = %d, %d, want 6", v1, v2)
	}
	if n := tr.askCount("volt:dc:digits?"); n != 1 {
		t.Errorf("device queried %d times, want 1", n)
	}
}

func TestGetResolvesFunctionOnce(t *testing.T) {
	d, tr := newTestDriver(t)

	// A burst of scoped reads shares one :sense:function? query.
	if _, err := d.Digits(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.NPLC(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.FilterCount(); err != nil {
		t.Fatal(err)
	}
	if n := tr.askCount(":sense:function?"); n != 1 {
		t.Errorf(":sense:function? queried %d times, want 1", n)
	}
}

func TestFunctionChangeInvalidatesDependents(t *testing.T) {
	d, tr := newTestDriver(t)

	if _, err := d.NPLC(); err != nil {
		t.Fatal(err)
	}
	if n := tr.askCount("volt:dc:nplc?"); n != 1 {
		t.Fatalf("nplc queried %d times before switch", n)
	}

	// Switch to 2-wire resistance; the cached NPLC must go stale even
	// though its numeric value may be identical.
	tr.replies["res:nplc?"] = "1.00000000E+00"
	if err := d.SetMeasurementFunction(scpi.FunctionTwoWireResistance); err != nil {
		t.Fatalf("set function: %v", err)
	}

	if _, err := d.NPLC(); err != nil {
		t.Fatal(err)
	}
	if n := tr.askCount("res:nplc?"); n != 1 {
		t.Errorf("nplc not re-queried under new function (got %d queries)", n)
	}
}

func TestFunctionChangeKeepsFunctionValid(t *testing.T) {
	d, tr := newTestDriver(t)

	if err := d.SetMeasurementFunction(scpi.FunctionFrequency); err != nil {
		t.Fatal(err)
	}
	f, err := d.MeasurementFunction()
	if err != nil {
		t.Fatal(err)
	}
	if f != scpi.FunctionFrequency {
		t.Errorf("function = %q, want frequency", f)
	}
	if n := tr.askCount(":sense:function?"); n != 0 {
		t.Errorf("function re-queried after explicit set (%d queries)", n)
	}
}

func TestSetDigitsValidation(t *testing.T) {
	d, tr := newTestDriver(t)

	if err := d.SetDigits(3); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("SetDigits(3) = %v, want ErrUnsupportedValue", err)
	}
	if len(tr.writes) != 0 {
		t.Errorf("rejected set reached the device: %v", tr.writes)
	}

	if err := d.SetDigits(5); err != nil {
		t.Fatalf("SetDigits(5): %v", err)
	}
	asksBefore := len(tr.asks)
	v, err := d.Digits()
	if err != nil {
		t.Fatal(err)
	}
	if v != 5 {
		t.Errorf("digits = %d, want 5", v)
	}
	if len(tr.asks) != asksBefore {
		t.Error("get after set hit the device")
	}
}

func TestSetNPLCBoundaries(t *testing.T) {
	d, _ := newTestDriver(t)

	for _, bad := range []float64{0.005, 15} {
		if err := d.SetNPLC(bad); !errors.Is(err, ErrUnsupportedValue) {
			t.Errorf("SetNPLC(%g) = %v, want ErrUnsupportedValue", bad, err)
		}
	}
	for _, good := range []float64{0.01, 10} {
		if err := d.SetNPLC(good); err != nil {
			t.Errorf("SetNPLC(%g): %v", good, err)
		}
	}
}

func TestSetFilterCountValidation(t *testing.T) {
	d, _ := newTestDriver(t)

	for _, bad := range []int{0, 101} {
		if err := d.SetFilterCount(bad); !errors.Is(err, ErrUnsupportedValue) {
			t.Errorf("SetFilterCount(%d) = %v, want ErrUnsupportedValue", bad, err)
		}
	}
	if err := d.SetFilterCount(100); err != nil {
		t.Errorf("SetFilterCount(100): %v", err)
	}
}

func TestRejectedSetPreservesCachedValue(t *testing.T) {
	d, _ := newTestDriver(t)

	if err := d.SetDigits(6); err != nil {
		t.Fatal(err)
	}
	if err := d.SetDigits(99); !errors.Is(err, ErrUnsupportedValue) {
		t.Fatalf("SetDigits(99) = %v", err)
	}
	v, err := d.Digits()
	if err != nil {
		t.Fatal(err)
	}
	if v != 6 {
		t.Errorf("digits = %d after rejected set, want 6", v)
	}
}

func TestInapplicableSettingSkipsDevice(t *testing.T) {
	d, tr := newTestDriver(t)

	// Cache a filter count under DC volts first.
	if err := d.SetFilterCount(42); err != nil {
		t.Fatal(err)
	}

	// Frequency has no filter command table entry.
	if err := d.SetMeasurementFunction(scpi.FunctionFrequency); err != nil {
		t.Fatal(err)
	}
	asksBefore := len(tr.asks)

	v, err := d.FilterCount()
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Errorf("filter count = %d, want previous in-memory 42", v)
	}
	if len(tr.asks) != asksBefore {
		t.Errorf("inapplicable read hit the device: %v", tr.asks[asksBefore:])
	}

	// Writes are skipped the same way, but the value is accepted.
	writesBefore := len(tr.writes)
	if err := d.SetFilterCount(7); err != nil {
		t.Fatal(err)
	}
	if len(tr.writes) != writesBefore {
		t.Errorf("inapplicable write hit the device: %v", tr.writes[writesBefore:])
	}
	if v, _ := d.FilterCount(); v != 7 {
		t.Errorf("filter count = %d, want accepted 7", v)
	}
}

func TestInapplicableReadStaysStale(t *testing.T) {
	d, tr := newTestDriver(t)

	if err := d.SetMeasurementFunction(scpi.FunctionFrequency); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Digits(); err != nil {
		t.Fatal(err)
	}

	// Back to a function where digits applies: the read must go to the
	// device because the inapplicable read did not mark the cache valid.
	if err := d.SetMeasurementFunction(scpi.FunctionDCVolts); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Digits(); err != nil {
		t.Fatal(err)
	}
	if n := tr.askCount("volt:dc:digits?"); n != 1 {
		t.Errorf("digits queried %d times after returning to dc_volts, want 1", n)
	}
}

func TestTransportErrorLeavesCacheStale(t *testing.T) {
	d, tr := newTestDriver(t)
	ioErr := errors.New("port gone")

	tr.failAsk = ioErr
	if _, err := d.Digits(); !errors.Is(err, ioErr) {
		t.Fatalf("expected transport error, got %v", err)
	}

	// After the fault clears, the read retries the device rather than
	// trusting a half-completed exchange.
	tr.failAsk = nil
	v, err := d.Digits()
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if v != 6 {
		t.Errorf("digits = %d, want 6", v)
	}
	if n := tr.askCount("volt:dc:digits?"); n != 1 {
		t.Errorf("device queried %d times on retry path, want 1", n)
	}
}

func TestFailedFunctionWriteDoesNotCascade(t *testing.T) {
	d, tr := newTestDriver(t)

	if _, err := d.NPLC(); err != nil {
		t.Fatal(err)
	}

	ioErr := errors.New("write failed")
	tr.failWr = ioErr
	if err := d.SetMeasurementFunction(scpi.FunctionACVolts); !errors.Is(err, ioErr) {
		t.Fatalf("expected write error, got %v", err)
	}
	tr.failWr = nil

	// The function did not change, so the cached NPLC must still be
	// valid: no new device query.
	if _, err := d.NPLC(); err != nil {
		t.Fatal(err)
	}
	if n := tr.askCount("volt:dc:nplc?"); n != 1 {
		t.Errorf("nplc queried %d times, want 1 (no cascade on failed write)", n)
	}
	if f, _ := d.MeasurementFunction(); f != scpi.FunctionDCVolts {
		t.Errorf("function = %q after failed write, want dc_volts", f)
	}
}

func TestUnknownFunctionTokenFailsLoudly(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{
		":sense:function?": `"TEMP"`,
	}}
	d := New(tr, testLogger())

	_, err := d.MeasurementFunction()
	if !errors.Is(err, scpi.ErrUnknownToken) {
		t.Errorf("expected ErrUnknownToken for unmapped reply, got %v", err)
	}
}

func TestSetUnknownFunctionRejected(t *testing.T) {
	d, tr := newTestDriver(t)
	if err := d.SetMeasurementFunction("temperature"); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("expected ErrUnsupportedValue, got %v", err)
	}
	if len(tr.writes) != 0 {
		t.Errorf("rejected function reached the device: %v", tr.writes)
	}
}

func TestSimulateModeNeverTouchesTransport(t *testing.T) {
	d := NewSimulated(testLogger())

	if err := d.SetMeasurementFunction(scpi.FunctionACCurrent); err != nil {
		t.Fatal(err)
	}
	if err := d.SetDigits(5); err != nil {
		t.Fatal(err)
	}
	if err := d.SetNPLC(0.1); err != nil {
		t.Fatal(err)
	}
	if err := d.SetFilterType(scpi.FilterRepeat); err != nil {
		t.Fatal(err)
	}

	if f, _ := d.MeasurementFunction(); f != scpi.FunctionACCurrent {
		t.Errorf("function = %q", f)
	}
	if v, _ := d.Digits(); v != 5 {
		t.Errorf("digits = %d", v)
	}
	if v, _ := d.NPLC(); v != 0.1 {
		t.Errorf("nplc = %g", v)
	}
	if ft, _ := d.FilterType(); ft != scpi.FilterRepeat {
		t.Errorf("filter type = %q", ft)
	}

	// Validation still applies without a device.
	if err := d.SetDigits(3); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("simulate SetDigits(3) = %v", err)
	}

	// Measurement paths are no-ops.
	if v, err := d.ReadMeasurement(); err != nil || v != 0 {
		t.Errorf("simulated read = %g, %v", v, err)
	}
}

func TestWriteDeviceCommandFormat(t *testing.T) {
	d, tr := newTestDriver(t)

	if err := d.SetMeasurementFunction(scpi.FunctionFourWireResistance); err != nil {
		t.Fatal(err)
	}
	tr.replies["fres:nplc?"] = "1"
	if err := d.SetNPLC(0.2); err != nil {
		t.Fatal(err)
	}
	if err := d.SetFilterEnabled(true); err != nil {
		t.Fatal(err)
	}

	want := []string{
		":sense:function 'fres'",
		"fres:nplc 0.2",
		"fres:aver:stat 1",
	}
	if len(tr.writes) != len(want) {
		t.Fatalf("writes = %v, want %v", tr.writes, want)
	}
	for i := range want {
		if tr.writes[i] != want[i] {
			t.Errorf("write[%d] = %q, want %q", i, tr.writes[i], want[i])
		}
	}
}

func TestInvalidateCacheForcesRequery(t *testing.T) {
	d, tr := newTestDriver(t)

	if _, err := d.Digits(); err != nil {
		t.Fatal(err)
	}
	d.InvalidateCache()
	if _, err := d.Digits(); err != nil {
		t.Fatal(err)
	}
	if n := tr.askCount("volt:dc:digits?"); n != 2 {
		t.Errorf("digits queried %d times, want 2 after invalidation", n)
	}
}

func TestOutOfRange(t *testing.T) {
	tests := []struct {
		v    float64
		want bool
	}{
		{9.9e37, true},
		{-9.9e37, true},
		{1.5, false},
		{0, false},
	}
	for _, tt := range tests {
		if got := OutOfRange(tt.v); got != tt.want {
			t.Errorf("OutOfRange(%g) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
