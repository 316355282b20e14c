package operator_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermofluids/flowloop/datalog"
	"github.com/thermofluids/flowloop/device"
	"github.com/thermofluids/flowloop/operator"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		in  string
		out operator.Command
	}{
		{"quit", operator.Command{Kind: operator.Shutdown}},
		{"trig", operator.Command{Kind: operator.ManualTrigger}},
		{"inp_2.5", operator.Command{Kind: operator.ManualInput, Value: 2.5}},
		{"set_psu_40", operator.Command{Kind: operator.SetParameter, Device: "PSU", Value: 40}},
		{"set_p1.kp_-0.5", operator.Command{Kind: operator.SetParameter, Device: "P1", Attribute: "KP", Value: -0.5}},
		{"skip", operator.Command{Kind: operator.AdvanceStep, Step: 1}},
		{"back", operator.Command{Kind: operator.AdvanceStep, Step: -1}},
		{"fine", operator.Command{Kind: operator.ToggleFine}},
		{" help ", operator.Command{Kind: operator.Help}},
	}
	for _, c := range cases {
		got, err := operator.ParseLine(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.out, got, c.in)
	}
}

func TestParseLineErrors(t *testing.T) {
	_, err := operator.ParseLine("dance")
	assert.ErrorIs(t, err, operator.ErrUnknownCommand)
	_, err = operator.ParseLine("set_40")
	assert.ErrorIs(t, err, operator.ErrUnknownCommand)
	_, err = operator.ParseLine("inp_abc")
	assert.Error(t, err)
	for _, line := range []string{"inp_nan", "inp_-Inf", "set_PSU_NaN", "set_psu.kp_+inf"} {
		_, err = operator.ParseLine(line)
		assert.ErrorIs(t, err, operator.ErrNotFinite, line)
	}
}

func TestCommandString(t *testing.T) {
	c := operator.Command{Kind: operator.SetParameter, Device: "P1", Attribute: "SP", Value: 3}
	assert.Equal(t, "set_parameter(P1.SP, 3)", c.String())
	assert.Equal(t, "advance_step(-1)", operator.Command{Kind: operator.AdvanceStep, Step: -1}.String())
}

type fakeSup struct {
	mu   sync.Mutex
	cmds []operator.Command
	err  error
	done chan struct{}
	rec  *datalog.Record
}

func newFake() *fakeSup { return &fakeSup{done: make(chan struct{})} }

func (f *fakeSup) Execute(ctx context.Context, c operator.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, c)
	if c.Kind == operator.Shutdown {
		close(f.done)
	}
	return f.err
}

func (f *fakeSup) Statuses() []device.Health {
	return []device.Health{{Name: "DAQ", Status: device.Status{State: device.Running}}}
}

func (f *fakeSup) LastRecord() (datalog.Record, bool) {
	if f.rec == nil {
		return datalog.Record{}, false
	}
	return *f.rec, true
}

func (f *fakeSup) Done() <-chan struct{} { return f.done }

func (f *fakeSup) received() []operator.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]operator.Command(nil), f.cmds...)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHTTPCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := newFake()
	r, _ := operator.NewRouter(ctx, sup)

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/trigger", "").Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/input", `{"f64": 1.5}`).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/step", `{"int": -1}`).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/parameter", `{"device":"PSU","attribute":"SP","value":20}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/input", `nope`).Code)

	want := []operator.Command{
		{Kind: operator.ManualTrigger},
		{Kind: operator.ManualInput, Value: 1.5},
		{Kind: operator.AdvanceStep, Step: -1},
		{Kind: operator.SetParameter, Device: "PSU", Attribute: "SP", Value: 20},
	}
	assert.Equal(t, want, sup.received())

	w := do(t, r, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"name":"DAQ","state":"running"}]`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/record", "").Code)
	sup.rec = &datalog.Record{Run: "x", Cycle: 2, State: device.Steady}
	w = do(t, r, http.MethodGet, "/record", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"SS"`)

	w = do(t, r, http.MethodGet, "/endpoints", "")
	assert.Contains(t, w.Body.String(), "POST /parameter")
}

func TestHTTPParameterErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := newFake()
	r, _ := operator.NewRouter(ctx, sup)

	sup.err = fmt.Errorf("wrapped: %w", device.ErrUnknownDevice)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/parameter", `{"device":"X","value":1}`).Code)
}

func TestHTTPLockedAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := newFake()
	r, lock := operator.NewRouter(ctx, sup)

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/shutdown", "").Code)
	require.Eventually(t, lock.Locked, time.Second, time.Millisecond)

	assert.Equal(t, http.StatusLocked, do(t, r, http.MethodPost, "/trigger", "").Code)
	assert.Equal(t, http.StatusLocked, do(t, r, http.MethodPost, "/lock", `{"bool": false}`).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/status", "").Code)
	w := do(t, r, http.MethodGet, "/terminated", "")
	assert.JSONEq(t, `{"bool": true}`, w.Body.String())
}

func TestHTTPManualLock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, _ := operator.NewRouter(ctx, newFake())

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/lock", `{"bool": true}`).Code)
	assert.Equal(t, http.StatusLocked, do(t, r, http.MethodPost, "/fine", "").Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/lock", `{"bool": false}`).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/fine", "").Code)
}

func TestConsole(t *testing.T) {
	sup := newFake()
	var out bytes.Buffer
	c := operator.Console{
		In:  strings.NewReader("trig\nbogus\nhelp\nset_psu.sp_12\nquit\nskip\n"),
		Out: &out,
		Ex:  sup,
	}
	require.NoError(t, c.Run(context.Background()))
	want := []operator.Command{
		{Kind: operator.ManualTrigger},
		{Kind: operator.SetParameter, Device: "PSU", Attribute: "SP", Value: 12},
		{Kind: operator.Shutdown},
	}
	assert.Equal(t, want, sup.received(), "commands after quit are not read")
	assert.Contains(t, out.String(), "unknown command")
	assert.Contains(t, out.String(), "commands:")
}
