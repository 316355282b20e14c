package operator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/thermofluids/flowloop/actuator"
	"github.com/thermofluids/flowloop/datalog"
	"github.com/thermofluids/flowloop/device"
	"github.com/thermofluids/flowloop/generichttp"
	"github.com/thermofluids/flowloop/server/middleware/locker"
)

// CommandTimeout bounds the wait for the supervisor to execute one command
const CommandTimeout = 5 * time.Second

// Executor runs operator commands; the manager satisfies it
type Executor interface {
	Execute(context.Context, Command) error
}

// Supervisor is what the HTTP surface drives and reports on
type Supervisor interface {
	Executor
	Statuses() []device.Health
	LastRecord() (datalog.Record, bool)
	Done() <-chan struct{}
}

// Parameter is the body of POST /parameter
type Parameter struct {
	Device    string  `json:"device"`
	Attribute string  `json:"attribute"`
	Value     float64 `json:"value"`
}

// HTTP wraps a Supervisor in a route table
type HTTP struct {
	ctx context.Context
	sup Supervisor

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTP returns the operator routes for sup.  Commands are executed under ctx.
func NewHTTP(ctx context.Context, sup Supervisor) *HTTP {
	h := &HTTP{ctx: ctx, sup: sup}
	h.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/shutdown"}:  generichttp.Action(h.do(Command{Kind: Shutdown})),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/trigger"}:   generichttp.Action(h.do(Command{Kind: ManualTrigger})),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/fine"}:      generichttp.Action(h.do(Command{Kind: ToggleFine})),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/input"}:     generichttp.SetFloat(h.input),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/step"}:      generichttp.SetInt(h.step),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/parameter"}: h.parameter,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:     generichttp.GetJSON(h.status),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/record"}:     h.record,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/terminated"}: generichttp.GetBool(h.terminated),
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h *HTTP) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h *HTTP) exec(cmd Command) error {
	ctx, cancel := context.WithTimeout(h.ctx, CommandTimeout)
	defer cancel()
	return h.sup.Execute(ctx, cmd)
}

func (h *HTTP) do(cmd Command) func() error {
	return func() error { return h.exec(cmd) }
}

func (h *HTTP) input(v float64) error {
	return h.exec(Command{Kind: ManualInput, Value: v})
}

func (h *HTTP) step(n int) error {
	return h.exec(Command{Kind: AdvanceStep, Step: n})
}

func (h *HTTP) status() (interface{}, error) {
	return h.sup.Statuses(), nil
}

func (h *HTTP) terminated() (bool, error) {
	select {
	case <-h.sup.Done():
		return true, nil
	default:
		return false, nil
	}
}

func (h *HTTP) parameter(w http.ResponseWriter, r *http.Request) {
	var p Parameter
	err := json.NewDecoder(r.Body).Decode(&p)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.exec(Command{Kind: SetParameter, Device: p.Device, Attribute: p.Attribute, Value: p.Value})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, device.ErrUnknownDevice):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, actuator.ErrUnknownAttribute), errors.Is(err, actuator.ErrNotFinite):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, actuator.ErrHeld):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *HTTP) record(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.sup.LastRecord()
	if !ok {
		http.Error(w, "no record yet", http.StatusNotFound)
		return
	}
	generichttp.GetJSON(func() (interface{}, error) { return rec, nil })(w, r)
}

// NewRouter returns a chi router serving the operator surface.  Once the
// supervisor is done the surface is locked: every request other than a GET
// is refused with 423.
func NewRouter(ctx context.Context, sup Supervisor) (chi.Router, *locker.Locker) {
	h := NewHTTP(ctx, sup)
	lock := locker.New()
	locker.Inject(h, lock)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(lock.Check)
	h.RouteTable.Bind(r)

	go func() {
		select {
		case <-sup.Done():
			lock.Seal()
		case <-ctx.Done():
		}
	}()
	return r, lock
}
