// Package manager supervises a run.  It polls every component's health and
// restarts the faulted ones, handles alarms raised by sensors, executes
// operator commands and performs the safety procedure and the orderly
// shutdown of the rig.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/thermofluids/flowloop/actuator"
	"github.com/thermofluids/flowloop/alarm"
	"github.com/thermofluids/flowloop/audit"
	"github.com/thermofluids/flowloop/control"
	"github.com/thermofluids/flowloop/daq"
	"github.com/thermofluids/flowloop/datalog"
	"github.com/thermofluids/flowloop/device"
	"github.com/thermofluids/flowloop/operator"
	"github.com/thermofluids/flowloop/sensor"
)

var (
	// ErrTerminated is returned for commands sent after shutdown
	ErrTerminated = errors.New("manager terminated")

	// ErrUnavailable is returned for a command whose target is not configured
	ErrUnavailable = errors.New("not configured for this run")
)

const (
	// DefaultPollInterval is how often component health is read
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultRestartInterval is the sustained rate of restarts per component
	DefaultRestartInterval = 5 * time.Second

	// DefaultRestartBurst is the number of restarts a component may use at once
	DefaultRestartBurst = 3

	// StopTimeout bounds the wait for main loops to exit after shutdown
	StopTimeout = 5 * time.Second
)

var (
	alertBanner = color.New(color.FgYellow, color.Bold)
	stopBanner  = color.New(color.FgWhite, color.BgRed, color.Bold)
)

// Config holds the supervisor's timing
type Config struct {
	PollInterval    time.Duration `koanf:"pollInterval" yaml:"pollInterval"`
	RestartInterval time.Duration `koanf:"restartInterval" yaml:"restartInterval"`
	RestartBurst    int           `koanf:"restartBurst" yaml:"restartBurst"`
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RestartInterval <= 0 {
		c.RestartInterval = DefaultRestartInterval
	}
	if c.RestartBurst <= 0 {
		c.RestartBurst = DefaultRestartBurst
	}
	return c
}

// Parts are the components a manager drives.  Any of the pointers may be nil
// when the run does not use them; the commands that need them then fail
// with ErrUnavailable.
type Parts struct {
	// RunID stamps audit entries; one is generated when empty
	RunID string

	Registry   *device.Registry
	DAU        *daq.DAU
	Timer      *daq.Timer
	Controller *control.Controller
	Recorder   *datalog.Recorder
	Input      *sensor.ManualInput
	Actuators  []*actuator.Actuator
	Audit      audit.Sink
	Alarms     <-chan alarm.Event
}

type request struct {
	cmd   operator.Command
	reply chan error
}

// Manager is the supervisor
type Manager struct {
	Log *slog.Logger

	// Out receives the colored operator banners
	Out io.Writer

	cfg   Config
	p     Parts
	run   string
	start time.Time
	cmds  chan request

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	reported   map[string]bool
	cancel     context.CancelFunc
	safed      bool
	terminated bool

	wg       sync.WaitGroup
	done     chan struct{}
	shutOnce sync.Once
}

// New returns a Manager.  p.Registry must be sealed.
func New(cfg Config, p Parts, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if p.Audit == nil {
		p.Audit = &audit.Memory{}
	}
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}
	return &Manager{
		Log:      log.With("device", "manager"),
		Out:      os.Stdout,
		cfg:      cfg.withDefaults(),
		p:        p,
		run:      p.RunID,
		start:    time.Now(),
		cmds:     make(chan request),
		limiters: map[string]*rate.Limiter{},
		reported: map[string]bool{},
		done:     make(chan struct{}),
	}
}

// RunID identifies this run in audit entries and records
func (m *Manager) RunID() string { return m.run }

// Done is closed once shutdown has completed
func (m *Manager) Done() <-chan struct{} { return m.done }

// Terminated returns true once shutdown has begun
func (m *Manager) Terminated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated
}

// Run starts every registered component and supervises them until shutdown
// or ctx is done
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		cancel()
		return ErrTerminated
	}
	m.cancel = cancel
	m.mu.Unlock()

	for _, c := range m.p.Registry.All() {
		m.launch(ctx, c, false)
	}
	m.Log.Info("run started", "run", m.run, "components", len(m.p.Registry.All()))

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			m.drain()
			return nil
		case <-ctx.Done():
			m.Shutdown()
			m.drain()
			return nil
		case <-ticker.C:
			m.CheckStatus(ctx)
		case ev := <-m.p.Alarms:
			m.Alarm(ev)
		case req := <-m.cmds:
			req.reply <- m.execute(req.cmd)
		}
	}
}

// drain waits a bounded time for main loops to exit
func (m *Manager) drain() {
	ch := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(StopTimeout):
		m.Log.Warn("main loops still running after shutdown")
	}
}

// launch runs c's main loop on its own goroutine, reinitializing it first if
// this is a restart
func (m *Manager) launch(ctx context.Context, c device.Component, restart bool) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if restart {
			if r, ok := c.(device.Reinitializer); ok {
				if err := r.Reinit(ctx); err != nil {
					m.Log.Warn("reinitializing", "target", c.Name(), "err", err)
					if s, ok := c.(interface {
						SetStatus(device.State, string)
					}); ok {
						s.SetStatus(device.Faulted, "reinit: "+err.Error())
					}
					return
				}
			}
		}
		if err := c.Run(ctx); err != nil {
			m.Log.Debug("main loop exited", "target", c.Name(), "err", err)
		}
	}()
}

// CheckStatus reads every component's status once and restarts those that
// are faulted.  Each fault is audited once.
func (m *Manager) CheckStatus(ctx context.Context) {
	for _, c := range m.p.Registry.All() {
		st := c.Status()
		if st.State != device.Faulted {
			m.mu.Lock()
			delete(m.reported, c.Name())
			m.mu.Unlock()
			continue
		}
		m.mu.Lock()
		first := !m.reported[c.Name()]
		m.reported[c.Name()] = true
		lim := m.limiter(c.Name())
		m.mu.Unlock()
		if first {
			stopBanner.Fprintf(m.Out, "Error detected in %s. Status: %s\n", c.Name(), st)
			m.audit("error", c.Name(), st.Detail)
		}
		if !lim.Allow() {
			continue
		}
		m.Restart(ctx, c)
	}
}

// limiter returns the restart limiter of a component.  m.mu must be held.
func (m *Manager) limiter(name string) *rate.Limiter {
	l, ok := m.limiters[name]
	if !ok {
		l = rate.NewLimiter(rate.Every(m.cfg.RestartInterval), m.cfg.RestartBurst)
		m.limiters[name] = l
	}
	return l
}

// Restart re-enters a faulted component's main loop on its own goroutine
func (m *Manager) Restart(ctx context.Context, c device.Component) bool {
	if m.Terminated() || !c.BeginRestart() {
		return false
	}
	m.mu.Lock()
	delete(m.reported, c.Name())
	m.mu.Unlock()
	m.Log.Info("restart initiated", "target", c.Name())
	m.launch(ctx, c, true)
	return true
}

func (m *Manager) audit(action, source, detail string) {
	now := time.Now()
	err := m.p.Audit.LogError(audit.Entry{
		Time:    now,
		Elapsed: now.Sub(m.start),
		Run:     m.run,
		Action:  action,
		Source:  source,
		Detail:  detail,
	})
	if err != nil {
		m.Log.Error("writing audit entry", "err", err)
	}
}

// Alarm records an alarm and acts on it.  A Stop alarm flushes the data
// logger, runs the safety procedure and shuts the rig down.
func (m *Manager) Alarm(ev alarm.Event) {
	if m.Terminated() {
		return
	}
	m.audit(ev.Rule.Action.String(), ev.Source, ev.Rule.Direction.String())
	if ev.Rule.Action != alarm.Stop {
		alertBanner.Fprintln(m.Out, ev.String())
		m.Log.Warn("alarm", "source", ev.Source, "rule", ev.Rule.String(), "value", ev.Value)
		return
	}
	stopBanner.Fprintln(m.Out, ev.String())
	m.Log.Error("stop alarm", "source", ev.Source, "rule", ev.Rule.String(), "value", ev.Value)
	if m.p.Recorder != nil {
		if err := m.p.Recorder.Flush(); err != nil {
			m.Log.Warn("flushing data before shutdown", "err", err)
		}
	}
	m.SafetyProcedure()
	m.Shutdown()
}

// SafetyProcedure drives every safety critical actuator to its safe
// position.  It runs at most once.
func (m *Manager) SafetyProcedure() {
	m.mu.Lock()
	if m.safed {
		m.mu.Unlock()
		return
	}
	m.safed = true
	m.mu.Unlock()
	for _, a := range m.p.Actuators {
		if !a.SafetyCritical() {
			continue
		}
		m.Log.Info("going to safe position", "target", a.Name())
		if err := a.GoSafe(); err != nil {
			m.Log.Warn("safe position", "target", a.Name(), "err", err)
		}
	}
}

// Shutdown stops every module, then every hardware component, cancels the
// run and marks the manager terminated.  It is idempotent.
func (m *Manager) Shutdown() {
	m.shutOnce.Do(func() {
		m.mu.Lock()
		m.terminated = true
		cancel := m.cancel
		m.mu.Unlock()

		m.Log.Info("shutting down")
		for _, role := range []device.Role{device.Module, device.Hardware} {
			for _, c := range m.p.Registry.ByRole(role) {
				c.Stop()
				m.Log.Debug("stopped", "target", c.Name(), "status", c.Status().String())
			}
		}
		if cancel != nil {
			cancel()
		}
		close(m.done)
	})
}

// Statuses returns the health of every component in registration order
func (m *Manager) Statuses() []device.Health {
	all := m.p.Registry.All()
	out := make([]device.Health, 0, len(all))
	for _, c := range all {
		out = append(out, device.Health{Name: c.Name(), Status: c.Status()})
	}
	return out
}

// LastRecord returns the most recent data record
func (m *Manager) LastRecord() (datalog.Record, bool) {
	if m.p.Recorder == nil {
		return datalog.Record{}, false
	}
	return m.p.Recorder.Last()
}

// Execute hands cmd to the supervisor loop and waits for its result
func (m *Manager) Execute(ctx context.Context, cmd operator.Command) error {
	req := request{cmd: cmd, reply: make(chan error, 1)}
	select {
	case m.cmds <- req:
	case <-m.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) execute(cmd operator.Command) error {
	m.Log.Info("operator command", "cmd", cmd.String())
	m.audit("command", "operator", cmd.String())
	switch cmd.Kind {
	case operator.Shutdown:
		m.Shutdown()
	case operator.ManualTrigger:
		if m.p.DAU == nil {
			return fmt.Errorf("manual trigger: DAU %w", ErrUnavailable)
		}
		m.p.DAU.ForceSteady()
		if m.p.Timer != nil {
			m.p.Timer.Manual()
		}
	case operator.ManualInput:
		if m.p.Input == nil {
			return fmt.Errorf("manual input %w", ErrUnavailable)
		}
		m.p.Input.Set(cmd.Value)
	case operator.SetParameter:
		if m.p.Controller == nil {
			return fmt.Errorf("set parameter: controller %w", ErrUnavailable)
		}
		return m.p.Controller.SetParameter(cmd.Device, cmd.Attribute, cmd.Value)
	case operator.AdvanceStep:
		if m.p.Controller == nil {
			return fmt.Errorf("advance step: controller %w", ErrUnavailable)
		}
		if m.p.DAU != nil {
			m.p.DAU.ResetCounter()
		}
		seq := m.p.Controller.AdvanceStep(cmd.Step)
		m.Log.Info("step", "count", seq.Count, "fine", seq.FineCount)
	case operator.ToggleFine:
		if m.p.Controller == nil {
			return fmt.Errorf("fine stepping: controller %w", ErrUnavailable)
		}
		m.p.Controller.ToggleFine()
	case operator.Help:
	default:
		return fmt.Errorf("%w: %s", operator.ErrUnknownCommand, cmd.Kind)
	}
	return nil
}
