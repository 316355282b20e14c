// Package daq implements the data acquisition unit (DAU) of the rig.  The DAU
// owns the rig-wide process state machine, triggers bursts on the acquisition
// instrument and fans the samples out to the sensor channels.
package daq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/thermofluids/flowloop/device"
)

// Defaults for Config fields left zero
const (
	DefaultTriggerTimeout = 30 * time.Second
	DefaultReadyTimeout   = 60 * time.Second
)

// Sink receives a channel's samples from each burst
type Sink interface {
	Number() int
	Deliver(samples []float64, at time.Time)
}

// Voter takes part in the steady state decision
type Voter interface {
	Name() string
	Tracked() bool
	ProcessState() device.ProcessState
}

// Config holds the state machine and trigger settings of the DAU
type Config struct {
	Name string

	// SweepsSteady and SweepsUnsteady are the sweeps per burst in each state
	SweepsSteady, SweepsUnsteady int

	// SteadyCycles is how many cycles the SS state is held before the next step
	SteadyCycles int

	// UnsteadyCycles is the minimum dwell in USS before SS votes are counted
	UnsteadyCycles int

	// TriggerTimeout bounds one burst
	TriggerTimeout time.Duration

	// ReadyTimeout bounds the wait for the controller to finish the previous cycle
	ReadyTimeout time.Duration
}

// Info describes the last burst
type Info struct {
	Cycle  int
	State  device.ProcessState
	Sweeps int
	First  time.Time
	Last   time.Time
}

// DAU is the data acquisition unit
type DAU struct {
	*device.Base
	cfg Config
	acq Acquirer

	sinks  []Sink
	voters []Voter

	trigger *device.Signal
	ready   *device.Signal
	primed  bool
	cycled  device.Notifier

	mu      sync.Mutex
	state   device.ProcessState
	armed   bool
	counter int
	force   bool
	info    Info
}

// New returns a DAU in the USS state driving acq
func New(cfg Config, acq Acquirer, log *slog.Logger) *DAU {
	if cfg.Name == "" {
		cfg.Name = "DAQ"
	}
	if cfg.SweepsSteady < 1 {
		cfg.SweepsSteady = 1
	}
	if cfg.SweepsUnsteady < 1 {
		cfg.SweepsUnsteady = 1
	}
	if cfg.TriggerTimeout == 0 {
		cfg.TriggerTimeout = DefaultTriggerTimeout
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	return &DAU{
		Base:    device.NewBase(cfg.Name, log),
		cfg:     cfg,
		acq:     acq,
		trigger: device.NewSignal(),
		state:   device.Unsteady,
	}
}

// Attach adds sensor channels that receive bursts
func (d *DAU) Attach(sinks ...Sink) {
	d.sinks = append(d.sinks, sinks...)
}

// AddVoters adds sensors whose votes decide steady state.  Untracked voters
// are ignored.
func (d *DAU) AddVoters(vs ...Voter) {
	for _, v := range vs {
		if v.Tracked() {
			d.voters = append(d.voters, v)
		}
	}
}

// WaitFor makes each trigger after the first wait for ready, normally the
// controller's cycle completion
func (d *DAU) WaitFor(ready *device.Signal) {
	d.ready = ready
}

// Subscribe returns a signal set after every burst is distributed
func (d *DAU) Subscribe() *device.Signal {
	return d.cycled.Subscribe()
}

// Fire requests a burst
func (d *DAU) Fire() {
	d.trigger.Publish()
}

// State returns the live process state
func (d *DAU) State() device.ProcessState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Armed is true while the DAU is waiting for a unanimous SS vote
func (d *DAU) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// LastBurst describes the most recent burst
func (d *DAU) LastBurst() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// ForceSteady makes the next state decision declare SS regardless of the
// sensors' votes
func (d *DAU) ForceSteady() {
	d.mu.Lock()
	d.armed = true
	d.force = true
	d.mu.Unlock()
	d.Log.Info("manual trigger, forcing steady state")
}

// ResetCounter restarts the dwell count of the current state
func (d *DAU) ResetCounter() {
	d.mu.Lock()
	d.counter = 0
	d.mu.Unlock()
}

// DetermineState advances the state machine by one cycle and returns the
// new state.  While not armed it counts dwell: SteadyCycles in SS leads to
// USS, UnsteadyCycles in USS arms the vote.  While armed, a unanimous SS vote
// of the tracked sensors leads to SS and disarms.
func (d *DAU) DetermineState() device.ProcessState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed {
		var holdouts []string
		if !d.force {
			for _, v := range d.voters {
				if v.ProcessState() == device.Unsteady {
					holdouts = append(holdouts, v.Name())
				}
			}
		}
		d.force = false
		if len(holdouts) > 0 {
			d.state = device.Unsteady
			d.Log.Warn(color.YellowString("step is taking longer than expected"), "unsteady", holdouts)
			return d.state
		}
		d.state = device.Steady
		d.armed = false
		d.counter = 0
		d.Log.Info("steady state reached")
		return d.state
	}

	d.counter++
	switch {
	case d.state == device.Steady && d.counter >= d.cfg.SteadyCycles:
		d.state = device.Unsteady
		d.counter = 0
		d.Log.Info("steady dwell complete, advancing")
	case d.state == device.Unsteady && d.counter >= d.cfg.UnsteadyCycles:
		d.armed = true
	}
	return d.state
}

func (d *DAU) sweeps(s device.ProcessState) int {
	if s == device.Steady {
		return d.cfg.SweepsSteady
	}
	return d.cfg.SweepsUnsteady
}

// Run implements device.Component
func (d *DAU) Run(ctx context.Context) error {
	return d.Loop(ctx, d.cycle)
}

func (d *DAU) cycle(ctx context.Context) device.Outcome {
	if err := d.Await(ctx, d.trigger); err != nil {
		return device.Quit()
	}
	if d.ready != nil && d.primed {
		rctx, cancel := context.WithTimeout(ctx, d.cfg.ReadyTimeout)
		err := d.ready.Wait(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return device.Quit()
			}
			d.Log.Warn("previous control cycle did not complete in time")
		}
	}
	d.primed = true

	state := d.DetermineState()
	sweeps := d.sweeps(state)
	tctx, cancel := context.WithTimeout(ctx, d.cfg.TriggerTimeout)
	b, err := d.acq.Trigger(tctx, sweeps)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return device.Quit()
		}
		now := time.Now()
		d.distribute(Burst{First: now, Last: now}, state, 0)
		return device.Faultf("trigger: %v", err)
	}
	d.distribute(b, state, sweeps)
	return device.Done()
}

// distribute hands every sink its samples.  A channel absent from b gets an
// empty burst so its readers are not starved.
func (d *DAU) distribute(b Burst, state device.ProcessState, sweeps int) {
	d.mu.Lock()
	d.info = Info{Cycle: d.info.Cycle + 1, State: state, Sweeps: sweeps, First: b.First, Last: b.Last}
	d.mu.Unlock()
	for _, s := range d.sinks {
		s.Deliver(b.Samples[s.Number()], b.Last)
	}
	d.cycled.Publish()
}

// Reinit reopens the acquirer after a fault
func (d *DAU) Reinit(ctx context.Context) error {
	d.acq.Close()
	return d.acq.Activate()
}

// Stop implements device.Component
func (d *DAU) Stop() {
	d.Halt()
	if err := d.acq.Close(); err != nil {
		d.Log.Warn("closing acquirer", "err", err)
	}
}
