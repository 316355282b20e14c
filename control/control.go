// Package control orchestrates one control cycle of the rig: it waits for
// every sensor to publish, advances the step sequence on a fresh USS
// transition, distributes process values and releases the controlled
// devices, then announces the cycle complete.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/thermofluids/flowloop/actuator"
	"github.com/thermofluids/flowloop/daq"
	"github.com/thermofluids/flowloop/device"
	"github.com/thermofluids/flowloop/mathx"
	"github.com/thermofluids/flowloop/sensor"
)

// DeviceTimeout bounds the wait for one device's response
const DeviceTimeout = 10 * time.Second

// StateSource provides the live process state and the burst behind it; the
// DAU satisfies it
type StateSource interface {
	State() device.ProcessState
	LastBurst() daq.Info
}

// Report summarizes a finished cycle
type Report struct {
	Cycle int                 `json:"cycle"`
	State device.ProcessState `json:"state"`
	Step  StepSequence        `json:"step"`
	Time  time.Time           `json:"time"`

	// Burst is the burst the cycle acted on, captured when the cycle began
	Burst daq.Info `json:"burst"`
}

// Controller runs the control cycle
type Controller struct {
	*device.Base
	dau StateSource

	sensors  []sensor.Sensor
	subs     []*device.Signal
	byName   map[string]sensor.Sensor
	devices  []*actuator.Actuator
	devByKey map[string]*actuator.Actuator

	cycleDone device.Notifier

	mu     sync.Mutex
	seq    StepSequence
	cached device.ProcessState
	report Report
}

// New returns a Controller over sensors and devices.  It subscribes to every
// sensor, so it must be built before the sensors run.
func New(dau StateSource, sensors []sensor.Sensor, devices []*actuator.Actuator, log *slog.Logger) *Controller {
	c := &Controller{
		Base:     device.NewBase("controller", log),
		dau:      dau,
		sensors:  sensors,
		byName:   map[string]sensor.Sensor{},
		devices:  devices,
		devByKey: map[string]*actuator.Actuator{},
		cached:   device.Unsteady,
	}
	for _, s := range sensors {
		c.subs = append(c.subs, s.Subscribe())
		c.byName[strings.ToUpper(s.Name())] = s
	}
	for _, d := range devices {
		c.devByKey[strings.ToUpper(d.Name())] = d
	}
	return c
}

// Subscribe returns a signal set at the end of every cycle
func (c *Controller) Subscribe() *device.Signal {
	return c.cycleDone.Subscribe()
}

// LastReport returns the report of the most recent cycle
func (c *Controller) LastReport() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// Sequence returns the current step sequence
func (c *Controller) Sequence() StepSequence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Run implements device.Component
func (c *Controller) Run(ctx context.Context) error {
	return c.Loop(ctx, c.cycle)
}

func (c *Controller) cycle(ctx context.Context) device.Outcome {
	if err := c.Await(ctx, c.subs...); err != nil {
		return device.Quit()
	}
	live := c.dau.State()
	burst := c.dau.LastBurst()
	c.mu.Lock()
	if c.cached != live {
		if live == device.Unsteady {
			c.advanceLocked(1)
		}
		c.cached = live
	}
	c.mu.Unlock()

	if live == device.Unsteady {
		for _, d := range c.devices {
			d.UpdateProcessValue()
		}
	}

	var waiting []*actuator.Actuator
	for _, d := range c.devices {
		switch d.Status().State {
		case device.Faulted, device.Stopped:
			continue
		}
		d.Release()
		waiting = append(waiting, d)
	}
	for _, d := range waiting {
		wctx, cancel := context.WithTimeout(ctx, DeviceTimeout)
		err := d.Done().Wait(wctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return device.Quit()
			}
			c.Log.Warn("device did not respond in time", "target", d.Name())
		}
	}

	c.mu.Lock()
	c.report = Report{Cycle: c.report.Cycle + 1, State: live, Step: c.seq, Time: time.Now(), Burst: burst}
	c.mu.Unlock()
	c.cycleDone.Publish()
	return device.Done()
}

// advanceLocked moves the sequence and re-steps every stepping device.
// c.mu must be held.
func (c *Controller) advanceLocked(n int) {
	if !c.seq.Advance(n) {
		c.Log.Warn("cannot go back further", "step", c.seq.Count)
	}
	for _, d := range c.devices {
		if d.Stepping() {
			d.Step(c.seq.Count, c.seq.FineCount)
		}
	}
}

// AdvanceStep moves the step sequence by n, floored at zero
func (c *Controller) AdvanceStep(n int) StepSequence {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked(n)
	return c.seq
}

// ToggleFine flips fine stepping and returns the new mode
func (c *Controller) ToggleFine() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	on := c.seq.ToggleFine()
	c.Log.Info("fine stepping", "on", on)
	return on
}

// SetParameter routes an operator parameter change to a device or sensor.
// On a stepping device a new setpoint moves the step sequence to the step at
// or below it.  On a sensor only the setpoint (SP) can be set.
func (c *Controller) SetParameter(name, attr string, value float64) error {
	key := strings.ToUpper(name)
	if d, ok := c.devByKey[key]; ok {
		if err := d.SetParameter(attr, value); err != nil {
			return err
		}
		if d.Stepping() && (attr == "" || strings.EqualFold(attr, "SP")) {
			c.mu.Lock()
			c.seq.Count = d.StepCount(d.Setpoint())
			c.seq.FineCount = 0
			c.mu.Unlock()
		}
		return nil
	}
	if s, ok := c.byName[key]; ok {
		if attr != "" && !strings.EqualFold(attr, "SP") {
			return fmt.Errorf("%w %q on sensor %s", actuator.ErrUnknownAttribute, attr, name)
		}
		if !mathx.Finite(value) {
			return fmt.Errorf("sensor %s setpoint: %w", name, actuator.ErrNotFinite)
		}
		s.SetSetpoint(value)
		return nil
	}
	return fmt.Errorf("%w: %s", device.ErrUnknownDevice, name)
}

// Stop implements device.Component
func (c *Controller) Stop() { c.Halt() }
