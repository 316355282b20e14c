package daq

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thermofluids/flowloop/device"
)

// Mode is how the Timer decides when to trigger
type Mode int

const (
	// Periodic triggers on an interval chosen from the live process state
	Periodic Mode = iota

	// Triggered triggers only on operator request
	Triggered
)

// ParseMode converts "periodic" or "triggered" to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "periodic":
		return Periodic, nil
	case "triggered", "manual":
		return Triggered, nil
	}
	return 0, fmt.Errorf("timer mode %q is not periodic or triggered", s)
}

// Trigger is what the Timer drives; the DAU satisfies it
type Trigger interface {
	State() device.ProcessState
	Fire()
}

// Timer paces the DAU
type Timer struct {
	*device.Base
	mode     Mode
	steady   time.Duration
	unsteady time.Duration
	target   Trigger
	manual   *device.Signal
}

// NewTimer returns a Timer driving target.  steady and unsteady are the
// periodic intervals in each process state.
func NewTimer(mode Mode, steady, unsteady time.Duration, target Trigger, log *slog.Logger) *Timer {
	return &Timer{
		Base:     device.NewBase("timer", log),
		mode:     mode,
		steady:   steady,
		unsteady: unsteady,
		target:   target,
		manual:   device.NewSignal(),
	}
}

// Mode returns the timer's mode
func (t *Timer) Mode() Mode { return t.mode }

// Manual fires the DAU now.  In periodic mode it also restarts the interval.
func (t *Timer) Manual() {
	t.manual.Publish()
}

// Interval returns the periodic interval for a process state
func (t *Timer) Interval(s device.ProcessState) time.Duration {
	if s == device.Steady {
		return t.steady
	}
	return t.unsteady
}

// Run implements device.Component
func (t *Timer) Run(ctx context.Context) error {
	return t.Loop(ctx, t.tick)
}

func (t *Timer) tick(ctx context.Context) device.Outcome {
	if t.mode == Triggered {
		if err := t.Await(ctx, t.manual); err != nil {
			return device.Quit()
		}
		t.target.Fire()
		return device.Done()
	}
	t.target.Fire()
	timer := time.NewTimer(t.Interval(t.target.State()))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.manual.C():
	case <-ctx.Done():
		return device.Quit()
	}
	return device.Done()
}

// Stop implements device.Component
func (t *Timer) Stop() { t.Halt() }
