// Package actuator implements the controlled devices of the rig: power
// supplies, pumps, valves.  A device runs either a PID loop against a sensor
// or follows a direct setpoint, and stepping devices follow a quadratic
// power ramp.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/thermofluids/flowloop/device"
	"github.com/thermofluids/flowloop/mathx"
	"github.com/thermofluids/flowloop/sensor"
	"github.com/thermofluids/flowloop/util"
)

var (
	// ErrUnknownAttribute is generated by SetParameter for an unsupported attribute
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrNotFinite is generated by SetParameter for a NaN or infinite value
	ErrNotFinite = errors.New("value is not finite")

	// ErrHeld is generated when a device held at its safe position is commanded
	ErrHeld = errors.New("held at safe position")
)

// Driver is the boundary to the physical device
type Driver interface {
	// SetActual commands the device to a value in engineering units
	SetActual(value float64) error

	// Deactivate releases the device, e.g. output off or remote control off
	Deactivate() error
}

// Restarter is implemented by drivers which can reconnect after a fault
type Restarter interface {
	Restart() error
}

// Limits bound the setpoint and the PID output
type Limits struct {
	Min float64
	Max float64
}

// NoLimits is an unbounded Limits
var NoLimits = Limits{Min: math.Inf(-1), Max: math.Inf(1)}

// PIDSettings configure closed loop operation
type PIDSettings struct {
	Gains
	IntegralMin, IntegralMax float64

	// Target is the sensor the loop tracks; its setpoint is the loop setpoint
	Target sensor.Source

	// Attribute is the quantity of Target used as the process value
	Attribute string
}

// Settings configure a controlled device
type Settings struct {
	Name     string
	Setpoint float64
	Home     float64
	Limits   Limits

	// Safe is the position the device is driven to by the safety procedure.
	// A device with a safe position is safety critical.
	Safe *float64

	// PID enables closed loop control when not nil
	PID *PIDSettings

	// StepSize enables the stepping ramp when positive
	StepSize float64
}

// Actuator is a controlled device.  Its main loop waits for the controller to
// release it, calculates its response and signals completion.
type Actuator struct {
	*device.Base
	drv Driver

	release *device.Signal
	done    *device.Signal

	mu       sync.Mutex
	setpoint float64
	home     float64
	limits   Limits
	safe     *float64
	stepSize float64

	pidOn  bool
	pid    PID
	target sensor.Source
	attr   string

	active   bool
	sent     bool
	lastSent float64

	// held is latched by GoSafe
	held bool
}

// New returns an Actuator commanding drv
func New(s Settings, drv Driver, log *slog.Logger) *Actuator {
	if s.Limits == (Limits{}) {
		s.Limits = NoLimits
	}
	a := &Actuator{
		Base:     device.NewBase(s.Name, log),
		drv:      drv,
		release:  device.NewSignal(),
		done:     device.NewSignal(),
		setpoint: s.Setpoint,
		home:     s.Home,
		limits:   s.Limits,
		safe:     s.Safe,
		stepSize: s.StepSize,
	}
	if s.PID != nil {
		a.pidOn = true
		a.target = s.PID.Target
		a.attr = s.PID.Attribute
		a.pid = PID{
			Gains:       s.PID.Gains,
			Setpoint:    s.Setpoint,
			Output:      s.Setpoint,
			IntegralMin: s.PID.IntegralMin,
			IntegralMax: s.PID.IntegralMax,
			OutputMin:   s.Limits.Min,
			OutputMax:   s.Limits.Max,
		}
	}
	return a
}

// Release lets the device compute its response for this cycle
func (a *Actuator) Release() { a.release.Publish() }

// Done is set when the device has finished its response
func (a *Actuator) Done() *device.Signal { return a.done }

// Run implements device.Component
func (a *Actuator) Run(ctx context.Context) error {
	return a.Loop(ctx, a.process)
}

func (a *Actuator) process(ctx context.Context) device.Outcome {
	if err := a.Await(ctx, a.release); err != nil {
		return device.Quit()
	}
	err := a.CalculateResponse()
	a.done.Publish()
	if err != nil {
		return device.Faultf("commanding device: %v", err)
	}
	return device.Done()
}

// CalculateResponse computes and sends this cycle's command.  In PID mode the
// loop output is sent if the device is active.  In direct mode the clamped
// setpoint is sent only when it differs from the last command.  A held device
// sends nothing.
func (a *Actuator) CalculateResponse() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.held {
		return nil
	}
	if a.pidOn {
		if a.target != nil {
			a.pid.Setpoint = a.target.Reading().Setpoint
		}
		cv, _ := a.pid.Update()
		if a.active {
			return a.send(cv)
		}
		return nil
	}
	a.setpoint = util.Clamp(a.setpoint, a.limits.Min, a.limits.Max)
	if !a.sent || a.setpoint != a.lastSent {
		return a.send(a.setpoint)
	}
	return nil
}

func (a *Actuator) send(v float64) error {
	if err := a.drv.SetActual(v); err != nil {
		return err
	}
	a.sent = true
	a.lastSent = v
	return nil
}

// UpdateProcessValue copies the target sensor's watched quantity into the
// PID loop.  It is a no-op for devices not in PID mode.  A NaN or infinite
// reading is skipped and the previous process value kept.
func (a *Actuator) UpdateProcessValue() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.pidOn || a.target == nil {
		return
	}
	if v, ok := a.target.Reading().Latest(a.attr); ok && mathx.Finite(v) {
		a.pid.ProcessValue = v
	}
}

// Activate allows PID output to reach the device
func (a *Actuator) Activate() {
	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
}

// SetParameter changes one attribute of the device.  SP leaves PID mode and
// sets a direct setpoint; PID enters or leaves PID mode; KP, KI and KD change
// gains; ACTIVE enables or disables PID output.
func (a *Actuator) SetParameter(attr string, v float64) error {
	if !mathx.Finite(v) {
		return fmt.Errorf("%s %s: %w", a.Name(), attr, ErrNotFinite)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.held {
		return fmt.Errorf("%s: %w", a.Name(), ErrHeld)
	}
	switch strings.ToUpper(attr) {
	case "", "SP":
		a.pidOn = false
		a.setpoint = util.Clamp(v, a.limits.Min, a.limits.Max)
	case "PID":
		on := v != 0
		if on && a.target == nil {
			return fmt.Errorf("%s has no PID target", a.Name())
		}
		if on && !a.pidOn {
			a.pid.Output = a.setpoint
			a.pid.Integral = 0
			a.pid.PrevError = 0
		}
		a.pidOn = on
	case "KP":
		a.pid.KP = v
	case "KI":
		if v != 0 && a.pid.IntegralMin == a.pid.IntegralMax {
			return fmt.Errorf("%s has no integral range, KI would have no effect", a.Name())
		}
		a.pid.KI = v
	case "KD":
		a.pid.KD = v
	case "ACTIVE":
		a.active = v != 0
	default:
		return fmt.Errorf("%w %q on %s", ErrUnknownAttribute, attr, a.Name())
	}
	a.Log.Info("parameter changed", "attribute", attr, "value", v)
	return nil
}

// Stepping returns true if the device follows the step ramp
func (a *Actuator) Stepping() bool { return a.stepSize > 0 }

// Step sets the setpoint for a step count and fine count on the ramp
// sqrt((4·count + fine)/4)·stepSize
func (a *Actuator) Step(count, fine int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.held {
		a.Log.Warn("step ignored, held at safe position", "step", count, "fine", fine)
		return
	}
	a.setpoint = util.Clamp(Ramp(count, fine, a.stepSize), a.limits.Min, a.limits.Max)
	a.Log.Info("stepping", "step", count, "fine", fine, "setpoint", a.setpoint)
}

// StepCount is the step count at or below value on the ramp
func (a *Actuator) StepCount(value float64) int {
	return InverseRamp(value, a.stepSize)
}

// Ramp is the setpoint for a step count and fine count.  The ramp is
// quadratic in power: each whole step adds one stepSize² of V².
func Ramp(count, fine int, stepSize float64) float64 {
	x := float64(4*count+fine) / 4
	if x < 0 {
		x = 0
	}
	return math.Sqrt(x) * stepSize
}

// InverseRamp returns floor((value/stepSize)²), or zero for a value that is
// not finite
func InverseRamp(value, stepSize float64) int {
	if stepSize <= 0 || !mathx.Finite(value) {
		return 0
	}
	r := value / stepSize
	return int(math.Floor(r * r))
}

// Setpoint returns the direct setpoint, or the loop setpoint in PID mode
func (a *Actuator) Setpoint() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pidOn {
		return a.pid.Setpoint
	}
	return a.setpoint
}

// PIDEnabled reports if the device is in PID mode
func (a *Actuator) PIDEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pidOn
}

// Values is the device's logged state
func (a *Actuator) Values() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := map[string]float64{"SP": a.setpoint}
	if a.sent {
		out["OUT"] = a.lastSent
	}
	if a.pidOn {
		out["SP"] = a.pid.Setpoint
		out["PV"] = a.pid.ProcessValue
		out["CV"] = a.pid.Output
	}
	return out
}

// SafetyCritical is true if the device has a safe position
func (a *Actuator) SafetyCritical() bool { return a.safe != nil }

// GoSafe commands the safe position and holds the device there.  Steps,
// parameter changes and responses are ignored from then on.
func (a *Actuator) GoSafe() error {
	if a.safe == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.held = true
	a.pidOn = false
	a.active = false
	a.setpoint = *a.safe
	return a.send(*a.safe)
}

// Held reports if GoSafe has latched the device at its safe position
func (a *Actuator) Held() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held
}

// ReturnHome commands the home position
func (a *Actuator) ReturnHome() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.held {
		return fmt.Errorf("%s: %w", a.Name(), ErrHeld)
	}
	a.pidOn = false
	a.setpoint = a.home
	return a.send(a.home)
}

// Reinit restarts the driver if it supports it
func (a *Actuator) Reinit(ctx context.Context) error {
	if r, ok := a.drv.(Restarter); ok {
		return r.Restart()
	}
	return nil
}

// Stop drives the device to its safe position unless it is already there,
// deactivates the driver and ends the main loop.  Errors are logged.
func (a *Actuator) Stop() {
	if a.Halted() {
		return
	}
	a.Halt()
	a.mu.Lock()
	if a.safe != nil && !(a.sent && a.lastSent == *a.safe) {
		if err := a.send(*a.safe); err != nil {
			a.Log.Warn("driving to safe position on stop", "err", err)
		}
	}
	a.active = false
	a.mu.Unlock()
	if err := a.drv.Deactivate(); err != nil {
		a.Log.Warn("deactivating", "err", err)
	}
	a.done.Publish()
}
