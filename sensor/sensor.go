// Package sensor implements the sensor channels of the rig.  A channel
// converts each burst the acquisition unit hands it into physical
// quantities, checks its alarm rules, votes on steady state and publishes an
// immutable snapshot for the controller and the logger.
package sensor

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/thermofluids/flowloop/alarm"
	"github.com/thermofluids/flowloop/device"
)

// Reading is a published snapshot.  Values maps quantity names (T, P, V, I,
// R, Q) to the samples of the last burst.  Readers must not modify it.
type Reading struct {
	Primary  string               `json:"primary"`
	Values   map[string][]float64 `json:"values"`
	Setpoint float64              `json:"setpoint"`
	Updated  time.Time            `json:"updated"`
}

// Latest returns the last sample of quantity q
func (r Reading) Latest(q string) (float64, bool) {
	s := r.Values[q]
	if len(s) == 0 {
		return math.NaN(), false
	}
	return s[len(s)-1], true
}

// Value returns the last sample of the primary quantity, or NaN
func (r Reading) Value() float64 {
	v, _ := r.Latest(r.Primary)
	return v
}

// Source is anything that publishes readings
type Source interface {
	Name() string
	Reading() Reading
}

// Sensor is the view the controller, DAU and supervisor have of a channel,
// physical or virtual
type Sensor interface {
	device.Component
	Source

	// ProcessState is this sensor's steady state vote
	ProcessState() device.ProcessState

	// Tracked is true if the sensor votes in the steady state decision
	Tracked() bool

	// Subscribe returns a signal set each time a reading is published
	Subscribe() *device.Signal

	// SetSetpoint changes the sensor's setpoint, read by PID devices tracking it
	SetSetpoint(float64)
}

// Options are common to every kind of sensor
type Options struct {
	Name string

	// Track makes the sensor vote on steady state
	Track bool

	// Lookback is the steady state window capacity in samples
	Lookback int

	// Threshold is the relative range for steady classification; zero means DefaultThreshold
	Threshold float64

	Setpoint float64
	Rules    []alarm.Rule
}

// core is the shared publish path of physical and virtual sensors
type core struct {
	*device.Base
	primary   string
	track     bool
	threshold float64

	window *Window
	eval   *alarm.Evaluator
	alarms chan<- alarm.Event

	published device.Notifier

	mu       sync.RWMutex
	reading  Reading
	vote     device.ProcessState
	setpoint float64
}

func newCore(o Options, primary string, alarms chan<- alarm.Event, log *slog.Logger) *core {
	th := o.Threshold
	if th == 0 {
		th = DefaultThreshold
	}
	return &core{
		Base:      device.NewBase(o.Name, log),
		primary:   primary,
		track:     o.Track,
		threshold: th,
		window:    NewWindow(o.Lookback),
		eval:      alarm.NewEvaluator(o.Rules...),
		alarms:    alarms,
		setpoint:  o.Setpoint,
		reading:   Reading{Primary: primary, Setpoint: o.Setpoint},
	}
}

// Reading implements Source
func (c *core) Reading() Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reading
}

// ProcessState implements Sensor
func (c *core) ProcessState() device.ProcessState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vote
}

// Tracked implements Sensor
func (c *core) Tracked() bool { return c.track }

// Subscribe implements Sensor
func (c *core) Subscribe() *device.Signal { return c.published.Subscribe() }

// SetSetpoint implements Sensor
func (c *core) SetSetpoint(v float64) {
	c.mu.Lock()
	c.setpoint = v
	c.reading.Setpoint = v
	c.mu.Unlock()
}

// Stop implements device.Component
func (c *core) Stop() { c.Halt() }

// publish runs alarms and classification on vals, swaps in a new snapshot
// and notifies subscribers
func (c *core) publish(vals map[string][]float64, at time.Time) {
	for _, ev := range c.eval.Check(c.Name(), vals, at) {
		c.raise(ev)
	}
	vote := device.Unsteady
	if c.track {
		c.window.Append(vals[c.primary]...)
		vote = c.window.Classify(c.threshold)
	}
	c.mu.Lock()
	c.reading = Reading{Primary: c.primary, Values: vals, Setpoint: c.setpoint, Updated: at}
	c.vote = vote
	c.mu.Unlock()
	c.published.Publish()
}

// republish notifies subscribers without changing the snapshot, so peers
// waiting on this sensor are not starved when a burst is missing
func (c *core) republish() {
	c.published.Publish()
}

func (c *core) raise(ev alarm.Event) {
	if c.alarms == nil {
		return
	}
	select {
	case c.alarms <- ev:
	default:
		c.Log.Warn("alarm channel full, dropping alarm", "alarm", ev.String())
	}
}
