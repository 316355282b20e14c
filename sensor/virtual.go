package sensor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/thermofluids/flowloop/alarm"
	"github.com/thermofluids/flowloop/device"
)

// Pair is a heater and the shunt in series with it
type Pair struct {
	Heater          Source
	Shunt           Source
	ShuntResistance float64
}

// CombinedPower is a virtual sensor summing the electrical power of several
// heaters.  It publishes once every input has published in the cycle.
type CombinedPower struct {
	*core
	pairs []Pair
	subs  []*device.Signal
}

// NewCombinedPower returns a virtual power sensor.  subs are subscriptions to
// every heater and shunt in pairs.
func NewCombinedPower(o Options, pairs []Pair, subs []*device.Signal, alarms chan<- alarm.Event, log *slog.Logger) *CombinedPower {
	return &CombinedPower{
		core:  newCore(o, "Q", alarms, log),
		pairs: pairs,
		subs:  subs,
	}
}

// Run implements device.Component
func (c *CombinedPower) Run(ctx context.Context) error {
	return c.Loop(ctx, c.process)
}

func (c *CombinedPower) process(ctx context.Context) device.Outcome {
	if err := c.Await(ctx, c.subs...); err != nil {
		return device.Quit()
	}
	q, err := CombinePower(c.pairs)
	if err != nil {
		c.republish()
		return device.Done()
	}
	c.publish(map[string][]float64{"Q": q}, time.Now())
	return device.Done()
}

// CombinePower computes Σ V_heater·V_shunt/R_shunt element-wise over the
// latest bursts of the pairs.  The output is as long as the shortest input.
func CombinePower(pairs []Pair) ([]float64, error) {
	if len(pairs) == 0 {
		return nil, errors.New("no heater/shunt pairs")
	}
	n := -1
	series := make([][2][]float64, len(pairs))
	for i, p := range pairs {
		if p.ShuntResistance == 0 {
			return nil, errors.New("shunt resistance is zero")
		}
		vh := p.Heater.Reading().Values["V"]
		vs := p.Shunt.Reading().Values["V"]
		if len(vh) == 0 || len(vs) == 0 {
			return nil, errors.New("missing voltage reading")
		}
		series[i] = [2][]float64{vh, vs}
		for _, s := range series[i] {
			if n < 0 || len(s) < n {
				n = len(s)
			}
		}
	}
	out := make([]float64, n)
	for i, p := range pairs {
		vh, vs := series[i][0], series[i][1]
		for k := 0; k < n; k++ {
			out[k] += vh[k] * vs[k] / p.ShuntResistance
		}
	}
	return out, nil
}

// ManualInput is a virtual sensor whose value is set by the operator.  It
// republishes once per acquisition cycle so the controller never waits on
// the operator.
type ManualInput struct {
	*core
	cycle *device.Signal

	vmu   sync.Mutex
	value float64
}

// NewManualInput returns a manual input publishing quantity primary each time
// cycle is set
func NewManualInput(o Options, primary string, cycle *device.Signal, alarms chan<- alarm.Event, log *slog.Logger) *ManualInput {
	return &ManualInput{core: newCore(o, primary, alarms, log), cycle: cycle}
}

// Set changes the operator value, published on the next cycle
func (m *ManualInput) Set(v float64) {
	m.vmu.Lock()
	m.value = v
	m.vmu.Unlock()
	m.Log.Info("manual input set", "value", v)
}

// Run implements device.Component
func (m *ManualInput) Run(ctx context.Context) error {
	return m.Loop(ctx, m.process)
}

func (m *ManualInput) process(ctx context.Context) device.Outcome {
	if err := m.Await(ctx, m.cycle); err != nil {
		return device.Quit()
	}
	m.vmu.Lock()
	v := m.value
	m.vmu.Unlock()
	m.publish(map[string][]float64{m.primary: {v}}, time.Now())
	return device.Done()
}
