package control_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermofluids/flowloop/actuator"
	"github.com/thermofluids/flowloop/control"
	"github.com/thermofluids/flowloop/daq"
	"github.com/thermofluids/flowloop/device"
	"github.com/thermofluids/flowloop/sensor"
)

func TestFineIncrementsMakeOneStep(t *testing.T) {
	coarse := control.StepSequence{}
	coarse.Advance(1)

	fine := control.StepSequence{}
	fine.ToggleFine()
	for i := 0; i < 3; i++ {
		fine.Advance(1)
		assert.Equal(t, 0, fine.Count)
		assert.Equal(t, i+1, fine.FineCount)
	}
	fine.Advance(1)
	assert.Equal(t, coarse.Count, fine.Count)
	assert.Equal(t, 0, fine.FineCount)
	assert.Equal(t, actuator.Ramp(coarse.Count, 0, 30), actuator.Ramp(fine.Count, fine.FineCount, 30))
}

func TestStepFlooredAtZero(t *testing.T) {
	s := control.StepSequence{}
	assert.False(t, s.Advance(-1))
	assert.Equal(t, 0, s.Count)

	s.ToggleFine()
	s.Advance(1)
	s.Advance(1)
	assert.True(t, s.Advance(-1))
	assert.Equal(t, 0, s.Count)
	assert.Equal(t, 1, s.FineCount)

	s.ToggleFine()
	assert.Equal(t, 0, s.FineCount, "leaving fine mode discards increments")
}

type state struct {
	mu    sync.Mutex
	s     device.ProcessState
	burst daq.Info
}

func (s *state) LastBurst() daq.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.burst
}

func (s *state) setBurst(b daq.Info) {
	s.mu.Lock()
	s.burst = b
	s.mu.Unlock()
}

func (s *state) State() device.ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s
}

func (s *state) set(p device.ProcessState) {
	s.mu.Lock()
	s.s = p
	s.mu.Unlock()
}

type rig struct {
	state  *state
	cycle  *device.Signal
	pres   *sensor.ManualInput
	psu    *actuator.Actuator
	valve  *actuator.Actuator
	psuRec *actuator.Recorder
	valRec *actuator.Recorder
	ctrl   *control.Controller
	done   *device.Signal
}

func newRig(t *testing.T) *rig {
	r := &rig{state: &state{s: device.Unsteady}, cycle: device.NewSignal()}
	r.pres = sensor.NewManualInput(sensor.Options{Name: "PRES", Setpoint: 10}, "P", r.cycle, nil, nil)
	r.psuRec, r.valRec = &actuator.Recorder{}, &actuator.Recorder{}
	r.psu = actuator.New(actuator.Settings{Name: "PSU", StepSize: 30, Limits: actuator.Limits{Min: 0, Max: 168}}, r.psuRec, nil)
	r.valve = actuator.New(actuator.Settings{
		Name:     "VALVE",
		Setpoint: 45,
		Limits:   actuator.Limits{Min: 0, Max: 90},
		PID: &actuator.PIDSettings{
			Gains:       actuator.Gains{KP: -2},
			IntegralMax: 1,
			Target:      r.pres,
			Attribute:   "P",
		},
	}, r.valRec, nil)
	r.valve.Activate()
	r.ctrl = control.New(r.state, []sensor.Sensor{r.pres}, []*actuator.Actuator{r.psu, r.valve}, nil)
	r.done = r.ctrl.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for _, c := range []device.Component{r.pres, r.psu, r.valve, r.ctrl} {
		go c.Run(ctx)
	}
	return r
}

func (r *rig) runCycle(t *testing.T, pv float64) control.Report {
	r.pres.Set(pv)
	r.cycle.Publish()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.done.Wait(ctx))
	return r.ctrl.LastReport()
}

func TestControllerPIDCycle(t *testing.T) {
	r := newRig(t)
	var outputs []float64
	for _, pv := range []float64{0, 5, 9, 10} {
		r.runCycle(t, pv)
		v := r.valve.Values()
		outputs = append(outputs, v["CV"])
		assert.Equal(t, pv, v["PV"])
	}
	// 45 -20 -> 25, then I saturates at 1 with KI=0, so only P moves it
	assert.Equal(t, []float64{25, 15, 13, 13}, outputs)
	assert.Equal(t, outputs, r.valRec.Commands()[:4])
	assert.Equal(t, 4, r.ctrl.LastReport().Cycle)
}

func TestControllerStepsOnFreshUnsteady(t *testing.T) {
	r := newRig(t)
	r.runCycle(t, 10)
	assert.Equal(t, 0, r.ctrl.Sequence().Count, "no transition yet")

	r.state.set(device.Steady)
	r.runCycle(t, 10)
	valveBefore := r.valve.Values()["PV"]
	r.runCycle(t, 3)
	assert.Equal(t, valveBefore, r.valve.Values()["PV"], "SS cycles do not distribute process values")

	r.state.set(device.Unsteady)
	rep := r.runCycle(t, 10)
	assert.Equal(t, 1, rep.Step.Count)
	assert.Equal(t, 30., r.psu.Setpoint())
	r.runCycle(t, 10)
	assert.Equal(t, 1, r.ctrl.Sequence().Count, "one advance per transition")
	assert.Contains(t, r.psuRec.Commands(), 30.)
}

func TestReportCarriesBurstAtCycleStart(t *testing.T) {
	r := newRig(t)
	first := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.state.setBurst(daq.Info{Cycle: 7, State: device.Unsteady, Sweeps: 2, First: first, Last: first.Add(time.Second)})
	rep := r.runCycle(t, 10)

	r.state.setBurst(daq.Info{Cycle: 8})
	assert.Equal(t, 7, rep.Burst.Cycle)
	assert.Equal(t, first, rep.Burst.First)
	assert.Equal(t, 7, r.ctrl.LastReport().Burst.Cycle, "a later burst does not rewrite a finished cycle")
}

func TestSetParameterRoundTrip(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.ctrl.SetParameter("psu", "", 100))
	assert.Equal(t, 100., r.psu.Setpoint())
	assert.Equal(t, 11, r.ctrl.Sequence().Count)

	seq := r.ctrl.AdvanceStep(1)
	assert.Equal(t, 12, seq.Count)
	assert.InDelta(t, actuator.Ramp(12, 0, 30), r.psu.Setpoint(), 1e-9)

	require.NoError(t, r.ctrl.SetParameter("PRES", "SP", 12))
	assert.Equal(t, 12., r.pres.Reading().Setpoint)
	assert.Error(t, r.ctrl.SetParameter("PRES", "KP", 1))
	assert.ErrorIs(t, r.ctrl.SetParameter("NOPE", "SP", 1), device.ErrUnknownDevice)

	require.NoError(t, r.ctrl.SetParameter("VALVE", "SP", 30))
	assert.False(t, r.valve.PIDEnabled())
}

func TestToggleFine(t *testing.T) {
	r := newRig(t)
	assert.True(t, r.ctrl.ToggleFine())
	r.ctrl.AdvanceStep(1)
	assert.InDelta(t, 15, r.psu.Setpoint(), 1e-9)
	assert.False(t, r.ctrl.ToggleFine())
	assert.Equal(t, 0, r.ctrl.Sequence().FineCount)
}
