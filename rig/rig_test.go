package rig_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermofluids/flowloop/actuator"
	"github.com/thermofluids/flowloop/config"
	"github.com/thermofluids/flowloop/device"
	"github.com/thermofluids/flowloop/rig"
	"github.com/thermofluids/flowloop/sensor"
)

func names(cs []device.Component) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name()
	}
	return out
}

func TestBuildDefault(t *testing.T) {
	r, err := rig.Build(context.Background(), config.Default(), io.Discard, nil)
	require.NoError(t, err)
	defer r.Close()

	if diff := cmp.Diff([]string{"timer", "controller", "logger"}, names(r.Registry.ByRole(device.Module))); diff != "" {
		t.Errorf("modules (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"DAQ", "T1", "PSU"}, names(r.Registry.ByRole(device.Hardware))); diff != "" {
		t.Errorf("hardware (-want +got):\n%s", diff)
	}
	assert.Nil(t, r.Input)
	require.Len(t, r.Actuators, 1)
	assert.True(t, r.Actuators[0].SafetyCritical())

	p := r.Parts()
	assert.Equal(t, r.RunID, p.RunID)
	assert.Same(t, r.Registry, p.Registry)
	assert.Equal(t, r.RunID, r.Manager(nil).RunID())
}

func heaterRig() config.Config {
	c := config.Default()
	c.Sensors = []config.Sensor{
		{Name: "SH1", Kind: "shunt_dc", Channel: 101, Range: "0.1", Args: map[string]interface{}{"resistance": 0.01}},
		{Name: "HT1", Kind: "heater_dc", Channel: 102, Range: "auto",
			Args: map[string]interface{}{"shunt": "sh1", "settling": "5ms"}},
		{Name: "P1", Kind: "p_sensor", Channel: 103, Args: map[string]interface{}{
			"signalLow": 1, "signalHigh": 5, "readingLow": 0, "readingHigh": 10, "scale": 1e5}},
		{Name: "T1", Kind: "thermocouple", Channel: 104, Track: true, Lookback: 4},
		{Name: "QTOT", Kind: "combined_power", Args: map[string]interface{}{
			"pairs": []interface{}{map[string]interface{}{"heater": "HT1", "shunt": "SH1"}}}},
		{Name: "INP", Kind: "manual_input", Args: map[string]interface{}{"primary": "x"}},
	}
	safe := 0.0
	c.Devices = []config.Device{
		{Name: "PSU", Kind: "ea", Safe: &safe, Limits: &config.Limits{Max: 160},
			Args: map[string]interface{}{"addr": "/dev/ttyACM0", "inverter": "DCAC"}},
		{Name: "DCAC", Kind: "inverter", Args: map[string]interface{}{"addr": "/dev/ttyACM1"}},
		{Name: "PMP", Kind: "hnpm", Setpoint: 1.5, Args: map[string]interface{}{"addr": "/dev/ttyUSB0"},
			PID: &config.PID{KP: 1, Target: "P1", Attribute: "p", IntegralMin: -1, IntegralMax: 1}},
	}
	return c
}

func TestBuildWiresHeatersAndVirtualSensors(t *testing.T) {
	r, err := rig.Build(context.Background(), heaterRig(), io.Discard, nil)
	require.NoError(t, err)
	defer r.Close()

	if diff := cmp.Diff([]string{"DAQ", "SH1", "HT1", "P1", "T1", "QTOT", "INP", "PSU", "PMP"},
		names(r.Registry.ByRole(device.Hardware))); diff != "" {
		t.Errorf("hardware (-want +got):\n%s", diff)
	}
	require.NotNil(t, r.Input)
	assert.Equal(t, "X", r.Input.Reading().Primary)

	ht, err := device.Get[*sensor.Channel](r.Registry, "ht1")
	require.NoError(t, err)
	assert.Equal(t, sensor.HeaterDC, ht.Kind())
	_, err = device.Get[*sensor.CombinedPower](r.Registry, "QTOT")
	require.NoError(t, err)

	pmp, err := device.Get[*actuator.Actuator](r.Registry, "PMP")
	require.NoError(t, err)
	assert.True(t, pmp.PIDEnabled())
	_, err = r.Registry.Lookup("DCAC")
	assert.ErrorIs(t, err, device.ErrUnknownDevice, "an inverter switched by a supply is not its own device")
}

func TestBuildRejectsBadArgs(t *testing.T) {
	c := heaterRig()
	c.Sensors[0].Args = map[string]interface{}{"resistance": 0.01, "ohms": 2}
	_, err := rig.Build(context.Background(), c, io.Discard, nil)
	assert.Error(t, err)

	c = heaterRig()
	c.Sensors[1].Args = map[string]interface{}{"shunt": "P1"}
	_, err = rig.Build(context.Background(), c, io.Discard, nil)
	assert.Error(t, err)

	c = config.Default()
	c.Devices[0].Kind = "flux capacitor"
	_, err = rig.Build(context.Background(), c, io.Discard, nil)
	assert.ErrorIs(t, err, rig.ErrUnknownKind)

	c = config.Default()
	c.Sensors[0].Range = "huge"
	_, err = rig.Build(context.Background(), c, io.Discard, nil)
	assert.Error(t, err)
}

func TestParseRange(t *testing.T) {
	for in, want := range map[string]float64{"": 0, "AUTO": 0, " 10 ": 10, "1e-3": 0.001} {
		got, err := rig.ParseRange(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := rig.ParseRange("-1")
	assert.Error(t, err)
}

func TestSimulatedRunRecordsAndShutsDown(t *testing.T) {
	c := config.Default()
	c.Timer.Intervals = config.Intervals{SS: 20 * time.Millisecond, USS: 20 * time.Millisecond}
	c.Supervisor.PollInterval = 10 * time.Millisecond
	r, err := rig.Build(context.Background(), c, io.Discard, nil)
	require.NoError(t, err)
	defer r.Close()

	m := r.Manager(nil)
	m.Out = io.Discard
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		rec, ok := r.Recorder.Last()
		return ok && rec.Cycle >= 3
	}, 5*time.Second, 10*time.Millisecond)

	rec, _ := r.Recorder.Last()
	assert.Equal(t, r.RunID, rec.Run)
	require.NotEmpty(t, rec.Rows)
	assert.Contains(t, rec.Columns(), "T1.T")
	assert.Contains(t, rec.Columns(), "PSU.SP")

	cancel()
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not shut down")
	}
	assert.True(t, m.Terminated())
}
