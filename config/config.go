// Package config is the declarative description of a run: the acquisition
// unit, every sensor and controlled device with their typed settings, the
// timer, the data logger and the supervisor.  It is loaded once at startup
// with koanf and is immutable afterwards.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/thermofluids/flowloop/alarm"
	"github.com/thermofluids/flowloop/daq"
	"github.com/thermofluids/flowloop/sensor"
)

// Kinds of sensors that are not wired to an acquisition channel
const (
	CombinedPower = "combined_power"
	ManualInput   = "manual_input"
)

// Alarm is one alarm rule on a sensor
type Alarm struct {
	// Direction is H, L or HT
	Direction string `koanf:"direction" yaml:"direction"`

	// Attribute is the watched quantity, e.g. T or P
	Attribute string `koanf:"attribute" yaml:"attribute"`

	Threshold float64 `koanf:"threshold" yaml:"threshold"`

	// Action is Alert or Stop
	Action string `koanf:"action" yaml:"action"`

	// Periods is the HighTrend window, 0 for the default of 3
	Periods int `koanf:"periods" yaml:"periods,omitempty"`
}

// Rule converts the alarm to an alarm.Rule
func (a Alarm) Rule() (alarm.Rule, error) {
	d, err := alarm.ParseDirection(a.Direction)
	if err != nil {
		return alarm.Rule{}, err
	}
	act, err := alarm.ParseAction(a.Action)
	if err != nil {
		return alarm.Rule{}, err
	}
	if a.Attribute == "" {
		return alarm.Rule{}, errors.New("alarm has no attribute")
	}
	return alarm.Rule{Direction: d, Attribute: strings.ToUpper(a.Attribute), Threshold: a.Threshold, Action: act, Periods: a.Periods}, nil
}

// Sensor describes one physical channel or virtual sensor
type Sensor struct {
	Name string `koanf:"name" yaml:"name"`

	// Kind is a sensor.Kind, or combined_power or manual_input
	Kind string `koanf:"kind" yaml:"kind"`

	// Channel is the instrument channel number of a physical sensor
	Channel int `koanf:"channel" yaml:"channel,omitempty"`

	// Range and NPLC are passed to the instrument's channel setup
	Range string  `koanf:"range" yaml:"range,omitempty"`
	NPLC  float64 `koanf:"nplc" yaml:"nplc,omitempty"`

	Track     bool    `koanf:"track" yaml:"track"`
	Lookback  int     `koanf:"lookback" yaml:"lookback,omitempty"`
	Threshold float64 `koanf:"threshold" yaml:"threshold,omitempty"`
	Setpoint  float64 `koanf:"setpoint" yaml:"setpoint,omitempty"`

	Alarms []Alarm `koanf:"alarms" yaml:"alarms,omitempty"`

	// Args holds kind specific settings, see the Args types in package rig
	Args map[string]interface{} `koanf:"args" yaml:"args,omitempty"`
}

// Virtual is true for sensors fed by other sensors or the operator
func (s Sensor) Virtual() bool {
	k := strings.ToLower(s.Kind)
	return k == CombinedPower || k == ManualInput
}

// Limits bound a device's setpoint and output
type Limits struct {
	Min float64 `koanf:"min" yaml:"min"`
	Max float64 `koanf:"max" yaml:"max"`
}

// PID configures closed loop control of a device
type PID struct {
	KP float64 `koanf:"kp" yaml:"kp"`
	KI float64 `koanf:"ki" yaml:"ki"`
	KD float64 `koanf:"kd" yaml:"kd"`

	IntegralMin float64 `koanf:"integralMin" yaml:"integralMin"`
	IntegralMax float64 `koanf:"integralMax" yaml:"integralMax"`

	// Target is the sensor tracked; Attribute is its process value quantity
	Target    string `koanf:"target" yaml:"target"`
	Attribute string `koanf:"attribute" yaml:"attribute"`

	// Active lets the loop output reach the hardware from the start
	Active bool `koanf:"active" yaml:"active"`
}

// Device describes one controlled device
type Device struct {
	Name string `koanf:"name" yaml:"name"`

	// Kind is simulated, ea, hnpm, 33120a, stepper or inverter
	Kind string `koanf:"kind" yaml:"kind"`

	Setpoint float64  `koanf:"setpoint" yaml:"setpoint"`
	Home     float64  `koanf:"home" yaml:"home"`
	Limits   *Limits  `koanf:"limits" yaml:"limits,omitempty"`
	Safe     *float64 `koanf:"safe" yaml:"safe,omitempty"`
	StepSize float64  `koanf:"stepSize" yaml:"stepSize,omitempty"`
	PID      *PID     `koanf:"pid" yaml:"pid,omitempty"`

	Args map[string]interface{} `koanf:"args" yaml:"args,omitempty"`
}

// Pair is a per-state pair of values
type Pair struct {
	SS  int `koanf:"SS" yaml:"SS"`
	USS int `koanf:"USS" yaml:"USS"`
}

// Seconds is a per-state pair of dwell times
type Seconds struct {
	SS  float64 `koanf:"SS" yaml:"SS"`
	USS float64 `koanf:"USS" yaml:"USS"`
}

// Intervals is a per-state pair of durations
type Intervals struct {
	SS  time.Duration `koanf:"SS" yaml:"SS"`
	USS time.Duration `koanf:"USS" yaml:"USS"`
}

// DAQ configures the acquisition unit
type DAQ struct {
	Name string `koanf:"name" yaml:"name"`

	// Kind is simulated, daq6510 or 34970a
	Kind string `koanf:"kind" yaml:"kind"`

	Sweeps Pair `koanf:"sweeps" yaml:"sweeps"`

	// Dwell is the dwell in cycles.  A zero entry is derived from DwellSeconds
	// and the timer interval of that state.
	Dwell        Pair    `koanf:"dwell" yaml:"dwell"`
	DwellSeconds Seconds `koanf:"dwellSeconds" yaml:"dwellSeconds"`

	TriggerTimeout time.Duration `koanf:"triggerTimeout" yaml:"triggerTimeout"`
	ReadyTimeout   time.Duration `koanf:"readyTimeout" yaml:"readyTimeout"`

	Args map[string]interface{} `koanf:"args" yaml:"args,omitempty"`
}

// Timer configures the trigger timer
type Timer struct {
	Mode      string    `koanf:"mode" yaml:"mode"`
	Intervals Intervals `koanf:"intervals" yaml:"intervals"`
}

// MQTT configures the telemetry sink
type MQTT struct {
	Addr     string `koanf:"addr" yaml:"addr"`
	Topic    string `koanf:"topic" yaml:"topic"`
	ClientID string `koanf:"clientID" yaml:"clientID"`
}

// Logger configures the data logger
type Logger struct {
	// Save enables the file sinks
	Save bool   `koanf:"save" yaml:"save"`
	Dir  string `koanf:"dir" yaml:"dir"`

	// SaveLength is the number of rows buffered before a CSV write
	SaveLength int `koanf:"saveLength" yaml:"saveLength"`

	FITS bool `koanf:"fits" yaml:"fits"`

	// DisplayLength is the number of rows in the console table, 0 to disable
	DisplayLength  int      `koanf:"displayLength" yaml:"displayLength"`
	DisplayColumns []string `koanf:"displayColumns" yaml:"displayColumns,omitempty"`

	// AuditFile is where alarms and faults are appended, empty for memory only
	AuditFile string `koanf:"auditFile" yaml:"auditFile"`

	MQTT MQTT `koanf:"mqtt" yaml:"mqtt"`
}

// Supervisor configures the manager
type Supervisor struct {
	PollInterval    time.Duration `koanf:"pollInterval" yaml:"pollInterval"`
	RestartInterval time.Duration `koanf:"restartInterval" yaml:"restartInterval"`
	RestartBurst    int           `koanf:"restartBurst" yaml:"restartBurst"`
	AlarmBuffer     int           `koanf:"alarmBuffer" yaml:"alarmBuffer"`
}

// Config is the whole run
type Config struct {
	// Name labels output files
	Name string `koanf:"name" yaml:"name"`

	// Addr is the operator HTTP address, empty to disable
	Addr string `koanf:"addr" yaml:"addr"`

	// Console enables the keyboard command console
	Console bool `koanf:"console" yaml:"console"`

	// Simulate replaces every instrument with a simulator
	Simulate bool `koanf:"simulate" yaml:"simulate"`

	DAQ        DAQ        `koanf:"daq" yaml:"daq"`
	Timer      Timer      `koanf:"timer" yaml:"timer"`
	Sensors    []Sensor   `koanf:"sensors" yaml:"sensors"`
	Devices    []Device   `koanf:"devices" yaml:"devices"`
	Logger     Logger     `koanf:"logger" yaml:"logger"`
	Supervisor Supervisor `koanf:"supervisor" yaml:"supervisor"`
}

// Default returns a configuration for a simulated rig with one tracked
// thermocouple and a heater power supply
func Default() Config {
	safe := 0.0
	return Config{
		Name:     "run",
		Addr:     ":8000",
		Console:  true,
		Simulate: true,
		DAQ: DAQ{
			Name:           "DAQ",
			Kind:           "simulated",
			Sweeps:         Pair{SS: 5, USS: 1},
			Dwell:          Pair{SS: 5, USS: 5},
			TriggerTimeout: daq.DefaultTriggerTimeout,
			ReadyTimeout:   daq.DefaultReadyTimeout,
		},
		Timer: Timer{
			Mode:      "periodic",
			Intervals: Intervals{SS: 2 * time.Second, USS: time.Second},
		},
		Sensors: []Sensor{{
			Name:     "T1",
			Kind:     string(sensor.Thermocouple),
			Channel:  101,
			Track:    true,
			Lookback: 10,
			Alarms:   []Alarm{{Direction: "H", Attribute: "T", Threshold: 110, Action: "Stop"}},
		}},
		Devices: []Device{{
			Name:     "PSU",
			Kind:     "simulated",
			Limits:   &Limits{Min: 0, Max: 160},
			Safe:     &safe,
			StepSize: 10,
		}},
		Logger: Logger{
			Dir:           ".",
			SaveLength:    50,
			DisplayLength: 10,
		},
		Supervisor: Supervisor{
			PollInterval:    500 * time.Millisecond,
			RestartInterval: 5 * time.Second,
			RestartBurst:    3,
			AlarmBuffer:     64,
		},
	}
}

// Load layers the YAML file at path over the defaults into k and unmarshals
// the result.  A missing file is not an error.
func Load(k *koanf.Koanf, path string) (Config, error) {
	c := Config{}
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return c, errors.Wrap(err, "loading defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such") { // file missing, who cares
				return c, errors.Wrapf(err, "loading %s", path)
			}
		}
	}
	err := k.Unmarshal("", &c)
	return c, errors.Wrap(err, "decoding configuration")
}

// DecodeArgs decodes a kind specific Args map into out, a pointer to a
// struct with mapstructure tags.  Durations may be given as strings.
func DecodeArgs(args map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}
