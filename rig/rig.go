// Package rig builds a run from its configuration: the acquisition unit and
// its instrument, every sensor channel and virtual sensor, the controlled
// devices and their drivers, the controller, the data logger and the
// supervisor's parts.
package rig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/thermofluids/flowloop/actuator"
	"github.com/thermofluids/flowloop/agilent"
	"github.com/thermofluids/flowloop/alarm"
	"github.com/thermofluids/flowloop/arduino"
	"github.com/thermofluids/flowloop/audit"
	"github.com/thermofluids/flowloop/comm"
	"github.com/thermofluids/flowloop/config"
	"github.com/thermofluids/flowloop/control"
	"github.com/thermofluids/flowloop/daq"
	"github.com/thermofluids/flowloop/datalog"
	"github.com/thermofluids/flowloop/device"
	"github.com/thermofluids/flowloop/ea"
	"github.com/thermofluids/flowloop/hnpm"
	"github.com/thermofluids/flowloop/keithley"
	"github.com/thermofluids/flowloop/manager"
	"github.com/thermofluids/flowloop/sensor"
	"github.com/thermofluids/flowloop/usbtmc"
)

const (
	// dialTimeout bounds one TCP connection attempt to an instrument
	dialTimeout = 3 * time.Second

	// idleTimeout is how long an unused instrument connection stays open
	idleTimeout = 30 * time.Second
)

// ErrUnknownKind is generated for a DAQ, sensor or device kind with no builder
var ErrUnknownKind = errors.New("unknown kind")

// Rig is a built run.  Every component is registered in Registry; the rest
// of the fields give typed access for the supervisor and the operator.
type Rig struct {
	RunID      string
	Registry   *device.Registry
	DAU        *daq.DAU
	Timer      *daq.Timer
	Controller *control.Controller
	Recorder   *datalog.Recorder
	Input      *sensor.ManualInput
	Sensors    []sensor.Sensor
	Actuators  []*actuator.Actuator
	Audit      *audit.Memory
	Alarms     chan alarm.Event

	cfg     config.Config
	auditTo audit.Sink
	closers []io.Closer
}

// builder carries the state shared by the build steps
type builder struct {
	cfg    config.Config
	log    *slog.Logger
	out    io.Writer
	alarms chan alarm.Event

	dau      *daq.DAU
	acq      daq.Acquirer
	commands func(daq.Setup) []string

	sensors  map[string]sensor.Sensor
	channels map[string]*sensor.Channel
	shuntR   map[string]float64

	// inverters claimed by a power supply are not built as devices
	claimed map[string]bool
}

func decode(args map[string]interface{}, out interface{}) error {
	if len(args) == 0 {
		return nil
	}
	return config.DecodeArgs(args, out)
}

// Build validates c and builds every component.  The console table, if
// enabled, is written to out.  Instruments are opened and configured here,
// so hardware errors surface before the run starts.
func Build(ctx context.Context, c config.Config, out io.Writer, log *slog.Logger) (*Rig, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	buf := c.Supervisor.AlarmBuffer
	if buf <= 0 {
		buf = 64
	}
	b := &builder{
		cfg:      c,
		log:      log,
		out:      out,
		alarms:   make(chan alarm.Event, buf),
		sensors:  map[string]sensor.Sensor{},
		channels: map[string]*sensor.Channel{},
		shuntR:   map[string]float64{},
		claimed:  map[string]bool{},
	}
	r := &Rig{
		RunID:  uuid.NewString(),
		Audit:  &audit.Memory{},
		Alarms: b.alarms,
		cfg:    c,
	}
	var err error
	if err = b.buildDAQ(); err != nil {
		return nil, err
	}
	r.DAU = b.dau
	if r.Sensors, r.Input, err = b.buildSensors(); err != nil {
		return nil, err
	}
	if err = b.acq.Activate(); err != nil {
		return nil, pkgerrors.Wrapf(err, "activating %s", c.DAQ.Kind)
	}
	if r.Actuators, err = b.buildDevices(); err != nil {
		b.acq.Close()
		return nil, err
	}

	r.Controller = control.New(b.dau, r.Sensors, r.Actuators, log)
	b.dau.WaitFor(r.Controller.Subscribe())
	for _, s := range r.Sensors {
		b.dau.AddVoters(s)
		if ch, ok := s.(*sensor.Channel); ok {
			b.dau.Attach(ch)
		}
	}

	mode, _ := daq.ParseMode(c.Timer.Mode)
	r.Timer = daq.NewTimer(mode, c.Timer.Intervals.SS, c.Timer.Intervals.USS, b.dau, log)

	sinks, err := b.buildSinks(ctx, r.RunID)
	if err != nil {
		r.release(r.Actuators)
		return nil, err
	}
	series := make([]datalog.SeriesSource, len(r.Sensors))
	for i, s := range r.Sensors {
		series[i] = datalog.FromSensor(s)
	}
	scalars := make([]datalog.ScalarSource, len(r.Actuators))
	for i, a := range r.Actuators {
		scalars[i] = a
	}
	r.Recorder = datalog.NewRecorder(r.RunID, r.Controller.Subscribe(), r.Controller, series, scalars, sinks, log)

	r.auditTo = r.Audit
	if c.Logger.AuditFile != "" {
		f, err := audit.OpenFile(c.Logger.AuditFile)
		if err != nil {
			r.release(r.Actuators)
			return nil, pkgerrors.Wrap(err, "opening audit file")
		}
		r.auditTo = audit.Multi{r.Audit, f}
		r.closers = append(r.closers, f)
	}

	if r.Registry, err = r.register(); err != nil {
		r.release(r.Actuators)
		return nil, err
	}
	return r, nil
}

// release deactivates drivers after a failed build
func (r *Rig) release(acts []*actuator.Actuator) {
	for _, a := range acts {
		a.Stop()
	}
	r.DAU.Stop()
}

// register adds the modules and then the hardware, in the order they are
// stopped in
func (r *Rig) register() (*device.Registry, error) {
	reg := device.NewRegistry()
	for _, m := range []device.Component{r.Timer, r.Controller, r.Recorder} {
		if err := reg.Register(m, device.Module); err != nil {
			return nil, err
		}
	}
	if err := reg.Register(r.DAU, device.Hardware); err != nil {
		return nil, err
	}
	for _, s := range r.Sensors {
		if err := reg.Register(s, device.Hardware); err != nil {
			return nil, err
		}
	}
	for _, a := range r.Actuators {
		if err := reg.Register(a, device.Hardware); err != nil {
			return nil, err
		}
	}
	reg.Seal()
	return reg, nil
}

// Parts returns the supervisor's view of the rig
func (r *Rig) Parts() manager.Parts {
	return manager.Parts{
		RunID:      r.RunID,
		Registry:   r.Registry,
		DAU:        r.DAU,
		Timer:      r.Timer,
		Controller: r.Controller,
		Recorder:   r.Recorder,
		Input:      r.Input,
		Actuators:  r.Actuators,
		Audit:      r.auditTo,
		Alarms:     r.Alarms,
	}
}

// Manager returns a supervisor for the rig configured from the supervisor
// section
func (r *Rig) Manager(log *slog.Logger) *manager.Manager {
	s := r.cfg.Supervisor
	return manager.New(manager.Config{
		PollInterval:    s.PollInterval,
		RestartInterval: s.RestartInterval,
		RestartBurst:    s.RestartBurst,
	}, r.Parts(), log)
}

// Close releases what the components do not own, e.g. the audit file.  Call
// it after the manager is done.
func (r *Rig) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (b *builder) buildDAQ() error {
	c := b.cfg.DAQ
	kind := strings.ToLower(c.Kind)
	if b.cfg.Simulate {
		kind = "simulated"
	}
	switch kind {
	case "simulated", "sim":
		args := SimulatorArgs{Low: 20, High: 25, SweepTime: 10 * time.Millisecond}
		if err := decode(c.Args, &args); err != nil && !b.cfg.Simulate {
			return pkgerrors.Wrap(err, "daq args")
		}
		b.acq = daq.NewSimulator(args.Low, args.High, args.SweepTime)
		b.commands = keithley.ChannelCommands
	case "daq6510", "keithley":
		args := DAQ6510Args{VID: KeithleyVID, PID: DAQ6510PID}
		if err := decode(c.Args, &args); err != nil {
			return pkgerrors.Wrap(err, "daq6510 args")
		}
		var maker comm.CreationFunc
		if args.USB {
			maker = usbtmc.ConnMaker(args.VID, args.PID)
		} else {
			maker = comm.BackingOffTCPConnMaker(args.Addr, dialTimeout)
		}
		b.acq = keithley.NewDAQ6510(comm.NewPool(1, idleTimeout, maker))
		b.commands = keithley.ChannelCommands
	case "34970a", "agilent":
		args := DAQ34970AArgs{}
		if err := decode(c.Args, &args); err != nil {
			return pkgerrors.Wrap(err, "34970a args")
		}
		maker := comm.BackingOffTCPConnMaker(args.Addr, dialTimeout)
		if args.Serial {
			maker = comm.SerialConnMaker(agilent.SerialConfig(args.Addr))
		}
		b.acq = agilent.NewDAQ34970A(comm.NewPool(1, idleTimeout, maker))
		b.commands = agilent.ChannelCommands
	default:
		return fmt.Errorf("daq %q: %w", c.Kind, ErrUnknownKind)
	}
	ss, uss := b.cfg.DwellCycles()
	b.dau = daq.New(daq.Config{
		Name:           c.Name,
		SweepsSteady:   c.Sweeps.SS,
		SweepsUnsteady: c.Sweeps.USS,
		SteadyCycles:   ss,
		UnsteadyCycles: uss,
		TriggerTimeout: c.TriggerTimeout,
		ReadyTimeout:   c.ReadyTimeout,
	}, b.acq, b.log)
	return nil
}

// ParseRange converts a configured range to volts, ohms or degrees.  Empty
// and "auto" select autoranging and return zero.
func ParseRange(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "auto" || s == "def" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("range %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("range %q is negative", s)
	}
	return v, nil
}

func options(s config.Sensor) (sensor.Options, error) {
	o := sensor.Options{
		Name:      s.Name,
		Track:     s.Track,
		Lookback:  s.Lookback,
		Threshold: s.Threshold,
		Setpoint:  s.Setpoint,
	}
	for i, a := range s.Alarms {
		rule, err := a.Rule()
		if err != nil {
			return o, pkgerrors.Wrapf(err, "alarm %d", i)
		}
		o.Rules = append(o.Rules, rule)
	}
	return o, nil
}

// buildSensors builds physical channels, then heaters which follow their
// shunts, then virtual sensors.  The result keeps the configured order.
func (b *builder) buildSensors() ([]sensor.Sensor, *sensor.ManualInput, error) {
	var heaters, virtual []config.Sensor
	for _, s := range b.cfg.Sensors {
		if s.Virtual() {
			virtual = append(virtual, s)
			continue
		}
		kind, _ := sensor.ParseKind(s.Kind)
		if kind == sensor.HeaterDC || kind == sensor.HeaterAC {
			heaters = append(heaters, s)
			continue
		}
		if err := b.buildChannel(s, kind); err != nil {
			return nil, nil, pkgerrors.Wrapf(err, "sensor %s", s.Name)
		}
	}
	for _, s := range heaters {
		kind, _ := sensor.ParseKind(s.Kind)
		if err := b.buildChannel(s, kind); err != nil {
			return nil, nil, pkgerrors.Wrapf(err, "sensor %s", s.Name)
		}
	}
	var input *sensor.ManualInput
	for _, s := range virtual {
		v, err := b.buildVirtual(s)
		if err != nil {
			return nil, nil, pkgerrors.Wrapf(err, "sensor %s", s.Name)
		}
		if mi, ok := v.(*sensor.ManualInput); ok && input == nil {
			input = mi
		}
		b.sensors[strings.ToUpper(s.Name)] = v
	}

	out := make([]sensor.Sensor, 0, len(b.cfg.Sensors))
	for _, s := range b.cfg.Sensors {
		out = append(out, b.sensors[strings.ToUpper(s.Name)])
	}
	return out, input, nil
}

func (b *builder) buildChannel(s config.Sensor, kind sensor.Kind) error {
	o, err := options(s)
	if err != nil {
		return err
	}
	var (
		conv  sensor.Converter
		after []*device.Signal
		ch    ChannelArgs
	)
	switch kind {
	case sensor.Pressure:
		a := TransducerArgs{}
		if err := decode(s.Args, &a); err != nil {
			return err
		}
		if a.SignalLow == a.SignalHigh {
			return sensor.ErrBadRange
		}
		ch = a.ChannelArgs
		conv = sensor.Transducer{SignalLow: a.SignalLow, SignalHigh: a.SignalHigh,
			ReadingLow: a.ReadingLow, ReadingHigh: a.ReadingHigh, Scale: a.Scale}
	case sensor.RTD:
		a := RTDArgs{}
		if err := decode(s.Args, &a); err != nil {
			return err
		}
		ch = a.ChannelArgs
		conv = sensor.Resistor{Quadratic: sensor.Quadratic(a.QuadraticArgs)}
	case sensor.ShuntDC, sensor.ShuntAC:
		a := ShuntArgs{}
		if err := decode(s.Args, &a); err != nil {
			return err
		}
		if a.Resistance <= 0 {
			return errors.New("shunt needs a positive resistance")
		}
		ch = a.ChannelArgs
		conv = sensor.Shunt{Resistance: a.Resistance}
		b.shuntR[strings.ToUpper(s.Name)] = a.Resistance
	case sensor.HeaterDC, sensor.HeaterAC:
		a := HeaterArgs{}
		if err := decode(s.Args, &a); err != nil {
			return err
		}
		shunt, ok := b.channels[strings.ToUpper(a.Shunt)]
		if !ok {
			return fmt.Errorf("shunt %q is not a shunt channel", a.Shunt)
		}
		if _, ok := b.shuntR[strings.ToUpper(a.Shunt)]; !ok {
			return fmt.Errorf("%q is a %s sensor, not a shunt", a.Shunt, shunt.Kind())
		}
		ch = a.ChannelArgs
		h := sensor.Heater{Shunt: shunt}
		if a.Calibration != nil {
			q := sensor.Quadratic(*a.Calibration)
			h.Calibration = &q
		}
		conv = h
		after = []*device.Signal{shunt.Subscribe()}
	default:
		a := DirectArgs{}
		if err := decode(s.Args, &a); err != nil {
			return err
		}
		ch = a.ChannelArgs
		conv = sensor.Direct{Quantity: quantity(kind), Abs: a.Abs}
	}

	rng, err := ParseRange(s.Range)
	if err != nil {
		return err
	}
	setup := daq.Setup{
		Channel:  s.Channel,
		Function: string(kind.Measurement()),
		Range:    rng,
		NPLC:     s.NPLC,
		Settling: ch.Settling,
	}
	if err := b.acq.Configure(s.Channel, b.commands(setup)); err != nil {
		return err
	}
	c := sensor.NewChannel(o, kind, s.Channel, conv, after, b.alarms, b.log)
	b.channels[strings.ToUpper(s.Name)] = c
	b.sensors[strings.ToUpper(s.Name)] = c
	return nil
}

// quantity is the primary quantity of a directly converted kind
func quantity(k sensor.Kind) string {
	switch k {
	case sensor.Thermocouple, sensor.PT100:
		return "T"
	case sensor.Resistance:
		return "R"
	default:
		return "V"
	}
}

func (b *builder) buildVirtual(s config.Sensor) (sensor.Sensor, error) {
	o, err := options(s)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(s.Kind) {
	case config.CombinedPower:
		a := CombinedPowerArgs{}
		if err := decode(s.Args, &a); err != nil {
			return nil, err
		}
		if len(a.Pairs) == 0 {
			return nil, errors.New("combined power needs at least one heater and shunt pair")
		}
		var (
			pairs []sensor.Pair
			subs  []*device.Signal
		)
		for _, p := range a.Pairs {
			heater, ok := b.channels[strings.ToUpper(p.Heater)]
			if !ok {
				return nil, fmt.Errorf("heater %q is not a sensor channel", p.Heater)
			}
			shunt, ok := b.channels[strings.ToUpper(p.Shunt)]
			if !ok {
				return nil, fmt.Errorf("shunt %q is not a sensor channel", p.Shunt)
			}
			r, ok := b.shuntR[strings.ToUpper(p.Shunt)]
			if !ok {
				return nil, fmt.Errorf("%q is not a shunt", p.Shunt)
			}
			pairs = append(pairs, sensor.Pair{Heater: heater, Shunt: shunt, ShuntResistance: r})
			subs = append(subs, heater.Subscribe(), shunt.Subscribe())
		}
		return sensor.NewCombinedPower(o, pairs, subs, b.alarms, b.log), nil
	case config.ManualInput:
		a := ManualInputArgs{Primary: "V"}
		if err := decode(s.Args, &a); err != nil {
			return nil, err
		}
		return sensor.NewManualInput(o, strings.ToUpper(a.Primary), b.dau.Subscribe(), b.alarms, b.log), nil
	}
	return nil, fmt.Errorf("sensor kind %q: %w", s.Kind, ErrUnknownKind)
}

// initer is implemented by drivers which take control of their device before
// the first command
type initer interface {
	Init() error
}

func (b *builder) buildDevices() ([]*actuator.Actuator, error) {
	inverters := map[string]config.Device{}
	for _, d := range b.cfg.Devices {
		if strings.ToLower(d.Kind) == "inverter" {
			inverters[strings.ToUpper(d.Name)] = d
		}
	}
	// a supply's inverter is its Switch and is not commanded on its own
	for _, d := range b.cfg.Devices {
		if strings.ToLower(d.Kind) != "ea" {
			continue
		}
		a := EAArgs{}
		if err := decode(d.Args, &a); err != nil {
			return nil, pkgerrors.Wrapf(err, "device %s", d.Name)
		}
		if a.Inverter == "" {
			continue
		}
		if _, ok := inverters[strings.ToUpper(a.Inverter)]; !ok {
			return nil, fmt.Errorf("device %s: inverter %q is not an inverter device", d.Name, a.Inverter)
		}
		b.claimed[strings.ToUpper(a.Inverter)] = true
	}

	var out []*actuator.Actuator
	for _, d := range b.cfg.Devices {
		if b.claimed[strings.ToUpper(d.Name)] {
			continue
		}
		drv, err := b.driver(d, inverters)
		if err != nil {
			b.deactivate(out)
			return nil, pkgerrors.Wrapf(err, "device %s", d.Name)
		}
		if in, ok := drv.(initer); ok {
			if err := in.Init(); err != nil {
				drv.Deactivate()
				b.deactivate(out)
				return nil, pkgerrors.Wrapf(err, "initializing device %s", d.Name)
			}
		}
		a, err := b.actuator(d, drv)
		if err != nil {
			drv.Deactivate()
			b.deactivate(out)
			return nil, pkgerrors.Wrapf(err, "device %s", d.Name)
		}
		out = append(out, a)
	}
	return out, nil
}

func (b *builder) deactivate(acts []*actuator.Actuator) {
	for _, a := range acts {
		a.Stop()
	}
}

func serialPool(addr string, conf func(string) *serial.Config) *comm.Pool {
	return comm.NewPool(1, idleTimeout, comm.SerialConnMaker(conf(addr)))
}

// driver builds the Driver of one device.  In simulation every driver is an
// actuator.Recorder, but the kind specific arguments are still checked.
func (b *builder) driver(d config.Device, inverters map[string]config.Device) (actuator.Driver, error) {
	kind := strings.ToLower(d.Kind)
	sim := b.cfg.Simulate || kind == "simulated" || kind == "sim"
	switch kind {
	case "simulated", "sim":
		return &actuator.Recorder{}, nil
	case "ea":
		a := EAArgs{}
		if err := decode(d.Args, &a); err != nil {
			return nil, err
		}
		if sim {
			return &actuator.Recorder{}, nil
		}
		var inv ea.Switch
		if a.Inverter != "" {
			ia := SerialArgs{}
			if err := decode(inverters[strings.ToUpper(a.Inverter)].Args, &ia); err != nil {
				return nil, pkgerrors.Wrapf(err, "inverter %s", a.Inverter)
			}
			inv = arduino.NewInverter(serialPool(ia.Addr, arduino.SerialConfig))
		}
		psu := ea.NewPS2384(serialPool(a.Addr, ea.SerialConfig), inv)
		if a.NominalVoltage > 0 {
			psu.NominalVoltage = a.NominalVoltage
		}
		if a.InverterThreshold > 0 {
			psu.InverterThreshold = a.InverterThreshold
		}
		return psu, nil
	case "hnpm":
		a := PumpArgs{}
		if err := decode(d.Args, &a); err != nil {
			return nil, err
		}
		if sim {
			return &actuator.Recorder{}, nil
		}
		p := hnpm.NewPump(serialPool(a.Addr, hnpm.SerialConfig))
		if a.RPMPerFlow > 0 {
			p.RPMPerFlow = a.RPMPerFlow
		}
		return p, nil
	case "33120a":
		a := FunctionGeneratorArgs{}
		if err := decode(d.Args, &a); err != nil {
			return nil, err
		}
		if sim {
			return &actuator.Recorder{}, nil
		}
		maker := comm.BackingOffTCPConnMaker(a.Addr, dialTimeout)
		if a.Serial {
			maker = comm.SerialConnMaker(agilent.SerialConfig(a.Addr))
		}
		return agilent.NewFunctionGenerator(comm.NewPool(1, idleTimeout, maker), a.Multiplier, a.Frequency), nil
	case "stepper":
		a := SerialArgs{}
		if err := decode(d.Args, &a); err != nil {
			return nil, err
		}
		if sim {
			return &actuator.Recorder{}, nil
		}
		return arduino.NewStepper(serialPool(a.Addr, arduino.SerialConfig), d.Home), nil
	case "inverter":
		a := SerialArgs{}
		if err := decode(d.Args, &a); err != nil {
			return nil, err
		}
		if sim {
			return &actuator.Recorder{}, nil
		}
		return arduino.NewInverter(serialPool(a.Addr, arduino.SerialConfig)), nil
	}
	return nil, fmt.Errorf("device kind %q: %w", d.Kind, ErrUnknownKind)
}

func (b *builder) actuator(d config.Device, drv actuator.Driver) (*actuator.Actuator, error) {
	s := actuator.Settings{
		Name:     d.Name,
		Setpoint: d.Setpoint,
		Home:     d.Home,
		Safe:     d.Safe,
		StepSize: d.StepSize,
	}
	if d.Limits != nil {
		s.Limits = actuator.Limits{Min: d.Limits.Min, Max: d.Limits.Max}
	}
	if d.PID != nil {
		target, ok := b.sensors[strings.ToUpper(d.PID.Target)]
		if !ok {
			return nil, fmt.Errorf("PID target %q is not a sensor", d.PID.Target)
		}
		s.PID = &actuator.PIDSettings{
			Gains:       actuator.Gains{KP: d.PID.KP, KI: d.PID.KI, KD: d.PID.KD},
			IntegralMin: d.PID.IntegralMin,
			IntegralMax: d.PID.IntegralMax,
			Target:      target,
			Attribute:   strings.ToUpper(d.PID.Attribute),
		}
	}
	a := actuator.New(s, drv, b.log)
	if d.PID != nil && d.PID.Active {
		a.Activate()
	}
	return a, nil
}

// buildSinks opens the data logger's sinks.  File sinks are written only
// when saving is enabled.
func (b *builder) buildSinks(ctx context.Context, run string) ([]datalog.Sink, error) {
	l := b.cfg.Logger
	name := b.cfg.Name
	if name == "" {
		name = run
	}
	var sinks []datalog.Sink
	if l.DisplayLength > 0 && b.out != nil {
		sinks = append(sinks, datalog.NewTable(b.out, l.DisplayLength, l.DisplayColumns))
	}
	if l.Save {
		sinks = append(sinks, datalog.NewCSV(l.Dir, name, l.SaveLength))
		if l.FITS {
			sinks = append(sinks, datalog.NewFITS(l.Dir, name))
		}
	}
	if l.MQTT.Addr != "" {
		id := l.MQTT.ClientID
		if id == "" {
			id = "flowloop-" + run[:8]
		}
		topic := l.MQTT.Topic
		if topic == "" {
			topic = "flowloop/" + name
		}
		m, err := datalog.DialMQTT(ctx, l.MQTT.Addr, topic, id)
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, pkgerrors.Wrapf(err, "connecting to mqtt broker %s", l.MQTT.Addr)
		}
		sinks = append(sinks, m)
	}
	return sinks, nil
}
