package config

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/thermofluids/flowloop/daq"
	"github.com/thermofluids/flowloop/sensor"
)

// ErrInvalid is the cause of every validation error
var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}

// DwellCycles returns the SS and USS dwell counts in cycles.  A zero count
// is derived from the dwell in seconds and the timer interval of that state,
// rounded up, and is at least one.
func (c Config) DwellCycles() (ss, uss int) {
	derive := func(cycles int, secs float64, interval float64) int {
		if cycles > 0 {
			return cycles
		}
		if secs <= 0 || interval <= 0 {
			return 1
		}
		n := int(math.Ceil(secs / interval))
		if n < 1 {
			n = 1
		}
		return n
	}
	ss = derive(c.DAQ.Dwell.SS, c.DAQ.DwellSeconds.SS, c.Timer.Intervals.SS.Seconds())
	uss = derive(c.DAQ.Dwell.USS, c.DAQ.DwellSeconds.USS, c.Timer.Intervals.USS.Seconds())
	return ss, uss
}

// Validate checks the configuration for errors which would otherwise surface
// after hardware is opened.  Names are compared case-insensitively.
func (c Config) Validate() error {
	if _, err := daq.ParseMode(c.Timer.Mode); err != nil {
		return errors.Wrap(err, "timer")
	}
	mode, _ := daq.ParseMode(c.Timer.Mode)
	if mode == daq.Periodic && (c.Timer.Intervals.SS <= 0 || c.Timer.Intervals.USS <= 0) {
		return invalid("timer: periodic intervals must be positive")
	}
	if c.DAQ.Sweeps.SS < 0 || c.DAQ.Sweeps.USS < 0 {
		return invalid("daq: negative sweep count")
	}

	dau := c.DAQ.Name
	if dau == "" {
		dau = "DAQ"
	}
	names := map[string]string{strings.ToUpper(dau): "daq"}
	claim := func(name, what string) error {
		if name == "" {
			return invalid("%s with no name", what)
		}
		key := strings.ToUpper(name)
		if prev, ok := names[key]; ok {
			return invalid("%s %s: name already used by a %s", what, name, prev)
		}
		names[key] = what
		return nil
	}

	sensors := map[string]Sensor{}
	channels := map[int]string{}
	for _, s := range c.Sensors {
		if err := claim(s.Name, "sensor"); err != nil {
			return err
		}
		sensors[strings.ToUpper(s.Name)] = s
		if !s.Virtual() {
			if _, err := sensor.ParseKind(s.Kind); err != nil {
				return errors.Wrapf(err, "sensor %s", s.Name)
			}
			if prev, ok := channels[s.Channel]; ok {
				return invalid("sensor %s: channel %d already used by %s", s.Name, s.Channel, prev)
			}
			channels[s.Channel] = s.Name
		}
		if s.Track && s.Lookback < 2 {
			return invalid("sensor %s: a tracked sensor needs a lookback of at least 2", s.Name)
		}
		if s.Threshold < 0 {
			return invalid("sensor %s: negative threshold", s.Name)
		}
		for i, a := range s.Alarms {
			if _, err := a.Rule(); err != nil {
				return errors.Wrapf(err, "sensor %s alarm %d", s.Name, i)
			}
		}
	}

	for _, d := range c.Devices {
		if err := claim(d.Name, "device"); err != nil {
			return err
		}
		if d.Limits != nil {
			if d.Limits.Min > d.Limits.Max {
				return invalid("device %s: limits min %g > max %g", d.Name, d.Limits.Min, d.Limits.Max)
			}
			if d.Safe != nil && (*d.Safe < d.Limits.Min || *d.Safe > d.Limits.Max) {
				return invalid("device %s: safe position %g outside limits", d.Name, *d.Safe)
			}
		}
		if d.StepSize < 0 {
			return invalid("device %s: negative step size", d.Name)
		}
		if d.PID != nil {
			if _, ok := sensors[strings.ToUpper(d.PID.Target)]; !ok {
				return invalid("device %s: PID target %q is not a sensor", d.Name, d.PID.Target)
			}
			if d.PID.Attribute == "" {
				return invalid("device %s: PID has no attribute", d.Name)
			}
			if d.PID.IntegralMin > d.PID.IntegralMax {
				return invalid("device %s: integral min > max", d.Name)
			}
			if d.PID.KI != 0 && d.PID.IntegralMin == d.PID.IntegralMax {
				return invalid("device %s: ki is set but integralMin and integralMax leave no range", d.Name)
			}
		}
	}
	return nil
}
