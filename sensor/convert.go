package sensor

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrBadRange is generated when a pressure transducer's signal range is empty
var ErrBadRange = errors.New("signal range has zero width")

// Kind is the type of a physical sensor channel
type Kind string

// Physical sensor kinds
const (
	VoltageDC    Kind = "vdc"
	VoltageAC    Kind = "vac"
	Resistance   Kind = "resistance"
	Thermocouple Kind = "thermocouple"
	PT100        Kind = "pt100"
	Pressure     Kind = "pressure"
	RTD          Kind = "rtd"
	ShuntDC      Kind = "shunt_dc"
	ShuntAC      Kind = "shunt_ac"
	HeaterDC     Kind = "heater_dc"
	HeaterAC     Kind = "heater_ac"
)

// ParseKind normalizes a kind string from configuration
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case VoltageDC, VoltageAC, Resistance, Thermocouple, PT100, Pressure, RTD,
		ShuntDC, ShuntAC, HeaterDC, HeaterAC:
		return k, nil
	case "p_sensor":
		return Pressure, nil
	case "dc_shunt":
		return ShuntDC, nil
	case "ac_shunt":
		return ShuntAC, nil
	case "dc_heater":
		return HeaterDC, nil
	case "ac_heater":
		return HeaterAC, nil
	}
	return "", fmt.Errorf("unknown sensor kind %q", s)
}

// Measurement is the instrument function a kind needs on its channel
type Measurement string

// Instrument functions
const (
	MeasureVoltageDC    Measurement = "VOLT:DC"
	MeasureVoltageAC    Measurement = "VOLT:AC"
	MeasureResistance   Measurement = "RES"
	MeasureFourWire     Measurement = "FRES"
	MeasureThermocouple Measurement = "TEMP:TC"
	MeasureRTD          Measurement = "TEMP:FRTD"
)

// Measurement returns the instrument function for the kind
func (k Kind) Measurement() Measurement {
	switch k {
	case VoltageAC, ShuntAC, HeaterAC:
		return MeasureVoltageAC
	case Resistance:
		return MeasureResistance
	case RTD:
		return MeasureFourWire
	case Thermocouple:
		return MeasureThermocouple
	case PT100:
		return MeasureRTD
	default:
		return MeasureVoltageDC
	}
}

// Converter turns one burst of raw samples into named quantity series
type Converter interface {
	// Primary is the quantity used for steady state classification
	Primary() string

	// Convert maps raw samples to quantities
	Convert(raw []float64) (map[string][]float64, error)
}

func mapf(raw []float64, f func(float64) float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = f(v)
	}
	return out
}

// Direct passes the raw value through as a single quantity
type Direct struct {
	Quantity string
	Abs      bool
}

// Primary implements Converter
func (d Direct) Primary() string { return d.Quantity }

// Convert implements Converter
func (d Direct) Convert(raw []float64) (map[string][]float64, error) {
	f := func(v float64) float64 { return v }
	if d.Abs {
		f = math.Abs
	}
	return map[string][]float64{d.Quantity: mapf(raw, f)}, nil
}

// Transducer is a pressure transducer with a linear signal to reading map
type Transducer struct {
	SignalLow, SignalHigh   float64
	ReadingLow, ReadingHigh float64

	// Scale multiplies the pressure, e.g. 1e5 for bar to Pa.  Zero means 1.
	Scale float64
}

// Primary implements Converter
func (t Transducer) Primary() string { return "P" }

// Convert implements Converter
func (t Transducer) Convert(raw []float64) (map[string][]float64, error) {
	if t.SignalHigh == t.SignalLow {
		return nil, ErrBadRange
	}
	m := (t.ReadingHigh - t.ReadingLow) / (t.SignalHigh - t.SignalLow)
	c := t.ReadingLow - m*t.SignalLow
	scale := t.Scale
	if scale == 0 {
		scale = 1
	}
	v := mapf(raw, math.Abs)
	p := mapf(v, func(x float64) float64 { return (m*x + c) * scale })
	return map[string][]float64{"V": v, "P": p}, nil
}

// Quadratic holds the calibration T = A·(R+Offset)² + B·(R+Offset) + C
type Quadratic struct {
	A, B, C, Offset float64
}

// Eval evaluates the calibration at r
func (q Quadratic) Eval(r float64) float64 {
	x := r + q.Offset
	return q.A*x*x + q.B*x + q.C
}

// Resistor is a resistance temperature detector with a quadratic calibration
type Resistor struct {
	Quadratic
}

// Primary implements Converter
func (r Resistor) Primary() string { return "T" }

// Convert implements Converter
func (r Resistor) Convert(raw []float64) (map[string][]float64, error) {
	res := mapf(raw, math.Abs)
	return map[string][]float64{"R": res, "T": mapf(res, r.Eval)}, nil
}

// Shunt measures current through a known resistance
type Shunt struct {
	Resistance float64
}

// Primary implements Converter
func (s Shunt) Primary() string { return "I" }

// Convert implements Converter
func (s Shunt) Convert(raw []float64) (map[string][]float64, error) {
	if s.Resistance == 0 {
		return nil, errors.New("shunt resistance is zero")
	}
	v := mapf(raw, math.Abs)
	i := mapf(v, func(x float64) float64 { return x / s.Resistance })
	q := make([]float64, len(v))
	for k := range v {
		q[k] = v[k] * i[k]
	}
	return map[string][]float64{"V": v, "I": i, "Q": q}, nil
}

// Heater computes resistance and power of a heater from its voltage and the
// current reported by its shunt in the same cycle
type Heater struct {
	Shunt Source

	// Calibration optionally maps heater resistance to temperature
	Calibration *Quadratic
}

// Primary implements Converter
func (h Heater) Primary() string { return "Q" }

// Convert implements Converter
func (h Heater) Convert(raw []float64) (map[string][]float64, error) {
	if h.Shunt == nil {
		return nil, errors.New("heater has no shunt")
	}
	current := h.Shunt.Reading().Values["I"]
	if len(current) == 0 {
		return nil, fmt.Errorf("shunt %s has no current reading", h.Shunt.Name())
	}
	v := mapf(raw, math.Abs)
	n := len(v)
	out := map[string][]float64{
		"V": v,
		"I": make([]float64, n),
		"R": make([]float64, n),
		"Q": make([]float64, n),
	}
	for k := range v {
		i := current[clampIndex(k, len(current))]
		out["I"][k] = i
		out["Q"][k] = v[k] * i
		if i != 0 {
			out["R"][k] = v[k] / i
		} else {
			out["R"][k] = math.NaN()
		}
	}
	if h.Calibration != nil {
		out["T"] = mapf(out["R"], h.Calibration.Eval)
	}
	return out, nil
}

func clampIndex(i, n int) int {
	if i >= n {
		return n - 1
	}
	return i
}
