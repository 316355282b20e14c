package actuator

import (
	"github.com/thermofluids/flowloop/mathx"
	"github.com/thermofluids/flowloop/util"
)

// Gains are the PID coefficients
type Gains struct {
	KP float64 `json:"kp"`
	KI float64 `json:"ki"`
	KD float64 `json:"kd"`
}

// PID is an incremental PID loop: each Update adds P+I+D to the controlled
// value.  The error accumulator and the output are both clamped.
type PID struct {
	Gains

	// Setpoint and ProcessValue are inputs to the next Update
	Setpoint     float64
	ProcessValue float64

	// Output is the controlled value
	Output float64

	// Integral is the clamped error accumulator
	Integral float64

	// PrevError is the error from the previous Update, for the D term
	PrevError float64

	IntegralMin, IntegralMax float64
	OutputMin, OutputMax     float64
}

// Terms are the contributions of the last Update
type Terms struct {
	P, I, D float64
}

// Update runs one PID step and returns the new output and its terms.  A
// non-finite error leaves the loop state untouched.
func (p *PID) Update() (float64, Terms) {
	e := p.Setpoint - p.ProcessValue
	if !mathx.Finite(e) {
		return p.Output, Terms{}
	}
	t := Terms{P: p.KP * e}
	p.Integral = util.Clamp(p.Integral+e, p.IntegralMin, p.IntegralMax)
	t.I = p.KI * p.Integral
	t.D = -p.KD * (e - p.PrevError)
	p.PrevError = e
	p.Output = util.Clamp(p.Output+t.P+t.I+t.D, p.OutputMin, p.OutputMax)
	return p.Output, t
}
