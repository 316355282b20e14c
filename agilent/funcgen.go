package agilent

import (
	"strconv"
	"strings"

	"github.com/thermofluids/flowloop/comm"
	"github.com/thermofluids/flowloop/scpi"
)

// DefaultFrequency is the carrier of the AC heater drive, in Hz
const DefaultFrequency = 1e5

// idleAmplitude is the smallest amplitude the 33120A accepts, in Vrms
const idleAmplitude = 0.02

// FunctionGenerator is a 33120A producing a sine which an amplifier with gain
// Multiplier turns into the heater voltage.  It is an actuator.Driver whose
// value is the heater voltage (Vrms).
type FunctionGenerator struct {
	scpi.SCPI

	// Multiplier is the gain of the amplifier after the generator
	Multiplier float64

	// Frequency of the sine in Hz
	Frequency float64
}

// NewFunctionGenerator creates a new FunctionGenerator instance communicating
// over pool
func NewFunctionGenerator(pool *comm.Pool, multiplier, frequency float64) *FunctionGenerator {
	if multiplier <= 0 {
		multiplier = 1
	}
	if frequency <= 0 {
		frequency = DefaultFrequency
	}
	return &FunctionGenerator{SCPI: scpi.SCPI{Pool: pool}, Multiplier: multiplier, Frequency: frequency}
}

// apply configures the output as a sine of amplitude amp Vrms
func (f *FunctionGenerator) apply(amp string) error {
	freq := strings.ToUpper(strconv.FormatFloat(f.Frequency, 'E', 1, 64))
	return f.Write("APPL:SIN " + freq + ", " + amp + ", 0")
}

// Init sets Vrms units and the minimum amplitude
func (f *FunctionGenerator) Init() error {
	if err := f.Write("VOLT:UNIT VRMS"); err != nil {
		return err
	}
	return f.apply("MIN")
}

// SetActual commands the heater voltage v, divided down by the amplifier gain
func (f *FunctionGenerator) SetActual(v float64) error {
	return f.apply(strings.ToUpper(strconv.FormatFloat(v/f.Multiplier, 'E', 6, 64)))
}

// Deactivate drops the output to the idle amplitude
func (f *FunctionGenerator) Deactivate() error {
	err := f.apply(strconv.FormatFloat(idleAmplitude, 'g', -1, 64))
	if rerr := f.Pool.Reclaim(); err == nil {
		err = rerr
	}
	return err
}

// Restart reopens the link and re-initializes the generator
func (f *FunctionGenerator) Restart() error {
	f.Pool.Reclaim()
	return f.Init()
}

// GetOutput returns the configured function, frequency and amplitude as the
// generator reports them
func (f *FunctionGenerator) GetOutput() (string, error) {
	return f.ReadString("APPL?")
}
