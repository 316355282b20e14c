// Package hnpm provides an interface to HNP Mikrosysteme mzr micro annular
// gear pumps driven by a Faulhaber motion controller over RS-232
package hnpm

import (
	"io"
	"strconv"
	"time"

	"github.com/tarm/serial"

	"github.com/thermofluids/flowloop/comm"
)

// DefaultRPMPerFlow is the speed for 1 ml/min of an mzr-2921X1
const DefaultRPMPerFlow = 333.33

// SerialConfig returns the settings of the motion controller's port
func SerialConfig(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: time.Second}
}

// Pump is an actuator.Driver whose value is the flow rate in ml/min.  The
// controller is put in silent mode, so commands are not answered.
type Pump struct {
	Pool *comm.Pool

	// RPMPerFlow converts ml/min to motor rpm
	RPMPerFlow float64
}

// NewPump returns a pump communicating over pool
func NewPump(pool *comm.Pool) *Pump {
	return &Pump{Pool: pool, RPMPerFlow: DefaultRPMPerFlow}
}

// RPM converts a flow rate to the motor speed command value
func (p *Pump) RPM(flow float64) int {
	return int(flow * p.RPMPerFlow)
}

func (p *Pump) send(cmds ...string) (err error) {
	conn, err := p.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { p.Pool.ReturnWithError(conn, err) }()
	rw := comm.NewTerminator(conn, '\r', '\r')
	for _, c := range cmds {
		if _, err = io.WriteString(rw, c); err != nil {
			return err
		}
	}
	return nil
}

// Init silences answers, enables the drive and stops the motor
func (p *Pump) Init() error {
	return p.send("ANSW0", "EN", "V0")
}

// SetActual commands a flow rate in ml/min
func (p *Pump) SetActual(flow float64) error {
	return p.send("V" + strconv.Itoa(p.RPM(flow)))
}

// Deactivate stops and disables the drive
func (p *Pump) Deactivate() error {
	err := p.send("V0", "DI")
	if rerr := p.Pool.Reclaim(); err == nil {
		err = rerr
	}
	return err
}

// Restart reopens the port and enables the drive again
func (p *Pump) Restart() error {
	p.Pool.Reclaim()
	return p.Init()
}
