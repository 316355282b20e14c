// Package arduino provides interfaces to the Arduino Uno boards of the rig:
// one drives the stepper motor of a needle valve, the other switches the
// DC/AC inverter in front of the heaters.  Both take single line ASCII
// commands.
package arduino

import (
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/thermofluids/flowloop/comm"
)

// SerialConfig returns the settings of the Uno's USB serial port
func SerialConfig(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: time.Second}
}

func send(pool *comm.Pool, cmd string) (err error) {
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	_, err = io.WriteString(comm.NewTerminator(conn, '\n', '\n'), cmd)
	return err
}

// Stepper is a valve positioned in degrees.  The board takes relative moves,
// O<deg> to open and C<deg> to close, in half degree resolution.
type Stepper struct {
	Pool *comm.Pool

	mu       sync.Mutex
	position float64
}

// NewStepper returns a stepper which believes it is at home
func NewStepper(pool *comm.Pool, home float64) *Stepper {
	return &Stepper{Pool: pool, position: home}
}

// Position returns where the valve was last commanded to
func (s *Stepper) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Move returns the command which moves the valve from one position to
// another, or "" if the move rounds to nothing
func Move(from, to float64) string {
	delta := math.Round(2*(to-from)) / 2
	switch {
	case delta > 0:
		return "O" + strconv.FormatFloat(delta, 'f', 1, 64)
	case delta < 0:
		return "C" + strconv.FormatFloat(-delta, 'f', 1, 64)
	}
	return ""
}

// SetActual moves the valve to v degrees
func (s *Stepper) SetActual(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := Move(s.position, v)
	if cmd == "" {
		return nil
	}
	if err := send(s.Pool, cmd); err != nil {
		return err
	}
	s.position = v
	return nil
}

// Deactivate releases the port, the valve holds position
func (s *Stepper) Deactivate() error {
	return s.Pool.Reclaim()
}

// Restart reopens the port
func (s *Stepper) Restart() error {
	return s.Pool.Reclaim()
}

// Inverter switches the DC/AC inverter, 'a' on and 'b' off.  Any value of
// 1 or more is on.
type Inverter struct {
	Pool *comm.Pool

	mu     sync.Mutex
	active bool
	known  bool
}

// NewInverter returns an inverter of unknown state
func NewInverter(pool *comm.Pool) *Inverter {
	return &Inverter{Pool: pool}
}

// Active returns true if the inverter was last switched on
func (i *Inverter) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// SetActual switches the inverter, sending only on a change of state
func (i *Inverter) SetActual(v float64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	on := v >= 1
	if i.known && on == i.active {
		return nil
	}
	cmd := "b"
	if on {
		cmd = "a"
	}
	if err := send(i.Pool, cmd); err != nil {
		return err
	}
	i.active, i.known = on, true
	return nil
}

// Deactivate switches the inverter off and releases the port
func (i *Inverter) Deactivate() error {
	err := i.SetActual(0)
	if rerr := i.Pool.Reclaim(); err == nil {
		err = rerr
	}
	return err
}

// Restart reopens the port and re-sends the last state
func (i *Inverter) Restart() error {
	i.Pool.Reclaim()
	i.mu.Lock()
	on := i.active
	i.known = false
	i.mu.Unlock()
	if on {
		return i.SetActual(1)
	}
	return i.SetActual(0)
}
