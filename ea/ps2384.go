// Package ea provides an interface to Elektro-Automatik PS 2000 B series power
// supplies over their USB virtual serial port, using the binary object
// telegram protocol.
package ea

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"github.com/thermofluids/flowloop/comm"
)

// telegram object IDs
const (
	objSetVoltage = 50
	objControl    = 54
)

// telegram types in the start delimiter
const (
	sendSet  = 0xC0
	toDevice = 0x30
)

// control words for objControl, mask then value
var (
	remoteOn  = []byte{0x10, 0x10}
	remoteOff = []byte{0x10, 0x00}
	outputOn  = []byte{0x01, 0x01}
	outputOff = []byte{0x01, 0x00}
)

// Defaults for a PS 2384-05 B
const (
	DefaultNominalVoltage = 84

	// DefaultInverterThreshold is the heater voltage above which the
	// inverter is switched in to limit electromigration
	DefaultInverterThreshold = 80
)

var (
	// ErrChecksum is generated when a reply fails its checksum
	ErrChecksum = errors.New("telegram checksum mismatch")

	// ErrOutOfRange is generated for a voltage outside 0..nominal
	ErrOutOfRange = errors.New("voltage out of range")
)

// SerialConfig returns the port settings of the PS 2000 B USB interface
func SerialConfig(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityOdd,
		StopBits:    serial.Stop1,
		ReadTimeout: 500 * time.Millisecond}
}

// Encode builds a telegram: start delimiter, device node, object, data and a
// 16 bit big endian sum of the preceding bytes
func Encode(typ, node, obj byte, data []byte) []byte {
	sd := toDevice | typ
	if len(data) > 0 {
		sd += byte(len(data) - 1)
	}
	out := make([]byte, 0, 5+len(data))
	out = append(out, sd, node, obj)
	out = append(out, data...)
	var cs uint16
	for _, b := range out {
		cs += uint16(b)
	}
	return append(out, byte(cs>>8), byte(cs))
}

// Decode checks a reply telegram's checksum and returns its object and data
func Decode(t []byte) (obj byte, data []byte, err error) {
	if len(t) < 5 {
		return 0, nil, fmt.Errorf("telegram of %d bytes is too short", len(t))
	}
	var cs uint16
	for _, b := range t[:len(t)-2] {
		cs += uint16(b)
	}
	if byte(cs>>8) != t[len(t)-2] || byte(cs) != t[len(t)-1] {
		return 0, nil, ErrChecksum
	}
	return t[2], t[3 : len(t)-2], nil
}

// readTelegram reads one reply, whose data length is in the low nibble of the
// start delimiter
func readTelegram(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 3)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	n := int(hdr[0]&0x0F) + 1
	rest := make([]byte, n+2)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	return append(hdr, rest...), nil
}

// Switch is the inverter the supply hands high voltages off to
type Switch interface {
	SetActual(v float64) error
}

// PS2384 is a dual output supply with both outputs wired in series and
// commanded as one.  It is an actuator.Driver whose value is the total
// voltage.
type PS2384 struct {
	Pool *comm.Pool

	// NominalVoltage of one output, the 100% point of the set value
	NominalVoltage float64

	// Inverter is switched on above InverterThreshold, if not nil
	Inverter          Switch
	InverterThreshold float64
}

// NewPS2384 returns a supply communicating over pool
func NewPS2384(pool *comm.Pool, inverter Switch) *PS2384 {
	return &PS2384{
		Pool:              pool,
		NominalVoltage:    DefaultNominalVoltage,
		Inverter:          inverter,
		InverterThreshold: DefaultInverterThreshold,
	}
}

// SetValue converts volts on one output to the 0..25600 set value
func (p *PS2384) SetValue(volts float64) (uint16, error) {
	if volts < 0 || volts > p.NominalVoltage {
		return 0, fmt.Errorf("%w: %g V of %g V nominal", ErrOutOfRange, volts, p.NominalVoltage)
	}
	return uint16(volts / p.NominalVoltage * 25600), nil
}

// transfer sends a set telegram to output 0 and checks the reply
func (p *PS2384) transfer(obj byte, data []byte) (err error) {
	conn, err := p.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { p.Pool.ReturnWithError(conn, err) }()
	if _, err = conn.Write(Encode(sendSet, 0, obj, data)); err != nil {
		return err
	}
	reply, err := readTelegram(conn)
	if err != nil {
		return err
	}
	_, rdata, err := Decode(reply)
	if err != nil {
		return err
	}
	if len(rdata) > 0 && rdata[0] != 0 {
		return &DeviceError{Object: obj, Code: rdata[0]}
	}
	return nil
}

// DeviceError is an error code the supply answered a request with
type DeviceError struct {
	Object byte
	Code   byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("power supply rejected object %d with code 0x%02x", e.Object, e.Code)
}

func (p *PS2384) setVoltage(volts float64) error {
	v, err := p.SetValue(volts)
	if err != nil {
		return err
	}
	return p.transfer(objSetVoltage, []byte{byte(v >> 8), byte(v)})
}

// Init takes remote control, zeroes the output and switches it on
func (p *PS2384) Init() error {
	for _, step := range []func() error{
		func() error { return p.transfer(objControl, remoteOn) },
		func() error { return p.setVoltage(0) },
		func() error { return p.transfer(objControl, outputOn) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	if p.Inverter != nil {
		return p.Inverter.SetActual(0)
	}
	return nil
}

// SetActual commands a total voltage v.  The inverter is switched in above
// the threshold and out at or below it.
func (p *PS2384) SetActual(v float64) error {
	if p.Inverter != nil {
		on := 0.0
		if v > p.InverterThreshold {
			on = 1
		}
		if err := p.Inverter.SetActual(on); err != nil {
			return fmt.Errorf("inverter: %w", err)
		}
	}
	return p.setVoltage(v / 2)
}

// Deactivate switches the output off, releases remote control and the
// inverter
func (p *PS2384) Deactivate() error {
	var errs []error
	errs = append(errs, p.transfer(objControl, outputOff))
	errs = append(errs, p.transfer(objControl, remoteOff))
	if p.Inverter != nil {
		errs = append(errs, p.Inverter.SetActual(0))
	}
	errs = append(errs, p.Pool.Reclaim())
	return errors.Join(errs...)
}

// Restart reopens the port and takes remote control again
func (p *PS2384) Restart() error {
	p.Pool.Reclaim()
	return p.Init()
}
