// Package agilent provides an interface to Agilent (HP) test and measurement
// equipment: the 34970A data acquisition unit and the 33120A function
// generator which drives the AC heaters through an amplifier.
package agilent

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/thermofluids/flowloop/comm"
	"github.com/thermofluids/flowloop/daq"
	"github.com/thermofluids/flowloop/scpi"
)

const opcInterval = 100 * time.Millisecond

// SerialConfig makes a new serial.Config with correct parity, baud, etc, set.
func SerialConfig(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        57600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 10 * time.Second}
}

func fmtF(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ChannelCommands returns the 34970A commands which configure one
// multiplexer channel for s.Function
func ChannelCommands(s daq.Setup) []string {
	ch := fmt.Sprintf("(@%d)", s.Channel)
	var cmds []string
	var prefix string
	switch s.Function {
	case "VOLT:AC":
		prefix = "VOLT:AC"
		cmds = []string{"CONF:VOLT:AC " + ch, "VOLT:AC:BAND 200," + ch}
	case "TEMP:TC":
		prefix = "TEMP"
		cmds = []string{"CONF:TEMP TC,T," + ch, "ZERO:AUTO OFF," + ch}
	case "TEMP:FRTD":
		prefix = "TEMP"
		cmds = []string{"CONF:TEMP FRTD,85," + ch, "ZERO:AUTO OFF," + ch}
	case "RES", "FRES":
		prefix = s.Function
		cmds = []string{"CONF:" + prefix + " " + ch, "ZERO:AUTO OFF," + ch}
	default:
		prefix = "VOLT:DC"
		cmds = []string{"CONF:VOLT:DC " + ch, "ZERO:AUTO OFF," + ch}
	}
	if s.NPLC > 0 && prefix != "VOLT:AC" {
		cmds = append(cmds, prefix+":NPLC "+fmtF(s.NPLC)+","+ch)
	}
	if s.Range > 0 && prefix != "TEMP" {
		cmds = append(cmds, prefix+":RANG "+fmtF(s.Range)+","+ch)
	}
	if s.Settling > 0 {
		cmds = append(cmds, "ROUT:CHAN:DEL "+fmtF(s.Settling.Seconds())+","+ch)
	}
	return cmds
}

// DAQ34970A is a daq.Acquirer driving a 34970A with a 34901A multiplexer.
// Readings are fetched as reading, channel pairs.
type DAQ34970A struct {
	scpi.SCPI

	mu       sync.Mutex
	channels map[int][]string
	scanList string
	active   bool
}

// NewDAQ34970A returns a DAQ34970A communicating over pool
func NewDAQ34970A(pool *comm.Pool) *DAQ34970A {
	return &DAQ34970A{
		SCPI:     scpi.SCPI{Pool: pool},
		channels: map[int][]string{},
	}
}

// Configure implements daq.Acquirer
func (d *DAQ34970A) Configure(channel int, commands []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[channel] = commands
	return nil
}

// Activate resets the unit, sets up the scan and applies every channel's
// configuration
func (d *DAQ34970A) Activate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	chs := make([]int, 0, len(d.channels))
	for ch := range d.channels {
		chs = append(chs, ch)
	}
	sort.Ints(chs)
	d.scanList = daq.ScanList(chs)
	cmds := []string{
		"*RST",
		"ROUT:MON:STAT ON",
		"ZERO:AUTO ONCE," + d.scanList,
		"ROUT:SCAN " + d.scanList,
	}
	for _, ch := range chs {
		cmds = append(cmds, d.channels[ch]...)
	}
	for _, c := range cmds {
		if err := d.Write(c); err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.WaitOperationComplete(ctx, opcInterval, 100); err != nil {
		return err
	}
	d.active = true
	return nil
}

// Trigger scans sweeps times and fetches the readings
func (d *DAQ34970A) Trigger(ctx context.Context, sweeps int) (daq.Burst, error) {
	d.mu.Lock()
	active, scan := d.active, d.scanList
	d.mu.Unlock()
	if !active {
		return daq.Burst{}, daq.ErrNotActive
	}
	first := time.Now()
	cmds := []string{
		"ROUT:SCAN " + scan,
		"FORM:READ:CHAN ON",
		"TRIG:COUN " + strconv.Itoa(sweeps),
		"INIT",
	}
	for _, c := range cmds {
		if err := d.Write(c); err != nil {
			return daq.Burst{}, err
		}
	}
	tries := uint64(600)
	if dl, ok := ctx.Deadline(); ok {
		tries = uint64(time.Until(dl)/opcInterval) + 1
	}
	if err := d.WaitOperationComplete(ctx, opcInterval, tries); err != nil {
		return daq.Burst{}, err
	}
	last := time.Now()
	raw, err := d.ReadString("FETC?")
	if err != nil {
		return daq.Burst{}, err
	}
	samples, err := daq.ParseReadings(strings.ReplaceAll(raw, "\r", ""), false)
	if err != nil {
		return daq.Burst{}, err
	}
	return daq.Burst{Samples: samples, First: first, Last: last}, nil
}

// Close aborts any running scan and closes the idle connections
func (d *DAQ34970A) Close() error {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
	err := d.Write("ABOR")
	if cerr := d.Pool.Reclaim(); err == nil {
		err = cerr
	}
	return err
}
