// Package keithley provides an interface to the Keithley DAQ6510 data
// acquisition and logging multimeter, used as the rig's acquisition unit
package keithley

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/thermofluids/flowloop/comm"
	"github.com/thermofluids/flowloop/daq"
	"github.com/thermofluids/flowloop/scpi"
)

const (
	// bufferPoints is the size of defbuffer1
	bufferPoints = 10000

	opcInterval = 100 * time.Millisecond
)

func fmtF(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ChannelCommands returns the commands which configure one card channel for
// s.Function.  A zero Range selects autoranging and a zero NPLC leaves the
// instrument default.
func ChannelCommands(s daq.Setup) []string {
	ch := fmt.Sprintf("(@%d)", s.Channel)
	var cmds []string
	var prefix string
	switch s.Function {
	case "VOLT:AC":
		prefix = "VOLT:AC"
		cmds = []string{
			"FUNC 'VOLT:AC', " + ch,
			"VOLT:AC:DET:BAND 300, " + ch,
			"DISP:VOLT:AC:DIG 5, " + ch,
			"VOLT:AC:DEL:AUTO OFF, " + ch,
		}
	case "TEMP:TC":
		prefix = "TEMP"
		cmds = []string{
			"FUNC 'TEMP', " + ch,
			"TEMP:TRAN TC, " + ch,
			"TEMP:TC:TYPE T, " + ch,
			"DISP:TEMP:DIG 5, " + ch,
			"TEMP:DEL:AUTO OFF, " + ch,
		}
	case "TEMP:FRTD":
		prefix = "TEMP"
		cmds = []string{
			"FUNC 'TEMP', " + ch,
			"TEMP:TRAN FRTD, " + ch,
			"TEMP:RTD:FOUR PT100, " + ch,
			"DISP:TEMP:DIG 5, " + ch,
			"TEMP:DEL:AUTO OFF, " + ch,
		}
	case "RES", "FRES":
		prefix = s.Function
		cmds = []string{
			":FUNC '" + prefix + "', " + ch,
			":DISP:" + prefix + ":DIG 5, " + ch,
			":" + prefix + ":AZER OFF, " + ch,
			":" + prefix + ":OCOM ON, " + ch,
			":" + prefix + ":DEL:AUTO OFF, " + ch,
		}
	default:
		prefix = "VOLT:DC"
		cmds = []string{
			"FUNC 'VOLT:DC', " + ch,
			"DISP:VOLT:DC:DIG 5, " + ch,
			"VOLT:DC:AZER OFF, " + ch,
		}
	}
	if s.NPLC > 0 {
		cmds = append(cmds, prefix+":NPLC "+fmtF(s.NPLC)+", "+ch)
	}
	if prefix != "TEMP" {
		if s.Range > 0 {
			cmds = append(cmds, prefix+":RANG "+fmtF(s.Range)+", "+ch)
		} else {
			cmds = append(cmds, prefix+":RANG:AUTO ON, "+ch)
		}
	}
	if s.Settling > 0 {
		cmds = append(cmds, "ROUT:CHAN:DEL "+fmtF(s.Settling.Seconds())+", "+ch)
	}
	return cmds
}

// DAQ6510 is a daq.Acquirer driving a DAQ6510 with a 7700 series card.
// Bursts are scanned into defbuffer1 and read back as channel, reading pairs.
type DAQ6510 struct {
	scpi.SCPI

	mu       sync.Mutex
	channels map[int][]string
	scanList string
	active   bool
}

// NewDAQ6510 returns a DAQ6510 communicating over pool
func NewDAQ6510(pool *comm.Pool) *DAQ6510 {
	return &DAQ6510{
		SCPI:     scpi.SCPI{Pool: pool},
		channels: map[int][]string{},
	}
}

// Configure implements daq.Acquirer
func (d *DAQ6510) Configure(channel int, commands []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[channel] = commands
	return nil
}

// Activate resets the instrument, applies every channel's configuration and
// creates the scan
func (d *DAQ6510) Activate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	chs := make([]int, 0, len(d.channels))
	for ch := range d.channels {
		chs = append(chs, ch)
	}
	sort.Ints(chs)
	d.scanList = daq.ScanList(chs)
	cmds := []string{"*RST", ":TRAC:CLE", ":TRAC:POIN " + strconv.Itoa(bufferPoints)}
	for _, ch := range chs {
		cmds = append(cmds, d.channels[ch]...)
	}
	cmds = append(cmds,
		"ROUT:SCAN:CRE "+d.scanList,
		"FORM:ASC:PREC 6",
		"AZER:ONCE")
	for _, c := range cmds {
		if err := d.Write(c); err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
	}
	d.active = true
	return nil
}

// Trigger runs the scan sweeps times and reads the buffer back
func (d *DAQ6510) Trigger(ctx context.Context, sweeps int) (daq.Burst, error) {
	d.mu.Lock()
	active := d.active
	d.mu.Unlock()
	if !active {
		return daq.Burst{}, daq.ErrNotActive
	}
	first := time.Now()
	for _, c := range []string{"TRAC:CLE", "ROUT:SCAN:COUN:SCAN " + strconv.Itoa(sweeps), "INIT"} {
		if err := d.Write(c); err != nil {
			return daq.Burst{}, err
		}
	}
	if err := d.WaitOperationComplete(ctx, opcInterval, opcTries(ctx)); err != nil {
		return daq.Burst{}, err
	}
	last := time.Now()
	n, err := d.ReadInt("TRAC:ACT?")
	if err != nil {
		return daq.Burst{}, err
	}
	b := daq.Burst{Samples: map[int][]float64{}, First: first, Last: last}
	if n == 0 {
		return b, nil
	}
	raw, err := d.ReadString(fmt.Sprintf(`TRAC:DATA? 1, %d, "defbuffer1", CHAN, READ`, n))
	if err != nil {
		return daq.Burst{}, err
	}
	b.Samples, err = daq.ParseReadings(raw, true)
	return b, err
}

// Close aborts any running scan and closes the idle connections.  The
// instrument can be activated again.
func (d *DAQ6510) Close() error {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
	err := d.Write("ABOR")
	if cerr := d.Pool.Reclaim(); err == nil {
		err = cerr
	}
	return err
}

// opcTries spreads *OPC? polls over the context's remaining time
func opcTries(ctx context.Context) uint64 {
	dl, ok := ctx.Deadline()
	if !ok {
		return 600
	}
	n := time.Until(dl) / opcInterval
	if n < 1 {
		return 1
	}
	return uint64(n)
}
