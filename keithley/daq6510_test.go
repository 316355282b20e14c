package keithley_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermofluids/flowloop/comm"
	"github.com/thermofluids/flowloop/daq"
	"github.com/thermofluids/flowloop/keithley"
)

type fakeDAQ struct {
	mu   sync.Mutex
	cmds []string
}

func (f *fakeDAQ) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func (f *fakeDAQ) serve(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				sc := bufio.NewScanner(conn)
				for sc.Scan() {
					line := sc.Text()
					f.mu.Lock()
					f.cmds = append(f.cmds, line)
					f.mu.Unlock()
					var reply string
					switch {
					case line == "*OPC?":
						reply = "1"
					case line == "TRAC:ACT?":
						reply = "4"
					case strings.HasPrefix(line, "TRAC:DATA?"):
						reply = "101,+2.500000E+01,102,+1.000000E-03,101,+2.510000E+01,102,+1.100000E-03"
					default:
						continue
					}
					conn.Write([]byte(reply + "\n"))
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func TestChannelCommands(t *testing.T) {
	cmds := keithley.ChannelCommands(daq.Setup{Channel: 101, Function: "TEMP:TC", NPLC: 1, Settling: 10 * time.Millisecond})
	assert.Equal(t, []string{
		"FUNC 'TEMP', (@101)",
		"TEMP:TRAN TC, (@101)",
		"TEMP:TC:TYPE T, (@101)",
		"DISP:TEMP:DIG 5, (@101)",
		"TEMP:DEL:AUTO OFF, (@101)",
		"TEMP:NPLC 1, (@101)",
		"ROUT:CHAN:DEL 0.01, (@101)",
	}, cmds)

	cmds = keithley.ChannelCommands(daq.Setup{Channel: 104, Function: "VOLT:DC", Range: 10})
	assert.Contains(t, cmds, "VOLT:DC:RANG 10, (@104)")

	cmds = keithley.ChannelCommands(daq.Setup{Channel: 105, Function: "FRES"})
	assert.Equal(t, ":FUNC 'FRES', (@105)", cmds[0])
	assert.Contains(t, cmds, "FRES:RANG:AUTO ON, (@105)")
}

func TestBurst(t *testing.T) {
	f := &fakeDAQ{}
	addr := f.serve(t)
	d := keithley.NewDAQ6510(comm.NewPool(1, time.Second, comm.BackingOffTCPConnMaker(addr, time.Second)))

	require.NoError(t, d.Configure(102, []string{"FUNC 'VOLT:DC', (@102)"}))
	require.NoError(t, d.Configure(101, []string{"FUNC 'TEMP', (@101)"}))
	_, err := d.Trigger(context.Background(), 2)
	require.ErrorIs(t, err, daq.ErrNotActive)

	require.NoError(t, d.Activate())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := d.Trigger(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{25, 25.1}, b.Samples[101])
	assert.Equal(t, []float64{0.001, 0.0011}, b.Samples[102])
	assert.False(t, b.Last.Before(b.First))

	log := f.log()
	assert.Contains(t, log, "ROUT:SCAN:CRE (@101,102)")
	assert.Contains(t, log, "ROUT:SCAN:COUN:SCAN 2")
	assert.Contains(t, log, `TRAC:DATA? 1, 4, "defbuffer1", CHAN, READ`)

	require.NoError(t, d.Close())
	require.Eventually(t, func() bool {
		l := f.log()
		return l[len(l)-1] == "ABOR"
	}, time.Second, 5*time.Millisecond)
}
