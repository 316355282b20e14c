package scpi_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermofluids/flowloop/comm"
	"github.com/thermofluids/flowloop/scpi"
)

// instrument answers queries from a table, one connection at a time
func instrument(t *testing.T, answer func(string) string) string {
	t.Helper()
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
					if !strings.Contains(line, "?") {
						continue
					}
					conn.Write([]byte(answer(line) + "\n"))
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func newSCPI(addr string) *scpi.SCPI {
	return &scpi.SCPI{Pool: comm.NewPool(1, time.Second, comm.BackingOffTCPConnMaker(addr, time.Second))}
}

func TestReadTypes(t *testing.T) {
	addr := instrument(t, func(q string) string {
		switch q {
		case "*IDN?":
			return "KEITHLEY INSTRUMENTS,MODEL DAQ6510,04412345,1.7.0b\r"
		case "TRAC:ACT?":
			return "25"
		case "MEAS:VOLT?":
			return "+1.234560E+00"
		case "OUTP?":
			return "1"
		}
		return ""
	})
	s := newSCPI(addr)
	defer s.Pool.Close()

	idn, err := s.ReadString("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "KEITHLEY INSTRUMENTS,MODEL DAQ6510,04412345,1.7.0b", idn)

	n, err := s.ReadInt("TRAC:ACT?")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	v, err := s.ReadFloat("MEAS:VOLT?")
	require.NoError(t, err)
	assert.InDelta(t, 1.23456, v, 1e-9)

	on, err := s.ReadBool("OUTP?")
	require.NoError(t, err)
	assert.True(t, on)
}

func TestHandshakeSurfacesDeviceError(t *testing.T) {
	addr := instrument(t, func(q string) string {
		if strings.Contains(q, "BOGUS") {
			return `-113,"Undefined header"`
		}
		return "+0,\"No error\""
	})
	s := newSCPI(addr)
	s.Handshaking = true
	defer s.Pool.Close()

	require.NoError(t, s.Write("ROUT:SCAN:COUN:SCAN 5"))
	err := s.Write("BOGUS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined header")
}

func TestWaitOperationComplete(t *testing.T) {
	var polls int32
	addr := instrument(t, func(q string) string {
		if atomic.AddInt32(&polls, 1) < 3 {
			return "0"
		}
		return "1"
	})
	s := newSCPI(addr)
	defer s.Pool.Close()

	err := s.WaitOperationComplete(context.Background(), 5*time.Millisecond, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&polls))
}

func TestWaitOperationCompleteGivesUp(t *testing.T) {
	addr := instrument(t, func(string) string { return "0" })
	s := newSCPI(addr)
	defer s.Pool.Close()

	err := s.WaitOperationComplete(context.Background(), time.Millisecond, 2)
	assert.ErrorIs(t, err, scpi.ErrNotComplete)
}

func TestAllErrorsDrainsQueue(t *testing.T) {
	queue := []string{`-222,"Data out of range"`, `-113,"Undefined header"`}
	var i int32
	addr := instrument(t, func(string) string {
		n := atomic.AddInt32(&i, 1) - 1
		if int(n) < len(queue) {
			return queue[n]
		}
		return `+0,"No error"`
	})
	s := newSCPI(addr)
	defer s.Pool.Close()

	errs := s.AllErrors()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "Data out of range")
}
