// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/thermofluids/flowloop/comm"
)

const (
	timeout = 5 * time.Second

	tcpFrameSize = 1500

	// largest reply expected, a full TRAC:DATA? dump of a long burst
	maxReply = 1 << 20
)

// ErrNotComplete is generated when *OPC? does not report completion
var ErrNotComplete = errors.New("operation not complete")

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool
}

func wrap(conn io.ReadWriter) (io.ReadWriter, error) {
	term := comm.NewTerminator(conn, '\n', '\n')
	rw, err := comm.NewTimeout(term, timeout)
	if errors.Is(err, comm.ErrNoDeadline) {
		// serial and USB links bound their own reads
		return term, nil
	}
	return rw, err
}

func (s *SCPI) join(cmds []string) string {
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	return strings.Join(cmds, " ")
}

func checkError(reply string) error {
	if strings.HasPrefix(reply, "+0") || strings.HasPrefix(reply, "0") {
		return nil
	}
	return errors.New(reply)
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) (err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	rw, err := wrap(conn)
	if err != nil {
		return err
	}
	_, err = io.WriteString(rw, s.join(cmds))
	if err != nil {
		return err
	}
	if !s.Handshaking {
		return nil
	}
	buf := make([]byte, tcpFrameSize)
	n, err := rw.Read(buf)
	if err != nil {
		return err
	}
	return checkError(string(buf[:n]))
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) (resp []byte, err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	rw, err := wrap(conn)
	if err != nil {
		return nil, err
	}
	_, err = io.WriteString(rw, s.join(cmds))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, maxReply)
	n, err := rw.Read(buf)
	if err != nil {
		return nil, err
	}
	resp = buf[:n]
	if s.Handshaking {
		pieces := bytes.Split(resp, []byte{';'})
		if err := checkError(string(pieces[len(pieces)-1])); err != nil {
			return resp, fmt.Errorf("%s: %w", strings.Join(cmds, " "), err)
		}
		return bytes.Join(pieces[:len(pieces)-1], []byte{}), nil
	}
	return resp, nil
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(resp), "\r\n"), nil
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(strings.TrimSpace(resp))
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.ReadString("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	return checkError(str)
}

// AllErrors returns all errors from the device as a list.  At most 32 are
// popped, the depth of the error queue on the instruments in use.
func (s *SCPI) AllErrors() []error {
	var errs []error
	for i := 0; i < 32; i++ {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
	}
	return errs
}

// WaitOperationComplete polls *OPC? every interval until the device reports
// that pending operations have finished, the context is done, or tries polls
// have failed.
func (s *SCPI) WaitOperationComplete(ctx context.Context, interval time.Duration, tries uint64) error {
	op := func() error {
		v, err := s.ReadInt("*OPC?")
		if err != nil {
			return err
		}
		if v != 1 {
			return ErrNotComplete
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), tries), ctx)
	err := backoff.Retry(op, b)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
