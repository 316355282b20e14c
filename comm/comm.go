/*Package comm provides the transports the rig's instruments are reached over.

Most drivers boil down to:
	1.  build a CreationFunc for the link, SerialConnMaker for RS-232 devices
		or BackingOffTCPConnMaker for LAN instruments
	2.  hand it to NewPool so connections are opened on demand and closed
		when the device has been idle for a while
	3.  for each exchange, Get a conn, wrap it in a Terminator (and a Timeout
		for links with deadlines), and give it back with ReturnWithError

A minimal example for a pump that answers "GN" with its speed:

	pool := comm.NewPool(1, time.Minute, comm.SerialConnMaker(conf))
	conn, err := pool.Get()
	if err != nil {
		return 0, err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	rw := comm.NewTerminator(conn, '\r', '\r')
	_, err = io.WriteString(rw, "GN")
	...
*/
package comm

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNoDeadline is generated when a Timeout wraps a link without deadlines
	ErrNoDeadline = errors.New("connection does not support deadlines")

	// ErrNoSerialConf is generated when SerialConnMaker is given a nil config
	ErrNoSerialConf = errors.New("serial config is nil")
)

// Deadliner is a link which supports I/O deadlines, like net.Conn
type Deadliner interface {
	SetDeadline(time.Time) error
}

// TCPSetup opens a new TCP connection with keepalive on and a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc which dials addr, retrying
// with an exponential backoff for up to three seconds.  Instruments on the
// LAN refuse connections for a moment after the previous one was closed.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			c, err := TCPSetup(addr, timeout)
			if err != nil {
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc which opens the port described by conf
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		if conf == nil {
			return nil, ErrNoSerialConf
		}
		return serial.OpenPort(conf)
	}
}

// Terminator frames messages on a link.  Writes get the Tx terminator
// appended if it is missing, reads return one message with the Rx
// terminator stripped.
type Terminator struct {
	rw     io.ReadWriter
	br     *bufio.Reader
	rx, tx byte
}

// NewTerminator wraps rw
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, br: bufio.NewReader(rw), rx: rx, tx: tx}
}

// Write sends p followed by the Tx terminator
func (t *Terminator) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 || p[n-1] != t.tx {
		buf := make([]byte, n, n+1)
		copy(buf, p)
		p = append(buf, t.tx)
	}
	m, err := t.rw.Write(p)
	if m > n {
		m = n
	}
	return m, err
}

// Read reads one message into p.  io.ErrShortBuffer is returned if the
// message does not fit.
func (t *Terminator) Read(p []byte) (int, error) {
	msg, err := t.br.ReadBytes(t.rx)
	if err != nil && len(msg) == 0 {
		return 0, err
	}
	if len(msg) > 0 && msg[len(msg)-1] == t.rx {
		msg = msg[:len(msg)-1]
	}
	n := copy(p, msg)
	if n < len(msg) {
		return n, io.ErrShortBuffer
	}
	return n, nil
}

// SetDeadline forwards to the wrapped link
func (t *Terminator) SetDeadline(tm time.Time) error {
	if d, ok := t.rw.(Deadliner); ok {
		return d.SetDeadline(tm)
	}
	return ErrNoDeadline
}

// Timeout puts a deadline d in the future before every Read and Write
type Timeout struct {
	rw io.ReadWriter
	dl Deadliner
	d  time.Duration
}

// NewTimeout wraps rw, which must support deadlines
func NewTimeout(rw io.ReadWriter, d time.Duration) (*Timeout, error) {
	dl, ok := rw.(Deadliner)
	if !ok {
		return nil, ErrNoDeadline
	}
	if err := dl.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return &Timeout{rw: rw, dl: dl, d: d}, nil
}

// Read implements io.Reader
func (t *Timeout) Read(p []byte) (int, error) {
	if err := t.dl.SetDeadline(time.Now().Add(t.d)); err != nil {
		return 0, err
	}
	return t.rw.Read(p)
}

// Write implements io.Writer
func (t *Timeout) Write(p []byte) (int, error) {
	if err := t.dl.SetDeadline(time.Now().Add(t.d)); err != nil {
		return 0, err
	}
	return t.rw.Write(p)
}
