package comm_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermofluids/flowloop/comm"
)

func tcpEchoServer(t *testing.T) string {
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
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

type fakeConn struct {
	closed int32
}

func (f *fakeConn) Read(p []byte) (int, error)  { return 0, io.EOF }
func (f *fakeConn) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeConn) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func countingMaker(made *int32) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		atomic.AddInt32(made, 1)
		return &fakeConn{}, nil
	}
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	var made int32
	pool := comm.NewPool(2, time.Minute, countingMaker(&made))
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		require.NoError(t, err)
		pool.Put(conn)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&made))
	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, 0, pool.Active())
}

func TestPoolBlocksAtCapacity(t *testing.T) {
	var made int32
	pool := comm.NewPool(1, time.Minute, countingMaker(&made))
	first, err := pool.Get()
	require.NoError(t, err)

	got := make(chan io.ReadWriter)
	go func() {
		c, _ := pool.Get()
		got <- c
	}()
	select {
	case <-got:
		t.Fatal("second Get returned while the only connection was leased")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Put(first)
	select {
	case c := <-got:
		assert.Same(t, first, c)
	case <-time.After(time.Second):
		t.Fatal("waiter was not handed the returned connection")
	}
	assert.Equal(t, 1, pool.Active())
}

func TestPoolReclaimsIdleConnections(t *testing.T) {
	var made int32
	pool := comm.NewPool(1, 10*time.Millisecond, countingMaker(&made))
	conn, err := pool.Get()
	require.NoError(t, err)
	pool.Put(conn)
	require.Eventually(t, func() bool { return pool.Size() == 0 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&conn.(*fakeConn).closed))
}

func TestReturnWithErrorDestroys(t *testing.T) {
	var made int32
	pool := comm.NewPool(1, time.Minute, countingMaker(&made))
	conn, err := pool.Get()
	require.NoError(t, err)
	pool.ReturnWithError(conn, errors.New("garbled reply"))
	assert.Equal(t, 0, pool.Size())
	assert.EqualValues(t, 1, atomic.LoadInt32(&conn.(*fakeConn).closed))

	conn, err = pool.Get()
	require.NoError(t, err)
	pool.ReturnWithError(conn, nil)
	assert.Equal(t, 1, pool.Size())
	assert.EqualValues(t, 2, atomic.LoadInt32(&made))
}

func TestPoolMakerErrorReleasesSlot(t *testing.T) {
	boom := errors.New("port busy")
	pool := comm.NewPool(1, time.Minute, func() (io.ReadWriteCloser, error) { return nil, boom })
	_, err := pool.Get()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, pool.Active())
}

func TestClosedPool(t *testing.T) {
	var made int32
	pool := comm.NewPool(1, time.Minute, countingMaker(&made))
	require.NoError(t, pool.Close())
	_, err := pool.Get()
	assert.ErrorIs(t, err, comm.ErrPoolClosed)
}

func TestTerminatorFramesMessages(t *testing.T) {
	var buf bytes.Buffer
	term := comm.NewTerminator(&buf, '\n', '\r')
	n, err := io.WriteString(term, "V250")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "V250\r", buf.String())

	buf.Reset()
	buf.WriteString("+1.2345E+01\n+0\n")
	p := make([]byte, 64)
	n, err = term.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "+1.2345E+01", string(p[:n]))
	n, err = term.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "+0", string(p[:n]))
}

func TestTerminatorShortBuffer(t *testing.T) {
	buf := bytes.NewBufferString("0123456789\n")
	term := comm.NewTerminator(buf, '\n', '\n')
	p := make([]byte, 4)
	n, err := term.Read(p)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.ErrShortBuffer)
}

func TestTimeoutNeedsDeadlines(t *testing.T) {
	_, err := comm.NewTimeout(&bytes.Buffer{}, time.Second)
	assert.ErrorIs(t, err, comm.ErrNoDeadline)
}

func TestEchoOverTCP(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, comm.BackingOffTCPConnMaker(addr, time.Second))
	defer pool.Close()

	conn, err := pool.Get()
	require.NoError(t, err)
	defer func() { pool.ReturnWithError(conn, err) }()

	term := comm.NewTerminator(conn, '\n', '\n')
	wrap, err := comm.NewTimeout(term, time.Second)
	require.NoError(t, err)
	_, err = io.WriteString(wrap, "*IDN?")
	require.NoError(t, err)
	p := make([]byte, 64)
	n, err := wrap.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "*IDN?", string(p[:n]))
}

func TestReclaimKeepsPoolUsable(t *testing.T) {
	var made int32
	pool := comm.NewPool(1, time.Minute, countingMaker(&made))
	conn, err := pool.Get()
	require.NoError(t, err)
	pool.Put(conn)
	require.NoError(t, pool.Reclaim())
	assert.Equal(t, 0, pool.Size())

	_, err = pool.Get()
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&made))
}
