package comm

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrPoolClosed is generated by Get on a closed pool
var ErrPoolClosed = errors.New("connection pool closed")

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to capture the address and settings.
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool holds one or more connections to a device.  Idle connections are
// closed after the pool has been fully returned for the timeout, and
// re-opened as needed.  It is safe for concurrent use.  Pools must be created
// with NewPool.
type Pool struct {
	maxSize int
	timeout time.Duration
	maker   CreationFunc

	mu      sync.Mutex
	onLease int
	idle    []io.ReadWriteCloser
	waiters []chan io.ReadWriteCloser
	reclaim *time.Timer
	closed  bool
}

// NewPool returns a pool of at most maxSize connections made by maker
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Pool{maxSize: maxSize, timeout: timeout, maker: maker}
}

// Get retrieves a connection, blocking until one is available if all are in
// use.  The caller has exclusive use of it until it is returned with Put, or
// discarded with Destroy if it has gone bad.
//
// If the error from Get is not nil there is nothing to return to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.reclaim != nil {
		p.reclaim.Stop()
		p.reclaim = nil
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.onLease++
		p.mu.Unlock()
		return c, nil
	}
	if p.onLease < p.maxSize {
		// reserve the slot before dialing so concurrent Gets cannot overshoot
		p.onLease++
		p.mu.Unlock()
		c, err := p.maker()
		if err != nil {
			p.mu.Lock()
			p.onLease--
			p.mu.Unlock()
			return nil, err
		}
		return c, nil
	}
	wait := make(chan io.ReadWriteCloser, 1)
	p.waiters = append(p.waiters, wait)
	p.mu.Unlock()
	c, ok := <-wait
	if !ok {
		return nil, ErrPoolClosed
	}
	return c, nil
}

// Put restores a connection to the pool.  Junk connections (ones that always
// error) should be Destroy'd and not returned with Put.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.onLease--
		rwc.Close()
		return
	}
	if len(p.waiters) > 0 {
		// hand over directly, the lease carries to the waiter
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w <- rwc
		return
	}
	p.onLease--
	p.idle = append(p.idle, rwc)
	if p.onLease == 0 && p.timeout > 0 {
		p.reclaim = time.AfterFunc(p.timeout, p.closeIdle)
	}
}

// Destroy immediately frees a connection from the pool.  This should be used
// instead of Put if the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	if c, ok := rw.(io.Closer); ok {
		c.Close()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
	if len(p.waiters) > 0 && !p.closed {
		// a waiter is owed a connection and a slot just opened
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.onLease++
		go func() {
			c, err := p.maker()
			if err != nil {
				p.mu.Lock()
				p.onLease--
				p.mu.Unlock()
				close(w)
				return
			}
			w <- c
		}()
	}
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + p.onLease
}

// Active returns the number of connections currently given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close closes every idle connection and fails pending and future Gets.
// Leased connections are closed as they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.reclaim != nil {
		p.reclaim.Stop()
	}
	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil
	return p.closeIdleLocked()
}

func (p *Pool) closeIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onLease > 0 {
		return
	}
	p.closeIdleLocked()
}

// Reclaim closes the idle connections now.  The pool stays usable.
func (p *Pool) Reclaim() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeIdleLocked()
}

func (p *Pool) closeIdleLocked() error {
	var errs []error
	for _, c := range p.idle {
		errs = append(errs, c.Close())
	}
	p.idle = nil
	return errors.Join(errs...)
}

// ReturnWithError returns conn to the pool if err is nil and destroys it
// otherwise.  It is meant to be deferred in a closure over the caller's
// error.
func (p *Pool) ReturnWithError(conn io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(conn)
		return
	}
	p.Put(conn)
}
