package device

import (
	"context"
	"sync"
)

// Signal is a one-shot event with a single writer and a single reader.
// Publish sets it, Wait blocks until it is set and clears it.  Publishing a
// set signal is a no-op, so a slow reader sees one event per cycle.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns a cleared Signal
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Publish sets the signal
func (s *Signal) Publish() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the signal is set or ctx is done, and clears it
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear resets the signal without waiting
func (s *Signal) Clear() {
	select {
	case <-s.ch:
	default:
	}
}

// IsSet reports if the signal is set, without clearing it
func (s *Signal) IsSet() bool {
	return len(s.ch) == 1
}

// C exposes the underlying channel for use in a select.  Receiving from it
// clears the signal.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// Notifier fans one writer's publish out to any number of readers, each of
// which holds its own Signal.  Readers subscribe during setup.
type Notifier struct {
	mu   sync.Mutex
	subs []*Signal
}

// Subscribe returns a new Signal set on every subsequent Publish
func (n *Notifier) Subscribe() *Signal {
	s := NewSignal()
	n.mu.Lock()
	n.subs = append(n.subs, s)
	n.mu.Unlock()
	return s
}

// Publish sets every subscriber's signal
func (n *Notifier) Publish() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.subs {
		s.Publish()
	}
}

// WaitAll waits on every signal in order, clearing each
func WaitAll(ctx context.Context, sigs ...*Signal) error {
	for _, s := range sigs {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
