package daq

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// ErrNotActive is generated when Trigger is called before Activate
var ErrNotActive = errors.New("acquirer not activated")

// Setup describes one instrument channel
type Setup struct {
	Channel int

	// Function is the instrument measurement function, e.g. VOLT:DC
	Function string

	// Range is the measurement range; zero means auto
	Range float64

	// NPLC is the integration time in power line cycles; zero means instrument default
	NPLC float64

	// Settling is the delay after switching to the channel
	Settling time.Duration
}

// Burst is the result of one trigger: every channel's samples plus the
// timestamps of the first and last reading
type Burst struct {
	Samples map[int][]float64
	First   time.Time
	Last    time.Time
}

// Acquirer is the boundary to the acquisition instrument
type Acquirer interface {
	// Configure stores the instrument commands for a channel
	Configure(channel int, commands []string) error

	// Activate applies the configuration and builds the scan list
	Activate() error

	// Trigger scans every configured channel sweeps times
	Trigger(ctx context.Context, sweeps int) (Burst, error)

	// Close releases the instrument
	Close() error
}

// Simulator is an Acquirer which draws uniform random samples, for running
// the rig without hardware
type Simulator struct {
	// Low and High bound the samples
	Low, High float64

	// SweepTime is how long one sweep takes
	SweepTime time.Duration

	mu       sync.Mutex
	channels map[int][]string
	active   bool
	rng      *rand.Rand
}

// NewSimulator returns a Simulator producing samples in [low, high)
func NewSimulator(low, high float64, sweepTime time.Duration) *Simulator {
	return &Simulator{
		Low:       low,
		High:      high,
		SweepTime: sweepTime,
		channels:  map[int][]string{},
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Configure implements Acquirer
func (s *Simulator) Configure(channel int, commands []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel] = commands
	return nil
}

// Activate implements Acquirer
func (s *Simulator) Activate() error {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	return nil
}

// Channels returns the configured channel numbers in ascending order
func (s *Simulator) Channels() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}

// Trigger implements Acquirer
func (s *Simulator) Trigger(ctx context.Context, sweeps int) (Burst, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return Burst{}, ErrNotActive
	}
	first := time.Now()
	select {
	case <-time.After(time.Duration(sweeps) * s.SweepTime):
	case <-ctx.Done():
		return Burst{}, ctx.Err()
	}
	b := Burst{Samples: map[int][]float64{}, First: first, Last: time.Now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.channels {
		vs := make([]float64, sweeps)
		for i := range vs {
			vs[i] = s.Low + s.rng.Float64()*(s.High-s.Low)
		}
		b.Samples[ch] = vs
	}
	return b, nil
}

// Close implements Acquirer
func (s *Simulator) Close() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	return nil
}
