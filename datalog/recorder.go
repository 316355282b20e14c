package datalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/thermofluids/flowloop/control"
	"github.com/thermofluids/flowloop/device"
	"github.com/thermofluids/flowloop/sensor"
)

// Sink is where records go
type Sink interface {
	// Write takes one cycle's record
	Write(Record) error

	// Flush persists anything buffered
	Flush() error

	// Close flushes and releases the sink
	Close() error
}

// CycleReporter reports the last finished control cycle; the controller
// satisfies it
type CycleReporter interface {
	LastReport() control.Report
}

type sensorSeries struct {
	sensor.Source
}

func (s sensorSeries) Series() map[string][]float64 {
	return s.Reading().Values
}

// FromSensor adapts a sensor to a SeriesSource
func FromSensor(s sensor.Source) SeriesSource {
	return sensorSeries{s}
}

// Recorder builds a Record at the end of every control cycle and writes it
// to its sinks.  Sinks are flushed when the process state changes.
type Recorder struct {
	*device.Base
	run     string
	cycle   *device.Signal
	cycles  CycleReporter
	series  []SeriesSource
	scalars []ScalarSource

	mu      sync.Mutex
	sinks   []Sink
	last    Record
	hasLast bool
}

// NewRecorder returns a Recorder woken by cycle
func NewRecorder(run string, cycle *device.Signal, cycles CycleReporter, series []SeriesSource, scalars []ScalarSource, sinks []Sink, log *slog.Logger) *Recorder {
	return &Recorder{
		Base:    device.NewBase("logger", log),
		run:     run,
		cycle:   cycle,
		cycles:  cycles,
		series:  series,
		scalars: scalars,
		sinks:   sinks,
	}
}

// Last returns the most recent record
func (r *Recorder) Last() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

// Run implements device.Component
func (r *Recorder) Run(ctx context.Context) error {
	return r.Loop(ctx, r.step)
}

func (r *Recorder) step(ctx context.Context) device.Outcome {
	if err := r.Await(ctx, r.cycle); err != nil {
		return device.Quit()
	}
	info := r.cycles.LastReport().Burst
	rec := Record{
		Run:   r.run,
		Cycle: info.Cycle,
		State: info.State,
		Rows:  Rows(info.First, info.Last, r.series, r.scalars),
	}
	if err := r.Record(rec); err != nil {
		r.Log.Warn("writing record", "err", err)
	}
	return device.Done()
}

// Record writes rec to every sink, flushing them first if the process state
// changed since the previous record
func (r *Recorder) Record(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	if r.hasLast && r.last.State != rec.State {
		errs = append(errs, r.flushLocked())
	}
	for _, s := range r.sinks {
		errs = append(errs, s.Write(rec))
	}
	r.last, r.hasLast = rec, true
	return errors.Join(errs...)
}

// Flush flushes every sink
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Flush())
	}
	return errors.Join(errs...)
}

// Stop ends the main loop and closes every sink
func (r *Recorder) Stop() {
	if r.Halted() {
		return
	}
	r.Halt()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			r.Log.Warn("closing sink", "err", err)
		}
	}
	r.sinks = nil
}
