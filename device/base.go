package device

import (
	"context"
	"log/slog"
	"sync"
)

// Component is anything the supervisor polls, restarts and stops
type Component interface {
	// Name is the unique logical name of the component
	Name() string

	// Status is the component's current status
	Status() Status

	// BeginRestart moves a Faulted component to Initializing and returns true,
	// or returns false if the component is not faulted
	BeginRestart() bool

	// Run executes the main loop until Stop, ctx is done, or a fault
	Run(ctx context.Context) error

	// Stop ends the main loop; a stopped component is never restarted
	Stop()
}

// Reinitializer is implemented by components which must reopen hardware
// before their main loop is re-entered after a fault
type Reinitializer interface {
	Reinit(ctx context.Context) error
}

// Base is embedded by components to get status tracking and a main loop
// runner with panic recovery.  Base must be created with NewBase.
type Base struct {
	name string

	// Log is the component's logger, tagged with its name
	Log *slog.Logger

	mu     sync.RWMutex
	status Status

	stop     chan struct{}
	stopOnce sync.Once
}

// NewBase returns a Base in the Initializing state
func NewBase(name string, log *slog.Logger) *Base {
	if log == nil {
		log = slog.Default()
	}
	return &Base{
		name: name,
		Log:  log.With("device", name),
		stop: make(chan struct{}),
	}
}

// Name returns the name of the component
func (b *Base) Name() string {
	return b.name
}

// Status returns the current status
func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// SetStatus updates the status.  A Stopped component stays stopped.
func (b *Base) SetStatus(s State, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.State == Stopped {
		return
	}
	b.status = Status{State: s, Detail: detail}
}

// BeginRestart implements Component
func (b *Base) BeginRestart() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.State != Faulted {
		return false
	}
	b.status = Status{State: Initializing, Detail: "restarting"}
	return true
}

// Halt ends the main loop and marks the component Stopped.  It is idempotent.
func (b *Base) Halt() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.mu.Lock()
		b.status = Status{State: Stopped}
		b.mu.Unlock()
	})
}

// Halted returns true once Halt has been called
func (b *Base) Halted() bool {
	select {
	case <-b.stop:
		return true
	default:
		return false
	}
}

// Await marks the component WaitingForInput while it waits on sigs
func (b *Base) Await(ctx context.Context, sigs ...*Signal) error {
	b.SetStatus(WaitingForInput, "")
	defer b.SetStatus(Running, "")
	return WaitAll(ctx, sigs...)
}

// Loop calls step until the component is halted, ctx is done, or step
// faults.  A panic in step is recovered and reported as a fault.  On a fault
// the status is set to Faulted and the Outcome is returned as the error.
func (b *Base) Loop(ctx context.Context, step func(context.Context) Outcome) error {
	if b.Halted() {
		return ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	b.SetStatus(Running, "")
	for {
		if ctx.Err() != nil {
			return nil
		}
		out := b.safeStep(ctx, step)
		switch out.Kind {
		case Exit:
			return nil
		case Fault:
			if ctx.Err() != nil {
				return nil
			}
			b.SetStatus(Faulted, out.Reason)
			b.Log.Error("main loop faulted", "reason", out.Reason)
			return out
		}
	}
}

func (b *Base) safeStep(ctx context.Context, step func(context.Context) Outcome) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Faultf("panic: %v", r)
		}
	}()
	return step(ctx)
}
