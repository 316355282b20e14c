// Package device holds the pieces every participant in the rig shares: the
// tagged status a device reports to the supervisor, the outcome of one
// processing step, the one-shot signals the acquisition pipeline is built on
// and the process-wide registry of named devices.
package device

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStopped is returned by blocking calls on a device that has been stopped
	ErrStopped = errors.New("device stopped")

	// ErrUnknownDevice is generated when a registry lookup misses
	ErrUnknownDevice = errors.New("unknown device")

	// ErrDuplicateDevice is generated when two devices register under one name
	ErrDuplicateDevice = errors.New("duplicate device name")

	// ErrSealed is generated when registering into a registry after startup
	ErrSealed = errors.New("registry is sealed")
)

// State is the coarse lifecycle state of a device
type State int

const (
	// Initializing is the state of a device that is opening or re-opening
	Initializing State = iota

	// Running means the main loop is executing normally
	Running

	// WaitingForInput means the main loop is blocked on a peer's signal
	WaitingForInput

	// Faulted means the main loop has exited on an error and awaits a restart
	Faulted

	// Stopped means the device was shut down and must not be restarted
	Stopped
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case WaitingForInput:
		return "waiting for input"
	case Faulted:
		return "faulted"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is what a device reports to the supervisor.  Detail is free text,
// for a Faulted device it is the fault reason.
type Status struct {
	State  State  `json:"state"`
	Detail string `json:"detail,omitempty"`
}

func (s Status) String() string {
	if s.Detail == "" {
		return s.State.String()
	}
	return s.State.String() + ": " + s.Detail
}

// ProcessState is the rig-wide classification of the process
type ProcessState int

const (
	// Unsteady (USS) is the state after a setpoint change while the process settles
	Unsteady ProcessState = iota

	// Steady (SS) means every tracked sensor reports a flat history
	Steady
)

func (p ProcessState) String() string {
	if p == Steady {
		return "SS"
	}
	return "USS"
}

// MarshalText implements encoding.TextMarshaler
func (p ProcessState) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *ProcessState) UnmarshalText(b []byte) error {
	v, err := ParseProcessState(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParseProcessState converts "SS" or "USS" (any case) to a ProcessState
func ParseProcessState(s string) (ProcessState, error) {
	switch strings.ToUpper(s) {
	case "SS":
		return Steady, nil
	case "USS":
		return Unsteady, nil
	}
	return Unsteady, fmt.Errorf("process state %q is not SS or USS", s)
}

// OutcomeKind enumerates the results of a processing step
type OutcomeKind int

const (
	// Ok means the step completed and the loop should continue
	Ok OutcomeKind = iota

	// Fault means the step failed and the loop must exit for a restart
	Fault

	// Exit means the loop was asked to stop
	Exit
)

// Outcome is the result of one processing step of a device's main loop
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// Done is the Outcome of a step that completed normally
func Done() Outcome { return Outcome{Kind: Ok} }

// Faultf is the Outcome of a step that failed
func Faultf(format string, args ...interface{}) Outcome {
	return Outcome{Kind: Fault, Reason: fmt.Sprintf(format, args...)}
}

// Quit is the Outcome of a step that observed a stop request
func Quit() Outcome { return Outcome{Kind: Exit} }

// Faulted returns true if the outcome is a fault
func (o Outcome) Faulted() bool { return o.Kind == Fault }

func (o Outcome) Error() string {
	switch o.Kind {
	case Fault:
		return "fault: " + o.Reason
	case Exit:
		return "exit"
	default:
		return "ok"
	}
}
