// Package operator is the operator's command surface: the typed Command the
// supervisor executes, the console line grammar and an HTTP router.
package operator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/thermofluids/flowloop/mathx"
)

var (
	// ErrUnknownCommand is generated when a console line does not parse
	ErrUnknownCommand = errors.New("unknown command")

	// ErrNotFinite is generated for a NaN or infinite command value
	ErrNotFinite = errors.New("value is not finite")
)

func parseValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if !mathx.Finite(v) {
		return 0, fmt.Errorf("%q: %w", s, ErrNotFinite)
	}
	return v, nil
}

// Kind enumerates operator commands
type Kind int

const (
	// Shutdown stops the run
	Shutdown Kind = iota

	// ManualTrigger forces the steady state vote and fires the DAU
	ManualTrigger

	// ManualInput sets the manual input sensor
	ManualInput

	// SetParameter changes an attribute of a device or sensor
	SetParameter

	// AdvanceStep moves the step sequence by Step
	AdvanceStep

	// ToggleFine flips fine stepping
	ToggleFine

	// Help prints the console grammar
	Help
)

var kindNames = map[Kind]string{
	Shutdown:      "shutdown",
	ManualTrigger: "manual_trigger",
	ManualInput:   "manual_input",
	SetParameter:  "set_parameter",
	AdvanceStep:   "advance_step",
	ToggleFine:    "toggle_fine_step",
	Help:          "help",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Command is one operator instruction
type Command struct {
	Kind      Kind    `json:"kind"`
	Device    string  `json:"device,omitempty"`
	Attribute string  `json:"attribute,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Step      int     `json:"step,omitempty"`
}

func (c Command) String() string {
	switch c.Kind {
	case ManualInput:
		return fmt.Sprintf("%s(%g)", c.Kind, c.Value)
	case SetParameter:
		target := c.Device
		if c.Attribute != "" {
			target += "." + c.Attribute
		}
		return fmt.Sprintf("%s(%s, %g)", c.Kind, target, c.Value)
	case AdvanceStep:
		return fmt.Sprintf("%s(%+d)", c.Kind, c.Step)
	}
	return c.Kind.String()
}

// Usage is the console help text
const Usage = `commands:
  quit                          shut the rig down
  trig                          skip the remaining dwell and declare steady state
  inp_<value>                   set the manual input sensor
  set_<device>[.<attr>]_<value> set a device attribute (default SP)
  skip                          advance one step
  back                          go back one step
  fine                          toggle fine stepping
  help                          print this message`

// ParseLine parses one console line.  Device and attribute names are
// upper-cased.
func ParseLine(line string) (Command, error) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "quit", "exit":
		return Command{Kind: Shutdown}, nil
	case "trig":
		return Command{Kind: ManualTrigger}, nil
	case "skip":
		return Command{Kind: AdvanceStep, Step: 1}, nil
	case "back":
		return Command{Kind: AdvanceStep, Step: -1}, nil
	case "fine":
		return Command{Kind: ToggleFine}, nil
	case "help", "?":
		return Command{Kind: Help}, nil
	}

	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "inp_"):
		v, err := parseValue(line[len("inp_"):])
		if err != nil {
			return Command{}, fmt.Errorf("manual input value: %w", err)
		}
		return Command{Kind: ManualInput, Value: v}, nil
	case strings.HasPrefix(lower, "set_"):
		rest := line[len("set_"):]
		idx := strings.LastIndexByte(rest, '_')
		if idx <= 0 {
			return Command{}, fmt.Errorf("%w: %q, expected set_<device>[.<attr>]_<value>", ErrUnknownCommand, line)
		}
		v, err := parseValue(rest[idx+1:])
		if err != nil {
			return Command{}, fmt.Errorf("parameter value: %w", err)
		}
		target := strings.ToUpper(rest[:idx])
		cmd := Command{Kind: SetParameter, Device: target, Value: v}
		if dev, attr, ok := strings.Cut(target, "."); ok {
			cmd.Device, cmd.Attribute = dev, attr
		}
		return cmd, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, line)
}
