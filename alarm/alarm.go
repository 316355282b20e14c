// Package alarm evaluates threshold rules against sensor readings and
// describes the events raised to the supervisor when one trips.
package alarm

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the sense of a threshold rule
type Direction int

const (
	// High trips when any sample in a burst exceeds the threshold
	High Direction = iota

	// Low trips when any sample in a burst is below the threshold
	Low

	// HighTrend trips when the latest sample of each of the last N bursts
	// exceeds the threshold
	HighTrend
)

func (d Direction) String() string {
	switch d {
	case High:
		return "H"
	case Low:
		return "L"
	case HighTrend:
		return "HT"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// ParseDirection converts H, L or HT to a Direction
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(s) {
	case "H", "HIGH":
		return High, nil
	case "L", "LOW":
		return Low, nil
	case "HT", "HIGHTREND":
		return HighTrend, nil
	}
	return 0, fmt.Errorf("alarm direction %q is not one of H, L, HT", s)
}

// Action is what the supervisor does when a rule trips
type Action int

const (
	// Alert is logged and announced, the run continues
	Alert Action = iota

	// Stop triggers the safety procedure and a full shutdown
	Stop
)

func (a Action) String() string {
	if a == Stop {
		return "Stop"
	}
	return "Alert"
}

// ParseAction converts Alert or Stop to an Action
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "alert":
		return Alert, nil
	case "stop":
		return Stop, nil
	}
	return 0, fmt.Errorf("alarm action %q is not Alert or Stop", s)
}

// DefaultTrendPeriods is the number of consecutive bursts a HighTrend rule watches
const DefaultTrendPeriods = 3

// Rule is a threshold on one quantity of a sensor
type Rule struct {
	Direction Direction
	Attribute string
	Threshold float64
	Action    Action

	// Periods is the HighTrend window; zero means DefaultTrendPeriods
	Periods int
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s %g %s", r.Direction, r.Attribute, r.Threshold, r.Action)
}

// Event is raised to the supervisor when a rule trips
type Event struct {
	Source string
	Rule   Rule
	Value  float64
	Time   time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s alarm on %s.%s: %g vs threshold %g (%s)",
		e.Rule.Direction, e.Source, e.Rule.Attribute, e.Value, e.Rule.Threshold, e.Rule.Action)
}

// Evaluator checks a fixed set of rules.  HighTrend rules each keep their own
// rolling history.  An Evaluator is owned by one sensor and is not safe for
// concurrent use.
type Evaluator struct {
	rules   []Rule
	history [][]float64
}

// NewEvaluator returns an Evaluator for rules
func NewEvaluator(rules ...Rule) *Evaluator {
	e := &Evaluator{rules: rules, history: make([][]float64, len(rules))}
	for i := range e.rules {
		if e.rules[i].Periods <= 0 {
			e.rules[i].Periods = DefaultTrendPeriods
		}
	}
	return e
}

// Rules returns the rules being evaluated
func (e *Evaluator) Rules() []Rule {
	return e.rules
}

// Check evaluates every rule against the burst of each watched quantity.
// series maps a quantity name to its samples for this burst.  Rules whose
// attribute is missing from series are skipped.
func (e *Evaluator) Check(source string, series map[string][]float64, now time.Time) []Event {
	var out []Event
	for i, r := range e.rules {
		samples, ok := series[r.Attribute]
		if !ok || len(samples) == 0 {
			continue
		}
		switch r.Direction {
		case High:
			for _, v := range samples {
				if v > r.Threshold {
					out = append(out, Event{Source: source, Rule: r, Value: v, Time: now})
					break
				}
			}
		case Low:
			for _, v := range samples {
				if v < r.Threshold {
					out = append(out, Event{Source: source, Rule: r, Value: v, Time: now})
					break
				}
			}
		case HighTrend:
			last := samples[len(samples)-1]
			h := append(e.history[i], last)
			if len(h) > r.Periods {
				h = h[len(h)-r.Periods:]
			}
			e.history[i] = h
			if len(h) == r.Periods && allAbove(h, r.Threshold) {
				out = append(out, Event{Source: source, Rule: r, Value: last, Time: now})
			}
		}
	}
	return out
}

func allAbove(vs []float64, threshold float64) bool {
	for _, v := range vs {
		if v <= threshold {
			return false
		}
	}
	return true
}
