package sensor

import (
	"math"

	"github.com/thermofluids/flowloop/device"
)

// DefaultThreshold is the relative range (max-min)/|mean| under which a
// window is classified steady
const DefaultThreshold = 0.02

// Window is a fixed capacity ring of the most recent primary samples.
// Appending past capacity drops the oldest sample.
type Window struct {
	buf    []float64
	cursor int
	filled bool
}

// NewWindow returns a Window holding the last n samples
func NewWindow(n int) *Window {
	if n < 1 {
		n = 1
	}
	return &Window{buf: make([]float64, n)}
}

// Append pushes samples into the window
func (w *Window) Append(vs ...float64) {
	for _, v := range vs {
		w.buf[w.cursor] = v
		w.cursor++
		if w.cursor == len(w.buf) {
			w.cursor = 0
			w.filled = true
		}
	}
}

// Full returns true once the window has seen at least capacity samples
func (w *Window) Full() bool {
	return w.filled
}

// Contiguous returns the samples oldest first
func (w *Window) Contiguous() []float64 {
	if !w.filled {
		out := make([]float64, w.cursor)
		copy(out, w.buf[:w.cursor])
		return out
	}
	out := make([]float64, 0, len(w.buf))
	out = append(out, w.buf[w.cursor:]...)
	return append(out, w.buf[:w.cursor]...)
}

// Classify reports Steady if the window is full and its relative range is
// under threshold.  An empty or partial window, a zero mean, or any
// non-finite sample classifies Unsteady.
func (w *Window) Classify(threshold float64) device.ProcessState {
	if !w.filled {
		return device.Unsteady
	}
	min, max, sum := math.Inf(1), math.Inf(-1), 0.
	for _, v := range w.buf {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return device.Unsteady
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	mean := sum / float64(len(w.buf))
	if mean == 0 {
		return device.Unsteady
	}
	if (max-min)/math.Abs(mean) < threshold {
		return device.Steady
	}
	return device.Unsteady
}
