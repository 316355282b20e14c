package actuator

import "sync"

// Recorder is a Driver that keeps every command it receives.  It stands in
// for hardware when the rig runs in simulation.
type Recorder struct {
	mu          sync.Mutex
	commands    []float64
	deactivated int

	// Fail, when set, is returned by SetActual
	Fail error
}

// SetActual implements Driver
func (r *Recorder) SetActual(v float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.commands = append(r.commands, v)
	return nil
}

// Deactivate implements Driver
func (r *Recorder) Deactivate() error {
	r.mu.Lock()
	r.deactivated++
	r.mu.Unlock()
	return nil
}

// Commands returns a copy of the commands received so far
func (r *Recorder) Commands() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.commands...)
}

// Deactivations returns how many times Deactivate was called
func (r *Recorder) Deactivations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deactivated
}
