package control

// FineSteps is the number of fine increments that make one whole step
const FineSteps = 4

// StepSequence is the position on the stepping ramp.  In fine mode
// increments accumulate in FineCount and are committed to Count once
// FineSteps of them are reached.
type StepSequence struct {
	Count     int  `json:"count"`
	Fine      bool `json:"fine"`
	FineCount int  `json:"fineCount"`
}

// Advance moves the sequence by n steps and returns false if the move was
// floored at step zero
func (s *StepSequence) Advance(n int) bool {
	if s.Fine {
		s.FineCount += n
		if s.FineCount >= FineSteps || s.FineCount < 0 {
			s.FineCount = 0
			s.Count += n
		}
	} else {
		s.Count += n
	}
	if s.Count < 0 {
		s.Count = 0
		return false
	}
	return true
}

// ToggleFine flips fine mode.  Leaving fine mode discards uncommitted fine
// increments.
func (s *StepSequence) ToggleFine() bool {
	s.Fine = !s.Fine
	if !s.Fine {
		s.FineCount = 0
	}
	return s.Fine
}
