package cartesianmotion

import (
	"math"
	"time"
)

// TrajectorySampler is the boundary to the motion-profile engine. The
// controller hands it a target whenever a fresh reference is accepted
// and asks for an interpolated desired state once per tick. Both calls
// happen on the control goroutine only.
type TrajectorySampler interface {
	// SetTarget starts a new segment from the given state toward
	// target, beginning at start and lasting duration.
	SetTarget(from, target MotionState, start time.Time, duration time.Duration)

	// Sample returns the desired state at the given time. The boolean
	// is false until a target has been set.
	Sample(at time.Time) (MotionState, bool)
}

// LinearSampler interpolates positions linearly from the segment start
// state to the target over the segment duration and passes target
// velocities through. It stands in for a jerk-limited profile engine in
// tests and simple deployments.
type LinearSampler struct {
	from     MotionState
	target   MotionState
	start    time.Time
	duration time.Duration
	active   bool
}

func NewLinearSampler() *LinearSampler {
	return &LinearSampler{}
}

func (s *LinearSampler) SetTarget(from, target MotionState, start time.Time, duration time.Duration) {
	s.from = from.Copy()
	s.target = target.Copy()
	s.start = start
	s.duration = duration
	s.active = true
}

func (s *LinearSampler) Sample(at time.Time) (MotionState, bool) {
	if !s.active {
		return MotionState{}, false
	}
	frac := 1.0
	if s.duration > 0 {
		frac = float64(at.Sub(s.start)) / float64(s.duration)
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
	}

	out := s.target.Copy()
	for i, tgt := range out.Positions {
		if math.IsNaN(tgt) {
			// no command for this axis: hold the segment start value
			if i < len(s.from.Positions) {
				out.Positions[i] = s.from.Positions[i]
			}
			continue
		}
		if i < len(s.from.Positions) && !math.IsNaN(s.from.Positions[i]) {
			out.Positions[i] = s.from.Positions[i] + (tgt-s.from.Positions[i])*frac
		}
	}
	return out, true
}
