package cartesianmotion

import "math"

// MotionState is one sample of per-axis motion: positions, velocities
// and accelerations. A channel that carries no data at all is left nil
// rather than zero-filled, so "no command" stays distinguishable from
// "command zero". Individual entries may be NaN, meaning the axis has
// no commanded value on that channel.
type MotionState struct {
	Positions     []float64
	Velocities    []float64
	Accelerations []float64
}

// NewMotionState returns a state with all three channels populated with
// the NaN sentinel.
func NewMotionState(dof int) MotionState {
	return MotionState{
		Positions:     nanSlice(dof),
		Velocities:    nanSlice(dof),
		Accelerations: nanSlice(dof),
	}
}

// DOF returns the axis count of the first populated channel.
func (m MotionState) DOF() int {
	switch {
	case m.Positions != nil:
		return len(m.Positions)
	case m.Velocities != nil:
		return len(m.Velocities)
	default:
		return len(m.Accelerations)
	}
}

// Copy returns a deep copy; the receiver's slices are never aliased.
func (m MotionState) Copy() MotionState {
	return MotionState{
		Positions:     copySlice(m.Positions),
		Velocities:    copySlice(m.Velocities),
		Accelerations: copySlice(m.Accelerations),
	}
}

// HasAnyValue reports whether at least one entry on any channel is not
// the NaN sentinel.
func (m MotionState) HasAnyValue() bool {
	for _, ch := range [][]float64{m.Positions, m.Velocities, m.Accelerations} {
		for _, v := range ch {
			if !math.IsNaN(v) {
				return true
			}
		}
	}
	return false
}

// Scale multiplies every populated, non-sentinel entry by factor and
// returns the result as a new state.
func (m MotionState) Scale(factor float64) MotionState {
	out := m.Copy()
	for _, ch := range [][]float64{out.Positions, out.Velocities, out.Accelerations} {
		for i, v := range ch {
			if !math.IsNaN(v) {
				ch[i] = v * factor
			}
		}
	}
	return out
}

// trackingError computes desired - current per axis per channel. Axes
// where either side is the sentinel produce a sentinel error.
func trackingError(desired, current MotionState) MotionState {
	diff := func(a, b []float64) []float64 {
		if a == nil || b == nil {
			return nil
		}
		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		out := nanSlice(n)
		for i := 0; i < n; i++ {
			if !math.IsNaN(a[i]) && !math.IsNaN(b[i]) {
				out[i] = a[i] - b[i]
			}
		}
		return out
	}
	return MotionState{
		Positions:     diff(desired.Positions, current.Positions),
		Velocities:    diff(desired.Velocities, current.Velocities),
		Accelerations: diff(desired.Accelerations, current.Accelerations),
	}
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func copySlice(s []float64) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}
