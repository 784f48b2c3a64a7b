package cartesianmotion

import (
	"math"
	"sync/atomic"

	"go.viam.com/rdk/logging"
)

// AxisLimits bounds the motion of one axis. NaN is the "no limit"
// sentinel for every field; a position pair has limits if either bound
// is set.
type AxisLimits struct {
	MinPosition     float64
	MaxPosition     float64
	MaxVelocity     float64
	MaxAcceleration float64
	MaxJerk         float64
	MaxEffort       float64
}

// NoLimits returns limits with every field set to the sentinel.
func NoLimits() AxisLimits {
	n := math.NaN()
	return AxisLimits{n, n, n, n, n, n}
}

func (l AxisLimits) HasPositionLimits() bool {
	return !math.IsNaN(l.MinPosition) || !math.IsNaN(l.MaxPosition)
}

func (l AxisLimits) HasVelocityLimit() bool     { return !math.IsNaN(l.MaxVelocity) }
func (l AxisLimits) HasAccelerationLimit() bool { return !math.IsNaN(l.MaxAcceleration) }
func (l AxisLimits) HasJerkLimit() bool         { return !math.IsNaN(l.MaxJerk) }
func (l AxisLimits) HasEffortLimit() bool       { return !math.IsNaN(l.MaxEffort) }

// LimitSet holds per-axis limits in controller axis order.
type LimitSet struct {
	Axes   []string
	Limits []AxisLimits
}

func (s *LimitSet) index(axis string) int {
	for i, name := range s.Axes {
		if name == axis {
			return i
		}
	}
	return -1
}

// ByAxis returns the limits for the named axis, or NoLimits for an
// unknown name.
func (s *LimitSet) ByAxis(axis string) AxisLimits {
	if i := s.index(axis); i >= 0 {
		return s.Limits[i]
	}
	return NoLimits()
}

func (s *LimitSet) copy() *LimitSet {
	out := &LimitSet{
		Axes:   make([]string, len(s.Axes)),
		Limits: make([]AxisLimits, len(s.Limits)),
	}
	copy(out.Axes, s.Axes)
	copy(out.Limits, s.Limits)
	return out
}

// Apply clamps desired against the set, axis by axis: positions clamp
// to [min,max], velocities and accelerations clamp in magnitude.
// Sentinel entries pass through untouched.
func (s *LimitSet) Apply(desired MotionState) MotionState {
	out := desired.Copy()
	for i := range s.Limits {
		l := s.Limits[i]
		if i < len(out.Positions) && !math.IsNaN(out.Positions[i]) {
			if !math.IsNaN(l.MinPosition) && out.Positions[i] < l.MinPosition {
				out.Positions[i] = l.MinPosition
			}
			if !math.IsNaN(l.MaxPosition) && out.Positions[i] > l.MaxPosition {
				out.Positions[i] = l.MaxPosition
			}
		}
		if i < len(out.Velocities) {
			out.Velocities[i] = clampMagnitude(out.Velocities[i], l.MaxVelocity)
		}
		if i < len(out.Accelerations) {
			out.Accelerations[i] = clampMagnitude(out.Accelerations[i], l.MaxAcceleration)
		}
	}
	return out
}

func clampMagnitude(v, max float64) float64 {
	if math.IsNaN(v) || math.IsNaN(max) {
		return v
	}
	if v > max {
		return max
	}
	if v < -max {
		return -max
	}
	return v
}

// LimitUpdate is one entry of a runtime limit-update request. Nil
// fields are left unchanged from the current active limits; a NaN value
// restores the configured (startup) value for that field; any other
// value is set exactly.
type LimitUpdate struct {
	Axis            string
	MinPosition     *float64
	MaxPosition     *float64
	MaxVelocity     *float64
	MaxAcceleration *float64
	MaxJerk         *float64
	MaxEffort       *float64
}

// LimitUpdateResult reports the outcome of one update entry.
type LimitUpdateResult struct {
	Axis    string
	Applied bool
	Reason  string
}

// limitHolder pairs the immutable configured limits with the mutable
// active limits. The active set is swapped as a whole copy-on-write
// snapshot so a concurrent reader observes either the old or the new
// set, never a mixture.
type limitHolder struct {
	configured *LimitSet
	active     atomic.Pointer[LimitSet]
}

func newLimitHolder(configured *LimitSet) *limitHolder {
	h := &limitHolder{configured: configured}
	h.active.Store(configured.copy())
	return h
}

// Active returns the current snapshot. Safe from the control tick.
func (h *limitHolder) Active() *LimitSet {
	return h.active.Load()
}

// Configured returns the startup limits.
func (h *limitHolder) Configured() *LimitSet {
	return h.configured
}

// Update applies a batch of limit updates and swaps in a new active
// snapshot. Entries naming unknown axes are rejected individually;
// valid entries in the same batch still apply. The boolean is false if
// any entry failed.
func (h *limitHolder) Update(updates []LimitUpdate, logger logging.Logger) ([]LimitUpdateResult, bool) {
	next := h.Active().copy()
	results := make([]LimitUpdateResult, 0, len(updates))
	ok := true

	for _, u := range updates {
		i := next.index(u.Axis)
		if i < 0 {
			logger.Warnw("limit update names unknown axis, ignoring entry", "axis", u.Axis)
			results = append(results, LimitUpdateResult{Axis: u.Axis, Applied: false, Reason: "unknown axis"})
			ok = false
			continue
		}
		cfg := h.configured.Limits[i]
		l := next.Limits[i]
		resolveLimitField(&l.MinPosition, u.MinPosition, cfg.MinPosition)
		resolveLimitField(&l.MaxPosition, u.MaxPosition, cfg.MaxPosition)
		resolveLimitField(&l.MaxVelocity, u.MaxVelocity, cfg.MaxVelocity)
		resolveLimitField(&l.MaxAcceleration, u.MaxAcceleration, cfg.MaxAcceleration)
		resolveLimitField(&l.MaxJerk, u.MaxJerk, cfg.MaxJerk)
		resolveLimitField(&l.MaxEffort, u.MaxEffort, cfg.MaxEffort)
		next.Limits[i] = l
		results = append(results, LimitUpdateResult{Axis: u.Axis, Applied: true})
		logger.Infow("new active limits for axis", "axis", u.Axis, "limits", l)
	}

	h.active.Store(next)
	return results, ok
}

func resolveLimitField(current *float64, requested *float64, configured float64) {
	if requested == nil {
		return
	}
	if math.IsNaN(*requested) {
		*current = configured
		return
	}
	*current = *requested
}
