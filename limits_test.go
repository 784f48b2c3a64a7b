package cartesianmotion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func floatPtr(v float64) *float64 { return &v }

// limitsEqual compares every field, treating the NaN sentinel as equal
// to itself (reflect.DeepEqual, and thus assert.Equal, cannot).
func limitsEqual(a, b AxisLimits) bool {
	eq := func(x, y float64) bool { return x == y || (math.IsNaN(x) && math.IsNaN(y)) }
	return eq(a.MinPosition, b.MinPosition) &&
		eq(a.MaxPosition, b.MaxPosition) &&
		eq(a.MaxVelocity, b.MaxVelocity) &&
		eq(a.MaxAcceleration, b.MaxAcceleration) &&
		eq(a.MaxJerk, b.MaxJerk) &&
		eq(a.MaxEffort, b.MaxEffort)
}

func testLimitSet() *LimitSet {
	lift := NoLimits()
	lift.MinPosition = -1
	lift.MaxPosition = 1
	lift.MaxVelocity = 2
	return &LimitSet{
		Axes:   []string{"lift", "pan"},
		Limits: []AxisLimits{lift, NoLimits()},
	}
}

func TestHasPositionLimits(t *testing.T) {
	l := NoLimits()
	assert.False(t, l.HasPositionLimits())

	l.MinPosition = -1
	assert.True(t, l.HasPositionLimits(), "one bound is enough")

	l = NoLimits()
	l.MaxPosition = 1
	assert.True(t, l.HasPositionLimits())

	assert.False(t, l.HasVelocityLimit())
	l.MaxVelocity = 3
	assert.True(t, l.HasVelocityLimit())
}

func TestLimitSetApply(t *testing.T) {
	set := testLimitSet()

	out := set.Apply(MotionState{
		Positions:  []float64{5, 5},
		Velocities: []float64{-9, -9},
	})
	assert.Equal(t, 1.0, out.Positions[0], "position clamps to max")
	assert.Equal(t, 5.0, out.Positions[1], "unlimited axis passes through")
	assert.Equal(t, -2.0, out.Velocities[0], "velocity clamps in magnitude")
	assert.Equal(t, -9.0, out.Velocities[1])

	out = set.Apply(MotionState{Positions: []float64{-7, 0}})
	assert.Equal(t, -1.0, out.Positions[0], "position clamps to min")

	out = set.Apply(MotionState{Positions: []float64{math.NaN(), math.NaN()}})
	assert.True(t, math.IsNaN(out.Positions[0]), "sentinel entries pass through")
}

func TestLimitSetByAxis(t *testing.T) {
	set := testLimitSet()
	assert.Equal(t, 2.0, set.ByAxis("lift").MaxVelocity)
	assert.False(t, set.ByAxis("no-such-axis").HasPositionLimits())
}

func TestLimitHolderUpdate(t *testing.T) {
	logger := logging.NewTestLogger(t)
	h := newLimitHolder(testLimitSet())

	results, ok := h.Update([]LimitUpdate{{Axis: "lift", MaxVelocity: floatPtr(5)}}, logger)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.True(t, results[0].Applied)
	assert.Equal(t, 5.0, h.Active().ByAxis("lift").MaxVelocity)
	assert.Equal(t, 2.0, h.Configured().ByAxis("lift").MaxVelocity, "configured limits never change")

	// unspecified fields are untouched
	assert.Equal(t, 1.0, h.Active().ByAxis("lift").MaxPosition)
}

// TestLimitHolderResetRestoresConfigured checks that a NaN request
// restores the configured value, not the previously active one.
func TestLimitHolderResetRestoresConfigured(t *testing.T) {
	logger := logging.NewTestLogger(t)
	h := newLimitHolder(testLimitSet())

	_, ok := h.Update([]LimitUpdate{{Axis: "lift", MaxVelocity: floatPtr(5)}}, logger)
	require.True(t, ok)
	_, ok = h.Update([]LimitUpdate{{Axis: "lift", MaxVelocity: floatPtr(7)}}, logger)
	require.True(t, ok)

	nan := math.NaN()
	_, ok = h.Update([]LimitUpdate{{Axis: "lift", MaxVelocity: &nan}}, logger)
	require.True(t, ok)
	assert.Equal(t, 2.0, h.Active().ByAxis("lift").MaxVelocity)
}

func TestLimitHolderUpdateIdempotent(t *testing.T) {
	logger := logging.NewTestLogger(t)
	h := newLimitHolder(testLimitSet())

	update := []LimitUpdate{{Axis: "lift", MaxPosition: floatPtr(3), MaxVelocity: floatPtr(4)}}
	_, ok := h.Update(update, logger)
	require.True(t, ok)
	first := h.Active().ByAxis("lift")
	_, ok = h.Update(update, logger)
	require.True(t, ok)
	second := h.Active().ByAxis("lift")
	assert.True(t, limitsEqual(first, second), "expected %+v, got %+v", first, second)
}

// TestLimitHolderUnknownAxis checks that a bad entry is rejected on its
// own while the rest of the batch still applies.
func TestLimitHolderUnknownAxis(t *testing.T) {
	logger := logging.NewTestLogger(t)
	h := newLimitHolder(testLimitSet())

	results, ok := h.Update([]LimitUpdate{
		{Axis: "elbow", MaxVelocity: floatPtr(9)},
		{Axis: "lift", MaxVelocity: floatPtr(9)},
	}, logger)
	assert.False(t, ok)
	require.Len(t, results, 2)
	assert.False(t, results[0].Applied)
	assert.Equal(t, "unknown axis", results[0].Reason)
	assert.True(t, results[1].Applied)
	assert.Equal(t, 9.0, h.Active().ByAxis("lift").MaxVelocity)
}

// TestLimitHolderSnapshotIsolation checks that a snapshot taken before
// an update keeps observing the old values.
func TestLimitHolderSnapshotIsolation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	h := newLimitHolder(testLimitSet())

	before := h.Active()
	_, ok := h.Update([]LimitUpdate{{Axis: "lift", MaxVelocity: floatPtr(9)}}, logger)
	require.True(t, ok)

	assert.Equal(t, 2.0, before.ByAxis("lift").MaxVelocity)
	assert.Equal(t, 9.0, h.Active().ByAxis("lift").MaxVelocity)
}
