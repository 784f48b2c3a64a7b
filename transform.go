package cartesianmotion

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"
)

// RigidTransform maps points and free vectors from a source frame into
// a target frame: translation plus unit-quaternion rotation.
type RigidTransform struct {
	Translation r3.Vector
	Rotation    quat.Number
}

// IdentityTransform returns the transform that maps a frame onto itself.
func IdentityTransform() RigidTransform {
	return RigidTransform{Rotation: quat.Number{Real: 1}}
}

// Apply transforms a point: rotate, then translate.
func (t RigidTransform) Apply(p r3.Vector) r3.Vector {
	return rotateVector(t.Rotation, p).Add(t.Translation)
}

// ApplyToFreeVector rotates a velocity or acceleration. Free vectors
// have no origin, so translation does not apply.
func (t RigidTransform) ApplyToFreeVector(v r3.Vector) r3.Vector {
	return rotateVector(t.Rotation, v)
}

// Compose applies the transform's rotation to an orientation.
func (t RigidTransform) Compose(q quat.Number) quat.Number {
	return quat.Mul(t.Rotation, q)
}

func rotateVector(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// rpyToQuaternion converts roll/pitch/yaw angles to a unit quaternion.
// Orientation is carried as three independent angles everywhere else,
// but composition with a transform goes through quaternions so that
// gimbal-lock error cannot accumulate.
func rpyToQuaternion(roll, pitch, yaw float64) quat.Number {
	ea := spatialmath.EulerAngles{Roll: roll, Pitch: pitch, Yaw: yaw}
	return ea.Quaternion()
}

func quaternionToRPY(q quat.Number) (roll, pitch, yaw float64) {
	ea := spatialmath.QuatToEulerAngles(q)
	return ea.Roll, ea.Pitch, ea.Yaw
}

// TransformLookup resolves the rigid transform mapping sourceFrame into
// targetFrame at the given time. Lookups may fail transiently, e.g.
// when time-synchronized data is not yet available.
type TransformLookup interface {
	Lookup(targetFrame, sourceFrame string, at time.Time) (RigidTransform, error)
}

// TransformCache wraps a TransformLookup for one fixed frame pair and
// keeps the last successfully resolved transform. A failed lookup is
// recoverable: the cached transform is returned and the condition is
// logged, never propagated into the control tick.
type TransformCache struct {
	lookup TransformLookup
	target string
	source string
	logger logging.Logger
	last   atomic.Pointer[RigidTransform]
}

func NewTransformCache(lookup TransformLookup, targetFrame, sourceFrame string, logger logging.Logger) *TransformCache {
	c := &TransformCache{lookup: lookup, target: targetFrame, source: sourceFrame, logger: logger}
	id := IdentityTransform()
	c.last.Store(&id)
	return c
}

// Resolve looks up the transform at the given time, updating the cache
// on success and falling back to the last good transform on failure.
func (c *TransformCache) Resolve(at time.Time) RigidTransform {
	tr, err := c.lookup.Lookup(c.target, c.source, at)
	if err != nil {
		c.logger.Warnw("transform lookup failed, using last resolved transform",
			"target", c.target, "source", c.source, "error", err)
		return *c.last.Load()
	}
	stored := tr
	c.last.Store(&stored)
	return tr
}

// Current returns the cached transform without a new lookup.
func (c *TransformCache) Current() RigidTransform {
	return *c.last.Load()
}

// transformState converts a 6-axis state between frames. Position gets
// rotation plus translation; orientation angles are composed through
// quaternions; velocities and accelerations are rotated only. Sentinel
// components are substituted with zero before the transform is applied
// (a transform of "no value" is not "no value") and restored afterward
// when the transformed magnitude stays below eps, so the downstream
// sampler does not mistake transformed noise for an intentional
// near-zero command.
func transformState(t RigidTransform, s MotionState, eps float64) MotionState {
	out := s.Copy()

	if len(out.Positions) == 6 {
		wasNaN := sanitize(out.Positions)
		p := t.Apply(r3.Vector{X: out.Positions[0], Y: out.Positions[1], Z: out.Positions[2]})
		q := t.Compose(rpyToQuaternion(out.Positions[3], out.Positions[4], out.Positions[5]))
		roll, pitch, yaw := quaternionToRPY(q)
		out.Positions[0], out.Positions[1], out.Positions[2] = p.X, p.Y, p.Z
		out.Positions[3], out.Positions[4], out.Positions[5] = roll, pitch, yaw
		restoreSentinels(out.Positions, wasNaN, eps)
	}
	rotateChannel(t, out.Velocities, eps)
	rotateChannel(t, out.Accelerations, eps)
	return out
}

func rotateChannel(t RigidTransform, ch []float64, eps float64) {
	if len(ch) != 6 {
		return
	}
	wasNaN := sanitize(ch)
	lin := t.ApplyToFreeVector(r3.Vector{X: ch[0], Y: ch[1], Z: ch[2]})
	ang := t.ApplyToFreeVector(r3.Vector{X: ch[3], Y: ch[4], Z: ch[5]})
	ch[0], ch[1], ch[2] = lin.X, lin.Y, lin.Z
	ch[3], ch[4], ch[5] = ang.X, ang.Y, ang.Z
	restoreSentinels(ch, wasNaN, eps)
}

func sanitize(ch []float64) []bool {
	wasNaN := make([]bool, len(ch))
	for i, v := range ch {
		if math.IsNaN(v) {
			wasNaN[i] = true
			ch[i] = 0
		}
	}
	return wasNaN
}

func restoreSentinels(ch []float64, wasNaN []bool, eps float64) {
	for i := range ch {
		if wasNaN[i] && math.Abs(ch[i]) < eps {
			ch[i] = math.NaN()
		}
	}
}

// feedbackToWorld builds a 6-axis world-frame MotionState from measured
// feedback. The measured twist arrives in the body frame and is rotated
// into the world frame using the measured orientation.
func feedbackToWorld(fb *Feedback) MotionState {
	roll, pitch, yaw := quaternionToRPY(fb.Orientation)
	lin := rotateVector(fb.Orientation, fb.Twist.Linear)
	ang := rotateVector(fb.Orientation, fb.Twist.Angular)
	return MotionState{
		Positions:  []float64{fb.Position.X, fb.Position.Y, fb.Position.Z, roll, pitch, yaw},
		Velocities: []float64{lin.X, lin.Y, lin.Z, ang.X, ang.Y, ang.Z},
	}
}
