package cartesianmotion

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// Reference is an externally supplied motion reference. For a 6-axis
// group the component layout is [x y z roll pitch yaw]; for a 1-axis
// group it is a single scalar displacement. NaN components mean "no
// command for this axis".
type Reference struct {
	// Frame names the coordinate frame the components are expressed in.
	// Empty means the controller's world frame.
	Frame string

	// Stamp is the origin time of the reference; staleness is judged
	// against it.
	Stamp time.Time

	Positions  []float64
	Velocities []float64

	// Duration is a hint for how long reaching the reference should
	// take. Zero lets the controller substitute its default.
	Duration time.Duration
}

func (r *Reference) validate(dof int) error {
	if len(r.Positions) != dof {
		return errors.Errorf("reference has %d position components, expected %d", len(r.Positions), dof)
	}
	if r.Velocities != nil && len(r.Velocities) != dof {
		return errors.Errorf("reference has %d velocity components, expected %d", len(r.Velocities), dof)
	}
	return nil
}

// state converts the reference payload into a MotionState.
func (r *Reference) state(dof int) MotionState {
	s := MotionState{Positions: copySlice(r.Positions)}
	if r.Velocities != nil {
		s.Velocities = copySlice(r.Velocities)
	} else {
		s.Velocities = nanSlice(dof)
	}
	return s
}

// Twist is a measured velocity: linear and angular components.
type Twist struct {
	Linear  r3.Vector
	Angular r3.Vector
}

// Feedback is a measured pose plus body-frame twist from an external
// sensor. The controller rotates the twist into the world frame before
// use. A nil *Feedback models "no feedback received yet", which is
// distinct from zero feedback.
type Feedback struct {
	Stamp       time.Time
	Position    r3.Vector
	Orientation quat.Number
	Twist       Twist
}
