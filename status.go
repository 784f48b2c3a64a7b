package cartesianmotion

import "time"

// StatusSnapshot is the per-tick controller state report. World-frame
// and local-frame views are both populated when the frame pipeline is
// active; otherwise the local fields mirror the world fields.
type StatusSnapshot struct {
	Time time.Time     `json:"time"`
	Axes []string      `json:"axes"`
	Mode OperatingMode `json:"mode"`

	// ReferenceFresh is false when the tick held the previous command
	// because the latest reference aged out.
	ReferenceFresh bool `json:"reference_fresh"`
	// FeedbackValid is false until the first feedback message arrives.
	FeedbackValid bool `json:"feedback_valid"`

	ReferenceWorld MotionState `json:"reference_world"`
	ReferenceLocal MotionState `json:"reference_local"`
	Feedback       MotionState `json:"feedback"`
	TrackingError  MotionState `json:"tracking_error"`
	OutputWorld    MotionState `json:"output_world"`
	OutputLocal    MotionState `json:"output_local"`
}

// StatusPublisher receives the per-tick snapshot. Implementations must
// not block: a slow subscriber never stalls the control tick.
type StatusPublisher interface {
	PublishStatus(*StatusSnapshot)
}
