package cartesianmotion

import (
	"sync/atomic"
	"time"
)

// OperatingMode selects the controller's speed regime. Transitions
// happen only on explicit external request, never from the control
// tick.
type OperatingMode int32

const (
	// ModeNormal commands references at full magnitude.
	ModeNormal OperatingMode = iota
	// ModeReduced scales references down by the configured divisor,
	// once on acceptance and once more at command write.
	ModeReduced
)

func (m OperatingMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeReduced:
		return "reduced"
	default:
		return "unknown"
	}
}

// modeState is the tick-visible mode flag. Set from the non-real-time
// context, read every tick.
type modeState struct {
	v atomic.Int32
}

func (m *modeState) Set(mode OperatingMode) { m.v.Store(int32(mode)) }
func (m *modeState) Get() OperatingMode     { return OperatingMode(m.v.Load()) }

// referenceFresh reports whether a reference stamped at stamp is still
// usable at now. Staleness is recomputed every tick, never latched. A
// timeout of exactly zero means "never stale".
func referenceFresh(stamp, now time.Time, timeout time.Duration) bool {
	if timeout == 0 {
		return true
	}
	return now.Sub(stamp) <= timeout
}
