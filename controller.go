package cartesianmotion

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// CommandCapabilities reports which command channels the hardware
// exposes.
type CommandCapabilities struct {
	Position     bool
	Velocity     bool
	Acceleration bool
}

// CommandInterface is the hardware command boundary. Write is called
// once per tick from the control goroutine and must not block on
// unbounded work.
type CommandInterface interface {
	Capabilities() CommandCapabilities
	// Write sets the per-axis command values for the channels the
	// hardware supports.
	Write(MotionState) error
	// Read returns the last written command values, NaN where a
	// channel was never written. Used to restore continuity across a
	// controller restart.
	Read() MotionState
	// Reset returns every command channel to the NaN sentinel.
	Reset()
}

// StateInterface reads raw per-axis positions from the hardware. Used
// at activation to seed current = desired and avoid a startup jump.
type StateInterface interface {
	ReadPositions(ctx context.Context) ([]float64, error)
}

// Deps are the external collaborators injected into a controller.
type Deps struct {
	// Sampler is the trajectory interpolation engine. A LinearSampler
	// is substituted when nil.
	Sampler TrajectorySampler
	// Transforms resolves world/command frame transforms. Nil disables
	// the frame pipeline.
	Transforms TransformLookup
	// Command is required.
	Command CommandInterface
	// State seeds the desired state at activation. Optional when
	// feedback is already flowing at activation time.
	State StateInterface
	// Status receives per-tick snapshots. Optional.
	Status StatusPublisher
}

// Controller converts external references into per-axis commands at a
// fixed control rate, enforcing the active limits and the staleness
// rule. All cross-context exchange goes through hand-off cells and
// copy-on-write snapshots; the tick never takes a lock.
type Controller struct {
	logger logging.Logger
	cfg    *Config
	deps   Deps
	dof    int

	refBox     *Handoff[*Reference]
	fbBox      *Handoff[*Feedback]
	limits     *limitHolder
	mode       modeState
	refTimeout atomic.Int64 // nanoseconds, runtime mutable

	worldToCommand *TransformCache
	commandToWorld *TransformCache

	// control-goroutine state, touched only from Tick and Activate
	desired       MotionState
	lastCommanded MotionState
	activeRef     *Reference
	refWorldState MotionState
	refLocalState MotionState

	activated atomic.Bool

	loopMu                  sync.Mutex
	loopCancel              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewController builds a controller from a validated configuration and
// its collaborators.
func NewController(cfg *Config, deps Deps, logger logging.Logger) (*Controller, error) {
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	if deps.Command == nil {
		return nil, errors.New("a command interface is required")
	}
	if deps.Sampler == nil {
		deps.Sampler = NewLinearSampler()
	}
	if cfg.LocalFrameMode && deps.Transforms == nil {
		return nil, errors.New("local_frame_mode requires a transform lookup")
	}

	c := &Controller{
		logger: logger,
		cfg:    cfg,
		deps:   deps,
		dof:    cfg.DOF(),
		refBox: NewHandoff[*Reference](),
		fbBox:  NewHandoff[*Feedback](),
		limits: newLimitHolder(cfg.limitSet()),
	}
	c.refTimeout.Store(int64(cfg.ReferenceTimeout))
	if deps.Transforms != nil && c.dof == 6 {
		c.worldToCommand = NewTransformCache(deps.Transforms, cfg.CommandFrame, cfg.WorldFrame, logger)
		c.commandToWorld = NewTransformCache(deps.Transforms, cfg.WorldFrame, cfg.CommandFrame, logger)
	}
	c.resetTickState()

	logger.Infof("controller %q configured for axes %v at %.1f Hz", cfg.ControllerType, cfg.Axes, cfg.UpdateRateHz)
	return c, nil
}

func (c *Controller) resetTickState() {
	c.desired = NewMotionState(c.dof)
	c.lastCommanded = NewMotionState(c.dof)
	c.activeRef = nil
	c.refWorldState = NewMotionState(c.dof)
	c.refLocalState = NewMotionState(c.dof)
}

// Activate seeds the desired state from hardware so the first tick
// commands the current position, and marks the controller running. A
// seeding failure is fatal for activation: the controller never enters
// a partially running state.
func (c *Controller) Activate(ctx context.Context) error {
	c.resetTickState()

	seed, err := c.readSeedPositions(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read initial hardware state")
	}
	c.desired.Positions = seed

	// A restart leaves the previous command on the interface; prefer it
	// over the measured state so the output stays continuous.
	if prev := c.deps.Command.Read(); prev.HasAnyValue() {
		for i, v := range prev.Positions {
			if i < len(c.desired.Positions) && !math.IsNaN(v) {
				c.desired.Positions[i] = v
			}
		}
	}
	c.lastCommanded = c.maskToCapabilities(c.desired)

	// hold the seeded pose until a reference arrives
	c.deps.Sampler.SetTarget(c.desired, c.desired, time.Now(), c.cfg.DefaultSegmentDuration)

	c.activated.Store(true)
	c.logger.Infow("controller activated", "seed", seed)
	return nil
}

func (c *Controller) readSeedPositions(ctx context.Context) ([]float64, error) {
	if c.deps.State != nil {
		positions, err := c.deps.State.ReadPositions(ctx)
		if err != nil {
			return nil, err
		}
		if len(positions) != c.dof {
			return nil, errors.Errorf("hardware reported %d positions, expected %d", len(positions), c.dof)
		}
		return copySlice(positions), nil
	}
	if fb := c.fbBox.Latest(); fb != nil {
		return c.currentFromFeedback(fb).Positions, nil
	}
	return nil, errors.New("no state interface and no feedback available")
}

// Deactivate stops the loop if running and returns the command
// interface to the sentinel state. The active limits survive
// deactivate/activate cycles.
func (c *Controller) Deactivate() {
	c.Stop()
	c.activated.Store(false)
	c.deps.Command.Reset()
	c.logger.Info("controller deactivated")
}

// Start runs the fixed-period control loop until the context is
// cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	if !c.activated.Load() {
		return errors.New("controller must be activated before starting")
	}
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.loopCancel != nil {
		return errors.New("control loop already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.loopCancel = cancel

	period := c.cfg.period()
	c.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		for {
			if !goutils.SelectContextOrWait(loopCtx, period) {
				return
			}
			if err := c.Tick(time.Now()); err != nil {
				c.logger.Errorw("control tick failed", "error", err)
			}
		}
	}, c.activeBackgroundWorkers.Done)
	return nil
}

// Stop halts the control loop. Idempotent.
func (c *Controller) Stop() {
	c.loopMu.Lock()
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	c.loopMu.Unlock()
	c.activeBackgroundWorkers.Wait()
}

// SubmitReference hands a reference to the control loop. Never blocks;
// if several references arrive between ticks only the latest is used.
// Malformed references are rejected before publication.
func (c *Controller) SubmitReference(ref *Reference) error {
	if err := ref.validate(c.dof); err != nil {
		c.logger.Warnw("rejecting malformed reference", "error", err)
		return err
	}
	if ref.Stamp.IsZero() {
		ref.Stamp = time.Now()
	}
	c.refBox.Publish(ref)
	return nil
}

// SubmitFeedback hands a feedback sample to the control loop.
func (c *Controller) SubmitFeedback(fb *Feedback) {
	c.fbBox.Publish(fb)
}

// SetMode switches the operating mode. Takes effect on the next tick.
func (c *Controller) SetMode(mode OperatingMode) {
	c.mode.Set(mode)
	c.logger.Infow("operating mode changed", "mode", mode.String())
}

// Mode returns the current operating mode.
func (c *Controller) Mode() OperatingMode { return c.mode.Get() }

// SetReferenceTimeout changes the staleness bound at runtime.
func (c *Controller) SetReferenceTimeout(d time.Duration) {
	c.refTimeout.Store(int64(d))
}

// ReferenceTimeout returns the current staleness bound.
func (c *Controller) ReferenceTimeout() time.Duration {
	return time.Duration(c.refTimeout.Load())
}

// UpdateLimits applies a batch of runtime limit updates. Valid entries
// apply even when others are rejected; the boolean is false if any
// entry failed.
func (c *Controller) UpdateLimits(updates []LimitUpdate) ([]LimitUpdateResult, bool) {
	return c.limits.Update(updates, c.logger)
}

// ActiveLimits returns the current active-limit snapshot.
func (c *Controller) ActiveLimits() *LimitSet { return c.limits.Active() }

// ConfiguredLimits returns the immutable startup limits.
func (c *Controller) ConfiguredLimits() *LimitSet { return c.limits.Configured() }

// SetStatusPublisher wires the status sink. Must be called before
// Start; the tick reads the publisher without synchronization.
func (c *Controller) SetStatusPublisher(p StatusPublisher) {
	c.deps.Status = p
}

// Close stops the loop and releases the controller.
func (c *Controller) Close(context.Context) error {
	c.Deactivate()
	return nil
}

// Tick executes one control period: pull feedback and reference,
// evaluate staleness, sample the trajectory, clamp, write to hardware
// and publish a status snapshot. Exported so host frameworks and tests
// can drive the loop deterministically.
func (c *Controller) Tick(now time.Time) error {
	if !c.activated.Load() {
		return errors.New("controller is not active")
	}

	status := &StatusSnapshot{Time: now, Axes: c.cfg.Axes, Mode: c.mode.Get()}

	fb := c.fbBox.Latest()
	if fb == nil {
		// degraded tick: no measured state yet, hold the last command
		c.logger.Debug("no feedback received yet, holding last command")
		c.holdOutputs(status)
		return nil
	}
	status.FeedbackValid = true
	current := c.currentFromFeedback(fb)

	ref := c.refBox.Latest()
	fresh := ref != nil && referenceFresh(ref.Stamp, now, c.ReferenceTimeout())
	status.ReferenceFresh = fresh

	if fresh && ref != c.activeRef {
		c.acceptReference(ref, now)
	}

	if sampled, ok := c.deps.Sampler.Sample(now); ok {
		c.desired = sampled
	}
	c.desired = c.limits.Active().Apply(c.desired)

	outWorld := c.desired.Copy()
	if status.Mode == ModeReduced {
		outWorld = outWorld.Scale(1 / c.cfg.ReducedModeDivisor)
	}
	outLocal := outWorld
	if c.pipelineActive() {
		outLocal = transformState(c.worldToCommand.Current(), outWorld, c.cfg.SentinelEpsilon)
	}

	cmd := outWorld
	if c.cfg.LocalFrameMode {
		cmd = outLocal
	}
	cmd = c.maskToCapabilities(cmd)
	if err := c.deps.Command.Write(cmd); err != nil {
		c.logger.Errorw("hardware command write failed", "error", err)
	} else {
		c.lastCommanded = cmd
	}

	status.ReferenceWorld = c.refWorldState
	status.ReferenceLocal = c.refLocalState
	status.Feedback = current
	status.TrackingError = trackingError(c.desired, current)
	status.OutputWorld = outWorld
	status.OutputLocal = outLocal
	c.publish(status)
	return nil
}

// holdOutputs re-writes the last command and reports the degraded tick.
func (c *Controller) holdOutputs(status *StatusSnapshot) {
	if err := c.deps.Command.Write(c.lastCommanded); err != nil {
		c.logger.Errorw("hardware command write failed while holding", "error", err)
	}
	status.ReferenceWorld = c.refWorldState
	status.ReferenceLocal = c.refLocalState
	status.Feedback = NewMotionState(c.dof)
	status.TrackingError = NewMotionState(c.dof)
	status.OutputWorld = c.lastCommanded
	status.OutputLocal = c.lastCommanded
	c.publish(status)
}

func (c *Controller) publish(status *StatusSnapshot) {
	if c.deps.Status != nil {
		c.deps.Status.PublishStatus(status)
	}
}

// acceptReference consumes a fresh reference: scales it for the
// operating mode, normalizes it into the world frame and hands the
// target to the sampler.
func (c *Controller) acceptReference(ref *Reference, now time.Time) {
	c.activeRef = ref

	state := ref.state(c.dof)
	if !state.HasAnyValue() {
		// sentinel reset message, nothing to command
		return
	}
	if c.mode.Get() == ModeReduced {
		state = state.Scale(1 / c.cfg.ReducedModeDivisor)
	}

	world, local := state, state
	if c.pipelineActive() {
		// refresh both directions while the non-RT data is current
		toWorld := c.commandToWorld.Resolve(now)
		toCommand := c.worldToCommand.Resolve(now)
		inWorld := ref.Frame == c.cfg.WorldFrame || (ref.Frame == "" && !c.cfg.LocalFrameMode)
		if inWorld {
			local = transformState(toCommand, state, c.cfg.SentinelEpsilon)
		} else {
			world = transformState(toWorld, state, c.cfg.SentinelEpsilon)
		}
	}
	c.refWorldState = world
	c.refLocalState = local

	duration := ref.Duration
	if duration == 0 {
		duration = c.cfg.DefaultSegmentDuration
	}
	c.deps.Sampler.SetTarget(c.desired, world, now, duration)
}

func (c *Controller) currentFromFeedback(fb *Feedback) MotionState {
	if c.dof == 6 {
		return feedbackToWorld(fb)
	}
	return MotionState{
		Positions:  []float64{fb.Position.X},
		Velocities: []float64{fb.Twist.Linear.X},
	}
}

func (c *Controller) pipelineActive() bool {
	return c.worldToCommand != nil
}

// maskToCapabilities drops command channels the hardware does not
// expose.
func (c *Controller) maskToCapabilities(cmd MotionState) MotionState {
	caps := c.deps.Command.Capabilities()
	out := cmd.Copy()
	if !caps.Position {
		out.Positions = nil
	}
	if !caps.Velocity {
		out.Velocities = nil
	}
	if !caps.Acceleration {
		out.Accelerations = nil
	}
	return out
}
