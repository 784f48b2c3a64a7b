package cartesianmotion

import (
	"encoding/json"
	"math"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/num/quat"
)

// MQTTConfig configures the pub/sub transport adapter.
type MQTTConfig struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
}

func (cfg *MQTTConfig) validate() error {
	if cfg.Broker == "" {
		return errors.New("mqtt broker must be specified")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cartesianmotion"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "cartesianmotion"
	}
	return nil
}

// MQTTTransport bridges the controller to an MQTT broker: references
// arrive on a best-effort and a reliable topic, feedback on a
// best-effort topic, limit updates and mode switches on reliable
// topics, and the status snapshot goes out best-effort. It also
// implements StatusPublisher.
type MQTTTransport struct {
	client mqtt.Client
	ctrl   *Controller
	prefix string
	logger logging.Logger
}

type referenceMessage struct {
	Frame      string    `json:"frame,omitempty"`
	Stamp      time.Time `json:"stamp,omitempty"`
	Positions  []float64 `json:"positions"`
	Velocities []float64 `json:"velocities,omitempty"`
	DurationMS float64   `json:"duration_ms,omitempty"`
}

type vectorMessage struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quaternionMessage struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type feedbackMessage struct {
	Stamp       time.Time         `json:"stamp,omitempty"`
	Position    vectorMessage     `json:"position"`
	Orientation quaternionMessage `json:"orientation"`
	Linear      vectorMessage     `json:"linear"`
	Angular     vectorMessage     `json:"angular"`
}

// limitUpdateEntry carries one axis update. JSON cannot encode the NaN
// reset sentinel, so fields to reset are listed by name instead.
type limitUpdateEntry struct {
	Axis            string   `json:"axis"`
	Reset           []string `json:"reset,omitempty"`
	MinPosition     *float64 `json:"min_position,omitempty"`
	MaxPosition     *float64 `json:"max_position,omitempty"`
	MaxVelocity     *float64 `json:"max_velocity,omitempty"`
	MaxAcceleration *float64 `json:"max_acceleration,omitempty"`
	MaxJerk         *float64 `json:"max_jerk,omitempty"`
	MaxEffort       *float64 `json:"max_effort,omitempty"`
}

type limitUpdateMessage struct {
	Updates []limitUpdateEntry `json:"updates"`
}

type limitUpdateResponse struct {
	OK      bool                `json:"ok"`
	Results []LimitUpdateResult `json:"results"`
}

// NewMQTTTransport connects to the broker and wires the subscriptions.
func NewMQTTTransport(cfg MQTTConfig, ctrl *Controller, logger logging.Logger) (*MQTTTransport, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	t := &MQTTTransport{ctrl: ctrl, prefix: cfg.TopicPrefix, logger: logger}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Infof("connected to MQTT broker %s", cfg.Broker)
		t.subscribe(client)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Warnw("MQTT connection lost", "error", err)
	})

	t.client = mqtt.NewClient(opts)
	if token := t.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "failed to connect to MQTT broker")
	}
	return t, nil
}

func (t *MQTTTransport) subscribe(client mqtt.Client) {
	subs := []struct {
		topic   string
		qos     byte
		handler mqtt.MessageHandler
	}{
		{t.prefix + "/reference", 0, t.handleReference},
		{t.prefix + "/reference_reliable", 1, t.handleReference},
		{t.prefix + "/feedback", 0, t.handleFeedback},
		{t.prefix + "/set_mode", 1, t.handleMode},
		{t.prefix + "/set_limits", 1, t.handleLimits},
	}
	for _, s := range subs {
		if token := client.Subscribe(s.topic, s.qos, s.handler); token.Wait() && token.Error() != nil {
			t.logger.Errorw("failed to subscribe", "topic", s.topic, "error", token.Error())
		}
	}
}

func (t *MQTTTransport) handleReference(_ mqtt.Client, msg mqtt.Message) {
	var rm referenceMessage
	if err := json.Unmarshal(msg.Payload(), &rm); err != nil {
		t.logger.Warnw("ignoring malformed reference message", "error", err)
		return
	}
	ref := &Reference{
		Frame:      rm.Frame,
		Stamp:      rm.Stamp,
		Positions:  rm.Positions,
		Velocities: rm.Velocities,
		Duration:   time.Duration(rm.DurationMS * float64(time.Millisecond)),
	}
	// SubmitReference logs rejections; nothing further to do here
	_ = t.ctrl.SubmitReference(ref)
}

func (t *MQTTTransport) handleFeedback(_ mqtt.Client, msg mqtt.Message) {
	var fm feedbackMessage
	if err := json.Unmarshal(msg.Payload(), &fm); err != nil {
		t.logger.Warnw("ignoring malformed feedback message", "error", err)
		return
	}
	stamp := fm.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	t.ctrl.SubmitFeedback(&Feedback{
		Stamp:       stamp,
		Position:    r3.Vector{X: fm.Position.X, Y: fm.Position.Y, Z: fm.Position.Z},
		Orientation: quat.Number{Real: fm.Orientation.W, Imag: fm.Orientation.X, Jmag: fm.Orientation.Y, Kmag: fm.Orientation.Z},
		Twist: Twist{
			Linear:  r3.Vector{X: fm.Linear.X, Y: fm.Linear.Y, Z: fm.Linear.Z},
			Angular: r3.Vector{X: fm.Angular.X, Y: fm.Angular.Y, Z: fm.Angular.Z},
		},
	})
}

func (t *MQTTTransport) handleMode(_ mqtt.Client, msg mqtt.Message) {
	switch string(msg.Payload()) {
	case "normal":
		t.ctrl.SetMode(ModeNormal)
	case "reduced":
		t.ctrl.SetMode(ModeReduced)
	default:
		t.logger.Warnw("ignoring unknown operating mode request", "payload", string(msg.Payload()))
	}
}

func (t *MQTTTransport) handleLimits(_ mqtt.Client, msg mqtt.Message) {
	var lm limitUpdateMessage
	if err := json.Unmarshal(msg.Payload(), &lm); err != nil {
		t.logger.Warnw("ignoring malformed limit update", "error", err)
		return
	}
	updates := make([]LimitUpdate, 0, len(lm.Updates))
	for _, e := range lm.Updates {
		updates = append(updates, e.toLimitUpdate())
	}
	results, ok := t.ctrl.UpdateLimits(updates)

	resp, err := json.Marshal(limitUpdateResponse{OK: ok, Results: results})
	if err != nil {
		t.logger.Errorw("failed to marshal limit update response", "error", err)
		return
	}
	t.client.Publish(t.prefix+"/set_limits/response", 1, false, resp)
}

func (e limitUpdateEntry) toLimitUpdate() LimitUpdate {
	u := LimitUpdate{
		Axis:            e.Axis,
		MinPosition:     e.MinPosition,
		MaxPosition:     e.MaxPosition,
		MaxVelocity:     e.MaxVelocity,
		MaxAcceleration: e.MaxAcceleration,
		MaxJerk:         e.MaxJerk,
		MaxEffort:       e.MaxEffort,
	}
	nan := math.NaN()
	for _, field := range e.Reset {
		switch field {
		case "min_position":
			u.MinPosition = &nan
		case "max_position":
			u.MaxPosition = &nan
		case "max_velocity":
			u.MaxVelocity = &nan
		case "max_acceleration":
			u.MaxAcceleration = &nan
		case "max_jerk":
			u.MaxJerk = &nan
		case "max_effort":
			u.MaxEffort = &nan
		}
	}
	return u
}

// PublishStatus sends the snapshot best-effort. The publish token is
// deliberately not waited on: a slow broker must not stall the tick.
func (t *MQTTTransport) PublishStatus(status *StatusSnapshot) {
	payload, err := json.Marshal(statusToWire(status))
	if err != nil {
		t.logger.Errorw("failed to marshal status snapshot", "error", err)
		return
	}
	t.client.Publish(t.prefix+"/state", 0, false, payload)
}

// statusWire mirrors StatusSnapshot with NaN entries replaced by nulls,
// since JSON has no NaN literal.
type statusWire struct {
	Time           time.Time    `json:"time"`
	Axes           []string     `json:"axes"`
	Mode           string       `json:"mode"`
	ReferenceFresh bool         `json:"reference_fresh"`
	FeedbackValid  bool         `json:"feedback_valid"`
	ReferenceWorld wireChannels `json:"reference_world"`
	ReferenceLocal wireChannels `json:"reference_local"`
	Feedback       wireChannels `json:"feedback"`
	TrackingError  wireChannels `json:"tracking_error"`
	OutputWorld    wireChannels `json:"output_world"`
	OutputLocal    wireChannels `json:"output_local"`
}

type wireChannels struct {
	Positions     []*float64 `json:"positions,omitempty"`
	Velocities    []*float64 `json:"velocities,omitempty"`
	Accelerations []*float64 `json:"accelerations,omitempty"`
}

func statusToWire(s *StatusSnapshot) statusWire {
	return statusWire{
		Time:           s.Time,
		Axes:           s.Axes,
		Mode:           s.Mode.String(),
		ReferenceFresh: s.ReferenceFresh,
		FeedbackValid:  s.FeedbackValid,
		ReferenceWorld: stateToWire(s.ReferenceWorld),
		ReferenceLocal: stateToWire(s.ReferenceLocal),
		Feedback:       stateToWire(s.Feedback),
		TrackingError:  stateToWire(s.TrackingError),
		OutputWorld:    stateToWire(s.OutputWorld),
		OutputLocal:    stateToWire(s.OutputLocal),
	}
}

func stateToWire(m MotionState) wireChannels {
	conv := func(ch []float64) []*float64 {
		if ch == nil {
			return nil
		}
		out := make([]*float64, len(ch))
		for i, v := range ch {
			if !math.IsNaN(v) {
				value := v
				out[i] = &value
			}
		}
		return out
	}
	return wireChannels{
		Positions:     conv(m.Positions),
		Velocities:    conv(m.Velocities),
		Accelerations: conv(m.Accelerations),
	}
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
}
