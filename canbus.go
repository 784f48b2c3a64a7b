package cartesianmotion

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
	"go.viam.com/rdk/logging"
)

// CANCommandConfig configures the CAN hardware command adapter.
type CANCommandConfig struct {
	// Interface is the socketcan interface name, e.g. "can0".
	Interface string `json:"interface"`
	// BaseID is the CAN ID of axis 0; axis i transmits on BaseID+i.
	BaseID uint32 `json:"base_id,omitempty"`
}

func (cfg *CANCommandConfig) validate() error {
	if cfg.Interface == "" {
		return errors.New("can interface must be specified")
	}
	if cfg.BaseID == 0 {
		cfg.BaseID = 0x200
	}
	return nil
}

// CANCommand writes per-axis position/velocity commands as CAN frames,
// one frame per axis: bytes 0..3 carry the position, bytes 4..7 the
// velocity, both as little-endian float32. NaN travels as float32 NaN
// and is the receiver's "no command" sentinel too.
type CANCommand struct {
	conn   net.Conn
	tx     *socketcan.Transmitter
	baseID uint32
	dof    int
	logger logging.Logger

	mu   sync.Mutex
	last MotionState
}

// NewCANCommand opens the socketcan interface.
func NewCANCommand(ctx context.Context, cfg CANCommandConfig, dof int, logger logging.Logger) (*CANCommand, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	conn, err := socketcan.DialContext(ctx, "can", cfg.Interface)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open CAN interface %s", cfg.Interface)
	}
	logger.Infof("CAN command adapter on %s, base ID 0x%X", cfg.Interface, cfg.BaseID)
	return &CANCommand{
		conn:   conn,
		tx:     socketcan.NewTransmitter(conn),
		baseID: cfg.BaseID,
		dof:    dof,
		logger: logger,
		last:   NewMotionState(dof),
	}, nil
}

func (c *CANCommand) Capabilities() CommandCapabilities {
	return CommandCapabilities{Position: true, Velocity: true}
}

func (c *CANCommand) Write(cmd MotionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < c.dof; i++ {
		frame := can.Frame{ID: c.baseID + uint32(i), Length: 8}
		binary.LittleEndian.PutUint32(frame.Data[0:4], math.Float32bits(float32(channelValue(cmd.Positions, i))))
		binary.LittleEndian.PutUint32(frame.Data[4:8], math.Float32bits(float32(channelValue(cmd.Velocities, i))))
		if err := c.tx.TransmitFrame(context.Background(), frame); err != nil {
			return errors.Wrapf(err, "failed to transmit command frame for axis %d", i)
		}
	}
	c.last = cmd.Copy()
	return nil
}

func (c *CANCommand) Read() MotionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last.Copy()
}

func (c *CANCommand) Reset() {
	if err := c.Write(NewMotionState(c.dof)); err != nil {
		c.logger.Warnw("failed to transmit sentinel frames on reset", "error", err)
	}
}

// Close shuts down the CAN connection.
func (c *CANCommand) Close() error {
	return c.conn.Close()
}

func channelValue(ch []float64, i int) float64 {
	if i < len(ch) {
		return ch[i]
	}
	return math.NaN()
}
