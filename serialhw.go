package cartesianmotion

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"
)

// SerialBusConfig configures the serial hardware adapter.
type SerialBusConfig struct {
	Port     string        `json:"port"`
	Baudrate int           `json:"baudrate,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

func (cfg *SerialBusConfig) validate() error {
	if cfg.Port == "" {
		return errors.New("serial port must be specified")
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = 1000000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	return nil
}

// Serial frame layout: two header bytes, axis index, opcode, four value
// bytes (little-endian float32 bits), checksum over axis..value.
const (
	serialHeader byte = 0xFF

	opWritePosition byte = 0x01
	opWriteVelocity byte = 0x02
	opReadPosition  byte = 0x03
)

// SerialBus drives per-axis actuators over a framed serial protocol.
// It implements both the command and the state interface: positions
// can be read back at activation to seed the controller.
type SerialBus struct {
	port   serial.Port
	dof    int
	logger logging.Logger

	mu   sync.Mutex
	last MotionState
}

// NewSerialBus opens the port.
func NewSerialBus(cfg SerialBusConfig, dof int, logger logging.Logger) (*SerialBus, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baudrate})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", cfg.Port)
	}
	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "failed to set serial read timeout")
	}
	logger.Infof("serial bus on %s at %d baud", cfg.Port, cfg.Baudrate)
	return &SerialBus{port: port, dof: dof, logger: logger, last: NewMotionState(dof)}, nil
}

func (b *SerialBus) Capabilities() CommandCapabilities {
	return CommandCapabilities{Position: true, Velocity: true}
}

func (b *SerialBus) Write(cmd MotionState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.dof; i++ {
		if err := b.writeValue(i, opWritePosition, channelValue(cmd.Positions, i)); err != nil {
			return err
		}
		if err := b.writeValue(i, opWriteVelocity, channelValue(cmd.Velocities, i)); err != nil {
			return err
		}
	}
	b.last = cmd.Copy()
	return nil
}

func (b *SerialBus) writeValue(axis int, op byte, value float64) error {
	frame := make([]byte, 9)
	frame[0], frame[1] = serialHeader, serialHeader
	frame[2] = byte(axis)
	frame[3] = op
	binary.LittleEndian.PutUint32(frame[4:8], math.Float32bits(float32(value)))
	frame[8] = checksum(frame[2:8])
	if _, err := b.port.Write(frame); err != nil {
		return errors.Wrapf(err, "failed to write axis %d frame", axis)
	}
	return nil
}

func (b *SerialBus) Read() MotionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last.Copy()
}

func (b *SerialBus) Reset() {
	if err := b.Write(NewMotionState(b.dof)); err != nil {
		b.logger.Warnw("failed to write sentinel frames on reset", "error", err)
	}
}

// ReadPositions polls each axis for its present position.
func (b *SerialBus) ReadPositions(ctx context.Context) ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	positions := make([]float64, b.dof)
	for i := 0; i < b.dof; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.writeValue(i, opReadPosition, 0); err != nil {
			return nil, err
		}
		value, err := b.readResponse(i)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read position of axis %d", i)
		}
		positions[i] = value
	}
	return positions, nil
}

// readResponse expects a 7-byte reply: axis, opcode, value, checksum.
func (b *SerialBus) readResponse(axis int) (float64, error) {
	buf := make([]byte, 7)
	if _, err := io.ReadFull(b.port, buf); err != nil {
		return 0, err
	}
	if buf[0] != byte(axis) || buf[1] != opReadPosition {
		return 0, errors.Errorf("unexpected response header % X", buf[:2])
	}
	if checksum(buf[:6]) != buf[6] {
		return 0, errors.New("response checksum mismatch")
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[2:6]))), nil
}

// Close closes the port.
func (b *SerialBus) Close() error {
	return b.port.Close()
}

func checksum(data []byte) byte {
	var sum byte
	for _, v := range data {
		sum += v
	}
	return ^sum
}
