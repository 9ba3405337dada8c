package adam

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/goburrow/modbus"
)

// Module layout of the ADAM-6050 in counter mode.
const (
	// ChannelCount is the number of digital input channels.
	ChannelCount = 12

	// registersPerChannel is two 16-bit words per 32-bit counter, low word first.
	registersPerChannel = 2

	counterRegisterStart = 0
	discreteInputStart   = 0
	counterRegisterCount = ChannelCount * registersPerChannel
	discreteInputCount   = ChannelCount

	defaultPort    = 502
	defaultUnitID  = 1
	defaultTimeout = 5 * time.Second
)

// Mode selects how a channel is read.
type Mode string

const (
	// ModeCounter reconstructs a 32-bit counter from two input registers.
	ModeCounter Mode = "counter"

	// ModeDiscrete reads the channel's discrete input as presence.
	ModeDiscrete Mode = "discrete"
)

// Channel maps one module channel to a machine.
type Channel struct {
	Index     int
	MachineID string
	Name      string
	Mode      Mode
}

// DefaultChannels returns the shop floor channel map. Channels 7 and 10
// are unwired.
func DefaultChannels() []Channel {
	ids := map[int]string{
		0: "SR-22", 1: "SB-16", 2: "BT-38", 3: "K-162", 4: "K-163",
		5: "L-20", 6: "K-16", 8: "SR-20", 9: "SR-32", 11: "SR-24",
	}
	out := make([]Channel, 0, len(ids))
	for i := 0; i < ChannelCount; i++ {
		if id, ok := ids[i]; ok {
			out = append(out, Channel{Index: i, MachineID: id, Name: id, Mode: ModeCounter})
		}
	}
	return out
}

// Config holds the module address and channel map.
type Config struct {
	Host string
	Port int

	// UnitID is the Modbus slave id. Default: 1.
	UnitID byte

	// Timeout bounds the dial and each read. Default: 5 seconds.
	Timeout time.Duration

	// Channels lists the mapped channels. Unlisted channels are skipped.
	Channels []Channel
}

// Address returns the host:port dial address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CounterReading is one channel's value from a single poll.
type CounterReading struct {
	Channel     int       `json:"channel"`
	MachineID   string    `json:"machineId"`
	MachineName string    `json:"machineName"`
	Mode        Mode      `json:"mode"`
	Count       uint64    `json:"count"`
	Present     bool      `json:"present"`
	Timestamp   time.Time `json:"timestamp"`
}

// session is one open Modbus transport.
type session interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	Close() error
}

type dialFunc func(ctx context.Context, cfg Config) (session, error)

// tcpSession adapts a goburrow handler/client pair.
type tcpSession struct {
	modbus.Client
	handler *modbus.TCPClientHandler
}

func (s *tcpSession) Close() error {
	return s.handler.Close()
}

func dialTCP(ctx context.Context, cfg Config) (session, error) {
	handler := modbus.NewTCPClientHandler(cfg.Address())
	handler.Timeout = cfg.Timeout
	handler.SlaveId = cfg.UnitID
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining > 0 && remaining < handler.Timeout {
			handler.Timeout = remaining
		}
	}

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Address(), err)
	}
	return &tcpSession{Client: modbus.NewClient(handler), handler: handler}, nil
}

// Reader polls an ADAM-6050 over Modbus TCP.
//
// Thread Safety:
//   - ReadCounters must not be called concurrently for the same module.
//     Use one Poller per module.
type Reader struct {
	cfg  Config
	dial dialFunc
}

// NewReader creates a reader. Zero config values take defaults and an
// empty channel map uses DefaultChannels.
func NewReader(cfg Config) (*Reader, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.UnitID == 0 {
		cfg.UnitID = defaultUnitID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultChannels()
	}
	for _, ch := range cfg.Channels {
		if ch.Index < 0 || ch.Index >= ChannelCount {
			return nil, fmt.Errorf("%w: channel %d out of range", ErrInvalidConfig, ch.Index)
		}
		if ch.Mode != ModeCounter && ch.Mode != ModeDiscrete {
			return nil, fmt.Errorf("%w: channel %d has mode %q", ErrInvalidConfig, ch.Index, ch.Mode)
		}
	}
	return &Reader{cfg: cfg, dial: dialTCP}, nil
}

// Channels returns the configured channel map.
func (r *Reader) Channels() []Channel {
	out := make([]Channel, len(r.cfg.Channels))
	copy(out, r.cfg.Channels)
	return out
}

// Address returns the module address.
func (r *Reader) Address() string {
	return r.cfg.Address()
}

// ReadCounters performs one poll: open a session, read the counter
// registers and discrete inputs, close the session.
//
// Any transport or decode failure fails the whole poll. There is no
// internal retry; the caller polls again on its own schedule.
//
// Returns:
//   - []CounterReading: One reading per mapped channel, in channel order
//   - error: Wrapping ErrConnectionFailed, ErrReadFailed or ErrMalformedResponse
func (r *Reader) ReadCounters(ctx context.Context) ([]CounterReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}

	sess, err := r.dial(ctx, r.cfg)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	regData, err := sess.ReadInputRegisters(counterRegisterStart, counterRegisterCount)
	if err != nil {
		return nil, fmt.Errorf("%w: input registers: %w", ErrReadFailed, err)
	}
	regs, err := decodeRegisters(regData, counterRegisterCount)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}

	bitData, err := sess.ReadDiscreteInputs(discreteInputStart, discreteInputCount)
	if err != nil {
		return nil, fmt.Errorf("%w: discrete inputs: %w", ErrReadFailed, err)
	}
	bits, err := decodeBits(bitData, discreteInputCount)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	readings := make([]CounterReading, 0, len(r.cfg.Channels))
	for _, ch := range r.cfg.Channels {
		if ch.MachineID == "" {
			continue
		}
		reading := CounterReading{
			Channel:     ch.Index,
			MachineID:   ch.MachineID,
			MachineName: ch.Name,
			Mode:        ch.Mode,
			Timestamp:   now,
		}
		switch ch.Mode {
		case ModeDiscrete:
			reading.Present = bits[ch.Index]
			if reading.Present {
				reading.Count = 1
			}
		default:
			reading.Count = uint64(WideValue(regs[ch.Index*2], regs[ch.Index*2+1]))
			reading.Present = true
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

// TestConnection opens and closes a session without reading.
func (r *Reader) TestConnection(ctx context.Context) error {
	sess, err := r.dial(ctx, r.cfg)
	if err != nil {
		return err
	}
	return sess.Close()
}

// WideValue joins two 16-bit registers, low word first, into one counter.
func WideValue(low, high uint16) uint32 {
	return uint32(low) + uint32(high)*65536
}

// decodeRegisters splits big-endian register bytes into words.
func decodeRegisters(data []byte, quantity int) ([]uint16, error) {
	if len(data) != quantity*2 {
		return nil, fmt.Errorf("%w: got %d register bytes, want %d", ErrMalformedResponse, len(data), quantity*2)
	}
	regs := make([]uint16, quantity)
	for i := range regs {
		regs[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return regs, nil
}

// decodeBits unpacks discrete inputs, least significant bit first.
func decodeBits(data []byte, quantity int) ([]bool, error) {
	want := (quantity + 7) / 8
	if len(data) != want {
		return nil, fmt.Errorf("%w: got %d discrete bytes, want %d", ErrMalformedResponse, len(data), want)
	}
	bits := make([]bool, quantity)
	for i := range bits {
		bits[i] = data[i/8]&(1<<(uint(i)%8)) != 0
	}
	return bits, nil
}
