package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	mb "github.com/goburrow/modbus"

	"hgu-gateway/internal/utils"
)

// Modbus tables, addressed as the namespace of a point: ns=4;i=10 is
// holding register 10.
const (
	TableCoil            uint16 = 0
	TableDiscreteInput   uint16 = 1
	TableInputRegister   uint16 = 3
	TableHoldingRegister uint16 = 4
)

// ModbusOptions configures a ModbusTransport.
type ModbusOptions struct {
	Protocol  string // modbus-tcp | modbus-rtu
	Endpoint  string // host:port, or the serial device for RTU
	SlaveID   uint8
	Timeout   time.Duration
	ByteOrder string // ABCD (default), DCBA, BADC, CDAB
	Serial    utils.SerialParams
}

// handlerWithConn embeds mb.ClientHandler and exposes Connect/Close used for lifecycle.
type handlerWithConn interface {
	mb.ClientHandler
	Connect() error
	Close() error
}

// ModbusTransport emulates a subscription on top of Modbus polling: every
// subscription interval the subscribed points are read and a notification
// is produced for each value that changed.
type ModbusTransport struct {
	opts    ModbusOptions
	handler handlerWithConn
	client  mb.Client

	items    []Item
	last     map[uint32]any
	interval time.Duration
	nextPoll time.Time
	now      func() time.Time
}

func NewModbusTransport(opts ModbusOptions) *ModbusTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.SlaveID == 0 {
		opts.SlaveID = 1
	}
	return &ModbusTransport{opts: opts, now: time.Now}
}

// modbusError marks failures the session may ride out.
type modbusError struct {
	err       error
	retriable bool
}

func (e *modbusError) Error() string   { return e.err.Error() }
func (e *modbusError) Unwrap() error   { return e.err }
func (e *modbusError) Retriable() bool { return e.retriable }

// classify keeps protocol exceptions retriable and treats I/O failures as fatal
// for the current connection.
func classify(err error) error {
	var me *mb.ModbusError
	return &modbusError{err: err, retriable: errors.As(err, &me)}
}

// newHandler creates and configures a handler for TCP or RTU based on config.
func (t *ModbusTransport) newHandler() (handlerWithConn, error) {
	endpoint := t.opts.Endpoint
	if _, rest, ok := strings.Cut(endpoint, "://"); ok {
		endpoint = rest
	}
	switch strings.ToLower(strings.TrimSpace(t.opts.Protocol)) {
	case "modbus-tcp", "tcp":
		h := mb.NewTCPClientHandler(endpoint)
		h.Timeout = t.opts.Timeout
		h.SlaveId = t.opts.SlaveID
		return h, nil
	case "modbus-rtu", "rtu":
		if strings.TrimSpace(endpoint) == "" {
			return nil, errors.New("serial device is required for RTU")
		}
		sp := t.opts.Serial
		sp.Address = endpoint
		if sp.Timeout <= 0 {
			sp.Timeout = t.opts.Timeout
		}
		h := mb.NewRTUClientHandler(endpoint)
		h.Config = utils.SerialConfig(sp)
		h.SlaveId = t.opts.SlaveID
		return h, nil
	default:
		return nil, fmt.Errorf("protocol %s not implemented", t.opts.Protocol)
	}
}

func (t *ModbusTransport) Open(ctx context.Context) error {
	h, err := t.newHandler()
	if err != nil {
		return err
	}
	if err := h.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", t.opts.Endpoint, err)
	}
	t.handler = h
	t.client = mb.NewClient(h)
	return nil
}

// ByteOrder is the float32 register order in effect.
func (t *ModbusTransport) ByteOrder() string {
	if t.opts.ByteOrder == "" {
		return "ABCD"
	}
	return strings.ToUpper(t.opts.ByteOrder)
}

func (t *ModbusTransport) Close(ctx context.Context) error {
	t.items = nil
	t.last = nil
	if t.handler == nil {
		return nil
	}
	err := t.handler.Close()
	t.handler = nil
	t.client = nil
	return err
}

func (t *ModbusTransport) Read(ctx context.Context, item Item) error {
	_, err := t.readItem(item)
	return err
}

func (t *ModbusTransport) Subscribe(ctx context.Context, interval time.Duration, items []Item) ([]uint32, error) {
	if t.client == nil {
		return nil, errors.New("modbus transport not open")
	}
	accepted := make([]uint32, 0, len(items))
	kept := make([]Item, 0, len(items))
	for _, it := range items {
		if !supportedTable(it.Address) {
			continue
		}
		kept = append(kept, it)
		accepted = append(accepted, it.Handle)
	}
	t.items = kept
	t.last = make(map[uint32]any, len(kept))
	t.interval = interval
	t.nextPoll = time.Time{}
	return accepted, nil
}

func (t *ModbusTransport) Unsubscribe(ctx context.Context) error {
	t.items = nil
	t.last = nil
	return nil
}

// Poll reads every subscribed point once per subscription interval and
// reports the ones whose value changed.
func (t *ModbusTransport) Poll(ctx context.Context) ([]Notification, error) {
	if t.client == nil || len(t.items) == 0 {
		return nil, nil
	}
	now := t.now()
	if now.Before(t.nextPoll) {
		return nil, nil
	}
	t.nextPoll = now.Add(t.interval)

	var out []Notification
	for _, it := range t.items {
		if err := ctx.Err(); err != nil {
			return out, nil
		}
		v, err := t.readItem(it)
		if err != nil {
			return out, fmt.Errorf("read %s: %w", it.Address, err)
		}
		if prev, ok := t.last[it.Handle]; ok && prev == v {
			continue
		}
		t.last[it.Handle] = v
		out = append(out, Notification{Handle: it.Handle, Value: v, Good: true})
	}
	return out, nil
}

func supportedTable(a Address) bool {
	if !a.IsNumeric || a.Numeric > math.MaxUint16 {
		return false
	}
	switch a.Namespace {
	case TableCoil, TableDiscreteInput, TableInputRegister, TableHoldingRegister:
		return true
	}
	return false
}

// readItem returns a bool for bit tables and digital points, a float32
// otherwise.
func (t *ModbusTransport) readItem(it Item) (any, error) {
	if t.client == nil {
		return nil, &modbusError{err: errors.New("modbus transport not open")}
	}
	if !supportedTable(it.Address) {
		return nil, fmt.Errorf("%w: %s is not a modbus table address", ErrBadAddress, it.Address)
	}
	addr := uint16(it.Address.Numeric)

	switch it.Address.Namespace {
	case TableCoil, TableDiscreteInput:
		read := t.client.ReadCoils
		if it.Address.Namespace == TableDiscreteInput {
			read = t.client.ReadDiscreteInputs
		}
		data, err := read(addr, 1)
		if err != nil {
			return nil, classify(err)
		}
		return len(data) > 0 && data[0]&0x01 == 0x01, nil
	default:
		read := t.client.ReadHoldingRegisters
		if it.Address.Namespace == TableInputRegister {
			read = t.client.ReadInputRegisters
		}
		qty := uint16(2)
		if it.Digital {
			qty = 1
		}
		data, err := read(addr, qty)
		if err != nil {
			return nil, classify(err)
		}
		if it.Digital {
			if len(data) < 2 {
				return nil, errors.New("insufficient data for register bit")
			}
			return binary.BigEndian.Uint16(data[:2]) != 0, nil
		}
		if len(data) < 4 {
			return nil, errors.New("insufficient data for float32")
		}
		return math.Float32frombits(binary.BigEndian.Uint32(reorder32(data[:4], t.ByteOrder()))), nil
	}
}

// reorder32 returns a 4-byte slice reordered per byte-order string.
// Supported orders: "ABCD" (default), "DCBA", "BADC" (byte swap within words), "CDAB" (word swap).
func reorder32(in []byte, order string) []byte {
	var out [4]byte
	switch strings.ToUpper(strings.TrimSpace(order)) {
	case "DCBA":
		out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	case "BADC":
		out[0], out[1], out[2], out[3] = in[1], in[0], in[3], in[2]
	case "CDAB":
		out[0], out[1], out[2], out[3] = in[2], in[3], in[0], in[1]
	default:
		copy(out[:], in[:4])
	}
	return out[:]
}
