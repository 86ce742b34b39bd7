package session

import (
	"context"
	"math"
	"testing"
	"time"

	mb "github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hgu-gateway/internal/catalog"
	plc "hgu-gateway/internal/modbus"
	"hgu-gateway/internal/model"
	"hgu-gateway/internal/utils"
)

func startPLC(t *testing.T, cat *catalog.Catalog) (*plc.Server, *plc.Simulator) {
	t.Helper()
	srv := plc.NewServer(nil)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(srv.Close)
	sim, err := plc.NewSimulator(srv, cat, 7)
	require.NoError(t, err)
	return srv, sim
}

func byID(samples []model.SensorSample, id string) []model.SensorSample {
	var out []model.SensorSample
	for _, s := range samples {
		if s.ID == id {
			out = append(out, s)
		}
	}
	return out
}

func TestModbusTransportEndToEnd(t *testing.T) {
	cat := catalog.ModbusLayout(testCatalog(t))
	srv, sim := startPLC(t, cat)
	require.NoError(t, sim.Set("pressure_supply", 123.5))
	require.NoError(t, sim.Set("pump_running", 1))
	require.NoError(t, sim.Set("flow_main", 80))

	tr := NewModbusTransport(ModbusOptions{Protocol: "modbus-tcp", Endpoint: "tcp://" + srv.Addr(), Timeout: time.Second})
	s, sink := newTestSession(t, tr, func(o *Options) {
		o.Catalog = cat
		o.SubscriptionInterval = 20 * time.Millisecond
	})
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Start(ctx))
	defer s.Disconnect(ctx)

	require.Eventually(t, func() bool { return len(sink.all()) == 3 }, 3*time.Second, 10*time.Millisecond)
	got := sink.all()
	assert.Equal(t, 123.5, byID(got, "pressure_supply")[0].Value)
	assert.Equal(t, 1.0, byID(got, "pump_running")[0].Value)
	assert.Equal(t, 80.0, byID(got, "flow_main")[0].Value)

	require.NoError(t, sim.Set("flow_main", 90))
	require.Eventually(t, func() bool { return len(sink.all()) == 4 }, 3*time.Second, 10*time.Millisecond)
	flow := byID(sink.all(), "flow_main")
	require.Len(t, flow, 2)
	assert.Equal(t, 90.0, flow[1].Value)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sink.all(), 4, "unchanged values are not re-reported")
}

func TestModbusTransportDropsOnIOError(t *testing.T) {
	cat := catalog.ModbusLayout(testCatalog(t))
	srv, _ := startPLC(t, cat)

	tr := NewModbusTransport(ModbusOptions{Protocol: "tcp", Endpoint: srv.Addr(), Timeout: 500 * time.Millisecond})
	s, _ := newTestSession(t, tr, func(o *Options) {
		o.Catalog = cat
		o.AutoReconnect = false
		o.SubscriptionInterval = 10 * time.Millisecond
	})
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Start(ctx))

	srv.Close()
	require.Eventually(t, func() bool { return s.State() == StateDisconnected }, 5*time.Second, 10*time.Millisecond)
}

func TestModbusExceptionIsRetriable(t *testing.T) {
	cat := catalog.ModbusLayout(testCatalog(t))
	srv, _ := startPLC(t, cat)

	tr := NewModbusTransport(ModbusOptions{Protocol: "modbus-tcp", Endpoint: srv.Addr()})
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	defer tr.Close(ctx)

	err := tr.Read(ctx, Item{Address: Address{Namespace: TableHoldingRegister, Numeric: 65535, IsNumeric: true}})
	require.Error(t, err)
	var me *mb.ModbusError
	require.ErrorAs(t, err, &me)
	assert.True(t, IsRetriable(err))

	err = tr.Read(ctx, Item{Address: Address{Namespace: 2, Text: "x"}})
	require.ErrorIs(t, err, ErrBadAddress)
}

func TestModbusSubscribeFiltersTables(t *testing.T) {
	cat := catalog.ModbusLayout(testCatalog(t))
	srv, _ := startPLC(t, cat)
	tr := NewModbusTransport(ModbusOptions{Protocol: "modbus-tcp", Endpoint: srv.Addr()})
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	defer tr.Close(ctx)

	ok, err := tr.Subscribe(ctx, time.Second, []Item{
		{Handle: 1, Address: Address{Namespace: TableHoldingRegister, Numeric: 0, IsNumeric: true}},
		{Handle: 2, Address: Address{Namespace: 2, Numeric: 0, IsNumeric: true}},
		{Handle: 3, Address: Address{Namespace: TableCoil, Text: "x"}},
		{Handle: 4, Address: Address{Namespace: TableDiscreteInput, Numeric: 5, IsNumeric: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 4}, ok)
}

func TestModbusRTUHandlerConfig(t *testing.T) {
	tr := NewModbusTransport(ModbusOptions{
		Protocol: "modbus-rtu",
		Endpoint: "rtu:///dev/ttyUSB0",
		SlaveID:  7,
		Serial:   utils.SerialParams{BaudRate: 19200, Parity: "e"},
	})
	h, err := tr.newHandler()
	require.NoError(t, err)
	rtu, ok := h.(*mb.RTUClientHandler)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", rtu.Address)
	assert.Equal(t, 19200, rtu.BaudRate)
	assert.Equal(t, 8, rtu.DataBits)
	assert.Equal(t, "E", rtu.Parity)
	assert.Equal(t, byte(7), rtu.SlaveId)

	_, err = NewModbusTransport(ModbusOptions{Protocol: "modbus-rtu"}).newHandler()
	require.Error(t, err)
	_, err = NewModbusTransport(ModbusOptions{Protocol: "bacnet"}).newHandler()
	require.Error(t, err)
}

func TestReorder32(t *testing.T) {
	in := []byte{1, 2, 3, 4}
	assert.Equal(t, []byte{1, 2, 3, 4}, reorder32(in, ""))
	assert.Equal(t, []byte{4, 3, 2, 1}, reorder32(in, "dcba"))
	assert.Equal(t, []byte{2, 1, 4, 3}, reorder32(in, "BADC"))
	assert.Equal(t, []byte{3, 4, 1, 2}, reorder32(in, "CDAB"))
}

func TestModbusTransportWordSwappedFloat(t *testing.T) {
	srv := plc.NewServer(nil)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(srv.Close)
	require.NoError(t, srv.SetFloat32(0, 12.5)) // words 0x4148, 0x0000

	item := Item{Handle: 1, Address: Address{Namespace: TableHoldingRegister, Numeric: 0, IsNumeric: true}}
	read := func(order string) float32 {
		tr := NewModbusTransport(ModbusOptions{Protocol: "modbus-tcp", Endpoint: srv.Addr(), Timeout: time.Second, ByteOrder: order})
		require.NoError(t, tr.Open(context.Background()))
		defer tr.Close(context.Background())
		v, err := tr.readItem(item)
		require.NoError(t, err)
		return v.(float32)
	}
	assert.Equal(t, float32(12.5), read(""))
	assert.Equal(t, math.Float32frombits(0x00004148), read("cdab"))
}
