package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	mb "github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hgu-gateway/internal/catalog"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer(nil)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *Server) mb.Client {
	t.Helper()
	h := mb.NewTCPClientHandler(srv.Addr())
	h.Timeout = 2 * time.Second
	h.SlaveId = 1
	require.NoError(t, h.Connect())
	t.Cleanup(func() { h.Close() })
	return mb.NewClient(h)
}

func TestServerServesFloat32AndCoils(t *testing.T) {
	srv := startServer(t)
	require.NoError(t, srv.SetFloat32(10, 12.5))
	require.NoError(t, srv.SetCoil(3, true))

	c := dial(t, srv)
	data, err := c.ReadHoldingRegisters(10, 2)
	require.NoError(t, err)
	require.Len(t, data, 4)
	assert.Equal(t, float32(12.5), math.Float32frombits(binary.BigEndian.Uint32(data)))

	bits, err := c.ReadCoils(3, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(1), bits[0]&1)

	f, err := srv.Float32(10)
	require.NoError(t, err)
	assert.Equal(t, float32(12.5), f)
	assert.Equal(t, uint64(2), srv.Requests())
}

func TestServerRejectsBadQuantity(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv)

	_, err := c.ReadHoldingRegisters(0, 200)
	require.Error(t, err)
	var me *mb.ModbusError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, byte(exceptionIllegalDataVal), me.ExceptionCode)
}

func TestServerCloseWithConnectedClient(t *testing.T) {
	srv := NewServer(nil)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	h := mb.NewTCPClientHandler(srv.Addr())
	require.NoError(t, h.Connect())
	defer h.Close()

	done := make(chan struct{})
	go func() {
		srv.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an open client connection")
	}
}

func TestSimulatorStartsMidRangeAndStaysInRange(t *testing.T) {
	srv := startServer(t)
	cat := catalog.ModbusLayout(catalog.Default())
	sim, err := NewSimulator(srv, cat, 42)
	require.NoError(t, err)

	def, ok := cat.Lookup("pressure_supply")
	require.True(t, ok)
	var off uint16
	_, err = fmt.Sscanf(def.Address, "ns=4;i=%d", &off)
	require.NoError(t, err)

	f, err := srv.Float32(off)
	require.NoError(t, err)
	assert.InDelta(t, (def.Min+def.Max)/2, float64(f), 0.001)

	for i := 0; i < 500; i++ {
		require.NoError(t, sim.Step())
	}
	f, err = srv.Float32(off)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, float64(f), def.Min)
	assert.LessOrEqual(t, float64(f), def.Max)
}

func TestSimulatorSetAndReplay(t *testing.T) {
	srv := startServer(t)
	cat := catalog.ModbusLayout(catalog.Default())
	sim, err := NewSimulator(srv, cat, 1)
	require.NoError(t, err)

	require.NoError(t, sim.Set("pressure_supply", 200))
	f, err := srv.Float32(0)
	require.NoError(t, err)
	assert.Equal(t, float32(200), f)
	require.Error(t, sim.Set("nope", 1))

	sim.Replay([]map[string]float64{{"pressure_supply": 100}, {"pressure_supply": 101}})
	require.NoError(t, sim.Step())
	f, _ = srv.Float32(0)
	assert.Equal(t, float32(100), f)
	require.NoError(t, sim.Step())
	f, _ = srv.Float32(0)
	assert.Equal(t, float32(101), f)
	require.NoError(t, sim.Step())
	f, _ = srv.Float32(0)
	assert.Equal(t, float32(100), f, "replay wraps around")
}

func TestSimulatorRejectsNonModbusCatalog(t *testing.T) {
	srv := startServer(t)
	_, err := NewSimulator(srv, catalog.Default(), 1)
	require.Error(t, err)
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("pressure_supply, temperature_motor\n120.5,40\n121,\n"), 0o644))

	rows, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 120.5, rows[0]["pressure_supply"])
	assert.Equal(t, 40.0, rows[0]["temperature_motor"])
	_, ok := rows[1]["temperature_motor"]
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o644))
	_, err = LoadCSV(path)
	require.Error(t, err)
}
