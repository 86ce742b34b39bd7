package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "controller:\n  endpoint: opc.tcp://plc:4840\n"))
	require.NoError(t, err)

	assert.Equal(t, "opcua", cfg.Controller.Protocol)
	assert.Equal(t, "opc.tcp://plc:4840", cfg.Controller.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Controller.ReconnectDelay)
	assert.Equal(t, 10, cfg.ReconnectAttempts())
	assert.True(t, cfg.AutoReconnect())
	assert.Equal(t, 100, cfg.Sink.BatchSize)
	assert.Equal(t, time.Second, cfg.Sink.FlushInterval)
	assert.Equal(t, 3, cfg.Retries())
	assert.Equal(t, "ABCD", cfg.Controller.Modbus.ByteOrder)
	assert.Equal(t, "hgu_sensors", cfg.Sink.Measurement)
	assert.Equal(t, 4, cfg.Performance.WorkerThreads)
	assert.Equal(t, 1000, cfg.Performance.DataBufferSize)
	assert.Equal(t, "PLCSIM", cfg.System.Location)
	assert.Equal(t, "hgu_main", cfg.System.EquipmentID)
	assert.True(t, cfg.Validation())
}

func TestLoadKeepsExplicitFalse(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
controller:
  auto_reconnect: false
  reconnect_delay: 1500ms
sensors:
  outlier_detection: false
  enable_validation: false
logging:
  console: false
`))
	require.NoError(t, err)
	assert.False(t, cfg.AutoReconnect())
	assert.False(t, cfg.OutlierDetection())
	assert.False(t, cfg.Validation())
	assert.False(t, cfg.ConsoleLogging())
	assert.Equal(t, 1500*time.Millisecond, cfg.Controller.ReconnectDelay)
}

func TestLoadKeepsExplicitZeroCaps(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
controller:
  max_reconnect_attempts: 0
  modbus:
    byte_order: cdab
sink:
  max_retries: 0
`))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.ReconnectAttempts())
	assert.Equal(t, 0, cfg.Retries())
	assert.Equal(t, "CDAB", cfg.Controller.Modbus.ByteOrder)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		EnvControllerEndpoint: "opc.tcp://override:4840",
		EnvSinkURL:            "http://influx:8086",
		EnvSinkToken:          "secret",
		EnvLogLevel:           "DEBUG",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "opc.tcp://override:4840", cfg.Controller.Endpoint)
	assert.Equal(t, "http://influx:8086", cfg.Sink.URL)
	assert.Equal(t, "secret", cfg.Sink.Token)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"batch too large", func(c *Config) { c.Sink.BatchSize = 10001 }},
		{"batch negative", func(c *Config) { c.Sink.BatchSize = -1 }},
		{"too many workers", func(c *Config) { c.Performance.WorkerThreads = 33 }},
		{"empty endpoint", func(c *Config) { c.Controller.Endpoint = " " }},
		{"empty sink", func(c *Config) { c.Sink.URL = "" }},
		{"bad protocol", func(c *Config) { c.Controller.Protocol = "profinet" }},
		{"bad threshold", func(c *Config) { c.Sensors.OutlierThresholdPercent = -5 }},
		{"negative reconnect cap", func(c *Config) { c.Controller.MaxReconnectAttempts = intPtr(-1) }},
		{"negative retries", func(c *Config) { c.Sink.MaxRetries = intPtr(-2) }},
		{"bad byte order", func(c *Config) { c.Controller.Modbus.ByteOrder = "ACBD" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
