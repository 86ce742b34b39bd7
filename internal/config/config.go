package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root gateway configuration. It mirrors config/gateway.yaml.
type Config struct {
	Controller  ControllerConfig  `yaml:"controller"`
	Sink        SinkConfig        `yaml:"sink"`
	Performance PerformanceConfig `yaml:"performance"`
	Sensors     SensorsConfig     `yaml:"sensors"`
	System      SystemConfig      `yaml:"system"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Health      HealthConfig      `yaml:"health"`
}

type ControllerConfig struct {
	Protocol             string        `yaml:"protocol"` // opcua | modbus-tcp | modbus-rtu
	Endpoint             string        `yaml:"endpoint"`
	Username             string        `yaml:"username"`
	Password             string        `yaml:"password"`
	SecurityMode         string        `yaml:"security_mode"`
	SecurityPolicy       string        `yaml:"security_policy"`
	ApplicationName      string        `yaml:"application_name"`
	ConnectionTimeout    time.Duration `yaml:"connection_timeout"`
	SubscriptionInterval time.Duration `yaml:"subscription_interval"`
	AutoReconnect        *bool         `yaml:"auto_reconnect"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts *int          `yaml:"max_reconnect_attempts"` // 0 = unlimited
	Modbus               ModbusConfig  `yaml:"modbus"`
}

// ModbusConfig only applies when Protocol is modbus-tcp or modbus-rtu.
type ModbusConfig struct {
	SlaveID   uint8  `yaml:"slave_id"`
	ByteOrder string `yaml:"byte_order"` // float32 word/byte order: ABCD, DCBA, BADC, CDAB
	BaudRate  int    `yaml:"baud_rate"`
	DataBits  int    `yaml:"data_bits"`
	StopBits  int    `yaml:"stop_bits"`
	Parity    string `yaml:"parity"`
}

type SinkConfig struct {
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	Measurement   string        `yaml:"measurement"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    *int          `yaml:"max_retries"` // 0 = no retries
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

type PerformanceConfig struct {
	WorkerThreads  int `yaml:"worker_threads"`
	DataBufferSize int `yaml:"data_buffer_size"`
}

type SensorsConfig struct {
	EnableValidation        *bool   `yaml:"enable_validation"`
	OutlierDetection        *bool   `yaml:"outlier_detection"`
	OutlierThresholdPercent float64 `yaml:"outlier_threshold_percent"`
	CatalogFile             string  `yaml:"catalog_file"`
	CatalogDB               string  `yaml:"catalog_db"`
}

type SystemConfig struct {
	Location          string        `yaml:"location"`
	EquipmentID       string        `yaml:"equipment_id"`
	SystemName        string        `yaml:"system_name"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StatsInterval     time.Duration `yaml:"stats_interval"`
	StatusFile        string        `yaml:"status_file"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // console | json
	File    string `yaml:"file"`
	Console *bool  `yaml:"console"`
}

// Listen "off" disables the endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type HealthConfig struct {
	Listen string `yaml:"listen"`
}

// Env variables that override file values.
const (
	EnvControllerEndpoint = "OPCUA_ENDPOINT"
	EnvSinkURL            = "INFLUXDB_URL"
	EnvSinkToken          = "INFLUXDB_TOKEN"
	EnvLogLevel           = "LOG_LEVEL"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

// Default returns a configuration with every default applied.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// Load reads path, applies defaults and env overrides, then validates.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero value.
func (c *Config) ApplyDefaults() {
	ctl := &c.Controller
	if ctl.Protocol == "" {
		ctl.Protocol = "opcua"
	}
	ctl.Protocol = strings.ToLower(strings.TrimSpace(ctl.Protocol))
	if ctl.Endpoint == "" {
		ctl.Endpoint = "opc.tcp://192.168.100.10:4840"
	}
	if ctl.SecurityMode == "" {
		ctl.SecurityMode = "None"
	}
	if ctl.SecurityPolicy == "" {
		ctl.SecurityPolicy = "None"
	}
	if ctl.ApplicationName == "" {
		ctl.ApplicationName = "HGU Gateway"
	}
	if ctl.ConnectionTimeout <= 0 {
		ctl.ConnectionTimeout = 30 * time.Second
	}
	if ctl.SubscriptionInterval <= 0 {
		ctl.SubscriptionInterval = time.Second
	}
	if ctl.AutoReconnect == nil {
		ctl.AutoReconnect = boolPtr(true)
	}
	if ctl.ReconnectDelay <= 0 {
		ctl.ReconnectDelay = 5 * time.Second
	}
	if ctl.MaxReconnectAttempts == nil {
		ctl.MaxReconnectAttempts = intPtr(10)
	}
	if ctl.Modbus.SlaveID == 0 {
		ctl.Modbus.SlaveID = 1
	}
	ctl.Modbus.ByteOrder = strings.ToUpper(strings.TrimSpace(ctl.Modbus.ByteOrder))
	if ctl.Modbus.ByteOrder == "" {
		ctl.Modbus.ByteOrder = "ABCD"
	}

	s := &c.Sink
	if s.URL == "" {
		s.URL = "http://localhost:8086"
	}
	if s.Org == "" {
		s.Org = "tusas"
	}
	if s.Bucket == "" {
		s.Bucket = "tusas_hgu"
	}
	if s.Measurement == "" {
		s.Measurement = "hgu_sensors"
	}
	if s.BatchSize == 0 {
		s.BatchSize = 100
	}
	if s.FlushInterval <= 0 {
		s.FlushInterval = time.Second
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	if s.MaxRetries == nil {
		s.MaxRetries = intPtr(3)
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = time.Second
	}

	if c.Performance.WorkerThreads == 0 {
		c.Performance.WorkerThreads = 4
	}
	if c.Performance.DataBufferSize == 0 {
		c.Performance.DataBufferSize = 1000
	}

	if c.Sensors.EnableValidation == nil {
		c.Sensors.EnableValidation = boolPtr(true)
	}
	if c.Sensors.OutlierDetection == nil {
		c.Sensors.OutlierDetection = boolPtr(true)
	}
	if c.Sensors.OutlierThresholdPercent == 0 {
		c.Sensors.OutlierThresholdPercent = 50
	}

	if c.System.Location == "" {
		c.System.Location = "PLCSIM"
	}
	if c.System.EquipmentID == "" {
		c.System.EquipmentID = "hgu_main"
	}
	if c.System.SystemName == "" {
		c.System.SystemName = "HGU"
	}
	if c.System.HeartbeatInterval <= 0 {
		c.System.HeartbeatInterval = time.Minute
	}
	if c.System.StatsInterval <= 0 {
		c.System.StatsInterval = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Console == nil {
		c.Logging.Console = boolPtr(true)
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":2112"
	}
	if c.Health.Listen == "" {
		c.Health.Listen = ":8087"
	}
}

// ApplyEnv overrides selected values from the environment. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvControllerEndpoint); v != "" {
		c.Controller.Endpoint = v
	}
	if v := getenv(EnvSinkURL); v != "" {
		c.Sink.URL = v
	}
	if v := getenv(EnvSinkToken); v != "" {
		c.Sink.Token = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks ranges and required values.
func (c Config) Validate() error {
	switch c.Controller.Protocol {
	case "opcua", "modbus-tcp", "modbus-rtu":
	default:
		return fmt.Errorf("%w: controller.protocol %q not supported", ErrInvalid, c.Controller.Protocol)
	}
	if strings.TrimSpace(c.Controller.Endpoint) == "" {
		return fmt.Errorf("%w: controller.endpoint is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Sink.URL) == "" {
		return fmt.Errorf("%w: sink.url is required", ErrInvalid)
	}
	if c.ReconnectAttempts() < 0 {
		return fmt.Errorf("%w: controller.max_reconnect_attempts must not be negative", ErrInvalid)
	}
	switch c.Controller.Modbus.ByteOrder {
	case "", "ABCD", "DCBA", "BADC", "CDAB":
	default:
		return fmt.Errorf("%w: controller.modbus.byte_order %q not supported", ErrInvalid, c.Controller.Modbus.ByteOrder)
	}
	if c.Retries() < 0 {
		return fmt.Errorf("%w: sink.max_retries must not be negative", ErrInvalid)
	}
	if c.Sink.BatchSize < 1 || c.Sink.BatchSize > 10000 {
		return fmt.Errorf("%w: sink.batch_size must be within 1..10000, got %d", ErrInvalid, c.Sink.BatchSize)
	}
	if c.Performance.WorkerThreads < 1 || c.Performance.WorkerThreads > 32 {
		return fmt.Errorf("%w: performance.worker_threads must be within 1..32, got %d", ErrInvalid, c.Performance.WorkerThreads)
	}
	if c.Performance.DataBufferSize < 1 {
		return fmt.Errorf("%w: performance.data_buffer_size must be positive", ErrInvalid)
	}
	if c.OutlierDetection() && c.Sensors.OutlierThresholdPercent <= 0 {
		return fmt.Errorf("%w: sensors.outlier_threshold_percent must be positive", ErrInvalid)
	}
	return nil
}

func (c Config) AutoReconnect() bool {
	return c.Controller.AutoReconnect == nil || *c.Controller.AutoReconnect
}

// ReconnectAttempts is the reconnect cap; 0 means unlimited.
func (c Config) ReconnectAttempts() int {
	if c.Controller.MaxReconnectAttempts == nil {
		return 10
	}
	return *c.Controller.MaxReconnectAttempts
}

// Retries is the number of extra write attempts; 0 disables retrying.
func (c Config) Retries() int {
	if c.Sink.MaxRetries == nil {
		return 3
	}
	return *c.Sink.MaxRetries
}

func (c Config) Validation() bool {
	return c.Sensors.EnableValidation == nil || *c.Sensors.EnableValidation
}
func (c Config) OutlierDetection() bool {
	return c.Sensors.OutlierDetection == nil || *c.Sensors.OutlierDetection
}
func (c Config) ConsoleLogging() bool { return c.Logging.Console == nil || *c.Logging.Console }
