package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"hgu-gateway/internal/catalog"
	"hgu-gateway/internal/config"
	"hgu-gateway/internal/db"
	"hgu-gateway/internal/lineproto"
	"hgu-gateway/internal/logger"
	"hgu-gateway/internal/metrics"
	"hgu-gateway/internal/pipeline"
	"hgu-gateway/internal/session"
	"hgu-gateway/internal/utils"
	"hgu-gateway/internal/writer"
)

const (
	pingTimeout     = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Options defines initialization overrides for the gateway.
// Mirrors the CLI flags used in cmd/gateway/main.go.
type Options struct {
	ConfigPath   string
	CatalogFile  string
	CatalogDB    string
	ValidateOnly bool

	// Logger replaces the configured logger, mainly for tests.
	Logger *zap.SugaredLogger
	// Transport replaces the protocol transport built from config.
	Transport session.Transport
}

// Gateway wires the controller session, the pipeline and the sink writer.
type Gateway struct {
	cfg     config.Config
	log     *zap.SugaredLogger
	catalog *catalog.Catalog
	store   *db.DB

	registry *prometheus.Registry
	metrics  *metrics.Collectors
	perf     *metrics.Performance
	health   healthcheck.Handler

	writer   *writer.Writer
	pipeline *pipeline.Pipeline
	session  *session.Session

	pinged  atomic.Bool
	started time.Time
	servers []*http.Server
	wg      sync.WaitGroup
}

// InitAndRunGateway loads config, applies overrides, builds the gateway and
// runs it until ctx is cancelled or the controller session gives up.
func InitAndRunGateway(ctx context.Context, opts Options) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	g, err := New(cfg, opts)
	if err != nil {
		return err
	}
	if opts.ValidateOnly {
		g.log.Infow("configuration valid", "sensors", g.catalog.Len(), "protocol", cfg.Controller.Protocol)
		return g.Close()
	}
	return g.Run(ctx)
}

// LoadConfig reads the config file (defaults only when no path is given)
// and applies CLI overrides.
func LoadConfig(opts Options) (config.Config, error) {
	var cfg config.Config
	if opts.ConfigPath != "" {
		c, err := config.Load(opts.ConfigPath)
		if err != nil {
			return cfg, &ExitError{Code: CodeConfig, Err: fmt.Errorf("load config: %w", err)}
		}
		cfg = c
	} else {
		cfg = config.Default()
	}
	if opts.CatalogFile != "" {
		cfg.Sensors.CatalogFile = opts.CatalogFile
	}
	if opts.CatalogDB != "" {
		cfg.Sensors.CatalogDB = opts.CatalogDB
	}
	if err := cfg.Validate(); err != nil {
		return cfg, &ExitError{Code: CodeConfig, Err: err}
	}
	return cfg, nil
}

// New builds every component without touching the network.
func New(cfg config.Config, opts Options) (*Gateway, error) {
	log := opts.Logger
	if log == nil {
		l, err := logger.New(logger.Options{
			Level:   cfg.Logging.Level,
			File:    cfg.Logging.File,
			Console: cfg.ConsoleLogging(),
			JSON:    strings.EqualFold(cfg.Logging.Format, "json"),
		})
		if err != nil {
			return nil, exitf(CodeConfig, "logger: %w", err)
		}
		log = l
	}

	g := &Gateway{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
		perf:     &metrics.Performance{},
		started:  time.Now(),
	}
	g.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	g.metrics = metrics.NewCollectors(g.registry)

	if err := g.loadCatalog(context.Background()); err != nil {
		g.Close()
		return nil, err
	}

	g.writer = writer.New(writer.Options{
		URL:    cfg.Sink.URL,
		Token:  cfg.Sink.Token,
		Org:    cfg.Sink.Org,
		Bucket: cfg.Sink.Bucket,
		Encoder: lineproto.Encoder{
			Measurement: cfg.Sink.Measurement,
			Location:    cfg.System.Location,
			Equipment:   cfg.System.EquipmentID,
		},
		Timeout:    cfg.Sink.Timeout,
		MaxRetries: cfg.Retries(),
		RetryDelay: cfg.Sink.RetryDelay,
		Logger:     log.Named("writer"),
		Metrics:    g.metrics,
	})

	p, err := pipeline.New(pipeline.Options{
		Workers:                 cfg.Performance.WorkerThreads,
		BufferSize:              cfg.Performance.DataBufferSize,
		BatchSize:               cfg.Sink.BatchSize,
		FlushInterval:           cfg.Sink.FlushInterval,
		ValidateQuality:         cfg.Validation(),
		OutlierDetection:        cfg.OutlierDetection(),
		OutlierThresholdPercent: cfg.Sensors.OutlierThresholdPercent,
		Sink:                    g.writer,
		Logger:                  log,
		Metrics:                 g.metrics,
		Performance:             g.perf,
	})
	if err != nil {
		g.Close()
		return nil, exitf(CodeConfig, "pipeline: %w", err)
	}
	g.pipeline = p

	tr := opts.Transport
	if tr == nil {
		tr = newTransport(cfg)
	}
	s, err := session.New(session.Options{
		Catalog:              g.catalog,
		Transport:            tr,
		Sink:                 p,
		SubscriptionInterval: cfg.Controller.SubscriptionInterval,
		AutoReconnect:        cfg.AutoReconnect(),
		ReconnectDelay:       cfg.Controller.ReconnectDelay,
		MaxReconnectAttempts: cfg.ReconnectAttempts(),
		Logger:               log,
		Metrics:              g.metrics,
		Performance:          g.perf,
	})
	if err != nil {
		g.Close()
		return nil, exitf(CodeConfig, "session: %w", err)
	}
	g.session = s

	g.health = healthcheck.NewHandler()
	g.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	g.health.AddLivenessCheck("controller-session", s.Alive)
	g.health.AddReadinessCheck("sink", g.sinkReady)
	g.health.AddReadinessCheck("controller", s.Check)
	g.health.AddReadinessCheck("pipeline", p.Check)
	if g.store != nil {
		g.health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(g.store.SQL, time.Second))
	}
	return g, nil
}

// loadCatalog picks the catalog source: a YAML file, then the SQLite store,
// then the built-in list. Modbus controllers get the register layout unless
// the file already addresses registers.
func (g *Gateway) loadCatalog(ctx context.Context) error {
	var (
		c   *catalog.Catalog
		err error
	)
	if g.cfg.Sensors.CatalogDB != "" {
		g.store, err = db.Open(g.cfg.Sensors.CatalogDB)
		if err != nil {
			return exitf(CodeConfig, "catalog db: %w", err)
		}
	}
	switch {
	case g.cfg.Sensors.CatalogFile != "":
		c, err = catalog.LoadYAML(g.cfg.Sensors.CatalogFile)
	case g.store != nil:
		c, err = catalog.LoadDB(ctx, g.store)
	default:
		c = catalog.Default()
	}
	if err != nil {
		return exitf(CodeConfig, "catalog: %w", err)
	}
	if g.isModbus() && g.cfg.Sensors.CatalogFile == "" {
		c = catalog.ModbusLayout(c)
	}
	g.catalog = c
	g.log.Infow("catalog loaded", "sensors", c.Len())
	return nil
}

func (g *Gateway) isModbus() bool {
	return strings.HasPrefix(g.cfg.Controller.Protocol, "modbus")
}

func newTransport(cfg config.Config) session.Transport {
	ctl := cfg.Controller
	if strings.HasPrefix(ctl.Protocol, "modbus") {
		return session.NewModbusTransport(session.ModbusOptions{
			Protocol:  ctl.Protocol,
			Endpoint:  ctl.Endpoint,
			SlaveID:   ctl.Modbus.SlaveID,
			Timeout:   ctl.ConnectionTimeout,
			ByteOrder: ctl.Modbus.ByteOrder,
			Serial: utils.SerialParams{
				BaudRate: ctl.Modbus.BaudRate,
				DataBits: ctl.Modbus.DataBits,
				StopBits: ctl.Modbus.StopBits,
				Parity:   ctl.Modbus.Parity,
			},
		})
	}
	return session.NewOPCUATransport(session.OPCUAOptions{
		Endpoint:        ctl.Endpoint,
		Username:        ctl.Username,
		Password:        ctl.Password,
		SecurityMode:    ctl.SecurityMode,
		SecurityPolicy:  ctl.SecurityPolicy,
		ApplicationName: ctl.ApplicationName,
		Timeout:         ctl.ConnectionTimeout,
	})
}

func (g *Gateway) sinkReady() error {
	if !g.pinged.Load() {
		return errors.New("sink not reachable at startup")
	}
	return nil
}

// Run pings the sink, connects to the controller and blocks until ctx is
// done or the session gives up reconnecting.
func (g *Gateway) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := g.Close(); err == nil {
			err = cerr
		}
	}()

	g.log.Infow("starting gateway",
		"system", g.cfg.System.SystemName,
		"protocol", g.cfg.Controller.Protocol,
		"endpoint", g.cfg.Controller.Endpoint,
		"sink", g.cfg.Sink.URL,
	)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	err = g.writer.Ping(pctx)
	cancel()
	if err != nil {
		return exitf(CodeSink, "sink ping: %w", err)
	}
	g.pinged.Store(true)

	// Workers run until Stop so samples enqueued during shutdown still drain.
	if err := g.pipeline.Start(context.WithoutCancel(ctx)); err != nil {
		return exitf(CodeGeneric, "pipeline: %w", err)
	}
	defer g.pipeline.Stop()

	if err := g.session.Connect(ctx); err != nil {
		switch {
		case errors.Is(err, session.ErrConnect):
			return &ExitError{Code: CodeController, Err: err}
		default:
			return &ExitError{Code: CodeSubscription, Err: err}
		}
	}
	defer g.session.Disconnect(context.WithoutCancel(ctx))

	if err := g.session.Start(ctx); err != nil {
		return exitf(CodeGeneric, "session: %w", err)
	}
	defer g.session.Stop()

	g.serve(g.cfg.Metrics.Listen, promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{Registry: g.registry}))
	g.serve(g.cfg.Health.Listen, g.health)

	rctx, stopReports := context.WithCancel(ctx)
	g.wg.Add(1)
	go g.report(rctx)
	defer func() {
		stopReports()
		g.wg.Wait()
	}()

	g.log.Infow("gateway running")
	select {
	case <-ctx.Done():
		g.log.Infow("shutdown requested")
		return nil
	case <-g.session.Done():
		return exitf(CodeController, "controller reconnect attempts exhausted")
	}
}

func (g *Gateway) serve(addr string, h http.Handler) {
	if addr == "" || strings.EqualFold(addr, "off") {
		return
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	g.servers = append(g.servers, srv)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Errorw("http endpoint failed", "addr", addr, "error", err)
		}
	}()
}

// Close releases servers and the database. Run calls it on return.
func (g *Gateway) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range g.servers {
		_ = srv.Shutdown(ctx)
	}
	g.servers = nil

	var err error
	if g.store != nil {
		if g.pipeline != nil {
			g.persistLatest(ctx)
		}
		err = g.store.Close()
		g.store = nil
	}
	_ = g.log.Sync()
	return err
}

// Health exposes the liveness and readiness handler.
func (g *Gateway) Health() http.Handler { return g.health }

// Registry exposes the Prometheus registry.
func (g *Gateway) Registry() *prometheus.Registry { return g.registry }
