package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hgu-gateway/internal/catalog"
	"hgu-gateway/internal/logger"
	"hgu-gateway/internal/modbus"
)

// plcsim serves the HGU sensor catalog over Modbus TCP so the gateway can
// run without a controller.
func main() {
	var (
		listen   string
		interval time.Duration
		seed     uint64
		csvPath  string
		catPath  string
		level    string
	)
	flag.StringVar(&listen, "listen", "127.0.0.1:5020", "Modbus TCP listen address")
	flag.DurationVar(&interval, "interval", time.Second, "value update period")
	flag.Uint64Var(&seed, "seed", uint64(time.Now().UnixNano()), "random walk seed")
	flag.StringVar(&csvPath, "csv", "", "replay rows from CSV (header = sensor ids)")
	flag.StringVar(&catPath, "catalog", "", "sensor catalog YAML (default: built-in)")
	flag.StringVar(&level, "log-level", "INFO", "log level")
	flag.Parse()

	lg, err := logger.New(logger.Options{Level: level, Console: true})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(lg, listen, interval, seed, csvPath, catPath); err != nil {
		lg.Fatalw("plcsim failed", "error", err)
	}
}

func run(lg *zap.SugaredLogger, listen string, interval time.Duration, seed uint64, csvPath, catPath string) error {
	c := catalog.Default()
	if catPath != "" {
		var err error
		if c, err = catalog.LoadYAML(catPath); err != nil {
			return err
		}
	} else {
		c = catalog.ModbusLayout(c)
	}

	srv := modbus.NewServer(lg.Named("modbus"))
	if err := srv.Listen(listen); err != nil {
		return err
	}
	defer srv.Close()

	sim, err := modbus.NewSimulator(srv, c, seed)
	if err != nil {
		return err
	}
	if csvPath != "" {
		rows, err := modbus.LoadCSV(csvPath)
		if err != nil {
			return err
		}
		sim.Replay(rows)
		lg.Infow("replaying csv", "path", csvPath, "rows", len(rows))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	lg.Infow("simulator running", "addr", srv.Addr(), "points", c.Len(), "interval", interval)
	if err := sim.Run(ctx, interval); err != nil && ctx.Err() == nil {
		return err
	}
	lg.Infow("shutting down simulator", "requests", srv.Requests())
	return nil
}
