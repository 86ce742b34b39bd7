package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hgu-gateway/internal/tasks"
)

func main() {
	var opts tasks.Options
	flag.StringVar(&opts.ConfigPath, "config", "config/gateway.yaml", "path to YAML config")
	flag.StringVar(&opts.CatalogFile, "catalog", "", "sensor catalog YAML (overrides sensors.catalog_file)")
	flag.StringVar(&opts.CatalogDB, "catalog-db", "", "SQLite database holding the sensor catalog")
	flag.BoolVar(&opts.ValidateOnly, "validate", false, "load config and catalog, then exit")
	flag.Parse()

	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := tasks.InitAndRunGateway(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
	}
	stop()
	os.Exit(tasks.Code(err))
}
