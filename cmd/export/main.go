package main

import (
	"context"
	"flag"
	"log"
	"time"

	"hgu-gateway/internal/db"
	"hgu-gateway/internal/output"
)

// export dumps the last persisted value of every sensor.
func main() {
	var dbPath, outJSON, outCSV string
	flag.StringVar(&dbPath, "db", "data/gateway.db", "gateway SQLite database")
	flag.StringVar(&outJSON, "json", "", "path to write JSON snapshot (optional)")
	flag.StringVar(&outCSV, "csv", "", "path to write CSV snapshot (optional)")
	flag.Parse()

	if outJSON == "" && outCSV == "" {
		log.Fatalf("no output specified: set --json and/or --csv")
	}

	store, err := db.Open(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	vals, err := store.Latest(ctx)
	if err != nil {
		log.Fatalf("read latest values: %v", err)
	}

	if outJSON != "" {
		if err := output.WriteJSON(outJSON, vals); err != nil {
			log.Printf("write json error: %v", err)
		}
	}
	if outCSV != "" {
		if err := output.WriteCSV(outCSV, vals); err != nil {
			log.Printf("write csv error: %v", err)
		}
	}
	log.Printf("exported %d values", len(vals))
}
