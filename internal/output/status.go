package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"hgu-gateway/internal/metrics"
	"hgu-gateway/internal/model"
	"hgu-gateway/internal/session"
	"hgu-gateway/internal/writer"
)

// PipelineStatus summarises the pipeline queue and batch.
type PipelineStatus struct {
	Healthy       bool   `json:"healthy"`
	QueueLength   int    `json:"queue_length"`
	BatchLength   int    `json:"batch_length"`
	BatchSize     int    `json:"batch_size"`
	FlushInterval string `json:"flush_interval"`
}

// Status is the periodic gateway report.
type Status struct {
	System      string              `json:"system"`
	Location    string              `json:"location"`
	Equipment   string              `json:"equipment"`
	Timestamp   time.Time           `json:"timestamp"`
	Uptime      string              `json:"uptime"`
	Session     session.Stats       `json:"session"`
	Pipeline    PipelineStatus      `json:"pipeline"`
	Performance metrics.Snapshot    `json:"performance"`
	Writer      writer.Stats        `json:"writer"`
	SuccessRate float64             `json:"success_rate"`
	Latest      []model.LatestValue `json:"latest"`
}

// WriteJSON writes v with pretty formatting. The file is replaced atomically
// so readers never see a partial report.
func WriteJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// WriteCSV writes one row per sensor.
// Columns: sensor_id,name,value,unit,quality,timestamp
func WriteCSV(path string, vals []model.LatestValue) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"sensor_id", "name", "value", "unit", "quality", "timestamp"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, v := range vals {
		rec := []string{
			v.ID,
			v.Name,
			strconv.FormatFloat(v.Value, 'f', 6, 64),
			v.Unit,
			string(v.Quality),
			v.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
