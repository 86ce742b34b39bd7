package model

import "time"

// LatestValue is the last accepted value of one sensor, as reported in status snapshots.
type LatestValue struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Quality   Quality   `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}

// Latest converts a sample into its snapshot form.
func Latest(s SensorSample) LatestValue {
	return LatestValue{ID: s.ID, Name: s.Name, Value: s.Value, Unit: s.Unit, Quality: s.Quality, Timestamp: s.Timestamp}
}
