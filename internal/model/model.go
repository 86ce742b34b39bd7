package model

import "time"

// Category groups catalog entries by the physical quantity they measure.
type Category string

const (
	CategoryPressure    Category = "pressure"
	CategoryTemperature Category = "temperature"
	CategoryFlow        Category = "flow"
	CategoryLevel       Category = "level"
	CategoryPump        Category = "pump"
	CategoryFilter      Category = "filter"
	CategorySystem      Category = "system"
	CategoryAlarm       Category = "alarm"
)

// Quality is the trust level attached to a sample.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityUncertain Quality = "uncertain"
	QualityBad       Quality = "bad"
)

// Accepted reports whether samples of this quality may enter the pipeline.
func (q Quality) Accepted() bool {
	return q == QualityGood || q == QualityUncertain
}

// SensorDefinition is one read-only catalog entry.
type SensorDefinition struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Address  string   `yaml:"address" json:"address"`
	Unit     string   `yaml:"unit" json:"unit"`
	Category Category `yaml:"category" json:"category"`
	Min      float64  `yaml:"min" json:"min"`
	Max      float64  `yaml:"max" json:"max"`
	Digital  bool     `yaml:"digital" json:"digital"`
}

// InRange reports whether v is acceptable for this sensor.
// Digital sensors only accept 0 and 1.
func (d SensorDefinition) InRange(v float64) bool {
	if d.Digital {
		return v == 0 || v == 1
	}
	return v >= d.Min && v <= d.Max
}

// SensorSample is a decoded value change travelling through the pipeline.
type SensorSample struct {
	ID        string
	Name      string
	Value     float64
	Unit      string
	Quality   Quality
	Timestamp time.Time
}
