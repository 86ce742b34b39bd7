package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"hgu-gateway/internal/model"
)

type fileFormat struct {
	Sensors []model.SensorDefinition `yaml:"sensors"`
}

// LoadYAML reads a catalog file of the form `sensors: [...]`.
func LoadYAML(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return New(f.Sensors)
}
