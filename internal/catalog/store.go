package catalog

import (
	"context"
	"fmt"

	"hgu-gateway/internal/db"
)

// LoadDB reads the catalog stored in d. An empty table is seeded with the
// built-in definitions first.
func LoadDB(ctx context.Context, d *db.DB) (*Catalog, error) {
	n, err := d.SensorCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count sensors: %w", err)
	}
	if n == 0 {
		if err := d.ReplaceSensors(ctx, Definitions()); err != nil {
			return nil, fmt.Errorf("seed sensors: %w", err)
		}
	}
	defs, err := d.ListSensors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}
	return New(defs)
}
