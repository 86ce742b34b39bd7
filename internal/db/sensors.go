package db

import (
	"context"
	"fmt"

	"hgu-gateway/internal/model"
)

// SensorCount returns the number of catalog rows.
func (d *DB) SensorCount(ctx context.Context) (int, error) {
	var n int
	if err := d.SQL.QueryRowContext(ctx, "SELECT COUNT(*) FROM sensors").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ReplaceSensors swaps the stored catalog for defs in one transaction.
func (d *DB) ReplaceSensors(ctx context.Context, defs []model.SensorDefinition) (err error) {
	tx, err := d.SQL.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM sensors"); err != nil {
		return err
	}
	for i, s := range defs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sensors
			(position, sensor_id, name, address, unit, category, min_value, max_value, digital)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, s.ID, s.Name, s.Address, s.Unit, string(s.Category), s.Min, s.Max, s.Digital,
		)
		if err != nil {
			return fmt.Errorf("insert sensor %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// ListSensors returns the stored catalog in its original order.
func (d *DB) ListSensors(ctx context.Context) ([]model.SensorDefinition, error) {
	rows, err := d.SQL.QueryContext(ctx,
		`SELECT sensor_id, name, address, unit, category, min_value, max_value, digital
		FROM sensors ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SensorDefinition
	for rows.Next() {
		var s model.SensorDefinition
		var cat string
		if err := rows.Scan(&s.ID, &s.Name, &s.Address, &s.Unit, &cat, &s.Min, &s.Max, &s.Digital); err != nil {
			return nil, err
		}
		s.Category = model.Category(cat)
		out = append(out, s)
	}
	return out, rows.Err()
}
