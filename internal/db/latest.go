package db

import (
	"context"
	"time"

	"hgu-gateway/internal/model"
)

// SaveLatest upserts one row per sensor.
func (d *DB) SaveLatest(ctx context.Context, vals []model.LatestValue) (err error) {
	if len(vals) == 0 {
		return nil
	}
	tx, err := d.SQL.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, v := range vals {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO latest_values (sensor_id, name, value, unit, quality, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(sensor_id) DO UPDATE SET
				name = excluded.name, value = excluded.value, unit = excluded.unit,
				quality = excluded.quality, timestamp = excluded.timestamp`,
			v.ID, v.Name, v.Value, v.Unit, string(v.Quality), v.Timestamp.UnixMilli(),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Latest returns every stored last value ordered by sensor id.
func (d *DB) Latest(ctx context.Context) ([]model.LatestValue, error) {
	rows, err := d.SQL.QueryContext(ctx,
		"SELECT sensor_id, name, value, unit, quality, timestamp FROM latest_values ORDER BY sensor_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LatestValue
	for rows.Next() {
		var v model.LatestValue
		var q string
		var ms int64
		if err := rows.Scan(&v.ID, &v.Name, &v.Value, &v.Unit, &q, &ms); err != nil {
			return nil, err
		}
		v.Quality = model.Quality(q)
		v.Timestamp = time.UnixMilli(ms)
		out = append(out, v)
	}
	return out, rows.Err()
}
