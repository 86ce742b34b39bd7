package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hgu-gateway/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "nested", "gateway.sqlite"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func TestSensorsRoundTripKeepsOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	defs := []model.SensorDefinition{
		{ID: "zeta", Name: "Zeta", Address: "ns=2;i=2", Unit: "bar", Category: model.CategoryPressure, Max: 10},
		{ID: "alpha", Name: "Alpha", Address: "ns=2;i=1", Category: model.CategoryAlarm, Max: 1, Digital: true},
	}
	if err := d.ReplaceSensors(ctx, defs); err != nil {
		t.Fatalf("ReplaceSensors failed: %v", err)
	}
	n, err := d.SensorCount(ctx)
	if err != nil {
		t.Fatalf("SensorCount failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 sensors, got %d", n)
	}

	got, err := d.ListSensors(ctx)
	if err != nil {
		t.Fatalf("ListSensors failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "zeta" || got[1].ID != "alpha" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if !got[1].Digital || got[0].Category != model.CategoryPressure {
		t.Fatalf("fields not preserved: %+v", got)
	}
}

func TestSaveLatestUpserts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	ts := time.UnixMilli(1700000000000)
	first := []model.LatestValue{{ID: "p", Name: "P", Value: 1, Unit: "bar", Quality: model.QualityGood, Timestamp: ts}}
	if err := d.SaveLatest(ctx, first); err != nil {
		t.Fatalf("SaveLatest failed: %v", err)
	}
	second := []model.LatestValue{{ID: "p", Name: "P", Value: 2, Unit: "bar", Quality: model.QualityUncertain, Timestamp: ts.Add(time.Second)}}
	if err := d.SaveLatest(ctx, second); err != nil {
		t.Fatalf("SaveLatest failed: %v", err)
	}

	got, err := d.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].Value != 2 || got[0].Quality != model.QualityUncertain || !got[0].Timestamp.Equal(ts.Add(time.Second)) {
		t.Fatalf("unexpected row: %+v", got[0])
	}
}
