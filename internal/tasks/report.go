package tasks

import (
	"context"
	"time"

	"hgu-gateway/internal/model"
	"hgu-gateway/internal/output"
)

// report logs statistics and heartbeats until ctx is done, then writes a
// last status.
func (g *Gateway) report(ctx context.Context) {
	defer g.wg.Done()
	stats := time.NewTicker(g.cfg.System.StatsInterval)
	defer stats.Stop()
	heartbeat := time.NewTicker(g.cfg.System.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			g.publish(context.WithoutCancel(ctx))
			return
		case <-stats.C:
			g.logStats()
			g.publish(ctx)
		case <-heartbeat.C:
			g.heartbeat()
		}
	}
}

// Status assembles the current report.
func (g *Gateway) Status() output.Status {
	perf := g.perf.Snapshot()
	latest := g.pipeline.Latest()
	vals := make([]model.LatestValue, 0, len(latest))
	for _, s := range latest {
		vals = append(vals, model.Latest(s))
	}
	return output.Status{
		System:    g.cfg.System.SystemName,
		Location:  g.cfg.System.Location,
		Equipment: g.cfg.System.EquipmentID,
		Timestamp: time.Now(),
		Uptime:    time.Since(g.started).Round(time.Second).String(),
		Session:   g.session.Stats(),
		Pipeline: output.PipelineStatus{
			Healthy:       g.pipeline.Healthy(),
			QueueLength:   g.pipeline.QueueLen(),
			BatchLength:   g.pipeline.BatchLen(),
			BatchSize:     g.pipeline.BatchSize(),
			FlushInterval: g.pipeline.FlushInterval().String(),
		},
		Performance: perf,
		Writer:      g.writer.Stats(),
		SuccessRate: perf.SuccessRate(),
		Latest:      vals,
	}
}

func (g *Gateway) logStats() {
	perf := g.perf.Snapshot()
	ws := g.writer.Stats()
	ss := g.session.Stats()
	g.log.Infow("statistics",
		"samples", perf.TotalSamples,
		"successful_writes", perf.SuccessfulWrites,
		"failed_writes", perf.FailedWrites,
		"success_rate", perf.SuccessRate(),
		"avg_latency_ms", perf.AvgLatencyMs,
		"reconnects", perf.Reconnects,
		"sink_writes", ws.TotalWrites,
		"sink_success_rate", ws.SuccessRate(),
		"queue", g.pipeline.QueueLen(),
		"notifications", ss.Messages,
		"subscription_errors", ss.SubscriptionErrors,
	)
}

func (g *Gateway) heartbeat() {
	g.log.Infow("heartbeat",
		"state", g.session.State(),
		"pipeline_healthy", g.pipeline.Healthy(),
		"uptime", time.Since(g.started).Round(time.Second).String(),
	)
}

// publish writes the status file and stores the last values, whichever is configured.
func (g *Gateway) publish(ctx context.Context) {
	if path := g.cfg.System.StatusFile; path != "" {
		if err := output.WriteJSON(path, g.Status()); err != nil {
			g.log.Warnw("status file not written", "path", path, "error", err)
		}
	}
	g.persistLatest(ctx)
}

func (g *Gateway) persistLatest(ctx context.Context) {
	if g.store == nil {
		return
	}
	latest := g.pipeline.Latest()
	vals := make([]model.LatestValue, 0, len(latest))
	for _, s := range latest {
		vals = append(vals, model.Latest(s))
	}
	if err := g.store.SaveLatest(ctx, vals); err != nil {
		g.log.Warnw("last values not stored", "error", err)
	}
}
