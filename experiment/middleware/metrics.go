package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"

	"github.com/max-27/mlmi-federated-learning/experiment"
)

var _ experiment.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     experiment.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc experiment.Service) experiment.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) CreateRun(ctx context.Context, cfg experiment.Config) (experiment.Run, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "create-run").Add(1)
		mm.latency.With("method", "create-run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CreateRun(ctx, cfg)
}

func (mm *metricsMiddleware) GetRun(ctx context.Context, id string) (experiment.Run, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-run").Add(1)
		mm.latency.With("method", "get-run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetRun(ctx, id)
}

func (mm *metricsMiddleware) UpdateRun(ctx context.Context, r experiment.Run) (experiment.Run, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "update-run").Add(1)
		mm.latency.With("method", "update-run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.UpdateRun(ctx, r)
}

func (mm *metricsMiddleware) ListRuns(ctx context.Context, offset, limit uint64) (experiment.RunPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-runs").Add(1)
		mm.latency.With("method", "list-runs").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListRuns(ctx, offset, limit)
}

func (mm *metricsMiddleware) ListRounds(ctx context.Context, runID string) (experiment.RoundPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-rounds").Add(1)
		mm.latency.With("method", "list-rounds").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListRounds(ctx, runID)
}

func (mm *metricsMiddleware) GetClusters(ctx context.Context, runID string) (map[string][]string, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-clusters").Add(1)
		mm.latency.With("method", "get-clusters").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetClusters(ctx, runID)
}

func (mm *metricsMiddleware) RunFederated(ctx context.Context, runID string) (experiment.Run, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "run-federated").Add(1)
		mm.latency.With("method", "run-federated").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RunFederated(ctx, runID)
}

func (mm *metricsMiddleware) RunHierarchical(ctx context.Context, runID string) (experiment.Run, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "run-hierarchical").Add(1)
		mm.latency.With("method", "run-hierarchical").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RunHierarchical(ctx, runID)
}
