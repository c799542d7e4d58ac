package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/max-27/mlmi-federated-learning/experiment"
)

var _ experiment.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    experiment.Service
}

func Tracing(tracer trace.Tracer, svc experiment.Service) experiment.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) CreateRun(ctx context.Context, cfg experiment.Config) (experiment.Run, error) {
	ctx, span := tm.tracer.Start(ctx, "create-run", trace.WithAttributes(
		attribute.String("preset", cfg.Preset),
		attribute.String("dataset", cfg.Dataset),
	))
	defer span.End()

	return tm.svc.CreateRun(ctx, cfg)
}

func (tm *tracing) GetRun(ctx context.Context, id string) (experiment.Run, error) {
	ctx, span := tm.tracer.Start(ctx, "get-run", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.GetRun(ctx, id)
}

func (tm *tracing) UpdateRun(ctx context.Context, r experiment.Run) (experiment.Run, error) {
	ctx, span := tm.tracer.Start(ctx, "update-run", trace.WithAttributes(
		attribute.String("id", r.ID),
		attribute.String("name", r.Name),
	))
	defer span.End()

	return tm.svc.UpdateRun(ctx, r)
}

func (tm *tracing) ListRuns(ctx context.Context, offset, limit uint64) (experiment.RunPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-runs", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListRuns(ctx, offset, limit)
}

func (tm *tracing) ListRounds(ctx context.Context, runID string) (experiment.RoundPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-rounds", trace.WithAttributes(
		attribute.String("id", runID),
	))
	defer span.End()

	return tm.svc.ListRounds(ctx, runID)
}

func (tm *tracing) GetClusters(ctx context.Context, runID string) (map[string][]string, error) {
	ctx, span := tm.tracer.Start(ctx, "get-clusters", trace.WithAttributes(
		attribute.String("id", runID),
	))
	defer span.End()

	return tm.svc.GetClusters(ctx, runID)
}

func (tm *tracing) RunFederated(ctx context.Context, runID string) (experiment.Run, error) {
	ctx, span := tm.tracer.Start(ctx, "run-federated", trace.WithAttributes(
		attribute.String("id", runID),
	))
	defer span.End()

	return tm.svc.RunFederated(ctx, runID)
}

func (tm *tracing) RunHierarchical(ctx context.Context, runID string) (experiment.Run, error) {
	ctx, span := tm.tracer.Start(ctx, "run-hierarchical", trace.WithAttributes(
		attribute.String("id", runID),
	))
	defer span.End()

	return tm.svc.RunHierarchical(ctx, runID)
}
