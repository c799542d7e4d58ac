package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/max-27/mlmi-federated-learning/experiment"
)

var _ experiment.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    experiment.Service
}

func Logging(logger *slog.Logger, svc experiment.Service) experiment.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) CreateRun(ctx context.Context, cfg experiment.Config) (resp experiment.Run, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("run",
				slog.String("id", resp.ID),
				slog.String("name", resp.Name),
				slog.String("preset", cfg.Preset),
				slog.String("dataset", cfg.Dataset),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Create run failed", args...)

			return
		}
		lm.logger.Info("Create run completed successfully", args...)
	}(time.Now())

	return lm.svc.CreateRun(ctx, cfg)
}

func (lm *loggingMiddleware) GetRun(ctx context.Context, id string) (resp experiment.Run, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("run",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get run failed", args...)

			return
		}
		lm.logger.Info("Get run completed successfully", args...)
	}(time.Now())

	return lm.svc.GetRun(ctx, id)
}

func (lm *loggingMiddleware) UpdateRun(ctx context.Context, r experiment.Run) (resp experiment.Run, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("run",
				slog.String("id", r.ID),
				slog.String("name", r.Name),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Update run failed", args...)

			return
		}
		lm.logger.Info("Update run completed successfully", args...)
	}(time.Now())

	return lm.svc.UpdateRun(ctx, r)
}

func (lm *loggingMiddleware) ListRuns(ctx context.Context, offset, limit uint64) (resp experiment.RunPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List runs failed", args...)

			return
		}
		lm.logger.Info("List runs completed successfully", args...)
	}(time.Now())

	return lm.svc.ListRuns(ctx, offset, limit)
}

func (lm *loggingMiddleware) ListRounds(ctx context.Context, runID string) (resp experiment.RoundPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("run",
				slog.String("id", runID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List rounds failed", args...)

			return
		}
		lm.logger.Info("List rounds completed successfully", args...)
	}(time.Now())

	return lm.svc.ListRounds(ctx, runID)
}

func (lm *loggingMiddleware) GetClusters(ctx context.Context, runID string) (resp map[string][]string, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("run",
				slog.String("id", runID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get clusters failed", args...)

			return
		}
		lm.logger.Info("Get clusters completed successfully", args...)
	}(time.Now())

	return lm.svc.GetClusters(ctx, runID)
}

func (lm *loggingMiddleware) RunFederated(ctx context.Context, runID string) (resp experiment.Run, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("run",
				slog.String("id", runID),
				slog.Int("rounds", resp.CurrentRound),
				slog.Float64("loss", resp.Loss),
				slog.Float64("accuracy", resp.Accuracy),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Federated training failed", args...)

			return
		}
		lm.logger.Info("Federated training completed successfully", args...)
	}(time.Now())

	return lm.svc.RunFederated(ctx, runID)
}

func (lm *loggingMiddleware) RunHierarchical(ctx context.Context, runID string) (resp experiment.Run, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("run",
				slog.String("id", runID),
				slog.Int("clusters", len(resp.Clusters)),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Hierarchical stage failed", args...)

			return
		}
		lm.logger.Info("Hierarchical stage completed successfully", args...)
	}(time.Now())

	return lm.svc.RunHierarchical(ctx, runID)
}
