package storage

import (
	"context"

	"radiance/internal/model"
)

// Store defines persistence operations for runs, checkpoints and training
// histories.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, bool, error)
	ListRuns(ctx context.Context) ([]model.Run, error)
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
	SaveLossHistory(ctx context.Context, runID string, history []float64) error
	GetLossHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveMetrics(ctx context.Context, runID string, samples []model.MetricSample) error
	GetMetrics(ctx context.Context, runID string) ([]model.MetricSample, bool, error)
}
