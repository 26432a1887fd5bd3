package storage

import (
	"context"
	"sync"

	"radiance/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.Run
	checkpoints map[string]model.Checkpoint
	history     map[string][]float64
	metrics     map[string][]model.MetricSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.Run)
	s.checkpoints = make(map[string]model.Checkpoint)
	s.history = make(map[string][]float64)
	s.metrics = make(map[string][]model.MetricSample)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := checkpoint
	copied.Params = append([]float64(nil), checkpoint.Params...)
	copied.OptM = append([]float64(nil), checkpoint.OptM...)
	copied.OptV = append([]float64(nil), checkpoint.OptV...)
	s.checkpoints[checkpoint.RunID] = copied
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, ok := s.checkpoints[runID]
	if !ok {
		return model.Checkpoint{}, false, nil
	}
	copied := checkpoint
	copied.Params = append([]float64(nil), checkpoint.Params...)
	copied.OptM = append([]float64(nil), checkpoint.OptM...)
	copied.OptV = append([]float64(nil), checkpoint.OptV...)
	return copied, true, nil
}

func (s *MemoryStore) SaveLossHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := append([]float64(nil), history...)
	s.history[runID] = copied
	return nil
}

func (s *MemoryStore) GetLossHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	copied := append([]float64(nil), history...)
	return copied, true, nil
}

func (s *MemoryStore) SaveMetrics(_ context.Context, runID string, samples []model.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.MetricSample, len(samples))
	copy(copied, samples)
	s.metrics[runID] = copied
	return nil
}

func (s *MemoryStore) GetMetrics(_ context.Context, runID string) ([]model.MetricSample, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples, ok := s.metrics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.MetricSample, len(samples))
	copy(copied, samples)
	return copied, true, nil
}
