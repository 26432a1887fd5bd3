package model

import "radiance/internal/config"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Run describes one training run. The full configuration is retained so a
// checkpoint can be restored into an identically shaped pipeline.
type Run struct {
	VersionedRecord
	ID             string        `json:"id"`
	CreatedAtUTC   string        `json:"created_at_utc"`
	Scene          string        `json:"scene"`
	Config         config.Config `json:"config"`
	CompletedSteps int           `json:"completed_steps"`
	SkippedSteps   int           `json:"skipped_steps"`
}

// Checkpoint is a resumable training state: network parameters plus
// optimizer moments.
type Checkpoint struct {
	VersionedRecord
	RunID        string    `json:"run_id"`
	Step         int       `json:"step"`
	SkippedSteps int       `json:"skipped_steps"`
	Params       []float64 `json:"params"`
	OptM         []float64 `json:"opt_m"`
	OptV         []float64 `json:"opt_v"`
	OptStep      int       `json:"opt_step"`
}

// MetricSample is one evaluation measurement taken during a run.
type MetricSample struct {
	Step  int     `json:"step"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}
