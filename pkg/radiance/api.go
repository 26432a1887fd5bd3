// Package radiance is the embeddable front door to the training core: it
// wires the renderer, trainer, storage and evaluation artifacts together
// behind a small client.
package radiance

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"radiance/internal/config"
	"radiance/internal/dataset"
	"radiance/internal/geom"
	"radiance/internal/model"
	"radiance/internal/platform"
	"radiance/internal/render"
	"radiance/internal/stats"
	"radiance/internal/storage"
	"radiance/internal/train"
	"radiance/internal/vis"
)

const (
	defaultArtifactsDir = "artifacts"
	defaultDBPath       = "radiance.db"
	defaultEvalWidth    = 64
	defaultEvalHeight   = 64
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
}

type Client struct {
	store       storage.Store
	initialized bool

	artifactsDir string
}

type TrainRequest struct {
	Config *config.Config
	RunID  string
	Resume bool

	// Evaluation render size used by the periodic eval hook.
	EvalWidth  int
	EvalHeight int

	OnStep func(train.StepResult)
}

type TrainSummary struct {
	RunID        string
	Steps        int
	SkippedSteps int
	FinalLoss    float64
	ArtifactsDir string
}

type RenderRequest struct {
	RunID   string
	Latest  bool
	Width   int
	Height  int
	Upscale int
	OutDir  string
}

type RenderSummary struct {
	RunID     string
	Step      int
	Directory string
}

type EvalRequest struct {
	RunID       string
	Latest      bool
	Width       int
	Height      int
	ComputeSSIM bool
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string
	CreatedAtUTC   string
	Scene          string
	Seed           int64
	MaxSteps       int
	CompletedSteps int
	SkippedSteps   int
}

type MetricsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type LossHistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Train runs (or resumes) a training run, persisting checkpoints, loss
// history and evaluation metrics as it goes.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	cfg := config.Default()
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return TrainSummary{}, err
	}
	if req.EvalWidth <= 0 {
		req.EvalWidth = defaultEvalWidth
	}
	if req.EvalHeight <= 0 {
		req.EvalHeight = defaultEvalHeight
	}
	if req.Resume && req.RunID == "" {
		return TrainSummary{}, errors.New("resume requires a run id")
	}
	if err := c.Init(ctx); err != nil {
		return TrainSummary{}, err
	}

	loader, err := dataset.New(cfg.DatasetLoader, cfg.NearPlane, cfg.FarPlane)
	if err != nil {
		return TrainSummary{}, err
	}
	trainer, err := train.New(cfg, loader)
	if err != nil {
		return TrainSummary{}, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	var lossHistory []float64
	var metricSamples []model.MetricSample
	if req.Resume {
		checkpoint, ok, err := c.store.GetCheckpoint(ctx, runID)
		if err != nil {
			return TrainSummary{}, err
		}
		if !ok {
			return TrainSummary{}, fmt.Errorf("no checkpoint for run id: %s", runID)
		}
		if err := trainer.Restore(train.Snapshot{
			Step:         checkpoint.Step,
			SkippedSteps: checkpoint.SkippedSteps,
			Params:       checkpoint.Params,
			OptM:         checkpoint.OptM,
			OptV:         checkpoint.OptV,
			OptStep:      checkpoint.OptStep,
		}); err != nil {
			return TrainSummary{}, err
		}
		if history, ok, err := c.store.GetLossHistory(ctx, runID); err != nil {
			return TrainSummary{}, err
		} else if ok {
			lossHistory = history
		}
		if samples, ok, err := c.store.GetMetrics(ctx, runID); err != nil {
			return TrainSummary{}, err
		} else if ok {
			metricSamples = samples
		}
	}

	run := model.Run{
		VersionedRecord: currentVersion(),
		ID:              runID,
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		Scene:           loader.Name(),
		Config:          cfg,
	}
	if req.Resume {
		if existing, ok, err := c.store.GetRun(ctx, runID); err != nil {
			return TrainSummary{}, err
		} else if ok {
			run = existing
		}
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return TrainSummary{}, err
	}

	runDir := filepath.Join(c.artifactsDir, runID)
	harness := stats.MetricHarness{}
	finalLoss := 0.0

	hooks := train.Hooks{
		OnStep: func(result train.StepResult) {
			finalLoss = result.Loss
			lossHistory = append(lossHistory, result.Loss)
			if req.OnStep != nil {
				req.OnStep(result)
			}
		},
		OnCheckpoint: func(ctx context.Context, snap train.Snapshot) error {
			checkpoint := model.Checkpoint{
				VersionedRecord: currentVersion(),
				RunID:           runID,
				Step:            snap.Step,
				SkippedSteps:    snap.SkippedSteps,
				Params:          snap.Params,
				OptM:            snap.OptM,
				OptV:            snap.OptV,
				OptStep:         snap.OptStep,
			}
			if err := c.store.SaveCheckpoint(ctx, checkpoint); err != nil {
				return err
			}
			return c.store.SaveLossHistory(ctx, runID, lossHistory)
		},
		OnEval: func(ctx context.Context, step int) error {
			frame, truth, err := renderEvalFrame(ctx, trainer.Pipeline(), loader, req.EvalWidth, req.EvalHeight, cfg.Workers)
			if err != nil {
				return err
			}
			metrics, err := harness.Evaluate(frame.Colors, truth, frame.Width, frame.Height)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(metrics))
			for name := range metrics {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				metricSamples = append(metricSamples, model.MetricSample{Step: step, Name: name, Value: metrics[name]})
			}
			if err := c.store.SaveMetrics(ctx, runID, metricSamples); err != nil {
				return err
			}
			return writeFrameImages(runDir, fmt.Sprintf("step-%08d", step), frame)
		},
	}

	// Training runs as a supervised job: a transient failure (a checkpoint
	// write hiccup, a dataset stall) restarts the loop from the trainer's
	// in-memory state instead of losing the run.
	sup := platform.NewSupervisor(platform.SupervisorPolicy{MaxRestarts: 3})
	var trainErr error
	jobCtx, cancelJob := context.WithCancel(context.Background())
	defer cancelJob()
	stop := context.AfterFunc(ctx, cancelJob)
	defer stop()
	if err := sup.StartSpec(platform.JobSpec{Name: runID, Restart: platform.RestartTransient}, func(context.Context) error {
		trainErr = trainer.Run(jobCtx, hooks)
		if jobCtx.Err() != nil {
			// Cancellation is a clean exit, not a restartable failure.
			trainErr = jobCtx.Err()
			return nil
		}
		return trainErr
	}); err != nil {
		return TrainSummary{}, err
	}
	sup.Wait(runID)
	if err := ctx.Err(); err != nil {
		return TrainSummary{}, err
	}
	if trainErr != nil {
		return TrainSummary{}, trainErr
	}

	run.CompletedSteps = trainer.Step()
	run.SkippedSteps = trainer.SkippedSteps()
	if err := c.store.SaveRun(ctx, run); err != nil {
		return TrainSummary{}, err
	}
	snap := trainer.Snapshot()
	if err := c.store.SaveCheckpoint(ctx, model.Checkpoint{
		VersionedRecord: currentVersion(),
		RunID:           runID,
		Step:            snap.Step,
		SkippedSteps:    snap.SkippedSteps,
		Params:          snap.Params,
		OptM:            snap.OptM,
		OptV:            snap.OptV,
		OptStep:         snap.OptStep,
	}); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SaveLossHistory(ctx, runID, lossHistory); err != nil {
		return TrainSummary{}, err
	}

	return TrainSummary{
		RunID:        runID,
		Steps:        trainer.Step(),
		SkippedSteps: trainer.SkippedSteps(),
		FinalLoss:    finalLoss,
		ArtifactsDir: filepath.Clean(runDir),
	}, nil
}

// Render restores a checkpoint and writes the color, depth, normal and
// opacity maps for the evaluation viewpoint.
func (c *Client) Render(ctx context.Context, req RenderRequest) (RenderSummary, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return RenderSummary{}, err
	}
	if req.Width <= 0 {
		req.Width = defaultEvalWidth
	}
	if req.Height <= 0 {
		req.Height = defaultEvalHeight
	}
	if req.OutDir == "" {
		req.OutDir = filepath.Join(c.artifactsDir, runID)
	}

	pipeline, loader, checkpoint, err := c.restorePipeline(ctx, runID)
	if err != nil {
		return RenderSummary{}, err
	}
	frame, _, err := renderEvalFrame(ctx, pipeline, loader, req.Width, req.Height, pipeline.Config().Workers)
	if err != nil {
		return RenderSummary{}, err
	}
	prefix := fmt.Sprintf("render-%08d", checkpoint.Step)
	if req.Upscale > 1 {
		if err := writeFrameImagesUpscaled(req.OutDir, prefix, frame, req.Upscale); err != nil {
			return RenderSummary{}, err
		}
	} else if err := writeFrameImages(req.OutDir, prefix, frame); err != nil {
		return RenderSummary{}, err
	}
	return RenderSummary{RunID: runID, Step: checkpoint.Step, Directory: filepath.Clean(req.OutDir)}, nil
}

// Eval restores a checkpoint and computes image metrics against the
// loader's ground truth.
func (c *Client) Eval(ctx context.Context, req EvalRequest) (map[string]float64, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if req.Width <= 0 {
		req.Width = defaultEvalWidth
	}
	if req.Height <= 0 {
		req.Height = defaultEvalHeight
	}

	pipeline, loader, _, err := c.restorePipeline(ctx, runID)
	if err != nil {
		return nil, err
	}
	frame, truth, err := renderEvalFrame(ctx, pipeline, loader, req.Width, req.Height, pipeline.Config().Workers)
	if err != nil {
		return nil, err
	}
	harness := stats.MetricHarness{ComputeSSIM: req.ComputeSSIM}
	return harness.Evaluate(frame.Colors, truth, frame.Width, frame.Height)
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC })
	if len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}

	out := make([]RunItem, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunItem{
			RunID:          run.ID,
			CreatedAtUTC:   run.CreatedAtUTC,
			Scene:          run.Scene,
			Seed:           run.Config.Seed,
			MaxSteps:       run.Config.MaxSteps,
			CompletedSteps: run.CompletedSteps,
			SkippedSteps:   run.SkippedSteps,
		})
	}
	return out, nil
}

func (c *Client) Metrics(ctx context.Context, req MetricsRequest) ([]model.MetricSample, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	samples, ok, err := c.store.GetMetrics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("metrics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(samples) > req.Limit {
		samples = samples[len(samples)-req.Limit:]
	}
	out := make([]model.MetricSample, len(samples))
	copy(out, samples)
	return out, nil
}

func (c *Client) LossHistory(ctx context.Context, req LossHistoryRequest) ([]float64, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	history, ok, err := c.store.GetLossHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("loss history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[len(history)-req.Limit:]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if latest {
		runs, err := c.store.ListRuns(ctx)
		if err != nil {
			return "", err
		}
		if len(runs) == 0 {
			return "", errors.New("no runs available")
		}
		sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC })
		return runs[0].ID, nil
	}
	if runID == "" {
		return "", errors.New("run id or latest is required")
	}
	return runID, nil
}

// restorePipeline rebuilds the renderer for a stored run and loads its
// latest checkpoint parameters into it.
func (c *Client) restorePipeline(ctx context.Context, runID string) (*render.Pipeline, dataset.Loader, model.Checkpoint, error) {
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, model.Checkpoint{}, err
	}
	if !ok {
		return nil, nil, model.Checkpoint{}, fmt.Errorf("run not found: %s", runID)
	}
	checkpoint, ok, err := c.store.GetCheckpoint(ctx, runID)
	if err != nil {
		return nil, nil, model.Checkpoint{}, err
	}
	if !ok {
		return nil, nil, model.Checkpoint{}, fmt.Errorf("no checkpoint for run id: %s", runID)
	}

	cfg := run.Config
	if err := cfg.Validate(); err != nil {
		return nil, nil, model.Checkpoint{}, fmt.Errorf("stored run %s: %w", runID, err)
	}
	loader, err := dataset.New(run.Scene, cfg.NearPlane, cfg.FarPlane)
	if err != nil {
		return nil, nil, model.Checkpoint{}, err
	}
	pipeline, err := render.NewPipeline(cfg, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return nil, nil, model.Checkpoint{}, err
	}
	if err := pipeline.SetFlat(checkpoint.Params); err != nil {
		return nil, nil, model.Checkpoint{}, err
	}
	return pipeline, loader, checkpoint, nil
}

func renderEvalFrame(ctx context.Context, pipeline *render.Pipeline, loader dataset.Loader, width, height, workers int) (vis.Frame, []geom.Vec3, error) {
	batch := loader.EvalRays(width, height)
	if err := batch.Validate(); err != nil {
		return vis.Frame{}, nil, err
	}
	outputs, err := render.RenderBatch(ctx, pipeline, batch.Rays, render.BatchOptions{
		ChunkSize: pipeline.Config().RenderChunkSize,
		Workers:   workers,
		Seed:      pipeline.Config().Seed,
		Progress:  1,
	})
	if err != nil {
		return vis.Frame{}, nil, err
	}

	frame := vis.Frame{
		Width:   width,
		Height:  height,
		Colors:  make([]geom.Vec3, len(outputs)),
		Depths:  make([]float64, len(outputs)),
		Accs:    make([]float64, len(outputs)),
		Normals: make([]geom.Vec3, len(outputs)),
	}
	for i, out := range outputs {
		fine := out.Fine()
		frame.Colors[i] = fine.Color
		frame.Depths[i] = fine.Depth
		frame.Accs[i] = fine.Acc
		frame.Normals[i] = fine.Normal
	}
	return frame, batch.Colors, nil
}

func writeFrameImages(dir, prefix string, frame vis.Frame) error {
	return writeFrameImagesUpscaled(dir, prefix, frame, 1)
}

func writeFrameImagesUpscaled(dir, prefix string, frame vis.Frame, factor int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	images := []struct {
		suffix string
		build  func(vis.Frame) (*image.NRGBA, error)
	}{
		{"color", vis.ColorImage},
		{"depth", vis.DepthImage},
		{"normal", vis.NormalImage},
		{"acc", vis.AccImage},
	}
	for _, entry := range images {
		img, err := entry.build(frame)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.webp", prefix, entry.suffix))
		if err := vis.WriteWebP(path, vis.Upscale(img, factor)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func currentVersion() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}
}
