// Package train drives optimization: it renders ray batches, composes the
// loss, estimates gradients by simultaneous perturbation over the flat
// parameter vector, and applies Adam updates. A numerically unstable step
// is skipped and counted rather than aborting the run.
package train

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"radiance/internal/config"
	"radiance/internal/consistency"
	"radiance/internal/dataset"
	"radiance/internal/geom"
	"radiance/internal/loss"
	"radiance/internal/render"
)

// Perturbation scale for the two-sided gradient estimate.
const spsaScale = 1e-3

// Offset between per-step random streams.
const stepSeedStride = 1_000_003

// StepResult reports one training step.
type StepResult struct {
	Step    int
	Loss    float64
	Terms   []loss.Term
	Skipped bool
}

// Snapshot is everything needed to resume training.
type Snapshot struct {
	Step         int       `json:"step"`
	SkippedSteps int       `json:"skipped_steps"`
	Params       []float64 `json:"params"`
	OptM         []float64 `json:"opt_m"`
	OptV         []float64 `json:"opt_v"`
	OptStep      int       `json:"opt_step"`
}

// Hooks let the caller observe and persist training without the trainer
// knowing about storage or rendering drivers.
type Hooks struct {
	OnStep       func(StepResult)
	OnCheckpoint func(ctx context.Context, snap Snapshot) error
	OnEval       func(ctx context.Context, step int) error
}

// Trainer owns the pipeline parameters and the optimizer state.
type Trainer struct {
	cfg      config.Config
	pipeline *render.Pipeline
	composer *loss.Composer
	cons     *consistency.Module
	loader   dataset.Loader

	opt     *Adam
	params  []float64
	step    int
	skipped int
}

func New(cfg config.Config, loader dataset.Loader) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	pipeline, err := render.NewPipeline(cfg, rng)
	if err != nil {
		return nil, err
	}
	t := &Trainer{
		cfg:      cfg,
		pipeline: pipeline,
		composer: loss.NewComposer(cfg),
		loader:   loader,
		params:   pipeline.Flatten(nil),
	}
	if cfg.ConsistencyEnabled() {
		t.cons = consistency.New(cfg, pipeline)
	}
	t.opt = NewAdam(len(t.params))
	return t, nil
}

// Pipeline exposes the underlying renderer (for evaluation drivers).
func (t *Trainer) Pipeline() *render.Pipeline { return t.pipeline }

// Step returns the current step counter.
func (t *Trainer) Step() int { return t.step }

// SkippedSteps returns how many steps were abandoned for non-finite loss.
func (t *Trainer) SkippedSteps() int { return t.skipped }

// Snapshot captures the trainable and optimizer state.
func (t *Trainer) Snapshot() Snapshot {
	m, v, optStep := t.opt.Snapshot()
	return Snapshot{
		Step:         t.step,
		SkippedSteps: t.skipped,
		Params:       append([]float64(nil), t.params...),
		OptM:         m,
		OptV:         v,
		OptStep:      optStep,
	}
}

// Restore resumes from a snapshot taken with the same configuration.
func (t *Trainer) Restore(snap Snapshot) error {
	if len(snap.Params) != len(t.params) {
		return fmt.Errorf("train: snapshot has %d params, model has %d", len(snap.Params), len(t.params))
	}
	copy(t.params, snap.Params)
	if err := t.pipeline.SetFlat(t.params); err != nil {
		return err
	}
	if err := t.opt.Restore(snap.OptM, snap.OptV, snap.OptStep); err != nil {
		return err
	}
	t.step = snap.Step
	t.skipped = snap.SkippedSteps
	return nil
}

// RunStep executes one training step: a step either completes and updates
// the parameters or is abandoned wholesale.
func (t *Trainer) RunStep(ctx context.Context) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	batchRng := rand.New(rand.NewSource(t.cfg.Seed + int64(t.step)*stepSeedStride))
	batch := t.loader.NextBatch(batchRng, t.cfg.BatchSize)
	if err := batch.Validate(); err != nil {
		return StepResult{}, err
	}

	progress := float64(t.step) / float64(t.cfg.MaxSteps)
	renderSeed := t.cfg.Seed + int64(t.step)*stepSeedStride + 1

	// Two-sided perturbation with common random numbers: both loss
	// evaluations see identical batches and jitter streams, so the
	// difference isolates the parameter change.
	delta := make([]float64, len(t.params))
	for i := range delta {
		if batchRng.Intn(2) == 0 {
			delta[i] = 1
		} else {
			delta[i] = -1
		}
	}

	perturbed := make([]float64, len(t.params))
	for i := range perturbed {
		perturbed[i] = t.params[i] + spsaScale*delta[i]
	}
	lossPlus, termsPlus, err := t.evalLoss(ctx, perturbed, batch, renderSeed, progress)
	if err != nil {
		return StepResult{}, err
	}
	for i := range perturbed {
		perturbed[i] = t.params[i] - spsaScale*delta[i]
	}
	lossMinus, _, err := t.evalLoss(ctx, perturbed, batch, renderSeed, progress)
	if err != nil {
		return StepResult{}, err
	}

	result := StepResult{Step: t.step, Loss: 0.5 * (lossPlus + lossMinus), Terms: termsPlus}

	if !isFinite(lossPlus) || !isFinite(lossMinus) {
		// Recoverable instability: restore parameters and move on.
		t.skipped++
		result.Skipped = true
		if err := t.pipeline.SetFlat(t.params); err != nil {
			return StepResult{}, err
		}
		t.step++
		return result, nil
	}

	grads := make([]float64, len(t.params))
	scale := (lossPlus - lossMinus) / (2 * spsaScale)
	for i := range grads {
		grads[i] = scale * delta[i]
	}
	if err := t.opt.Step(t.params, grads, t.learningRate(progress)); err != nil {
		return StepResult{}, err
	}
	if err := t.pipeline.SetFlat(t.params); err != nil {
		return StepResult{}, err
	}
	t.step++
	return result, nil
}

// Run drives steps until max_steps or cancellation, invoking hooks at the
// configured intervals.
func (t *Trainer) Run(ctx context.Context, hooks Hooks) error {
	for t.step < t.cfg.MaxSteps {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := t.RunStep(ctx)
		if err != nil {
			return err
		}
		if hooks.OnStep != nil {
			hooks.OnStep(result)
		}
		if hooks.OnCheckpoint != nil && t.cfg.CheckpointEvery > 0 && t.step%t.cfg.CheckpointEvery == 0 {
			if err := hooks.OnCheckpoint(ctx, t.Snapshot()); err != nil {
				return fmt.Errorf("checkpoint at step %d: %w", t.step, err)
			}
		}
		if hooks.OnEval != nil && t.cfg.EvalRenderInterval > 0 && t.step%t.cfg.EvalRenderInterval == 0 {
			if err := hooks.OnEval(ctx, t.step); err != nil {
				return fmt.Errorf("eval at step %d: %w", t.step, err)
			}
		}
	}
	return nil
}

// evalLoss renders the batch under the given parameters and composes the
// loss scalar.
func (t *Trainer) evalLoss(ctx context.Context, params []float64, batch dataset.Batch, seed int64, progress float64) (float64, []loss.Term, error) {
	if err := t.pipeline.SetFlat(params); err != nil {
		return 0, nil, err
	}

	outputs, err := render.RenderBatch(ctx, t.pipeline, batch.Rays, render.BatchOptions{
		ChunkSize: t.cfg.RenderChunkSize,
		Workers:   t.cfg.Workers,
		Seed:      seed,
		Progress:  progress,
		Train:     true,
	})
	if err != nil {
		return 0, nil, err
	}

	var consValues []consistency.Values
	if t.cons != nil {
		if consValues, err = t.measureConsistency(ctx, batch, outputs, seed, progress); err != nil {
			return 0, nil, err
		}
	}

	dirs := make([]geom.Vec3, len(batch.Rays))
	for i, ray := range batch.Rays {
		dirs[i] = ray.Dir
	}
	return t.composer.Compose(loss.BatchInput{
		Outputs:     outputs,
		Truth:       batch.Colors,
		Dirs:        dirs,
		Consistency: consValues,
		Step:        t.step,
	})
}

// measureConsistency fans noise rays out for every primary ray, in
// parallel across workers.
func (t *Trainer) measureConsistency(ctx context.Context, batch dataset.Batch, outputs []render.RayOutputs, seed int64, progress float64) ([]consistency.Values, error) {
	values := make([]consistency.Values, len(batch.Rays))
	workers := t.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	indices := make(chan int, len(batch.Rays))
	for i := range batch.Rays {
		indices <- i
	}
	close(indices)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := range indices {
				if ctx.Err() != nil {
					return
				}
				rng := rand.New(rand.NewSource(seed + int64(i)*7 + 13))
				v, err := t.cons.Measure(rng, batch.Rays[i], outputs[i].Fine(), progress, true)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				values[i] = v
			}
		}(w)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return values, ctx.Err()
}

// learningRate log-interpolates between lr_init and lr_final.
func (t *Trainer) learningRate(progress float64) float64 {
	p := math.Min(math.Max(progress, 0), 1)
	return math.Exp(math.Log(t.cfg.LRInit)*(1-p) + math.Log(t.cfg.LRFinal)*p)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
