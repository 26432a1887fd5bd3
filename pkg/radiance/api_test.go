package radiance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"radiance/internal/config"
	"radiance/internal/train"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.NumPropSamples = 6
	cfg.NumNerfSamples = 4
	cfg.NetDepth = 1
	cfg.NetWidth = 8
	cfg.BottleneckWidth = 4
	cfg.DegPoint = 2
	cfg.DegView = 2
	cfg.MaxSteps = 4
	cfg.BatchSize = 2
	cfg.RenderChunkSize = 2
	cfg.Workers = 2
	cfg.CheckpointEvery = 2
	cfg.EvalRenderInterval = 0
	cfg.SampleNoiseSize = 0
	return cfg
}

func testClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(Options{StoreKind: "memory", ArtifactsDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTrainEndToEnd(t *testing.T) {
	client := testClient(t)
	cfg := testConfig()
	ctx := context.Background()

	var observed int
	summary, err := client.Train(ctx, TrainRequest{
		Config: &cfg,
		OnStep: func(train.StepResult) { observed++ },
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if summary.RunID == "" {
		t.Fatal("no run id assigned")
	}
	if summary.Steps != cfg.MaxSteps {
		t.Fatalf("steps: %d", summary.Steps)
	}
	if observed != cfg.MaxSteps {
		t.Fatalf("step callback fired %d times", observed)
	}

	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID {
		t.Fatalf("runs: %+v", runs)
	}
	if runs[0].CompletedSteps != cfg.MaxSteps {
		t.Fatalf("completed steps: %d", runs[0].CompletedSteps)
	}

	history, err := client.LossHistory(ctx, LossHistoryRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("loss history: %v", err)
	}
	if len(history) != cfg.MaxSteps {
		t.Fatalf("history length: %d", len(history))
	}
}

func TestTrainValidatesConfig(t *testing.T) {
	client := testClient(t)
	cfg := testConfig()
	cfg.MaxSteps = 0
	if _, err := client.Train(context.Background(), TrainRequest{Config: &cfg}); err == nil {
		t.Fatal("invalid config accepted")
	}
	if _, err := client.Train(context.Background(), TrainRequest{Resume: true}); err == nil {
		t.Fatal("resume without a run id accepted")
	}
}

func TestResumeContinuesRun(t *testing.T) {
	client := testClient(t)
	cfg := testConfig()
	ctx := context.Background()

	summary, err := client.Train(ctx, TrainRequest{Config: &cfg})
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	cfg2 := cfg
	cfg2.MaxSteps = 6
	resumed, err := client.Train(ctx, TrainRequest{Config: &cfg2, RunID: summary.RunID, Resume: true})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.RunID != summary.RunID {
		t.Fatalf("resume changed run id: %s", resumed.RunID)
	}
	if resumed.Steps != 6 {
		t.Fatalf("resumed steps: %d", resumed.Steps)
	}

	history, err := client.LossHistory(ctx, LossHistoryRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("loss history: %v", err)
	}
	// 4 original steps plus 2 resumed.
	if len(history) != 6 {
		t.Fatalf("history length: %d", len(history))
	}

	if _, err := client.Train(ctx, TrainRequest{Config: &cfg, RunID: "nope", Resume: true}); err == nil {
		t.Fatal("resume of unknown run accepted")
	}
}

func TestRenderWritesArtifacts(t *testing.T) {
	client := testClient(t)
	cfg := testConfig()
	ctx := context.Background()

	summary, err := client.Train(ctx, TrainRequest{Config: &cfg})
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	outDir := t.TempDir()
	rendered, err := client.Render(ctx, RenderRequest{
		RunID:  summary.RunID,
		Width:  8,
		Height: 8,
		OutDir: outDir,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if rendered.Step != cfg.MaxSteps {
		t.Fatalf("rendered step: %d", rendered.Step)
	}
	for _, suffix := range []string{"color", "depth", "normal", "acc"} {
		path := filepath.Join(outDir, "render-00000004-"+suffix+".webp")
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing %s image: %v", suffix, err)
		}
	}
}

func TestEvalReturnsMetrics(t *testing.T) {
	client := testClient(t)
	cfg := testConfig()
	ctx := context.Background()

	if _, err := client.Train(ctx, TrainRequest{Config: &cfg}); err != nil {
		t.Fatalf("train: %v", err)
	}

	metrics, err := client.Eval(ctx, EvalRequest{Latest: true, Width: 8, Height: 8, ComputeSSIM: true})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if _, ok := metrics["psnr"]; !ok {
		t.Fatalf("metrics: %v", metrics)
	}
	if _, ok := metrics["ssim"]; !ok {
		t.Fatalf("metrics: %v", metrics)
	}
}

func TestResolveRunID(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	if _, err := client.resolveRunID(ctx, "", false); err == nil {
		t.Fatal("empty request accepted")
	}
	if _, err := client.resolveRunID(ctx, "id", true); err == nil {
		t.Fatal("both id and latest accepted")
	}
	if _, err := client.resolveRunID(ctx, "", true); err == nil {
		t.Fatal("latest with no runs accepted")
	}

	cfg := testConfig()
	summary, err := client.Train(ctx, TrainRequest{Config: &cfg})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	id, err := client.resolveRunID(ctx, "", true)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if id != summary.RunID {
		t.Fatalf("latest resolved to %s, want %s", id, summary.RunID)
	}
}
