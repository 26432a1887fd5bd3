package render

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"radiance/internal/config"
	"radiance/internal/geom"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.NumPropSamples = 8
	cfg.NumNerfSamples = 4
	cfg.NetDepth = 1
	cfg.NetWidth = 8
	cfg.BottleneckWidth = 4
	cfg.DegPoint = 2
	cfg.DegView = 2
	cfg.MaxSteps = 10
	cfg.BatchSize = 4
	cfg.RenderChunkSize = 2
	cfg.Workers = 2
	return cfg
}

func testRay() geom.Ray {
	return geom.NewRay(geom.New(0, 0, 3), geom.New(0, 0, -1), 0.1, 6)
}

func TestRenderRayLevelShape(t *testing.T) {
	cfg := testConfig()
	p, err := NewPipeline(cfg, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	out, err := p.RenderRay(rand.New(rand.NewSource(2)), testRay(), 0.5, false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(out.Levels) != cfg.NumLevels {
		t.Fatalf("level count: %d", len(out.Levels))
	}
	coarse, fine := out.Levels[0], out.Fine()
	if len(coarse.Weights) != cfg.NumPropSamples || len(coarse.Edges) != cfg.NumPropSamples+1 {
		t.Fatalf("coarse shape: %d weights, %d edges", len(coarse.Weights), len(coarse.Edges))
	}
	if len(fine.Weights) != cfg.NumNerfSamples || len(fine.Edges) != cfg.NumNerfSamples+1 {
		t.Fatalf("fine shape: %d weights, %d edges", len(fine.Weights), len(fine.Edges))
	}
}

func TestRenderRayWeightsBounded(t *testing.T) {
	p, err := NewPipeline(testConfig(), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	out, err := p.RenderRay(rand.New(rand.NewSource(3)), testRay(), 0.2, true)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for level, lo := range out.Levels {
		sum := 0.0
		for _, w := range lo.Weights {
			if w < 0 {
				t.Fatalf("level %d: negative weight %g", level, w)
			}
			sum += w
		}
		if sum > 1+1e-9 {
			t.Fatalf("level %d: weight sum %g exceeds 1", level, sum)
		}
		if math.Abs(sum-lo.Acc) > 1e-9 {
			t.Fatalf("level %d: acc %g != weight sum %g", level, lo.Acc, sum)
		}
	}
}

func TestPipelineSharedTrunk(t *testing.T) {
	cfg := testConfig()
	cfg.SingleMLP = true
	shared, err := NewPipeline(cfg, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if !shared.SharedTrunk() {
		t.Fatal("single_mlp pipeline reports separate trunks")
	}

	cfg.SingleMLP = false
	split, err := NewPipeline(cfg, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if split.SharedTrunk() {
		t.Fatal("two-field pipeline reports shared trunk")
	}
	if split.ParamCount() <= shared.ParamCount() {
		t.Fatalf("separate proposal field did not add parameters: %d vs %d",
			split.ParamCount(), shared.ParamCount())
	}
}

func TestPipelineFlattenRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.SingleMLP = false
	p, err := NewPipeline(cfg, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	params := p.Flatten(nil)
	if len(params) != p.ParamCount() {
		t.Fatalf("flatten length %d != param count %d", len(params), p.ParamCount())
	}
	for i := range params {
		params[i] += 0.125
	}
	if err := p.SetFlat(params); err != nil {
		t.Fatalf("set flat: %v", err)
	}
	again := p.Flatten(nil)
	for i := range again {
		if again[i] != params[i] {
			t.Fatalf("param %d: %g != %g", i, again[i], params[i])
		}
	}

	if err := p.SetFlat(params[:len(params)-1]); err == nil {
		t.Fatal("short parameter vector accepted")
	}
}

func TestRenderBatchDeterministicAcrossWorkerCounts(t *testing.T) {
	cfg := testConfig()
	p, err := NewPipeline(cfg, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	rays := make([]geom.Ray, 9)
	for i := range rays {
		dir := geom.New(float64(i)*0.05-0.2, 0.1, -1).Normalize()
		rays[i] = geom.NewRay(geom.New(0, 0, 3), dir, 0.1, 6)
	}

	opts := BatchOptions{ChunkSize: 2, Workers: 1, Seed: 42}
	serial, err := RenderBatch(context.Background(), p, rays, opts)
	if err != nil {
		t.Fatalf("serial render: %v", err)
	}
	opts.Workers = 4
	parallel, err := RenderBatch(context.Background(), p, rays, opts)
	if err != nil {
		t.Fatalf("parallel render: %v", err)
	}
	for i := range rays {
		if serial[i].Fine().Color != parallel[i].Fine().Color {
			t.Fatalf("ray %d color differs across worker counts", i)
		}
		if serial[i].Fine().Depth != parallel[i].Fine().Depth {
			t.Fatalf("ray %d depth differs across worker counts", i)
		}
	}
}

func TestRenderBatchCancellation(t *testing.T) {
	p, err := NewPipeline(testConfig(), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := RenderBatch(ctx, p, []geom.Ray{testRay()}, BatchOptions{}); err == nil {
		t.Fatal("cancelled batch returned no error")
	}
}
