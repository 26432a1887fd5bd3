package config

import (
	"math"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		errPart string
	}{
		{"zero levels", func(c *Config) { c.NumLevels = 0 }, "num_levels"},
		{"zero prop samples", func(c *Config) { c.NumPropSamples = 0 }, "num_prop_samples"},
		{"zero nerf samples", func(c *Config) { c.NumNerfSamples = 0 }, "num_nerf_samples"},
		{"negative dilation", func(c *Config) { c.DilationMultiplier = -1 }, "dilation"},
		{"negative padding", func(c *Config) { c.ResamplePadding = -0.1 }, "resample_padding"},
		{"zero net depth", func(c *Config) { c.NetDepth = 0 }, "net_depth"},
		{"zero bottleneck", func(c *Config) { c.BottleneckWidth = 0 }, "bottleneck_width"},
		{"negative noise", func(c *Config) { c.BottleneckNoise = -0.5 }, "bottleneck_noise"},
		{"zero encoding degree", func(c *Config) { c.DegPoint = 0 }, "deg_point"},
		{"far before near", func(c *Config) { c.NearPlane, c.FarPlane = 2, 1 }, "near/far"},
		{"bad data loss type", func(c *Config) { c.DataLossType = "huber" }, "data_loss_type"},
		{"bad consistency loss type", func(c *Config) { c.ConsistencyNormalLossType = "cosine" }, "consistency_normal_loss_type"},
		{"negative multiplier", func(c *Config) { c.DistortionLossMult = -0.01 }, "distortion_loss_mult"},
		{"nan multiplier", func(c *Config) { c.DataLossMult = math.NaN() }, "data_loss_mult"},
		{"inf multiplier", func(c *Config) { c.InterlevelLossMult = math.Inf(1) }, "interlevel_loss_mult"},
		{"negative noise size", func(c *Config) { c.SampleNoiseSize = -1 }, "sample_noise"},
		{"negative angle range", func(c *Config) { c.SampleAngleRange = -2 }, "sample_angle_range"},
		{"acc threshold above one", func(c *Config) { c.AccThresholdForConsistencyLoss = 1.5 }, "acc_threshold_for_consistency_loss"},
		{"warmup above one", func(c *Config) { c.ConsistencyWarmupSteps = 2 }, "consistency_warmup_steps"},
		{"zero max steps", func(c *Config) { c.MaxSteps = 0 }, "max_steps"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "batch_size"},
		{"zero chunk", func(c *Config) { c.RenderChunkSize = 0 }, "render_chunk_size"},
		{"negative checkpoint cadence", func(c *Config) { c.CheckpointEvery = -1 }, "checkpoint_every"},
		{"zero learning rate", func(c *Config) { c.LRInit = 0 }, "lr_init"},
		{"negative workers", func(c *Config) { c.Workers = -1 }, "workers"},
	}

	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
		if !strings.Contains(err.Error(), tc.errPart) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.errPart)
		}
	}
}

func TestConsistencyEnabled(t *testing.T) {
	cfg := Default()
	if !cfg.ConsistencyEnabled() {
		t.Fatal("default consistency disabled")
	}

	cfg.SampleNoiseSize = 0
	if cfg.ConsistencyEnabled() {
		t.Fatal("enabled with an empty noise set")
	}

	cfg = Default()
	cfg.ConsistencyDiffuseLossMult = 0
	cfg.ConsistencySpecularLossMult = 0
	cfg.ConsistencyNormalLossMult = 0
	cfg.ConsistencyDistanceLossMult = 0
	if cfg.ConsistencyEnabled() {
		t.Fatal("enabled with every multiplier at zero")
	}

	cfg.ConsistencyDistanceLossMult = 0.05
	if !cfg.ConsistencyEnabled() {
		t.Fatal("single nonzero multiplier not enough")
	}
}
