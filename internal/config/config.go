// Package config holds the full parameter surface of the renderer and
// training core. Every option is validated once, up front; a Config that
// passes Validate never fails later for configuration reasons.
package config

import (
	"errors"
	"fmt"
	"math"
)

// Loss type names accepted for the data and consistency terms.
const (
	LossMSE = "mse"
	LossMAE = "mae"
	LossVar = "var"
	LossL2  = "l2"
)

type Config struct {
	// Hierarchical sampling.
	NumLevels          int     `json:"num_levels"`
	NumPropSamples     int     `json:"num_prop_samples"`
	NumNerfSamples     int     `json:"num_nerf_samples"`
	DilationMultiplier float64 `json:"dilation_multiplier"`
	DilationBias       float64 `json:"dilation_bias"`
	ResamplePadding    float64 `json:"resample_padding"`
	SingleJitter       bool    `json:"single_jitter"`
	AnnealSlope        float64 `json:"anneal_slope"`

	// Field networks.
	SingleMLP             bool    `json:"single_mlp"`
	NetDepth              int     `json:"net_depth"`
	NetWidth              int     `json:"net_width"`
	BottleneckWidth       int     `json:"bottleneck_width"`
	BottleneckNoise       float64 `json:"bottleneck_noise"`
	DisableDensityNormals bool    `json:"disable_density_normals"`
	EnablePredNormals     bool    `json:"enable_pred_normals"`
	UseReflections        bool    `json:"use_reflections"`
	UseNDotV              bool    `json:"use_n_dot_v"`
	UseDiffuseColor       bool    `json:"use_diffuse_color"`
	UseSpecularTint       bool    `json:"use_specular_tint"`
	DegPoint              int     `json:"deg_point"`
	DegView               int     `json:"deg_view"`

	// Scene bounds and background policy.
	NearPlane       float64 `json:"near"`
	FarPlane        float64 `json:"far"`
	WhiteBackground bool    `json:"white_background"`

	// Loss multipliers. A multiplier of zero disables its term entirely.
	DataLossType                      string  `json:"data_loss_type"`
	DataLossMult                      float64 `json:"data_loss_mult"`
	DataCoarseLossMult                float64 `json:"data_coarse_loss_mult"`
	DistortionLossMult                float64 `json:"distortion_loss_mult"`
	InterlevelLossMult                float64 `json:"interlevel_loss_mult"`
	OrientationLossMult               float64 `json:"orientation_loss_mult"`
	OrientationCoarseLossMult         float64 `json:"orientation_coarse_loss_mult"`
	PredictedNormalLossMult           float64 `json:"predicted_normal_loss_mult"`
	PredictedNormalCoarseLossMult     float64 `json:"predicted_normal_coarse_loss_mult"`
	WeightsEntropyLossMult            float64 `json:"weights_entropy_loss_mult"`
	AccThresholdForWeightsEntropyLoss float64 `json:"acc_threshold_for_weights_entropy_loss"`
	AccumulatedWeightsLossMult        float64 `json:"accumulated_weights_loss_mult"`
	AccumulatedWeightsLossTarget      float64 `json:"accumulated_weights_loss_target"`

	// Multi-ray consistency supervision.
	ConsistencyDiffuseLossMult     float64 `json:"consistency_diffuse_loss_mult"`
	ConsistencyDiffuseLossType     string  `json:"consistency_diffuse_loss_type"`
	ConsistencySpecularLossMult    float64 `json:"consistency_specular_loss_mult"`
	ConsistencySpecularLossType    string  `json:"consistency_specular_loss_type"`
	ConsistencyNormalLossMult      float64 `json:"consistency_normal_loss_mult"`
	ConsistencyNormalLossType      string  `json:"consistency_normal_loss_type"`
	ConsistencyDistanceLossMult    float64 `json:"consistency_distance_loss_mult"`
	ConsistencyDistanceLossType    string  `json:"consistency_distance_loss_type"`
	SampleNoiseAngles              int     `json:"sample_noise_angles"`
	SampleNoiseSize                int     `json:"sample_noise_size"`
	SampleAngleRange               float64 `json:"sample_angle_range"`
	AccThresholdForConsistencyLoss float64 `json:"acc_threshold_for_consistency_loss"`
	ConsistencyWarmupSteps         float64 `json:"consistency_warmup_steps"`

	// Training schedule.
	MaxSteps           int     `json:"max_steps"`
	BatchSize          int     `json:"batch_size"`
	RenderChunkSize    int     `json:"render_chunk_size"`
	CheckpointEvery    int     `json:"checkpoint_every"`
	EvalRenderInterval int     `json:"eval_render_interval"`
	LRInit             float64 `json:"lr_init"`
	LRFinal            float64 `json:"lr_final"`
	Workers            int     `json:"workers"`
	Seed               int64   `json:"seed"`
	DatasetLoader      string  `json:"dataset_loader"`
}

// Default returns the reference configuration: a two-level pipeline with a
// shared proposal/nerf trunk and all geometry regularizers enabled.
func Default() Config {
	return Config{
		NumLevels:          2,
		NumPropSamples:     64,
		NumNerfSamples:     32,
		DilationMultiplier: 0.5,
		DilationBias:       0.0025,
		ResamplePadding:    0.01,
		SingleJitter:       true,
		AnnealSlope:        10,

		SingleMLP:         true,
		NetDepth:          4,
		NetWidth:          64,
		BottleneckWidth:   32,
		BottleneckNoise:   0,
		EnablePredNormals: true,
		UseReflections:    true,
		UseNDotV:          true,
		UseDiffuseColor:   true,
		UseSpecularTint:   true,
		DegPoint:          8,
		DegView:           4,

		NearPlane: 0.1,
		FarPlane:  6,

		DataLossType:                      LossMSE,
		DataLossMult:                      1,
		DataCoarseLossMult:                0.1,
		DistortionLossMult:                0.01,
		InterlevelLossMult:                1,
		OrientationLossMult:               0.1,
		PredictedNormalLossMult:           3e-4,
		WeightsEntropyLossMult:            0,
		AccThresholdForWeightsEntropyLoss: 0.3,
		AccumulatedWeightsLossMult:        0,
		AccumulatedWeightsLossTarget:      1,

		ConsistencyDiffuseLossMult:     0.1,
		ConsistencyDiffuseLossType:     LossVar,
		ConsistencySpecularLossMult:    0.1,
		ConsistencySpecularLossType:    LossVar,
		ConsistencyNormalLossMult:      0.1,
		ConsistencyNormalLossType:      LossVar,
		ConsistencyDistanceLossMult:    0.1,
		ConsistencyDistanceLossType:    LossVar,
		SampleNoiseAngles:              2,
		SampleNoiseSize:                4,
		SampleAngleRange:               2,
		AccThresholdForConsistencyLoss: 0.5,
		ConsistencyWarmupSteps:         0.6,

		MaxSteps:           250000,
		BatchSize:          1024,
		RenderChunkSize:    4096,
		CheckpointEvery:    10000,
		EvalRenderInterval: 5000,
		LRInit:             2e-3,
		LRFinal:            2e-5,
		Workers:            4,
		DatasetLoader:      "sphere",
	}
}

// Validate rejects configurations that could only fail mid-training.
func (c Config) Validate() error {
	if c.NumLevels < 1 {
		return fmt.Errorf("num_levels must be >= 1, got %d", c.NumLevels)
	}
	if c.NumPropSamples <= 0 {
		return fmt.Errorf("num_prop_samples must be > 0, got %d", c.NumPropSamples)
	}
	if c.NumNerfSamples <= 0 {
		return fmt.Errorf("num_nerf_samples must be > 0, got %d", c.NumNerfSamples)
	}
	if c.DilationMultiplier < 0 || c.DilationBias < 0 {
		return errors.New("dilation_multiplier and dilation_bias must be >= 0")
	}
	if c.ResamplePadding < 0 {
		return fmt.Errorf("resample_padding must be >= 0, got %g", c.ResamplePadding)
	}
	if c.NetDepth <= 0 || c.NetWidth <= 0 {
		return fmt.Errorf("net_depth and net_width must be > 0, got %d/%d", c.NetDepth, c.NetWidth)
	}
	if c.BottleneckWidth <= 0 {
		return fmt.Errorf("bottleneck_width must be > 0, got %d", c.BottleneckWidth)
	}
	if c.BottleneckNoise < 0 {
		return fmt.Errorf("bottleneck_noise must be >= 0, got %g", c.BottleneckNoise)
	}
	if c.DegPoint <= 0 || c.DegView <= 0 {
		return fmt.Errorf("deg_point and deg_view must be > 0, got %d/%d", c.DegPoint, c.DegView)
	}
	if c.NearPlane < 0 || c.FarPlane <= c.NearPlane {
		return fmt.Errorf("invalid near/far bounds %g/%g", c.NearPlane, c.FarPlane)
	}
	switch c.DataLossType {
	case LossMSE, LossMAE:
	default:
		return fmt.Errorf("unknown data_loss_type %q", c.DataLossType)
	}
	for name, typ := range map[string]string{
		"consistency_diffuse_loss_type":  c.ConsistencyDiffuseLossType,
		"consistency_specular_loss_type": c.ConsistencySpecularLossType,
		"consistency_normal_loss_type":   c.ConsistencyNormalLossType,
		"consistency_distance_loss_type": c.ConsistencyDistanceLossType,
	} {
		switch typ {
		case LossVar, LossL2:
		default:
			return fmt.Errorf("unknown %s %q", name, typ)
		}
	}
	for name, mult := range map[string]float64{
		"data_loss_mult":                 c.DataLossMult,
		"data_coarse_loss_mult":          c.DataCoarseLossMult,
		"distortion_loss_mult":           c.DistortionLossMult,
		"interlevel_loss_mult":           c.InterlevelLossMult,
		"orientation_loss_mult":          c.OrientationLossMult,
		"orientation_coarse_loss_mult":   c.OrientationCoarseLossMult,
		"predicted_normal_loss_mult":     c.PredictedNormalLossMult,
		"predicted_normal_coarse_mult":   c.PredictedNormalCoarseLossMult,
		"weights_entropy_loss_mult":      c.WeightsEntropyLossMult,
		"accumulated_weights_loss_mult":  c.AccumulatedWeightsLossMult,
		"consistency_diffuse_loss_mult":  c.ConsistencyDiffuseLossMult,
		"consistency_specular_loss_mult": c.ConsistencySpecularLossMult,
		"consistency_normal_loss_mult":   c.ConsistencyNormalLossMult,
		"consistency_distance_loss_mult": c.ConsistencyDistanceLossMult,
	} {
		if mult < 0 || math.IsNaN(mult) || math.IsInf(mult, 0) {
			return fmt.Errorf("%s must be finite and >= 0, got %g", name, mult)
		}
	}
	if c.SampleNoiseAngles < 0 || c.SampleNoiseSize < 0 {
		return errors.New("sample_noise_angles and sample_noise_size must be >= 0")
	}
	if c.SampleAngleRange < 0 {
		return fmt.Errorf("sample_angle_range must be >= 0, got %g", c.SampleAngleRange)
	}
	if c.AccThresholdForConsistencyLoss < 0 || c.AccThresholdForConsistencyLoss > 1 {
		return fmt.Errorf("acc_threshold_for_consistency_loss must be in [0,1], got %g", c.AccThresholdForConsistencyLoss)
	}
	if c.AccThresholdForWeightsEntropyLoss < 0 || c.AccThresholdForWeightsEntropyLoss > 1 {
		return fmt.Errorf("acc_threshold_for_weights_entropy_loss must be in [0,1], got %g", c.AccThresholdForWeightsEntropyLoss)
	}
	if c.ConsistencyWarmupSteps < 0 || c.ConsistencyWarmupSteps > 1 {
		return fmt.Errorf("consistency_warmup_steps must be a fraction in [0,1], got %g", c.ConsistencyWarmupSteps)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be > 0, got %d", c.MaxSteps)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0, got %d", c.BatchSize)
	}
	if c.RenderChunkSize <= 0 {
		return fmt.Errorf("render_chunk_size must be > 0, got %d", c.RenderChunkSize)
	}
	if c.CheckpointEvery < 0 || c.EvalRenderInterval < 0 {
		return errors.New("checkpoint_every and eval_render_interval must be >= 0")
	}
	if c.LRInit <= 0 || c.LRFinal <= 0 || math.IsNaN(c.LRInit) || math.IsNaN(c.LRFinal) {
		return fmt.Errorf("lr_init and lr_final must be > 0, got %g/%g", c.LRInit, c.LRFinal)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	return nil
}

// ConsistencyEnabled reports whether any consistency term can contribute.
func (c Config) ConsistencyEnabled() bool {
	if c.SampleNoiseSize == 0 {
		return false
	}
	return c.ConsistencyDiffuseLossMult > 0 ||
		c.ConsistencySpecularLossMult > 0 ||
		c.ConsistencyNormalLossMult > 0 ||
		c.ConsistencyDistanceLossMult > 0
}
