package main

import (
	"encoding/json"
	"fmt"
	"os"

	"radiance/internal/config"
)

// loadConfig reads a JSON config file on top of the defaults. Unknown keys
// are ignored; value types are coerced so hand-written configs with integer
// literals for float fields still load.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	if v, ok := asInt(raw["num_levels"]); ok {
		cfg.NumLevels = v
	}
	if v, ok := asInt(raw["num_prop_samples"]); ok {
		cfg.NumPropSamples = v
	}
	if v, ok := asInt(raw["num_nerf_samples"]); ok {
		cfg.NumNerfSamples = v
	}
	if v, ok := asFloat64(raw["dilation_multiplier"]); ok {
		cfg.DilationMultiplier = v
	}
	if v, ok := asFloat64(raw["dilation_bias"]); ok {
		cfg.DilationBias = v
	}
	if v, ok := asFloat64(raw["resample_padding"]); ok {
		cfg.ResamplePadding = v
	}
	if v, ok := asBool(raw["single_jitter"]); ok {
		cfg.SingleJitter = v
	}
	if v, ok := asFloat64(raw["anneal_slope"]); ok {
		cfg.AnnealSlope = v
	}
	if v, ok := asBool(raw["single_mlp"]); ok {
		cfg.SingleMLP = v
	}
	if v, ok := asInt(raw["net_depth"]); ok {
		cfg.NetDepth = v
	}
	if v, ok := asInt(raw["net_width"]); ok {
		cfg.NetWidth = v
	}
	if v, ok := asInt(raw["bottleneck_width"]); ok {
		cfg.BottleneckWidth = v
	}
	if v, ok := asFloat64(raw["bottleneck_noise"]); ok {
		cfg.BottleneckNoise = v
	}
	if v, ok := asBool(raw["disable_density_normals"]); ok {
		cfg.DisableDensityNormals = v
	}
	if v, ok := asBool(raw["enable_pred_normals"]); ok {
		cfg.EnablePredNormals = v
	}
	if v, ok := asBool(raw["use_reflections"]); ok {
		cfg.UseReflections = v
	}
	if v, ok := asBool(raw["use_n_dot_v"]); ok {
		cfg.UseNDotV = v
	}
	if v, ok := asBool(raw["use_diffuse_color"]); ok {
		cfg.UseDiffuseColor = v
	}
	if v, ok := asBool(raw["use_specular_tint"]); ok {
		cfg.UseSpecularTint = v
	}
	if v, ok := asInt(raw["deg_point"]); ok {
		cfg.DegPoint = v
	}
	if v, ok := asInt(raw["deg_view"]); ok {
		cfg.DegView = v
	}
	if v, ok := asFloat64(raw["near"]); ok {
		cfg.NearPlane = v
	}
	if v, ok := asFloat64(raw["far"]); ok {
		cfg.FarPlane = v
	}
	if v, ok := asBool(raw["white_background"]); ok {
		cfg.WhiteBackground = v
	}
	if v, ok := asString(raw["data_loss_type"]); ok {
		cfg.DataLossType = v
	}
	if v, ok := asFloat64(raw["data_loss_mult"]); ok {
		cfg.DataLossMult = v
	}
	if v, ok := asFloat64(raw["data_coarse_loss_mult"]); ok {
		cfg.DataCoarseLossMult = v
	}
	if v, ok := asFloat64(raw["distortion_loss_mult"]); ok {
		cfg.DistortionLossMult = v
	}
	if v, ok := asFloat64(raw["interlevel_loss_mult"]); ok {
		cfg.InterlevelLossMult = v
	}
	if v, ok := asFloat64(raw["orientation_loss_mult"]); ok {
		cfg.OrientationLossMult = v
	}
	if v, ok := asFloat64(raw["orientation_coarse_loss_mult"]); ok {
		cfg.OrientationCoarseLossMult = v
	}
	if v, ok := asFloat64(raw["predicted_normal_loss_mult"]); ok {
		cfg.PredictedNormalLossMult = v
	}
	if v, ok := asFloat64(raw["predicted_normal_coarse_loss_mult"]); ok {
		cfg.PredictedNormalCoarseLossMult = v
	}
	if v, ok := asFloat64(raw["weights_entropy_loss_mult"]); ok {
		cfg.WeightsEntropyLossMult = v
	}
	if v, ok := asFloat64(raw["acc_threshold_for_weights_entropy_loss"]); ok {
		cfg.AccThresholdForWeightsEntropyLoss = v
	}
	if v, ok := asFloat64(raw["accumulated_weights_loss_mult"]); ok {
		cfg.AccumulatedWeightsLossMult = v
	}
	if v, ok := asFloat64(raw["accumulated_weights_loss_target"]); ok {
		cfg.AccumulatedWeightsLossTarget = v
	}
	if v, ok := asFloat64(raw["consistency_diffuse_loss_mult"]); ok {
		cfg.ConsistencyDiffuseLossMult = v
	}
	if v, ok := asString(raw["consistency_diffuse_loss_type"]); ok {
		cfg.ConsistencyDiffuseLossType = v
	}
	if v, ok := asFloat64(raw["consistency_specular_loss_mult"]); ok {
		cfg.ConsistencySpecularLossMult = v
	}
	if v, ok := asString(raw["consistency_specular_loss_type"]); ok {
		cfg.ConsistencySpecularLossType = v
	}
	if v, ok := asFloat64(raw["consistency_normal_loss_mult"]); ok {
		cfg.ConsistencyNormalLossMult = v
	}
	if v, ok := asString(raw["consistency_normal_loss_type"]); ok {
		cfg.ConsistencyNormalLossType = v
	}
	if v, ok := asFloat64(raw["consistency_distance_loss_mult"]); ok {
		cfg.ConsistencyDistanceLossMult = v
	}
	if v, ok := asString(raw["consistency_distance_loss_type"]); ok {
		cfg.ConsistencyDistanceLossType = v
	}
	if v, ok := asInt(raw["sample_noise_angles"]); ok {
		cfg.SampleNoiseAngles = v
	}
	if v, ok := asInt(raw["sample_noise_size"]); ok {
		cfg.SampleNoiseSize = v
	}
	if v, ok := asFloat64(raw["sample_angle_range"]); ok {
		cfg.SampleAngleRange = v
	}
	if v, ok := asFloat64(raw["acc_threshold_for_consistency_loss"]); ok {
		cfg.AccThresholdForConsistencyLoss = v
	}
	if v, ok := asFloat64(raw["consistency_warmup_steps"]); ok {
		cfg.ConsistencyWarmupSteps = v
	}
	if v, ok := asInt(raw["max_steps"]); ok {
		cfg.MaxSteps = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		cfg.BatchSize = v
	}
	if v, ok := asInt(raw["render_chunk_size"]); ok {
		cfg.RenderChunkSize = v
	}
	if v, ok := asInt(raw["checkpoint_every"]); ok {
		cfg.CheckpointEvery = v
	}
	if v, ok := asInt(raw["eval_render_interval"]); ok {
		cfg.EvalRenderInterval = v
	}
	if v, ok := asFloat64(raw["lr_init"]); ok {
		cfg.LRInit = v
	}
	if v, ok := asFloat64(raw["lr_final"]); ok {
		cfg.LRFinal = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		cfg.Workers = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		cfg.Seed = v
	}
	if v, ok := asString(raw["dataset_loader"]); ok {
		cfg.DatasetLoader = v
	}

	return cfg, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
