package main

import (
	"os"
	"path/filepath"
	"testing"

	"radiance/internal/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigEmptyPathIsDefault(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != config.Default() {
		t.Fatalf("empty path did not yield defaults: %+v", cfg)
	}
}

func TestLoadConfigOverridesAndCoerces(t *testing.T) {
	path := writeConfig(t, `{
		"max_steps": 500,
		"batch_size": 16,
		"lr_init": 1,
		"data_loss_type": "mae",
		"single_mlp": false,
		"sample_angle_range": 3,
		"seed": 7,
		"dataset_loader": "sphere",
		"unknown_key": "ignored"
	}`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxSteps != 500 || cfg.BatchSize != 16 {
		t.Fatalf("int fields: %d/%d", cfg.MaxSteps, cfg.BatchSize)
	}
	// JSON integer literals coerce into float fields.
	if cfg.LRInit != 1 || cfg.SampleAngleRange != 3 {
		t.Fatalf("float fields: %g/%g", cfg.LRInit, cfg.SampleAngleRange)
	}
	if cfg.DataLossType != "mae" || cfg.SingleMLP {
		t.Fatalf("string/bool fields: %q/%v", cfg.DataLossType, cfg.SingleMLP)
	}
	if cfg.Seed != 7 {
		t.Fatalf("seed: %d", cfg.Seed)
	}
	// Untouched keys keep defaults.
	if cfg.NumLevels != config.Default().NumLevels {
		t.Fatalf("num_levels: %d", cfg.NumLevels)
	}
}

func TestLoadConfigIgnoresWrongTypes(t *testing.T) {
	path := writeConfig(t, `{"max_steps": "lots", "single_mlp": 1}`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := config.Default()
	if cfg.MaxSteps != def.MaxSteps || cfg.SingleMLP != def.SingleMLP {
		t.Fatalf("mistyped values applied: %d/%v", cfg.MaxSteps, cfg.SingleMLP)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing file accepted")
	}
	path := writeConfig(t, `{not json`)
	if _, err := loadConfig(path); err == nil {
		t.Fatal("malformed json accepted")
	}
}
