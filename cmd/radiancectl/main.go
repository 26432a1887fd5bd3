package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"radiance/internal/storage"
	"radiance/internal/train"
	api "radiance/pkg/radiance"
)

const artifactsDir = "artifacts"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "validate":
		return runValidate(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "render":
		return runRender(ctx, args[1:])
	case "eval":
		return runEval(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "metrics":
		return runMetrics(ctx, args[1:])
	case "loss":
		return runLoss(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: radiancectl <init|validate|train|render|eval|runs|metrics|loss> [flags]", msg)
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "radiance.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runValidate(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fs.String("config", "", "config JSON path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	fmt.Println("config ok")
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional config JSON path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	resume := fs.Bool("resume", false, "resume from the run's latest checkpoint")
	steps := fs.Int("steps", 0, "override max_steps (0 keeps config value)")
	seed := fs.Int64("seed", -1, "override rng seed (-1 keeps config value)")
	logEvery := fs.Int("log-every", 100, "progress line interval in steps")
	evalWidth := fs.Int("eval-width", 64, "evaluation render width")
	evalHeight := fs.Int("eval-height", 64, "evaluation render height")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "radiance.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *steps > 0 {
		cfg.MaxSteps = *steps
	}
	if *seed >= 0 {
		cfg.Seed = *seed
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath, ArtifactsDir: artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	interactive := isatty.IsTerminal(os.Stdout.Fd())
	started := time.Now()
	onStep := func(result train.StepResult) {
		if *logEvery <= 0 || result.Step%*logEvery != 0 {
			return
		}
		elapsed := time.Since(started).Round(time.Second)
		line := fmt.Sprintf("step %s/%s loss=%.6f skipped=%v elapsed=%s",
			humanize.Comma(int64(result.Step)), humanize.Comma(int64(cfg.MaxSteps)),
			result.Loss, result.Skipped, elapsed)
		if interactive {
			fmt.Printf("\r\033[K%s", line)
		} else {
			fmt.Println(line)
		}
	}

	summary, err := client.Train(ctx, api.TrainRequest{
		Config:     &cfg,
		RunID:      *runID,
		Resume:     *resume,
		EvalWidth:  *evalWidth,
		EvalHeight: *evalHeight,
		OnStep:     onStep,
	})
	if interactive {
		fmt.Println()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("interrupted")
			return nil
		}
		return err
	}

	fmt.Printf("run=%s steps=%s skipped=%d final_loss=%.6f artifacts=%s\n",
		summary.RunID, humanize.Comma(int64(summary.Steps)), summary.SkippedSteps,
		summary.FinalLoss, summary.ArtifactsDir)
	return nil
}

func runRender(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	width := fs.Int("width", 64, "render width")
	height := fs.Int("height", 64, "render height")
	upscale := fs.Int("upscale", 1, "nearest-neighbor upscale factor")
	outDir := fs.String("out", "", "output directory (defaults to the run's artifacts dir)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "radiance.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath, ArtifactsDir: artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Render(ctx, api.RenderRequest{
		RunID:   *runID,
		Latest:  *latest,
		Width:   *width,
		Height:  *height,
		Upscale: *upscale,
		OutDir:  *outDir,
	})
	if err != nil {
		return err
	}
	fmt.Printf("run=%s step=%d out=%s\n", summary.RunID, summary.Step, summary.Directory)
	return nil
}

func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	width := fs.Int("width", 64, "render width")
	height := fs.Int("height", 64, "render height")
	ssim := fs.Bool("ssim", false, "also compute SSIM")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "radiance.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath, ArtifactsDir: artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	metrics, err := client.Eval(ctx, api.EvalRequest{
		RunID:       *runID,
		Latest:      *latest,
		Width:       *width,
		Height:      *height,
		ComputeSSIM: *ssim,
	})
	if err != nil {
		return err
	}
	return printJSON(metrics)
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum runs to list")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "radiance.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath, ArtifactsDir: artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%s created=%s scene=%s seed=%d steps=%s/%s skipped=%d\n",
			run.RunID, run.CreatedAtUTC, run.Scene, run.Seed,
			humanize.Comma(int64(run.CompletedSteps)), humanize.Comma(int64(run.MaxSteps)),
			run.SkippedSteps)
	}
	return nil
}

func runMetrics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 0, "keep only the most recent N samples (0 keeps all)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "radiance.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath, ArtifactsDir: artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	samples, err := client.Metrics(ctx, api.MetricsRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	for _, sample := range samples {
		fmt.Printf("step=%d %s=%.6f\n", sample.Step, sample.Name, sample.Value)
	}
	return nil
}

func runLoss(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("loss", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 0, "keep only the most recent N entries (0 keeps all)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "radiance.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath, ArtifactsDir: artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.LossHistory(ctx, api.LossHistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	return printJSON(history)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
