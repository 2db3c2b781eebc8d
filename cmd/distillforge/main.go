package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"distillforge/internal/bench"
	"distillforge/internal/config"
	"distillforge/internal/dataset"
	"distillforge/internal/loss"
	"distillforge/internal/model"
	"distillforge/internal/trainer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewCLI().ExecuteContext(ctx); err != nil {
		log.Fatalf("distillforge: %v", err)
	}
}

// NewCLI builds the root command and its subcommands.
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "distillforge",
		Short:         "Knowledge-distillation trainer for compact classifiers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pretrainCmd := &cobra.Command{
		Use:   "pretrain",
		Short: "Train a teacher checkpoint from scratch with cross-entropy",
		RunE:  PretrainHandler,
	}
	addTrainingFlags(pretrainCmd)

	distillCmd := &cobra.Command{
		Use:   "distill",
		Short: "Distill a pretrained teacher into a compact student",
		RunE:  DistillHandler,
	}
	addTrainingFlags(distillCmd)
	distillCmd.Flags().String("teacher", "", "Teacher checkpoint directory")

	benchmarkCmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Compare two checkpoints on size and inference latency",
		RunE:  BenchmarkHandler,
	}
	benchmarkCmd.Flags().String("teacher", "", "Teacher checkpoint directory")
	benchmarkCmd.Flags().String("student", "", "Student checkpoint directory")
	benchmarkCmd.Flags().Int("iters", 200, "Timed forward passes per model")
	benchmarkCmd.Flags().Int64("seed", 42, "Probe input seed")

	rootCmd.AddCommand(pretrainCmd, distillCmd, benchmarkCmd)
	return rootCmd
}

func addTrainingFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "configs/distill.yaml", "Path to YAML config")
	cmd.Flags().String("train-root", "", "Override training shard root")
	cmd.Flags().String("eval-root", "", "Override eval shard root")
	cmd.Flags().String("output-dir", "", "Override checkpoint output directory")
	cmd.Flags().Int("epochs", 0, "Number of training epochs")
	cmd.Flags().Int("batch-size", 0, "Batch size")
	cmd.Flags().Int("num-workers", 0, "Number of data loader workers")
	cmd.Flags().Int64("seed", 0, "PRNG seed")
	cmd.Flags().Int("log-every", 0, "Log every N steps")
	cmd.Flags().Float64("alpha", -1, "Weight on the ground-truth loss term")
	cmd.Flags().Float64("temperature", 0, "Softmax smoothing temperature")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var o config.Overrides
	o.TrainRoot, _ = cmd.Flags().GetString("train-root")
	o.EvalRoot, _ = cmd.Flags().GetString("eval-root")
	o.OutputDir, _ = cmd.Flags().GetString("output-dir")
	o.Epochs, _ = cmd.Flags().GetInt("epochs")
	o.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	o.NumWorkers, _ = cmd.Flags().GetInt("num-workers")
	o.Seed, _ = cmd.Flags().GetInt64("seed")
	o.LogEvery, _ = cmd.Flags().GetInt("log-every")
	o.Alpha, _ = cmd.Flags().GetFloat64("alpha")
	o.Temperature, _ = cmd.Flags().GetFloat64("temperature")
	cfg.ApplyOverrides(o)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func discoverTrainShards(cfg *config.Config) ([]string, error) {
	shards, err := dataset.DiscoverShards(cfg.TrainRoot)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("no shards discovered under %s", cfg.TrainRoot)
	}
	log.Printf("root=%s shards=%d", cfg.TrainRoot, len(shards))
	return shards, nil
}

// PretrainHandler trains a model from scratch with plain cross-entropy.
func PretrainHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	shards, err := discoverTrainShards(cfg)
	if err != nil {
		return err
	}
	mdl := model.NewMLP(cfg.VocabSize, cfg.HiddenSize, cfg.NumClasses, cfg.Seed)
	log.Printf("pretrain classes=%d hidden=%d params=%d", cfg.NumClasses, cfg.HiddenSize, mdl.ParamCount())
	return trainer.Run(cmd.Context(), *cfg, mdl, loss.CrossEntropy{}, shards, nil)
}

// DistillHandler trains a student against a frozen teacher checkpoint.
func DistillHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	teacherDir, _ := cmd.Flags().GetString("teacher")
	if teacherDir == "" {
		return fmt.Errorf("--teacher is required")
	}
	teacher, labels, err := model.Load(teacherDir)
	if err != nil {
		return err
	}
	if teacher.InputSize() != cfg.VocabSize {
		return fmt.Errorf("teacher expects vocab %d, config has %d", teacher.InputSize(), cfg.VocabSize)
	}
	shards, err := discoverTrainShards(cfg)
	if err != nil {
		return err
	}

	// The student inherits the teacher's label space; hidden_size shapes
	// the student only.
	cfg.NumClasses = teacher.NumClasses()
	student := model.NewMLP(cfg.VocabSize, cfg.HiddenSize, teacher.NumClasses(), cfg.Seed)
	strategy, err := loss.NewDistill(cfg.Alpha, cfg.Temperature, teacher)
	if err != nil {
		return err
	}
	log.Printf("distill alpha=%.2f temperature=%.2f teacher_params=%d student_params=%d",
		cfg.Alpha, cfg.Temperature, teacher.ParamCount(), student.ParamCount())
	return trainer.Run(cmd.Context(), *cfg, student, strategy, shards, labels)
}

// BenchmarkHandler compares two checkpoints on size and latency.
func BenchmarkHandler(cmd *cobra.Command, _ []string) error {
	teacherDir, _ := cmd.Flags().GetString("teacher")
	studentDir, _ := cmd.Flags().GetString("student")
	if teacherDir == "" || studentDir == "" {
		return fmt.Errorf("--teacher and --student are required")
	}
	iters, _ := cmd.Flags().GetInt("iters")
	seed, _ := cmd.Flags().GetInt64("seed")

	teacher, err := bench.Measure("teacher", teacherDir, iters, seed)
	if err != nil {
		return err
	}
	student, err := bench.Measure("student", studentDir, iters, seed)
	if err != nil {
		return err
	}
	bench.RenderTable(os.Stdout, []bench.Result{teacher, student})
	return nil
}
