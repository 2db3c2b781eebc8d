package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run, including the two
// distillation scalars. It is passed by value into the trainer and never
// mutated once a run starts.
type Config struct {
	TrainRoot string `yaml:"train_root"`
	EvalRoot  string `yaml:"eval_root"`
	OutputDir string `yaml:"output_dir"`

	VocabSize    int     `yaml:"vocab_size"`
	NumClasses   int     `yaml:"num_classes"`
	HiddenSize   int     `yaml:"hidden_size"`
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	NumWorkers   int     `yaml:"num_workers"`
	Seed         int64   `yaml:"seed"`
	LogEvery     int     `yaml:"log_every"`
	EvalEvery    int     `yaml:"eval_every"`

	// Alpha weights the ground-truth cross-entropy term against the
	// distillation term. Temperature softens both logit distributions
	// before the divergence is taken.
	Alpha       float64 `yaml:"alpha"`
	Temperature float64 `yaml:"temperature"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	TrainRoot   string
	EvalRoot    string
	OutputDir   string
	Epochs      int
	BatchSize   int
	NumWorkers  int
	Seed        int64
	LogEvery    int
	Alpha       float64
	Temperature float64
}

// Default returns a Config with the documented defaults filled in.
func Default() Config {
	return Config{
		VocabSize:    4096,
		NumClasses:   10,
		HiddenSize:   0,
		Epochs:       3,
		BatchSize:    32,
		LearningRate: 0.05,
		NumWorkers:   1,
		Seed:         42,
		LogEvery:     50,
		EvalEvery:    1,
		Alpha:        0.5,
		Temperature:  2.0,
	}
}

// Load reads a Config from YAML, with absent keys keeping their defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override. Alpha and
// Temperature use negative sentinels so that zero remains expressible.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.TrainRoot != "" {
		c.TrainRoot = o.TrainRoot
	}
	if o.EvalRoot != "" {
		c.EvalRoot = o.EvalRoot
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Alpha >= 0 {
		c.Alpha = o.Alpha
	}
	if o.Temperature > 0 {
		c.Temperature = o.Temperature
	}
}

// Validate verifies the config is runnable. Distillation scalar violations
// are configuration errors and fail here, before any training starts.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.TrainRoot == "" {
		return errors.New("train_root must be set")
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("vocab_size must be > 0 (got %d)", c.VocabSize)
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be > 0 (got %d)", c.NumClasses)
	}
	if c.HiddenSize < 0 {
		return fmt.Errorf("hidden_size must be >= 0 (got %d)", c.HiddenSize)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %v)", c.LearningRate)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in [0,1] (got %v)", c.Alpha)
	}
	if c.Temperature <= 0 {
		return fmt.Errorf("temperature must be > 0 (got %v)", c.Temperature)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	if c.EvalEvery <= 0 {
		c.EvalEvery = 1
	}
	return nil
}
