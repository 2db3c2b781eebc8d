package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"distillforge/internal/config"
	"distillforge/internal/dataset"
	"distillforge/internal/loss"
	"distillforge/internal/metrics"
	"distillforge/internal/model"
)

// ErrDiverged reports a non-finite batch loss. Training stops immediately
// rather than silently continuing on garbage gradients.
var ErrDiverged = errors.New("trainer: loss diverged")

// Run drives the training loop: stream one epoch of samples at a time,
// batch and featurize them, hand each batch to the injected strategy, and
// apply the returned gradients to the student. Only the student is ever
// updated; a distillation strategy's teacher is consulted read-only.
func Run(ctx context.Context, cfg config.Config, student *model.MLP, strategy loss.Strategy, trainShards []string, labels []string) error {
	if strategy == nil {
		return errors.New("trainer: strategy is required")
	}
	if err := setupCheck(student, strategy); err != nil {
		return err
	}

	var evalShards []string
	if cfg.EvalRoot != "" {
		shards, err := dataset.DiscoverShards(cfg.EvalRoot)
		if err != nil {
			return err
		}
		if len(shards) == 0 {
			return fmt.Errorf("trainer: no eval shards under %s", cfg.EvalRoot)
		}
		evalShards = shards
	}

	var window metrics.Window
	step := 0
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		samples, errs, err := dataset.StartEpoch(ctx, dataset.SamplerOptions{
			Shards:     trainShards,
			Seed:       cfg.Seed + int64(epoch),
			NumWorkers: cfg.NumWorkers,
		})
		if err != nil {
			return err
		}

		for {
			startData := time.Now()
			batch, more, err := nextBatch(ctx, samples, errs, cfg)
			if err != nil {
				return err
			}
			if len(batch.Inputs) == 0 {
				break
			}
			dataTime := time.Since(startData)

			startCompute := time.Now()
			res, err := strategy.Compute(student, batch)
			if err != nil {
				return fmt.Errorf("trainer: step %d: %w", step+1, err)
			}
			if math.IsNaN(res.Loss) || math.IsInf(res.Loss, 0) {
				return fmt.Errorf("%w: step %d loss=%v", ErrDiverged, step+1, res.Loss)
			}
			student.ApplyGrads(batch.Inputs, res.Grads, cfg.LearningRate)
			computeTime := time.Since(startCompute)

			step++
			window.Record(len(batch.Inputs), dataTime, computeTime, res.Loss)
			if step%cfg.LogEvery == 0 {
				snap := window.Snapshot()
				log.Printf("epoch=%d step=%d samples_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f",
					epoch, step, snap.SamplesPerSec, snap.AvgDataMS, snap.AvgComputeMS, snap.LastLoss)
			}
			if !more {
				break
			}
		}

		if evalShards != nil && epoch%cfg.EvalEvery == 0 {
			acc, err := Evaluate(ctx, cfg, student, evalShards)
			if err != nil {
				return err
			}
			log.Printf("epoch=%d eval_accuracy=%.4f", epoch, acc)
		}
	}

	if cfg.OutputDir != "" {
		if err := student.Save(cfg.OutputDir, labels); err != nil {
			return err
		}
		log.Printf("checkpoint saved dir=%s params=%d", cfg.OutputDir, student.ParamCount())
	}
	return nil
}

// setupCheck rejects teacher/student label-space mismatches before the
// first step; inside the loop this would only surface as a per-batch error.
func setupCheck(student *model.MLP, strategy loss.Strategy) error {
	dist, ok := strategy.(loss.Distill)
	if !ok {
		return nil
	}
	if dist.Teacher == nil {
		return errors.New("trainer: distillation requires a teacher model")
	}
	if got, want := dist.Teacher.NumClasses(), student.NumClasses(); got != want {
		return fmt.Errorf("trainer: teacher has %d classes, student %d", got, want)
	}
	return nil
}

// Evaluate computes argmax accuracy over the eval shards.
func Evaluate(ctx context.Context, cfg config.Config, m model.Classifier, shards []string) (float64, error) {
	samples, errs, err := dataset.StartEpoch(ctx, dataset.SamplerOptions{
		Shards:     shards,
		Seed:       cfg.Seed,
		NumWorkers: 1,
	})
	if err != nil {
		return 0, err
	}
	var acc metrics.Accuracy
	for sample := range samples {
		features := Featurize(sample, cfg.VocabSize)
		logits := m.Forward(features)
		acc.Observe(floats.MaxIdx(logits), clampLabel(sample.Label, m.NumClasses()))
	}
	if err, ok := <-errs; ok && err != nil {
		return 0, err
	}
	return acc.Value(), nil
}

// nextBatch assembles up to cfg.BatchSize samples. The bool result is false
// once the epoch stream is exhausted; the final partial batch is still
// returned.
func nextBatch(ctx context.Context, samples <-chan dataset.Sample, errs <-chan error, cfg config.Config) (model.Batch, bool, error) {
	inputs := make([][]float64, 0, cfg.BatchSize)
	labels := make([]int, 0, cfg.BatchSize)
	for len(inputs) < cfg.BatchSize {
		select {
		case <-ctx.Done():
			return model.Batch{}, false, ctx.Err()
		case sample, ok := <-samples:
			if !ok {
				if err, ok := <-errs; ok && err != nil {
					return model.Batch{}, false, err
				}
				return model.Batch{Inputs: inputs, Labels: labels}, false, nil
			}
			inputs = append(inputs, Featurize(sample, cfg.VocabSize))
			labels = append(labels, clampLabel(sample.Label, cfg.NumClasses))
		}
	}
	return model.Batch{Inputs: inputs, Labels: labels}, true, nil
}

// Featurize folds a token sequence into a normalized bag-of-tokens vector.
// Masked-out positions and out-of-vocabulary tokens contribute nothing.
func Featurize(sample dataset.Sample, vocabSize int) []float64 {
	features := make([]float64, vocabSize)
	counted := 0
	for i, tok := range sample.Tokens {
		if len(sample.Mask) > 0 && sample.Mask[i] == 0 {
			continue
		}
		if tok < 0 || tok >= vocabSize {
			continue
		}
		features[tok]++
		counted++
	}
	if counted > 0 {
		floats.Scale(1/float64(counted), features)
	}
	return features
}

func clampLabel(label, numClasses int) int {
	if label < 0 {
		return 0
	}
	if label >= numClasses {
		return label % numClasses
	}
	return label
}
