package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distillforge/internal/config"
	"distillforge/internal/dataset"
	"distillforge/internal/loss"
	"distillforge/internal/model"
)

const (
	testVocab   = 16
	testClasses = 3
)

// writeLabeledShards emits shards whose label equals the dominant token, so
// even a linear model can fit them in a few epochs.
func writeLabeledShards(t *testing.T, dir string, shards, perShard int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	id := 0
	for s := 0; s < shards; s++ {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("shard-%06d.jsonl", s)))
		require.NoError(t, err)
		enc := json.NewEncoder(f)
		for i := 0; i < perShard; i++ {
			label := id % testClasses
			sample := dataset.Sample{
				Key:    fmt.Sprintf("sample-%04d", id),
				Tokens: []int{label, label, label, testClasses + id%4, -1},
				Mask:   []int{1, 1, 1, 1, 0},
				Label:  label,
			}
			require.NoError(t, enc.Encode(sample))
			id++
		}
		require.NoError(t, f.Close())
	}
}

func testConfig(t *testing.T, trainDir string) config.Config {
	cfg := config.Default()
	cfg.TrainRoot = trainDir
	cfg.VocabSize = testVocab
	cfg.NumClasses = testClasses
	cfg.Epochs = 5
	cfg.BatchSize = 4
	cfg.LearningRate = 0.5
	cfg.LogEvery = 1000
	cfg.Seed = 1
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestFeaturize(t *testing.T) {
	sample := dataset.Sample{
		Tokens: []int{2, 2, 5, 99, -1, 7},
		Mask:   []int{1, 1, 1, 1, 1, 0},
	}
	features := Featurize(sample, 8)
	require.Len(t, features, 8)

	// Tokens 2,2,5 count; 99 and -1 are out of vocab, 7 is masked out.
	assert.InDelta(t, 2.0/3, features[2], 1e-12)
	assert.InDelta(t, 1.0/3, features[5], 1e-12)
	assert.Zero(t, features[7])

	sum := 0.0
	for _, v := range features {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestFeaturizeNoMask(t *testing.T) {
	features := Featurize(dataset.Sample{Tokens: []int{1, 1}}, 4)
	assert.InDelta(t, 1.0, features[1], 1e-12)
}

func TestRunCrossEntropyLearns(t *testing.T) {
	trainDir := filepath.Join(t.TempDir(), "train")
	evalDir := filepath.Join(t.TempDir(), "eval")
	writeLabeledShards(t, trainDir, 2, 12)
	writeLabeledShards(t, evalDir, 1, 9)

	cfg := testConfig(t, trainDir)
	cfg.EvalRoot = evalDir
	cfg.OutputDir = filepath.Join(t.TempDir(), "teacher")
	cfg.Epochs = 10

	mdl := model.NewMLP(cfg.VocabSize, 0, cfg.NumClasses, cfg.Seed)
	shards, err := dataset.DiscoverShards(trainDir)
	require.NoError(t, err)
	require.NoError(t, Run(context.Background(), cfg, mdl, loss.CrossEntropy{}, shards, nil))

	evalShards, err := dataset.DiscoverShards(evalDir)
	require.NoError(t, err)
	acc, err := Evaluate(context.Background(), cfg, mdl, evalShards)
	require.NoError(t, err)
	assert.Greater(t, acc, 0.9, "model should fit the dominant-token data")

	loaded, _, err := model.Load(cfg.OutputDir)
	require.NoError(t, err)
	assert.Equal(t, cfg.NumClasses, loaded.NumClasses())
}

func TestRunDistillEndToEnd(t *testing.T) {
	trainDir := filepath.Join(t.TempDir(), "train")
	writeLabeledShards(t, trainDir, 2, 12)
	shards, err := dataset.DiscoverShards(trainDir)
	require.NoError(t, err)

	// Pretrain a wider teacher first.
	teacherCfg := testConfig(t, trainDir)
	teacher := model.NewMLP(teacherCfg.VocabSize, 16, teacherCfg.NumClasses, 2)
	require.NoError(t, Run(context.Background(), teacherCfg, teacher, loss.CrossEntropy{}, shards, nil))

	cfg := testConfig(t, trainDir)
	cfg.OutputDir = filepath.Join(t.TempDir(), "student")
	student := model.NewMLP(cfg.VocabSize, 0, cfg.NumClasses, 3)
	strategy, err := loss.NewDistill(0.5, 2.0, teacher)
	require.NoError(t, err)

	require.NoError(t, Run(context.Background(), cfg, student, strategy, shards, []string{"a", "b", "c"}))

	loaded, labels, err := model.Load(cfg.OutputDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, labels)
	assert.Less(t, loaded.ParamCount(), teacher.ParamCount())
}

func TestRunRejectsLabelSpaceMismatch(t *testing.T) {
	trainDir := filepath.Join(t.TempDir(), "train")
	writeLabeledShards(t, trainDir, 1, 4)
	shards, err := dataset.DiscoverShards(trainDir)
	require.NoError(t, err)

	cfg := testConfig(t, trainDir)
	student := model.NewMLP(cfg.VocabSize, 0, cfg.NumClasses, 1)
	teacher := model.NewMLP(cfg.VocabSize, 0, cfg.NumClasses+2, 2)
	strategy := loss.Distill{Alpha: 0.5, Temperature: 2, Teacher: teacher}

	err = Run(context.Background(), cfg, student, strategy, shards, nil)
	assert.ErrorContains(t, err, "classes")
}

// nanStrategy simulates numerical blowup.
type nanStrategy struct{}

func (nanStrategy) Compute(student model.Classifier, batch model.Batch) (loss.Result, error) {
	grads := make([][]float64, len(batch.Inputs))
	for i := range grads {
		grads[i] = make([]float64, student.NumClasses())
	}
	return loss.Result{Loss: math.NaN(), Grads: grads}, nil
}

func TestRunReportsDivergence(t *testing.T) {
	trainDir := filepath.Join(t.TempDir(), "train")
	writeLabeledShards(t, trainDir, 1, 8)
	shards, err := dataset.DiscoverShards(trainDir)
	require.NoError(t, err)

	cfg := testConfig(t, trainDir)
	student := model.NewMLP(cfg.VocabSize, 0, cfg.NumClasses, 1)

	err = Run(context.Background(), cfg, student, nanStrategy{}, shards, nil)
	assert.ErrorIs(t, err, ErrDiverged)
}

func TestRunHonorsCancellation(t *testing.T) {
	trainDir := filepath.Join(t.TempDir(), "train")
	writeLabeledShards(t, trainDir, 2, 50)
	shards, err := dataset.DiscoverShards(trainDir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig(t, trainDir)
	student := model.NewMLP(cfg.VocabSize, 0, cfg.NumClasses, 1)
	err = Run(ctx, cfg, student, loss.CrossEntropy{}, shards, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
