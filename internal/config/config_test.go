package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "distill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "train_root: data/train\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Alpha)
	assert.Equal(t, 2.0, cfg.Temperature)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, int64(42), cfg.Seed)
}

func TestLoadExplicitScalars(t *testing.T) {
	path := writeConfig(t, `
train_root: data/train
alpha: 0.9
temperature: 4.5
batch_size: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Alpha)
	assert.Equal(t, 4.5, cfg.Temperature)
	assert.Equal(t, 8, cfg.BatchSize)
}

func TestValidateRejectsBadScalars(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"alpha high", "train_root: x\nalpha: 1.5\n", "alpha"},
		{"alpha negative", "train_root: x\nalpha: -0.1\n", "alpha"},
		{"temperature zero", "train_root: x\ntemperature: 0\n", "temperature"},
		{"temperature negative", "train_root: x\ntemperature: -2\n", "temperature"},
		{"missing root", "alpha: 0.5\n", "train_root"},
		{"bad epochs", "train_root: x\nepochs: -1\n", "epochs"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.TrainRoot = "data/train"

	cfg.ApplyOverrides(Overrides{
		TrainRoot:   "other/train",
		BatchSize:   64,
		Alpha:       0,
		Temperature: 1,
	})
	assert.Equal(t, "other/train", cfg.TrainRoot)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 0.0, cfg.Alpha)
	assert.Equal(t, 1.0, cfg.Temperature)

	// Negative alpha and zero temperature are the "not set" sentinels.
	cfg.ApplyOverrides(Overrides{Alpha: -1, Temperature: 0})
	assert.Equal(t, 0.0, cfg.Alpha)
	assert.Equal(t, 1.0, cfg.Temperature)
}
