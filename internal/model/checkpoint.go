package model

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	metaFile    = "model.json"
	weightsFile = "weights.bin"
)

type checkpointMeta struct {
	RunID      string    `json:"run_id"`
	InputSize  int       `json:"input_size"`
	HiddenSize int       `json:"hidden_size"`
	NumClasses int       `json:"num_classes"`
	Labels     []string  `json:"labels,omitempty"`
	SavedAt    time.Time `json:"saved_at"`
}

// Save serializes the model into dir as a metadata file plus a flat
// little-endian float64 weight stream. Labels carries the label-index
// mapping, index i naming class i; it may be nil.
func (m *MLP) Save(dir string, labels []string) error {
	if labels != nil && len(labels) != m.numClasses {
		return fmt.Errorf("checkpoint: %d labels for %d classes", len(labels), m.numClasses)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	meta := checkpointMeta{
		RunID:      uuid.New().String(),
		InputSize:  m.inputSize,
		HiddenSize: m.hiddenSize,
		NumClasses: m.numClasses,
		Labels:     labels,
		SavedAt:    time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encode meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), raw, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write meta: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, weightsFile))
	if err != nil {
		return fmt.Errorf("checkpoint: create weights: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, chunk := range [][]float64{m.w1, m.b1, m.w2, m.b2} {
		if err := binary.Write(w, binary.LittleEndian, chunk); err != nil {
			return fmt.Errorf("checkpoint: write weights: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("checkpoint: flush weights: %w", err)
	}
	return f.Sync()
}

// Load reads a checkpoint directory written by Save and returns the model
// together with its label-index mapping.
func Load(dir string) (*MLP, []string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: read meta: %w", err)
	}
	var meta checkpointMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("checkpoint: decode meta: %w", err)
	}
	if meta.InputSize <= 0 || meta.NumClasses <= 0 || meta.HiddenSize < 0 {
		return nil, nil, fmt.Errorf("checkpoint: invalid shape %dx%dx%d",
			meta.InputSize, meta.HiddenSize, meta.NumClasses)
	}
	if meta.Labels != nil && len(meta.Labels) != meta.NumClasses {
		return nil, nil, fmt.Errorf("checkpoint: %d labels for %d classes",
			len(meta.Labels), meta.NumClasses)
	}

	m := NewMLP(meta.InputSize, meta.HiddenSize, meta.NumClasses, 0)

	f, err := os.Open(filepath.Join(dir, weightsFile))
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: open weights: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	for _, chunk := range [][]float64{m.w1, m.b1, m.w2, m.b2} {
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, nil, fmt.Errorf("checkpoint: read weights: %w", err)
		}
	}
	if _, err := r.ReadByte(); err == nil {
		return nil, nil, fmt.Errorf("checkpoint: trailing weight data")
	}
	return m, meta.Labels, nil
}
