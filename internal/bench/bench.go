// Package bench measures what the distillation actually bought: checkpoint
// size on disk and single-sample inference latency, teacher versus student.
package bench

import (
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"

	"distillforge/internal/model"
)

// Result is one model's measurements.
type Result struct {
	Name       string        `json:"name"`
	Params     int           `json:"params"`
	DiskBytes  int64         `json:"disk_bytes"`
	Iterations int           `json:"iterations"`
	AvgLatency time.Duration `json:"avg_latency_ns"`
}

// DirSize sums the size of all regular files beneath path.
func DirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("dir size: %w", err)
	}
	return total, nil
}

// MeasureLatency times iters single-sample forward passes after a short
// warmup and returns the mean wall-clock duration.
func MeasureLatency(m model.Classifier, input []float64, iters int) time.Duration {
	if iters <= 0 {
		iters = 100
	}
	for i := 0; i < 3; i++ {
		m.Forward(input)
	}
	start := time.Now()
	for i := 0; i < iters; i++ {
		m.Forward(input)
	}
	return time.Since(start) / time.Duration(iters)
}

// Measure loads the checkpoint at dir and produces its Result using a
// seeded random probe input.
func Measure(name, dir string, iters int, seed int64) (Result, error) {
	m, _, err := model.Load(dir)
	if err != nil {
		return Result{}, err
	}
	size, err := DirSize(dir)
	if err != nil {
		return Result{}, err
	}
	rng := rand.New(rand.NewSource(seed))
	input := make([]float64, m.InputSize())
	for i := range input {
		input[i] = rng.Float64()
	}
	return Result{
		Name:       name,
		Params:     m.ParamCount(),
		DiskBytes:  size,
		Iterations: iters,
		AvgLatency: MeasureLatency(m, input, iters),
	}, nil
}

// RenderTable writes the comparison as an aligned table. With exactly two
// results the second is treated as the student and ratio lines are added.
func RenderTable(w io.Writer, results []Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"MODEL", "PARAMS", "SIZE", "AVG LATENCY"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, r := range results {
		table.Append([]string{
			r.Name,
			fmt.Sprintf("%d", r.Params),
			humanBytes(r.DiskBytes),
			r.AvgLatency.String(),
		})
	}
	table.Render()

	if len(results) == 2 && results[1].DiskBytes > 0 && results[1].AvgLatency > 0 {
		fmt.Fprintf(w, "\nsize ratio %.2fx, speedup %.2fx\n",
			float64(results[0].DiskBytes)/float64(results[1].DiskBytes),
			float64(results[0].AvgLatency)/float64(results[1].AvgLatency))
	}
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
