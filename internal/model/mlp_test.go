package model

import "testing"

func TestForwardShape(t *testing.T) {
	m := NewMLP(6, 4, 3, 1)
	logits := m.Forward(make([]float64, 6))
	if len(logits) != 3 {
		t.Fatalf("expected 3 logits, got %d", len(logits))
	}
}

func TestSeededInitDeterministic(t *testing.T) {
	a := NewMLP(6, 4, 3, 9)
	b := NewMLP(6, 4, 3, 9)
	input := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	la, lb := a.Forward(input), b.Forward(input)
	for i := range la {
		if la[i] != lb[i] {
			t.Fatalf("same seed produced different logits at %d: %f vs %f", i, la[i], lb[i])
		}
	}
}

func TestApplyGradsMovesLogits(t *testing.T) {
	m := NewMLP(4, 0, 3, 1)
	input := []float64{0.1, 0.2, 0.3, 0.4}
	before := m.Forward(input)

	// Push class 0 down, class 2 up.
	grads := [][]float64{{1, 0, -1}}
	m.ApplyGrads([][]float64{input}, grads, 0.1)
	after := m.Forward(input)

	if after[0] >= before[0] {
		t.Fatalf("class 0 logit did not decrease: %f -> %f", before[0], after[0])
	}
	if after[2] <= before[2] {
		t.Fatalf("class 2 logit did not increase: %f -> %f", before[2], after[2])
	}
}

func TestApplyGradsHiddenLayer(t *testing.T) {
	m := NewMLP(4, 8, 3, 1)
	input := []float64{0.5, 0.5, 0.5, 0.5}
	before := m.Forward(input)

	grads := [][]float64{{1, 0, 0}}
	for i := 0; i < 5; i++ {
		m.ApplyGrads([][]float64{input}, grads, 0.1)
	}
	after := m.Forward(input)
	if after[0] >= before[0] {
		t.Fatalf("class 0 logit did not decrease: %f -> %f", before[0], after[0])
	}
}

func TestApplyGradsSkipsMalformedSamples(t *testing.T) {
	m := NewMLP(4, 0, 3, 1)
	input := []float64{0.1, 0.2, 0.3, 0.4}
	before := m.Forward(input)

	m.ApplyGrads([][]float64{{0.1, 0.2}}, [][]float64{{1, 1, 1}}, 0.1)
	m.ApplyGrads([][]float64{input}, [][]float64{{1, 1}}, 0.1)

	after := m.Forward(input)
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("malformed sample mutated weights")
		}
	}
}

func TestParamCount(t *testing.T) {
	if got := NewMLP(4, 0, 3, 1).ParamCount(); got != 4*3+3 {
		t.Fatalf("linear param count = %d", got)
	}
	if got := NewMLP(4, 8, 3, 1).ParamCount(); got != 8*4+8+3*8+3 {
		t.Fatalf("mlp param count = %d", got)
	}
}
