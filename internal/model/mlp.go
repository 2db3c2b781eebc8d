package model

import (
	"math/rand"
)

// MLP is a small feed-forward classifier: an optional ReLU hidden layer
// followed by a linear softmax head. A hidden size of zero degrades to a
// plain linear classifier, which is what the compact student typically uses.
type MLP struct {
	inputSize  int
	hiddenSize int
	numClasses int

	w1 []float64 // hiddenSize x inputSize, empty when hiddenSize == 0
	b1 []float64 // hiddenSize
	w2 []float64 // numClasses x headInput
	b2 []float64 // numClasses
}

// NewMLP constructs the model with seeded random initialization.
func NewMLP(inputSize, hiddenSize, numClasses int, seed int64) *MLP {
	if inputSize <= 0 {
		inputSize = 64
	}
	if hiddenSize < 0 {
		hiddenSize = 0
	}
	if numClasses <= 0 {
		numClasses = 10
	}
	rng := rand.New(rand.NewSource(seed))
	m := &MLP{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		numClasses: numClasses,
	}
	if hiddenSize > 0 {
		m.w1 = randomWeights(rng, hiddenSize*inputSize)
		m.b1 = make([]float64, hiddenSize)
	}
	m.w2 = randomWeights(rng, numClasses*m.headInput())
	m.b2 = make([]float64, numClasses)
	return m
}

func randomWeights(rng *rand.Rand, n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * 0.01
	}
	return w
}

// headInput is the width of the vector feeding the softmax head.
func (m *MLP) headInput() int {
	if m.hiddenSize > 0 {
		return m.hiddenSize
	}
	return m.inputSize
}

// NumClasses returns the size of the label space.
func (m *MLP) NumClasses() int { return m.numClasses }

// InputSize returns the expected feature vector length.
func (m *MLP) InputSize() int { return m.inputSize }

// HiddenSize returns the hidden layer width, zero for a linear model.
func (m *MLP) HiddenSize() int { return m.hiddenSize }

// ParamCount returns the number of trainable parameters.
func (m *MLP) ParamCount() int {
	return len(m.w1) + len(m.b1) + len(m.w2) + len(m.b2)
}

// Forward computes per-class logits for a single feature vector.
func (m *MLP) Forward(input []float64) []float64 {
	head := input
	if m.hiddenSize > 0 {
		head = m.hidden(input)
	}
	logits := make([]float64, m.numClasses)
	for c := 0; c < m.numClasses; c++ {
		sum := m.b2[c]
		wStart := c * len(head)
		for j, v := range head {
			sum += m.w2[wStart+j] * v
		}
		logits[c] = sum
	}
	return logits
}

func (m *MLP) hidden(input []float64) []float64 {
	h := make([]float64, m.hiddenSize)
	for j := 0; j < m.hiddenSize; j++ {
		sum := m.b1[j]
		wStart := j * m.inputSize
		for i, v := range input {
			sum += m.w1[wStart+i] * v
		}
		if sum > 0 {
			h[j] = sum
		}
	}
	return h
}

// ApplyGrads performs one SGD step given per-sample gradients with respect
// to the logits. Inputs and grads must be parallel slices; samples whose
// feature length does not match the model are skipped, mirroring how batches
// with stray records are tolerated elsewhere in the pipeline.
func (m *MLP) ApplyGrads(inputs [][]float64, grads [][]float64, lr float64) {
	for i, input := range inputs {
		if len(input) != m.inputSize || i >= len(grads) {
			continue
		}
		g := grads[i]
		if len(g) != m.numClasses {
			continue
		}
		head := input
		if m.hiddenSize > 0 {
			head = m.hidden(input)
		}

		var dHead []float64
		if m.hiddenSize > 0 {
			dHead = make([]float64, m.hiddenSize)
		}
		for c := 0; c < m.numClasses; c++ {
			gc := g[c]
			m.b2[c] -= lr * gc
			wStart := c * len(head)
			for j, v := range head {
				if dHead != nil {
					dHead[j] += gc * m.w2[wStart+j]
				}
				m.w2[wStart+j] -= lr * gc * v
			}
		}
		if dHead == nil {
			continue
		}
		// ReLU gate: units that did not fire carry no gradient.
		for j := 0; j < m.hiddenSize; j++ {
			if head[j] <= 0 {
				continue
			}
			dj := dHead[j]
			m.b1[j] -= lr * dj
			wStart := j * m.inputSize
			for i2, v := range input {
				m.w1[wStart+i2] -= lr * dj * v
			}
		}
	}
}
