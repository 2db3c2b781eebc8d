package model

// Batch represents a minibatch of dense features and labels.
type Batch struct {
	Inputs [][]float64
	Labels []int
}

// Classifier is the read-only surface a trained model exposes. The teacher
// model is held behind this interface during distillation so nothing can
// touch its parameters.
type Classifier interface {
	Forward(input []float64) []float64
	NumClasses() int
}
