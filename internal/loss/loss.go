// Package loss implements the per-step loss computations the training loop
// is parameterized with. A Strategy turns a batch into a scalar loss plus
// the gradients the optimizer needs; the loop never knows which objective
// it is minimizing.
package loss

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"distillforge/internal/model"
)

const probFloor = 1e-9

// Result carries the outcome of one loss computation over a batch.
type Result struct {
	// Loss is the batch-mean scalar objective.
	Loss float64
	// Logits holds the student's raw per-class outputs, one row per sample.
	Logits [][]float64
	// Grads holds d(Loss)/d(logits) per sample, already scaled by 1/batch.
	Grads [][]float64
}

// Strategy computes the training objective for one batch of student inputs.
type Strategy interface {
	Compute(student model.Classifier, batch model.Batch) (Result, error)
}

// CrossEntropy is plain supervised softmax cross-entropy, used when training
// a model from scratch (for example the teacher itself).
type CrossEntropy struct{}

// Compute returns the batch-mean cross-entropy and its logit gradients.
func (CrossEntropy) Compute(student model.Classifier, batch model.Batch) (Result, error) {
	n := len(batch.Inputs)
	if n == 0 {
		return Result{}, nil
	}
	if len(batch.Labels) != n {
		return Result{}, fmt.Errorf("loss: %d labels for %d inputs", len(batch.Labels), n)
	}
	res := Result{
		Logits: make([][]float64, n),
		Grads:  make([][]float64, n),
	}
	invN := 1 / float64(n)
	for i, input := range batch.Inputs {
		logits := student.Forward(input)
		label := batch.Labels[i]
		if label < 0 || label >= len(logits) {
			return Result{}, fmt.Errorf("loss: label %d outside %d classes", label, len(logits))
		}
		probs := Softmax(logits, 1)
		res.Loss += -math.Log(math.Max(probs[label], probFloor)) * invN

		grad := probs
		grad[label] -= 1
		floats.Scale(invN, grad)
		res.Logits[i] = logits
		res.Grads[i] = grad
	}
	return res, nil
}

// Distill blends supervised cross-entropy with the temperature-smoothed
// divergence between the frozen teacher's output distribution and the
// student's. The teacher is referenced, not owned, and is only ever asked
// for forward passes.
type Distill struct {
	// Alpha weights the ground-truth term; 1-Alpha weights distillation.
	Alpha float64
	// Temperature divides both logit sets before softmax.
	Temperature float64
	// Teacher produces the reference distributions.
	Teacher model.Classifier
}

// NewDistill validates the hyperparameters at construction time.
func NewDistill(alpha, temperature float64, teacher model.Classifier) (Distill, error) {
	if alpha < 0 || alpha > 1 {
		return Distill{}, fmt.Errorf("loss: alpha %v outside [0,1]", alpha)
	}
	if temperature <= 0 {
		return Distill{}, fmt.Errorf("loss: temperature %v must be > 0", temperature)
	}
	if teacher == nil {
		return Distill{}, errors.New("loss: teacher model is required")
	}
	return Distill{Alpha: alpha, Temperature: temperature, Teacher: teacher}, nil
}

// Compute runs student and teacher forward passes over the batch and returns
//
//	alpha*CE + (1-alpha)*T^2*KL(teacher_T || student_T)
//
// as the batch-mean loss. The T^2 factor keeps gradient magnitudes
// comparable across temperatures.
func (d Distill) Compute(student model.Classifier, batch model.Batch) (Result, error) {
	if d.Teacher == nil {
		return Result{}, errors.New("loss: teacher model is required")
	}
	if d.Temperature <= 0 {
		return Result{}, fmt.Errorf("loss: temperature %v must be > 0", d.Temperature)
	}
	n := len(batch.Inputs)
	if n == 0 {
		return Result{}, nil
	}
	if len(batch.Labels) != n {
		return Result{}, fmt.Errorf("loss: %d labels for %d inputs", len(batch.Labels), n)
	}

	res := Result{
		Logits: make([][]float64, n),
		Grads:  make([][]float64, n),
	}
	t := d.Temperature
	invN := 1 / float64(n)
	var ceSum, klSum float64
	for i, input := range batch.Inputs {
		zs := student.Forward(input)
		zt := d.Teacher.Forward(input)
		if len(zt) != len(zs) {
			return Result{}, fmt.Errorf("loss: teacher emits %d classes, student %d", len(zt), len(zs))
		}
		label := batch.Labels[i]
		if label < 0 || label >= len(zs) {
			return Result{}, fmt.Errorf("loss: label %d outside %d classes", label, len(zs))
		}

		p := Softmax(zs, 1)
		qs := Softmax(zs, t)
		qt := Softmax(zt, t)

		ceSum += -math.Log(math.Max(p[label], probFloor))
		klSum += stat.KullbackLeibler(qt, qs)

		grad := make([]float64, len(zs))
		for c := range grad {
			hard := p[c]
			if c == label {
				hard -= 1
			}
			grad[c] = (d.Alpha*hard + (1-d.Alpha)*t*(qs[c]-qt[c])) * invN
		}
		res.Logits[i] = zs
		res.Grads[i] = grad
	}
	res.Loss = d.Alpha*ceSum*invN + (1-d.Alpha)*t*t*klSum*invN
	return res, nil
}

// Softmax converts logits into a probability distribution after dividing by
// temperature. Uses the usual max-shift for numerical stability.
func Softmax(logits []float64, temperature float64) []float64 {
	out := make([]float64, len(logits))
	copy(out, logits)
	if temperature != 1 {
		floats.Scale(1/temperature, out)
	}
	shift := floats.Max(out)
	sum := 0.0
	for i, v := range out {
		e := math.Exp(v - shift)
		out[i] = e
		sum += e
	}
	floats.Scale(1/sum, out)
	return out
}
