package train

import (
	"fmt"
	"math"
)

// Adam maintains first/second moment estimates over a flat parameter
// vector and applies bias-corrected updates.
type Adam struct {
	beta1   float64
	beta2   float64
	epsilon float64

	step int
	m    []float64
	v    []float64
}

func NewAdam(size int) *Adam {
	return &Adam{
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-8,
		m:       make([]float64, size),
		v:       make([]float64, size),
	}
}

// Step applies one Adam update in place.
func (a *Adam) Step(params, grads []float64, lr float64) error {
	if len(params) != len(a.m) || len(grads) != len(a.m) {
		return fmt.Errorf("adam: got %d params and %d grads, state has %d", len(params), len(grads), len(a.m))
	}
	a.step++
	correction1 := 1 - math.Pow(a.beta1, float64(a.step))
	correction2 := 1 - math.Pow(a.beta2, float64(a.step))

	for i, g := range grads {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		mHat := a.m[i] / correction1
		vHat := a.v[i] / correction2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + a.epsilon)
	}
	return nil
}

// Reset clears all moment state.
func (a *Adam) Reset() {
	a.step = 0
	for i := range a.m {
		a.m[i] = 0
		a.v[i] = 0
	}
}

// Snapshot copies the optimizer state for checkpointing.
func (a *Adam) Snapshot() (m, v []float64, step int) {
	return append([]float64(nil), a.m...), append([]float64(nil), a.v...), a.step
}

// Restore replaces the optimizer state from a checkpoint.
func (a *Adam) Restore(m, v []float64, step int) error {
	if len(m) != len(a.m) || len(v) != len(a.v) {
		return fmt.Errorf("adam: checkpoint state has %d/%d values, want %d", len(m), len(v), len(a.m))
	}
	copy(a.m, m)
	copy(a.v, v)
	a.step = step
	return nil
}
