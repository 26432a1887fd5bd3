package train

import (
	"math"
	"testing"
)

func TestAdamFirstStepMovesBySign(t *testing.T) {
	a := NewAdam(3)
	params := []float64{1, 1, 1}
	grads := []float64{0.5, -2, 0}
	lr := 0.1

	if err := a.Step(params, grads, lr); err != nil {
		t.Fatalf("step: %v", err)
	}

	// On the first step the bias corrections cancel the moment decay, so
	// every parameter with a nonzero gradient moves by almost exactly
	// lr in the direction opposing the gradient.
	if math.Abs(params[0]-(1-lr)) > 1e-6 {
		t.Fatalf("param 0: %g", params[0])
	}
	if math.Abs(params[1]-(1+lr)) > 1e-6 {
		t.Fatalf("param 1: %g", params[1])
	}
	if params[2] != 1 {
		t.Fatalf("zero-gradient param moved: %g", params[2])
	}
}

func TestAdamSizeMismatch(t *testing.T) {
	a := NewAdam(2)
	if err := a.Step([]float64{1}, []float64{1}, 0.1); err == nil {
		t.Fatal("short vectors accepted")
	}
	if err := a.Restore([]float64{0}, []float64{0}, 1); err == nil {
		t.Fatal("short checkpoint accepted")
	}
}

func TestAdamSnapshotRestore(t *testing.T) {
	a := NewAdam(2)
	params := []float64{0, 0}
	if err := a.Step(params, []float64{1, -1}, 0.01); err != nil {
		t.Fatalf("step: %v", err)
	}
	m, v, step := a.Snapshot()
	if step != 1 {
		t.Fatalf("snapshot step: %d", step)
	}

	// Continue two divergent copies from the same state; they must agree.
	b := NewAdam(2)
	if err := b.Restore(m, v, step); err != nil {
		t.Fatalf("restore: %v", err)
	}
	pa := append([]float64(nil), params...)
	pb := append([]float64(nil), params...)
	if err := a.Step(pa, []float64{0.3, 0.7}, 0.01); err != nil {
		t.Fatalf("step: %v", err)
	}
	if err := b.Step(pb, []float64{0.3, 0.7}, 0.01); err != nil {
		t.Fatalf("step: %v", err)
	}
	if pa[0] != pb[0] || pa[1] != pb[1] {
		t.Fatalf("restored optimizer diverged: %v vs %v", pa, pb)
	}

	// Snapshot must be a copy, not a view.
	m[0] = 99
	m2, _, _ := a.Snapshot()
	if m2[0] == 99 {
		t.Fatal("snapshot aliases internal state")
	}
}

func TestAdamReset(t *testing.T) {
	a := NewAdam(1)
	params := []float64{0}
	if err := a.Step(params, []float64{1}, 0.1); err != nil {
		t.Fatalf("step: %v", err)
	}
	a.Reset()
	m, v, step := a.Snapshot()
	if step != 0 || m[0] != 0 || v[0] != 0 {
		t.Fatalf("reset left state: m=%g v=%g step=%d", m[0], v[0], step)
	}
}
