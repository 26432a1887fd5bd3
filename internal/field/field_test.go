package field

import (
	"math"
	"math/rand"
	"testing"

	"radiance/internal/config"
	"radiance/internal/geom"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.NetDepth = 1
	cfg.NetWidth = 8
	cfg.BottleneckWidth = 4
	cfg.DegPoint = 2
	cfg.DegView = 2
	return cfg
}

func TestQueryDensityAlwaysPresent(t *testing.T) {
	e, err := New(testConfig(), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res := e.Query(geom.New(0.1, 0.2, 0.3), geom.New(0, 0, -1), 0.01, OutDensity, nil, false)
	if res.Density < 0 || math.IsNaN(res.Density) {
		t.Fatalf("density: %g", res.Density)
	}
	if res.Color != (geom.Vec3{}) || res.Normal != (geom.Vec3{}) {
		t.Fatalf("unrequested outputs populated: %+v", res)
	}
}

func TestQueryColorInUnitRange(t *testing.T) {
	e, err := New(testConfig(), rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res := e.Query(geom.New(0.5, -0.5, 0.2), geom.New(0, 0, -1), 0.01, OutAll, nil, false)
	for _, c := range []geom.Vec3{res.Color, res.Diffuse, res.Tint} {
		if c.X < 0 || c.X > 1 || c.Y < 0 || c.Y > 1 || c.Z < 0 || c.Z > 1 {
			t.Fatalf("color channel outside [0, 1]: %+v", c)
		}
	}
	if res.Roughness < 0 {
		t.Fatalf("negative roughness: %g", res.Roughness)
	}
}

func TestQueryNormalsUnitLength(t *testing.T) {
	e, err := New(testConfig(), rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res := e.Query(geom.New(0.3, 0.1, -0.2), geom.New(0, 0, -1), 0.01, OutNormals, nil, false)
	if res.PredNormal == (geom.Vec3{}) {
		t.Fatal("predicted normal head produced nothing")
	}
	if math.Abs(res.PredNormal.Length()-1) > 1e-9 {
		t.Fatalf("predicted normal length: %g", res.PredNormal.Length())
	}
	if res.Normal != (geom.Vec3{}) && math.Abs(res.Normal.Length()-1) > 1e-9 {
		t.Fatalf("density normal length: %g", res.Normal.Length())
	}
}

func TestProposalIgnoresAppearanceMask(t *testing.T) {
	e, err := NewProposal(testConfig(), rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatalf("new proposal: %v", err)
	}
	if e.HasAppearance() {
		t.Fatal("proposal field claims appearance heads")
	}
	res := e.Query(geom.New(0.1, 0.1, 0.1), geom.New(0, 0, -1), 0.01, OutAll, nil, false)
	if res.Color != (geom.Vec3{}) || res.PredNormal != (geom.Vec3{}) {
		t.Fatalf("proposal produced appearance outputs: %+v", res)
	}
	if res.Density < 0 {
		t.Fatalf("density: %g", res.Density)
	}
}

func TestQueryDeterministicWithoutNoise(t *testing.T) {
	cfg := testConfig()
	cfg.BottleneckNoise = 0
	e, err := New(cfg, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p := geom.New(0.2, 0.3, 0.4)
	dir := geom.New(0, 0, -1)
	a := e.Query(p, dir, 0.01, OutAll, rand.New(rand.NewSource(1)), true)
	b := e.Query(p, dir, 0.01, OutAll, rand.New(rand.NewSource(99)), true)
	if a.Color != b.Color {
		t.Fatalf("color depends on rng with zero bottleneck noise: %+v vs %+v", a.Color, b.Color)
	}
}

func TestQueryBottleneckNoisePerturbsTraining(t *testing.T) {
	cfg := testConfig()
	cfg.BottleneckNoise = 0.5
	e, err := New(cfg, rand.New(rand.NewSource(6)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p := geom.New(0.2, 0.3, 0.4)
	dir := geom.New(0, 0, -1)

	train1 := e.Query(p, dir, 0.01, OutAll, rand.New(rand.NewSource(1)), true)
	train2 := e.Query(p, dir, 0.01, OutAll, rand.New(rand.NewSource(2)), true)
	if train1.Specular == train2.Specular {
		t.Fatal("bottleneck noise had no effect in training")
	}

	eval1 := e.Query(p, dir, 0.01, OutAll, rand.New(rand.NewSource(1)), false)
	eval2 := e.Query(p, dir, 0.01, OutAll, rand.New(rand.NewSource(2)), false)
	if eval1.Specular != eval2.Specular {
		t.Fatal("bottleneck noise leaked into evaluation")
	}
}

func TestEvaluatorFlattenRoundTrip(t *testing.T) {
	e, err := New(testConfig(), rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	params := e.Flatten(nil)
	if len(params) != e.ParamCount() {
		t.Fatalf("flatten length %d != param count %d", len(params), e.ParamCount())
	}
	if err := e.SetFlat(params); err != nil {
		t.Fatalf("set flat: %v", err)
	}
	if err := e.SetFlat(params[:len(params)-1]); err == nil {
		t.Fatal("short vector accepted")
	}
}

func TestSoftplusStable(t *testing.T) {
	if got := softplus(1000); got != 1000 {
		t.Fatalf("large input: %g", got)
	}
	if got := softplus(0); math.Abs(got-math.Ln2) > 1e-12 {
		t.Fatalf("softplus(0): %g", got)
	}
	if got := softplus(-1000); got != 0 {
		t.Fatalf("very negative input: %g", got)
	}
}
