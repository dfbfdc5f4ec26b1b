package fingerprint

import (
	stderrors "errors"
	"math"
	"testing"

	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/logger"
)

var testCtx = CacheContext{
	Namespace:         "proj",
	ArtifactStoreID:   "default",
	ArtifactStoreRoot: "runs",
	RunNonce:          "nonce-1",
}

func pipeline(transformScale any, trainCode string) []dag.StepSpec {
	return []dag.StepSpec{
		dag.NewStep("load").Code("load@1").Literal("path", "/data").Outputs("raw").Build(),
		dag.NewStep("transform").Code("transform@1").From("raw", "load", "raw").Literal("scale", transformScale).Outputs("features").Build(),
		dag.NewStep("train").Code(trainCode).From("features", "transform", "features").Outputs("model").Build(),
	}
}

func resolve(t *testing.T, steps []dag.StepSpec, cc CacheContext, opts ...dag.CompileOption) *Resolution {
	t.Helper()
	g, err := dag.Compile(steps, opts...)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	res, err := NewResolver(logger.NewNop()).Resolve(g, cc)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return res
}

func TestResolve_Deterministic(t *testing.T) {
	a := resolve(t, pipeline(2, "train@1"), testCtx)
	other := testCtx
	other.RunNonce = "nonce-2"
	b := resolve(t, pipeline(2, "train@1"), other)

	for step, fp := range a.Fingerprints {
		if !fp.Valid() {
			t.Errorf("%s: invalid fingerprint %q", step, fp)
		}
		if b.Of(step) != fp {
			t.Errorf("%s: fingerprint differs across runs", step)
		}
	}
}

func TestResolve_Sensitivity(t *testing.T) {
	base := resolve(t, pipeline(2, "train@1"), testCtx)

	tests := []struct {
		name    string
		res     *Resolution
		changed []string
		same    []string
	}{
		{
			name:    "train code identity",
			res:     resolve(t, pipeline(2, "train@2"), testCtx),
			changed: []string{"train"},
			same:    []string{"load", "transform"},
		},
		{
			name:    "transform literal",
			res:     resolve(t, pipeline(3, "train@1"), testCtx),
			changed: []string{"transform", "train"},
			same:    []string{"load"},
		},
		{
			name:    "namespace",
			res:     resolve(t, pipeline(2, "train@1"), CacheContext{Namespace: "other", ArtifactStoreID: "default", ArtifactStoreRoot: "runs", RunNonce: "x"}),
			changed: []string{"load", "transform", "train"},
		},
		{
			name:    "artifact root",
			res:     resolve(t, pipeline(2, "train@1"), CacheContext{Namespace: "proj", ArtifactStoreID: "default", ArtifactStoreRoot: "elsewhere"}),
			changed: []string{"load", "transform", "train"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, s := range tt.changed {
				if tt.res.Of(s) == base.Of(s) {
					t.Errorf("%s: fingerprint unchanged", s)
				}
			}
			for _, s := range tt.same {
				if tt.res.Of(s) != base.Of(s) {
					t.Errorf("%s: fingerprint changed", s)
				}
			}
		})
	}
}

func TestResolve_InputOrderIrrelevant(t *testing.T) {
	a := dag.NewStep("s").Code("c").Literal("x", 1).Literal("y", map[string]any{"b": 1, "a": 2}).Outputs("o", "p").Build()
	b := dag.NewStep("s").Code("c").Literal("y", map[string]any{"a": 2, "b": 1}).Literal("x", 1).Outputs("p", "o").Build()
	ra := resolve(t, []dag.StepSpec{a}, testCtx)
	rb := resolve(t, []dag.StepSpec{b}, testCtx)
	if ra.Of("s") != rb.Of("s") {
		t.Error("fingerprint depends on declaration order")
	}
}

func TestResolve_CacheParametersAndOutputs(t *testing.T) {
	plain := resolve(t, []dag.StepSpec{dag.NewStep("s").Code("c").Outputs("o").Build()}, testCtx)
	param := resolve(t, []dag.StepSpec{dag.NewStep("s").Code("c").Outputs("o").CacheParam("seed", "1").Build()}, testCtx)
	outs := resolve(t, []dag.StepSpec{dag.NewStep("s").Code("c").Outputs("o", "extra").Build()}, testCtx)
	if plain.Of("s") == param.Of("s") {
		t.Error("cache parameter ignored")
	}
	if plain.Of("s") == outs.Of("s") {
		t.Error("output names ignored")
	}
}

func TestResolve_DisabledCachingSalts(t *testing.T) {
	steps := pipeline(2, "train@1")
	steps[1].Caching = dag.CacheDisabled

	a := resolve(t, steps, testCtx)
	other := testCtx
	other.RunNonce = "nonce-2"
	b := resolve(t, steps, other)

	if a.Of("load") != b.Of("load") {
		t.Error("upstream of disabled step should be stable")
	}
	if a.Of("transform") == b.Of("transform") {
		t.Error("disabled step should be salted per run")
	}
	if a.Of("train") == b.Of("train") {
		t.Error("downstream of disabled step should inherit the salt")
	}
	if !a.Salted["transform"] || a.Salted["train"] {
		t.Errorf("Salted = %v", a.Salted)
	}
}

func TestResolve_ForcedMiss(t *testing.T) {
	tests := []struct {
		name string
		step dag.StepSpec
	}{
		{"NaN literal", dag.NewStep("s").Code("c").Literal("x", math.NaN()).Outputs("o").Build()},
		{"channel literal", dag.NewStep("s").Code("c").Literal("x", make(chan int)).Outputs("o").Build()},
		{"func in map", dag.NewStep("s").Code("c").Literal("x", map[string]any{"f": func() {}}).Outputs("o").Build()},
		{"empty code identity", dag.NewStep("s").Code("  ").Outputs("o").Build()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := resolve(t, []dag.StepSpec{tt.step}, testCtx)
			if !a.Forced("s") {
				t.Fatal("expected forced miss")
			}
			var fe *Error
			if !stderrors.As(a.ForcedMiss["s"], &fe) || fe.Step != "s" {
				t.Errorf("ForcedMiss = %v", a.ForcedMiss["s"])
			}
			if !a.Of("s").Valid() {
				t.Error("forced miss still needs a fingerprint")
			}
			other := testCtx
			other.RunNonce = "nonce-2"
			if b := resolve(t, []dag.StepSpec{tt.step}, other); b.Of("s") == a.Of("s") {
				t.Error("forced miss fingerprint must be salted")
			}
		})
	}
}

func TestResolve_ZeroInputStable(t *testing.T) {
	step := dag.NewStep("const").Code("v1").Outputs("o").Build()
	a := resolve(t, []dag.StepSpec{step}, testCtx)
	b := resolve(t, []dag.StepSpec{step}, CacheContext{Namespace: "proj", ArtifactStoreID: "default", ArtifactStoreRoot: "runs"})
	if a.Of("const") != b.Of("const") {
		t.Error("zero-input step should fingerprint identically across runs")
	}
}

func TestOutput(t *testing.T) {
	fp := Fingerprint("ab")
	if Output(fp, "a") == Output(fp, "b") {
		t.Error("output name ignored")
	}
	if Output(fp, "a") != Output(fp, "a") {
		t.Error("not deterministic")
	}
	if got := Output(fp, "a").Short(); len(got) != 12 {
		t.Errorf("Short() = %q", got)
	}
}
