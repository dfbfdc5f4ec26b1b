package dag

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/kbukum/stepflow/errors"
)

func linear() []StepSpec {
	return []StepSpec{
		NewStep("load").Code("load@1").Literal("path", "/data").Outputs("raw").Build(),
		NewStep("transform").Code("transform@1").From("raw", "load", "raw").Literal("scale", 2).Outputs("features").Build(),
		NewStep("train").Code("train@1").From("features", "transform", "features").Outputs("model").Build(),
	}
}

func compileErr(t *testing.T, err error) *CompileError {
	t.Helper()
	var ce *CompileError
	if !stderrors.As(err, &ce) {
		t.Fatalf("expected *CompileError, got %T: %v", err, err)
	}
	return ce
}

func TestCompile_Linear(t *testing.T) {
	g, err := Compile(linear(), WithPipelineName("training"))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if g.Name() != "training" {
		t.Errorf("Name() = %q", g.Name())
	}
	want := []string{"load", "transform", "train"}
	if got := g.Order(); !slices.Equal(got, want) {
		t.Errorf("Order() = %v, want %v", got, want)
	}
	if got := g.Edges(); len(got) != 2 || got[0] != (Edge{From: "load", Output: "raw", To: "transform", Input: "raw"}) {
		t.Errorf("Edges() = %+v", got)
	}
	if got := g.Descendants("load"); !slices.Equal(got, []string{"transform", "train"}) {
		t.Errorf("Descendants(load) = %v", got)
	}
	if got := g.Ancestors("train"); !slices.Equal(got, []string{"load", "transform"}) {
		t.Errorf("Ancestors(train) = %v", got)
	}
	if !g.IsAncestor("load", "train") || g.IsAncestor("train", "load") {
		t.Error("IsAncestor mismatch")
	}
	if up := g.UpstreamOf("transform", "train"); len(up) != 2 || !up["load"] || !up["transform"] || up["train"] {
		t.Errorf("UpstreamOf(transform, train) = %v", up)
	}
}

func TestCompile_OrderRespectsEdgesAndDeclaration(t *testing.T) {
	// Declared consumer-first; c and b are independent of each other.
	steps := []StepSpec{
		NewStep("d").Code("d").From("x", "b", "out").From("y", "c", "out").Outputs("out").Build(),
		NewStep("c").Code("c").From("x", "a", "out").Outputs("out").Build(),
		NewStep("b").Code("b").From("x", "a", "out").Outputs("out").Build(),
		NewStep("a").Code("a").Outputs("out").Build(),
		NewStep("z").Code("z").Outputs("out").Build(),
	}
	g, err := Compile(steps)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	order := g.Order()
	want := []string{"a", "c", "b", "d", "z"}
	if !slices.Equal(order, want) {
		t.Errorf("Order() = %v, want %v", order, want)
	}
	pos := make(map[string]int)
	for i, n := range order {
		pos[n] = i
	}
	for _, e := range g.Edges() {
		if pos[e.From] >= pos[e.To] {
			t.Errorf("edge %s -> %s out of order", e.From, e.To)
		}
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		steps []StepSpec
		kind  ErrorKind
		code  errors.ErrorCode
		cycle []string
	}{
		{
			name: "duplicate name",
			steps: []StepSpec{
				NewStep("a").Code("a").Outputs("o").Build(),
				NewStep("a").Code("a2").Outputs("o").Build(),
			},
			kind: DuplicateStepName,
			code: errors.ErrCodeDuplicateStepName,
		},
		{
			name: "unknown step",
			steps: []StepSpec{
				NewStep("a").Code("a").From("in", "ghost", "o").Outputs("o").Build(),
			},
			kind: UnknownReference,
			code: errors.ErrCodeUnknownReference,
		},
		{
			name: "unknown output",
			steps: []StepSpec{
				NewStep("a").Code("a").Outputs("o").Build(),
				NewStep("b").Code("b").From("in", "a", "missing").Outputs("o").Build(),
			},
			kind: UnknownReference,
			code: errors.ErrCodeUnknownReference,
		},
		{
			name: "self reference",
			steps: []StepSpec{
				NewStep("a").Code("a").From("in", "a", "o").Outputs("o").Build(),
			},
			kind:  CycleDetected,
			code:  errors.ErrCodeCycleDetected,
			cycle: []string{"a", "a"},
		},
		{
			name: "transitive cycle",
			steps: []StepSpec{
				NewStep("a").Code("a").From("in", "c", "o").Outputs("o").Build(),
				NewStep("b").Code("b").From("in", "a", "o").Outputs("o").Build(),
				NewStep("c").Code("c").From("in", "b", "o").Outputs("o").Build(),
			},
			kind:  CycleDetected,
			code:  errors.ErrCodeCycleDetected,
			cycle: []string{"a", "b", "c", "a"},
		},
		{
			name:  "invalid name",
			steps: []StepSpec{NewStep("bad.name").Code("x").Build()},
			kind:  InvalidStep,
			code:  errors.ErrCodeInvalidStep,
		},
		{
			name:  "duplicate outputs",
			steps: []StepSpec{NewStep("a").Code("x").Outputs("o", "o").Build()},
			kind:  InvalidStep,
			code:  errors.ErrCodeInvalidStep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Compile(tt.steps)
			if g != nil {
				t.Error("expected no graph on error")
			}
			ce := compileErr(t, err)
			if ce.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", ce.Kind, tt.kind)
			}
			if tt.cycle != nil && !slices.Equal(ce.Cycle, tt.cycle) {
				t.Errorf("Cycle = %v, want %v", ce.Cycle, tt.cycle)
			}
			appErr, ok := errors.AsAppError(err)
			if !ok {
				t.Fatal("expected AppError in chain")
			}
			if appErr.Code != tt.code {
				t.Errorf("Code = %s, want %s", appErr.Code, tt.code)
			}
		})
	}
}

func TestCompileError_Message(t *testing.T) {
	err := &CompileError{Kind: CycleDetected, Cycle: []string{"a", "b", "a"}}
	if got := err.Error(); got != "dag: cycle detected: a -> b -> a" {
		t.Errorf("Error() = %q", got)
	}
}

func TestCacheEnabled_Precedence(t *testing.T) {
	steps := []StepSpec{
		NewStep("inherit").Code("i").Outputs("o").Build(),
		NewStep("on").Code("e").Outputs("o").Caching(CacheEnabled).Build(),
		NewStep("off").Code("d").Outputs("o").Caching(CacheDisabled).Build(),
	}
	yes, no := true, false

	tests := []struct {
		name string
		opts []CompileOption
		want map[string]bool
	}{
		{"defaults", nil, map[string]bool{"inherit": true, "on": true, "off": false}},
		{"pipeline off", []CompileOption{WithPipelineCaching(false)}, map[string]bool{"inherit": false, "on": true, "off": false}},
		{"run on", []CompileOption{WithPipelineCaching(false), WithRunCacheOverride(&yes)}, map[string]bool{"inherit": true, "on": true, "off": true}},
		{"run off", []CompileOption{WithRunCacheOverride(&no)}, map[string]bool{"inherit": false, "on": false, "off": false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Compile(steps, tt.opts...)
			if err != nil {
				t.Fatal(err)
			}
			for step, want := range tt.want {
				if got := g.CacheEnabled(step); got != want {
					t.Errorf("CacheEnabled(%s) = %v, want %v", step, got, want)
				}
			}
		})
	}
}

func TestBuilder_Independent(t *testing.T) {
	b := NewStep("a").Code("a").CacheParam("k", "1")
	first := b.Build()
	b.CacheParam("k", "2").Outputs("late")
	if first.CacheParameters["k"] != "1" || len(first.Outputs) != 0 {
		t.Errorf("earlier Build() mutated: %+v", first)
	}
}

func TestHashSources(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.py", "print(1)")
	write("b.py", "print(2)")

	h1, err := HashSources(dir, "*.py")
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := HashSources(dir, "b.py", "a.py")
	if h1 != h2 {
		t.Error("hash depends on pattern order")
	}

	write("a.py", "print(3)")
	h3, _ := HashSources(dir, "*.py")
	if h3 == h1 {
		t.Error("hash did not change with content")
	}

	if _, err := HashSources(dir, "*.go"); err == nil {
		t.Error("expected error for unmatched pattern")
	}
}
