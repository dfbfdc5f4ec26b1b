package dag

import (
	"fmt"
	"slices"
)

// Edge is a data dependency: step To reads Output of step From as Input.
type Edge struct {
	From   string `json:"from"`
	Output string `json:"output"`
	To     string `json:"to"`
	Input  string `json:"input"`
}

// Graph is a compiled, immutable pipeline. Step order and the topological
// order are fixed at compile time.
type Graph struct {
	name            string
	steps           []StepSpec
	index           map[string]int
	order           []string
	edges           []Edge
	upstream        map[string][]string
	downstream      map[string][]string
	pipelineCaching bool
	runOverride     *bool
}

// CompileOption configures Compile.
type CompileOption func(*Graph)

// WithPipelineName names the compiled pipeline.
func WithPipelineName(name string) CompileOption {
	return func(g *Graph) { g.name = name }
}

// WithPipelineCaching sets the pipeline-wide cache default used by steps
// whose policy is CacheInherit. Caching is enabled when unset.
func WithPipelineCaching(enabled bool) CompileOption {
	return func(g *Graph) { g.pipelineCaching = enabled }
}

// WithRunCacheOverride forces caching on or off for every step of a run.
// A nil value leaves step and pipeline settings in effect.
func WithRunCacheOverride(enabled *bool) CompileOption {
	return func(g *Graph) {
		if enabled != nil {
			v := *enabled
			g.runOverride = &v
		}
	}
}

// Compile validates steps and assembles them into a Graph. It has no side
// effects; on error no graph is returned.
func Compile(steps []StepSpec, opts ...CompileOption) (*Graph, error) {
	g := &Graph{
		name:            "pipeline",
		index:           make(map[string]int, len(steps)),
		upstream:        make(map[string][]string, len(steps)),
		downstream:      make(map[string][]string, len(steps)),
		pipelineCaching: true,
	}
	for _, opt := range opts {
		opt(g)
	}

	for i, s := range steps {
		if _, dup := g.index[s.Name]; dup {
			return nil, &CompileError{Kind: DuplicateStepName, Step: s.Name}
		}
		if err := validateStep(s); err != nil {
			return nil, &CompileError{Kind: InvalidStep, Step: s.Name, Cause: err}
		}
		g.index[s.Name] = i
	}
	g.steps = make([]StepSpec, len(steps))
	copy(g.steps, steps)

	for _, s := range g.steps {
		for _, in := range s.Inputs {
			if in.Ref == nil {
				continue
			}
			pi, ok := g.index[in.Ref.Step]
			if !ok || !g.steps[pi].HasOutput(in.Ref.Output) {
				return nil, &CompileError{Kind: UnknownReference, Step: s.Name, Ref: in.Ref.Key()}
			}
			g.edges = append(g.edges, Edge{From: in.Ref.Step, Output: in.Ref.Output, To: s.Name, Input: in.Name})
			if !slices.Contains(g.upstream[s.Name], in.Ref.Step) {
				g.upstream[s.Name] = append(g.upstream[s.Name], in.Ref.Step)
				g.downstream[in.Ref.Step] = append(g.downstream[in.Ref.Step], s.Name)
			}
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CompileError{Kind: CycleDetected, Step: cycle[0], Cycle: cycle}
	}
	g.order = g.topoOrder()
	return g, nil
}

// findCycle runs a depth-first search along producer to consumer edges and
// returns the first cycle found, closed by repeating its first step.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.steps))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = grey
		stack = append(stack, name)
		for _, next := range g.downstream[name] {
			switch color[next] {
			case grey:
				start := slices.Index(stack, next)
				cycle := append([]string(nil), stack[start:]...)
				return append(cycle, next)
			case white:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, s := range g.steps {
		if color[s.Name] == white {
			if c := visit(s.Name); c != nil {
				return c
			}
		}
	}
	return nil
}

// topoOrder is Kahn's algorithm with ties broken by declaration index.
func (g *Graph) topoOrder() []string {
	inDegree := make(map[string]int, len(g.steps))
	for _, s := range g.steps {
		inDegree[s.Name] = len(g.upstream[s.Name])
	}

	var ready []int
	for i, s := range g.steps {
		if inDegree[s.Name] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(g.steps))
	for len(ready) > 0 {
		slices.Sort(ready)
		i := ready[0]
		ready = ready[1:]
		name := g.steps[i].Name
		order = append(order, name)
		for _, next := range g.downstream[name] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, g.index[next])
			}
		}
	}
	return order
}

// Name returns the pipeline name.
func (g *Graph) Name() string { return g.name }

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.steps) }

// Steps returns the step specs in declaration order.
func (g *Graph) Steps() []StepSpec {
	return slices.Clone(g.steps)
}

// Step looks up a step by name.
func (g *Graph) Step(name string) (StepSpec, bool) {
	i, ok := g.index[name]
	if !ok {
		return StepSpec{}, false
	}
	return g.steps[i], true
}

// Order returns step names in topological order.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Edges returns every data dependency in declaration order.
func (g *Graph) Edges() []Edge {
	return slices.Clone(g.edges)
}

// Upstream returns the distinct producers a step reads from.
func (g *Graph) Upstream(name string) []string {
	return slices.Clone(g.upstream[name])
}

// Downstream returns the distinct consumers of a step's outputs.
func (g *Graph) Downstream(name string) []string {
	return slices.Clone(g.downstream[name])
}

// Descendants returns every step transitively downstream of name, in
// topological order.
func (g *Graph) Descendants(name string) []string {
	return g.reach(name, g.downstream)
}

// Ancestors returns every step transitively upstream of name, in
// topological order.
func (g *Graph) Ancestors(name string) []string {
	return g.reach(name, g.upstream)
}

// IsAncestor reports whether a lies on some path leading to b.
func (g *Graph) IsAncestor(a, b string) bool {
	return slices.Contains(g.Ancestors(b), a)
}

// UpstreamOf returns the set of steps transitively upstream of any of names.
func (g *Graph) UpstreamOf(names ...string) map[string]bool {
	return closure(g.upstream, names)
}

func (g *Graph) reach(name string, adj map[string][]string) []string {
	seen := closure(adj, []string{name})
	out := make([]string, 0, len(seen))
	for _, n := range g.order {
		if seen[n] {
			out = append(out, n)
		}
	}
	return out
}

// closure walks adj breadth first from every start. Starts are included
// only when reachable from another start.
func closure(adj map[string][]string, starts []string) map[string]bool {
	seen := make(map[string]bool)
	var queue []string
	for _, s := range starts {
		queue = append(queue, adj[s]...)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		queue = append(queue, adj[n]...)
	}
	return seen
}

// CacheEnabled resolves whether a step may reuse cached results. A run
// override wins over the step's own policy, which wins over the pipeline
// setting.
func (g *Graph) CacheEnabled(name string) bool {
	if g.runOverride != nil {
		return *g.runOverride
	}
	s, ok := g.Step(name)
	if !ok {
		return false
	}
	switch s.Caching {
	case CacheEnabled:
		return true
	case CacheDisabled:
		return false
	default:
		return g.pipelineCaching
	}
}

func (g *Graph) String() string {
	return fmt.Sprintf("%s%v", g.name, g.order)
}
