package fingerprint

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/logger"
)

// ErrEmptyCodeIdentity marks a step declared without a code identity.
var ErrEmptyCodeIdentity = stderrors.New("empty code identity")

// Resolution holds the fingerprints computed for one run.
type Resolution struct {
	Fingerprints map[string]Fingerprint
	// Salted lists steps whose fingerprint includes the run nonce: caching
	// disabled or forced miss.
	Salted map[string]bool
	// ForcedMiss maps steps whose inputs could not be encoded to the reason.
	ForcedMiss map[string]error
	Context    CacheContext
}

// Of returns the fingerprint of step.
func (r *Resolution) Of(step string) Fingerprint {
	return r.Fingerprints[step]
}

// Forced reports whether step must bypass the cache.
func (r *Resolution) Forced(step string) bool {
	_, ok := r.ForcedMiss[step]
	return ok
}

// Resolver computes fingerprints for compiled graphs. It is stateless and
// safe for concurrent use.
type Resolver struct {
	log *logger.Logger
}

// NewResolver creates a Resolver. A nil logger uses the global logger.
func NewResolver(log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Resolver{log: log.WithComponent("fingerprint")}
}

// Resolve computes a fingerprint for every step of g in topological order.
// Per-step encoding failures never fail the call; they are recorded in
// ForcedMiss. A missing run nonce is generated.
func (r *Resolver) Resolve(g *dag.Graph, cc CacheContext) (*Resolution, error) {
	if g == nil {
		return nil, fmt.Errorf("fingerprint: nil graph")
	}
	if cc.RunNonce == "" {
		cc.RunNonce = NewRunNonce()
	}

	res := &Resolution{
		Fingerprints: make(map[string]Fingerprint, g.Len()),
		Salted:       make(map[string]bool),
		ForcedMiss:   make(map[string]error),
		Context:      cc,
	}

	for _, name := range g.Order() {
		step, _ := g.Step(name)
		salt := !g.CacheEnabled(name)

		fp, err := stepFingerprint(step, res.Fingerprints, cc, salt)
		if err != nil {
			res.ForcedMiss[name] = err
			r.log.Warn("Step fingerprint degraded to forced miss", logger.Fields(
				logger.FieldPipeline, g.Name(),
				logger.FieldStep, name,
				logger.FieldError, err.Error(),
			))
			salt = true
			fp, _ = stepFingerprint(step, res.Fingerprints, cc, salt)
		}
		if salt {
			res.Salted[name] = true
		}
		res.Fingerprints[name] = fp
	}
	return res, nil
}

// stepFingerprint encodes one step. Inputs that fail to encode are replaced
// by a marker so the salted fallback is still deterministic within the run;
// the first such failure is returned.
func stepFingerprint(step dag.StepSpec, upstream map[string]Fingerprint, cc CacheContext, salt bool) (Fingerprint, error) {
	var firstErr error

	e := newEncoder()
	e.field("step/v1")

	identity := strings.TrimSpace(step.CodeIdentity)
	if identity == "" {
		firstErr = &Error{Step: step.Name, Cause: ErrEmptyCodeIdentity}
	}
	e.field("code")
	e.field(identity)

	type pair struct{ name, value string }
	var literals, refs []pair
	for _, in := range step.Inputs {
		if in.Ref != nil {
			refs = append(refs, pair{in.Name, string(Output(upstream[in.Ref.Step], in.Ref.Output))})
			continue
		}
		data, err := canonicalJSON(in.Literal)
		if err != nil {
			if firstErr == nil {
				firstErr = &Error{Step: step.Name, Input: in.Name, Cause: err}
			}
			data = []byte("\x00unencodable")
		}
		literals = append(literals, pair{in.Name, string(data)})
	}
	byName := func(p []pair) { sort.Slice(p, func(i, j int) bool { return p[i].name < p[j].name }) }
	byName(literals)
	byName(refs)

	e.field("literals")
	e.count(len(literals))
	for _, p := range literals {
		e.field(p.name)
		e.field(p.value)
	}

	e.field("upstream")
	e.count(len(refs))
	for _, p := range refs {
		e.field(p.name)
		e.field(p.value)
	}

	outputs := slices.Sorted(slices.Values(step.Outputs))
	e.field("outputs")
	e.count(len(outputs))
	for _, o := range outputs {
		e.field(o)
	}

	keys := slices.Sorted(maps.Keys(step.CacheParameters))
	e.field("params")
	e.count(len(keys))
	for _, k := range keys {
		e.field(k)
		e.field(step.CacheParameters[k])
	}

	e.field("context")
	e.field(cc.Namespace)
	e.field(cc.ArtifactStoreID)
	e.field(cc.ArtifactStoreRoot)

	if salt {
		e.field("nonce")
		e.field(cc.RunNonce)
	}
	return e.sum(), firstErr
}

// canonicalJSON encodes v with sorted map keys, rejecting values that have
// no stable encoding.
func canonicalJSON(v any) ([]byte, error) {
	if err := checkEncodable(reflect.ValueOf(v), 0); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

const maxDepth = 64

func checkEncodable(v reflect.Value, depth int) error {
	if !v.IsValid() {
		return nil
	}
	if depth > maxDepth {
		return fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("unsupported float value %v", f)
		}
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Errorf("unsupported type %s", v.Type())
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			return checkEncodable(v.Elem(), depth+1)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := checkEncodable(v.Index(i), depth+1); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkEncodable(iter.Value(), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
