package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kbukum/stepflow/artifact"
)

// Environment variable names handed to out-of-process steps.
const (
	EnvRunID       = "STEPFLOW_RUN_ID"
	EnvStep        = "STEPFLOW_STEP"
	EnvFingerprint = "STEPFLOW_FINGERPRINT"
	EnvInputPrefix = "STEPFLOW_INPUT_"
	EnvParamPrefix = "STEPFLOW_PARAM_"
	EnvOutPrefix   = "STEPFLOW_OUTPUT_"
)

// PathFunc maps an artifact location to the address a step process sees.
type PathFunc func(ctx context.Context, loc artifact.Location) (string, error)

// StorePath addresses locations through the store: a filesystem path when
// the provider has one, otherwise its URL.
func StorePath(store *artifact.Store) PathFunc {
	return func(ctx context.Context, loc artifact.Location) (string, error) {
		if p, ok := store.LocalPath(loc); ok {
			return p, nil
		}
		return store.URL(ctx, loc)
	}
}

// Environment builds the variables describing inv: inputs and outputs as
// addresses from path, literals as JSON, plus the step's own env entries.
func Environment(ctx context.Context, inv Invocation, res Resources, path PathFunc) (map[string]string, error) {
	env := make(map[string]string, len(inv.Inputs)+len(inv.Literals)+len(inv.Outputs)+len(res.Env)+3)
	for k, v := range res.Env {
		env[k] = v
	}
	env[EnvRunID] = inv.RunID
	env[EnvStep] = inv.Step
	env[EnvFingerprint] = inv.Fingerprint.String()

	for name, ref := range inv.Inputs {
		p, err := path(ctx, ref.Location)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		env[EnvInputPrefix+envName(name)] = p
	}
	for name, v := range inv.Literals {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("literal %s: %w", name, err)
		}
		env[EnvParamPrefix+envName(name)] = string(data)
	}
	for name, loc := range inv.Outputs {
		p, err := path(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		env[EnvOutPrefix+envName(name)] = p
	}
	return env, nil
}

// EnvList flattens env into sorted KEY=value pairs.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func envName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
