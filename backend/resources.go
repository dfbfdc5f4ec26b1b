package backend

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Resources is the typed view of a step's resource policy. Keys the
// backend does not know are ignored.
type Resources struct {
	// Handler selects the registered function for the inproc backend.
	// Defaults to the step name.
	Handler string `mapstructure:"handler"`
	Image   string `mapstructure:"image"`
	// Command overrides the entrypoint; Args are appended.
	Command []string          `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	WorkDir string            `mapstructure:"work_dir"`
	CPU     string            `mapstructure:"cpu"`
	Memory  string            `mapstructure:"memory"`
	// Timeout bounds one execution attempt.
	Timeout time.Duration `mapstructure:"timeout"`
	// Retryable marks non-zero exits as safe to retry.
	Retryable bool `mapstructure:"retryable"`
}

// DecodeResources converts a step's opaque resource map. Scalars are
// weakly typed so YAML values such as cpu: 2 and timeout: 30s decode.
func DecodeResources(raw map[string]any) (Resources, error) {
	var res Resources
	if len(raw) == 0 {
		return res, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &res,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(" "),
		),
	})
	if err != nil {
		return res, err
	}
	if err := dec.Decode(raw); err != nil {
		return res, fmt.Errorf("backend: decode resources: %w", err)
	}
	return res, nil
}
