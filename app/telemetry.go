package app

import (
	"context"

	"github.com/kbukum/stepflow/component"
	"github.com/kbukum/stepflow/config"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/observability"
)

// newTelemetry installs the OTLP providers on start and flushes them on
// stop. It registers first so metrics created during configure bind to the
// exporting provider.
func newTelemetry(cfg observability.Config, svc *config.ServiceConfig, log *logger.Logger) component.Component {
	var providers *observability.Providers
	return &component.Func{
		ComponentName: "telemetry",
		StartFn: func(ctx context.Context) error {
			p, err := observability.Install(ctx, cfg, observability.Service{
				Name:        svc.Name,
				Version:     svc.Version,
				Environment: svc.Environment,
			})
			if err != nil {
				return err
			}
			providers = p
			log.Info("Telemetry exporting", logger.Fields("endpoint", cfg.Endpoint, "sample_rate", cfg.SampleRate))
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if providers == nil {
				return nil
			}
			return providers.Shutdown(ctx)
		},
	}
}
