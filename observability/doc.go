// Package observability wires OpenTelemetry tracing and metrics for stepflow.
//
//	p, err := observability.Install(ctx, cfg, observability.Service{Name: "stepflowd"})
//	defer p.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanStep, observability.Step.String("train"))
//	defer span.End()
//
// A nil *Metrics is valid and records nothing.
package observability
