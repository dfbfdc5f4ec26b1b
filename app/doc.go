// Package app assembles the stepflow daemon from its configuration.
//
// Infrastructure (database, redis, kafka, container runtime, telemetry) is
// registered as components and started first. The configure phase then
// builds the artifact store, cache index, scheduler, backend, orchestrator
// and HTTP API over whatever infrastructure is enabled, and registers the
// HTTP server last so it stops first.
package app
