// Package server provides the daemon's HTTP server: a Gin engine with
// lifecycle management through component.Component.
//
// # Middleware
//
// Gin middleware (server/middleware), installed by ApplyMiddleware:
//
//   - Recovery: panic recovery with structured logging
//   - RequestID: request ID generation and propagation
//   - CORS: cross-origin resource sharing
//   - BodySizeLimit: request body size limits
//   - RateLimit: per-client one-minute window, when rate_limit is set
//   - RequestLogger: request logging with duration tracking
//
// # Endpoints
//
// Built-in endpoints (server/endpoint):
//
//   - /health: component health aggregation
//   - /alive: liveness probe
//   - /ready: readiness probe
package server
