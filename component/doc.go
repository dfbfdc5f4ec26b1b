// Package component manages the lifecycle of the daemon's infrastructure:
// the database, cache index, event producer, artifact store and HTTP server
// are each registered as a Component and started in order.
//
// Resource adapts a client that only exists between Start and Stop, such
// as a connection pool, so that packages supply open, close and a health
// probe instead of their own lifecycle bookkeeping.
package component
