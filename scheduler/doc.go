// Package scheduler executes a compiled pipeline graph.
//
// A Scheduler walks the graph in topological order, serves steps from the
// cache index when their fingerprint was seen before and dispatches the rest
// to a backend. All step and run state is owned by a single loop goroutine;
// workers performing lookups and backend calls report back over a channel.
// Every state change is published to a run.Sink.
package scheduler
