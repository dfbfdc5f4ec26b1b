// Package api exposes pipeline runs over HTTP.
//
// Routes, all under /api/v1:
//
//	POST   /runs             submit a run (202)
//	GET    /runs             list runs, paginated and filterable
//	GET    /runs/:id         live state of a run, or its stored record
//	GET    /runs/:id/events  state transitions, oldest first
//	GET    /runs/:id/graph   step graph with states and artifact refs
//	GET    /runs/:id/stream  transitions as Server-Sent Events until the run ends
//	DELETE /runs/:id         cancel an active run (202)
//
// Listing and lookup fall back to the metadata store for runs that are no
// longer held in memory. Without a store only in-memory runs are visible.
package api
