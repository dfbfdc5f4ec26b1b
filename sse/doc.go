// Package sse streams run transitions to HTTP clients as Server-Sent Events.
//
// A Hub fans frames out to connected clients whose id matches a glob
// pattern. Clients watching a run register as "run:<run id>:<n>", so
// publishing to RunPattern(id) reaches every watcher of that run. The Hub
// is a run.Sink: add it to the scheduler's sink and every transition is
// broadcast as it happens.
//
//	hub := sse.NewHub(log)
//	go hub.Run()
//	sse.Serve(hub, w, r, sse.RunClientID(id), replay)
package sse
