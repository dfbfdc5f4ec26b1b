// Package orchestrator turns pipeline submissions into scheduled runs.
//
// Submit compiles the steps, resolves fingerprints against the configured
// namespace and artifact store, names the run and starts it in the
// background. The returned Run can be waited on or cancelled; runs still in
// flight at Shutdown are cancelled and drained.
//
//	orch := orchestrator.New(cfg, sched, store, b,
//	    orchestrator.WithLoader(dag.NewFilePipelineLoader(cfg.PipelineDirs...)),
//	    orchestrator.WithRecorder(metadataStore),
//	)
//	r, err := orch.Submit(ctx, orchestrator.Request{PipelineName: "train"})
//	res, err := r.Wait(ctx)
package orchestrator
