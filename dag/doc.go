// Package dag declares pipeline steps and compiles them into a validated,
// immutable graph.
//
// Steps are built explicitly, either in Go with the builder
//
//	train := dag.NewStep("train").
//	    Code("train@v3").
//	    From("features", "transform", "features").
//	    Literal("epochs", 10).
//	    Outputs("model").
//	    Build()
//
// or from YAML pipeline files with LoadPipelineFile and a PipelineLoader. Edges are never declared;
// they follow from input references. Compile rejects unknown references,
// duplicate names and cycles, and fixes a topological order once.
package dag
