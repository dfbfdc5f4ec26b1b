// Package backend defines how a scheduled step is handed to something that
// runs its code.
//
// A Backend receives an Invocation holding the step's resolved upstream
// refs, its literal inputs and the locations allocated for each declared
// output. It returns the locations it actually produced. Implementations
// live in subpackages:
//
//   - inproc: registered Go functions reading and writing through the
//     artifact store
//   - subprocess: a local command per step
//   - container: a Docker container or Kubernetes Job per step
//
// WithRetry wraps any Backend with a retry policy for errors that report
// themselves retryable.
package backend
