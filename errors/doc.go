// Package errors defines AppError, the error type that crosses package
// boundaries in stepflow. The code registry in codes.go fixes each code's
// HTTP status and retryability, so most call sites only pick a code:
//
//	return errors.Of(errors.ErrCodeConflict, "run already finished").WithDetail("run_id", id)
package errors
