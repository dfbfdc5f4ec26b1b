// Package version reports the stepflowd build.
//
// Release builds stamp the variables with -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/stepflow/version.Version=1.2.0" ./cmd/stepflowd
//
// Unstamped builds fall back to the VCS settings Go records in the binary.
package version
