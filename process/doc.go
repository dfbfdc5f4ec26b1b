// Package process runs local subprocesses in their own process group,
// capturing output and translating cancellation into SIGTERM followed by
// SIGKILL after a grace period.
package process
