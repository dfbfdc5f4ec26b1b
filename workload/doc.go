// Package workload abstracts the container runtimes that can host a step:
// one short-lived workload per step execution, deployed, waited on, read for
// logs and removed.
//
// # Runtimes
//
//   - workload/docker: containers via the Docker Engine API
//   - workload/kubernetes: Jobs or bare Pods via client-go
package workload
