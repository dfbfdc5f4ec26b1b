// Package run defines run and step states, the state-transition events a
// scheduler emits, and the sinks that receive them.
package run
