// Package cache maps step fingerprints to the artifact references a
// previous execution produced.
//
// Index is the storage contract; Memory is the in-process implementation and
// the rediscache and sqlcache subpackages provide shared stores. Guard wraps
// any Index so that store failures degrade to cache misses instead of
// failing a run, and Flight collapses concurrent executions of the same
// fingerprint into one.
package cache
