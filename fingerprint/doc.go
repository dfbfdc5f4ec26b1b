// Package fingerprint computes the content identity of each step
// invocation in a compiled graph.
//
// A step's fingerprint is a BLAKE2b-256 digest over a length-prefixed
// canonical encoding of its code identity, literal inputs, the output
// fingerprints of its upstream references, its declared outputs, its cache
// parameters and the cache context. Identical inputs always give identical
// fingerprints; changing any of them changes the fingerprint of the step and
// of everything downstream.
//
// Steps with caching disabled, and steps whose inputs cannot be encoded, are
// salted with the run nonce so they never match an earlier run.
package fingerprint
