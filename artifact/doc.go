// Package artifact holds references to step outputs and the store that
// allocates and tracks their locations.
//
// A Ref starts pending, naming only its producing step and output. Once the
// producing step succeeds the scheduler binds it to a fingerprint and a
// Location with Resolve. Locations are opaque to everything except the Store.
package artifact
