// Package resilience holds the two failure policies used around external
// calls: Retry with exponential backoff, used by backends, the database
// and the kafka producer, and Breaker, which lets the cache guard stop
// calling an index that keeps failing.
package resilience
