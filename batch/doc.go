// Package batch splits a large request list into bounded batches, runs them
// through a dispatch.Dispatcher and reassembles the results in input order.
//
// Requests are identified by a key: Config's key function, or the SHA-256 of
// their canonical JSON. Within one RunBatched call each distinct key reaches
// the backend at most once per successful result, even when duplicates land
// in different batches that run concurrently. An optional cache.Store carries
// successful results across runs.
package batch
