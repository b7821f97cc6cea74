// Package kvstore implements the expiring key-value stores backing the frame
// pipeline, persisted in a single SQLite database.
//
// One generic Store parameterized by record type is instantiated for each
// keyspace (answers, frame state, run state, duration cache, run archive) so
// the TTL and sweep logic cannot drift between them. There are no cross-store
// transactions; pairing between a frame and its answer is maintained by
// construction and deletion order in the callers.
package kvstore
