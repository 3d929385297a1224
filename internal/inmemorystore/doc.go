// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of both watermark.Store and runstore.Store.
//
// # Purpose
//
// It backs tests and any process started without a state database, where
// nothing needs to survive a restart. Semantics match the SQLite store
// exactly, which the shared storetest suite verifies.
//
// # Concurrency Model
//
// A single RWMutex guards all maps. Runs and instances are deep-copied on the
// way in and out, so callers never share memory with the store.
package inmemorystore
