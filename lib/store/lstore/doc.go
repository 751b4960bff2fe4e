// Package lstore implements a local, in-memory, single-node key-value store based on the
// store.IStore interface. It provides a thin wrapper around any db.KVDB
// implementation with automatic write index management. Data is stored entirely
// in memory and is not persisted between process restarts.
//
// Key Features:
//   - Pure in-memory storage without persistence
//   - Direct integration with db.KVDB implementations
//   - Automatic write index progression
//   - Feature detection to handle unsupported operations gracefully
//   - Thread-safe operations for concurrent access
//
// Implementation Details:
//
//   - Write Index Management: The store keeps a counter that increments with
//     each write. The counter value is the version of every key the write
//     modifies. Allocating the index and applying the write happen under one
//     mutex, so a write with a higher version is never visible before a write
//     with a lower one.
//
//   - Feature Detection: Before executing operations, the store checks if the underlying
//     db.KVDB implementation supports the requested feature through the SupportsFeature
//     method. Unsupported operations return appropriate error codes rather than failing
//     silently or producing undefined behavior.
//
//   - Versioned Operations: PutIfVersion and DeleteIfVersion return an error with
//     code RetCVersionMismatch if the key does not have the expected version.
//     Inside Execute the same condition is only reported through the result.
//
// Usage Example:
//
//	// Create a store with a maple database backend
//	factory := func() db.KVDB { return maple.NewMapleDB(nil) }
//	store := lstore.NewLocalStore(factory)
//
//	res, err := store.Put("/a/b", data)
//	value, version, exists, err := store.Get("/a/b")
//
// For distributed scenarios requiring consensus across multiple nodes, consider
// using the dstore package instead, which provides a RAFT-based implementation
// of the same interface with strong consistency guarantees.
package lstore
