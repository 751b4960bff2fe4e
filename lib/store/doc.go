// Package store provides a high-level interface for versioned key-value storage
// operations with unified error handling. It serves as an abstraction layer over
// the lower-level db.KVDB implementations, adding write index management and
// standardized error reporting.
//
// The package focuses on:
//   - A unified interface (IStore) for key-value operations across different backends
//   - Pluggable storage backend architecture through DBFactory pattern
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining operations for interacting with
//     a key-value store. All implementations share this common interface, allowing
//     applications to switch between different storage backends without code changes.
//     Every write returns the previous value and version of the key, so callers
//     can verify what they replaced.
//
//   - Error System: A structured error reporting mechanism using typed error codes
//     and descriptive messages. Versioned writes whose expected version does not
//     match fail with RetCVersionMismatch, stores that do not answer in time with
//     RetCTimeout. IsCode tests an error for a code.
//
//   - DBFactory: A function type that abstracts the creation of underlying db.KVDB
//     instances, providing dependency injection and flexible configuration of
//     storage backends.
//
// Implementations:
//
//	The package includes two implementations of the IStore interface:
//
//	- Local Store (lstore): A simple, non-distributed implementation that directly
//	  utilizes a db.KVDB instance. It manages write index progression internally.
//	  Available in the "github.com/ValentinKolb/dKVcheck/lib/store/lstore" package.
//
//	- Distributed Store (dstore): A implementation built on the Dragonboat
//	  RAFT consensus library. It distributes storage operations across multiple nodes
//	  with strong consistency guarantees.
//	  Available in the "github.com/ValentinKolb/dKVcheck/lib/store/dstore" package.
package store
