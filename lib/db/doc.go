// Package db provides a standardized interface for versioned key-value database
// implementations. The data check harness runs against stores built on this
// interface.
//
// The package focuses on:
//   - A unified interface for versioned key-value operations
//   - Atomic batches of conditional writes
//   - Consistent prefix scans
//   - Feature discovery through capability flags
//   - Standardized persistence operations
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     Writes are expressed as Operation values and applied with Apply, which is
//     atomic over the whole batch. Reads are point lookups (Get) and prefix
//     scans (Scan).
//
//   - Operations: Put, PutIfAbsent, PutIfPresent and PutIfVersion write a value,
//     Delete and DeleteIfVersion remove a key and DeletePrefix removes every key
//     with a given prefix. Each operation reports the previous value and version
//     of the key in its Result, so callers can check what they replaced.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method. This allows clients to
//     discover supported operations at runtime.
//
//   - Database Information: The DatabaseInfo structure provides standardized
//     reporting on database state, including size statistics, implementation type,
//     and implementation-specific metadata.
//
// Note on Versions:
//   - Every write carries a write index that serves as a logical timestamp.
//     Keys modified by a write get the write index as their new version.
//   - Callers must pass increasing write indices. Implementations keep the
//     highest index seen and report it through WriteIdx. SetWriteIdx advances
//     it without writing and never moves it backwards.
//   - Version 0 is never assigned to an existing key, conditional operations
//     use it to denote "no entry".
//
// Related Packages:
//
// The engines/maple package (github.com/ValentinKolb/dKVcheck/lib/db/engines/maple) provides a
// sharded in-memory implementation of the KVDB interface.
//
// The testing package (github.com/ValentinKolb/dKVcheck/lib/db/testing) provides
// standardized tests and benchmarks for database implementations that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
