// Package maple implements a versioned in-memory key-value database (KVDB).
// It provides a complete implementation of the db.KVDB interface with a focus
// on thread safety and atomic multi-key batches.
//
// The package focuses on:
//   - Concurrent access through sharding and lock-free point reads
//   - Atomic batches of conditional writes spanning several shards
//   - Consistent prefix scans
//   - Persistent storage with consistent snapshots and a compact binary encoding
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.KVDB. It manages
//     the shards and the write index. The write index is not generated by maple,
//     the caller passes it with every batch (the raft log index for the
//     distributed store, an atomic counter for the local store). It becomes the
//     version of every key the batch modifies.
//
//   - Shard: A partition of the database that manages a subset of the key space.
//     Each shard holds an xsync.MapOf for its entries and a read/write mutex.
//     Keys are assigned to shards by hashing them with a database specific seed.
//
//   - Entry: A value with the version of its last modification.
//
// Internal Mechanisms:
//
//   - Sharding Strategy: String keys are hashed with FNV-1a mixed with the
//     database seed; the hash is shifted right by 7 bits before taking the
//     modulus to use higher-quality bits for distribution.
//
//   - Batches: Apply write locks all shards a batch touches in ascending shard
//     order before applying any operation, so batches never deadlock each other.
//     A batch that deletes by prefix locks every shard. Point reads (Get) go to
//     the map directly and see every single key change atomically.
//
//   - Scans: Scan read locks every shard in ascending order, so a scan never
//     observes part of a batch.
//
//   - Persistence Format: The database uses a compact binary format with the
//     following structure:
//     1. Magic number "MAPLEDB\x00" to identify the file format
//     2. Version number (currently 4)
//     3. Database seed value for hash function consistency
//     4. Write index
//     5. Number of entries
//     6. For each entry: key length, key, version, value length, value bytes
//     Load fills fresh shards and swaps them in only after the whole snapshot
//     was read.
//
//   - Metrics and Monitoring: GetInfo reports a size estimate based on sampled
//     entries, the write index and shard distribution statistics.
//
// Options allow disabling features, which is used to test how callers handle
// databases that do not support every operation.
package maple
