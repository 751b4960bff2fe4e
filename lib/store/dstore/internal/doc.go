// Package internal provides the communication protocol structures and serialization
// logic for the dstore package. It defines the wire format used to transmit operations
// between the store client and the distributed state machine.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
// The package consists of three components:
//
//   - Command System: A command is a batch of db.Operation values that is proposed
//     to the RAFT cluster as a single log entry and applied atomically by the state
//     machine. Single operations are sent as a batch of one.
//
//   - Result Encoding: The results of a command (previous value and version, applied
//     flag, new version) travel back to the proposer in the Data field of the raft
//     result, encoded by EncodeResults.
//
//   - Query System: Defines read operations (Get, Scan, GetDBInfo) that retrieve data from
//     the database without modifying its state. Queries are executed locally on the
//     statemachine and therefore do not require serialization.
//
// Command Format:
//
//	- 4 bytes: Number of operations (uint32, big endian)
//
//	For each operation:
//
//	- 1 byte: Operation kind (db.OpKind)
//	- 8 bytes: Expected version (uint64, big endian, only used by *IfVersion kinds)
//	- 4 bytes: Key length (uint32, big endian)
//	- N bytes: Key data
//	- 4 bytes: Value length (uint32, big endian, 0xffffffff if the operation has no value)
//	- M bytes: Value data
//
// Result Format:
//
//	- 4 bytes: Number of results
//
//	For each result:
//
//	- 1 byte: Flags (applied, existed, has previous value)
//	- 8 bytes: Previous version
//	- 8 bytes: New version
//	- 4 bytes: Number of keys deleted by a prefix delete
//	- 4 bytes: Previous value length
//	- N bytes: Previous value
//
// Thread Safety:
//
//	The types in this package are not thread-safe and should not be shared
//	across goroutines without external synchronization.
package internal
