package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dKVcheck/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.KVDB

// IStore is the generic interface for interacting with a versioned key–value store.
// Write operations return the db.Result of the operation, which contains the
// previous value and version of the key, along with an error (nil on success).
// Read operations return the requested data along with an error (nil on success).
type IStore interface {
	// Get returns the value and version for a key. The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, version uint64, loaded bool, err error)
	// Scan returns all entries whose key starts with prefix, sorted by key.
	Scan(prefix string) (entries []db.Entry, err error)
	// Put inserts or updates a key–value pair.
	Put(key string, value []byte) (res db.Result, err error)
	// PutIfAbsent inserts a key–value pair if the key does not exist.
	// No error is returned if the key already exists, res.Applied is false in that case.
	PutIfAbsent(key string, value []byte) (res db.Result, err error)
	// PutIfPresent updates the value of a key if the key exists.
	// No error is returned if the key does not exist, res.Applied is false in that case.
	PutIfPresent(key string, value []byte) (res db.Result, err error)
	// PutIfVersion updates the value of a key if the key exists with the given version.
	// An error with code RetCVersionMismatch is returned if the condition does not hold.
	PutIfVersion(key string, value []byte, version uint64) (res db.Result, err error)
	// Delete deletes a key–value pair.
	Delete(key string) (res db.Result, err error)
	// DeleteIfVersion deletes a key if it exists with the given version.
	// An error with code RetCVersionMismatch is returned if the condition does not hold.
	DeleteIfVersion(key string, version uint64) (res db.Result, err error)
	// MultiDelete deletes every key starting with prefix and returns the number of deleted keys.
	MultiDelete(prefix string) (deleted int, err error)
	// Execute applies all operations atomically and returns one result per operation.
	// Conditional operations that do not apply are reported through their result, not as error.
	Execute(ops []db.Operation) (results []db.Result, err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
}

// CheckResult converts a result of a versioned operation that did not apply
// into a RetCVersionMismatch error. All other results yield nil.
func CheckResult(op db.Operation, res db.Result) error {
	switch op.Kind {
	case db.OpPutIfVersion, db.OpDeleteIfVersion:
		if !res.Applied {
			return NewError(RetCVersionMismatch,
				fmt.Sprintf("%s on key %s: expected version %d, found %d", op.Kind, op.Key, op.Version, res.PreviousVersion))
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// IsCode reports whether err is a store error with the given code.
func IsCode(err error, code RetCode) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCVersionMismatch                     // 4: Versioned operation found a different version.
	RetCTimeout                             // 5: The store did not answer in time.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCVersionMismatch:
		return "VersionMismatch"
	case RetCTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}
