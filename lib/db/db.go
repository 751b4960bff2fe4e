package db

import (
	"fmt"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureGet             Feature = 1 << iota // Support for Get operations
	FeaturePut                                 // Support for OpPut
	FeaturePutIfAbsent                         // Support for OpPutIfAbsent
	FeaturePutIfPresent                        // Support for OpPutIfPresent
	FeaturePutIfVersion                        // Support for OpPutIfVersion
	FeatureDelete                              // Support for OpDelete
	FeatureDeleteIfVersion                     // Support for OpDeleteIfVersion
	FeatureDeletePrefix                        // Support for OpDeletePrefix
	FeatureBatch                               // Support for atomic batches with more than one operation
	FeatureScan                                // Support for Scan operations
	FeatureSave                                // Support for Save operations
	FeatureLoad                                // Support for Load operations
)

var featureNames = map[Feature]string{
	FeatureGet:             "Get",
	FeaturePut:             "Put",
	FeaturePutIfAbsent:     "PutIfAbsent",
	FeaturePutIfPresent:    "PutIfPresent",
	FeaturePutIfVersion:    "PutIfVersion",
	FeatureDelete:          "Delete",
	FeatureDeleteIfVersion: "DeleteIfVersion",
	FeatureDeletePrefix:    "DeletePrefix",
	FeatureBatch:           "Batch",
	FeatureScan:            "Scan",
	FeatureSave:            "Save",
	FeatureLoad:            "Load",
}

func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return "Unknown"
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// OpKind is the kind of a write operation
type OpKind uint8

const (
	OpPut             OpKind = iota // Insert or overwrite
	OpPutIfAbsent                   // Insert if the key does not exist
	OpPutIfPresent                  // Overwrite if the key exists
	OpPutIfVersion                  // Overwrite if the key exists with the given version
	OpDelete                        // Delete the key
	OpDeleteIfVersion               // Delete the key if it exists with the given version
	OpDeletePrefix                  // Delete every key starting with Key
)

var opKindNames = [...]string{
	OpPut:             "Put",
	OpPutIfAbsent:     "PutIfAbsent",
	OpPutIfPresent:    "PutIfPresent",
	OpPutIfVersion:    "PutIfVersion",
	OpDelete:          "Delete",
	OpDeleteIfVersion: "DeleteIfVersion",
	OpDeletePrefix:    "DeletePrefix",
}

func (k OpKind) String() string {
	if int(k) < len(opKindNames) {
		return opKindNames[k]
	}
	return fmt.Sprintf("Unknown(%d)", k)
}

// ToFeature returns the feature a database needs to apply operations of
// this kind.
func (k OpKind) ToFeature() (Feature, error) {
	switch k {
	case OpPut:
		return FeaturePut, nil
	case OpPutIfAbsent:
		return FeaturePutIfAbsent, nil
	case OpPutIfPresent:
		return FeaturePutIfPresent, nil
	case OpPutIfVersion:
		return FeaturePutIfVersion, nil
	case OpDelete:
		return FeatureDelete, nil
	case OpDeleteIfVersion:
		return FeatureDeleteIfVersion, nil
	case OpDeletePrefix:
		return FeatureDeletePrefix, nil
	default:
		return 0, fmt.Errorf("unknown operation kind %d", k)
	}
}

// Operation is a single write operation of a batch
type Operation struct {
	Kind    OpKind
	Key     string // the key, or the prefix for OpDeletePrefix
	Value   []byte // the new value of put operations
	Version uint64 // the expected version of *IfVersion operations
}

// Result is the outcome of a single write operation
type Result struct {
	Applied         bool   // whether the operation changed the database
	Existed         bool   // whether the key existed before the operation
	Previous        []byte // the value before the operation (nil if it did not exist)
	PreviousVersion uint64 // the version before the operation (0 if it did not exist)
	Version         uint64 // the version after the operation (0 if the key does not exist)
	Deleted         int    // number of keys removed by OpDeletePrefix
}

// Entry is a key with its value and version as returned by Scan
type Entry struct {
	Key     string
	Value   []byte
	Version uint64
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for versioned key-value database implementations.
// Every write carries a write index that becomes the version of the keys it
// modifies. Implementations can vary in their feature support, which can be
// queried with SupportsFeature.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Apply applies all operations atomically, in order, with the given write
	// index. Readers observe either none or all of the operations. Conditional
	// operations whose condition does not hold are not applied but do not
	// abort the batch. The returned slice has one result per operation.
	Apply(ops []Operation, writeIndex uint64) []Result

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value and version for an exact key.
	// The boolean return value indicates whether the key was found.
	Get(key string) (value []byte, version uint64, loaded bool)

	// Scan returns all entries whose key starts with prefix, sorted by key.
	// The entries reflect a single point in time with respect to Apply.
	Scan(prefix string) []Entry

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Returns true if the feature is supported, false otherwise.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Write Index Operations
	// --------------------------------------------------------------------------

	// SetWriteIdx sets the current index of the database only if the provided index is greater than the current index.
	SetWriteIdx(index uint64)

	// WriteIdx returns the current index of the database .
	WriteIdx() (index uint64)

	// Close closes the database.
	Close() (err error)
}
