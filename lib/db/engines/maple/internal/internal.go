package internal

import (
	"strings"
	"sync"

	"github.com/ValentinKolb/dKVcheck/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (value with metadata)
// --------------------------------------------------------------------------

// Entry stores a value with its version
type Entry struct {
	Value   []byte // Stored data
	Version uint64 // Write index of the last modification
}

// Clone returns a deep copy of the entry value
func (e Entry) Clone() []byte {
	if e.Value == nil {
		return nil
	}
	c := make([]byte, len(e.Value))
	copy(c, e.Value)
	return c
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the database.
// Reads of single keys go to the map directly, writes and scans hold Mu
// so batches spanning several keys are atomic for scans.
type Shard struct {
	Mu   sync.RWMutex
	Data *xsync.MapOf[string, Entry]
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, Entry](),
	}
}

// CollectPrefix appends all keys of the shard starting with prefix.
// The caller must hold Mu.
func (s *Shard) CollectPrefix(prefix string, keys []string) []string {
	s.Data.Range(func(key string, _ Entry) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

// GetShardIndex returns the position of the shard responsible for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShardIndex(key string, seed uint64, numShards int) int {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := uint64(util.HashString(key, seed)) >> 7
	return int(shiftedKey % uint64(numShards))
}
