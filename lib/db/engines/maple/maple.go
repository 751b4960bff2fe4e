package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dKVcheck/lib/db"
	"github.com/ValentinKolb/dKVcheck/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dKVcheck/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("maple")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum     = "MAPLEDB\x00" // File format identifier
	mapleVersion = 4             // Database version
)

// supportedFeatures lists everything maple implements
var supportedFeatures = []db.Feature{
	db.FeatureGet,
	db.FeaturePut, db.FeaturePutIfAbsent, db.FeaturePutIfPresent, db.FeaturePutIfVersion,
	db.FeatureDelete, db.FeatureDeleteIfVersion, db.FeatureDeletePrefix,
	db.FeatureBatch, db.FeatureScan,
	db.FeatureSave, db.FeatureLoad,
}

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements a versioned in-memory database with sharded data
type mapleImpl struct {
	numShards int               // Number of shards
	seed      uint64            // Seed for hash function
	shards    []*internal.Shard // Array of shards
	currIndex atomic.Uint64     // Highest write index seen
	features  db.Feature
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int        // Number of shards (0 = number of CPUs)
	Disabled  db.Feature // Features the instance refuses, used to test feature handling of callers
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.KVDB {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	var features db.Feature
	for _, f := range supportedFeatures {
		features |= f
	}

	return &mapleImpl{
		numShards: opts.NumShards,
		seed:      util.GenerateSeed(),
		shards:    newShards(opts.NumShards),
		features:  features &^ opts.Disabled,
	}
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := range shards {
		shards[i] = internal.NewShard()
	}
	return shards
}

func (maple *mapleImpl) shardOf(key string) *internal.Shard {
	return maple.shards[internal.GetShardIndex(key, maple.seed, maple.numShards)]
}

// lockFor write locks every shard the batch touches in ascending order and
// returns the matching unlock function.
func (maple *mapleImpl) lockFor(ops []db.Operation) func() {
	needed := make([]bool, maple.numShards)
	for _, op := range ops {
		if op.Kind == db.OpDeletePrefix {
			for i := range needed {
				needed[i] = true
			}
			break
		}
		needed[internal.GetShardIndex(op.Key, maple.seed, maple.numShards)] = true
	}

	var locked []*internal.Shard
	for i, n := range needed {
		if n {
			maple.shards[i].Mu.Lock()
			locked = append(locked, maple.shards[i])
		}
	}
	return func() {
		for _, s := range locked {
			s.Mu.Unlock()
		}
	}
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Apply applies the operations atomically with the given write index.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Apply(ops []db.Operation, writeIndex uint64) []db.Result {
	maple.SetWriteIdx(writeIndex)

	unlock := maple.lockFor(ops)
	defer unlock()

	results := make([]db.Result, len(ops))
	for i, op := range ops {
		results[i] = maple.apply(op, writeIndex)
	}
	return results
}

// apply executes a single operation. The caller must hold the locks of all
// shards the operation touches.
func (maple *mapleImpl) apply(op db.Operation, writeIndex uint64) db.Result {
	if op.Kind == db.OpDeletePrefix {
		return maple.deletePrefix(op.Key)
	}

	shard := maple.shardOf(op.Key)
	old, loaded := shard.Data.Load(op.Key)

	res := db.Result{Existed: loaded}
	if loaded {
		res.Previous = old.Clone()
		res.PreviousVersion = old.Version
		res.Version = old.Version
	}

	var write, remove bool
	switch op.Kind {
	case db.OpPut:
		write = true
	case db.OpPutIfAbsent:
		write = !loaded
	case db.OpPutIfPresent:
		write = loaded
	case db.OpPutIfVersion:
		write = loaded && old.Version == op.Version
	case db.OpDelete:
		remove = loaded
	case db.OpDeleteIfVersion:
		remove = loaded && old.Version == op.Version
	default:
		log.Warningf("ignoring unknown operation %s on key %s", op.Kind, op.Key)
		return res
	}

	switch {
	case write:
		value := make([]byte, len(op.Value))
		copy(value, op.Value)
		shard.Data.Store(op.Key, internal.Entry{Value: value, Version: writeIndex})
		res.Applied = true
		res.Version = writeIndex
	case remove:
		shard.Data.Delete(op.Key)
		res.Applied = true
		res.Version = 0
	}
	return res
}

// deletePrefix removes every key with the prefix. The caller must hold the
// locks of all shards.
func (maple *mapleImpl) deletePrefix(prefix string) db.Result {
	var res db.Result
	for _, shard := range maple.shards {
		for _, key := range shard.CollectPrefix(prefix, nil) {
			shard.Data.Delete(key)
			res.Deleted++
		}
	}
	res.Applied = res.Deleted > 0
	res.Existed = res.Applied
	return res
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves the value and version for a key.
// The returned value is a copy of the stored data and therefore safe to use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) ([]byte, uint64, bool) {
	e, ok := maple.shardOf(key).Data.Load(key)
	if !ok {
		return nil, 0, false
	}
	return e.Clone(), e.Version, true
}

// Scan returns all entries with the prefix sorted by key.
//
// Thread-safety: This method is thread-safe. It read locks all shards, so the
// result never contains a partially applied batch.
func (maple *mapleImpl) Scan(prefix string) []db.Entry {
	for _, shard := range maple.shards {
		shard.Mu.RLock()
	}
	var entries []db.Entry
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			if strings.HasPrefix(key, prefix) {
				entries = append(entries, db.Entry{Key: key, Value: e.Clone(), Version: e.Version})
			}
			return true
		})
	}
	for _, shard := range maple.shards {
		shard.Mu.RUnlock()
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer. The snapshot is consistent, all
// shards are read locked while the entries are copied.
//
// Thread-safety: This function allows concurrent operations with all other functions
// except Load.
func (maple *mapleImpl) Save(w io.Writer) error {
	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	entries := maple.Scan("")
	writeIdx := maple.currIndex.Load()

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}

	// Write maple version
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}

	// Write seed and write index
	if err := binary.Write(bw, binary.LittleEndian, maple.seed); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, writeIdx); err != nil {
		return err
	}

	// Write total data entries count
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	// Write data entries
	for _, e := range entries {

		// Write key length and key
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.Key))); err != nil {
			return err
		}
		if _, err := bw.WriteString(e.Key); err != nil {
			return err
		}

		// Write version
		if err := binary.Write(bw, binary.LittleEndian, e.Version); err != nil {
			return err
		}

		// Write value length and value bytes
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.Value))); err != nil {
			return err
		}
		if _, err := bw.Write(e.Value); err != nil {
			return err
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// Load restores a database from the reader
//
// Thread-safety: This function is not thread-safe and should not be called concurrently
func (maple *mapleImpl) Load(r io.Reader) error {

	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}

	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}

	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	// Read seed and write index
	var seed, writeIdx uint64
	if err := binary.Read(br, binary.LittleEndian, &seed); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &writeIdx); err != nil {
		return err
	}

	// Read data entries count
	var dataCount uint64
	if err := binary.Read(br, binary.LittleEndian, &dataCount); err != nil {
		return err
	}

	// Fill fresh shards before swapping them in, so a broken snapshot leaves
	// the database untouched
	shards := newShards(maple.numShards)
	for i := uint64(0); i < dataCount; i++ {
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}

		var entryVersion uint64
		if err := binary.Read(br, binary.LittleEndian, &entryVersion); err != nil {
			return err
		}

		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		shard := shards[internal.GetShardIndex(string(key), seed, maple.numShards)]
		shard.Data.Store(string(key), internal.Entry{Value: value, Version: entryVersion})
	}

	maple.shards = shards
	maple.seed = seed
	maple.currIndex.Store(0)
	maple.SetWriteIdx(writeIdx)

	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {

	// sampled entry sizes
	histogram := gometrics.NewHistogram(gometrics.NewUniformSample(1024))
	samplesPerShard := 100
	wg := sync.WaitGroup{}
	wg.Add(len(maple.shards))

	mu := sync.Mutex{}
	totalEntries := 0
	shardSizes := make([]float64, len(maple.shards))

	// concurrently collect samples from all shards
	for shardIndex, shard := range maple.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()
			count := 0
			s.Data.Range(func(key string, entry internal.Entry) bool {
				// track size in histogram
				histogram.Update(int64(len(key) + len(entry.Value)))

				// only sample a few entries per shard
				count++
				return count < samplesPerShard
			})

			size := s.Data.Size()

			mu.Lock()
			defer mu.Unlock()
			totalEntries += size
			shardSizes[i] = float64(size)
		}(shardIndex, shard)
	}

	// wait for all shards to finish
	wg.Wait()

	// calculate size
	entryOverhead := 8 // version
	medianSize := int(histogram.Percentile(0.5)) + entryOverhead
	avgSize := int(histogram.Mean()) + entryOverhead

	// weighted estimate (60% median, 40% average) per entry
	sizeBytes := (medianSize*60 + avgSize*40) / 100 * totalEntries

	// Metadata for this specific database implementation
	meta := &struct {
		CurrentWriteIndex uint64                 `json:"current_write_index"`
		Entries           int                    `json:"entries"`
		ShardCount        int                    `json:"shard_count"`
		ShardDistribution util.DistributionStats `json:"shard_distribution"`
		Info              string                 `json:"info"`
	}{
		CurrentWriteIndex: maple.currIndex.Load(),
		Entries:           totalEntries,
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		Info:              "SizeBytes is an estimate based on sampled entries.",
	}

	var features []db.Feature
	for _, f := range supportedFeatures {
		if maple.SupportsFeature(f) {
			features = append(features, f)
		}
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes,
		DbType:            db.ImplMaple,
		SupportedFeatures: features,
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	return maple.features&feature == feature
}

// Close is a no-op, maple holds no resources besides memory
func (maple *mapleImpl) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// Index and Timestamp Management
// --------------------------------------------------------------------------

// SetWriteIdx safely updates the current index
// It only updates if the new index is greater than the current one
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// It uses atomic operations to ensure that the index only increases.
func (maple *mapleImpl) SetWriteIdx(newIdx uint64) {
	// Only update if the new index is greater
	for {
		currIdx := maple.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if maple.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current index of the database
func (maple *mapleImpl) WriteIdx() uint64 {
	return maple.currIndex.Load()
}
