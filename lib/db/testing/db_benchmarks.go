package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dKVcheck/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, factory())
	})

	b.Run("PutExisting", func(b *testing.B) {
		benchmarkPutExisting(b, factory())
	})

	b.Run("PutIfVersion", func(b *testing.B) {
		benchmarkPutIfVersion(b, factory())
	})

	b.Run("Batch", func(b *testing.B) {
		benchmarkBatch(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Delete", func(b *testing.B) {
		benchmarkDelete(b, factory())
	})

	b.Run("Scan", func(b *testing.B) {
		benchmarkScan(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func prepare(w *writer, numKeys int) []string {
	keys := make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = fmt.Sprintf("test-key-%d", i)
		w.put(keys[i], []byte(fmt.Sprintf("test-value-%d", i)))
	}
	return keys
}

// Benchmark for Put operation
func benchmarkPut(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)
	w := newWriter(database)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter)
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			w.put(key, value)
			counter++
		}
	})
}

// Benchmark for Put operation with existing keys
func benchmarkPutExisting(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)
	w := newWriter(database)

	numKeys := b.N
	keys := prepare(w, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			w.put(keys[counter%numKeys], value)
			counter++
		}
	})
}

// Benchmark for the read-modify-write cycle of conditional puts
func benchmarkPutIfVersion(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePutIfVersion|db.FeatureGet)
	w := newWriter(database)

	numKeys := 10000
	keys := prepare(w, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := keys[counter%numKeys]
			_, version, _ := database.Get(key)
			w.one(db.Operation{Kind: db.OpPutIfVersion, Key: key, Value: []byte("cas"), Version: version})
			counter++
		}
	})
}

// Benchmark for batches spanning several shards
func benchmarkBatch(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureBatch|db.FeaturePut)
	w := newWriter(database)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		ops := make([]db.Operation, 8)
		for pb.Next() {
			for i := range ops {
				ops[i] = db.Operation{Kind: db.OpPut, Key: fmt.Sprintf("batch-%d-%d", counter, i), Value: []byte("v")}
			}
			w.apply(ops...)
			counter++
		}
	})
}

// Parallel benchmarking for Get operation
func benchmarkGet(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)
	requireFeature(b, database, db.FeatureGet)

	numKeys := 10000
	keys := prepare(newWriter(database), numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Get(keys[counter%numKeys])
			counter++
		}
	})
}

// Parallel benchmarking for Delete operation
func benchmarkDelete(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)
	requireFeature(b, database, db.FeatureDelete)

	numKeys := 100000
	if b.N < numKeys {
		numKeys = b.N
	}

	w := newWriter(database)
	keys := prepare(w, numKeys)

	// Counter for atomic access
	var counter int64

	// Reset timer since we were doing setup
	b.ResetTimer()

	// Run parallel delete operations
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			idx := int(atomic.AddInt64(&counter, 1)-1) % numKeys
			w.one(db.Operation{Kind: db.OpDelete, Key: keys[idx]})
		}
	})
}

// Benchmark for prefix scans over a small part of the key space
func benchmarkScan(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureScan|db.FeaturePut)

	prepare(newWriter(database), 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		database.Scan(fmt.Sprintf("test-key-%d", i%10))
	}
}

// Benchmark for Save and Load operations
// For these operations, parallelization is not meaningful as they typically
// lock the entire database
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {

	database := factory()

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)
	requireFeature(b, database, db.FeatureSave)
	requireFeature(b, database, db.FeatureLoad)

	prepare(newWriter(database), 10000)

	b.Run("Save", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			database.Save(&buf)
		}
	})

	// Prepare a data buffer for Load benchmark
	var loadBuf bytes.Buffer
	database.Save(&loadBuf)
	data := loadBuf.Bytes()

	b.Run("Load", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			loadDB := factory()
			loadDB.Load(bytes.NewReader(data))
			loadDB.Close()
		}
	})
}

// Benchmark for mixed usage patterns
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)
	requireFeature(b, database, db.FeatureGet)
	requireFeature(b, database, db.FeatureDelete)

	// Number of pre-populated keys
	numKeys := 100000
	if b.N < numKeys {
		numKeys = b.N
	}

	w := newWriter(database)
	keys := prepare(w, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		counter := 0

		for pb.Next() {
			key := keys[rnd.Intn(numKeys)]

			// 70% Get, 20% Put, 10% Delete
			switch r := rnd.Float32(); {
			case r < .7:
				database.Get(key)
			case r < .9:
				w.put(key, []byte(fmt.Sprintf("mixed-value-%d", counter)))
			default:
				w.one(db.Operation{Kind: db.OpDelete, Key: key})
			}

			counter++
		}
	})
}
