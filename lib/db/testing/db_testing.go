package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dKVcheck/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("Versions", func(t *testing.T) {
			testVersions(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("PutIfAbsent", func(t *testing.T) {
			testPutIfAbsent(t, factory())
		})

		t.Run("PutIfPresent", func(t *testing.T) {
			testPutIfPresent(t, factory())
		})

		t.Run("IfVersion", func(t *testing.T) {
			testIfVersion(t, factory())
		})

		t.Run("DeletePrefix", func(t *testing.T) {
			testDeletePrefix(t, factory())
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory())
		})

		t.Run("BatchAtomicity", func(t *testing.T) {
			testBatchAtomicity(t, factory())
		})

		t.Run("WriteIndex", func(t *testing.T) {
			testWriteIndex(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// writer hands out increasing write indices for a single database
type writer struct {
	database db.KVDB
	index    atomic.Uint64
}

func newWriter(database db.KVDB) *writer {
	return &writer{database: database}
}

func (w *writer) apply(ops ...db.Operation) []db.Result {
	return w.database.Apply(ops, w.index.Add(1))
}

func (w *writer) one(op db.Operation) db.Result {
	return w.apply(op)[0]
}

func (w *writer) put(key string, value []byte) db.Result {
	return w.one(db.Operation{Kind: db.OpPut, Key: key, Value: value})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut)
	requireFeature(t, database, db.FeatureGet)

	w := newWriter(database)
	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	res := w.put(testKey, testValue1)
	if !res.Applied || res.Existed {
		t.Errorf("Expected first Put to apply on a new key, got %+v", res)
	}

	result, _, exists := database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Put", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	res = w.put(testKey, testValue2)
	if !res.Applied || !res.Existed {
		t.Errorf("Expected second Put to replace the key, got %+v", res)
	}
	if !bytes.Equal(res.Previous, testValue1) {
		t.Errorf("Expected previous value %s, got %s", testValue1, res.Previous)
	}

	result, _, exists = database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Put", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, _, exists = database.Get("nonexistent-key")
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _, _ := database.Get(testKey)
	retrievedValue[0] = 'X'

	originalValue, _, _ := database.Get(testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testVersions(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut)
	requireFeature(t, database, db.FeatureGet)

	database.Apply([]db.Operation{{Kind: db.OpPut, Key: "a", Value: []byte("1")}}, 10)
	_, version, _ := database.Get("a")
	if version != 10 {
		t.Errorf("Expected version 10, got %d", version)
	}

	res := database.Apply([]db.Operation{{Kind: db.OpPut, Key: "a", Value: []byte("2")}}, 15)[0]
	if res.PreviousVersion != 10 || res.Version != 15 {
		t.Errorf("Expected versions 10 -> 15, got %d -> %d", res.PreviousVersion, res.Version)
	}

	// untouched keys keep their version
	database.Apply([]db.Operation{{Kind: db.OpPut, Key: "b", Value: []byte("1")}}, 20)
	_, version, _ = database.Get("a")
	if version != 15 {
		t.Errorf("Expected version of untouched key to stay 15, got %d", version)
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut)
	requireFeature(t, database, db.FeatureGet)
	requireFeature(t, database, db.FeatureDelete)

	w := newWriter(database)
	testKey := "delete-test-key"
	testValue := []byte("delete-test-value")

	w.put(testKey, testValue)

	res := w.one(db.Operation{Kind: db.OpDelete, Key: testKey})
	if !res.Applied || !res.Existed || !bytes.Equal(res.Previous, testValue) {
		t.Errorf("Expected Delete to remove %s, got %+v", testKey, res)
	}

	_, _, exists := database.Get(testKey)
	if exists {
		t.Errorf("Expected key %s to not exist after Delete", testKey)
	}

	res = w.one(db.Operation{Kind: db.OpDelete, Key: "nonexistent-key"})
	if res.Applied || res.Existed {
		t.Errorf("Expected Delete of a missing key to be a no-op, got %+v", res)
	}
}

func testPutIfAbsent(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePutIfAbsent)
	requireFeature(t, database, db.FeatureGet)

	w := newWriter(database)
	testKey := "absent-key"

	res := w.one(db.Operation{Kind: db.OpPutIfAbsent, Key: testKey, Value: []byte("first")})
	if !res.Applied || res.Existed {
		t.Errorf("Expected PutIfAbsent on a new key to apply, got %+v", res)
	}

	res = w.one(db.Operation{Kind: db.OpPutIfAbsent, Key: testKey, Value: []byte("second")})
	if res.Applied || !res.Existed {
		t.Errorf("Expected PutIfAbsent on an existing key to be rejected, got %+v", res)
	}
	if !bytes.Equal(res.Previous, []byte("first")) {
		t.Errorf("Expected rejected PutIfAbsent to report the current value, got %s", res.Previous)
	}

	value, _, _ := database.Get(testKey)
	if !bytes.Equal(value, []byte("first")) {
		t.Errorf("Expected value first, got %s", value)
	}
}

func testPutIfPresent(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePutIfPresent)
	requireFeature(t, database, db.FeatureGet)

	w := newWriter(database)
	testKey := "present-key"

	res := w.one(db.Operation{Kind: db.OpPutIfPresent, Key: testKey, Value: []byte("first")})
	if res.Applied || res.Existed {
		t.Errorf("Expected PutIfPresent on a new key to be rejected, got %+v", res)
	}
	if _, _, exists := database.Get(testKey); exists {
		t.Errorf("Rejected PutIfPresent created key %s", testKey)
	}

	w.put(testKey, []byte("first"))
	res = w.one(db.Operation{Kind: db.OpPutIfPresent, Key: testKey, Value: []byte("second")})
	if !res.Applied || !bytes.Equal(res.Previous, []byte("first")) {
		t.Errorf("Expected PutIfPresent on an existing key to apply, got %+v", res)
	}
}

func testIfVersion(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePutIfVersion|db.FeatureDeleteIfVersion)
	requireFeature(t, database, db.FeatureGet)

	w := newWriter(database)
	testKey := "version-key"

	created := w.put(testKey, []byte("v1"))

	res := w.one(db.Operation{Kind: db.OpPutIfVersion, Key: testKey, Value: []byte("v2"), Version: created.Version + 100})
	if res.Applied {
		t.Errorf("Expected PutIfVersion with a wrong version to be rejected")
	}

	res = w.one(db.Operation{Kind: db.OpPutIfVersion, Key: testKey, Value: []byte("v2"), Version: created.Version})
	if !res.Applied {
		t.Fatalf("Expected PutIfVersion with the current version to apply, got %+v", res)
	}

	res2 := w.one(db.Operation{Kind: db.OpDeleteIfVersion, Key: testKey, Version: created.Version})
	if res2.Applied {
		t.Errorf("Expected DeleteIfVersion with a stale version to be rejected")
	}

	res2 = w.one(db.Operation{Kind: db.OpDeleteIfVersion, Key: testKey, Version: res.Version})
	if !res2.Applied || !bytes.Equal(res2.Previous, []byte("v2")) {
		t.Errorf("Expected DeleteIfVersion with the current version to apply, got %+v", res2)
	}

	// version 0 never matches a missing key
	res = w.one(db.Operation{Kind: db.OpPutIfVersion, Key: testKey, Value: []byte("v3"), Version: 0})
	if res.Applied {
		t.Errorf("Expected PutIfVersion on a missing key to be rejected")
	}
}

func testDeletePrefix(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureDeletePrefix)
	requireFeature(t, database, db.FeatureGet)

	w := newWriter(database)
	for i := 0; i < 10; i++ {
		w.put(fmt.Sprintf("parent/%d", i), []byte("child"))
	}
	w.put("parent", []byte("self"))
	w.put("other/1", []byte("other"))

	res := w.one(db.Operation{Kind: db.OpDeletePrefix, Key: "parent/"})
	if res.Deleted != 10 || !res.Applied {
		t.Errorf("Expected DeletePrefix to remove 10 keys, got %+v", res)
	}

	for i := 0; i < 10; i++ {
		if _, _, exists := database.Get(fmt.Sprintf("parent/%d", i)); exists {
			t.Errorf("Key parent/%d should be deleted", i)
		}
	}
	if _, _, exists := database.Get("parent"); !exists {
		t.Errorf("Key parent should still exist")
	}
	if _, _, exists := database.Get("other/1"); !exists {
		t.Errorf("Key other/1 should still exist")
	}

	res = w.one(db.Operation{Kind: db.OpDeletePrefix, Key: "parent/"})
	if res.Deleted != 0 || res.Applied {
		t.Errorf("Expected second DeletePrefix to remove nothing, got %+v", res)
	}
}

func testScan(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureScan)
	requireFeature(t, database, db.FeaturePut)

	w := newWriter(database)
	keys := []string{"scan/c", "scan/a", "scan/b", "nope/a", "scan"}
	for _, k := range keys {
		w.put(k, []byte(k))
	}

	entries := database.Scan("scan/")
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"scan/a", "scan/b", "scan/c"} {
		if entries[i].Key != want {
			t.Errorf("Expected entry %d to be %s, got %s", i, want, entries[i].Key)
		}
		if !bytes.Equal(entries[i].Value, []byte(want)) {
			t.Errorf("Value mismatch for %s", want)
		}
		if entries[i].Version == 0 {
			t.Errorf("Expected a version for %s", want)
		}
	}

	if all := database.Scan(""); len(all) != len(keys) {
		t.Errorf("Expected %d entries for the empty prefix, got %d", len(keys), len(all))
	}
}

func testBatchAtomicity(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureBatch|db.FeatureScan|db.FeaturePut)

	w := newWriter(database)
	numKeys := 16
	rounds := 500

	batch := func(round int) []db.Operation {
		ops := make([]db.Operation, numKeys)
		for i := range ops {
			ops[i] = db.Operation{Kind: db.OpPut, Key: fmt.Sprintf("batch/%02d", i), Value: []byte(fmt.Sprintf("%d", round))}
		}
		return ops
	}

	w.apply(batch(0)...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := 1; r <= rounds; r++ {
			w.apply(batch(r)...)
		}
	}()

	// every scan must see all keys from the same batch
	var torn int32
	for i := 0; i < rounds; i++ {
		entries := database.Scan("batch/")
		if len(entries) != numKeys {
			t.Errorf("Expected %d entries, got %d", numKeys, len(entries))
			break
		}
		for _, e := range entries[1:] {
			if !bytes.Equal(e.Value, entries[0].Value) || e.Version != entries[0].Version {
				atomic.AddInt32(&torn, 1)
				break
			}
		}
	}
	wg.Wait()

	if torn > 0 {
		t.Errorf("Observed %d scans with a partially applied batch", torn)
	}

	// results are reported per operation in order
	results := w.apply(
		db.Operation{Kind: db.OpPutIfAbsent, Key: "batch/00", Value: []byte("x")},
		db.Operation{Kind: db.OpPutIfAbsent, Key: "batch/new", Value: []byte("x")},
	)
	if len(results) != 2 || results[0].Applied || !results[1].Applied {
		t.Errorf("Expected only the second operation to apply, got %+v", results)
	}
}

func testWriteIndex(t *testing.T, database db.KVDB) {
	defer database.Close()

	database.SetWriteIdx(50)
	if database.WriteIdx() != 50 {
		t.Errorf("Expected write index 50, got %d", database.WriteIdx())
	}

	database.SetWriteIdx(10)
	if database.WriteIdx() != 50 {
		t.Errorf("Write index must never move backwards, got %d", database.WriteIdx())
	}

	if database.SupportsFeature(db.FeaturePut) {
		database.Apply([]db.Operation{{Kind: db.OpPut, Key: "k", Value: []byte("v")}}, 60)
		if database.WriteIdx() != 60 {
			t.Errorf("Expected Apply to advance the write index to 60, got %d", database.WriteIdx())
		}
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeaturePut)
	requireFeature(t, database, db.FeatureGet)
	requireFeature(t, database, db.FeatureSave)
	requireFeature(t, database, db.FeatureLoad)

	w := newWriter(database)
	numEntries := 1000
	originalKeys := make([]string, numEntries)
	originalValues := make([][]byte, numEntries)
	originalVersions := make([]uint64, numEntries)

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		value := []byte(fmt.Sprintf("save-load-test-value-%d", i))
		originalKeys[i] = key
		originalValues[i] = value
		originalVersions[i] = w.put(key, value).Version
	}

	var buf bytes.Buffer
	err := database.Save(&buf)
	if err != nil {
		t.Errorf("Unexpected error during Save: %v", err)
	}

	err = database2.Load(&buf)
	if err != nil {
		t.Errorf("Unexpected error during Load: %v", err)
	}

	if database2.WriteIdx() != database.WriteIdx() {
		t.Errorf("Write index mismatch after Load: expected %d, got %d", database.WriteIdx(), database2.WriteIdx())
	}

	for i := 0; i < numEntries; i++ {
		key := originalKeys[i]

		actualValue, version, exists := database2.Get(key)
		if !exists {
			t.Errorf("Key %s not found after Load", key)
			continue
		}

		if !bytes.Equal(actualValue, originalValues[i]) {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", key, originalValues[i], actualValue)
		}
		if version != originalVersions[i] {
			t.Errorf("Version mismatch for key %s: expected %d, got %d", key, originalVersions[i], version)
		}
	}

	err = database2.Load(bytes.NewReader([]byte("garbage")))
	if err == nil {
		t.Errorf("Expected Load of an invalid snapshot to fail")
	}
	if _, _, exists := database2.Get(originalKeys[0]); !exists {
		t.Errorf("Failed Load must leave the database untouched")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut)
	requireFeature(t, database, db.FeatureGet)

	w := newWriter(database)

	emptyKey := ""
	emptyKeyValue := []byte("value for empty key")

	w.put(emptyKey, emptyKeyValue)

	result, _, exists := database.Get(emptyKey)
	if !exists {
		t.Errorf("Empty key not found after Put")
	} else if !bytes.Equal(result, emptyKeyValue) {
		t.Errorf("Value mismatch for empty key")
	}

	nilValueKey := "nil-value-key"
	w.put(nilValueKey, nil)

	result, _, exists = database.Get(nilValueKey)
	if !exists {
		t.Errorf("Key for nil value not found after Put")
	} else if len(result) != 0 {
		t.Errorf("Nil value resulted in non-empty value: %v", result)
	}

	largeKey := string(make([]byte, 1000))
	largeKeyValue := []byte("value for large key")

	w.put(largeKey, largeKeyValue)

	result, _, exists = database.Get(largeKey)
	if !exists {
		t.Errorf("Large key not found after Put")
	} else if !bytes.Equal(result, largeKeyValue) {
		t.Errorf("Value mismatch for large key")
	}

	results := database.Apply(nil, w.index.Add(1))
	if len(results) != 0 {
		t.Errorf("Expected no results for an empty batch, got %d", len(results))
	}
}

func testRealisticUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut)
	requireFeature(t, database, db.FeatureGet)
	requireFeature(t, database, db.FeatureDelete)

	w := newWriter(database)

	type operation struct {
		op    string
		key   string
		value []byte
	}

	numOperations := 10_000
	operations := make([]operation, numOperations)

	for i := 0; i < numOperations; i++ {
		var op string
		switch i % 10 {
		case 0, 1, 2, 3, 4, 5, 6:
			op = "put"
		case 7, 8:
			op = "get"
		case 9:
			op = "delete"
		}

		var key string
		if i%5 == 0 {
			key = fmt.Sprintf("hot-key-%d", i%50)
		} else {
			key = fmt.Sprintf("key-%d", i)
		}

		var value []byte
		if op == "put" {
			valueSize := 64
			if i%10 == 0 {
				valueSize = 1024
			}
			value = make([]byte, valueSize)
			for j := 0; j < valueSize; j++ {
				value[j] = byte((i + j) % 256)
			}
		}

		operations[i] = operation{op, key, value}
	}

	numWorkers := 8
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	opsPerWorker := numOperations / numWorkers

	for wk := 0; wk < numWorkers; wk++ {
		go func(workerId int) {
			defer wg.Done()

			start := workerId * opsPerWorker
			end := start + opsPerWorker

			for i := start; i < end; i++ {
				op := operations[i]

				switch op.op {
				case "put":
					w.put(op.key, op.value)
				case "get":
					database.Get(op.key)
				case "delete":
					w.one(db.Operation{Kind: db.OpDelete, Key: op.key})
				}
			}
		}(wk)
	}

	wg.Wait()

	if !database.SupportsFeature(db.FeatureScan) {
		return
	}

	// every scanned entry must match a point read
	for _, e := range database.Scan("") {
		value, version, exists := database.Get(e.Key)
		if !exists {
			t.Errorf("Consistency error: Key %s scanned but not found", e.Key)
			continue
		}
		if !bytes.Equal(value, e.Value) || version != e.Version {
			t.Errorf("Consistency error: Key %s differs between Scan and Get", e.Key)
		}
	}
}
