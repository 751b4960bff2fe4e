package lstore

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dKVcheck/lib/db"
	"github.com/ValentinKolb/dKVcheck/lib/db/engines/maple"
	"github.com/ValentinKolb/dKVcheck/lib/store"
)

func newStore(disabled db.Feature) store.IStore {
	return NewLocalStore(func() db.KVDB {
		return maple.NewMapleDB(&maple.DBOptions{NumShards: 4, Disabled: disabled})
	})
}

func TestPutGet(t *testing.T) {
	s := newStore(0)

	res, err := s.Put("/a/b", []byte("v1"))
	if err != nil || !res.Applied {
		t.Fatalf("Put failed: res=%+v err=%v", res, err)
	}

	value, version, ok, err := s.Get("/a/b")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(value, []byte("v1")) || version != res.Version {
		t.Errorf("Expected v1@%d, got %s@%d", res.Version, value, version)
	}
}

func TestVersionMismatch(t *testing.T) {
	s := newStore(0)

	created, _ := s.Put("/a/b", []byte("v1"))
	if _, err := s.Put("/a/b", []byte("v2")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	_, err := s.PutIfVersion("/a/b", []byte("v3"), created.Version)
	if !store.IsCode(err, store.RetCVersionMismatch) {
		t.Errorf("Expected version mismatch, got %v", err)
	}
	_, err = s.DeleteIfVersion("/a/b", created.Version)
	if !store.IsCode(err, store.RetCVersionMismatch) {
		t.Errorf("Expected version mismatch, got %v", err)
	}

	// inside a batch the mismatch is only reported through the result
	results, err := s.Execute([]db.Operation{{Kind: db.OpPutIfVersion, Key: "/a/b", Value: []byte("v3"), Version: created.Version}})
	if err != nil || results[0].Applied {
		t.Errorf("Expected unapplied result without error, got %+v err=%v", results, err)
	}

	_, version, _, _ := s.Get("/a/b")
	if _, err := s.DeleteIfVersion("/a/b", version); err != nil {
		t.Errorf("DeleteIfVersion with the current version failed: %v", err)
	}
}

func TestMultiDeleteAndScan(t *testing.T) {
	s := newStore(0)

	for i := 0; i < 5; i++ {
		s.Put(fmt.Sprintf("/p/%d", i), []byte("x"))
	}
	s.Put("/q/0", []byte("x"))

	entries, err := s.Scan("/p/")
	if err != nil || len(entries) != 5 {
		t.Fatalf("Expected 5 entries, got %d (err=%v)", len(entries), err)
	}

	deleted, err := s.MultiDelete("/p/")
	if err != nil || deleted != 5 {
		t.Errorf("Expected 5 deleted keys, got %d (err=%v)", deleted, err)
	}

	entries, _ = s.Scan("/")
	if len(entries) != 1 || entries[0].Key != "/q/0" {
		t.Errorf("Expected only /q/0 to remain, got %+v", entries)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	s := newStore(db.FeatureScan | db.FeatureBatch | db.FeatureDeletePrefix)

	if _, err := s.Scan("/"); !store.IsCode(err, store.RetCUnsupportedOperation) {
		t.Errorf("Expected unsupported Scan, got %v", err)
	}
	if _, err := s.MultiDelete("/"); !store.IsCode(err, store.RetCUnsupportedOperation) {
		t.Errorf("Expected unsupported MultiDelete, got %v", err)
	}
	_, err := s.Execute([]db.Operation{
		{Kind: db.OpPut, Key: "a"},
		{Kind: db.OpPut, Key: "b"},
	})
	if !store.IsCode(err, store.RetCUnsupportedOperation) {
		t.Errorf("Expected unsupported batch, got %v", err)
	}
	if _, err := s.Execute([]db.Operation{{Kind: db.OpKind(99), Key: "a"}}); !store.IsCode(err, store.RetCInvalidOperation) {
		t.Errorf("Expected invalid operation, got %v", err)
	}
}

func TestVersionsFollowVisibility(t *testing.T) {
	s := newStore(0)

	var wg sync.WaitGroup
	errs := make(chan string, 1000)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				res, err := s.Put("/hot", []byte("x"))
				if err != nil {
					errs <- err.Error()
					return
				}
				if res.Existed && res.PreviousVersion >= res.Version {
					errs <- fmt.Sprintf("version went from %d to %d", res.PreviousVersion, res.Version)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
}
