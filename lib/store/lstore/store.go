package lstore

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/dKVcheck/lib/db"
	"github.com/ValentinKolb/dKVcheck/lib/store"
)

type storeImpl struct {
	db    db.KVDB
	mu    sync.Mutex // orders write index allocation and apply
	index uint64
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// This works by using the maple engine from the db package directly.
func NewLocalStore(factory store.DBFactory) store.IStore {
	return &storeImpl{
		db: factory(),
	}
}

// apply checks the features needed by ops and applies them with the next
// write index. Writes are serialized, so versions always grow in the order
// writes become visible.
//
// Thread-safety: This method is thread-safe.
func (s *storeImpl) apply(ops []db.Operation) ([]db.Result, error) {
	if len(ops) > 1 && !s.db.SupportsFeature(db.FeatureBatch) {
		return nil, store.NewError(store.RetCUnsupportedOperation, "Batch operation is not supported")
	}
	for _, op := range ops {
		feat, err := op.Kind.ToFeature()
		if err != nil {
			return nil, store.NewError(store.RetCInvalidOperation, err.Error())
		}
		if !s.db.SupportsFeature(feat) {
			return nil, store.NewError(store.RetCUnsupportedOperation, fmt.Sprintf("%s operation is not supported", op.Kind))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index++
	return s.db.Apply(ops, s.index), nil
}

// single applies one operation and maps version mismatches to errors
func (s *storeImpl) single(op db.Operation) (db.Result, error) {
	results, err := s.apply([]db.Operation{op})
	if err != nil {
		return db.Result{}, err
	}
	return results[0], store.CheckResult(op, results[0])
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(key string) ([]byte, uint64, bool, error) {
	if !s.db.SupportsFeature(db.FeatureGet) {
		return nil, 0, false, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
	}
	val, version, ok := s.db.Get(key)
	return val, version, ok, nil
}

func (s *storeImpl) Scan(prefix string) ([]db.Entry, error) {
	if !s.db.SupportsFeature(db.FeatureScan) {
		return nil, store.NewError(store.RetCUnsupportedOperation, "Scan operation is not supported")
	}
	return s.db.Scan(prefix), nil
}

func (s *storeImpl) Put(key string, value []byte) (db.Result, error) {
	return s.single(db.Operation{Kind: db.OpPut, Key: key, Value: value})
}

func (s *storeImpl) PutIfAbsent(key string, value []byte) (db.Result, error) {
	return s.single(db.Operation{Kind: db.OpPutIfAbsent, Key: key, Value: value})
}

func (s *storeImpl) PutIfPresent(key string, value []byte) (db.Result, error) {
	return s.single(db.Operation{Kind: db.OpPutIfPresent, Key: key, Value: value})
}

func (s *storeImpl) PutIfVersion(key string, value []byte, version uint64) (db.Result, error) {
	return s.single(db.Operation{Kind: db.OpPutIfVersion, Key: key, Value: value, Version: version})
}

func (s *storeImpl) Delete(key string) (db.Result, error) {
	return s.single(db.Operation{Kind: db.OpDelete, Key: key})
}

func (s *storeImpl) DeleteIfVersion(key string, version uint64) (db.Result, error) {
	return s.single(db.Operation{Kind: db.OpDeleteIfVersion, Key: key, Version: version})
}

func (s *storeImpl) MultiDelete(prefix string) (int, error) {
	res, err := s.single(db.Operation{Kind: db.OpDeletePrefix, Key: prefix})
	return res.Deleted, err
}

func (s *storeImpl) Execute(ops []db.Operation) ([]db.Result, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	return s.apply(ops)
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}
