package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dKVcheck/lib/db"
	"github.com/ValentinKolb/dKVcheck/lib/store"
	"github.com/ValentinKolb/dKVcheck/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the RemoteStore interface.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      cs,
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes the operations as a Command and sends it via SyncPropose.
// It returns one result per operation, or a *store.Error if an error occurs.
func (s *storeImpl) write(ops []db.Operation) ([]db.Result, error) {
	cmd := internal.Command{Ops: ops}
	data := cmd.Serialize()

	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)

		res, err := s.nh.SyncPropose(ctx, s.cs, data)
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil && timedOut {
			return nil, store.NewError(store.RetCTimeout, err.Error())
		}
		if err != nil {
			return nil, store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return nil, store.NewError(store.RetCode(res.Value), string(res.Data))
		}

		results, err := internal.DecodeResults(res.Data)
		if err != nil {
			return nil, store.NewError(store.RetCInternalError, err.Error())
		}
		if len(results) != len(ops) {
			return nil, store.NewError(store.RetCInternalError,
				fmt.Sprintf("expected %d results, got %d", len(ops), len(results)))
		}
		return results, nil
	}
	return nil, store.NewError(store.RetCTimeout, "system busy")
}

// single writes one operation and maps version mismatches to errors
func (s *storeImpl) single(op db.Operation) (db.Result, error) {
	results, err := s.write([]db.Operation{op})
	if err != nil {
		return db.Result{}, err
	}
	return results[0], store.CheckResult(op, results[0])
}

// read is a generic helper function queries the statemachine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragenboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// Is the read operation fails due to a system busy error, the function retries up to 5 times.
//
// It returns the response of type R and a error (nil on success).
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error
		var timedOut bool

		// Query the standmaschine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			timedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			if timedOut {
				return zero, store.NewError(store.RetCTimeout, err.Error())
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCTimeout, "system busy")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(key string) ([]byte, uint64, bool, error) {
	res, err := read[internal.QueryResult](s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil {
		return nil, 0, false, err
	}
	return res.Value, res.Version, res.Ok, nil
}

func (s *storeImpl) Scan(prefix string) ([]db.Entry, error) {
	return read[[]db.Entry](s, internal.Query{
		Type: internal.QueryTScan,
		Key:  prefix,
	}, false)
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
	return s.write(ops)
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}
