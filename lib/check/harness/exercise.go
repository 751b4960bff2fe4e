package harness

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/ops"
	"github.com/ValentinKolb/dKVcheck/lib/check/oracle"
	"github.com/ValentinKolb/dKVcheck/lib/db"
	"github.com/ValentinKolb/dKVcheck/lib/store"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

var threads = []keynum.Thread{keynum.ThreadA, keynum.ThreadB}

// --------------------------------------------------------------------------
// Block progress
// --------------------------------------------------------------------------

// blockProgress holds the published positions of the two threads working
// on a block and the barrier they meet at when the block is done.
type blockProgress struct {
	start   int64
	a, b    atomic.Int64
	arrived atomic.Int32
	done    chan struct{}
}

func newBlockProgress(start int64) *blockProgress {
	p := &blockProgress{start: start, done: make(chan struct{})}
	p.a.Store(start - 1)
	p.b.Store(start - 1)
	return p
}

func (p *blockProgress) counter(thread keynum.Thread) *atomic.Int64 {
	if thread == keynum.ThreadA {
		return &p.a
	}
	return &p.b
}

// publish announces that thread is about to execute index
func (p *blockProgress) publish(thread keynum.Thread, index int64) {
	p.counter(thread).Store(index)
}

func (p *blockProgress) position(thread keynum.Thread) int64 {
	return p.counter(thread).Load()
}

// await blocks until the other thread finished the block too. The thread
// arriving first waits at most timeout.
func (p *blockProgress) await(ctx context.Context, timeout time.Duration) error {
	if p.arrived.Add(1) == int32(len(threads)) {
		close(p.done)
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return errors.Wrapf(ErrBarrierTimeout, "block %#x: threads did not meet within %s", p.start, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// positions returns the reader positions of thread at own, given the
// position of the other thread
func positions(thread keynum.Thread, own, other int64) oracle.Positions {
	if thread == keynum.ThreadA {
		return oracle.Positions{A: own, B: other}
	}
	return oracle.Positions{A: other, B: own}
}

// --------------------------------------------------------------------------
// Exercise phase
// --------------------------------------------------------------------------

// Exercise runs the update operations of every index in bounds. Thread
// pair p works on the blocks p, p+Threads, ... and both threads of a pair
// race over the same keys of a block. Every operation's previous value
// and, with ReadBack, the value read afterwards is checked.
func (h *Harness) Exercise(ctx context.Context) error {
	h.phase.Store(int32(PhaseExercise))
	start := time.Now()

	if err := h.resolveSeed(ctx, false); err != nil {
		return err
	}
	state, err := h.readState(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read the run state")
	}
	if state != "" {
		return errors.Newf("store is %s, populate it again before exercising", state)
	}
	if err := h.writeState(ctx, stateExercising); err != nil {
		return errors.Wrap(err, "failed to write the run state")
	}

	blocks := h.blocks()
	g, gctx := errgroup.WithContext(ctx)
	for pair := 0; pair < h.cfg.Threads; pair++ {
		g.Go(func() error {
			for i := pair; i < len(blocks); i += h.cfg.Threads {
				if err := h.exerciseBlock(gctx, blocks[i]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "exercise phase stopped")
	}

	if err := h.writeState(ctx, stateExercised); err != nil {
		return errors.Wrap(err, "failed to write the run state")
	}
	Logger.Infof("exercised %d blocks in %s", len(blocks), time.Since(start).Round(time.Millisecond))

	if err := h.verdict(PhaseExercise); err != nil {
		return err
	}
	if lag := h.stats.LagMax(); lag > h.cfg.MaxLag {
		return errors.Wrapf(ErrPhaseFailed, "%s: lag %d exceeds the maximum of %d", PhaseExercise, lag, h.cfg.MaxLag)
	}
	return nil
}

func (h *Harness) exerciseBlock(ctx context.Context, blockStart int64) error {
	progress := newBlockProgress(blockStart)
	h.active.Store(blockStart, progress)
	defer h.active.Delete(blockStart)

	g, gctx := errgroup.WithContext(ctx)
	for _, thread := range threads {
		g.Go(func() error {
			return h.exerciseThread(gctx, progress, thread)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	h.blocksDone.Add(1)
	Logger.Debugf("exercised block %#x", blockStart)
	return nil
}

func (h *Harness) exerciseThread(ctx context.Context, progress *blockProgress, thread keynum.Thread) error {
	bounds := h.cfg.Bounds()
	end := progress.start + keynum.BlockCount
	if bounds.PerBlock > 0 {
		end = progress.start + bounds.PerBlock
	}

	for index := progress.start; index < end; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress.publish(thread, index)
		if err := h.exerciseIndex(ctx, progress, thread, index); err != nil {
			return err
		}
	}

	progress.publish(thread, progress.start+keynum.BlockCount)
	return progress.await(ctx, h.cfg.BlockTimeout)
}

// exerciseIndex executes and checks the operation of thread at index
func (h *Harness) exerciseIndex(ctx context.Context, progress *blockProgress, thread keynum.Thread, index int64) error {
	derive := h.checker.Derivation()
	op := derive.ExerciseOp(index, thread)
	key := derive.Codec().KeynumToKey(derive.Codec().ExerciseIndexToKeynum(index, thread))
	otherIndex := progress.position(thread.Other())

	var previous ops.Value
	var retried bool
	err := retry(ctx, h.cfg.RequestTimeout, func(retrying bool) (err error) {
		retried = retrying
		previous, err = h.execute(ctx, key.String(), op)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return h.exception(err, "%s of %s by thread %s at index %#x", op.Type, key, thread, index)
	}

	switch op.Type.Previous() {
	case ops.PreviousValue:
		_, err = h.checker.CheckPreviousValue(key, thread, previous, otherIndex, retried, false)
	case ops.PreviousPresence:
		_, err = h.checker.CheckPreviousValue(key, thread, previous, otherIndex, retried, true)
	}
	if err != nil || !h.cfg.ReadBack {
		return err
	}
	return h.readBack(ctx, progress, thread, index, key, retried)
}

// readBack reads key after thread updated it at index and checks the value
func (h *Harness) readBack(ctx context.Context, progress *blockProgress, thread keynum.Thread, index int64, key keynum.Key, retried bool) error {
	pos := positions(thread, index+1, progress.position(thread.Other()))

	var value []byte
	var found bool
	err := retry(ctx, h.cfg.RequestTimeout, func(bool) (err error) {
		value, _, found, err = h.store.Get(key.String())
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return h.exception(err, "read back of %s by thread %s at index %#x", key, thread, index)
	}

	_, err = h.checker.CheckValue(key, observed(value, found), pos, retried, false)
	return err
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// kindOf maps an update operation to the store operation it executes
func kindOf(t ops.UpdateOpType) db.OpKind {
	switch t {
	case ops.Put, ops.PutExecute, ops.BulkPut:
		return db.OpPut
	case ops.PutIfAbsent, ops.PutIfAbsentExecute:
		return db.OpPutIfAbsent
	case ops.PutIfPresent, ops.PutIfPresentExecute:
		return db.OpPutIfPresent
	case ops.PutIfVersion, ops.PutIfVersionExecute:
		return db.OpPutIfVersion
	case ops.Delete, ops.DeleteExecute:
		return db.OpDelete
	case ops.DeleteIfVersion, ops.DeleteIfVersionExecute:
		return db.OpDeleteIfVersion
	case ops.MultiDelete:
		return db.OpDeletePrefix
	default:
		panic(fmt.Sprintf("harness: no store operation for %s", t))
	}
}

// operation builds the store operation of op on key
func operation(key string, op oracle.Op) db.Operation {
	res := db.Operation{Kind: kindOf(op.Type), Key: key}
	if op.Type.Effect() != ops.EffectRemove {
		res.Value = op.Value
	}
	return res
}

// execute performs op on key and returns the value the key held before
func (h *Harness) execute(ctx context.Context, key string, op oracle.Op) (ops.Value, error) {
	if op.Type.Versioned() {
		return h.executeVersioned(ctx, key, op)
	}

	dbop := operation(key, op)
	switch op.Type {
	case ops.MultiDelete:
		deleted, err := h.store.MultiDelete(key)
		if err != nil || deleted == 0 {
			return nil, err
		}
		return ops.Value{}, nil
	case ops.BulkPut:
		_, err := h.store.Execute([]db.Operation{dbop})
		return nil, err
	}

	if op.Type.Execute() {
		res, err := h.executeOne(dbop)
		return previousOf(res), err
	}

	var res db.Result
	var err error
	switch dbop.Kind {
	case db.OpPut:
		res, err = h.store.Put(key, dbop.Value)
	case db.OpPutIfAbsent:
		res, err = h.store.PutIfAbsent(key, dbop.Value)
	case db.OpPutIfPresent:
		res, err = h.store.PutIfPresent(key, dbop.Value)
	case db.OpDelete:
		res, err = h.store.Delete(key)
	}
	return previousOf(res), err
}

// executeVersioned reads the version of key and performs op conditional on
// it, starting over when another write slipped in between. On an absent
// key the operation does nothing.
func (h *Harness) executeVersioned(ctx context.Context, key string, op oracle.Op) (ops.Value, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_, version, found, err := h.store.Get(key)
		if err != nil || !found {
			return nil, err
		}

		dbop := operation(key, op)
		dbop.Version = version

		var res db.Result
		switch {
		case op.Type.Execute():
			res, err = h.executeOne(dbop)
		case dbop.Kind == db.OpPutIfVersion:
			res, err = h.store.PutIfVersion(key, dbop.Value, version)
		default:
			res, err = h.store.DeleteIfVersion(key, version)
		}
		if store.IsCode(err, store.RetCVersionMismatch) {
			continue
		}
		return previousOf(res), err
	}
}

// executeOne runs a single operation through Execute and maps version
// mismatches to errors like the single operation methods do
func (h *Harness) executeOne(op db.Operation) (db.Result, error) {
	results, err := h.store.Execute([]db.Operation{op})
	if err != nil {
		return db.Result{}, err
	}
	if len(results) != 1 {
		return db.Result{}, store.NewError(store.RetCInternalError,
			fmt.Sprintf("expected 1 result, got %d", len(results)))
	}
	return results[0], store.CheckResult(op, results[0])
}

func previousOf(res db.Result) ops.Value {
	return observed(res.Previous, res.Existed)
}

// observed converts a store value to the value the oracle checks
func observed(value []byte, found bool) ops.Value {
	switch {
	case !found:
		return nil
	case value == nil:
		return ops.Value{}
	default:
		return ops.Value(value)
	}
}
