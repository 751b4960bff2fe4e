package harness

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/oracle"
	"github.com/ValentinKolb/dKVcheck/lib/common"
	"github.com/ValentinKolb/dKVcheck/lib/db"
	"github.com/ValentinKolb/dKVcheck/lib/db/engines/maple"
	"github.com/ValentinKolb/dKVcheck/lib/store"
	"github.com/ValentinKolb/dKVcheck/lib/store/lstore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore() store.IStore {
	return lstore.NewLocalStore(func() db.KVDB {
		return maple.NewMapleDB(&maple.DBOptions{NumShards: 8})
	})
}

func testConfig() common.CheckConfig {
	return common.CheckConfig{
		Seed:            0x5eed,
		StartBlock:      1,
		Blocks:          2,
		IndicesPerBlock: 0x200,
		Threads:         2,
		MaxLag:          keynum.BlockCount,
		BlockTimeout:    10 * time.Second,
		RequestTimeout:  5 * time.Second,
		ReadBack:        true,
		LogLevel:        "warn",
	}
}

func newHarness(t *testing.T, s store.IStore, cfg common.CheckConfig) *Harness {
	t.Helper()
	h, err := New(s, cfg)
	require.NoError(t, err)
	return h
}

func TestRunPasses(t *testing.T) {
	h := newHarness(t, newStore(), testConfig())

	require.NoError(t, h.Run(context.Background()))

	st := h.Stats()
	assert.True(t, st.Passed())
	assert.Zero(t, st.UnexpectedResultCount())
	assert.Zero(t, st.UnexpectedExceptionCount())
	assert.Zero(t, st.OtherRetryResultCount())
	// two blocks of major keys plus the exercise checks
	assert.Greater(t, st.CheckCount(), int64(2*keynum.BlockMax))
	assert.Equal(t, PhaseDone, h.Phase())
	assert.Equal(t, int64(0x5eed), h.Seed())
}

func TestPhasesAcrossHarnesses(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	cfg := testConfig()
	cfg.Seed = 0
	populate := newHarness(t, s, cfg)
	require.NoError(t, populate.Populate(ctx))
	seed := populate.Seed()
	require.NotZero(t, seed)

	// a populated but not exercised store holds exactly the populate values
	require.NoError(t, newHarness(t, s, cfg).Check(ctx))

	exercise := newHarness(t, s, cfg)
	require.NoError(t, exercise.Exercise(ctx))
	assert.Equal(t, seed, exercise.Seed())

	check := newHarness(t, s, cfg)
	require.NoError(t, check.Check(ctx))
	assert.True(t, check.Stats().Passed())

	// exercising twice would invalidate the expected values
	err := newHarness(t, s, cfg).Exercise(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "populate it again")

	// populating again starts the run over
	require.NoError(t, newHarness(t, s, cfg).Populate(ctx))
	require.NoError(t, newHarness(t, s, cfg).Exercise(ctx))
}

func TestSeedHandling(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	cfg := testConfig()
	cfg.Seed = 0
	err := newHarness(t, s, cfg).Check(ctx)
	require.Error(t, err, "checking an unpopulated store must fail")

	cfg.Seed = 1
	require.NoError(t, newHarness(t, s, cfg).Populate(ctx))

	cfg.Seed = 2
	err = newHarness(t, s, cfg).Exercise(ctx)
	assert.True(t, errors.Is(err, ErrSeedMismatch), "got %v", err)
	err = newHarness(t, s, cfg).Populate(ctx)
	assert.True(t, errors.Is(err, ErrSeedMismatch), "got %v", err)
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Threads = 0
	_, err := New(newStore(), cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.IndicesPerBlock = keynum.BlockCount + 1
	_, err = New(newStore(), cfg)
	assert.Error(t, err)
}

func TestCheckDetectsCorruption(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	cfg := testConfig()

	h := newHarness(t, s, cfg)
	require.NoError(t, h.Populate(ctx))
	require.NoError(t, h.Exercise(ctx))

	codec := keynum.NewCodec(cfg.Seed)
	first := cfg.Bounds().Start

	// overwrite a populated key and add keys nobody writes
	_, err := s.Put(codec.KeynumToKey(keynum.IndexToKeynum(first+0x10)).String(), []byte("garbage"))
	require.NoError(t, err)
	_, err = s.Put("/stray", []byte("x"))
	require.NoError(t, err)
	_, err = s.Put(codec.KeynumToKey(keynum.IndexToKeynum(cfg.Bounds().End+4)).String(), []byte("x"))
	require.NoError(t, err)

	err = newHarness(t, s, cfg).Check(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPhaseFailed), "got %v", err)

	check := newHarness(t, s, cfg)
	_ = check.Check(ctx)
	assert.Equal(t, int64(3), check.Stats().UnexpectedResultCount())
	messages, _ := check.Stats().Messages()
	assert.Len(t, messages, 3)
}

func TestCheckDetectsCaseAliasedKeys(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	cfg := testConfig()

	require.NoError(t, newHarness(t, s, cfg).Run(ctx))

	// an in bounds key whose parent component contains a hex letter
	codec := keynum.NewCodec(cfg.Seed)
	var original, alias string
	for index := cfg.Bounds().Start; alias == original; index++ {
		key := codec.KeynumToKey(keynum.IndexToKeynum(index))
		original = key.String()
		key.Major = []string{"k" + strings.ToUpper(key.Major[0][1:]), key.Major[1]}
		alias = key.String()
	}
	_, err := s.Put(alias, []byte("garbage"))
	require.NoError(t, err)

	check := newHarness(t, s, cfg)
	err = check.Check(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPhaseFailed), "got %v", err)
	assert.Equal(t, int64(1), check.Stats().UnexpectedResultCount())
}

func TestCheckFailFast(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	cfg := testConfig()
	cfg.FailFast = true

	require.NoError(t, newHarness(t, s, cfg).Populate(ctx))
	_, err := s.Put("/stray", []byte("x"))
	require.NoError(t, err)

	err = newHarness(t, s, cfg).Check(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, oracle.ErrUnexpectedResult), "got %v", err)
}

func TestExerciseDetectsCorruptReads(t *testing.T) {
	inner := newStore()
	ctx := context.Background()
	cfg := testConfig()

	require.NoError(t, newHarness(t, inner, cfg).Populate(ctx))

	corrupting := &corruptingStore{IStore: inner, every: 17}
	h := newHarness(t, corrupting, cfg)
	err := h.Exercise(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPhaseFailed), "got %v", err)
	assert.Greater(t, h.Stats().UnexpectedResultCount(), int64(0))
}

func TestFaultsAreRetried(t *testing.T) {
	cfg := testConfig()
	faulty := &faultyStore{IStore: newStore(), failBefore: 7, failAfter: 11}
	h := newHarness(t, faulty, cfg)

	require.NoError(t, h.Run(context.Background()))
	assert.Greater(t, faulty.failed.Load(), int64(0))
	assert.Zero(t, h.Stats().UnexpectedExceptionCount())
	assert.Zero(t, h.Stats().UnexpectedResultCount())
}

func TestUnsupportedOperationIsAnException(t *testing.T) {
	s := lstore.NewLocalStore(func() db.KVDB {
		return maple.NewMapleDB(&maple.DBOptions{NumShards: 2, Disabled: db.FeatureDeleteIfVersion})
	})
	ctx := context.Background()
	cfg := testConfig()

	h := newHarness(t, s, cfg)
	require.NoError(t, h.Populate(ctx))
	err := h.Exercise(ctx)
	assert.True(t, errors.Is(err, ErrPhaseFailed), "got %v", err)
	assert.Greater(t, h.Stats().UnexpectedExceptionCount(), int64(0))
}

func TestMaxExecutionTime(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExecutionTime = time.Nanosecond
	h := newHarness(t, newStore(), cfg)

	err := h.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestBarrier(t *testing.T) {
	ctx := context.Background()

	p := newBlockProgress(keynum.BlockCount)
	assert.Equal(t, keynum.BlockCount-1, p.position(keynum.ThreadA))
	err := p.await(ctx, 10*time.Millisecond)
	assert.True(t, errors.Is(err, ErrBarrierTimeout), "got %v", err)

	p = newBlockProgress(0)
	done := make(chan error)
	go func() { done <- p.await(ctx, time.Second) }()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, p.await(ctx, time.Second))
	require.NoError(t, <-done)

	p = newBlockProgress(0)
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, p.await(canceled, time.Second), context.Canceled)
}

// --------------------------------------------------------------------------
// Misbehaving stores
// --------------------------------------------------------------------------

// faultyStore fails every failBefore-th write without applying it and
// every failAfter-th write after applying it.
type faultyStore struct {
	store.IStore
	failBefore, failAfter int64
	calls, failed         atomic.Int64
}

func (f *faultyStore) fault(apply func() error) error {
	n := f.calls.Add(1)
	switch {
	case n%f.failBefore == 0:
		f.failed.Add(1)
		return store.NewError(store.RetCInternalError, "injected failure")
	case n%f.failAfter == 0:
		if err := apply(); err != nil {
			return err
		}
		f.failed.Add(1)
		return store.NewError(store.RetCTimeout, "injected timeout")
	default:
		return apply()
	}
}

func (f *faultyStore) Put(key string, value []byte) (res db.Result, err error) {
	err = f.fault(func() error { res, err = f.IStore.Put(key, value); return err })
	return res, err
}

func (f *faultyStore) PutIfAbsent(key string, value []byte) (res db.Result, err error) {
	err = f.fault(func() error { res, err = f.IStore.PutIfAbsent(key, value); return err })
	return res, err
}

func (f *faultyStore) PutIfPresent(key string, value []byte) (res db.Result, err error) {
	err = f.fault(func() error { res, err = f.IStore.PutIfPresent(key, value); return err })
	return res, err
}

func (f *faultyStore) PutIfVersion(key string, value []byte, version uint64) (res db.Result, err error) {
	err = f.fault(func() error { res, err = f.IStore.PutIfVersion(key, value, version); return err })
	return res, err
}

func (f *faultyStore) Delete(key string) (res db.Result, err error) {
	err = f.fault(func() error { res, err = f.IStore.Delete(key); return err })
	return res, err
}

func (f *faultyStore) DeleteIfVersion(key string, version uint64) (res db.Result, err error) {
	err = f.fault(func() error { res, err = f.IStore.DeleteIfVersion(key, version); return err })
	return res, err
}

func (f *faultyStore) MultiDelete(prefix string) (n int, err error) {
	err = f.fault(func() error { n, err = f.IStore.MultiDelete(prefix); return err })
	return n, err
}

func (f *faultyStore) Execute(ops []db.Operation) (res []db.Result, err error) {
	err = f.fault(func() error { res, err = f.IStore.Execute(ops); return err })
	return res, err
}

// corruptingStore flips a byte of every n-th value it reads.
type corruptingStore struct {
	store.IStore
	every int64
	calls atomic.Int64
}

func (c *corruptingStore) Get(key string) ([]byte, uint64, bool, error) {
	value, version, found, err := c.IStore.Get(key)
	if err != nil || !found || len(value) == 0 || c.calls.Add(1)%c.every != 0 {
		return value, version, found, err
	}
	value[len(value)-1] ^= 0x20
	return value, version, found, nil
}
