package harness

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ValentinKolb/dKVcheck/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStatusHandler(t *testing.T) {
	h := newHarness(t, newStore(), testConfig())
	require.NoError(t, h.Populate(context.Background()))

	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	code, body := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	code, body = get(t, srv, "/stats")
	require.Equal(t, http.StatusOK, code)
	var st Status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, "populate", st.Phase)
	assert.Equal(t, "0000000000005eed", st.Seed)
	assert.Equal(t, 2, st.BlocksTotal)
	assert.Empty(t, st.ActiveBlocks)
	assert.True(t, st.Stats.Passed)

	code, body = get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "dkvcheck_checks_total")

	code, _ = get(t, srv, "/unknown")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusShowsActiveBlocks(t *testing.T) {
	h := newHarness(t, newStore(), testConfig())

	p := newBlockProgress(0x10000)
	p.publish(threads[0], 0x10005)
	h.active.Store(p.start, p)
	h.active.Store(0x8000, newBlockProgress(0x8000))

	st := h.Status()
	require.Len(t, st.ActiveBlocks, 2)
	assert.Equal(t, ActiveBlock{Start: 0x8000, A: 0x7fff, B: 0x7fff}, st.ActiveBlocks[0])
	assert.Equal(t, ActiveBlock{Start: 0x10000, A: 0x10005, B: 0xffff}, st.ActiveBlocks[1])
}

func TestServeStatusStopsWithContext(t *testing.T) {
	h := newHarness(t, newStore(), testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- h.ServeStatus(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("status server did not stop")
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	// retryable errors are retried and the flag is passed on
	var flags []bool
	err := retry(ctx, time.Second, func(retrying bool) error {
		flags = append(flags, retrying)
		if len(flags) < 3 {
			return store.NewError(store.RetCTimeout, "slow")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true}, flags)

	// other errors are returned right away
	calls := 0
	err = retry(ctx, time.Second, func(bool) error {
		calls++
		return store.NewError(store.RetCUnsupportedOperation, "nope")
	})
	assert.True(t, store.IsCode(err, store.RetCUnsupportedOperation))
	assert.Equal(t, 1, calls)

	// persistent failures give up at the timeout
	start := time.Now()
	err = retry(ctx, 50*time.Millisecond, func(bool) error {
		return store.NewError(store.RetCInternalError, "down")
	})
	assert.True(t, store.IsCode(err, store.RetCInternalError))
	assert.Contains(t, err.Error(), "giving up")
	assert.Less(t, time.Since(start), time.Second)

	// a canceled context stops the retries
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = retry(canceled, time.Second, func(bool) error { return nil })
	assert.True(t, errors.Is(err, context.Canceled))
}
