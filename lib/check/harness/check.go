package harness

import (
	"context"
	"time"

	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/oracle"
	"github.com/ValentinKolb/dKVcheck/lib/db"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Check verifies the final content of the store. Every minor key of every
// major key in bounds is checked, absent ones included, followed by a scan
// of the whole store for keys the run never writes.
func (h *Harness) Check(ctx context.Context) error {
	h.phase.Store(int32(PhaseCheck))
	start := time.Now()

	if err := h.resolveSeed(ctx, false); err != nil {
		return err
	}
	state, err := h.readState(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read the run state")
	}

	bounds := h.cfg.Bounds()
	var pos oracle.Positions
	switch state {
	case "":
		pos = bounds.Initial()
	case stateExercised:
		pos = bounds.Final()
	default:
		return errors.Newf("store is %s, the exercise phase did not complete", state)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Threads)
	for _, blockStart := range h.blocks() {
		first, last := majors(blockStart)
		for major := first; major < last; major++ {
			g.Go(func() error {
				return h.checkMajor(gctx, major, pos)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "check phase stopped")
	}

	if err := h.checkStrayKeys(ctx, pos); err != nil {
		return errors.Wrap(err, "check phase stopped")
	}

	Logger.Infof("checked %d blocks in %s", len(h.blocks()), time.Since(start).Round(time.Millisecond))
	return h.verdict(PhaseCheck)
}

// scan reads prefix, retrying store failures
func (h *Harness) scan(ctx context.Context, prefix string) ([]db.Entry, error) {
	var entries []db.Entry
	err := retry(ctx, h.cfg.RequestTimeout, func(bool) (err error) {
		entries, err = h.store.Scan(prefix)
		return err
	})
	return entries, err
}

// checkMajor checks all minor keys of a major key
func (h *Harness) checkMajor(ctx context.Context, major int64, pos oracle.Positions) error {
	codec := h.checker.Derivation().Codec()
	base := major * keynum.MinorKeyMax
	prefix := codec.KeynumToMajorKey(base).Prefix()

	entries, err := h.scan(ctx, prefix)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return h.exception(err, "scan of major key %#x", major)
	}
	if len(entries) > keynum.MinorKeyMax {
		if err := h.unexpected(ErrTooManyResults, "scan of %s returned %d entries, at most %d expected",
			prefix, len(entries), keynum.MinorKeyMax); err != nil {
			return err
		}
	}

	var seen [keynum.MinorKeyMax]bool
	for _, e := range entries {
		key, ok := keynum.ParseKey(e.Key)
		if !ok {
			if err := h.unexpected(oracle.ErrUnexpectedResult, "scan of %s returned malformed key %q", prefix, e.Key); err != nil {
				return err
			}
			continue
		}
		if kn := codec.KeyToKeynum(key); kn >= base && kn < base+keynum.MinorKeyMax {
			seen[kn-base] = true
		}
		if _, err := h.checker.CheckValue(key, observed(e.Value, true), pos, false, false); err != nil {
			return err
		}
	}

	for minor := range seen {
		if seen[minor] {
			continue
		}
		key := codec.KeynumToKey(base + int64(minor))
		if _, err := h.checker.CheckValue(key, nil, pos, false, false); err != nil {
			return err
		}
	}
	return nil
}

// checkStrayKeys scans the whole store for keys outside the major keys
// checked by checkMajor
func (h *Harness) checkStrayKeys(ctx context.Context, pos oracle.Positions) error {
	codec := h.checker.Derivation().Codec()
	bounds := h.cfg.Bounds()
	// keynums of the major keys in bounds
	first, last := bounds.Start<<1, bounds.End<<1

	entries, err := h.scan(ctx, "/")
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return h.exception(err, "scan of all keys")
	}

	for _, e := range entries {
		if isStateKey(e.Key) {
			continue
		}
		key, ok := keynum.ParseKey(e.Key)
		if !ok {
			if err := h.unexpected(oracle.ErrUnexpectedResult, "unexpected key %q with value %q", e.Key, e.Value); err != nil {
				return err
			}
			continue
		}
		if kn := codec.KeyToKeynum(key); kn >= first && kn < last {
			continue
		}
		if _, err := h.checker.CheckValue(key, observed(e.Value, true), pos, false, false); err != nil {
			return err
		}
	}
	return nil
}
