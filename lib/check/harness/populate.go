package harness

import (
	"context"
	"time"

	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/ops"
	"github.com/ValentinKolb/dKVcheck/lib/db"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Populate writes the populate value of every index in bounds. Each major
// key is cleared and written in one batch, so populating a store again
// starts the run over.
func (h *Harness) Populate(ctx context.Context) error {
	h.phase.Store(int32(PhasePopulate))
	start := time.Now()

	if err := h.resolveSeed(ctx, true); err != nil {
		return err
	}
	if err := h.writeState(ctx, ""); err != nil {
		return errors.Wrap(err, "failed to reset the run state")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Threads)
	for _, blockStart := range h.blocks() {
		g.Go(func() error {
			return h.populateBlock(gctx, blockStart)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "populate phase stopped")
	}

	Logger.Infof("populated %d blocks in %s", len(h.blocks()), time.Since(start).Round(time.Millisecond))
	return h.verdict(PhasePopulate)
}

func (h *Harness) populateBlock(ctx context.Context, blockStart int64) error {
	codec := h.checker.Derivation().Codec()
	bounds := h.cfg.Bounds()

	first, last := majors(blockStart)
	for major := first; major < last; major++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		base := major * keynum.MinorKeyMax
		batch := []db.Operation{{Kind: db.OpDeletePrefix, Key: codec.KeynumToMajorKey(base).Prefix()}}
		for kn := base; kn < base+keynum.MinorKeyMax; kn += 2 {
			index := keynum.KeynumToIndex(kn)
			if !bounds.Contains(index) {
				continue
			}
			batch = append(batch, db.Operation{
				Kind:  db.OpPut,
				Key:   codec.KeynumToKey(kn).String(),
				Value: ops.PopulateValue(index),
			})
		}

		err := retry(ctx, h.cfg.RequestTimeout, func(bool) error {
			_, err := h.store.Execute(batch)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			if err := h.exception(err, "populate of major key %#x", major); err != nil {
				return err
			}
		}
	}

	Logger.Debugf("populated block %#x", blockStart)
	return nil
}
