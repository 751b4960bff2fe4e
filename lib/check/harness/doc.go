/*
Package harness runs a data check against a dKV store.

A run has three phases that share a seed and a set of index bounds:

  - Populate writes the populate value of every index in bounds, one atomic
    batch per major key.
  - Exercise runs thread pairs. Both threads of a pair race over the keys of
    one block at a time and meet at a barrier before moving to the next
    block. Each thread publishes the index it is about to execute, so the
    other thread's checks know which of its operations have happened.
  - Check scans every major key in bounds, checks present and absent minor
    keys and finally scans the whole store for keys the run never writes.

Every observed value is handed to the oracle together with the reader
positions. Store failures are retried until the request timeout elapses;
a retried operation widens the values the oracle accepts, since a failed
attempt may still have been applied.

The seed and the phase of the run are kept in the store under /_dkvcheck/,
so the phases can run in separate processes:

	h, _ := harness.New(s, cfg)
	err := h.Populate(ctx) // later: h.Exercise(ctx), h.Check(ctx)

Handler exposes the progress of a run over HTTP (/health, /stats and
/metrics).
*/
package harness
