// Package oracle decides whether a value observed in the store can be
// explained by the writes of a run.
//
// Every keynum of a run is written at most three times: once by the
// populate phase and at most once by each of the two exercise threads of
// its block. The threads run without synchronization, so the oracle
// enumerates the possible histories of a slot (no exercise op, one of the
// two ops, or both in either order), computes the value each history leaves
// behind and compares it to the observation.
//
// Each history carries ordering constraints against the current indices of
// the threads as seen by the reader. A matching history whose constraints
// hold passes immediately. If only histories that violate their
// constraints match, the check still passes but records a lag: the
// smallest number of index positions the operations have to be moved to
// make the history consistent. Values no history explains are anomalies.
//
// Reconcile and ReconcilePrevious are pure functions of a Slot. The
// Checker derives slots from store keys, records outcomes in a
// stats.Stats and implements fail fast mode.
package oracle
