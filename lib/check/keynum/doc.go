// Package keynum maps the indices of a check run to store keys.
//
// An index is populated at keynum 2*index. During the exercise phase both
// threads of a block walk the block's keynums in their own permuted order,
// so each keynum is updated by at most one op of each thread. Keynums are
// rendered as hierarchical keys of the form
//
//	/k<parent>/<child>/-/<minor>
//
// where parent and child are the permuted major key (keynum >> 8) and minor
// is the low byte. All components are fixed width lowercase hex, and
// KeyToKeynum returns -1 for any key KeynumToKey could not have produced.
package keynum
