// Package permutation provides keyed bijections over 16, 40 and 48 bit
// unsigned integers.
//
// A Permutation is a balanced four round Feistel network whose round keys
// are derived from a 64-bit key. Transform and Untransform are exact
// inverses for every value of the width, so permuted sequences cover their
// range without collisions. The check uses them to scatter the keys of a
// block and to pick operation types independently of the index order.
package permutation
