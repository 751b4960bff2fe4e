// Package util provides helpers for database implementations that satisfy
// the db.KVDB interface.
//
// The package contains:
//   - functions: seed generation and the string hash used to pick shards
//   - statistics: distribution statistics used to report how evenly a
//     database spreads its entries over shards
package util
