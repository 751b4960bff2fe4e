// Package cmd implements the command-line interface of dKVcheck. It provides
// commands to run the phases of a data check against a dKV store and to
// inspect the key mapping of a run.
//
// The package is organized into several subpackages:
//
//   - phase: run, populate, exercise and check
//   - key: encode indices to keys and decode keys (encode, decode)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dkvcheck -help for a list of all commands.
package cmd
