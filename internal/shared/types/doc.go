// Package types provides the shared entry snapshot used by the folder model,
// the job engine and the daemon surface.
//
// Core Types:
//   - Entry: immutable metadata snapshot of one directory entry
//   - Kind: regular, directory, symlink or special
//
// Entries are values. A changed file produces a new Entry, never a mutation
// of one a subscriber already holds.
package types
