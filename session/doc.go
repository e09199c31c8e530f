// Package session persists the single active refresh-token record of each user.
//
// # Storage layout
//
// Each user owns exactly one Redis key holding a fixed-size binary [Record]. Writing
// a new record replaces the previous one, so a superseded refresh value stops
// matching the moment the write lands. Rotation is a compare-and-swap executed in
// one Lua script: a digest mismatch deletes the record instead of leaving it in
// place.
//
// [MemoryStore] implements the same contract in-process for tests and single-node
// development.
//
// # What this package must NOT do
//
//   - Import authsession or jwt (no upward imports).
//   - Store plaintext refresh values; only SHA-256 digests reach the backend.
//   - Decide authentication policy beyond compare-and-swap semantics.
package session
