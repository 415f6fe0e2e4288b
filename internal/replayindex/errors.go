// Package replayindex implements the per-session replay index: a
// memory-mapped ring of fixed-length records recording where each sent
// FIX message landed in the durable log, written by a single indexer
// thread and read concurrently by replayer/archiver threads through a
// seqlock protocol (spec.md §4.3). It also implements the companion
// replay-position file used for crash-consistent indexer catch-up.
package replayindex

import "errors"

// ErrorSink receives errors that are reported but do not abort the
// operation that produced them (spec.md §7 "Recoverable, reported").
type ErrorSink func(error)

var (
	// ErrSchemaMismatch indicates an existing file's header does not
	// match this build's expected schema.
	ErrSchemaMismatch = errors.New("replayindex: schema mismatch")

	// ErrBusy indicates a read could not obtain a stable snapshot after
	// bounded retries against a concurrent writer.
	ErrBusy = errors.New("replayindex: busy, retries exhausted")

	// ErrInvalidCapacity indicates the ring's record capacity is not a
	// positive multiple of the fixed record length.
	ErrInvalidCapacity = errors.New("replayindex: capacity must be a positive multiple of the record length")
)
