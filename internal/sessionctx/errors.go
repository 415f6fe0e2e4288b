// Package sessionctx implements the durable session-identity store: a
// sector-checksummed, memory-mapped mapping from FIX composite identity to
// an internally assigned, monotonically increasing session id (spec.md
// §4.1).
package sessionctx

import "errors"

// Sentinel errors returned by Store operations.
var (
	// ErrDuplicateSession is returned by OnLogon when the composite key's
	// session id is already present in the currently-authenticated set.
	ErrDuplicateSession = errors.New("sessionctx: duplicate session")

	// ErrUnknownSession is returned when a session id has no known context.
	ErrUnknownSession = errors.New("sessionctx: unknown session")

	// ErrSessionsActive is returned by Reset while any session is
	// currently authenticated; resetting the store under that condition
	// is a programmer error (spec.md §7).
	ErrSessionsActive = errors.New("sessionctx: cannot reset while sessions are active")

	// ErrSchemaMismatch is returned by Open when an existing file's header
	// does not match the schema this build expects.
	ErrSchemaMismatch = errors.New("sessionctx: schema mismatch")

	// ErrKeyTooLarge is returned when a composite key component exceeds
	// the 255-byte length-prefix limit of the on-disk encoding.
	ErrKeyTooLarge = errors.New("sessionctx: composite key component too long")

	// ErrRecordTooLarge is returned when a single record (header +
	// composite key) would not fit in one sector's data region no matter
	// where it is placed.
	ErrRecordTooLarge = errors.New("sessionctx: record larger than sector data region")
)

// OutOfSpace is the FilePosition sentinel meaning a context's fields could
// not be persisted because the contexts file is exhausted (spec.md §3,
// §4.1 "Allocation").
const OutOfSpace int64 = -1

// UnknownSequenceIndex is the SequenceIndex sentinel for a context whose
// sequence has never been reset.
const UnknownSequenceIndex int32 = -1

// NoLogonTime is the LogonTime sentinel meaning no logon timestamp has
// been recorded yet.
const NoLogonTime int64 = 0
