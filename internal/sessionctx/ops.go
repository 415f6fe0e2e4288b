package sessionctx

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/sys/unix"
)

// OnLogon returns the SessionContext for key, allocating a new session id
// and persisting it if this is the first logon for that key. Returns
// ErrDuplicateSession if the context's session id is already present in
// the currently-authenticated set (spec.md §4.1 "on_logon").
func (s *Store) OnLogon(key CompositeKey) (*SessionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyBytes, err := key.Encode()
	if err != nil {
		return nil, err
	}

	ctx, exists := s.byKey[string(keyBytes)]
	if !exists {
		ctx = &SessionContext{
			SessionID:     s.counter,
			SequenceIndex: UnknownSequenceIndex,
			LogonTime:     NoLogonTime,
			FilePosition:  OutOfSpace,
			Key:           key,
		}
		s.counter++

		s.persistNew(ctx, keyBytes)

		s.byKey[string(keyBytes)] = ctx
		s.byID[ctx.SessionID] = ctx
	}

	if _, authed := s.authenticated[ctx.SessionID]; authed {
		return nil, ErrDuplicateSession
	}

	s.authenticated[ctx.SessionID] = struct{}{}

	return ctx, nil
}

// persistNew writes a brand-new record for ctx. On out-of-space, ctx's
// FilePosition is left as OutOfSpace and the failure is reported to the
// error sink; the in-memory assignment still proceeds (spec.md §4.1
// "Failure semantics").
func (s *Store) persistNew(ctx *SessionContext, keyBytes []byte) {
	record := encodeRecord(ctx, keyBytes)

	if int32(len(record)) > s.framer.dataLength {
		s.errSink(fmt.Errorf("%w: session %d record is %d bytes, sector data region is %d bytes",
			ErrRecordTooLarge, ctx.SessionID, len(record), s.framer.dataLength))

		return
	}

	pos, ok := s.framer.claim(s.writePos, len(record))
	if !ok {
		s.errSink(fmt.Errorf("sessionctx: contexts file exhausted, session %d not persisted", ctx.SessionID))

		return
	}

	copy(s.data[pos:pos+int64(len(record))], record)
	s.framer.recomputeSectorCRC(s.data, pos)

	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		s.errSink(fmt.Errorf("sessionctx: msync after persisting session %d: %w", ctx.SessionID, err))

		return
	}

	ctx.FilePosition = pos
	s.writePos = pos + int64(len(record))
	s.recorded[ctx.SessionID] = struct{}{}
}

// OnDisconnect removes sessionID from the currently-authenticated set.
// On-disk state is untouched.
func (s *Store) OnDisconnect(sessionID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.authenticated, sessionID)
}

// SequenceReset increments the in-memory sequence index for sessionID and
// persists the updated mutable fields.
func (s *Store) SequenceReset(sessionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.byID[sessionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSession, sessionID)
	}

	ctx.SequenceIndex++

	s.updateSavedDataLocked(ctx)

	return nil
}

// UpdateSavedData sets sequenceIndex and logonTime on sessionID's context
// and persists them.
func (s *Store) UpdateSavedData(sessionID uint64, sequenceIndex int32, logonTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.byID[sessionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSession, sessionID)
	}

	ctx.SequenceIndex = sequenceIndex
	ctx.LogonTime = logonTime

	s.updateSavedDataLocked(ctx)

	return nil
}

// updateSavedDataLocked writes ctx's mutable fields at its file position,
// recomputes the owning sector's CRC, and forces the mapping. A context
// with FilePosition == OutOfSpace has nothing to update on disk.
func (s *Store) updateSavedDataLocked(ctx *SessionContext) {
	if ctx.FilePosition == OutOfSpace {
		return
	}

	fields := encodeMutableFields(ctx.SequenceIndex, ctx.LogonTime)
	mutableStart := ctx.FilePosition + 8 // past session_id

	copy(s.data[mutableStart:mutableStart+int64(len(fields))], fields[:])
	s.framer.recomputeSectorCRC(s.data, ctx.FilePosition)

	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		s.errSink(fmt.Errorf("sessionctx: msync updating session %d: %w", ctx.SessionID, err))
	}
}

// OnSentFollowerLogon records a session id chosen by a cluster leader: the
// follower persists (key, session_id, sequence_index) and advances its
// counter past session_id so a later leadership takeover does not collide
// (spec.md §4.1).
func (s *Store) OnSentFollowerLogon(key CompositeKey, sessionID uint64, sequenceIndex int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyBytes, err := key.Encode()
	if err != nil {
		return err
	}

	if _, exists := s.byKey[string(keyBytes)]; exists {
		return nil
	}

	ctx := &SessionContext{
		SessionID:     sessionID,
		SequenceIndex: sequenceIndex,
		LogonTime:     NoLogonTime,
		FilePosition:  OutOfSpace,
		Key:           key,
	}

	s.persistNew(ctx, keyBytes)

	s.byKey[string(keyBytes)] = ctx
	s.byID[sessionID] = ctx

	if sessionID+1 > s.counter {
		s.counter = sessionID + 1
	}

	return nil
}

// LookupSessionID returns the session id assigned to key, if known.
func (s *Store) LookupSessionID(key CompositeKey) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyBytes, err := key.Encode()
	if err != nil {
		return 0, false
	}

	ctx, ok := s.byKey[string(keyBytes)]
	if !ok {
		return 0, false
	}

	return ctx.SessionID, true
}

// IsAuthenticated reports whether sessionID is currently authenticated.
func (s *Store) IsAuthenticated(sessionID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.authenticated[sessionID]

	return ok
}

// IsKnownSessionID reports whether sessionID has ever been assigned.
func (s *Store) IsKnownSessionID(sessionID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.byID[sessionID]

	return ok
}

// Context returns the SessionContext for sessionID, if known.
func (s *Store) Context(sessionID uint64) (*SessionContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.byID[sessionID]

	return ctx, ok
}

// SessionSummary is a read-only snapshot of one session context plus its
// current authentication state, as returned by Snapshot.
type SessionSummary struct {
	SessionContext
	Authenticated bool
}

// Snapshot returns a copy of every known session context, sorted by
// session id, for offline inspection (fixcorectl's "sessions" command
// has no network control plane to query, so it reads this store
// directly; spec.md §6 names CompositeKey/SessionContext as the data
// an operator needs to see).
func (s *Store) Snapshot() []SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SessionSummary, 0, len(s.byID))

	for id, ctx := range s.byID {
		_, authenticated := s.authenticated[id]
		out = append(out, SessionSummary{SessionContext: *ctx, Authenticated: authenticated})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })

	return out
}

// Reset copies the file to backupPath, zeroes the mapping, and
// re-initialises the header. Fails with ErrSessionsActive if any session
// is currently authenticated (spec.md §4.1, §7).
func (s *Store) Reset(backupPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.authenticated) > 0 {
		return ErrSessionsActive
	}

	if err := os.WriteFile(backupPath, s.data, 0o600); err != nil {
		return fmt.Errorf("sessionctx: write backup %s: %w", backupPath, err)
	}

	sectorSize := s.framer.sectorSize

	for i := range s.data {
		s.data[i] = 0
	}

	writeHeader(s.data, sectorSize)

	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("sessionctx: msync after reset: %w", err)
	}

	s.byKey = make(map[string]*SessionContext)
	s.byID = make(map[uint64]*SessionContext)
	s.recorded = make(map[uint64]struct{})
	s.writePos = headerSize
	s.counter = 1

	return nil
}
