package sessionctx

import "encoding/binary"

// blockLength is the fixed size of a record's header, before the
// variable-length composite key bytes (spec.md §6: "session_id:i64,
// sequence_index:i32, logon_time:i64, composite_key_length:i32").
const blockLength = 8 + 4 + 8 + 4

// SessionContext is the internal identity of one FIX session (spec.md §3).
type SessionContext struct {
	// SessionID is the internally assigned, monotonically increasing
	// session identifier. Zero is never assigned; it marks an empty slot
	// on disk.
	SessionID uint64

	// SequenceIndex counts how many times this session's sequence numbers
	// have been reset. UnknownSequenceIndex until the first reset.
	SequenceIndex int32

	// LogonTime is the epoch-nanosecond timestamp of the session's most
	// recent logon. NoLogonTime until set.
	LogonTime int64

	// FilePosition is the byte offset in the contexts file where this
	// record's mutable fields live, or OutOfSpace if the record could not
	// be persisted.
	FilePosition int64

	// Key is the composite identity this context was created for.
	Key CompositeKey
}

// encodeRecord renders a full record: fixed header plus the composite key
// bytes. keyBytes must already be Encode()'d.
func encodeRecord(ctx *SessionContext, keyBytes []byte) []byte {
	out := make([]byte, blockLength+len(keyBytes))

	binary.LittleEndian.PutUint64(out[0:8], ctx.SessionID)
	binary.LittleEndian.PutUint32(out[8:12], uint32(ctx.SequenceIndex))
	binary.LittleEndian.PutUint64(out[12:20], uint64(ctx.LogonTime))
	binary.LittleEndian.PutUint32(out[20:24], uint32(len(keyBytes)))
	copy(out[blockLength:], keyBytes)

	return out
}

// decodeRecordHeader reads the fixed-size portion of a record from raw.
// It does not decode the composite key bytes that follow.
func decodeRecordHeader(raw []byte) (sessionID uint64, sequenceIndex int32, logonTime int64, keyLen int32) {
	sessionID = binary.LittleEndian.Uint64(raw[0:8])
	sequenceIndex = int32(binary.LittleEndian.Uint32(raw[8:12]))
	logonTime = int64(binary.LittleEndian.Uint64(raw[12:20]))
	keyLen = int32(binary.LittleEndian.Uint32(raw[20:24]))

	return sessionID, sequenceIndex, logonTime, keyLen
}

// encodeMutableFields renders just the sequence_index and logon_time
// fields, for an in-place update at a record's file position
// (spec.md §4.1 "update_saved_data").
func encodeMutableFields(sequenceIndex int32, logonTime int64) [12]byte {
	var out [12]byte

	binary.LittleEndian.PutUint32(out[0:4], uint32(sequenceIndex))
	binary.LittleEndian.PutUint64(out[4:12], uint64(logonTime))

	return out
}
