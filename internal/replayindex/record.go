package replayindex

import "encoding/binary"

// RecordLength is the fixed on-disk size of one Record: two i64 fields
// followed by four i32 fields (spec.md §3 "ReplayIndexRecord"), ordered
// with the 8-byte fields first so every field lands on a naturally
// aligned offset. Exported so callers sizing a ring file -- including
// internal/config's validation -- can check divisibility without
// duplicating the constant.
const RecordLength = 32

// Record is one entry of a replay index: where a sent FIX message with a
// given (sequence_number, sequence_index) landed in the durable log.
type Record struct {
	Position       int64
	RecordingID    int64
	StreamID       int32
	SequenceNumber int32
	SequenceIndex  int32
	Length         int32
}

func encodeRecord(dst []byte, rec Record) {
	binary.LittleEndian.PutUint64(dst[0:], uint64(rec.Position))
	binary.LittleEndian.PutUint64(dst[8:], uint64(rec.RecordingID))
	binary.LittleEndian.PutUint32(dst[16:], uint32(rec.StreamID))
	binary.LittleEndian.PutUint32(dst[20:], uint32(rec.SequenceNumber))
	binary.LittleEndian.PutUint32(dst[24:], uint32(rec.SequenceIndex))
	binary.LittleEndian.PutUint32(dst[28:], uint32(rec.Length))
}

func decodeRecord(src []byte) Record {
	return Record{
		Position:       int64(binary.LittleEndian.Uint64(src[0:])),
		RecordingID:    int64(binary.LittleEndian.Uint64(src[8:])),
		StreamID:       int32(binary.LittleEndian.Uint32(src[16:])),
		SequenceNumber: int32(binary.LittleEndian.Uint32(src[20:])),
		SequenceIndex:  int32(binary.LittleEndian.Uint32(src[24:])),
		Length:         int32(binary.LittleEndian.Uint32(src[28:])),
	}
}

