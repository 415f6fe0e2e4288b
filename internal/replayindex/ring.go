package replayindex

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	ringMagic      = "FXI1"
	ringSchemaID   = uint16(1)
	ringTemplateID = uint16(1)
	ringVersion    = uint16(1)

	// ringHeaderSize is the fixed size of the schema header plus the
	// beginChange/endChange counters, before the ring's record area
	// begins (spec.md §4.3 "Layout: schema header, beginChange counter
	// (tail), endChange counter (head), then capacity bytes of records").
	ringHeaderSize      = 80
	offMagic            = 0
	offSchemaID         = 4
	offTemplateID       = 6
	offVersion          = 8
	offRecordLen        = 10
	offCapacity         = 16
	offBeginChange      = 64
	offEndChange        = 72
	ringDataStartOffset = ringHeaderSize
)

const (
	readMaxRetries    = 8
	readInitialBackoff = 20 * time.Microsecond
	readMaxBackoff     = 500 * time.Microsecond
)

// Ring is one memory-mapped replay-index file for a single (session id,
// stream id) pair (spec.md §4.3). Writes come from exactly one goroutine
// (the Indexer); reads are lock-free and safe for concurrent use.
type Ring struct {
	writeMu sync.Mutex // serializes Append calls; never held during reads

	file     *os.File
	data     []byte
	capacity int64
	path     string
}

// Open opens or creates the ring file at path with the given record-area
// capacity in bytes (must be a positive multiple of the fixed record
// length).
func Open(path string, capacity int64) (*Ring, error) {
	if capacity <= 0 || capacity%RecordLength != 0 {
		return nil, ErrInvalidCapacity
	}

	fileSize := ringDataStartOffset + capacity

	file, created, err := openOrCreateSized(path, fileSize)
	if err != nil {
		return nil, fmt.Errorf("replayindex: open %s: %w", path, err)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(fileSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("replayindex: mmap %s: %w", path, err)
	}

	if created {
		writeRingHeader(data, capacity)
	} else {
		if err := validateRingHeader(data, capacity); err != nil {
			_ = unix.Munmap(data)
			_ = file.Close()

			return nil, err
		}
		// Open-existing reset: normalise begin/end to the ring-relative
		// offset of the previously persisted beginChange, so a future
		// wrap does not reorder a reader's first observation (spec.md
		// §4.3 "Open-existing reset").
		b0 := atomicLoadInt64(data[offBeginChange:])
		normalized := ringOffset(b0, capacity)
		atomicStoreInt64(data[offBeginChange:], normalized)
		atomicStoreInt64(data[offEndChange:], normalized)
	}

	return &Ring{file: file, data: data, capacity: capacity, path: path}, nil
}

func openOrCreateSized(path string, size int64) (*os.File, bool, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err == nil {
		return file, false, nil
	}

	if !os.IsNotExist(err) {
		return nil, false, err
	}

	file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, false, err
	}

	if err := file.Truncate(size); err != nil {
		_ = file.Close()

		return nil, false, err
	}

	return file, true, nil
}

func writeRingHeader(data []byte, capacity int64) {
	copy(data[offMagic:offMagic+4], ringMagic)
	binary.LittleEndian.PutUint16(data[offSchemaID:], ringSchemaID)
	binary.LittleEndian.PutUint16(data[offTemplateID:], ringTemplateID)
	binary.LittleEndian.PutUint16(data[offVersion:], ringVersion)
	binary.LittleEndian.PutUint16(data[offRecordLen:], uint16(RecordLength))
	binary.LittleEndian.PutUint64(data[offCapacity:], uint64(capacity))
	atomicStoreInt64(data[offBeginChange:], 0)
	atomicStoreInt64(data[offEndChange:], 0)
}

func validateRingHeader(data []byte, wantCapacity int64) error {
	if string(data[offMagic:offMagic+4]) != ringMagic {
		return fmt.Errorf("%w: bad magic %q", ErrSchemaMismatch, data[offMagic:offMagic+4])
	}

	if binary.LittleEndian.Uint16(data[offSchemaID:]) != ringSchemaID {
		return fmt.Errorf("%w: schema id", ErrSchemaMismatch)
	}

	if binary.LittleEndian.Uint16(data[offRecordLen:]) != uint16(RecordLength) {
		return fmt.Errorf("%w: record length", ErrSchemaMismatch)
	}

	gotCapacity := int64(binary.LittleEndian.Uint64(data[offCapacity:]))
	if gotCapacity != wantCapacity {
		return fmt.Errorf("%w: capacity %d, expected %d", ErrSchemaMismatch, gotCapacity, wantCapacity)
	}

	return nil
}

func ringOffset(pos, capacity int64) int64 {
	return pos % capacity
}

// Append writes rec at the ring's current write cursor, following the
// seqlock write protocol: the tail (beginChange) is published before the
// bytes are written, beforeCommit runs after the bytes land (used by
// callers to update the companion replay-position file), and the head
// (endChange) is published last to make the record visible to readers
// (spec.md §4.3 "Write protocol").
func (r *Ring) Append(rec Record, beforeCommit func() error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	begin := atomicLoadInt64(r.data[offBeginChange:])
	newBegin := begin + RecordLength

	atomicStoreInt64(r.data[offBeginChange:], newBegin)

	off := ringDataStartOffset + ringOffset(begin, r.capacity)
	encodeRecord(r.data[off:off+RecordLength], rec)

	if beforeCommit != nil {
		if err := beforeCommit(); err != nil {
			return fmt.Errorf("replayindex: before-commit hook: %w", err)
		}
	}

	atomicStoreInt64(r.data[offEndChange:], newBegin)

	return nil
}

// Scan visits every currently-valid record in ascending write order,
// oldest first, under the seqlock read protocol: snapshot end then
// begin, reject if a write is in progress (begin != end), copy the
// records, then re-validate that no write has started (begin still equals
// the snapshot end) before handing the copies to handler. handler
// returning false stops the scan early. Returns ErrBusy if a stable snapshot could not be obtained
// within the retry budget.
func (r *Ring) Scan(handler func(Record) bool) error {
	for attempt := 0; attempt < readMaxRetries; attempt++ {
		readBackoff(attempt)

		end := atomicLoadInt64(r.data[offEndChange:])
		begin := atomicLoadInt64(r.data[offBeginChange:])

		if begin != end {
			continue // write in progress
		}

		oldestValid := end - r.capacity
		if oldestValid < 0 {
			oldestValid = 0
		}

		recs := make([]Record, 0, (end-oldestValid)/RecordLength)

		for pos := oldestValid; pos < end; pos += RecordLength {
			off := ringDataStartOffset + ringOffset(pos, r.capacity)
			recs = append(recs, decodeRecord(r.data[off:off+RecordLength]))
		}

		if atomicLoadInt64(r.data[offBeginChange:]) != end {
			continue // a write started during the copy
		}

		for _, rec := range recs {
			if !handler(rec) {
				break
			}
		}

		return nil
	}

	return ErrBusy
}

func readBackoff(attempt int) {
	if attempt == 0 {
		return
	}

	backoff := readInitialBackoff << (attempt - 1)
	if backoff > readMaxBackoff {
		backoff = readMaxBackoff
	}

	time.Sleep(backoff)
}

// Lookup returns the record matching streamID/sequenceNumber/sequenceIndex,
// if it is still present in the ring (spec.md §8 "reads for overwritten
// sequence numbers return not found").
func (r *Ring) Lookup(streamID, sequenceNumber, sequenceIndex int32) (Record, bool, error) {
	var (
		found Record
		ok    bool
	)

	err := r.Scan(func(rec Record) bool {
		if rec.StreamID == streamID && rec.SequenceNumber == sequenceNumber && rec.SequenceIndex == sequenceIndex {
			found = rec
			ok = true

			return false
		}

		return true
	})

	return found, ok, err
}

// LookupRange returns every record for streamID with sequence_number in
// [beginSeq, endSeq], sorted ascending by (sequence_index, sequence_number)
// per spec.md §5 "Replay output preserves request-order".
func (r *Ring) LookupRange(streamID, beginSeq, endSeq int32) ([]Record, error) {
	var matches []Record

	err := r.Scan(func(rec Record) bool {
		if rec.StreamID == streamID && rec.SequenceNumber >= beginSeq && rec.SequenceNumber <= endSeq {
			matches = append(matches, rec)
		}

		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].SequenceIndex != matches[j].SequenceIndex {
			return matches[i].SequenceIndex < matches[j].SequenceIndex
		}

		return matches[i].SequenceNumber < matches[j].SequenceNumber
	})

	return matches, nil
}

// Close unmaps and closes the ring file.
func (r *Ring) Close() error {
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("replayindex: msync on close: %w", err)
	}

	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("replayindex: munmap: %w", err)
	}

	return r.file.Close()
}
