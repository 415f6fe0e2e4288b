package replayindex

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	posMagic      = "FXP1"
	posSchemaID   = uint16(1)
	posHeaderSize = 32

	// posRecordSize is aeron_session_id:i32, recording_id:i64,
	// position:i64, checksum:i32 (spec.md §6 "Replay position file").
	posRecordSize = 24

	posOffMagic    = 0
	posOffSchemaID = 4
	posOffSlots    = 8
)

// PositionEntry is one decoded, checksum-valid record from a
// PositionStore, as delivered by ReadAll (spec.md §4.3
// "IndexedPositionReader.readLastPosition").
type PositionEntry struct {
	AeronSessionID int32
	RecordingID    int64
	Position       int64
}

// PositionStore is the replay-position file: the highest contiguous log
// position whose indexing has completed, keyed by recording id, updated
// after every replay-index write (spec.md §4.3 "Replay-position file").
type PositionStore struct {
	mu sync.Mutex

	file    *os.File
	data    []byte
	slots   int
	errSink ErrorSink
}

// OpenPositionStore opens or creates the replay-position file at path
// with room for slots (aeron_session_id, recording_id) entries. errSink
// receives recoverable errors (a slot's checksum failing validation on
// read); if nil, they are discarded.
func OpenPositionStore(path string, slots int, errSink ErrorSink) (*PositionStore, error) {
	if slots <= 0 {
		return nil, fmt.Errorf("replayindex: position store slots must be positive, got %d", slots)
	}

	if errSink == nil {
		errSink = func(error) {}
	}

	fileSize := int64(posHeaderSize + slots*posRecordSize)

	file, created, err := openOrCreateSized(path, fileSize)
	if err != nil {
		return nil, fmt.Errorf("replayindex: open position store %s: %w", path, err)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(fileSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("replayindex: mmap position store %s: %w", path, err)
	}

	if created {
		copy(data[posOffMagic:posOffMagic+4], posMagic)
		binary.LittleEndian.PutUint16(data[posOffSchemaID:], posSchemaID)
		binary.LittleEndian.PutUint32(data[posOffSlots:], uint32(slots))
	} else {
		if string(data[posOffMagic:posOffMagic+4]) != posMagic {
			_ = unix.Munmap(data)
			_ = file.Close()

			return nil, fmt.Errorf("%w: bad magic in position store", ErrSchemaMismatch)
		}

		existingSlots := int(binary.LittleEndian.Uint32(data[posOffSlots:]))
		if existingSlots != slots {
			_ = unix.Munmap(data)
			_ = file.Close()

			return nil, fmt.Errorf("%w: position store slots %d, expected %d", ErrSchemaMismatch, existingSlots, slots)
		}
	}

	return &PositionStore{file: file, data: data, slots: slots, errSink: errSink}, nil
}

func (s *PositionStore) slotOffset(i int) int {
	return posHeaderSize + i*posRecordSize
}

// Update records position as the highest contiguous indexed position for
// (aeronSessionID, recordingID), creating a new slot if none exists yet.
// Returns an error if the store is full.
func (s *PositionStore) Update(aeronSessionID int32, recordingID, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := -1

	for i := 0; i < s.slots; i++ {
		off := s.slotOffset(i)

		recID := int64(binary.LittleEndian.Uint64(s.data[off+4:]))
		if recID == recordingID {
			slot = i

			break
		}

		if slot == -1 && recID == 0 && binary.LittleEndian.Uint32(s.data[off:]) == 0 {
			slot = i
		}
	}

	if slot == -1 {
		return fmt.Errorf("replayindex: position store full (%d slots)", s.slots)
	}

	off := s.slotOffset(slot)

	binary.LittleEndian.PutUint32(s.data[off:], uint32(aeronSessionID))
	binary.LittleEndian.PutUint64(s.data[off+4:], uint64(recordingID))
	binary.LittleEndian.PutUint64(s.data[off+12:], uint64(position))
	binary.LittleEndian.PutUint32(s.data[off+20:], crc32.ChecksumIEEE(s.data[off:off+20]))

	return unix.Msync(s.data[off:off+posRecordSize], unix.MS_SYNC)
}

// ReadAll returns every checksum-valid entry currently in the store, used
// by the Indexer's catch-up at startup.
func (s *PositionStore) ReadAll() ([]PositionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []PositionEntry

	for i := 0; i < s.slots; i++ {
		off := s.slotOffset(i)

		aeronSessionID := int32(binary.LittleEndian.Uint32(s.data[off:]))
		recordingID := int64(binary.LittleEndian.Uint64(s.data[off+4:]))

		if aeronSessionID == 0 && recordingID == 0 {
			continue // empty slot
		}

		position := int64(binary.LittleEndian.Uint64(s.data[off+12:]))
		wantChecksum := binary.LittleEndian.Uint32(s.data[off+20:])

		if crc32.ChecksumIEEE(s.data[off:off+20]) != wantChecksum {
			s.errSink(fmt.Errorf("replayindex: position store slot %d failed CRC validation", i))

			continue // corrupt slot, skip per spec.md §7 "Recoverable, reported"
		}

		entries = append(entries, PositionEntry{
			AeronSessionID: aeronSessionID,
			RecordingID:    recordingID,
			Position:       position,
		})
	}

	return entries, nil
}

// Close unmaps and closes the position store.
func (s *PositionStore) Close() error {
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("replayindex: msync position store on close: %w", err)
	}

	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("replayindex: munmap position store: %w", err)
	}

	return s.file.Close()
}
