package sessionctx

import "fmt"

// recover scans the contexts file from the first sector, rebuilding the
// key/id maps and the write cursor (spec.md §4.1 "Recovery").
func (s *Store) recover() error {
	pos := int64(headerSize)
	sectors := s.framer.sectorCount()

	for sectorIdx := int64(0); sectorIdx < sectors; sectorIdx++ {
		sectorStart := headerSize + sectorIdx*int64(s.framer.sectorSize)

		if !s.framer.verifySectorCRC(s.data, sectorStart) {
			s.errSink(fmt.Errorf("sessionctx: sector at offset %d failed CRC validation", sectorStart))
		}

		stop, newPos, err := s.recoverSector(sectorStart, pos)
		if err != nil {
			return err
		}

		pos = newPos

		if stop {
			break
		}
	}

	s.writePos = pos
	if s.counter == 0 {
		s.counter = 1
	}

	return nil
}

// recoverSector decodes records within one sector starting at pos,
// returning the position to resume scanning at and whether recovery
// should stop entirely (end-of-data confirmed by a zero sentinel in both
// this sector and the next).
func (s *Store) recoverSector(sectorStart, pos int64) (bool, int64, error) {
	dataEnd := sectorStart + int64(s.framer.dataLength)

	for pos+blockLength <= dataEnd {
		sessionID, sequenceIndex, logonTime, keyLen := decodeRecordHeader(s.data[pos : pos+blockLength])

		if sessionID == 0 {
			return s.isEndOfData(sectorStart), pos, nil
		}

		if pos+int64(blockLength)+int64(keyLen) > dataEnd {
			return false, pos, fmt.Errorf("sessionctx: record at offset %d overruns sector data region", pos)
		}

		keyBytes := s.data[pos+blockLength : pos+int64(blockLength)+int64(keyLen)]

		key, err := DecodeCompositeKey(keyBytes)
		if err != nil {
			return false, pos, fmt.Errorf("sessionctx: decode composite key at offset %d: %w", pos, err)
		}

		ctx := &SessionContext{
			SessionID:     sessionID,
			SequenceIndex: sequenceIndex,
			LogonTime:     logonTime,
			FilePosition:  pos,
			Key:           key,
		}

		s.byKey[string(keyBytes)] = ctx
		s.byID[sessionID] = ctx
		s.recorded[sessionID] = struct{}{}

		if sessionID+1 > s.counter {
			s.counter = sessionID + 1
		}

		pos += int64(blockLength) + int64(keyLen)
	}

	// Not enough room left in this sector for another record header; the
	// remainder is zero-padding. Resume at the next sector's data start.
	return false, sectorStart + int64(s.framer.sectorSize), nil
}

// isEndOfData peeks at the start of the next sector; if it is also a zero
// sentinel, recovery has reached the true end of persisted data.
func (s *Store) isEndOfData(sectorStart int64) bool {
	nextSectorStart := sectorStart + int64(s.framer.sectorSize)
	if nextSectorStart+blockLength > s.fileSize {
		return true
	}

	nextID, _, _, _ := decodeRecordHeader(s.data[nextSectorStart : nextSectorStart+blockLength])

	return nextID == 0
}
