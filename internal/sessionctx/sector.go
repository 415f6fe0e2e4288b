package sessionctx

import (
	"encoding/binary"
	"hash/crc32"
)

// crcSize is the size of a sector's trailing CRC32 checksum.
const crcSize = 4

// sectorFramer packs variable-length records into fixed-size sectors
// without letting a record straddle a sector boundary (spec.md §4.1
// "Allocation", GLOSSARY "Sector framer").
type sectorFramer struct {
	headerSize int64
	sectorSize int32
	dataLength int32
	fileSize   int64
}

func newSectorFramer(headerSize int64, sectorSize int32, fileSize int64) sectorFramer {
	return sectorFramer{
		headerSize: headerSize,
		sectorSize: sectorSize,
		dataLength: sectorSize - crcSize,
		fileSize:   fileSize,
	}
}

// sectorStart returns the file offset of the sector containing position.
func (f sectorFramer) sectorStart(position int64) int64 {
	rel := position - f.headerSize
	sectorIdx := rel / int64(f.sectorSize)

	return f.headerSize + sectorIdx*int64(f.sectorSize)
}

// claim returns the file offset at which a record of size needed should be
// written: position itself if it fits before the sector's CRC trailer, or
// the next sector's data start otherwise. Returns ok=false (OutOfSpace) if
// the file has no further sectors.
func (f sectorFramer) claim(position int64, needed int) (int64, bool) {
	if int64(needed) > int64(f.dataLength) {
		return 0, false
	}

	start := f.sectorStart(position)
	offsetInSector := position - start

	if offsetInSector+int64(needed) <= int64(f.dataLength) {
		return position, true
	}

	next := start + int64(f.sectorSize)
	if next+int64(f.dataLength)+crcSize > f.fileSize {
		return 0, false
	}

	return next, true
}

// crcOffset returns the file offset of the CRC trailer for the sector
// containing position.
func (f sectorFramer) crcOffset(position int64) int64 {
	return f.sectorStart(position) + int64(f.dataLength)
}

// recomputeSectorCRC recomputes and writes the CRC32 (IEEE 802.3
// polynomial) trailer for the sector containing position, over its full
// data region (spec.md §6).
func (f sectorFramer) recomputeSectorCRC(data []byte, position int64) {
	start := f.sectorStart(position)
	region := data[start : start+int64(f.dataLength)]
	sum := crc32.ChecksumIEEE(region)

	binary.LittleEndian.PutUint32(data[start+int64(f.dataLength):start+int64(f.dataLength)+crcSize], sum)
}

// verifySectorCRC reports whether the sector containing position has a
// valid trailing CRC32 over its data region.
func (f sectorFramer) verifySectorCRC(data []byte, position int64) bool {
	start := f.sectorStart(position)
	region := data[start : start+int64(f.dataLength)]
	want := binary.LittleEndian.Uint32(data[start+int64(f.dataLength) : start+int64(f.dataLength)+crcSize])

	return crc32.ChecksumIEEE(region) == want
}

// sectorCount returns the number of complete sectors following the header.
func (f sectorFramer) sectorCount() int64 {
	return (f.fileSize - f.headerSize) / int64(f.sectorSize)
}
