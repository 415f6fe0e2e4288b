package sessionctx

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	magic         = "FXS1"
	schemaID      = uint16(1)
	templateID    = uint16(1)
	schemaVersion = uint16(1)

	// headerSize is the fixed size of the file's leading schema header:
	// magic(4) + schema_id(2) + template_id(2) + version(2) +
	// block_length(2) + sector_size(4) + counter(8), padded to 64 bytes.
	headerSize = 64

	offMagic      = 0
	offSchemaID   = 4
	offTemplateID = 6
	offVersion    = 8
	offBlockLen   = 10
	offSectorSize = 12
	offCounter    = 16
)

// ErrorSink receives errors that are reported but do not abort the
// operation that produced them (spec.md §7 "Recoverable, reported").
type ErrorSink func(error)

// Store is the durable session-identity store: a memory-mapped,
// sector-checksummed file mapping CompositeKey to SessionContext
// (spec.md §4.1).
type Store struct {
	mu sync.Mutex

	file *os.File
	data []byte

	framer   sectorFramer
	fileSize int64
	writePos int64
	counter  uint64

	byKey         map[string]*SessionContext
	byID          map[uint64]*SessionContext
	authenticated map[uint64]struct{}
	recorded      map[uint64]struct{}

	errSink ErrorSink
	path    string
}

// Options configures Open.
type Options struct {
	// Path is the contexts file path. Created if it does not exist.
	Path string

	// FileSize is the total file size to allocate for a newly created
	// store. Ignored when opening an existing file.
	FileSize int64

	// SectorSize is the fixed sector size. Ignored when opening an
	// existing file (the file's own header value is used and validated
	// against this if nonzero).
	SectorSize int32

	// ErrorSink receives recoverable errors (CRC mismatches, out-of-space
	// persist failures). If nil, errors are discarded.
	ErrorSink ErrorSink
}

// Open opens or creates the contexts file at opts.Path and recovers any
// persisted session contexts (spec.md §4.1 "Recovery").
func Open(opts Options) (*Store, error) {
	sink := opts.ErrorSink
	if sink == nil {
		sink = func(error) {}
	}

	file, created, err := openOrCreate(opts.Path, opts.FileSize)
	if err != nil {
		return nil, fmt.Errorf("sessionctx: open %s: %w", opts.Path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("sessionctx: stat %s: %w", opts.Path, err)
	}

	fileSize := info.Size()

	data, err := unix.Mmap(int(file.Fd()), 0, int(fileSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("sessionctx: mmap %s: %w", opts.Path, err)
	}

	sectorSize := opts.SectorSize

	if created {
		writeHeader(data, sectorSize)
	} else {
		existingSectorSize, hdrErr := validateHeader(data, sectorSize)
		if hdrErr != nil {
			_ = unix.Munmap(data)
			_ = file.Close()

			return nil, hdrErr
		}

		sectorSize = existingSectorSize
	}

	s := &Store{
		file:          file,
		data:          data,
		framer:        newSectorFramer(headerSize, sectorSize, fileSize),
		fileSize:      fileSize,
		byKey:         make(map[string]*SessionContext),
		byID:          make(map[uint64]*SessionContext),
		authenticated: make(map[uint64]struct{}),
		recorded:      make(map[uint64]struct{}),
		errSink:       sink,
		path:          opts.Path,
	}

	if created {
		s.writePos = headerSize
		s.counter = 1
	} else if err := s.recover(); err != nil {
		_ = unix.Munmap(data)
		_ = file.Close()

		return nil, err
	}

	writeCounter(s.data, s.counter)

	return s, nil
}

func openOrCreate(path string, fileSize int64) (*os.File, bool, error) {
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

	if truncErr := file.Truncate(fileSize); truncErr != nil {
		_ = file.Close()

		return nil, false, truncErr
	}

	return file, true, nil
}

func writeHeader(data []byte, sectorSize int32) {
	copy(data[offMagic:offMagic+4], magic)
	binary.LittleEndian.PutUint16(data[offSchemaID:], schemaID)
	binary.LittleEndian.PutUint16(data[offTemplateID:], templateID)
	binary.LittleEndian.PutUint16(data[offVersion:], schemaVersion)
	binary.LittleEndian.PutUint16(data[offBlockLen:], uint16(blockLength))
	binary.LittleEndian.PutUint32(data[offSectorSize:], uint32(sectorSize))
	binary.LittleEndian.PutUint64(data[offCounter:], 1)
}

func writeCounter(data []byte, counter uint64) {
	binary.LittleEndian.PutUint64(data[offCounter:], counter)
}

func validateHeader(data []byte, wantSectorSize int32) (int32, error) {
	if string(data[offMagic:offMagic+4]) != magic {
		return 0, fmt.Errorf("%w: bad magic %q", ErrSchemaMismatch, data[offMagic:offMagic+4])
	}

	if binary.LittleEndian.Uint16(data[offSchemaID:]) != schemaID {
		return 0, fmt.Errorf("%w: schema id", ErrSchemaMismatch)
	}

	if binary.LittleEndian.Uint16(data[offTemplateID:]) != templateID {
		return 0, fmt.Errorf("%w: template id", ErrSchemaMismatch)
	}

	if binary.LittleEndian.Uint16(data[offVersion:]) != schemaVersion {
		return 0, fmt.Errorf("%w: version", ErrSchemaMismatch)
	}

	if binary.LittleEndian.Uint16(data[offBlockLen:]) != uint16(blockLength) {
		return 0, fmt.Errorf("%w: block length", ErrSchemaMismatch)
	}

	sectorSize := int32(binary.LittleEndian.Uint32(data[offSectorSize:]))
	if wantSectorSize != 0 && sectorSize != wantSectorSize {
		return 0, fmt.Errorf("%w: sector size %d, expected %d", ErrSchemaMismatch, sectorSize, wantSectorSize)
	}

	return sectorSize, nil
}

// Close unmaps and closes the contexts file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("sessionctx: msync on close: %w", err)
	}

	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("sessionctx: munmap: %w", err)
	}

	return s.file.Close()
}
