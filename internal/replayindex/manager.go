package replayindex

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/quantrail/fixcore/internal/fixproto"
	"github.com/quantrail/fixcore/internal/ordlog"
)

// IndexedPosition is one (recording, position) pair this manager has
// durably indexed, as consumed by the Indexer's catch-up (spec.md §4.3
// "IndexedPositionReader.readLastPosition").
type IndexedPosition struct {
	SessionID   int32
	RecordingID int64
	Position    int64
}

// continued is the indexer's per-session cache of the (stream, seq_num,
// seq_index, begin position) tuple of an in-progress fragmented message,
// kept local to the Manager rather than as process-wide mutable state
// (spec.md §9 "Global mutable per-agent state... keep it as per-agent
// state, not global").
type continued struct {
	streamID  int32
	seqNum    int32
	seqIdx    int32
	beginPos  int64
	recording int64
}

// Manager is the replay index's implementation of the Indexer's "Index"
// collaborator (spec.md §4.2): it owns one Ring per (session_id,
// stream_id), a PositionStore per stream_id, and the fragment-assembly
// state needed to turn a stream of possibly-split log fragments into
// fixed-length index records.
type Manager struct {
	mu sync.Mutex

	dir           string
	ringCapacity  int64
	positionSlots int
	errSink       ErrorSink

	rings     map[ringKey]*Ring
	positions map[int32]*PositionStore // keyed by stream id
	inflight  map[int32]*continued     // keyed by session id
}

type ringKey struct {
	sessionID int32
	streamID  int32
}

// NewManager returns a Manager that stores its ring and position files
// under dir, with the given per-ring byte capacity and position-file
// slot count. errSink receives recoverable position-store CRC failures
// (spec.md §7 "each agent has an error sink ... and continues"); if nil,
// they are discarded.
func NewManager(dir string, ringCapacity int64, positionSlots int, errSink ErrorSink) *Manager {
	if errSink == nil {
		errSink = func(error) {}
	}

	return &Manager{
		dir:           dir,
		ringCapacity:  ringCapacity,
		positionSlots: positionSlots,
		errSink:       errSink,
		rings:         make(map[ringKey]*Ring),
		positions:     make(map[int32]*PositionStore),
		inflight:      make(map[int32]*continued),
	}
}

func (m *Manager) ringFor(sessionID, streamID int32) (*Ring, error) {
	key := ringKey{sessionID: sessionID, streamID: streamID}

	if r, ok := m.rings[key]; ok {
		return r, nil
	}

	path := filepath.Join(m.dir, fmt.Sprintf("replay-index-%d-%d", sessionID, streamID))

	r, err := Open(path, m.ringCapacity)
	if err != nil {
		return nil, err
	}

	m.rings[key] = r

	return r, nil
}

func (m *Manager) positionStoreFor(streamID int32) (*PositionStore, error) {
	if ps, ok := m.positions[streamID]; ok {
		return ps, nil
	}

	path := filepath.Join(m.dir, fmt.Sprintf("replay-positions-%d", streamID))

	ps, err := OpenPositionStore(path, m.positionSlots, m.errSink)
	if err != nil {
		return nil, err
	}

	m.positions[streamID] = ps

	return ps, nil
}

// OnFragment assembles frag (and any predecessors cached for its
// session) into a replay index record once the message it belongs to is
// complete, per spec.md §4.3 "Fragmentation": only UNFRAGMENTED and
// BEGIN fragments carry a parseable FIX header, from which
// (session_id, seq_num, seq_idx) is decoded and cached as the
// "continued" tuple for subsequent MID/END fragments of the same
// message. Only frag.Status == StatusOK messages are indexed.
func (m *Manager) OnFragment(streamID int32, frag ordlog.Fragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frag.Status != ordlog.StatusOK {
		return nil
	}

	switch frag.Flags {
	case ordlog.FlagUnfragmented, ordlog.FlagBegin:
		seqNum, err := fixproto.MsgSeqNum(frag.Data)
		if err != nil {
			return fmt.Errorf("replayindex: decode seq num: %w", err)
		}

		beginPos := frag.Position - int64(frag.Length)

		m.inflight[frag.SessionID] = &continued{
			streamID:  streamID,
			seqNum:    seqNum,
			seqIdx:    frag.SequenceIndex,
			beginPos:  beginPos,
			recording: frag.RecordingID,
		}

		if frag.Flags == ordlog.FlagBegin {
			return nil // message not yet complete
		}

	case ordlog.FlagMid:
		return nil // message not yet complete

	case ordlog.FlagEnd:
		// fall through to commit using the cached tuple

	default:
		return fmt.Errorf("replayindex: unknown fragment flag %d", frag.Flags)
	}

	c, ok := m.inflight[frag.SessionID]
	if !ok {
		return fmt.Errorf("replayindex: END fragment for session %d with no BEGIN on record", frag.SessionID)
	}

	delete(m.inflight, frag.SessionID)

	length := frag.Position - c.beginPos

	ring, err := m.ringFor(frag.SessionID, c.streamID)
	if err != nil {
		return fmt.Errorf("replayindex: open ring: %w", err)
	}

	rec := Record{
		Position:       c.beginPos,
		RecordingID:    c.recording,
		StreamID:       c.streamID,
		SequenceNumber: c.seqNum,
		SequenceIndex:  c.seqIdx,
		Length:         int32(length),
	}

	ps, err := m.positionStoreFor(c.streamID)
	if err != nil {
		return fmt.Errorf("replayindex: open position store: %w", err)
	}

	return ring.Append(rec, func() error {
		return ps.Update(frag.SessionID, c.recording, frag.Position)
	})
}

// IndexedPositions returns every durably-recorded indexing position
// across all streams this manager has opened a position store for, used
// by the Indexer's startup catch-up.
func (m *Manager) IndexedPositions() ([]IndexedPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []IndexedPosition

	for streamID, ps := range m.positions {
		entries, err := ps.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("replayindex: read positions for stream %d: %w", streamID, err)
		}

		for _, e := range entries {
			out = append(out, IndexedPosition{
				SessionID:   e.AeronSessionID,
				RecordingID: e.RecordingID,
				Position:    e.Position,
			})
		}
	}

	return out, nil
}

// OpenPosition pre-opens the position store for streamID so its
// previously-recorded entries are visible to IndexedPositions even
// before the first fragment for that stream arrives in this process
// lifetime.
func (m *Manager) OpenPosition(streamID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.positionStoreFor(streamID)

	return err
}

// Lookup finds the ring record for (sessionID, streamID, sequenceNumber,
// sequenceIndex), if the ring for that session/stream has been opened by
// this manager and still holds it.
func (m *Manager) Lookup(sessionID, streamID, sequenceNumber, sequenceIndex int32) (Record, bool, error) {
	m.mu.Lock()
	ring, ok := m.rings[ringKey{sessionID: sessionID, streamID: streamID}]
	m.mu.Unlock()

	if !ok {
		return Record{}, false, nil
	}

	return ring.Lookup(streamID, sequenceNumber, sequenceIndex)
}

// LookupRange finds every ring record for (sessionID, streamID) with
// sequence_number in [beginSeq, endSeq], used by the Replayer.
func (m *Manager) LookupRange(sessionID, streamID, beginSeq, endSeq int32) ([]Record, error) {
	m.mu.Lock()
	ring, ok := m.rings[ringKey{sessionID: sessionID, streamID: streamID}]
	m.mu.Unlock()

	if !ok {
		return nil, nil
	}

	return ring.LookupRange(streamID, beginSeq, endSeq)
}

// Close closes every ring and position store this manager has opened.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error

	for _, r := range m.rings {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, ps := range m.positions {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
