package ordlog

import (
	"fmt"
	"sync"
)

// MemLog is an in-memory, single-process reference implementation of Log.
// It gives the Indexer, Replayer and ArchiveScanner a concrete, runnable
// transport for both tests and a single-process deployment of the engine,
// standing in for the real shared-memory transport that spec.md places
// out of scope.
type MemLog struct {
	mu        sync.Mutex
	streams   map[int32]*memStream
	nextRecID int64
	closed    bool
}

// NewMemLog returns an empty MemLog.
func NewMemLog() *MemLog {
	return &MemLog{streams: make(map[int32]*memStream)}
}

type memStream struct {
	streamID   int32
	recordings []*memRecording
	pubOpen    bool
}

type memRecording struct {
	id        int64
	fragments []Fragment
	active    bool
}

func (l *MemLog) stream(streamID int32) *memStream {
	s, ok := l.streams[streamID]
	if !ok {
		s = &memStream{streamID: streamID}
		l.streams[streamID] = s
	}

	return s
}

// Publication opens the publication for streamID and starts a new
// recording for it on every successful call. It fails while an earlier
// publication on the stream is still open.
func (l *MemLog) Publication(streamID int32) (Publication, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	s := l.stream(streamID)
	if s.pubOpen {
		return nil, fmt.Errorf("ordlog: stream %d already has an open publication", streamID)
	}

	rec := &memRecording{id: l.nextRecID, active: true}
	l.nextRecID++
	s.recordings = append(s.recordings, rec)
	s.pubOpen = true

	return &memPublication{log: l, stream: s, recording: rec}, nil
}

// Subscribe opens a subscription over every fragment ever published (and
// yet to be published) to streamID, across recording rotations.
func (l *MemLog) Subscribe(streamID int32) (Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	return &memSubscription{log: l, streamID: streamID}, nil
}

// StopPosition returns recordingID's current append position.
func (l *MemLog) StopPosition(recordingID int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.findRecording(recordingID)
	if rec == nil {
		return 0, fmt.Errorf("ordlog: unknown recording %d", recordingID)
	}

	return recordingStopPosition(rec), nil
}

func recordingStopPosition(rec *memRecording) int64 {
	if len(rec.fragments) == 0 {
		return 0
	}

	return rec.fragments[len(rec.fragments)-1].Position
}

// CurrentRecording returns the most recently opened recording for
// streamID.
func (l *MemLog) CurrentRecording(streamID int32) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[streamID]
	if !ok || len(s.recordings) == 0 {
		return 0, false
	}

	return s.recordings[len(s.recordings)-1].id, true
}

// Recordings lists every recording id opened for streamID, in creation
// order.
func (l *MemLog) Recordings(streamID int32) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[streamID]
	if !ok {
		return nil
	}

	ids := make([]int64, len(s.recordings))
	for i, rec := range s.recordings {
		ids[i] = rec.id
	}

	return ids
}

// IsActive reports whether recordingID is still open for writing.
func (l *MemLog) IsActive(recordingID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.findRecording(recordingID)

	return rec != nil && rec.active
}

// RotateRecording closes the current recording on streamID so a future
// Publication call starts a fresh one. Exercises the ArchiveScanner's
// multi-recording enumeration (spec.md §4.5).
func (l *MemLog) RotateRecording(streamID int32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[streamID]
	if !ok || len(s.recordings) == 0 {
		return
	}

	s.recordings[len(s.recordings)-1].active = false
	s.pubOpen = false
}

func (l *MemLog) findRecording(recordingID int64) *memRecording {
	for _, s := range l.streams {
		for _, rec := range s.recordings {
			if rec.id == recordingID {
				return rec
			}
		}
	}

	return nil
}

// StartReplay opens a bounded replay of recordingID over
// [begin, begin+length).
func (l *MemLog) StartReplay(recordingID int64, begin, length int64) (Replay, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.findRecording(recordingID)
	if rec == nil {
		return nil, fmt.Errorf("ordlog: unknown recording %d", recordingID)
	}

	end := begin + length

	var fragments []Fragment

	cursor := int64(0)

	for _, f := range rec.fragments {
		fragStart := cursor
		cursor = f.Position

		if fragStart >= begin && f.Position <= end {
			fragments = append(fragments, f)
		}
	}

	return &memReplay{fragments: fragments, attached: true}, nil
}

// Close marks the log closed; existing publications/subscriptions keep
// operating on their captured state but new ones are refused.
func (l *MemLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true

	return nil
}

// -------------------------------------------------------------------------
// Publication / Claim
// -------------------------------------------------------------------------

type memPublication struct {
	log       *MemLog
	stream    *memStream
	recording *memRecording
	closed    bool
}

func (p *memPublication) TryClaim(length int, flags FragmentFlag, status FrameStatus, sessionID, sequenceIndex int32) (Claim, error) {
	p.log.mu.Lock()
	defer p.log.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	return &memClaim{
		pub:           p,
		buf:           make([]byte, length),
		flags:         flags,
		status:        status,
		sessionID:     sessionID,
		sequenceIndex: sequenceIndex,
	}, nil
}

func (p *memPublication) RecordingID() int64 {
	return p.recording.id
}

func (p *memPublication) Close() error {
	p.log.mu.Lock()
	defer p.log.mu.Unlock()

	p.closed = true
	p.stream.pubOpen = false

	return nil
}

type memClaim struct {
	pub           *memPublication
	buf           []byte
	flags         FragmentFlag
	status        FrameStatus
	sessionID     int32
	sequenceIndex int32
	done          bool
}

func (c *memClaim) Buffer() []byte { return c.buf }

func (c *memClaim) Commit() (int64, error) {
	if c.done {
		return 0, fmt.Errorf("ordlog: claim already resolved")
	}

	c.done = true

	c.pub.log.mu.Lock()
	defer c.pub.log.mu.Unlock()

	rec := c.pub.recording
	position := recordingStopPosition(rec) + int64(len(c.buf))

	rec.fragments = append(rec.fragments, Fragment{
		RecordingID:   rec.id,
		Position:      position,
		Length:        int32(len(c.buf)),
		Flags:         c.flags,
		Status:        c.status,
		SessionID:     c.sessionID,
		SequenceIndex: c.sequenceIndex,
		Data:          c.buf,
	})

	return position, nil
}

func (c *memClaim) Abort() {
	c.done = true
}

// -------------------------------------------------------------------------
// Subscription
// -------------------------------------------------------------------------

type memSubscription struct {
	log      *MemLog
	streamID int32
	recIdx   int
	fragIdx  int
	closed   bool
}

func (s *memSubscription) Poll(handler FragmentHandler, fragmentLimit int) int {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()

	if s.closed {
		return 0
	}

	stream, ok := s.log.streams[s.streamID]
	if !ok {
		return 0
	}

	delivered := 0

	for delivered < fragmentLimit {
		if s.recIdx >= len(stream.recordings) {
			break
		}

		rec := stream.recordings[s.recIdx]
		if s.fragIdx >= len(rec.fragments) {
			if rec.active || s.recIdx == len(stream.recordings)-1 {
				break
			}

			s.recIdx++
			s.fragIdx = 0

			continue
		}

		handler(rec.fragments[s.fragIdx])
		s.fragIdx++
		delivered++
	}

	return delivered
}

func (s *memSubscription) Close() error {
	s.closed = true

	return nil
}

// -------------------------------------------------------------------------
// Replay
// -------------------------------------------------------------------------

type memReplay struct {
	fragments []Fragment
	idx       int
	attached  bool
	closed    bool
}

func (r *memReplay) IsAttached() bool { return r.attached }

func (r *memReplay) Poll(handler FragmentHandler, fragmentLimit int) int {
	if r.closed {
		return 0
	}

	delivered := 0
	for delivered < fragmentLimit && r.idx < len(r.fragments) {
		handler(r.fragments[r.idx])
		r.idx++
		delivered++
	}

	return delivered
}

func (r *memReplay) Close() error {
	r.closed = true

	return nil
}
