// Package ordlog models the durable ordered log transport this engine
// publishes to and replays from. The real transport (a shared-memory
// messaging system) is an external collaborator the core does not
// implement (spec.md §1 "Deliberately out of scope"); this package defines
// the narrow interface the Indexer, Replayer and ArchiveScanner need from
// it — fragmented publication, subscription polling, and recording-id
// replay — plus an in-memory reference implementation that makes the rest
// of the engine runnable and testable without a real transport.
package ordlog

import "errors"

// FrameStatus classifies a fragment the way the source transport tags it.
// Only StatusOK fragments are indexed and replayed (spec.md §6 "Only
// status == OK messages are indexed and replayed").
type FrameStatus int32

const (
	StatusOK FrameStatus = iota
	StatusError
	StatusReplayed
)

// FragmentFlag marks a fragment's position within a (possibly split)
// message (spec.md §4.3 "Fragmentation").
type FragmentFlag int32

const (
	FlagUnfragmented FragmentFlag = iota
	FlagBegin
	FlagMid
	FlagEnd
)

// Fragment is one delivered unit of the log: part or all of one FIX
// message, addressed by its ending byte Position within RecordingID.
type Fragment struct {
	RecordingID int64
	// Position is the log position immediately following this fragment
	// (spec.md §3 "position + length equals the log position immediately
	// following that message's last fragment").
	Position int64
	Length   int32
	Flags    FragmentFlag
	Status   FrameStatus
	// SessionID identifies the FIX session this fragment belongs to.
	SessionID int32
	// SequenceIndex is carried alongside the raw bytes by the internal
	// message framing (spec.md §6 "Internal message schemas": "a tagged
	// framing carries session, sequence_index, status, body_length plus
	// the raw FIX bytes"), since a session's sequence-number resets are
	// not recoverable from the wire bytes alone.
	SequenceIndex int32
	Data          []byte
}

// FragmentHandler processes one delivered Fragment.
type FragmentHandler func(Fragment)

// ErrBackPressured is returned by Publication.TryClaim when the
// publication cannot currently accept a claim of the requested size
// (spec.md §4.4 "On publication backpressure... back off and retry").
var ErrBackPressured = errors.New("ordlog: publication back-pressured")

// ErrClosed is returned by operations on a closed Log, Subscription,
// Publication or Replay.
var ErrClosed = errors.New("ordlog: closed")

// Claim is a reserved, as-yet-uncommitted region of a publication's
// buffer. The caller must either Commit or Abort every claim it obtains.
type Claim interface {
	// Buffer returns the claimed region to write into. Its length equals
	// the size requested from TryClaim.
	Buffer() []byte

	// Commit publishes the claimed region, returning the log position
	// immediately following it.
	Commit() (position int64, err error)

	// Abort releases the claim without publishing it.
	Abort()
}

// Publication is a single-writer append point on one stream.
type Publication interface {
	// TryClaim reserves length bytes for a single fragment carrying the
	// given frame metadata. Returns ErrBackPressured if the publication
	// cannot currently accept the claim; the caller is expected to back
	// off and retry.
	TryClaim(length int, flags FragmentFlag, status FrameStatus, sessionID, sequenceIndex int32) (Claim, error)

	// RecordingID identifies the durable recording this publication
	// appends to.
	RecordingID() int64

	Close() error
}

// Subscription polls fragments from one stream as they are published.
type Subscription interface {
	// Poll delivers up to fragmentLimit fragments to handler, returning
	// the number delivered. Returns 0 when no fragments are currently
	// available (the caller's duty-cycle idle strategy governs backoff).
	Poll(handler FragmentHandler, fragmentLimit int) int

	Close() error
}

// Replay delivers a bounded historical range of a recording, used by the
// Indexer's catch-up and the ArchiveScanner.
type Replay interface {
	// IsAttached reports whether the replay has begun delivering
	// fragments. The Indexer's catch-up idles until this is true.
	IsAttached() bool

	// Poll delivers up to fragmentLimit fragments to handler.
	Poll(handler FragmentHandler, fragmentLimit int) int

	Close() error
}

// Log is the durable ordered log abstraction: fragmented publication,
// subscription polling, and recording-id replay.
type Log interface {
	// Publication opens the publication for streamID. At most one
	// publication per stream is open at a time.
	Publication(streamID int32) (Publication, error)

	// Subscribe opens a new subscription to streamID.
	Subscribe(streamID int32) (Subscription, error)

	// StopPosition returns the highest durable position recorded for
	// recordingID, or the current live position if still archiving.
	StopPosition(recordingID int64) (int64, error)

	// CurrentRecording returns the recording id currently backing
	// streamID, if any has been published to.
	CurrentRecording(streamID int32) (recordingID int64, ok bool)

	// Recordings lists every recording id ever opened for streamID, in
	// creation order.
	Recordings(streamID int32) []int64

	// IsActive reports whether recordingID is still being appended to
	// (i.e. has not been finalised by the publication that owns it).
	IsActive(recordingID int64) bool

	// StartReplay opens a bounded replay of [begin, begin+length) within
	// recordingID.
	StartReplay(recordingID int64, begin, length int64) (Replay, error)

	Close() error
}
