// Package archive implements the ArchiveScanner (spec.md §4.5): an
// offline-query component that lists every recording backing one
// direction of one channel, replays them in completed-first order
// through a FragmentAssembler, and hands each reassembled FIX message
// to a caller-supplied consumer.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantrail/fixcore/internal/agent"
	"github.com/quantrail/fixcore/internal/ordlog"
)

// Direction selects which of a channel's two stream ids a Scanner reads.
type Direction int

const (
	DirectionSent Direction = iota
	DirectionReceived
)

func (d Direction) String() string {
	switch d {
	case DirectionSent:
		return "sent"
	case DirectionReceived:
		return "received"
	default:
		return "unknown"
	}
}

// Message is one reassembled FIX message read back from an archived
// recording.
type Message struct {
	RecordingID int64
	// Position is the log position immediately following the message's
	// last fragment (internal/replayindex.Record.Position, by contrast,
	// is the position of the message's first byte).
	Position      int64
	SessionID     int32
	SequenceIndex int32
	Data          []byte
}

// FixMessageConsumer receives one reassembled message in recording order.
type FixMessageConsumer func(Message)

const scanFragmentLimit = 64

// Scanner implements spec.md §4.5 for one stream: list recordings, sort
// completed-first/active-last, replay each in order.
type Scanner struct {
	log       ordlog.Log
	direction Direction
	streamID  int32
}

// New returns a Scanner over streamID (the stream the caller has already
// resolved from the channel configuration for direction).
func New(log ordlog.Log, direction Direction, streamID int32) *Scanner {
	return &Scanner{log: log, direction: direction, streamID: streamID}
}

func (s *Scanner) Direction() Direction { return s.direction }

// orderedRecordings lists streamID's recordings with every completed one
// first, in creation order, and the still-active one (if any — spec.md
// §5 names the outbound publication "single writer per stream", so there
// is never more than one) last.
func (s *Scanner) orderedRecordings() []int64 {
	all := s.log.Recordings(s.streamID)

	ordered := make([]int64, 0, len(all))

	var (
		active     int64
		haveActive bool
	)

	for _, id := range all {
		if s.log.IsActive(id) {
			active, haveActive = id, true

			continue
		}

		ordered = append(ordered, id)
	}

	if haveActive {
		ordered = append(ordered, active)
	}

	return ordered
}

// Scan replays every recording for the configured stream, in order,
// through consumer. With follow == false the still-active recording (if
// any) is bounded at the stop position observed when Scan reaches it
// (spec.md §4.5 "otherwise its stop position is snapshotted at entry").
// With follow == true that last recording is instead replayed open-ended
// until ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, consumer FixMessageConsumer, follow bool) error {
	recordings := s.orderedRecordings()

	for i, id := range recordings {
		isLast := i == len(recordings)-1
		active := s.log.IsActive(id)

		if active && isLast && follow {
			return s.followRecording(ctx, id, consumer)
		}

		stop, err := s.log.StopPosition(id)
		if err != nil {
			return fmt.Errorf("archive: stop position for recording %d: %w", id, err)
		}

		asm := &fragmentAssembler{}
		if _, err := s.replayInto(id, 0, stop, asm, consumer); err != nil {
			return fmt.Errorf("archive: scan recording %d: %w", id, err)
		}
	}

	return nil
}

// followRecording tails recordingID open-ended, polling for new durable
// bytes with a backoff idle strategy between checks (spec.md §5 "the
// archiver are each single-threaded duty cycles").
func (s *Scanner) followRecording(ctx context.Context, recordingID int64, consumer FixMessageConsumer) error {
	var cursor int64

	asm := &fragmentAssembler{}
	idle := agent.NewBackoffIdleStrategy(time.Millisecond, 250*time.Millisecond)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		stop, err := s.log.StopPosition(recordingID)
		if err != nil {
			return fmt.Errorf("archive: stop position for recording %d: %w", recordingID, err)
		}

		if stop <= cursor {
			idle.Idle(ctx)

			continue
		}

		n, err := s.replayInto(recordingID, cursor, stop, asm, consumer)
		if err != nil {
			return fmt.Errorf("archive: follow recording %d: %w", recordingID, err)
		}

		cursor = stop

		if n > 0 {
			idle.Reset()
		}
	}
}

// replayInto drains [begin, end) of recordingID through asm and
// consumer, returning the number of complete messages delivered.
func (s *Scanner) replayInto(recordingID, begin, end int64, asm *fragmentAssembler, consumer FixMessageConsumer) (int, error) {
	if end <= begin {
		return 0, nil
	}

	replay, err := s.log.StartReplay(recordingID, begin, end-begin)
	if err != nil {
		return 0, err
	}

	defer replay.Close()

	for !replay.IsAttached() {
		time.Sleep(time.Millisecond)
	}

	var (
		firstErr error
		count    int
	)

	for {
		n := replay.Poll(func(frag ordlog.Fragment) {
			if firstErr != nil || frag.Status != ordlog.StatusOK {
				return
			}

			msg, complete, err := asm.add(frag)
			if err != nil {
				firstErr = err

				return
			}

			if !complete {
				return
			}

			count++
			consumer(Message{
				RecordingID:   recordingID,
				Position:      frag.Position,
				SessionID:     frag.SessionID,
				SequenceIndex: frag.SequenceIndex,
				Data:          msg,
			})
		}, scanFragmentLimit)

		if firstErr != nil {
			return count, firstErr
		}

		if n == 0 {
			return count, nil
		}
	}
}

// fragmentAssembler reassembles a BEGIN/MID/END fragment sequence into
// one complete message, the archive-side counterpart of
// internal/replayindex.Manager's per-session continued-tuple cache; kept
// as a value owned by the caller (one per recording) rather than global
// state, for the same reason spec.md §9 gives for that cache.
type fragmentAssembler struct {
	buf        []byte
	assembling bool
}

func (a *fragmentAssembler) add(frag ordlog.Fragment) ([]byte, bool, error) {
	switch frag.Flags {
	case ordlog.FlagUnfragmented:
		return frag.Data, true, nil

	case ordlog.FlagBegin:
		a.buf = append([]byte(nil), frag.Data...)
		a.assembling = true

		return nil, false, nil

	case ordlog.FlagMid:
		if !a.assembling {
			return nil, false, errors.New("archive: MID fragment with no preceding BEGIN")
		}

		a.buf = append(a.buf, frag.Data...)

		return nil, false, nil

	case ordlog.FlagEnd:
		if !a.assembling {
			return nil, false, errors.New("archive: END fragment with no preceding BEGIN")
		}

		a.buf = append(a.buf, frag.Data...)
		a.assembling = false

		out := a.buf
		a.buf = nil

		return out, true, nil

	default:
		return nil, false, fmt.Errorf("archive: unknown fragment flag %d", frag.Flags)
	}
}

// DutyCycleScanner adapts a Scanner into an agent.DutyCycle: each
// do_work call incrementally archives whatever has become newly durable
// since the previous call, rather than blocking, so it can run
// side-by-side with the indexer and replayer under one errgroup
// (spec.md §5's single-threaded duty-cycle model).
type DutyCycleScanner struct {
	scanner    *Scanner
	consumer   FixMessageConsumer
	cursor     map[int64]int64
	assemblers map[int64]*fragmentAssembler
	drained    map[int64]bool
}

// NewDutyCycleScanner returns a DutyCycleScanner over scanner, delivering
// every reassembled message to consumer.
func NewDutyCycleScanner(scanner *Scanner, consumer FixMessageConsumer) *DutyCycleScanner {
	return &DutyCycleScanner{
		scanner:    scanner,
		consumer:   consumer,
		cursor:     make(map[int64]int64),
		assemblers: make(map[int64]*fragmentAssembler),
		drained:    make(map[int64]bool),
	}
}

// DoWork drains every not-yet-fully-drained recording up to its current
// stop position, returning the number of messages delivered.
func (d *DutyCycleScanner) DoWork(ctx context.Context) (int, error) {
	work := 0

	for _, id := range d.scanner.orderedRecordings() {
		if d.drained[id] {
			continue
		}

		stop, err := d.scanner.log.StopPosition(id)
		if err != nil {
			return work, fmt.Errorf("archive: stop position for recording %d: %w", id, err)
		}

		begin := d.cursor[id]

		if stop > begin {
			asm := d.assemblers[id]
			if asm == nil {
				asm = &fragmentAssembler{}
				d.assemblers[id] = asm
			}

			n, err := d.scanner.replayInto(id, begin, stop, asm, d.consumer)
			work += n

			if err != nil {
				return work, fmt.Errorf("archive: drain recording %d: %w", id, err)
			}

			d.cursor[id] = stop
		}

		if !d.scanner.log.IsActive(id) && d.cursor[id] >= stop {
			d.drained[id] = true
		}
	}

	return work, nil
}

// Close is a no-op: DutyCycleScanner holds no resources between calls.
func (d *DutyCycleScanner) Close() error { return nil }
