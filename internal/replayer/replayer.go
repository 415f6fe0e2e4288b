// Package replayer implements the Replayer agent (spec.md §4.4): it
// answers ResendRequest messages by looking up the requested sequence
// range in the replay index, reading the original bytes back from the
// log, rewriting each for replay (PossDupFlag/OrigSendingTime/
// BodyLength/CheckSum), and republishing in request order.
package replayer

import (
	"errors"
	"fmt"
	"time"

	"github.com/quantrail/fixcore/internal/fixproto"
	"github.com/quantrail/fixcore/internal/ordlog"
	"github.com/quantrail/fixcore/internal/replayindex"
)

// Lookup is the subset of replayindex.Manager the Replayer needs: find
// every ring record for a session/stream's sequence-number range.
type Lookup interface {
	LookupRange(sessionID, streamID, beginSeq, endSeq int32) ([]replayindex.Record, error)
}

// retryBackoff is the pause between TryClaim attempts while a
// publication is back-pressured (spec.md §4.4 "On publication
// backpressure... back off and retry").
const retryBackoff = time.Millisecond

// Replayer answers ResendRequest messages for one outbound stream. It
// holds that stream's publication exclusively for its lifetime, since
// spec.md §5 names the outbound publication as "single writer (replayer)
// per stream; the log transport enforces exclusivity."
type Replayer struct {
	log      ordlog.Log
	lookup   Lookup
	streamID int32
	pub      ordlog.Publication
}

// New returns a Replayer that republishes onto streamID, claiming that
// stream's single publication for the Replayer's lifetime.
func New(log ordlog.Log, lookup Lookup, streamID int32) (*Replayer, error) {
	pub, err := log.Publication(streamID)
	if err != nil {
		return nil, fmt.Errorf("replayer: open publication: %w", err)
	}

	return &Replayer{log: log, lookup: lookup, streamID: streamID, pub: pub}, nil
}

// Close releases the Replayer's publication.
func (r *Replayer) Close() error {
	return r.pub.Close()
}

// RecordingID returns the durable recording id the Replayer's output
// publication is appending to.
func (r *Replayer) RecordingID() int64 {
	return r.pub.RecordingID()
}

// Replay answers one ResendRequest: it decodes the requested range,
// finds every indexed message in range for sessionID, reads each one's
// original bytes from the log, rewrites it, and republishes it in
// ascending (sequence_index, sequence_number) order (spec.md §4.4,
// §5 "Replay output preserves request-order").
func (r *Replayer) Replay(sessionID int32, resendRequest []byte) (int, error) {
	rng, err := fixproto.DecodeResendRequest(resendRequest)
	if err != nil {
		return 0, fmt.Errorf("replayer: decode ResendRequest: %w", err)
	}

	endSeq := rng.EndSeqNo
	if rng.ThroughInfinity() {
		// spec.md §9 "EndSeqNo == 0... Implementers should treat end ==
		// 0 explicitly as through latest to be correct."
		endSeq = 1<<31 - 1
	} else if endSeq < rng.BeginSeqNo {
		return 0, nil // spec.md §4.4 step 1: end < begin, do nothing
	}

	records, err := r.lookup.LookupRange(sessionID, r.streamID, rng.BeginSeqNo, endSeq)
	if err != nil {
		return 0, fmt.Errorf("replayer: lookup range: %w", err)
	}

	replayed := 0

	for _, rec := range records {
		raw, err := r.readOriginal(rec)
		if err != nil {
			return replayed, fmt.Errorf("replayer: read original at position %d: %w", rec.Position, err)
		}

		rewritten, err := fixproto.Rewrite(raw)
		if err != nil {
			return replayed, fmt.Errorf("replayer: rewrite seq %d: %w", rec.SequenceNumber, err)
		}

		if err := r.publish(sessionID, rec.SequenceIndex, rewritten); err != nil {
			return replayed, fmt.Errorf("replayer: publish seq %d: %w", rec.SequenceNumber, err)
		}

		replayed++
	}

	return replayed, nil
}

// readOriginal fetches the raw bytes of the message rec points to by
// opening a length-bounded replay of its recording.
func (r *Replayer) readOriginal(rec replayindex.Record) ([]byte, error) {
	replay, err := r.log.StartReplay(rec.RecordingID, rec.Position, int64(rec.Length))
	if err != nil {
		return nil, err
	}

	defer replay.Close()

	for !replay.IsAttached() {
		time.Sleep(time.Millisecond)
	}

	var (
		data    []byte
		got     bool
		readErr error
	)

	for !got {
		n := replay.Poll(func(frag ordlog.Fragment) {
			if got {
				return
			}

			data = append(append([]byte(nil), data...), frag.Data...)

			if frag.Flags == ordlog.FlagUnfragmented || frag.Flags == ordlog.FlagEnd {
				got = true
			}
		}, 8)

		if n == 0 && !got {
			readErr = errors.New("replayer: indexed record not found in recording")

			break
		}
	}

	if readErr != nil {
		return nil, readErr
	}

	return data, nil
}

// publish claims, writes and commits rewritten onto pub, busy-retrying
// on back-pressure per spec.md §4.4 step 6. The claim is never committed
// partially written: Buffer is fully populated before Commit is called.
func (r *Replayer) publish(sessionID, sequenceIndex int32, rewritten []byte) error {
	for {
		claim, err := r.pub.TryClaim(len(rewritten), ordlog.FlagUnfragmented, ordlog.StatusReplayed, sessionID, sequenceIndex)
		if errors.Is(err, ordlog.ErrBackPressured) {
			time.Sleep(retryBackoff)

			continue
		}

		if err != nil {
			return err
		}

		copy(claim.Buffer(), rewritten)

		if _, err := claim.Commit(); err != nil {
			return err
		}

		return nil
	}
}
