// Package indexer implements the Indexer agent (spec.md §4.2): it polls
// one subscription on the sent-message stream and fans each fragment out
// to an ordered list of Index collaborators, the primary one being the
// replay index (internal/replayindex.Manager).
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/quantrail/fixcore/internal/agent"
	"github.com/quantrail/fixcore/internal/ordlog"
)

// catchUpAttachPoll is how often catchUpOne checks whether a replay
// image has attached (spec.md §5 "Indexer.catch_up idles while replay
// images attach").
const catchUpAttachPoll = time.Millisecond

// Index receives every fragment the Indexer polls and maintains whatever
// durable structure it is responsible for. internal/replayindex.Manager
// is the primary implementation; others may piggyback (spec.md §4.2
// "the replay index is the primary; others may piggyback").
type Index interface {
	// OnFragment is called for every polled fragment, including ones
	// that are not FIX messages or not indexable; the Index is
	// responsible for ignoring what it does not understand (spec.md
	// §4.2 "fragments that are not FIX messages are ignored inside the
	// index").
	OnFragment(streamID int32, frag ordlog.Fragment) error

	// IndexedPositions reports the highest durably-indexed log position
	// per recording id this Index has recorded, used for catch-up.
	IndexedPositions() ([]Position, error)
}

// Position names a recording and the log position up to which it has
// been durably indexed.
type Position struct {
	RecordingID int64
	Position    int64
}

// Indexer is the spec.md §4.2 agent: catch-up at construction, then a
// live do_work loop, then a quiesce drain bounded by a completion
// signal.
type Indexer struct {
	log        ordlog.Log
	streamID   int32
	indexes    []Index
	sub        ordlog.Subscription
	completion *agent.CompletionSignal

	completedAtStart bool
	fragmentLimit    int
}

// New constructs an Indexer over streamID, performs the startup
// catch-up for every index (spec.md §4.2 "Catch-up"), and opens the
// live subscription.
func New(log ordlog.Log, streamID int32, indexes []Index, completion *agent.CompletionSignal) (*Indexer, error) {
	ix := &Indexer{
		log:           log,
		streamID:      streamID,
		indexes:       indexes,
		completion:    completion,
		fragmentLimit: 64,
	}

	ix.completedAtStart = completion.HasCompleted()

	if err := ix.catchUp(); err != nil {
		return nil, fmt.Errorf("indexer: catch-up: %w", err)
	}

	sub, err := log.Subscribe(streamID)
	if err != nil {
		return nil, fmt.Errorf("indexer: subscribe: %w", err)
	}

	ix.sub = sub

	return ix, nil
}

// catchUp makes every index crash-consistent with the log without
// rebuilding from zero: for each index's recorded position behind the
// log's current stop position, open a bounded replay and drain it
// before live polling begins (spec.md §4.2 "Catch-up").
func (ix *Indexer) catchUp() error {
	for _, index := range ix.indexes {
		positions, err := index.IndexedPositions()
		if err != nil {
			return fmt.Errorf("read indexed positions: %w", err)
		}

		for _, p := range positions {
			if err := ix.catchUpOne(index, p); err != nil {
				return err
			}
		}
	}

	return nil
}

func (ix *Indexer) catchUpOne(index Index, p Position) error {
	stop, err := ix.log.StopPosition(p.RecordingID)
	if err != nil {
		return fmt.Errorf("stop position for recording %d: %w", p.RecordingID, err)
	}

	if stop <= p.Position {
		return nil // already caught up
	}

	replay, err := ix.log.StartReplay(p.RecordingID, p.Position, stop-p.Position)
	if err != nil {
		return fmt.Errorf("start replay of recording %d: %w", p.RecordingID, err)
	}

	defer replay.Close()

	for !replay.IsAttached() {
		time.Sleep(catchUpAttachPoll)
	}

	var applyErr error

	for {
		n := replay.Poll(func(frag ordlog.Fragment) {
			if applyErr != nil {
				return
			}

			applyErr = index.OnFragment(ix.streamID, frag)
		}, ix.fragmentLimit)

		if applyErr != nil {
			return fmt.Errorf("apply catch-up fragment: %w", applyErr)
		}

		if n == 0 {
			return nil
		}
	}
}

// DoWork polls the live subscription once and fans each fragment out to
// every index, returning poll_work + Σ index.do_work as spec.md §4.2
// describes (this engine's indexes are synchronous on OnFragment, so
// the index term of that sum is always 0).
func (ix *Indexer) DoWork(ctx context.Context) (int, error) {
	var firstErr error

	n := ix.sub.Poll(func(frag ordlog.Fragment) {
		for _, index := range ix.indexes {
			if err := index.OnFragment(ix.streamID, frag); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("index fragment: %w", err)
			}
		}
	}, ix.fragmentLimit)

	return n, firstErr
}

// Quiesce implements spec.md §4.2's shutdown: wait for the completion
// signal, then drain the subscription one final time bounded by each
// stream's recorded completed position. Fragments beyond that position
// are post-termination and dropped. If completion had already been
// declared when New ran, Quiesce returns at once without draining.
func (ix *Indexer) Quiesce(ctx context.Context) error {
	if ix.completedAtStart {
		return nil
	}

	for !ix.completion.HasCompleted() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := ix.DoWork(ctx); err != nil {
			return err
		}
	}

	bound, ok := ix.completion.CompletedPosition(ix.streamID)
	if !ok {
		return nil // no bound recorded for this stream, nothing to drain
	}

	var firstErr error

	for {
		n := ix.sub.Poll(func(frag ordlog.Fragment) {
			if frag.Position > bound {
				return // post-termination, drop
			}

			for _, index := range ix.indexes {
				if err := index.OnFragment(ix.streamID, frag); err != nil && firstErr == nil {
					firstErr = fmt.Errorf("index fragment during quiesce: %w", err)
				}
			}
		}, ix.fragmentLimit)

		if firstErr != nil {
			return firstErr
		}

		if n == 0 {
			return nil
		}
	}
}

// Close closes the live subscription.
func (ix *Indexer) Close() error {
	return ix.sub.Close()
}
