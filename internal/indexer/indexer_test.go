package indexer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/quantrail/fixcore/internal/agent"
	"github.com/quantrail/fixcore/internal/indexer"
	"github.com/quantrail/fixcore/internal/ordlog"
)

// fakeIndex is a minimal in-memory Index used to observe exactly what
// fragments the Indexer fans out, independent of replayindex.Manager's
// own assembly logic.
type fakeIndex struct {
	mu        sync.Mutex
	fragments []ordlog.Fragment
	positions []indexer.Position
}

func (f *fakeIndex) OnFragment(streamID int32, frag ordlog.Fragment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fragments = append(f.fragments, frag)

	return nil
}

func (f *fakeIndex) IndexedPositions() ([]indexer.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]indexer.Position(nil), f.positions...), nil
}

func (f *fakeIndex) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.fragments)
}

func publish(t *testing.T, pub ordlog.Publication, n int) []int64 {
	t.Helper()

	positions := make([]int64, 0, n)

	for i := 0; i < n; i++ {
		claim, err := pub.TryClaim(4, ordlog.FlagUnfragmented, ordlog.StatusOK, 1, 0)
		if err != nil {
			t.Fatalf("TryClaim() error: %v", err)
		}

		copy(claim.Buffer(), "msg1")

		pos, err := claim.Commit()
		if err != nil {
			t.Fatalf("Commit() error: %v", err)
		}

		positions = append(positions, pos)
	}

	return positions
}

func TestIndexerCrashConsistentCatchUp(t *testing.T) {
	t.Parallel()

	log := ordlog.NewMemLog()

	pub, err := log.Publication(1)
	if err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	const total = 100

	positions := publish(t, pub, total)

	recID := pub.RecordingID()

	const committed = 60

	idx := &fakeIndex{positions: []indexer.Position{{RecordingID: recID, Position: positions[committed-1]}}}

	ix, err := indexer.New(log, 1, []indexer.Index{idx}, agent.NewCompletionSignal())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer ix.Close()

	if got := idx.count(); got != total-committed {
		t.Fatalf("catch-up delivered %d fragments, want %d", got, total-committed)
	}

	// Live polling should find nothing new: the subscription was opened
	// after catch-up drained everything already published.
	n, err := ix.DoWork(context.Background())
	if err != nil {
		t.Fatalf("DoWork() error: %v", err)
	}

	if n != 0 {
		t.Errorf("DoWork() delivered %d fragments, want 0 (already caught up)", n)
	}
}

func TestIndexerLiveDoWorkFansOutToAllIndexes(t *testing.T) {
	t.Parallel()

	log := ordlog.NewMemLog()

	pub, err := log.Publication(1)
	if err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	idxA := &fakeIndex{}
	idxB := &fakeIndex{}

	ix, err := indexer.New(log, 1, []indexer.Index{idxA, idxB}, agent.NewCompletionSignal())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer ix.Close()

	publish(t, pub, 5)

	n, err := ix.DoWork(context.Background())
	if err != nil {
		t.Fatalf("DoWork() error: %v", err)
	}

	if n != 5 {
		t.Fatalf("DoWork() delivered %d, want 5", n)
	}

	if idxA.count() != 5 || idxB.count() != 5 {
		t.Errorf("idxA=%d idxB=%d, want both 5", idxA.count(), idxB.count())
	}
}

func TestIndexerQuiesceDropsPostTerminationFragments(t *testing.T) {
	t.Parallel()

	log := ordlog.NewMemLog()

	pub, err := log.Publication(1)
	if err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	idx := &fakeIndex{}

	completion := agent.NewCompletionSignal()

	ix, err := indexer.New(log, 1, []indexer.Index{idx}, completion)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer ix.Close()

	positions := publish(t, pub, 3)

	// Declare completion bounded at the 2nd message; the 3rd message lies
	// beyond that bound and must be dropped during quiesce.
	completion.Declare(map[int32]int64{1: positions[1]})

	publish(t, pub, 1) // a 4th fragment, entirely beyond the bound

	if err := ix.Quiesce(context.Background()); err != nil {
		t.Fatalf("Quiesce() error: %v", err)
	}

	if got := idx.count(); got != 2 {
		t.Errorf("Quiesce() delivered %d fragments, want 2 (bounded at declared completion)", got)
	}
}

func TestIndexerQuiesceReturnsImmediatelyIfAlreadyCompleted(t *testing.T) {
	t.Parallel()

	log := ordlog.NewMemLog()

	if _, err := log.Publication(1); err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	idx := &fakeIndex{}
	completion := agent.NewCompletionSignal()
	completion.Declare(map[int32]int64{1: 0})

	ix, err := indexer.New(log, 1, []indexer.Index{idx}, completion)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer ix.Close()

	if err := ix.Quiesce(context.Background()); err != nil {
		t.Fatalf("Quiesce() error: %v", err)
	}

	if idx.count() != 0 {
		t.Errorf("Quiesce() delivered %d fragments, want 0", idx.count())
	}
}
