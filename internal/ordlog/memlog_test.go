package ordlog_test

import (
	"testing"

	"github.com/quantrail/fixcore/internal/ordlog"
)

func publishString(t *testing.T, pub ordlog.Publication, s string) ordlog.Fragment {
	t.Helper()

	claim, err := pub.TryClaim(len(s), ordlog.FlagUnfragmented, ordlog.StatusOK, 7, 0)
	if err != nil {
		t.Fatalf("TryClaim() error: %v", err)
	}

	copy(claim.Buffer(), s)

	pos, err := claim.Commit()
	if err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	return ordlog.Fragment{Position: pos, Data: []byte(s)}
}

func TestPublishAndPoll(t *testing.T) {
	t.Parallel()

	log := ordlog.NewMemLog()

	pub, err := log.Publication(1)
	if err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	publishString(t, pub, "hello")
	publishString(t, pub, "world")

	sub, err := log.Subscribe(1)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	var got []string

	n := sub.Poll(func(f ordlog.Fragment) {
		got = append(got, string(f.Data))
	}, 10)

	if n != 2 {
		t.Fatalf("Poll() delivered %d, want 2", n)
	}

	if got[0] != "hello" || got[1] != "world" {
		t.Errorf("got %v, want [hello world]", got)
	}

	if n := sub.Poll(func(ordlog.Fragment) {}, 10); n != 0 {
		t.Errorf("second Poll() delivered %d, want 0", n)
	}
}

func TestReplayBoundedRange(t *testing.T) {
	t.Parallel()

	log := ordlog.NewMemLog()

	pub, err := log.Publication(1)
	if err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	var positions []int64
	for _, s := range []string{"a", "bb", "ccc", "dddd"} {
		f := publishString(t, pub, s)
		positions = append(positions, f.Position)
	}

	recID := pub.RecordingID()

	// Replay just the middle two fragments ("bb", "ccc").
	begin := positions[0]
	length := positions[2] - positions[0]

	replay, err := log.StartReplay(recID, begin, length)
	if err != nil {
		t.Fatalf("StartReplay() error: %v", err)
	}

	if !replay.IsAttached() {
		t.Fatal("replay not attached")
	}

	var got []string

	replay.Poll(func(f ordlog.Fragment) {
		got = append(got, string(f.Data))
	}, 10)

	if len(got) != 2 || got[0] != "bb" || got[1] != "ccc" {
		t.Errorf("got %v, want [bb ccc]", got)
	}
}

func TestCrashConsistentCatchUp(t *testing.T) {
	t.Parallel()

	log := ordlog.NewMemLog()

	pub, err := log.Publication(1)
	if err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	const total = 100

	var positions []int64
	for i := 0; i < total; i++ {
		f := publishString(t, pub, "m")
		positions = append(positions, f.Position)
	}

	recID := pub.RecordingID()

	// Simulate an indexer that only committed the first 60 messages
	// before crashing: it resumes by replaying from positions[59] up to
	// the log's current stop position, then switches to live polling.
	const committed = 60

	stop, err := log.StopPosition(recID)
	if err != nil {
		t.Fatalf("StopPosition() error: %v", err)
	}

	if stop != positions[total-1] {
		t.Fatalf("StopPosition() = %d, want %d", stop, positions[total-1])
	}

	begin := positions[committed-1]

	replay, err := log.StartReplay(recID, begin, stop-begin)
	if err != nil {
		t.Fatalf("StartReplay() error: %v", err)
	}

	delivered := replay.Poll(func(ordlog.Fragment) {}, total)
	if delivered != total-committed {
		t.Errorf("catch-up delivered %d fragments, want %d", delivered, total-committed)
	}
}

func TestRotateRecordingForArchiveEnumeration(t *testing.T) {
	t.Parallel()

	log := ordlog.NewMemLog()

	pub, err := log.Publication(1)
	if err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	publishString(t, pub, "first")

	firstRecID := pub.RecordingID()

	if err := pub.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	log.RotateRecording(1)

	pub2, err := log.Publication(1)
	if err != nil {
		t.Fatalf("second Publication() error: %v", err)
	}

	publishString(t, pub2, "second")

	ids := log.Recordings(1)
	if len(ids) != 2 || ids[0] != firstRecID || ids[1] != pub2.RecordingID() {
		t.Errorf("Recordings(1) = %v, want [%d %d]", ids, firstRecID, pub2.RecordingID())
	}

	if log.IsActive(firstRecID) {
		t.Error("first recording should no longer be active")
	}

	if !log.IsActive(pub2.RecordingID()) {
		t.Error("second recording should be active")
	}
}
