package replayer_test

import (
	"context"
	"testing"

	"github.com/quantrail/fixcore/internal/ordlog"
	"github.com/quantrail/fixcore/internal/replayer"
	"github.com/quantrail/fixcore/internal/replayindex"
)

func TestResendWatcherServesResendRequestsFromInboundStream(t *testing.T) {
	t.Parallel()

	log := ordlog.NewMemLog()

	sentPub, err := log.Publication(6)
	if err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	msg := buildFixMessage(t, [][2]string{
		{"35", "D"},
		{"49", "SENDER"},
		{"56", "TARGET"},
		{"34", "1"},
		{"52", "20260801-00:00:00.000"},
	})

	claim, err := sentPub.TryClaim(len(msg), ordlog.FlagUnfragmented, ordlog.StatusOK, 2, 0)
	if err != nil {
		t.Fatalf("TryClaim() error: %v", err)
	}

	copy(claim.Buffer(), msg)

	if _, err := claim.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	recID := sentPub.RecordingID()

	if err := sentPub.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	log.RotateRecording(6)

	lookup := fakeLookup{records: []replayindex.Record{
		{Position: 0, RecordingID: recID, StreamID: 6, SequenceNumber: 1, SequenceIndex: 0, Length: int32(len(msg))},
	}}

	rp, err := replayer.New(log, lookup, 6)
	if err != nil {
		t.Fatalf("replayer.New() error: %v", err)
	}
	defer rp.Close()

	inboundPub, err := log.Publication(7)
	if err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	resend := buildResendRequest(t, 1, 1)

	claim, err = inboundPub.TryClaim(len(resend), ordlog.FlagUnfragmented, ordlog.StatusOK, 2, 0)
	if err != nil {
		t.Fatalf("TryClaim() error: %v", err)
	}

	copy(claim.Buffer(), resend)

	if _, err := claim.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	watcher, err := replayer.NewResendWatcher(log, 7, rp)
	if err != nil {
		t.Fatalf("NewResendWatcher() error: %v", err)
	}
	defer watcher.Close()

	served, err := watcher.DoWork(context.Background())
	if err != nil {
		t.Fatalf("DoWork() error: %v", err)
	}

	if served != 1 {
		t.Fatalf("DoWork() served %d resend requests, want 1", served)
	}

	stop, err := log.StopPosition(rp.RecordingID())
	if err != nil {
		t.Fatalf("StopPosition() error: %v", err)
	}

	replay, err := log.StartReplay(rp.RecordingID(), 0, stop)
	if err != nil {
		t.Fatalf("StartReplay() error: %v", err)
	}
	defer replay.Close()

	var replayed int

	replay.Poll(func(f ordlog.Fragment) {
		replayed++
	}, 10)

	if replayed != 1 {
		t.Fatalf("watcher-driven replay produced %d messages, want 1", replayed)
	}
}

func TestResendWatcherIgnoresNonResendFragments(t *testing.T) {
	t.Parallel()

	log := ordlog.NewMemLog()

	if _, err := log.Publication(8); err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	log.RotateRecording(8)

	rp, err := replayer.New(log, fakeLookup{}, 8)
	if err != nil {
		t.Fatalf("replayer.New() error: %v", err)
	}
	defer rp.Close()

	inboundPub, err := log.Publication(9)
	if err != nil {
		t.Fatalf("Publication() error: %v", err)
	}

	heartbeat := buildFixMessage(t, [][2]string{
		{"35", "0"},
		{"49", "SENDER"},
		{"56", "TARGET"},
		{"34", "1"},
	})

	claim, err := inboundPub.TryClaim(len(heartbeat), ordlog.FlagUnfragmented, ordlog.StatusOK, 1, 0)
	if err != nil {
		t.Fatalf("TryClaim() error: %v", err)
	}

	copy(claim.Buffer(), heartbeat)

	if _, err := claim.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	watcher, err := replayer.NewResendWatcher(log, 9, rp)
	if err != nil {
		t.Fatalf("NewResendWatcher() error: %v", err)
	}
	defer watcher.Close()

	served, err := watcher.DoWork(context.Background())
	if err != nil {
		t.Fatalf("DoWork() error: %v", err)
	}

	if served != 0 {
		t.Errorf("DoWork() served %d, want 0 for a non-ResendRequest fragment", served)
	}
}
