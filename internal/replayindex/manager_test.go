package replayindex_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantrail/fixcore/internal/ordlog"
	"github.com/quantrail/fixcore/internal/replayindex"
)

func fixMessage(t *testing.T, seqNum int) []byte {
	t.Helper()

	msg, _ := fixMessageWithHeaderEnd(t, seqNum)

	return msg
}

// fixMessageWithHeaderEnd additionally returns the byte offset right
// after the MsgSeqNum (tag 34) field's terminating SOH, a valid split
// point for a BEGIN fragment that must independently parse with Scan.
func fixMessageWithHeaderEnd(t *testing.T, seqNum int) ([]byte, int) {
	t.Helper()

	prefix := []byte("8=FIX.4.4\x01")
	msgType := []byte("35=D\x01")
	seq := []byte("34=" + itoaTest(seqNum) + "\x01")
	rest := []byte("49=S\x0156=T\x01")

	body := append(append(append([]byte{}, msgType...), seq...), rest...)
	bodyLen := len(body)

	msg := append([]byte("9="+itoaTest(bodyLen)+"\x01"), body...)
	msg = append(prefix, msg...)
	msg = append(msg, []byte("10=000\x01")...)

	headerEnd := len(prefix) + len("9="+itoaTest(bodyLen)+"\x01") + len(msgType) + len(seq)

	return msg, headerEnd
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}

	neg := n < 0
	if neg {
		n = -n
	}

	var buf [20]byte

	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	if neg {
		i--
		buf[i] = '-'
	}

	return string(buf[i:])
}

func TestManagerIndexesUnfragmentedMessage(t *testing.T) {
	t.Parallel()

	mgr := replayindex.NewManager(t.TempDir(), 16*32, 4, nil)
	defer mgr.Close()

	msg := fixMessage(t, 7)

	frag := ordlog.Fragment{
		RecordingID:   1,
		Position:      int64(len(msg)),
		Length:        int32(len(msg)),
		Flags:         ordlog.FlagUnfragmented,
		Status:        ordlog.StatusOK,
		SessionID:     1,
		SequenceIndex: 0,
		Data:          msg,
	}

	if err := mgr.OnFragment(2, frag); err != nil {
		t.Fatalf("OnFragment() error: %v", err)
	}

	got, ok, err := mgr.Lookup(1, 2, 7, 0)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}

	if !ok {
		t.Fatal("Lookup() did not find the indexed message")
	}

	if got.Position != 0 || got.Length != int32(len(msg)) {
		t.Errorf("Record = %+v, want Position=0 Length=%d", got, len(msg))
	}
}

func TestManagerAssemblesFragmentedMessage(t *testing.T) {
	t.Parallel()

	mgr := replayindex.NewManager(t.TempDir(), 16*32, 4, nil)
	defer mgr.Close()

	msg, headerEnd := fixMessageWithHeaderEnd(t, 9)

	beginData := msg[:headerEnd]
	endData := msg[headerEnd:]

	var pos int64

	pos += int64(len(beginData))

	beginFrag := ordlog.Fragment{
		RecordingID: 5,
		Position:    pos,
		Length:      int32(len(beginData)),
		Flags:       ordlog.FlagBegin,
		Status:      ordlog.StatusOK,
		SessionID:   3,
		Data:        beginData,
	}

	if err := mgr.OnFragment(2, beginFrag); err != nil {
		t.Fatalf("OnFragment(BEGIN) error: %v", err)
	}

	pos += int64(len(endData))

	endFrag := ordlog.Fragment{
		RecordingID: 5,
		Position:    pos,
		Length:      int32(len(endData)),
		Flags:       ordlog.FlagEnd,
		Status:      ordlog.StatusOK,
		SessionID:   3,
	}

	if err := mgr.OnFragment(2, endFrag); err != nil {
		t.Fatalf("OnFragment(END) error: %v", err)
	}

	got, ok, err := mgr.Lookup(3, 2, 9, 0)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}

	if !ok {
		t.Fatal("Lookup() did not find the assembled message")
	}

	if got.Position != 0 {
		t.Errorf("Record.Position = %d, want 0 (the BEGIN position)", got.Position)
	}

	if got.Length != int32(len(msg)) {
		t.Errorf("Record.Length = %d, want %d (full assembled message)", got.Length, len(msg))
	}
}

func TestManagerSkipsNonOKFragments(t *testing.T) {
	t.Parallel()

	mgr := replayindex.NewManager(t.TempDir(), 16*32, 4, nil)
	defer mgr.Close()

	msg := fixMessage(t, 11)

	frag := ordlog.Fragment{
		RecordingID: 1,
		Position:    int64(len(msg)),
		Length:      int32(len(msg)),
		Flags:       ordlog.FlagUnfragmented,
		Status:      ordlog.StatusError,
		SessionID:   1,
		Data:        msg,
	}

	if err := mgr.OnFragment(2, frag); err != nil {
		t.Fatalf("OnFragment() error: %v", err)
	}

	if _, ok, _ := mgr.Lookup(1, 2, 11, 0); ok {
		t.Error("Lookup() found a message whose fragment status was not OK")
	}
}

func TestManagerIndexedPositionsForCatchUp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mgr := replayindex.NewManager(dir, 16*32, 4, nil)

	msg := fixMessage(t, 1)

	frag := ordlog.Fragment{
		RecordingID: 42,
		Position:    int64(len(msg)),
		Length:      int32(len(msg)),
		Flags:       ordlog.FlagUnfragmented,
		Status:      ordlog.StatusOK,
		SessionID:   6,
		Data:        msg,
	}

	if err := mgr.OnFragment(2, frag); err != nil {
		t.Fatalf("OnFragment() error: %v", err)
	}

	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened := replayindex.NewManager(dir, 16*32, 4, nil)
	defer reopened.Close()

	if err := reopened.OpenPosition(2); err != nil {
		t.Fatalf("OpenPosition() error: %v", err)
	}

	positions, err := reopened.IndexedPositions()
	if err != nil {
		t.Fatalf("IndexedPositions() error: %v", err)
	}

	if len(positions) != 1 {
		t.Fatalf("IndexedPositions() returned %d entries, want 1", len(positions))
	}

	if positions[0].SessionID != 6 || positions[0].RecordingID != 42 || positions[0].Position != int64(len(msg)) {
		t.Errorf("IndexedPositions()[0] = %+v, want SessionID=6 RecordingID=42 Position=%d", positions[0], len(msg))
	}
}

func TestManagerRingFilesNamedPerSessionAndStream(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mgr := replayindex.NewManager(dir, 16*32, 4, nil)
	defer mgr.Close()

	msg := fixMessage(t, 1)

	frag := ordlog.Fragment{
		RecordingID: 1,
		Position:    int64(len(msg)),
		Length:      int32(len(msg)),
		Flags:       ordlog.FlagUnfragmented,
		Status:      ordlog.StatusOK,
		SessionID:   4,
		Data:        msg,
	}

	if err := mgr.OnFragment(9, frag); err != nil {
		t.Fatalf("OnFragment() error: %v", err)
	}

	wantPath := filepath.Join(dir, "replay-index-4-9")
	if _, err := os.Stat(wantPath); err != nil {
		t.Errorf("expected ring file at %s: %v", wantPath, err)
	}
}
