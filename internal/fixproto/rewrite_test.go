package fixproto_test

import (
	"strings"
	"testing"

	"github.com/quantrail/fixcore/internal/fixproto"
)

func TestRewriteInjectsPossDupAndOrigSendingTime(t *testing.T) {
	t.Parallel()

	raw := buildMessage(t, [][2]string{
		{"35", "D"},
		{"49", "SENDER"},
		{"56", "TARGET"},
		{"34", "7"},
		{"52", "20260801-00:00:00.000"},
	})

	out, err := fixproto.Rewrite(raw)
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}

	fields, err := fixproto.Scan(out)
	if err != nil {
		t.Fatalf("Scan(rewritten) error: %v", err)
	}

	pd, ok := fixproto.Find(fields, fixproto.TagPossDupFlag)
	if !ok || string(pd.Value(out)) != "Y" {
		t.Errorf("PossDupFlag = %v present=%v, want Y", pd, ok)
	}

	orig, ok := fixproto.Find(fields, fixproto.TagOrigSendingTime)
	if !ok || string(orig.Value(out)) != "20260801-00:00:00.000" {
		t.Errorf("OrigSendingTime = %v present=%v, want original SendingTime", orig, ok)
	}

	verifyBodyLengthAndChecksum(t, out)

	// PossDup must come before SendingTime per FIX header convention.
	pdField, _ := fixproto.Find(fields, fixproto.TagPossDupFlag)
	stField, _ := fixproto.Find(fields, fixproto.TagSendingTime)

	if pdField.ValueStart > stField.ValueStart {
		t.Error("PossDupFlag was not placed before SendingTime")
	}
}

func TestRewriteFlipsExistingPossDup(t *testing.T) {
	t.Parallel()

	raw := buildMessage(t, [][2]string{
		{"35", "D"},
		{"34", "7"},
		{"43", "N"},
		{"52", "20260801-00:00:00.000"},
	})

	out, err := fixproto.Rewrite(raw)
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}

	fields, err := fixproto.Scan(out)
	if err != nil {
		t.Fatalf("Scan(rewritten) error: %v", err)
	}

	pd, ok := fixproto.Find(fields, fixproto.TagPossDupFlag)
	if !ok || string(pd.Value(out)) != "Y" {
		t.Errorf("PossDupFlag = %v present=%v, want Y", pd, ok)
	}

	if _, ok := fixproto.Find(fields, fixproto.TagOrigSendingTime); ok {
		t.Error("OrigSendingTime must not be injected when PossDup already present")
	}

	verifyBodyLengthAndChecksum(t, out)
}

func TestRewriteIsNoOpWhenAlreadyY(t *testing.T) {
	t.Parallel()

	raw := buildMessage(t, [][2]string{
		{"35", "D"},
		{"43", "Y"},
		{"52", "20260801-00:00:00.000"},
	})

	out, err := fixproto.Rewrite(raw)
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}

	if string(out) != string(raw) {
		t.Errorf("Rewrite() of already-Y message changed bytes:\n  in:  %q\n  out: %q", raw, out)
	}
}

func TestRewritePreservesOriginalFieldValues(t *testing.T) {
	t.Parallel()

	raw := buildMessage(t, [][2]string{
		{"35", "D"},
		{"49", "SENDER"},
		{"56", "TARGET"},
		{"34", "9"},
		{"52", "20260801-00:00:00.000"},
	})

	out, err := fixproto.Rewrite(raw)
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}

	origFields, _ := fixproto.Scan(raw)
	newFields, err := fixproto.Scan(out)
	if err != nil {
		t.Fatalf("Scan(rewritten) error: %v", err)
	}

	newByTag := map[int]string{}
	for _, f := range newFields {
		newByTag[f.Tag] = string(f.Value(out))
	}

	for _, f := range origFields {
		switch f.Tag {
		case fixproto.TagBodyLength, fixproto.TagCheckSum:
			continue // expected to change
		}

		if got := newByTag[f.Tag]; got != string(f.Value(raw)) {
			t.Errorf("tag %d changed: got %q, want %q", f.Tag, got, f.Value(raw))
		}
	}
}

func verifyBodyLengthAndChecksum(t *testing.T, out []byte) {
	t.Helper()

	fields, err := fixproto.Scan(out)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	bl, ok := fixproto.Find(fields, fixproto.TagBodyLength)
	if !ok {
		t.Fatal("BodyLength field missing")
	}

	bodyLenField, _ := fixproto.Find(fields, fixproto.TagBodyLength)
	bodyStart := bodyLenField.ValueEnd + 1 // skip SOH after BodyLength value

	cs, ok := fixproto.Find(fields, fixproto.TagCheckSum)
	if !ok {
		t.Fatal("CheckSum field missing")
	}

	csTagStart := cs.ValueStart - len("10=")

	wantLen := strOf(bl.Value(out))
	gotLen := itoa(csTagStart - bodyStart)

	if wantLen != gotLen {
		t.Errorf("BodyLength = %s, want %s", wantLen, gotLen)
	}

	wantChecksum := fixproto.CheckSum(out[:csTagStart])
	if strOf(cs.Value(out)) != wantChecksum {
		t.Errorf("CheckSum = %s, want %s", strOf(cs.Value(out)), wantChecksum)
	}
}

func strOf(b []byte) string {
	return strings.TrimSpace(string(b))
}
