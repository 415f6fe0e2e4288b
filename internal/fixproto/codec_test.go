package fixproto_test

import (
	"errors"
	"testing"

	"github.com/quantrail/fixcore/internal/fixproto"
)

// buildMessage assembles a minimal FIX message from ordered tag/value
// pairs, computing BodyLength and CheckSum itself.
func buildMessage(t *testing.T, fields [][2]string) []byte {
	t.Helper()

	var body []byte
	for _, f := range fields {
		body = append(body, fixproto.EncodeField(atoi(t, f[0]), []byte(f[1]))...)
	}

	prefix := append(fixproto.EncodeField(fixproto.TagBeginString, []byte("FIX.4.4")),
		fixproto.EncodeField(fixproto.TagBodyLength, []byte(itoa(len(body))))...)
	prefix = append(prefix, body...)

	return append(prefix, fixproto.EncodeField(fixproto.TagCheckSum, []byte(fixproto.CheckSum(prefix)))...)
}

func atoi(t *testing.T, s string) int {
	t.Helper()

	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}

	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	var buf [20]byte

	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	return string(buf[i:])
}

func TestScanRoundTrip(t *testing.T) {
	t.Parallel()

	raw := buildMessage(t, [][2]string{
		{"35", "D"},
		{"49", "SENDER"},
		{"56", "TARGET"},
		{"34", "42"},
		{"52", "20260801-00:00:00.000"},
	})

	fields, err := fixproto.Scan(raw)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	seq, err := fixproto.MsgSeqNum(raw)
	if err != nil {
		t.Fatalf("MsgSeqNum() error: %v", err)
	}

	if seq != 42 {
		t.Errorf("MsgSeqNum() = %d, want 42", seq)
	}

	mt, err := fixproto.MsgType(raw)
	if err != nil {
		t.Fatalf("MsgType() error: %v", err)
	}

	if mt != "D" {
		t.Errorf("MsgType() = %q, want %q", mt, "D")
	}

	if _, ok := fixproto.Find(fields, fixproto.TagSendingTime); !ok {
		t.Error("SendingTime field not found by Find()")
	}
}

func TestScanRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		[]byte("not-a-field"),
		[]byte("35=D"), // missing trailing SOH
		[]byte(""),
	}

	for _, raw := range cases {
		if _, err := fixproto.Scan(raw); err == nil {
			t.Errorf("Scan(%q) succeeded, want error", raw)
		}
	}
}

func TestScanEmptyMessage(t *testing.T) {
	t.Parallel()

	_, err := fixproto.Scan(nil)
	if !errors.Is(err, fixproto.ErrEmptyMessage) {
		t.Errorf("Scan(nil) error = %v, want %v", err, fixproto.ErrEmptyMessage)
	}
}

func TestCheckSumWrapsModulo256(t *testing.T) {
	t.Parallel()

	data := make([]byte, 300)
	for i := range data {
		data[i] = 1
	}

	got := fixproto.CheckSum(data)
	if got != "044" { // 300 mod 256 = 44
		t.Errorf("CheckSum() = %q, want %q", got, "044")
	}
}
