// Package fixproto implements the minimal slice of the FIX tag=value wire
// format this engine needs: locating and decoding the handful of header
// fields required to index and replay messages (spec.md §1 "Non-goals":
// no general FIX semantic validation beyond tags 43 and 52, plus the few
// fields needed for sequencing and ResendRequest decoding).
package fixproto

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// SOH is the FIX field delimiter (start-of-heading, 0x01).
const SOH = 0x01

// Standard header/trailer tag numbers this package understands.
const (
	TagBeginString     = 8
	TagBodyLength      = 9
	TagMsgType         = 35
	TagSenderCompID    = 49
	TagTargetCompID    = 56
	TagMsgSeqNum       = 34
	TagPossDupFlag     = 43
	TagSendingTime     = 52
	TagOrigSendingTime = 122
	TagBeginSeqNo      = 7
	TagEndSeqNo        = 16
	TagCheckSum        = 10
)

// MsgType values this package inspects.
const (
	MsgTypeLogon         = "A"
	MsgTypeResendRequest = "2"
	MsgTypeSequenceReset = "4"
)

// Errors returned while scanning or decoding a message.
var (
	// ErrMalformedField indicates a tag=value pair without a '=' separator
	// or without a trailing SOH.
	ErrMalformedField = errors.New("fixproto: malformed tag=value field")

	// ErrMissingTag indicates a required tag was not found in the message.
	ErrMissingTag = errors.New("fixproto: required tag missing")

	// ErrEmptyMessage indicates a zero-length message was scanned.
	ErrEmptyMessage = errors.New("fixproto: empty message")
)

// Field identifies one tag=value pair's byte range within a raw FIX
// message. ValueStart/ValueEnd delimit the value only (excluding the
// "tag=" prefix and the trailing SOH).
type Field struct {
	Tag        int
	ValueStart int
	ValueEnd   int
}

// Value returns the field's raw value bytes from the original message.
func (f Field) Value(raw []byte) []byte {
	return raw[f.ValueStart:f.ValueEnd]
}

// Scan walks a complete, SOH-delimited FIX message and returns its fields
// in wire order. It does not validate FIX semantics beyond well-formed
// tag=value<SOH> framing.
func Scan(raw []byte) ([]Field, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyMessage
	}

	var fields []Field

	pos := 0
	for pos < len(raw) {
		eq := bytes.IndexByte(raw[pos:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: at byte %d", ErrMalformedField, pos)
		}

		tagStart := pos
		tagEnd := pos + eq

		tag, err := strconv.Atoi(string(raw[tagStart:tagEnd]))
		if err != nil {
			return nil, fmt.Errorf("%w: tag %q: %w", ErrMalformedField, raw[tagStart:tagEnd], err)
		}

		valueStart := tagEnd + 1

		soh := bytes.IndexByte(raw[valueStart:], SOH)
		if soh < 0 {
			return nil, fmt.Errorf("%w: tag %d missing trailing SOH", ErrMalformedField, tag)
		}

		valueEnd := valueStart + soh

		fields = append(fields, Field{Tag: tag, ValueStart: valueStart, ValueEnd: valueEnd})

		pos = valueEnd + 1
	}

	return fields, nil
}

// Find returns the first field with the given tag, if present.
func Find(fields []Field, tag int) (Field, bool) {
	for _, f := range fields {
		if f.Tag == tag {
			return f, true
		}
	}

	return Field{}, false
}

// EncodeField renders a single tag=value<SOH> field.
func EncodeField(tag int, value []byte) []byte {
	out := make([]byte, 0, 8+len(value))
	out = strconv.AppendInt(out, int64(tag), 10)
	out = append(out, '=')
	out = append(out, value...)
	out = append(out, SOH)

	return out
}

// CheckSum computes the FIX CheckSum (tag 10) value: the sum of all bytes
// in data, modulo 256, formatted as a zero-padded 3-digit decimal string.
func CheckSum(data []byte) string {
	var sum byte

	for _, b := range data {
		sum += b
	}

	return fmt.Sprintf("%03d", sum)
}

// MsgSeqNum returns the decoded MsgSeqNum (tag 34) of a message.
func MsgSeqNum(raw []byte) (int32, error) {
	fields, err := Scan(raw)
	if err != nil {
		return 0, err
	}

	f, ok := Find(fields, TagMsgSeqNum)
	if !ok {
		return 0, fmt.Errorf("%w: tag %d", ErrMissingTag, TagMsgSeqNum)
	}

	n, err := strconv.ParseInt(string(f.Value(raw)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("fixproto: parse MsgSeqNum: %w", err)
	}

	return int32(n), nil
}

// MsgType returns the decoded MsgType (tag 35) of a message.
func MsgType(raw []byte) (string, error) {
	fields, err := Scan(raw)
	if err != nil {
		return "", err
	}

	f, ok := Find(fields, TagMsgType)
	if !ok {
		return "", fmt.Errorf("%w: tag %d", ErrMissingTag, TagMsgType)
	}

	return string(f.Value(raw)), nil
}
