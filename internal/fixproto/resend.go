package fixproto

import (
	"fmt"
	"strconv"
)

// ResendRange holds the decoded range of a ResendRequest (35=2) message.
type ResendRange struct {
	BeginSeqNo int32
	EndSeqNo   int32
}

// ThroughInfinity reports whether EndSeqNo requests "through the latest
// sequence number" (spec.md §9: EndSeqNo == 0 means "through infinity").
func (r ResendRange) ThroughInfinity() bool {
	return r.EndSeqNo == 0
}

// DecodeResendRequest extracts BeginSeqNo (tag 7) and EndSeqNo (tag 16)
// from a ResendRequest message.
func DecodeResendRequest(raw []byte) (ResendRange, error) {
	fields, err := Scan(raw)
	if err != nil {
		return ResendRange{}, err
	}

	beginField, ok := Find(fields, TagBeginSeqNo)
	if !ok {
		return ResendRange{}, fmt.Errorf("%w: tag %d", ErrMissingTag, TagBeginSeqNo)
	}

	endField, ok := Find(fields, TagEndSeqNo)
	if !ok {
		return ResendRange{}, fmt.Errorf("%w: tag %d", ErrMissingTag, TagEndSeqNo)
	}

	begin, err := strconv.ParseInt(string(beginField.Value(raw)), 10, 32)
	if err != nil {
		return ResendRange{}, fmt.Errorf("fixproto: parse BeginSeqNo: %w", err)
	}

	end, err := strconv.ParseInt(string(endField.Value(raw)), 10, 32)
	if err != nil {
		return ResendRange{}, fmt.Errorf("fixproto: parse EndSeqNo: %w", err)
	}

	return ResendRange{BeginSeqNo: int32(begin), EndSeqNo: int32(end)}, nil
}
