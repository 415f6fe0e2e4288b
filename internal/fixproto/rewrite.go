package fixproto

import (
	"errors"
	"fmt"
)

// ErrNotFixMessage indicates the buffer does not look like a FIX message
// (missing BeginString/BodyLength/CheckSum).
var ErrNotFixMessage = errors.New("fixproto: not a FIX message")

// possDupValue is always "Y" -- the replayer never clears PossDupFlag.
var possDupValue = []byte("Y")

// Rewrite returns a copy of raw with PossDupFlag (tag 43) set to "Y",
// OrigSendingTime (tag 122) set to the message's original SendingTime
// when PossDupFlag is being injected for the first time, and BodyLength
// (tag 9) and CheckSum (tag 10) recomputed to match (spec.md §4.4, with
// the §9 "BodyLength/CheckSum recomputation" open question resolved in
// favor of always recomputing).
//
// If PossDupFlag is already present and already "Y", the message is
// returned unchanged (replaying an already-replayed message is a no-op
// rewrite).
func Rewrite(raw []byte) ([]byte, error) {
	fields, err := Scan(raw)
	if err != nil {
		return nil, err
	}

	beginString, ok := Find(fields, TagBeginString)
	if !ok {
		return nil, fmt.Errorf("%w: missing BeginString", ErrNotFixMessage)
	}

	if _, ok := Find(fields, TagBodyLength); !ok {
		return nil, fmt.Errorf("%w: missing BodyLength", ErrNotFixMessage)
	}

	if _, ok := Find(fields, TagCheckSum); !ok {
		return nil, fmt.Errorf("%w: missing CheckSum", ErrNotFixMessage)
	}

	sendingTime, ok := Find(fields, TagSendingTime)
	if !ok {
		return nil, fmt.Errorf("%w: missing SendingTime", ErrMissingTag)
	}

	possDup, hadPossDup := Find(fields, TagPossDupFlag)
	if hadPossDup && string(possDup.Value(raw)) == "Y" {
		out := make([]byte, len(raw))
		copy(out, raw)

		return out, nil
	}

	body := make([]byte, 0, len(raw)+16)

	injectedOrigSendingTime := false

	for _, f := range fields {
		switch f.Tag {
		case TagBeginString, TagBodyLength, TagCheckSum:
			continue
		case TagPossDupFlag:
			body = append(body, EncodeField(TagPossDupFlag, possDupValue)...)

			continue
		case TagSendingTime:
			if !hadPossDup {
				body = append(body, EncodeField(TagPossDupFlag, possDupValue)...)
			}

			body = append(body, EncodeField(f.Tag, f.Value(raw))...)

			if !hadPossDup && !injectedOrigSendingTime {
				body = append(body, EncodeField(TagOrigSendingTime, sendingTime.Value(raw))...)

				injectedOrigSendingTime = true
			}

			continue
		default:
			body = append(body, EncodeField(f.Tag, f.Value(raw))...)
		}
	}

	prefix := make([]byte, 0, len(body)+32)
	prefix = append(prefix, EncodeField(TagBeginString, beginString.Value(raw))...)
	prefix = append(prefix, EncodeField(TagBodyLength, []byte(fmt.Sprintf("%d", len(body))))...)
	prefix = append(prefix, body...)

	out := make([]byte, 0, len(prefix)+8)
	out = append(out, prefix...)
	out = append(out, EncodeField(TagCheckSum, []byte(CheckSum(prefix)))...)

	return out, nil
}
