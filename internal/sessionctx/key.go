package sessionctx

import "fmt"

// CompositeKey is the FIX composite identity of one session: the sender
// and target CompID/SubID/LocationID triples. Equality is exact byte
// equality per component (spec.md §3).
type CompositeKey struct {
	SenderCompID     string
	SenderSubID      string
	SenderLocationID string
	TargetCompID     string
	TargetSubID      string
	TargetLocationID string
}

// components returns the key's six fields in their fixed wire order.
func (k CompositeKey) components() [6]string {
	return [6]string{
		k.SenderCompID, k.SenderSubID, k.SenderLocationID,
		k.TargetCompID, k.TargetSubID, k.TargetLocationID,
	}
}

// Encode serializes the key as length-prefixed fields in a fixed order,
// suitable for storage and for use as an exact-equality map key.
func (k CompositeKey) Encode() ([]byte, error) {
	fields := k.components()

	size := 0
	for _, f := range fields {
		if len(f) > 0xff {
			return nil, fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(f))
		}

		size += 1 + len(f)
	}

	out := make([]byte, 0, size)
	for _, f := range fields {
		out = append(out, byte(len(f)))
		out = append(out, f...)
	}

	return out, nil
}

// DecodeCompositeKey parses the bytes produced by Encode.
func DecodeCompositeKey(raw []byte) (CompositeKey, error) {
	var values [6]string

	pos := 0

	for i := range values {
		if pos >= len(raw) {
			return CompositeKey{}, fmt.Errorf("sessionctx: truncated composite key at field %d", i)
		}

		n := int(raw[pos])
		pos++

		if pos+n > len(raw) {
			return CompositeKey{}, fmt.Errorf("sessionctx: truncated composite key field %d", i)
		}

		values[i] = string(raw[pos : pos+n])
		pos += n
	}

	return CompositeKey{
		SenderCompID:     values[0],
		SenderSubID:      values[1],
		SenderLocationID: values[2],
		TargetCompID:     values[3],
		TargetSubID:      values[4],
		TargetLocationID: values[5],
	}, nil
}
