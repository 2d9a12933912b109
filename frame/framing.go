package frame

import (
	"encoding/binary"
	"fmt"
)

// LengthPrefixLen is the size, in bytes, of the length prefix on the QUIC
// wire framing: a little-endian signed 64-bit length.
const LengthPrefixLen = 8

// MaxFrameLen bounds a single frame body, guarding against a hostile or
// corrupt length prefix. The spec suggests 16 MiB.
const MaxFrameLen = 16 << 20

// EncodeLengthPrefixed returns body prefixed with its little-endian int64
// length, for the QUIC stream-framing variant (spec.md §6).
func EncodeLengthPrefixed(body []byte) []byte {
	out := make([]byte, LengthPrefixLen+len(body))
	binary.LittleEndian.PutUint64(out[:LengthPrefixLen], uint64(len(body)))
	copy(out[LengthPrefixLen:], body)
	return out
}

// Reassembler accumulates bytes from a QUIC stream and yields complete
// length-prefixed frame bodies as they become available, per the receive
// loop in spec.md §4.1.
type Reassembler struct {
	buf []byte
}

// Feed appends newly received bytes to the reassembly buffer.
func (r *Reassembler) Feed(b []byte) {
	r.buf = append(r.buf, b...)
}

// Next tries to pull one complete frame body from the buffer. It returns
// ok=false when fewer than a full frame is currently buffered (the caller
// should wait for more bytes); err is non-nil only on a framing violation,
// which the caller must treat as fatal to the session (close, don't retry).
func (r *Reassembler) Next() (body []byte, ok bool, err error) {
	if len(r.buf) < LengthPrefixLen {
		return nil, false, nil
	}

	length := int64(binary.LittleEndian.Uint64(r.buf[:LengthPrefixLen]))
	if length < 0 {
		return nil, false, fmt.Errorf("frame: negative length prefix %d", length)
	}
	if length > MaxFrameLen {
		return nil, false, fmt.Errorf("frame: length prefix %d exceeds cap %d", length, MaxFrameLen)
	}

	total := LengthPrefixLen + int(length)
	if len(r.buf) < total {
		return nil, false, nil
	}

	body = make([]byte, length)
	copy(body, r.buf[LengthPrefixLen:total])
	r.buf = r.buf[total:]
	return body, true, nil
}

// Drain repeatedly calls Next, invoking fn for every complete frame found,
// stopping at the first wait-for-more-bytes or framing error. It implements
// the "loop back to step 1 in case more complete frames are buffered" step
// of spec.md §4.1.
func (r *Reassembler) Drain(fn func(body []byte) error) error {
	for {
		body, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(body); err != nil {
			return err
		}
	}
}
