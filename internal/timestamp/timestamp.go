// Package timestamp implements the 128-bit delivery timestamp used to order
// messages across the WAL, the temporal queue, and channel reads.
package timestamp

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"time"
)

// Size is the on-disk width of an encoded Timestamp, per the WAL record
// format: sort_key (16 bytes), little-endian.
const Size = 16

// Timestamp is an opaque 128-bit unsigned integer, interpreted as
// nanoseconds since an epoch. Hi holds the upper 64 bits, Lo the lower 64.
type Timestamp struct {
	Hi uint64
	Lo uint64
}

// Zero is the smallest representable Timestamp (sort_key = 0).
var Zero = Timestamp{}

// Max is the largest representable Timestamp (sort_key = 2^128 - 1).
var Max = Timestamp{Hi: ^uint64(0), Lo: ^uint64(0)}

// FromUint64 builds a Timestamp from an ordinary 64-bit nanosecond value.
func FromUint64(v uint64) Timestamp {
	return Timestamp{Lo: v}
}

// Now returns the current wall-clock time as a Timestamp (nanoseconds since
// the Unix epoch, taken from time.Time.UnixNano, whose int64 result only
// covers dates up to the year 2262).
func Now() Timestamp {
	return FromUint64(uint64(time.Now().UnixNano()))
}

// Cmp returns -1, 0, or 1 as ts is less than, equal to, or greater than
// other, under unsigned 128-bit ordering.
func (ts Timestamp) Cmp(other Timestamp) int {
	if ts.Hi != other.Hi {
		if ts.Hi < other.Hi {
			return -1
		}
		return 1
	}
	switch {
	case ts.Lo < other.Lo:
		return -1
	case ts.Lo > other.Lo:
		return 1
	default:
		return 0
	}
}

// LessOrEqual reports whether ts <= other.
func (ts Timestamp) LessOrEqual(other Timestamp) bool {
	return ts.Cmp(other) <= 0
}

// Add returns ts + delta, where delta is a signed nanosecond offset (as used
// to compute a channel's cut-off timestamp from buffer_time). Adding a
// negative delta that would underflow saturates at Zero; overflow saturates
// at Max, since the spec treats the timestamp space as bounded.
func (ts Timestamp) Add(delta int64) Timestamp {
	if delta >= 0 {
		lo, carry := bits.Add64(ts.Lo, uint64(delta), 0)
		hi, overflow := bits.Add64(ts.Hi, 0, carry)
		if overflow != 0 {
			return Max
		}
		return Timestamp{Hi: hi, Lo: lo}
	}

	dec := uint64(-delta)
	lo, borrow := bits.Sub64(ts.Lo, dec, 0)
	hi, underflow := bits.Sub64(ts.Hi, 0, borrow)
	if underflow != 0 {
		return Zero
	}
	return Timestamp{Hi: hi, Lo: lo}
}

// Bytes encodes ts as 16 little-endian bytes, matching the WAL sort_key
// field layout in spec §4.1.
func (ts Timestamp) Bytes() [Size]byte {
	var b [Size]byte
	binary.LittleEndian.PutUint64(b[0:8], ts.Lo)
	binary.LittleEndian.PutUint64(b[8:16], ts.Hi)
	return b
}

// FromBytes decodes a 16-byte little-endian sort_key into a Timestamp.
func FromBytes(b []byte) (Timestamp, error) {
	if len(b) != Size {
		return Timestamp{}, fmt.Errorf("timestamp: expected %d bytes, got %d", Size, len(b))
	}
	return Timestamp{
		Lo: binary.LittleEndian.Uint64(b[0:8]),
		Hi: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// String renders ts for logging.
func (ts Timestamp) String() string {
	if ts.Hi == 0 {
		return fmt.Sprintf("%d", ts.Lo)
	}
	return fmt.Sprintf("0x%016x%016x", ts.Hi, ts.Lo)
}
