// Package uleb decodes ULEB128 (unsigned little-endian base-128) variable
// length integers from a bounded byte range, per spec.md §4.1. Every byte
// contributes its low 7 bits, most-significant-group-last, with the high
// bit (0x80) set on every byte except the last.
package uleb

import "errors"

// ErrNoNextPosition is returned when a ULEB128 sequence cannot be decoded:
// it runs past end before its terminating byte, or it is overlong for the
// requested width. Callers treat this as fatal for the containing
// structure (spec.md §4.1).
var ErrNoNextPosition = errors.New("uleb128: no next position")

// ReadU32 decodes an unsigned 32-bit ULEB128 value starting at iter, not
// reading at or past end. It returns the decoded value and the position
// immediately following the encoding. At most 5 bytes are consumed; the
// final byte's contributed bits must be <= 15 (4 groups of 7 bits plus a
// final 4-bit group fill exactly 32 bits).
func ReadU32(data []byte, iter, end int) (value uint32, next int, err error) {
	if iter >= end || iter >= len(data) {
		return 0, 0, ErrNoNextPosition
	}

	var result uint32
	var shift uint
	for i := 0; i < 5; i++ {
		if iter >= end || iter >= len(data) {
			return 0, 0, ErrNoNextPosition
		}
		b := data[iter]
		iter++

		bits := uint32(b & 0x7f)
		if i == 4 {
			if bits > 15 {
				return 0, 0, ErrNoNextPosition
			}
		}
		result |= bits << shift
		if b&0x80 == 0 {
			return result, iter, nil
		}
		shift += 7
	}
	return 0, 0, ErrNoNextPosition
}

// ReadU64 decodes an unsigned 64-bit ULEB128 value the same way as ReadU32,
// but allows up to 10 bytes, with the final byte's contributed bits <= 1.
func ReadU64(data []byte, iter, end int) (value uint64, next int, err error) {
	if iter >= end || iter >= len(data) {
		return 0, 0, ErrNoNextPosition
	}

	var result uint64
	var shift uint
	for i := 0; i < 10; i++ {
		if iter >= end || iter >= len(data) {
			return 0, 0, ErrNoNextPosition
		}
		b := data[iter]
		iter++

		bits := uint64(b & 0x7f)
		if i == 9 {
			if bits > 1 {
				return 0, 0, ErrNoNextPosition
			}
		}
		result |= bits << shift
		if b&0x80 == 0 {
			return result, iter, nil
		}
		shift += 7
	}
	return 0, 0, ErrNoNextPosition
}

// Skip advances past one ULEB128 value without decoding it, bounded to 9
// bytes (the "skip" variant spec.md §4.1 describes), returning the
// position just past the terminating byte.
func Skip(data []byte, iter, end int) (next int, err error) {
	if iter >= end || iter >= len(data) {
		return 0, ErrNoNextPosition
	}
	for i := 0; i < 9; i++ {
		if iter >= end || iter >= len(data) {
			return 0, ErrNoNextPosition
		}
		b := data[iter]
		iter++
		if b&0x80 == 0 {
			return iter, nil
		}
	}
	return 0, ErrNoNextPosition
}
