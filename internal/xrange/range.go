// Package xrange implements checked byte-range arithmetic and half-open
// range tests, per spec.md §3/C1. Grounded on the teacher's
// export.go segInfo/exportSegMap bookkeeping (old/new start-end pairs,
// overlap-free by construction), generalized into a reusable, checked
// primitive the rest of the core (fat-arch bounds, symtab/strtab bounds,
// export-trie node overlap) builds on.
package xrange

import "fmt"

// Range is a half-open interval [Begin, End) of unsigned 64-bit file
// offsets. The zero value is the empty range [0, 0).
type Range struct {
	Begin uint64
	End   uint64
}

// Valid reports whether Begin <= End, the invariant spec.md §3 requires of
// every Range.
func (r Range) Valid() bool { return r.Begin <= r.End }

// Len returns End - Begin. Callers must only call this on a Valid range.
func (r Range) Len() uint64 { return r.End - r.Begin }

// Contains reports whether other lies entirely within r:
// other.Begin >= r.Begin && other.End <= r.End.
func (r Range) Contains(other Range) bool {
	return other.Begin >= r.Begin && other.End <= r.End
}

// ContainsOffset reports whether off lies in [r.Begin, r.End).
func (r Range) ContainsOffset(off uint64) bool {
	return off >= r.Begin && off < r.End
}

// Overlaps reports whether r and other share at least one offset:
// r.Begin < other.End && other.Begin < r.End.
func (r Range) Overlaps(other Range) bool {
	return r.Begin < other.End && other.Begin < r.End
}

// ErrOverflow is returned by the checked arithmetic helpers when a result
// would not fit in 64 bits.
type ErrOverflow struct {
	Op   string
	A, B uint64
}

func (e *ErrOverflow) Error() string {
	return fmt.Sprintf("xrange: %s(%d, %d) overflows uint64", e.Op, e.A, e.B)
}

// AddChecked returns a+b, failing if the sum overflows uint64.
func AddChecked(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, &ErrOverflow{Op: "add", A: a, B: b}
	}
	return sum, nil
}

// MulChecked returns a*b, failing if the product overflows uint64.
func MulChecked(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/a != b {
		return 0, &ErrOverflow{Op: "mul", A: a, B: b}
	}
	return product, nil
}

// New builds a Range [begin, begin+size), failing on overflow or if the
// resulting range would not be Valid.
func New(begin, size uint64) (Range, error) {
	end, err := AddChecked(begin, size)
	if err != nil {
		return Range{}, err
	}
	return Range{Begin: begin, End: end}, nil
}
