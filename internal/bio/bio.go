// Package bio provides the two I/O styles spec.md §5 requires be
// functionally equivalent: file-descriptor mode (seek+read slabs on
// demand, for large shared caches) and mapped mode (the whole file as one
// byte slice). Both implement the same Slab interface and the same
// bounds-checking rules; only the read primitive differs.
//
// Grounded on the teacher's types.MachoReader/CustomSectionReader idea (a
// reader that is both an io.ReaderAt and knows its own extent), narrowed
// to exactly the read-at-offset contract the load-command walker, symbol
// reader and export-trie walker need.
package bio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Slab is a bounded byte range, read either from a mapped slice or from a
// file descriptor. Len reports the slab's total extent; ReadAt behaves
// like io.ReaderAt restricted to [0, Len()).
type Slab interface {
	io.ReaderAt
	Len() int64
}

// MemSlab is the mapped-mode Slab: the full input already resident in
// memory as a contiguous byte slice.
type MemSlab struct {
	Data []byte
}

func (m *MemSlab) Len() int64 { return int64(len(m.Data)) }

func (m *MemSlab) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.Data)) {
		return 0, io.EOF
	}
	n := copy(p, m.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Bytes returns the sub-slice [off, off+n) directly, without copying. Only
// safe to use when the caller will not retain the slice past the slab's
// lifetime; the export-trie walker and symtab reader use this to avoid
// per-read allocation in mapped mode.
func (m *MemSlab) Bytes(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > int64(len(m.Data)) {
		return nil, fmt.Errorf("bio: range [%d,%d) out of bounds (len=%d)", off, off+n, len(m.Data))
	}
	return m.Data[off : off+n], nil
}

// FileSlab is the fd-mode Slab: slabs are seeked and read on demand from
// an underlying file, bounded to a known extent (e.g. a fat-file slice or
// an entire shared-cache file).
type FileSlab struct {
	R      io.ReaderAt
	Extent int64
}

func (f *FileSlab) Len() int64 { return f.Extent }

func (f *FileSlab) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= f.Extent {
		return 0, io.EOF
	}
	if max := f.Extent - off; int64(len(p)) > max {
		n, err := f.R.ReadAt(p[:max], off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return f.R.ReadAt(p, off)
}

// Bytes reads [off, off+n) into a freshly allocated slice. Fd-mode has no
// backing array to slice into, so every read copies.
func (f *FileSlab) Bytes(off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := readFull(f, buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFull(s Slab, buf []byte, off int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.ReadAt(buf[total:], off+int64(total))
		total += n
		if err != nil {
			if err == io.EOF && total == len(buf) {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}

// SlabBytes reads [off, off+n) from any Slab, taking the zero-copy path
// for *MemSlab and falling back to a full read for other implementations.
func SlabBytes(s Slab, off, n int64) ([]byte, error) {
	switch t := s.(type) {
	case *MemSlab:
		return t.Bytes(off, n)
	case *FileSlab:
		return t.Bytes(off, n)
	default:
		buf := make([]byte, n)
		if _, err := readFull(s, buf, off); err != nil {
			return nil, err
		}
		return buf, nil
	}
}

// Reader is an endian-aware primitive decoder (spec.md §4 Design Notes:
// "Endianness as a phase, not a branch" — materialize an integer reader
// with swap-on-read baked in, so parsers above it never branch on
// is_big_endian again).
type Reader struct {
	Slab  Slab
	Order binary.ByteOrder
}

func NewReader(s Slab, order binary.ByteOrder) *Reader {
	return &Reader{Slab: s, Order: order}
}

func (r *Reader) Uint16(off int64) (uint16, error) {
	var b [2]byte
	if _, err := r.Slab.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return r.Order.Uint16(b[:]), nil
}

func (r *Reader) Uint32(off int64) (uint32, error) {
	var b [4]byte
	if _, err := r.Slab.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return r.Order.Uint32(b[:]), nil
}

func (r *Reader) Uint64(off int64) (uint64, error) {
	var b [8]byte
	if _, err := r.Slab.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return r.Order.Uint64(b[:]), nil
}

// CString reads a NUL-terminated string starting at off, never reading at
// or past limit. Returns an error if no NUL byte is found before limit.
func (r *Reader) CString(off, limit int64) (string, error) {
	if off < 0 || off > limit {
		return "", fmt.Errorf("bio: cstring offset %d out of [.., %d)", off, limit)
	}
	var out []byte
	buf := make([]byte, 1)
	for o := off; o < limit; o++ {
		if _, err := r.Slab.ReadAt(buf, o); err != nil {
			return "", err
		}
		if buf[0] == 0 {
			return string(out), nil
		}
		out = append(out, buf[0])
	}
	return "", fmt.Errorf("bio: unterminated string starting at %d", off)
}
