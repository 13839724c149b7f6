package bio

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestMemSlabReadAt(t *testing.T) {
	s := &MemSlab{Data: []byte{1, 2, 3, 4, 5}}
	buf := make([]byte, 2)
	n, err := s.ReadAt(buf, 2)
	if err != nil || n != 2 || !bytes.Equal(buf, []byte{3, 4}) {
		t.Fatalf("got n=%d err=%v buf=%v", n, err, buf)
	}
	if _, err := s.ReadAt(buf, 10); err != io.EOF {
		t.Fatalf("expected EOF past end, got %v", err)
	}
}

func TestFileSlabBounds(t *testing.T) {
	s := &FileSlab{R: bytes.NewReader([]byte{1, 2, 3, 4, 5}), Extent: 5}
	buf := make([]byte, 3)
	n, err := s.ReadAt(buf, 3)
	if err != io.EOF || n != 2 {
		t.Fatalf("expected short read with EOF at the slab's extent, got n=%d err=%v", n, err)
	}
}

func TestReaderEndian(t *testing.T) {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], 0xdeadbeef)
	r := NewReader(&MemSlab{Data: data}, binary.BigEndian)
	v, err := r.Uint32(0)
	if err != nil || v != 0xdeadbeef {
		t.Fatalf("got v=%#x err=%v", v, err)
	}
}

func TestReaderCString(t *testing.T) {
	data := []byte("hello\x00world")
	r := NewReader(&MemSlab{Data: data}, binary.LittleEndian)
	s, err := r.CString(0, int64(len(data)))
	if err != nil || s != "hello" {
		t.Fatalf("got s=%q err=%v", s, err)
	}
	if _, err := r.CString(6, 6); err == nil {
		t.Fatalf("expected error reading cstring at empty range")
	}
}

func TestSlabBytesZeroCopy(t *testing.T) {
	s := &MemSlab{Data: []byte{1, 2, 3, 4}}
	b, err := SlabBytes(s, 1, 2)
	if err != nil || !bytes.Equal(b, []byte{2, 3}) {
		t.Fatalf("got b=%v err=%v", b, err)
	}
}
