package uleb

import "testing"

func TestReadU32Boundary(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}
	v, next, err := ReadU32(data, 0, len(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0xFFFFFFFF {
		t.Fatalf("got %#x, want 0xffffffff", v)
	}
	if next != len(data) {
		t.Fatalf("next = %d, want %d", next, len(data))
	}
}

func TestReadU32Overlong(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x1F}
	if _, _, err := ReadU32(data, 0, len(data)); err != ErrNoNextPosition {
		t.Fatalf("got err=%v, want ErrNoNextPosition", err)
	}
}

func TestReadU32Truncated(t *testing.T) {
	data := []byte{0x80, 0x80, 0x80}
	if _, _, err := ReadU32(data, 0, len(data)); err != ErrNoNextPosition {
		t.Fatalf("got err=%v, want ErrNoNextPosition", err)
	}
}

func TestReadU32SingleByte(t *testing.T) {
	data := []byte{0x7f}
	v, next, err := ReadU32(data, 0, len(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0x7f || next != 1 {
		t.Fatalf("got v=%#x next=%d", v, next)
	}
}

func TestReadU64Boundary(t *testing.T) {
	data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	v, next, err := ReadU64(data, 0, len(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1<<63 {
		t.Fatalf("got %#x, want %#x", v, uint64(1)<<63)
	}
	if next != len(data) {
		t.Fatalf("next = %d, want %d", next, len(data))
	}
}

func TestReadU64Overlong(t *testing.T) {
	data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x02}
	if _, _, err := ReadU64(data, 0, len(data)); err != ErrNoNextPosition {
		t.Fatalf("got err=%v, want ErrNoNextPosition", err)
	}
}

func TestSkip(t *testing.T) {
	data := []byte{0x80, 0x80, 0x01, 0xAB}
	next, err := Skip(data, 0, len(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != 3 {
		t.Fatalf("next = %d, want 3", next)
	}
}

func TestSkipTruncated(t *testing.T) {
	data := []byte{0x80, 0x80}
	if _, err := Skip(data, 0, len(data)); err != ErrNoNextPosition {
		t.Fatalf("got err=%v, want ErrNoNextPosition", err)
	}
}
