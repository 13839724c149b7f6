package dyldcache

import (
	"encoding/binary"
	"testing"

	"github.com/blacktop/go-tapi/internal/bio"
)

func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func putU64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }

// buildCache lays out a minimal dyld_v1 cache: one mapping covering
// [0x1000, 0x3000) backed by file offset 0x200, and one image whose
// header address falls inside that mapping.
func buildCache(t *testing.T) []byte {
	t.Helper()
	const (
		mappingOff = 32
		imagesOff  = mappingOff + mappingEntrySize
		pathOff    = imagesOff + imageEntrySize
	)
	path := "/usr/lib/libSystem.B.dylib\x00"
	total := pathOff + len(path)
	data := make([]byte, total)

	copy(data[0:], "dyld_v1  arm64e\x00")
	putU32(data, 16, mappingOff)
	putU32(data, 20, 1)
	putU32(data, 24, imagesOff)
	putU32(data, 28, 1)

	putU64(data, mappingOff, 0x1000)
	putU64(data, mappingOff+8, 0x2000)
	putU64(data, mappingOff+16, 0x200)

	putU64(data, imagesOff, 0x1500)
	putU32(data, imagesOff+24, uint32(pathOff))

	copy(data[pathOff:], path)
	return data
}

func TestParseCache(t *testing.T) {
	data := buildCache(t)
	c, err := Parse(&bio.MemSlab{Data: data})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.ArchTag != "arm64e" {
		t.Fatalf("ArchTag = %q, want arm64e", c.ArchTag)
	}
	if len(c.Mappings) != 1 || c.Mappings[0].FileOffset != 0x200 {
		t.Fatalf("unexpected mappings: %+v", c.Mappings)
	}
	if len(c.Images) != 1 || c.Images[0].Path != "/usr/lib/libSystem.B.dylib" {
		t.Fatalf("unexpected images: %+v", c.Images)
	}
}

func TestFileOffsetTranslation(t *testing.T) {
	data := buildCache(t)
	c, err := Parse(&bio.MemSlab{Data: data})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	off, err := c.FileOffset(0x1500)
	if err != nil {
		t.Fatalf("FileOffset: %v", err)
	}
	if want := int64(0x200 + 0x500); off != want {
		t.Fatalf("FileOffset = %#x, want %#x", off, want)
	}
	if _, err := c.FileOffset(0x9000); err == nil {
		t.Fatal("expected an out-of-range error, got nil")
	}
}
