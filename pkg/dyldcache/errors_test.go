package dyldcache

import (
	"errors"
	"testing"

	"github.com/blacktop/go-tapi/internal/bio"
)

func TestParseRejectsBadMagic(t *testing.T) {
	data := buildCache(t)
	copy(data[0:], "notacache\x00\x00\x00\x00\x00\x00\x00")
	_, err := Parse(&bio.MemSlab{Data: data})
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("got err=%v, want ErrBadMagic", err)
	}
}

func TestParseRejectsTruncatedMappingTable(t *testing.T) {
	data := buildCache(t)
	putU32(data, 20, 1000) // mappingCount way past the file's actual size
	_, err := Parse(&bio.MemSlab{Data: data})
	if !errors.Is(err, ErrBounds) {
		t.Fatalf("got err=%v, want ErrBounds", err)
	}
}

func TestParseRejectsTruncatedImageTable(t *testing.T) {
	data := buildCache(t)
	putU32(data, 28, 1000) // imagesCount way past the file's actual size
	_, err := Parse(&bio.MemSlab{Data: data})
	if !errors.Is(err, ErrBounds) {
		t.Fatalf("got err=%v, want ErrBounds", err)
	}
}

func TestParseRejectsBadImagePathOffset(t *testing.T) {
	data := buildCache(t)
	const imagesOff = 32 + mappingEntrySize // matches buildCache's layout
	putU32(data, imagesOff+24, uint32(len(data)+100)) // pathFileOffset past EOF
	_, err := Parse(&bio.MemSlab{Data: data})
	if err == nil {
		t.Fatal("expected an error reading an out-of-bounds image path")
	}
}
