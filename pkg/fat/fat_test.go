package fat

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/blacktop/go-tapi/internal/bio"
	"github.com/blacktop/go-tapi/internal/xrange"
	"github.com/blacktop/go-tapi/types"
)

func putU32(b []byte, off int, v uint32) { binary.BigEndian.PutUint32(b[off:], v) }

func buildFat32(t *testing.T, slices [][2]uint32) []byte {
	t.Helper()
	headerLen := fatHeaderSize + len(slices)*fatArch32Size
	total := headerLen
	for _, s := range slices {
		if end := int(s[0] + s[1]); end > total {
			total = end
		}
	}
	data := make([]byte, total)
	putU32(data, 0, uint32(types.MagicFat32))
	putU32(data, 4, uint32(len(slices)))
	for i, s := range slices {
		off := fatHeaderSize + i*fatArch32Size
		putU32(data, off, uint32(types.CPUArm64))
		putU32(data, off+4, uint32(types.CPUSubtypeArm64All))
		putU32(data, off+8, s[0])
		putU32(data, off+12, s[1])
		putU32(data, off+16, 0)
	}
	return data
}

func TestParseFat32TwoSlices(t *testing.T) {
	data := buildFat32(t, [][2]uint32{{128, 64}, {256, 64}})
	archs, err := Parse(&bio.MemSlab{Data: data})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Arch{
		{CPU: types.CPUArm64, SubCPU: types.CPUSubtypeArm64All, ArchIndex: types.ArchByName("arm64"), Range: xrange.Range{Begin: 128, End: 192}},
		{CPU: types.CPUArm64, SubCPU: types.CPUSubtypeArm64All, ArchIndex: types.ArchByName("arm64"), Range: xrange.Range{Begin: 256, End: 320}},
	}
	if diff := cmp.Diff(want, archs); diff != "" {
		t.Fatalf("Parse result mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFat32OverlappingSlicesRejected(t *testing.T) {
	data := buildFat32(t, [][2]uint32{{128, 200}, {256, 64}})
	if _, err := Parse(&bio.MemSlab{Data: data}); err == nil {
		t.Fatal("expected an overlap error, got nil")
	}
}

func TestParseFat32BadMagic(t *testing.T) {
	data := buildFat32(t, [][2]uint32{{128, 64}})
	putU32(data, 0, 0xdeadbeef)
	if _, err := Parse(&bio.MemSlab{Data: data}); err == nil {
		t.Fatal("expected a bad-magic error, got nil")
	}
}
