// Package fat decodes a Mach-O universal ("fat") file's architecture
// table (spec.md §4.5, C9): a big-endian fat_header followed by one
// fat_arch or fat_arch_64 record per embedded slice, each naming a
// (cputype, cpusubtype, offset, size) that the caller hands to
// macho.ParseSlice as an independent Mach-O image.
//
// Grounded on KristianKarl-fq's format/macho/macho.go fatParse (the
// fat_header/fat_arch field layout and the "offset points at an
// independent Mach-O" relationship), adapted from its declarative
// bit-decoder style to this module's bio.Reader primitives, and adding
// the overlap/bounds validation spec.md §4.5 requires that fatParse
// itself does not perform.
package fat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/blacktop/go-tapi/internal/bio"
	"github.com/blacktop/go-tapi/internal/xrange"
	"github.com/blacktop/go-tapi/types"
)

var (
	ErrBadMagic = errors.New("fat: invalid magic")
	ErrBounds   = errors.New("fat: arch slice out of bounds")
	ErrOverlap  = errors.New("fat: arch slices overlap")
)

const (
	fatHeaderSize  = 8
	fatArch32Size  = 20 // cputype, cpusubtype, offset, size, align
	fatArch64Size  = 32 // + 64-bit offset/size, reserved
)

// Arch is one decoded fat_arch[_64] record: the (cpu, subtype) pair plus
// the absolute byte range of its embedded Mach-O slice within the fat
// file.
type Arch struct {
	CPU       types.CPU
	SubCPU    types.CPUSubtype
	ArchIndex int
	Range     xrange.Range
	Align     uint32
}

// Parse reads slab's fat_header and arch table, validating that every
// slice lies within the file, does not overlap the header or any other
// slice, and is sorted by ascending offset in the returned list (matching
// the file's own declared order is not guaranteed by the format; this
// tool only needs a stable, overlap-free set).
func Parse(slab bio.Slab) ([]Arch, error) {
	r := bio.NewReader(slab, binary.BigEndian)

	magicRaw, err := r.Uint32(0)
	if err != nil {
		return nil, err
	}
	magic := types.Magic(magicRaw)
	is64 := magic == types.MagicFat64
	if magic != types.MagicFat32 && !is64 {
		return nil, fmt.Errorf("%w: %#x", ErrBadMagic, magicRaw)
	}

	nArch, err := r.Uint32(4)
	if err != nil {
		return nil, err
	}

	entrySize := int64(fatArch32Size)
	if is64 {
		entrySize = fatArch64Size
	}
	tableEnd := fatHeaderSize + int64(nArch)*entrySize
	if tableEnd > slab.Len() {
		return nil, fmt.Errorf("%w: arch table runs past the file", ErrBounds)
	}

	reserved := []xrange.Range{{Begin: 0, End: uint64(tableEnd)}}
	archs := make([]Arch, 0, nArch)

	for i := uint32(0); i < nArch; i++ {
		entryOff := fatHeaderSize + int64(i)*entrySize

		cpuType, err := r.Uint32(entryOff)
		if err != nil {
			return nil, err
		}
		cpuSubtype, err := r.Uint32(entryOff + 4)
		if err != nil {
			return nil, err
		}

		var offset, size uint64
		var align uint32
		if is64 {
			offset, err = r.Uint64(entryOff + 8)
			if err != nil {
				return nil, err
			}
			size, err = r.Uint64(entryOff + 16)
			if err != nil {
				return nil, err
			}
			alignVal, err := r.Uint32(entryOff + 24)
			if err != nil {
				return nil, err
			}
			align = alignVal
		} else {
			off32, err := r.Uint32(entryOff + 8)
			if err != nil {
				return nil, err
			}
			size32, err := r.Uint32(entryOff + 12)
			if err != nil {
				return nil, err
			}
			alignVal, err := r.Uint32(entryOff + 16)
			if err != nil {
				return nil, err
			}
			offset, size, align = uint64(off32), uint64(size32), alignVal
		}

		sliceRange, err := xrange.New(offset, size)
		if err != nil || sliceRange.End > uint64(slab.Len()) {
			return nil, fmt.Errorf("%w: arch %d", ErrBounds, i)
		}
		for _, reservedRange := range reserved {
			if reservedRange.Overlaps(sliceRange) {
				return nil, fmt.Errorf("%w: arch %d", ErrOverlap, i)
			}
		}
		reserved = append(reserved, sliceRange)

		archs = append(archs, Arch{
			CPU:       types.CPU(cpuType),
			SubCPU:    types.CPUSubtype(cpuSubtype),
			ArchIndex: types.ArchIndex(types.CPU(cpuType), types.CPUSubtype(cpuSubtype)),
			Range:     sliceRange,
			Align:     align,
		})
	}

	sort.Slice(archs, func(i, j int) bool { return archs[i].Range.Begin < archs[j].Range.Begin })
	return archs, nil
}
