// Package macho implements the Mach-O load-command walker, symbol-table
// reader and export-trie consumer (spec.md C5/C6, the C7 trie walker
// lives in pkg/trie) that feed a pkg/stub.Info model. The fat-file and
// dyld-shared-cache container decoders live in the separate packages
// pkg/fat and pkg/dyldcache; they produce the (arch, platform, slab)
// triples this package's ParseSlice consumes.
//
// Grounded on the teacher's (blacktop/go-macho) file.go NewFile/FileTOC
// shape: a single streaming pass over the load-command area that
// dispatches by cmd tag, generalized here to feed a stub.Info instead of
// building an in-memory symbol/segment tree.
package macho

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/blacktop/go-tapi/internal/bio"
	"github.com/blacktop/go-tapi/types"
)

var (
	ErrBadMagic      = errors.New("macho: invalid magic")
	ErrBounds        = errors.New("macho: field out of bounds")
	ErrCmdTooSmall   = errors.New("macho: load command cmdsize < 8")
	ErrCmdOverruns   = errors.New("macho: load command runs past the command area")
	ErrStringOverrun = errors.New("macho: embedded string runs past cmdsize without a NUL")
)

// header is the decoded, endian-resolved Mach-O file header plus the
// byte order and bit width needed to read everything that follows it.
type header struct {
	Is64   bool
	Order  binary.ByteOrder
	FH     types.FileHeader
	Reader *bio.Reader
}

// readHeader reads and validates the Mach-O magic at headerOffset within
// r's underlying slab, returning a header configured with the resolved
// endianness and bit width.
func readHeader(r *bio.Reader, headerOffset int64) (*header, error) {
	var magicBuf [4]byte
	if _, err := r.Slab.ReadAt(magicBuf[:], headerOffset); err != nil {
		return nil, fmt.Errorf("macho: reading magic: %w", err)
	}
	magic := types.Magic(binary.BigEndian.Uint32(magicBuf[:]))

	// magic was read big-endian: an unswapped value means a big-endian
	// file, a byte-swapped one a little-endian file.
	var order binary.ByteOrder
	var is64 bool
	switch magic {
	case types.Magic32:
		order, is64 = binary.BigEndian, false
	case types.Magic64:
		order, is64 = binary.BigEndian, true
	case types.Magic(0xcefaedfe): // Magic32 byte-swapped
		order, is64 = binary.LittleEndian, false
	case types.Magic(0xcffaedfe): // Magic64 byte-swapped
		order, is64 = binary.LittleEndian, true
	default:
		return nil, fmt.Errorf("%w: %#x", ErrBadMagic, uint32(magic))
	}

	hr := bio.NewReader(r.Slab, order)
	fh, err := readFileHeader(hr, headerOffset, is64)
	if err != nil {
		return nil, err
	}
	return &header{Is64: is64, Order: order, FH: fh, Reader: hr}, nil
}

func readFileHeader(r *bio.Reader, off int64, is64 bool) (types.FileHeader, error) {
	var fh types.FileHeader
	magic, err := r.Uint32(off)
	if err != nil {
		return fh, err
	}
	cputype, err := r.Uint32(off + 4)
	if err != nil {
		return fh, err
	}
	cpusubtype, err := r.Uint32(off + 8)
	if err != nil {
		return fh, err
	}
	filetype, err := r.Uint32(off + 12)
	if err != nil {
		return fh, err
	}
	ncmds, err := r.Uint32(off + 16)
	if err != nil {
		return fh, err
	}
	sizeofcmds, err := r.Uint32(off + 20)
	if err != nil {
		return fh, err
	}
	flags, err := r.Uint32(off + 24)
	if err != nil {
		return fh, err
	}
	fh = types.FileHeader{
		Magic:        types.Magic(magic),
		CPU:          types.CPU(cputype),
		SubCPU:       types.CPUSubtype(cpusubtype),
		Type:         types.HeaderFileType(filetype),
		NCommands:    ncmds,
		SizeCommands: sizeofcmds,
		Flags:        types.HeaderFlag(flags),
	}
	if is64 {
		// the reserved field following flags in the 64-bit header; not
		// otherwise consumed.
		if _, err := r.Uint32(off + 28); err != nil {
			return fh, err
		}
	}
	return fh, nil
}

// PeekArch reads just enough of the Mach-O header at headerOffset to
// resolve its (cpu, subtype) pair into a types.ArchCatalog index, without
// walking load commands. Callers use this to determine the archIndex
// ParseSlice requires before a standalone (non-fat) Mach-O file's own
// header can supply it from within the parse itself.
func PeekArch(slab bio.Slab, headerOffset int64) (int, error) {
	h, err := readHeader(bio.NewReader(slab, binary.LittleEndian), headerOffset)
	if err != nil {
		return 0, err
	}
	return types.ArchIndex(h.FH.CPU, h.FH.SubCPU), nil
}

func (h *header) headerSize() int64 {
	if h.Is64 {
		return int64(types.FileHeaderSize64)
	}
	return int64(types.FileHeaderSize32)
}
