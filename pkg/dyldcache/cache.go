// Package dyldcache decodes a dyld shared cache's container structure
// (spec.md §4.5, C9): the header's mapping table and image list, and the
// address-to-file-offset translation every embedded image's Mach-O
// header needs before it can be handed to macho.ParseSlice.
//
// No teacher file in the retrieved pack carries the full
// dyld_cache_header layout (the one dyld-adjacent file the pack offers,
// the PrebuiltLoaderSet reader, covers a different on-disk structure);
// this is grounded directly on spec.md §4.5's field list plus the public,
// long-stable prefix of Apple's dyld_cache_header (magic, mappingOffset,
// mappingCount, imagesOffset, imagesCount all sit in the header's first
// 32 bytes and have not moved across cache format revisions), read with
// this module's bio.Reader the same way every other container in this
// repo is read.
package dyldcache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/blacktop/go-tapi/internal/bio"
)

var (
	ErrBadMagic  = errors.New("dyldcache: missing dyld_v1 magic prefix")
	ErrBounds    = errors.New("dyldcache: table runs past the cache file")
	ErrNoMapping = errors.New("dyldcache: address not covered by any mapping")
)

const (
	magicPrefix      = "dyld_v1"
	magicSize        = 16
	mappingEntrySize = 32 // address, size, file_offset (u64 each) + max_prot/init_prot (u32 each)
	imageEntrySize   = 32 // address, mtime, inode (u64 each) + pathFileOffset, pad (u32 each)
)

// Mapping is one dyld_cache_mapping_info record: a contiguous range of
// cache-relative virtual addresses and the file offset it is backed by.
type Mapping struct {
	Address    uint64
	Size       uint64
	FileOffset uint64
}

// Image is one dyld_cache_image_info record: an embedded dylib's Mach-O
// header address (translated to a file offset via the mapping table) and
// its install-name-like path as recorded by the cache builder.
type Image struct {
	Address uint64
	Path    string
}

// Cache is the decoded container: its architecture tag (the suffix of
// the magic, e.g. "arm64e") plus its mappings and images.
type Cache struct {
	ArchTag  string
	Mappings []Mapping
	Images   []Image
}

// Parse reads slab's header, mapping table and image list.
func Parse(slab bio.Slab) (*Cache, error) {
	r := bio.NewReader(slab, binary.LittleEndian)

	magic, err := bio.SlabBytes(slab, 0, magicSize)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(string(magic), magicPrefix) {
		return nil, fmt.Errorf("%w: got %q", ErrBadMagic, magic)
	}
	archTag := strings.TrimSpace(strings.TrimRight(string(magic[len(magicPrefix):]), "\x00"))

	mappingOffset, err := r.Uint32(16)
	if err != nil {
		return nil, err
	}
	mappingCount, err := r.Uint32(20)
	if err != nil {
		return nil, err
	}
	imagesOffset, err := r.Uint32(24)
	if err != nil {
		return nil, err
	}
	imagesCount, err := r.Uint32(28)
	if err != nil {
		return nil, err
	}

	mappings, err := readMappings(r, int64(mappingOffset), mappingCount, slab.Len())
	if err != nil {
		return nil, err
	}
	images, err := readImages(r, slab, int64(imagesOffset), imagesCount, slab.Len())
	if err != nil {
		return nil, err
	}

	return &Cache{ArchTag: archTag, Mappings: mappings, Images: images}, nil
}

func readMappings(r *bio.Reader, base int64, count uint32, limit int64) ([]Mapping, error) {
	end := base + int64(count)*mappingEntrySize
	if end > limit {
		return nil, fmt.Errorf("%w: mapping table", ErrBounds)
	}
	out := make([]Mapping, 0, count)
	for i := uint32(0); i < count; i++ {
		off := base + int64(i)*mappingEntrySize
		address, err := r.Uint64(off)
		if err != nil {
			return nil, err
		}
		size, err := r.Uint64(off + 8)
		if err != nil {
			return nil, err
		}
		fileOffset, err := r.Uint64(off + 16)
		if err != nil {
			return nil, err
		}
		out = append(out, Mapping{Address: address, Size: size, FileOffset: fileOffset})
	}
	return out, nil
}

func readImages(r *bio.Reader, slab bio.Slab, base int64, count uint32, limit int64) ([]Image, error) {
	end := base + int64(count)*imageEntrySize
	if end > limit {
		return nil, fmt.Errorf("%w: image table", ErrBounds)
	}
	out := make([]Image, 0, count)
	for i := uint32(0); i < count; i++ {
		off := base + int64(i)*imageEntrySize
		address, err := r.Uint64(off)
		if err != nil {
			return nil, err
		}
		pathOff, err := r.Uint32(off + 24)
		if err != nil {
			return nil, err
		}
		path, err := r.CString(int64(pathOff), limit)
		if err != nil {
			return nil, fmt.Errorf("dyldcache: image %d path: %w", i, err)
		}
		out = append(out, Image{Address: address, Path: path})
	}
	return out, nil
}

// FileOffset translates a cache-relative virtual address to an absolute
// file offset by finding the mapping that covers it, per spec.md §4.5:
// "file offset = mapping.file_offset + (address - mapping.address)".
func (c *Cache) FileOffset(address uint64) (int64, error) {
	for _, m := range c.Mappings {
		if address >= m.Address && address < m.Address+m.Size {
			return int64(m.FileOffset + (address - m.Address)), nil
		}
	}
	return 0, fmt.Errorf("%w: %#x", ErrNoMapping, address)
}
