package macho

import (
	"errors"
	"fmt"

	"github.com/blacktop/go-tapi/internal/bio"
	"github.com/blacktop/go-tapi/internal/xrange"
	"github.com/blacktop/go-tapi/pkg/stub"
	"github.com/blacktop/go-tapi/types"
)

var ErrSymtabOverlap = errors.New("macho: symbol table and string table overlap")

// parseSymtab decodes sc's nlist/nlist_64 table, classifies each entry
// per spec.md §4.3, and feeds the qualifying ones to model under target.
// offsetBase is added to sc.Symoff/Stroff before treating them as
// absolute slab offsets, matching ParseSlice's convention; limit is the
// absolute offset neither table may reach or pass.
//
// Grounded on the teacher's symtab reading in file.go (the Symtab/Dysymtab
// TOC fields and their nlist decode loop), narrowed to classification
// only — this tool never builds an in-memory symbol table, only feeds
// qualifying names into the stub model.
func parseSymtab(r *bio.Reader, is64 bool, offsetBase, limit int64, sc types.SymtabCmd, target stub.Target, version stub.SchemaVersion, model *stub.Info, opts ParseOptions) error {
	entrySize := uint64(types.NlistSize32)
	if is64 {
		entrySize = types.NlistSize64
	}

	symSize, err := xrange.MulChecked(uint64(sc.Nsyms), entrySize)
	if err != nil {
		return fmt.Errorf("macho: symtab size: %w", err)
	}
	symRange, err := xrange.New(uint64AsOffset(sc.Symoff, offsetBase), symSize)
	if err != nil {
		return fmt.Errorf("macho: symtab range: %w", err)
	}
	strRange, err := xrange.New(uint64AsOffset(sc.Stroff, offsetBase), uint64(sc.Strsize))
	if err != nil {
		return fmt.Errorf("macho: strtab range: %w", err)
	}
	if symRange.End > uint64(limit) || strRange.End > uint64(limit) {
		return fmt.Errorf("%w: symtab/strtab range", ErrBounds)
	}
	if symRange.Len() > 0 && strRange.Len() > 0 && symRange.Overlaps(strRange) {
		return ErrSymtabOverlap
	}

	symOff := int64(symRange.Begin)
	strOff := int64(strRange.Begin)
	strLimit := int64(strRange.End)

	for i := uint32(0); i < sc.Nsyms; i++ {
		entryOff := symOff + int64(i)*int64(entrySize)

		nameOff, err := r.Uint32(entryOff)
		if err != nil {
			return err
		}
		var typ, sect uint8
		var desc uint16
		if b, err := bio.SlabBytes(r.Slab, entryOff+4, 1); err != nil {
			return err
		} else {
			typ = b[0]
		}
		if b, err := bio.SlabBytes(r.Slab, entryOff+5, 1); err != nil {
			return err
		} else {
			sect = b[0]
		}
		if descVal, err := r.Uint16(entryOff + 6); err != nil {
			return err
		} else {
			desc = descVal
		}
		_ = sect

		if typ&types.N_STAB != 0 {
			continue
		}
		if nameOff >= sc.Strsize {
			continue
		}

		kind := typ & types.N_TYPE
		var meta stub.MetaType
		switch {
		case (kind == types.N_SECT || kind == types.N_INDR) && !opts.IgnoreExports:
			meta = stub.Export
		case kind == types.N_UNDF && !opts.IgnoreUndefineds && version >= stub.V2:
			value, err := nlistValue(r, is64, entryOff)
			if err != nil {
				return err
			}
			if value != 0 {
				continue
			}
			meta = stub.Undefined
		default:
			continue
		}

		isExternal := typ&types.N_EXT != 0

		// A stripped or corrupt string table can leave one entry's name
		// running past strsize without a NUL; spec.md §4.3's bounded-strlen
		// posture tolerates that for a single symbol rather than aborting
		// the whole slice over one bad nlist entry.
		name, err := r.CString(strOff+int64(nameOff), strLimit)
		if err != nil {
			continue
		}
		if name == "" {
			continue
		}

		if !isExternal {
			objcType, ok := stub.ClassifyObjcPrefix(name)
			if !ok {
				continue
			}
			switch objcType {
			case stub.ObjcClass:
				if !opts.AllowPrivObjcClassSyms {
					continue
				}
			case stub.ObjcIvar:
				if !opts.AllowPrivObjcIvarSyms {
					continue
				}
			case stub.ObjcEhtype:
				if !opts.AllowPrivObjcEhtypeSyms {
					continue
				}
			}
		}

		predefined := stub.None
		if desc&(types.N_WEAK_DEF|types.N_WEAK_REF) != 0 {
			predefined = stub.WeakDef
		}

		model.AddSymbol(name, meta, predefined, isExternal, target, opts.Stub)
	}
	return nil
}

func nlistValue(r *bio.Reader, is64 bool, entryOff int64) (uint64, error) {
	if is64 {
		return r.Uint64(entryOff + 8)
	}
	v, err := r.Uint32(entryOff + 8)
	return uint64(v), err
}

// uint64AsOffset adds base to raw, the common "embedded offset is
// relative to offsetBase" arithmetic shared by symoff/stroff/export
// offset handling.
func uint64AsOffset(raw uint32, base int64) uint64 {
	return uint64(base) + uint64(raw)
}
