// Package stub implements the stub-file model (spec.md §3/§4.6, C8): the
// deduplicated, target-indexed record of a library's public API surface
// that the Mach-O/export-trie/fat/shared-cache decoders feed, and that
// the emitter (emit.go) serializes to YAML.
//
// No direct teacher analog exists for this package (blacktop/go-macho has
// no equivalent aggregation layer); it is modeled on original_source/
// tbd_for_main.c's pass-then-freeze lifecycle and uses gopkg.in/yaml.v3
// for the emission side.
package stub

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blacktop/go-tapi/types"
)

// SchemaVersion selects one of the four on-disk stub-file schemas
// (spec.md §4.7).
type SchemaVersion int

const (
	V1 SchemaVersion = iota + 1
	V2
	V3
	V4
)

func (v SchemaVersion) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	case V3:
		return "v3"
	case V4:
		return "v4"
	default:
		return fmt.Sprintf("SchemaVersion(%d)", int(v))
	}
}

// Target is an (architecture, platform) pair, spec.md §3. ArchIndex
// indexes types.ArchCatalog; the canonical ordering of a target set sorts
// by ArchIndex then Platform.
type Target struct {
	ArchIndex int
	Platform  types.Platform
}

func (t Target) String() string {
	arch := "unknown"
	if t.ArchIndex >= 0 && t.ArchIndex < len(types.ArchCatalog) {
		arch = types.ArchCatalog[t.ArchIndex].Name
	}
	return arch + "-" + t.Platform.String()
}

func (t Target) Less(o Target) bool {
	if t.ArchIndex != o.ArchIndex {
		return t.ArchIndex < o.ArchIndex
	}
	return t.Platform < o.Platform
}

// MetaType classifies which of the four symbol tables a SymbolKey belongs
// to, spec.md §3.
type MetaType int

const (
	Export MetaType = iota
	Reexport
	Undefined
	Client
)

func (m MetaType) String() string {
	switch m {
	case Export:
		return "export"
	case Reexport:
		return "reexport"
	case Undefined:
		return "undefined"
	case Client:
		return "client"
	default:
		return fmt.Sprintf("MetaType(%d)", int(m))
	}
}

// PredefinedType further distinguishes a symbol within its MetaType,
// spec.md §3/§4.6: weak and thread-local definitions, and the three
// Objective-C metadata prefixes that the legacy stub schemas call out as
// dedicated fields rather than plain exports.
type PredefinedType int

const (
	None PredefinedType = iota
	WeakDef
	ThreadLocal
	ObjcClass
	ObjcIvar
	ObjcEhtype
)

func (p PredefinedType) String() string {
	switch p {
	case None:
		return "none"
	case WeakDef:
		return "weak_def"
	case ThreadLocal:
		return "thread_local"
	case ObjcClass:
		return "objc_class"
	case ObjcIvar:
		return "objc_ivar"
	case ObjcEhtype:
		return "objc_ehtype"
	default:
		return fmt.Sprintf("PredefinedType(%d)", int(p))
	}
}

// Objective-C symbol-name prefixes (spec.md §4.6).
const (
	objcClassPrefix  = "_OBJC_CLASS_$"
	objcIvarPrefix   = "_OBJC_IVAR_$"
	objcEhtypePrefix = "_OBJC_EHTYPE_$"
)

// ClassifyObjcPrefix reports whether name carries one of the three
// Objective-C metadata prefixes the model gives dedicated predefined
// types, used both here (to reclassify on add) and by the symtab reader
// (to decide whether a private symbol may be admitted at all).
func ClassifyObjcPrefix(name string) (PredefinedType, bool) {
	switch {
	case strings.HasPrefix(name, objcClassPrefix):
		return ObjcClass, true
	case strings.HasPrefix(name, objcIvarPrefix):
		return ObjcIvar, true
	case strings.HasPrefix(name, objcEhtypePrefix):
		return ObjcEhtype, true
	default:
		return None, false
	}
}

// SymbolKey identifies a unique row in one of the four symbol tables,
// spec.md §3: two symbols are the same iff all three components match.
type SymbolKey struct {
	Name       string
	Meta       MetaType
	Predefined PredefinedType
}

// TargetMask is a bitset over the Info's canonical target list; bit i is
// set iff the symbol was observed under Targets()[i]. 64 targets is far
// beyond any real (arch, platform) catalog, so a single uint64 suffices.
type TargetMask uint64

func (m TargetMask) Has(bit int) bool { return m&(1<<uint(bit)) != 0 }
func (m TargetMask) IsEmpty() bool    { return m == 0 }
func (m TargetMask) Count() int {
	n := 0
	for b := m; b != 0; b &= b - 1 {
		n++
	}
	return n
}

// SymbolRecord is SymbolKey plus the set of targets it was observed under
// and whether it was externally visible where that matters (e.g.
// distinguishing N_EXT symbols during symtab classification).
type SymbolRecord struct {
	Key        SymbolKey
	Targets    TargetMask
	IsExternal bool
}

// ObjcConstraint is StubInfo's objc_constraint field (spec.md §3), one of
// a small fixed enumeration carried over from the legacy tbd schema.
type ObjcConstraint int

const (
	ObjcConstraintNone ObjcConstraint = iota
	ObjcConstraintRetainRelease
	ObjcConstraintRetainReleaseOrGC
	ObjcConstraintRetainReleaseForSimulator
	ObjcConstraintGC
)

func (c ObjcConstraint) String() string {
	switch c {
	case ObjcConstraintRetainRelease:
		return "retain_release"
	case ObjcConstraintRetainReleaseOrGC:
		return "retain_release_or_gc"
	case ObjcConstraintRetainReleaseForSimulator:
		return "retain_release_for_simulator"
	case ObjcConstraintGC:
		return "gc"
	default:
		return "none"
	}
}

// Flags is StubInfo's bitset field (spec.md §3).
type Flags uint8

const (
	FlagFlatNamespace Flags = 1 << iota
	FlagNotAppExtensionSafe
)

// AddOptions carries the per-run, caller-supplied filter toggles that
// apply at model-insertion time (spec.md §4.6 step 1 and §6's ignore-*
// CLI surface). These are distinct from the admission decisions C6 makes
// about which nlist entries are even offered to Add in the first place.
type AddOptions struct {
	IgnoreObjcClassSymbols  bool
	IgnoreObjcIvarSymbols   bool
	IgnoreObjcEhtypeSymbols bool
}

// Info is StubInfo, the root model (spec.md §3). It is constructed empty,
// mutated exclusively through its Set/Add methods keyed by the currently
// active target, and Frozen before emission; mutating a frozen Info is a
// programming error.
type Info struct {
	Version              SchemaVersion
	InstallName          string
	CurrentVersion       types.Version
	CompatibilityVersion types.Version
	Flags                Flags
	ObjcConstraint       ObjcConstraint
	SwiftVersion         int

	installNameSet bool

	parentUmbrella map[Target]string
	uuids          map[Target]types.UUID

	exports    map[SymbolKey]*SymbolRecord
	reexports  map[SymbolKey]*SymbolRecord
	undefineds map[SymbolKey]*SymbolRecord
	clients    map[SymbolKey]*SymbolRecord

	targets     []Target
	targetIndex map[Target]int
	frozen      bool

	// Populated by Freeze and consumed by the emitter; nil before Freeze.
	sortedExports    []*SymbolRecord
	sortedReexports  []*SymbolRecord
	sortedUndefineds []*SymbolRecord
	sortedClients    []*SymbolRecord
}

// NewInfo constructs an empty model for the given schema version.
func NewInfo(version SchemaVersion) *Info {
	return &Info{
		Version:        version,
		parentUmbrella: make(map[Target]string),
		uuids:          make(map[Target]types.UUID),
		exports:        make(map[SymbolKey]*SymbolRecord),
		reexports:      make(map[SymbolKey]*SymbolRecord),
		undefineds:     make(map[SymbolKey]*SymbolRecord),
		clients:        make(map[SymbolKey]*SymbolRecord),
		targetIndex:    make(map[Target]int),
	}
}

// EnsureTarget registers t in the model's target set if not already
// present and returns its bit index. Indices are assigned in first-seen
// order; they are only stable before Freeze is called. Freeze sorts the
// target list and renumbers every recorded TargetMask to match, so code
// must not cache a bit index across a Freeze call.
func (m *Info) EnsureTarget(t Target) int {
	if idx, ok := m.targetIndex[t]; ok {
		return idx
	}
	idx := len(m.targets)
	m.targets = append(m.targets, t)
	m.targetIndex[t] = idx
	return idx
}

// Targets returns the model's target set. Before Freeze it is in
// first-seen order; after Freeze it is sorted by (arch index, platform).
func (m *Info) Targets() []Target { return m.targets }

// BitFor reports whether t has been registered, and if so its bit index.
func (m *Info) BitFor(t Target) (int, bool) {
	idx, ok := m.targetIndex[t]
	return idx, ok
}

// Conflict is returned by Set* methods when a later value disagrees with
// one already recorded for the same key, per spec.md §7's "semantic
// conflict (recoverable)" class. Callers consult a ConflictPolicy to
// decide whether to continue.
type Conflict struct {
	Kind     ConflictKind
	Detail   string
	Keep     any
	Observed any
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("%s: %s", c.Kind, c.Detail)
}

// ConflictKind enumerates the semantic-conflict classes spec.md §7 and
// §4.2 name explicitly.
type ConflictKind int

const (
	ConflictDylibID ConflictKind = iota
	ConflictUUID
	ConflictExportTrieOffset
	ConflictParentUmbrella
	ConflictPlatform
	ConflictSymtab
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictDylibID:
		return "conflicting LC_ID_DYLIB"
	case ConflictUUID:
		return "conflicting LC_UUID"
	case ConflictExportTrieOffset:
		return "conflicting export-trie offset"
	case ConflictParentUmbrella:
		return "conflicting parent umbrella"
	case ConflictPlatform:
		return "conflicting platform"
	case ConflictSymtab:
		return "conflicting LC_SYMTAB"
	default:
		return "conflict"
	}
}

// SetInstallName records the authoritative install name and version pair
// from LC_ID_DYLIB. The first call wins; later calls must match exactly
// or the returned bool is false, signaling a conflict to the caller.
func (m *Info) SetInstallName(name string, cur, compat types.Version) bool {
	if !m.installNameSet {
		m.InstallName = name
		m.CurrentVersion = cur
		m.CompatibilityVersion = compat
		m.installNameSet = true
		return true
	}
	return m.InstallName == name && m.CurrentVersion == cur && m.CompatibilityVersion == compat
}

// SetParentUmbrella records the parent umbrella for target. A second,
// differing call for the same target is a conflict (returns false).
func (m *Info) SetParentUmbrella(target Target, name string) bool {
	if existing, ok := m.parentUmbrella[target]; ok {
		return existing == name
	}
	m.parentUmbrella[target] = name
	return true
}

// SetUUID records target's image UUID. A second, differing UUID for the
// same target is a conflict.
func (m *Info) SetUUID(target Target, uuid types.UUID) bool {
	if existing, ok := m.uuids[target]; ok {
		return existing == uuid
	}
	m.uuids[target] = uuid
	return true
}

func (m *Info) tableFor(meta MetaType) map[SymbolKey]*SymbolRecord {
	switch meta {
	case Export:
		return m.exports
	case Reexport:
		return m.reexports
	case Undefined:
		return m.undefineds
	case Client:
		return m.clients
	default:
		panic(fmt.Sprintf("stub: unknown MetaType %v", meta))
	}
}

// AddSymbol implements the add-symbol operation (spec.md §4.6): it
// reclassifies Objective-C metadata names into their dedicated
// PredefinedType, drops them if the matching ignore option is set,
// then unions target's bit into the existing record or inserts a new
// one keyed by SymbolKey.
func (m *Info) AddSymbol(name string, meta MetaType, predefined PredefinedType, isExternal bool, target Target, opts AddOptions) {
	if objcType, ok := ClassifyObjcPrefix(name); ok {
		switch objcType {
		case ObjcClass:
			if opts.IgnoreObjcClassSymbols {
				return
			}
		case ObjcIvar:
			if opts.IgnoreObjcIvarSymbols {
				return
			}
		case ObjcEhtype:
			if opts.IgnoreObjcEhtypeSymbols {
				return
			}
		}
		predefined = objcType
	}

	bit := m.EnsureTarget(target)
	key := SymbolKey{Name: name, Meta: meta, Predefined: predefined}
	table := m.tableFor(meta)

	if rec, ok := table[key]; ok {
		rec.Targets |= 1 << uint(bit)
		rec.IsExternal = rec.IsExternal || isExternal
		return
	}
	table[key] = &SymbolRecord{
		Key:        key,
		Targets:    1 << uint(bit),
		IsExternal: isExternal,
	}
}

// ParentUmbrella returns the parent umbrella recorded for target, if any.
func (m *Info) ParentUmbrella(target Target) (string, bool) {
	v, ok := m.parentUmbrella[target]
	return v, ok
}

// UUID returns the UUID recorded for target, if any.
func (m *Info) UUID(target Target) (types.UUID, bool) {
	v, ok := m.uuids[target]
	return v, ok
}

func sortRecords(recs []*SymbolRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Key, recs[j].Key
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Meta != b.Meta {
			return a.Meta < b.Meta
		}
		return a.Predefined < b.Predefined
	})
}

func collect(table map[SymbolKey]*SymbolRecord) []*SymbolRecord {
	out := make([]*SymbolRecord, 0, len(table))
	for _, rec := range table {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

// Freeze sorts every symbol table by (name, meta_type, predefined_type)
// and the target set by (arch index, platform), per spec.md §4.6
// "Ordering". Mutating the model after Freeze is undefined, per spec.md
// §3's lifecycle note.
func (m *Info) Freeze() error {
	if m.frozen {
		return nil
	}
	if m.InstallName == "" {
		return fmt.Errorf("stub: install_name must not be empty (invariant I4)")
	}
	if m.Version == V1 {
		if len(m.undefineds) != 0 {
			return fmt.Errorf("stub: v1 stubs must not carry undefineds (invariant I5)")
		}
	}

	m.renumberTargets()

	full := TargetMask(0)
	if len(m.targets) < 64 {
		full = TargetMask(1<<uint(len(m.targets))) - 1
	} else {
		full = ^TargetMask(0)
	}
	for _, table := range []map[SymbolKey]*SymbolRecord{m.exports, m.reexports, m.undefineds, m.clients} {
		for _, rec := range table {
			if rec.Targets.IsEmpty() || rec.Targets&^full != 0 {
				return fmt.Errorf("stub: %s target mask %#x not a non-empty subset of model targets (invariants I1/P4)", rec.Key.Name, rec.Targets)
			}
		}
	}

	m.sortedExports = collect(m.exports)
	m.sortedReexports = collect(m.reexports)
	m.sortedUndefineds = collect(m.undefineds)
	m.sortedClients = collect(m.clients)
	m.frozen = true
	return nil
}

// Frozen reports whether Freeze has been called.
func (m *Info) Frozen() bool { return m.frozen }

// CollapseTargets merges any now-duplicate entries left in m.targets by an
// in-place edit through the slice Targets() returns (e.g. a --replace-platform
// override collapsing two previously-distinct targets onto the same
// platform). Duplicates are merged into the first-seen occurrence; every
// TargetMask bit belonging to a later duplicate is OR'd onto that bit before
// the later slot is dropped. m.uuids/m.parentUmbrella need no remapping: they
// are keyed by Target value, so a merge only ever makes two keys collide,
// never orphans one. A no-op if m.targets has no duplicates.
func (m *Info) CollapseTargets() {
	newTargets := make([]Target, 0, len(m.targets))
	newIndex := make(map[Target]int, len(m.targets))
	remap := make([]int, len(m.targets))
	for oldBit, t := range m.targets {
		if idx, ok := newIndex[t]; ok {
			remap[oldBit] = idx
			continue
		}
		idx := len(newTargets)
		newTargets = append(newTargets, t)
		newIndex[t] = idx
		remap[oldBit] = idx
	}
	if len(newTargets) == len(m.targets) {
		return
	}

	remapMask := func(mask TargetMask) TargetMask {
		var out TargetMask
		for oldBit := 0; oldBit < len(remap); oldBit++ {
			if mask.Has(oldBit) {
				out |= 1 << uint(remap[oldBit])
			}
		}
		return out
	}
	for _, table := range []map[SymbolKey]*SymbolRecord{m.exports, m.reexports, m.undefineds, m.clients} {
		for _, rec := range table {
			rec.Targets = remapMask(rec.Targets)
		}
	}

	m.targets = newTargets
	m.targetIndex = newIndex
}

// renumberTargets sorts m.targets into canonical (arch index, platform)
// order and remaps every recorded TargetMask and m.targetIndex from the
// old first-seen bit numbering to the new sorted one, so bit i always
// refers to m.targets[i] after Freeze. m.uuids/m.parentUmbrella are keyed
// by Target value directly and need no remapping.
func (m *Info) renumberTargets() {
	oldTargets := m.targets
	sorted := make([]Target, len(oldTargets))
	copy(sorted, oldTargets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	newIndex := make(map[Target]int, len(sorted))
	for i, t := range sorted {
		newIndex[t] = i
	}
	remap := make([]int, len(oldTargets))
	for oldBit, t := range oldTargets {
		remap[oldBit] = newIndex[t]
	}

	remapMask := func(mask TargetMask) TargetMask {
		var out TargetMask
		for oldBit := 0; oldBit < len(remap); oldBit++ {
			if mask.Has(oldBit) {
				out |= 1 << uint(remap[oldBit])
			}
		}
		return out
	}

	for _, table := range []map[SymbolKey]*SymbolRecord{m.exports, m.reexports, m.undefineds, m.clients} {
		for _, rec := range table {
			rec.Targets = remapMask(rec.Targets)
		}
	}

	m.targets = sorted
	m.targetIndex = newIndex
}
