package macho

import (
	"encoding/binary"
	"fmt"

	"github.com/blacktop/go-tapi/internal/bio"
	"github.com/blacktop/go-tapi/pkg/stub"
	"github.com/blacktop/go-tapi/pkg/trie"
	"github.com/blacktop/go-tapi/types"
)

// ParseOptions carries the per-run toggles spec.md §4.3/§4.6 and §6's
// ignore-*/allow-priv-* CLI surface route down into the load-command
// walker, the symbol-table reader and the stub model's add-symbol step.
type ParseOptions struct {
	IgnoreExports    bool
	IgnoreUndefineds bool
	IgnoreReexports  bool
	IgnoreClients    bool

	AllowPrivObjcClassSyms  bool
	AllowPrivObjcIvarSyms   bool
	AllowPrivObjcEhtypeSyms bool

	// AllowCatalystAlias permits a second LC_BUILD_VERSION whose platform
	// disagrees with the first to be tolerated, forcing the effective
	// platform to catalyst, when both platforms are in {macos, catalyst}
	// (spec.md §9 Open Question, resolved: kept, default on).
	AllowCatalystAlias bool

	Stub stub.AddOptions
}

// DefaultParseOptions matches the original tool's defaults: nothing is
// filtered out and the catalyst alias is honored.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{AllowCatalystAlias: true}
}

// min_command_size values per spec.md §4.2's string-offset validation,
// one per command carrying an embedded string.
const (
	minDylibCmdSize     = 24 // LoadCmdHeader + NameOffset + Time + CurrentVersion + CompatVersion
	minSubFrameworkSize = 12 // LoadCmdHeader + FrameworkOffset
	minSubClientSize    = 12 // LoadCmdHeader + ClientOffset
)

// pending accumulates the parts of a single slice's load-command walk that
// cannot be committed to the model until the slice's (arch, platform)
// target is fully resolved: the platform itself may be set by a command
// anywhere in the list, including after the reexports/clients/umbrella/
// uuid commands that are keyed by it.
type pending struct {
	reexports []string
	clients   []string

	parentUmbrella    string
	parentUmbrellaSet bool

	uuid    types.UUID
	uuidSet bool

	symtab    *types.SymtabCmd
	exportOff uint32
	exportSz  uint32
	exportSet bool

	platform         types.Platform
	platformSet      bool
	buildVersionSeen bool
}

// ParseSlice walks one Mach-O image's load commands — a standalone file,
// one arch slice of a fat file, or one image embedded in a dyld shared
// cache — feeding the symbol-table reader (C6) and export-trie walker
// (C7) into model under the (archIndex, resolved-platform) target it
// discovers along the way (spec.md §4.2/§4.6).
//
// headerOffset and limit are absolute offsets into slab: the Mach-O
// header starts at headerOffset, and nothing this walk touches may
// reach at or past limit. offsetBase is added to every *embedded*
// symoff/stroff/export-offset field before it is treated as an absolute
// slab offset: for a standalone file or a fat-file slice those fields are
// relative to the slice's own header (offsetBase == headerOffset), while
// for a dyld shared-cache image they are already cache-absolute
// (offsetBase == 0), since cache images share one linkedit region.
//
// Grounded on the teacher's file.go NewFile load-command dispatch loop,
// narrowed to the commands spec.md §4.2 names and restructured around a
// conflict-policy callback instead of a hard failure.
func ParseSlice(slab bio.Slab, headerOffset, offsetBase, limit int64, archIndex int, model *stub.Info, policy stub.ConflictPolicy, opts ParseOptions) (stub.Target, error) {
	h, err := readHeader(bio.NewReader(slab, binary.LittleEndian), headerOffset)
	if err != nil {
		return stub.Target{}, err
	}
	cmdAreaStart := headerOffset + h.headerSize()
	cmdAreaEnd := cmdAreaStart + int64(h.FH.SizeCommands)
	if cmdAreaEnd > limit {
		return stub.Target{}, fmt.Errorf("%w: command area runs past slice limit", ErrBounds)
	}

	p := &pending{}
	cur := cmdAreaStart
	for i := uint32(0); i < h.FH.NCommands; i++ {
		if cur+8 > cmdAreaEnd {
			return stub.Target{}, fmt.Errorf("%w: command %d starts past the command area", ErrCmdOverruns, i)
		}
		rawCmd, err := h.Reader.Uint32(cur)
		if err != nil {
			return stub.Target{}, err
		}
		cmdSize, err := h.Reader.Uint32(cur + 4)
		if err != nil {
			return stub.Target{}, err
		}
		if cmdSize < 8 {
			return stub.Target{}, fmt.Errorf("%w: command %d", ErrCmdTooSmall, i)
		}
		if cur+int64(cmdSize) > cmdAreaEnd {
			return stub.Target{}, fmt.Errorf("%w: command %d", ErrCmdOverruns, i)
		}

		if err := dispatchCommand(h, p, types.LoadCmd(rawCmd), cur, cmdSize, policy, model, opts); err != nil {
			return stub.Target{}, err
		}
		cur += int64(cmdSize)
	}

	if !p.platformSet {
		p.platform = types.PlatformNone
	}
	target := stub.Target{ArchIndex: archIndex, Platform: p.platform}
	model.EnsureTarget(target)

	// The stub model's flags field (spec.md §3, emitted at v3+ per §4.7)
	// derives from the mach_header flags the same way the original tbd
	// tool does: MH_FORCE_FLAT -> flat_namespace, and the absence of
	// MH_APP_EXTENSION_SAFE -> not_app_extension_safe. ORed in rather than
	// assigned outright so a fat file's slices agreeing on these bits (the
	// normal case) don't fight each other across ParseSlice calls sharing
	// one model.
	if h.FH.Flags.ForceFlat() {
		model.Flags |= stub.FlagFlatNamespace
	}
	if !h.FH.Flags.AppExtSafe() {
		model.Flags |= stub.FlagNotAppExtensionSafe
	}

	if p.uuidSet {
		if !model.SetUUID(target, p.uuid) {
			if err := resolveConflict(policy, stub.ConflictUUID, target.String(), nil, p.uuid); err != nil {
				return target, err
			}
		}
	}
	if p.parentUmbrellaSet {
		if !model.SetParentUmbrella(target, p.parentUmbrella) {
			if err := resolveConflict(policy, stub.ConflictParentUmbrella, target.String(), nil, p.parentUmbrella); err != nil {
				return target, err
			}
		}
	}
	if !opts.IgnoreReexports {
		for _, name := range p.reexports {
			model.AddSymbol(name, stub.Reexport, stub.None, true, target, opts.Stub)
		}
	}
	if !opts.IgnoreClients {
		for _, name := range p.clients {
			model.AddSymbol(name, stub.Client, stub.None, true, target, opts.Stub)
		}
	}

	if p.symtab != nil {
		if err := parseSymtab(h.Reader, h.Is64, offsetBase, limit, *p.symtab, target, model.Version, model, opts); err != nil {
			return target, err
		}
	}

	if p.exportSet && p.exportSz > 0 {
		absOff := offsetBase + int64(p.exportOff)
		data, err := bio.SlabBytes(slab, absOff, int64(p.exportSz))
		if err != nil {
			return target, fmt.Errorf("macho: reading export trie: %w", err)
		}
		entries, err := trie.ParseTrie(data, 0)
		if err != nil {
			return target, fmt.Errorf("macho: export trie: %w", err)
		}
		for _, e := range entries {
			addTrieEntry(model, target, e, opts)
		}
	}

	return target, nil
}

func addTrieEntry(model *stub.Info, target stub.Target, e trie.TrieEntry, opts ParseOptions) {
	predefined := stub.None
	switch {
	case e.Flags.ThreadLocal():
		predefined = stub.ThreadLocal
	case e.Flags.Regular() && e.Flags.WeakDefinition():
		predefined = stub.WeakDef
	}
	meta := stub.Export
	if e.Flags.ReExport() {
		if opts.IgnoreReexports {
			return
		}
		meta = stub.Reexport
	} else if opts.IgnoreExports {
		return
	}
	model.AddSymbol(e.Name, meta, predefined, true, target, opts.Stub)
}

func resolveConflict(policy stub.ConflictPolicy, kind stub.ConflictKind, detail string, keep, observed any) error {
	c := &stub.Conflict{Kind: kind, Detail: detail, Keep: keep, Observed: observed}
	if !policy.Resolve(c) {
		return fmt.Errorf("macho: %w", c)
	}
	return nil
}

// readEmbeddedString reads the NUL-terminated string at cmdStart+offset,
// bounded to [minSize, cmdSize) per spec.md §4.2's string-offset
// validation; a zero-length result is reported back as ok == false so
// the caller can silently ignore it rather than treat it as absent.
func readEmbeddedString(r *bio.Reader, cmdStart int64, cmdSize, offset, minSize uint32) (s string, ok bool, err error) {
	if offset < minSize || offset >= cmdSize {
		return "", false, fmt.Errorf("%w: embedded string offset %d not in [%d,%d)", ErrBounds, offset, minSize, cmdSize)
	}
	limit := cmdStart + int64(cmdSize)
	str, err := r.CString(cmdStart+int64(offset), limit)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrStringOverrun, err)
	}
	return str, str != "", nil
}

func dispatchCommand(h *header, p *pending, cmd types.LoadCmd, cmdStart int64, cmdSize uint32, policy stub.ConflictPolicy, model *stub.Info, opts ParseOptions) error {
	r := h.Reader
	switch cmd {
	case types.LC_ID_DYLIB, types.LC_LOAD_DYLIB, types.LC_LOAD_WEAK_DYLIB, types.LC_REEXPORT_DYLIB, types.LC_LOAD_UPWARD_DYLIB, types.LC_LAZY_LOAD_DYLIB:
		dc, err := readDylibCmd(r, cmd, cmdStart, cmdSize)
		if err != nil {
			return err
		}
		name, ok, err := readEmbeddedString(r, cmdStart, cmdSize, dc.NameOffset, minDylibCmdSize)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if cmd == types.LC_ID_DYLIB {
			if !model.SetInstallName(name, dc.CurrentVersion, dc.CompatVersion) {
				return resolveConflict(policy, stub.ConflictDylibID, name, model.InstallName, name)
			}
		} else if cmd == types.LC_REEXPORT_DYLIB {
			p.reexports = append(p.reexports, name)
		}

	case types.LC_SUB_CLIENT:
		sc, err := readSubClientCmd(r, cmd, cmdStart, cmdSize)
		if err != nil {
			return err
		}
		name, ok, err := readEmbeddedString(r, cmdStart, cmdSize, sc.ClientOffset, minSubClientSize)
		if err != nil {
			return err
		}
		if ok {
			p.clients = append(p.clients, name)
		}

	case types.LC_SUB_FRAMEWORK:
		sf, err := readSubFrameworkCmd(r, cmd, cmdStart, cmdSize)
		if err != nil {
			return err
		}
		name, ok, err := readEmbeddedString(r, cmdStart, cmdSize, sf.FrameworkOffset, minSubFrameworkSize)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if p.parentUmbrellaSet && p.parentUmbrella != name {
			if err := resolveConflict(policy, stub.ConflictParentUmbrella, name, p.parentUmbrella, name); err != nil {
				return err
			}
		}
		p.parentUmbrella = name
		p.parentUmbrellaSet = true

	case types.LC_UUID:
		uc, err := readUUIDCmd(h, cmd, cmdStart, cmdSize)
		if err != nil {
			return err
		}
		if p.uuidSet && p.uuid != uc.UUID {
			if err := resolveConflict(policy, stub.ConflictUUID, uc.UUID.String(), p.uuid, uc.UUID); err != nil {
				return err
			}
		}
		p.uuid = uc.UUID
		p.uuidSet = true

	case types.LC_SYMTAB:
		sc, err := readSymtabCmd(r, cmd, cmdStart, cmdSize)
		if err != nil {
			return err
		}
		if p.symtab != nil && *p.symtab != sc {
			if err := resolveConflict(policy, stub.ConflictSymtab, "LC_SYMTAB", *p.symtab, sc); err != nil {
				return err
			}
		}
		p.symtab = &sc

	case types.LC_DYLD_INFO, types.LC_DYLD_INFO_ONLY:
		dic, err := readDyldInfoCmd(r, cmd, cmdStart, cmdSize)
		if err != nil {
			return err
		}
		if err := mergeExportRange(p, policy, dic.ExportOff, dic.ExportSize); err != nil {
			return err
		}

	case types.LC_DYLD_EXPORTS_TRIE:
		led, err := readLinkEditDataCmd(r, cmd, cmdStart, cmdSize)
		if err != nil {
			return err
		}
		if err := mergeExportRange(p, policy, led.Offset, led.Size); err != nil {
			return err
		}

	case types.LC_VERSION_MIN_MACOSX, types.LC_VERSION_MIN_IPHONEOS, types.LC_VERSION_MIN_TVOS, types.LC_VERSION_MIN_WATCHOS:
		if p.buildVersionSeen {
			return nil
		}
		candidate := versionMinPlatform(cmd)
		if p.platformSet && p.platform != candidate {
			if err := resolveConflict(policy, stub.ConflictPlatform, candidate.String(), p.platform, candidate); err != nil {
				return err
			}
		}
		p.platform = candidate
		p.platformSet = true

	case types.LC_BUILD_VERSION:
		bvc, err := readBuildVersionCmd(r, cmd, cmdStart, cmdSize)
		if err != nil {
			return err
		}
		if !bvc.Platform.Valid() {
			return fmt.Errorf("%w: invalid LC_BUILD_VERSION platform %d", ErrBounds, uint32(bvc.Platform))
		}
		candidate := bvc.Platform
		if p.buildVersionSeen && p.platform != candidate {
			if isCatalystPair(p.platform, candidate) && opts.AllowCatalystAlias {
				candidate = types.PlatformMacCatalyst
			} else if err := resolveConflict(policy, stub.ConflictPlatform, candidate.String(), p.platform, candidate); err != nil {
				return err
			}
		}
		p.platform = candidate
		p.platformSet = true
		p.buildVersionSeen = true
	}
	return nil
}

// The read* helpers below decode a load command's fixed-size payload into
// its types.*Cmd struct field by field through the bio.Reader, the same
// "reader is the only decode primitive" posture as readHeader/parseSymtab;
// they replace what was previously ad hoc r.Uint32(cmdStart+N) arithmetic
// scattered through dispatchCommand, matching the teacher's style of
// populating a named command struct per case (file.go's binary.Read into
// types.DylibCmd/SubFrameworkCmd/SubClientCmd) adapted to this module's
// offset-based reader instead of io.Reader-based binary.Read.

func readDylibCmd(r *bio.Reader, cmd types.LoadCmd, cmdStart int64, cmdSize uint32) (types.DylibCmd, error) {
	var dc types.DylibCmd
	dc.Cmd, dc.CmdSize = cmd, cmdSize
	var err error
	if dc.NameOffset, err = r.Uint32(cmdStart + 8); err != nil {
		return dc, err
	}
	if dc.Time, err = r.Uint32(cmdStart + 12); err != nil {
		return dc, err
	}
	curRaw, err := r.Uint32(cmdStart + 16)
	if err != nil {
		return dc, err
	}
	dc.CurrentVersion = types.Version(curRaw)
	compatRaw, err := r.Uint32(cmdStart + 20)
	if err != nil {
		return dc, err
	}
	dc.CompatVersion = types.Version(compatRaw)
	return dc, nil
}

func readSubFrameworkCmd(r *bio.Reader, cmd types.LoadCmd, cmdStart int64, cmdSize uint32) (types.SubFrameworkCmd, error) {
	var sf types.SubFrameworkCmd
	sf.Cmd, sf.CmdSize = cmd, cmdSize
	off, err := r.Uint32(cmdStart + 8)
	if err != nil {
		return sf, err
	}
	sf.FrameworkOffset = off
	return sf, nil
}

func readSubClientCmd(r *bio.Reader, cmd types.LoadCmd, cmdStart int64, cmdSize uint32) (types.SubClientCmd, error) {
	var sc types.SubClientCmd
	sc.Cmd, sc.CmdSize = cmd, cmdSize
	off, err := r.Uint32(cmdStart + 8)
	if err != nil {
		return sc, err
	}
	sc.ClientOffset = off
	return sc, nil
}

func readUUIDCmd(h *header, cmd types.LoadCmd, cmdStart int64, cmdSize uint32) (types.UUIDCmd, error) {
	var uc types.UUIDCmd
	uc.Cmd, uc.CmdSize = cmd, cmdSize
	if _, err := slabReadAt(h, cmdStart+8, uc.UUID[:]); err != nil {
		return uc, err
	}
	return uc, nil
}

func readSymtabCmd(r *bio.Reader, cmd types.LoadCmd, cmdStart int64, cmdSize uint32) (types.SymtabCmd, error) {
	var sc types.SymtabCmd
	sc.Cmd, sc.CmdSize = cmd, cmdSize
	var err error
	if sc.Symoff, err = r.Uint32(cmdStart + 8); err != nil {
		return sc, err
	}
	if sc.Nsyms, err = r.Uint32(cmdStart + 12); err != nil {
		return sc, err
	}
	if sc.Stroff, err = r.Uint32(cmdStart + 16); err != nil {
		return sc, err
	}
	if sc.Strsize, err = r.Uint32(cmdStart + 20); err != nil {
		return sc, err
	}
	return sc, nil
}

// readDyldInfoCmd decodes LC_DYLD_INFO[_ONLY]'s full payload. Only
// ExportOff/ExportSize feed the model (see types.DyldInfoCmd's doc
// comment); the rebase/bind/weak-bind/lazy-bind ranges are decoded because
// they sit in front of the export range in the command layout, not because
// anything downstream consumes them.
func readDyldInfoCmd(r *bio.Reader, cmd types.LoadCmd, cmdStart int64, cmdSize uint32) (types.DyldInfoCmd, error) {
	var dic types.DyldInfoCmd
	dic.Cmd, dic.CmdSize = cmd, cmdSize
	fields := []*uint32{
		&dic.RebaseOff, &dic.RebaseSize,
		&dic.BindOff, &dic.BindSize,
		&dic.WeakBindOff, &dic.WeakBindSize,
		&dic.LazyBindOff, &dic.LazyBindSize,
		&dic.ExportOff, &dic.ExportSize,
	}
	for i, f := range fields {
		v, err := r.Uint32(cmdStart + 8 + int64(i)*4)
		if err != nil {
			return dic, err
		}
		*f = v
	}
	return dic, nil
}

func readLinkEditDataCmd(r *bio.Reader, cmd types.LoadCmd, cmdStart int64, cmdSize uint32) (types.LinkEditDataCmd, error) {
	var led types.LinkEditDataCmd
	led.Cmd, led.CmdSize = cmd, cmdSize
	var err error
	if led.Offset, err = r.Uint32(cmdStart + 8); err != nil {
		return led, err
	}
	if led.Size, err = r.Uint32(cmdStart + 12); err != nil {
		return led, err
	}
	return led, nil
}

// readBuildVersionCmd decodes LC_BUILD_VERSION's fixed-size payload (the
// variable-length trailing build_tool_version entries are skipped: spec.md
// never asks for tool versions). Minos/Sdk/NumTools are decoded as part of
// the struct but, like DyldInfoCmd's bind ranges, have no stub-model field
// to land in; only Platform drives the walk.
func readBuildVersionCmd(r *bio.Reader, cmd types.LoadCmd, cmdStart int64, cmdSize uint32) (types.BuildVersionCmd, error) {
	var bvc types.BuildVersionCmd
	bvc.Cmd, bvc.CmdSize = cmd, cmdSize
	rawPlatform, err := r.Uint32(cmdStart + 8)
	if err != nil {
		return bvc, err
	}
	bvc.Platform = types.Platform(rawPlatform)
	minos, err := r.Uint32(cmdStart + 12)
	if err != nil {
		return bvc, err
	}
	bvc.Minos = types.Version(minos)
	sdk, err := r.Uint32(cmdStart + 16)
	if err != nil {
		return bvc, err
	}
	bvc.Sdk = types.Version(sdk)
	if bvc.NumTools, err = r.Uint32(cmdStart + 20); err != nil {
		return bvc, err
	}
	return bvc, nil
}

func isCatalystPair(a, b types.Platform) bool {
	isEither := func(p types.Platform) bool { return p == types.PlatformMacOS || p == types.PlatformMacCatalyst }
	return isEither(a) && isEither(b)
}

func versionMinPlatform(cmd types.LoadCmd) types.Platform {
	switch cmd {
	case types.LC_VERSION_MIN_MACOSX:
		return types.PlatformMacOS
	case types.LC_VERSION_MIN_IPHONEOS:
		return types.PlatformIOS
	case types.LC_VERSION_MIN_TVOS:
		return types.PlatformTvOS
	case types.LC_VERSION_MIN_WATCHOS:
		return types.PlatformWatchOS
	default:
		return types.PlatformNone
	}
}

// mergeExportRange implements spec.md §4.2's "when both appear and
// disagree, raise a conflict callback; otherwise accept the later" rule
// for the export-trie offset/size pair, however it was sourced
// (LC_DYLD_INFO[_ONLY] or LC_DYLD_EXPORTS_TRIE).
func mergeExportRange(p *pending, policy stub.ConflictPolicy, off, size uint32) error {
	if p.exportSet && (p.exportOff != off || p.exportSz != size) {
		if err := resolveConflict(policy, stub.ConflictExportTrieOffset,
			fmt.Sprintf("off=%d size=%d", off, size), [2]uint32{p.exportOff, p.exportSz}, [2]uint32{off, size}); err != nil {
			return err
		}
	}
	p.exportOff, p.exportSz, p.exportSet = off, size, true
	return nil
}

func slabReadAt(h *header, off int64, buf []byte) (int, error) {
	return h.Reader.Slab.ReadAt(buf, off)
}
