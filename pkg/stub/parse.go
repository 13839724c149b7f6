package stub

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blacktop/go-tapi/types"
	"gopkg.in/yaml.v3"
)

// Parse reads a stub file previously produced by Emit back into a fresh,
// frozen Info. It exists to support the round-trip properties (P1, P5):
// emit → parse → emit again must reproduce the same bytes (P5) and the
// same model (P1). Parse only needs to understand what Emit produces, not
// arbitrary hand-written stub files.
func Parse(data []byte) (*Info, error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(string(data), "\n")+"\n", "...\n")
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(trimmed), &root); err != nil {
		return nil, fmt.Errorf("stub: parsing yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("stub: empty document")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("stub: root is not a mapping")
	}

	m := &Info{
		parentUmbrella: make(map[Target]string),
		uuids:          make(map[Target]types.UUID),
		exports:        make(map[SymbolKey]*SymbolRecord),
		reexports:      make(map[SymbolKey]*SymbolRecord),
		undefineds:     make(map[SymbolKey]*SymbolRecord),
		clients:        make(map[SymbolKey]*SymbolRecord),
		targetIndex:    make(map[Target]int),
	}

	fields := mapFields(doc)

	isV4 := false
	if targetsNode, ok := fields["targets"]; ok {
		isV4 = true
		for _, n := range targetsNode.Content {
			t, err := parseTargetString(n.Value)
			if err != nil {
				return nil, err
			}
			m.EnsureTarget(t)
		}
	} else if archsNode, ok := fields["archs"]; ok {
		platform := types.PlatformNone
		if p, ok := fields["platform"]; ok {
			platform = parsePlatformString(p.Value)
		}
		for _, n := range archsNode.Content {
			idx := types.ArchByName(n.Value)
			m.EnsureTarget(Target{ArchIndex: idx, Platform: platform})
		}
	}

	// Emit writes no schema tag, so the version is recovered from the keys
	// Emit only writes from a given version on.
	switch {
	case isV4:
		m.Version = V4
	case fields["flags"] != nil:
		m.Version = V3
	case fields["swift-version"] != nil:
		m.Version = V2
	default:
		m.Version = V1
	}

	if n, ok := fields["install-name"]; ok {
		m.InstallName = n.Value
	}
	if n, ok := fields["current-version"]; ok {
		m.CurrentVersion = parseVersionString(n.Value)
	}
	if n, ok := fields["compatibility-version"]; ok {
		m.CompatibilityVersion = parseVersionString(n.Value)
	}
	if n, ok := fields["swift-version"]; ok {
		wire, _ := strconv.Atoi(n.Value)
		m.SwiftVersion = SwiftVersionFromWire(wire)
	}
	if n, ok := fields["objc-constraint"]; ok {
		m.ObjcConstraint = parseObjcConstraint(n.Value)
	}
	if n, ok := fields["flags"]; ok {
		for _, f := range n.Content {
			switch f.Value {
			case "flat_namespace":
				m.Flags |= FlagFlatNamespace
			case "not_app_extension_safe":
				m.Flags |= FlagNotAppExtensionSafe
			}
		}
	}
	if n, ok := fields["parent-umbrella"]; ok {
		for _, entry := range n.Content {
			ef := mapFields(entry)
			t, err := parseTargetString(ef["target"].Value)
			if err != nil {
				return nil, err
			}
			m.SetParentUmbrella(t, ef["umbrella"].Value)
		}
	}
	if n, ok := fields["uuids"]; ok {
		for _, entry := range n.Content {
			ef := mapFields(entry)
			t, err := parseTargetString(ef["target"].Value)
			if err != nil {
				return nil, err
			}
			if uuid, err := types.ParseUUID(ef["value"].Value); err == nil {
				m.SetUUID(t, uuid)
			}
		}
	}

	if isV4 {
		m.parseV4Symbols(fields, "exports", Export)
		m.parseV4Symbols(fields, "reexports", Reexport)
		m.parseV4Symbols(fields, "undefineds", Undefined)
	} else {
		all := m.targets
		m.parseLegacySymbols(fields, "exports", Export, all)
		m.parseLegacySymbols(fields, "reexports", Reexport, all)
		m.parseLegacySymbols(fields, "undefineds", Undefined, all)
	}

	if err := m.Freeze(); err != nil {
		return nil, err
	}
	return m, nil
}

func mapFields(n *yaml.Node) map[string]*yaml.Node {
	out := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out[n.Content[i].Value] = n.Content[i+1]
	}
	return out
}

func splitWrapped(seq *yaml.Node) []string {
	var names []string
	for _, chunk := range seq.Content {
		for _, n := range strings.Split(chunk.Value, ",") {
			n = strings.TrimSpace(n)
			if n != "" {
				names = append(names, n)
			}
		}
	}
	return names
}

func (m *Info) parseLegacySymbols(fields map[string]*yaml.Node, key string, meta MetaType, targets []Target) {
	n, ok := fields[key]
	if !ok {
		return
	}
	for _, name := range splitWrapped(n) {
		for _, t := range targets {
			m.AddSymbol(name, meta, None, true, t, AddOptions{})
		}
	}
}

func (m *Info) parseV4Symbols(fields map[string]*yaml.Node, key string, meta MetaType) {
	n, ok := fields[key]
	if !ok {
		return
	}
	for _, group := range n.Content {
		gf := mapFields(group)
		var targets []Target
		if tn, ok := gf["targets"]; ok {
			for _, tnode := range tn.Content {
				if t, err := parseTargetString(tnode.Value); err == nil {
					targets = append(targets, t)
				}
			}
		}
		if sn, ok := gf["symbols"]; ok {
			for _, name := range splitWrapped(sn) {
				for _, t := range targets {
					m.AddSymbol(name, meta, None, true, t, AddOptions{})
				}
			}
		}
	}
}

// platformSuffixes lists every platform name Target.String can produce,
// longest first, so a greedy suffix match splits "arm64-ios-sim" into
// arch "arm64" and platform "ios-sim" rather than misreading the
// platform's own embedded hyphen as the arch/platform separator.
var platformSuffixes = func() []string {
	names := []string{"none", "macos", "ios", "tvos", "watchos", "bridgeos", "catalyst",
		"ios-sim", "tvos-sim", "watchos-sim", "driverkit"}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	return names
}()

func parseTargetString(s string) (Target, error) {
	return ParseTargetString(s)
}

// ParseTargetString parses a Target.String()-formatted "arch-platform" tag
// (e.g. "arm64-ios-sim") back into a Target, matching the longest known
// platform suffix first so a platform name's own embedded hyphen is never
// mistaken for the arch/platform separator. Exported for callers outside
// this package that accept the same tag format, such as the CLI's
// --replace-targets flag.
func ParseTargetString(s string) (Target, error) {
	for _, p := range platformSuffixes {
		suffix := "-" + p
		if strings.HasSuffix(s, suffix) {
			archIdx := types.ArchByName(strings.TrimSuffix(s, suffix))
			return Target{ArchIndex: archIdx, Platform: parsePlatformString(p)}, nil
		}
	}
	return Target{}, fmt.Errorf("stub: malformed target %q", s)
}

func parsePlatformString(s string) types.Platform {
	for i := types.Platform(0); i <= types.PlatformDriverKit; i++ {
		if i.String() == s {
			return i
		}
	}
	return types.PlatformNone
}

func parseVersionString(s string) types.Version {
	parts := strings.SplitN(s, ".", 3)
	var major, minor, rev int
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		rev, _ = strconv.Atoi(parts[2])
	}
	return types.Version(uint32(major)<<16 | uint32(minor)<<8 | uint32(rev))
}

func parseObjcConstraint(s string) ObjcConstraint {
	switch s {
	case "retain_release":
		return ObjcConstraintRetainRelease
	case "retain_release_or_gc":
		return ObjcConstraintRetainReleaseOrGC
	case "retain_release_for_simulator":
		return ObjcConstraintRetainReleaseForSimulator
	case "gc":
		return ObjcConstraintGC
	default:
		return ObjcConstraintNone
	}
}
