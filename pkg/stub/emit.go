package stub

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/blacktop/go-tapi/types"
	"gopkg.in/yaml.v3"
)

func archName(archIndex int) string {
	if archIndex >= 0 && archIndex < len(types.ArchCatalog) {
		return types.ArchCatalog[archIndex].Name
	}
	return "unknown"
}

// EmitOptions controls emission-time presentation choices that are not
// part of the frozen model itself (spec.md §4.7).
type EmitOptions struct {
	// WrapColumn is not consulted by Emit: symbol lists are always
	// wrapped at a column budget of 80, whatever this field holds.
	WrapColumn int
	// SuppressFooter omits the trailing "..." document-end marker,
	// needed when multiple stub documents are concatenated into one
	// combined file.
	SuppressFooter bool
}

func (o EmitOptions) wrapColumn() int {
	if o.WrapColumn <= 0 {
		return 80
	}
	return o.WrapColumn
}

// yamlReserved are the characters spec.md §4.7 requires double-quoting
// for: if a scalar contains any of these, it is emitted as a
// double-quoted YAML string with standard escape sequences rather than
// plain or single-quoted.
const yamlReserved = ":#[]{},&*!|>'\"%@`"

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	if strings.HasPrefix(s, "-") {
		return true
	}
	return strings.ContainsAny(s, yamlReserved)
}

// scalarNode builds a yaml.Node for s, forcing double-quoted style when s
// contains a YAML-reserved character (spec.md §4.7) and plain style
// otherwise, so the emitted file never relies on the library's own
// quoting heuristics (which don't match the spec's rule set exactly).
func scalarNode(s string) *yaml.Node {
	style := yaml.Style(0)
	if needsQuoting(s) {
		style = yaml.DoubleQuotedStyle
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Value: s, Style: style}
}

func keyNode(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: key}
}

func intNode(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%d", v), Tag: "!!int"}
}

// wrappedSymbolList renders names as a flow-style sequence: a folded
// plain sequence is not how real stub files wrap lines, so instead each
// scalar of the sequence is a pre-wrapped, comma-joined chunk of names,
// flushed once the next name would pass column (spec.md: "Symbol lists are
// line-wrapped at a column budget ... symbols separated by ', '"). This
// keeps the library's own layout engine from re-wrapping our chunks.
func wrappedSymbolList(names []string, column int) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	var line strings.Builder
	flushed := false
	flush := func() {
		if line.Len() == 0 {
			return
		}
		seq.Content = append(seq.Content, scalarNode(line.String()))
		line.Reset()
		flushed = true
	}
	for _, n := range names {
		candidate := n
		if line.Len() > 0 {
			candidate = ", " + n
		}
		if line.Len() > 0 && line.Len()+len(candidate) > column {
			flush()
			candidate = n
		}
		line.WriteString(candidate)
	}
	flush()
	if !flushed {
		seq.Content = []*yaml.Node{}
	}
	return seq
}

func namesFor(recs []*SymbolRecord, mask TargetMask) []string {
	var names []string
	for _, r := range recs {
		if mask == 0 || r.Targets&mask != 0 {
			names = append(names, r.Key.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Emit serializes a frozen Info to w in its configured SchemaVersion.
// Freeze must have been called first.
func (m *Info) Emit(w *bytes.Buffer, opts EmitOptions) error {
	if !m.frozen {
		return fmt.Errorf("stub: Emit called before Freeze")
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()

	var doc *yaml.Node
	switch m.Version {
	case V4:
		doc = m.buildV4Document()
	default:
		doc = m.buildLegacyDocument()
	}
	if err := enc.Encode(doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if !opts.SuppressFooter {
		w.WriteString("...\n")
	}
	return nil
}

// buildLegacyDocument builds the v1-v3 mapping: a single "archs" list (no
// per-target symbol grouping), install name and version fields, and,
// starting at v2, objc-constraint/parent-umbrella/swift-version; v3 adds
// the flags line. Per spec.md §9's open-question decision, v1 silently
// omits parent-umbrella and objc-constraint rather than warning.
func (m *Info) buildLegacyDocument() *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, val *yaml.Node) {
		root.Content = append(root.Content, keyNode(key), val)
	}

	archs := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, t := range m.targets {
		archs.Content = append(archs.Content, scalarNode(archName(t.ArchIndex)))
	}
	add("archs", archs)

	if uuid := m.uuidListNode(); uuid != nil {
		add("uuids", uuid)
	}

	add("platform", scalarNode(platformName(m.targets)))
	add("install-name", scalarNode(m.InstallName))
	add("current-version", scalarNode(m.CurrentVersion.String()))
	add("compatibility-version", scalarNode(m.CompatibilityVersion.String()))

	if m.Version >= V2 {
		add("swift-version", intNode(SwiftVersionWire(m.SwiftVersion)))
		add("objc-constraint", scalarNode(m.ObjcConstraint.String()))
		if umbrella := m.parentUmbrellaNode(); umbrella != nil {
			add("parent-umbrella", umbrella)
		}
	}
	if m.Version >= V3 {
		add("flags", m.flagsNode())
	}

	column := 80
	if exports := wrappedSymbolList(namesFor(m.sortedExports, 0), column); len(exports.Content) > 0 {
		add("exports", exports)
	}
	if reexports := wrappedSymbolList(namesFor(m.sortedReexports, 0), column); len(reexports.Content) > 0 {
		add("reexports", reexports)
	}
	if m.Version >= V2 {
		if undefineds := wrappedSymbolList(namesFor(m.sortedUndefineds, 0), column); len(undefineds.Content) > 0 {
			add("undefineds", undefineds)
		}
	}

	return root
}

// buildV4Document builds the v4 mapping: "targets" replaces "archs", and
// each symbol table is grouped by the exact set of targets that observed
// it (spec.md §4.7: "symbols are grouped per target set").
func (m *Info) buildV4Document() *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, val *yaml.Node) {
		root.Content = append(root.Content, keyNode(key), val)
	}

	targets := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, t := range m.targets {
		targets.Content = append(targets.Content, scalarNode(t.String()))
	}
	add("targets", targets)

	if uuid := m.uuidListNode(); uuid != nil {
		add("uuids", uuid)
	}

	add("install-name", scalarNode(m.InstallName))
	add("current-version", scalarNode(m.CurrentVersion.String()))
	add("compatibility-version", scalarNode(m.CompatibilityVersion.String()))
	add("swift-version", intNode(SwiftVersionWire(m.SwiftVersion)))
	add("objc-constraint", scalarNode(m.ObjcConstraint.String()))
	if umbrella := m.parentUmbrellaNode(); umbrella != nil {
		add("parent-umbrella", umbrella)
	}
	add("flags", m.flagsNode())

	if n := m.groupedSymbolsNode(m.sortedExports); n != nil {
		add("exports", n)
	}
	if n := m.groupedSymbolsNode(m.sortedReexports); n != nil {
		add("reexports", n)
	}
	if n := m.groupedSymbolsNode(m.sortedUndefineds); n != nil {
		add("undefineds", n)
	}

	return root
}

// groupedSymbolsNode buckets recs by their exact TargetMask (v4's
// per-target-set grouping), emitting one mapping per distinct mask with
// that mask's targets and its wrapped symbol list, ordered by the
// group's first (lowest-sorted) target.
func (m *Info) groupedSymbolsNode(recs []*SymbolRecord) *yaml.Node {
	if len(recs) == 0 {
		return nil
	}
	groups := make(map[TargetMask][]*SymbolRecord)
	var masks []TargetMask
	for _, r := range recs {
		if _, ok := groups[r.Targets]; !ok {
			masks = append(masks, r.Targets)
		}
		groups[r.Targets] = append(groups[r.Targets], r)
	}
	sort.Slice(masks, func(i, j int) bool {
		return m.firstTarget(masks[i]).Less(m.firstTarget(masks[j]))
	})

	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, mask := range masks {
		entry := &yaml.Node{Kind: yaml.MappingNode}
		targetSeq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for i, t := range m.targets {
			if mask.Has(i) {
				targetSeq.Content = append(targetSeq.Content, scalarNode(t.String()))
			}
		}
		entry.Content = append(entry.Content, keyNode("targets"), targetSeq)
		names := namesFor(groups[mask], 0)
		entry.Content = append(entry.Content, keyNode("symbols"), wrappedSymbolList(names, 80))
		seq.Content = append(seq.Content, entry)
	}
	return seq
}

func (m *Info) firstTarget(mask TargetMask) Target {
	for i, t := range m.targets {
		if mask.Has(i) {
			return t
		}
	}
	return Target{}
}

func (m *Info) uuidListNode() *yaml.Node {
	if len(m.uuids) == 0 {
		return nil
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, t := range m.targets {
		if uuid, ok := m.uuids[t]; ok {
			entry := &yaml.Node{Kind: yaml.MappingNode, Style: yaml.FlowStyle}
			entry.Content = append(entry.Content, keyNode("target"), scalarNode(t.String()))
			entry.Content = append(entry.Content, keyNode("value"), scalarNode(uuid.String()))
			seq.Content = append(seq.Content, entry)
		}
	}
	return seq
}

func (m *Info) parentUmbrellaNode() *yaml.Node {
	if len(m.parentUmbrella) == 0 {
		return nil
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, t := range m.targets {
		if name, ok := m.parentUmbrella[t]; ok {
			entry := &yaml.Node{Kind: yaml.MappingNode, Style: yaml.FlowStyle}
			entry.Content = append(entry.Content, keyNode("target"), scalarNode(t.String()))
			entry.Content = append(entry.Content, keyNode("umbrella"), scalarNode(name))
			seq.Content = append(seq.Content, entry)
		}
	}
	return seq
}

func (m *Info) flagsNode() *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	if m.Flags&FlagFlatNamespace != 0 {
		seq.Content = append(seq.Content, scalarNode("flat_namespace"))
	}
	if m.Flags&FlagNotAppExtensionSafe != 0 {
		seq.Content = append(seq.Content, scalarNode("not_app_extension_safe"))
	}
	return seq
}

func platformName(targets []Target) string {
	if len(targets) == 0 {
		return ""
	}
	return targets[0].Platform.String()
}
