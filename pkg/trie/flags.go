package trie

import "strings"

// ExportFlag is the one-byte flags field stored at every terminal node in
// an export trie (spec.md §4.4). The low two bits select the symbol kind;
// WeakDefinition, ReExport and StubAndResolver are independent bits that
// may be set alongside a regular-kind symbol, not alternatives to it —
// each is tested with a bitwise AND, not equality.
type ExportFlag uint64

const (
	ExportSymbolFlagsKindMask        ExportFlag = 0x03
	ExportSymbolFlagsKindRegular     ExportFlag = 0x00
	ExportSymbolFlagsKindThreadLocal ExportFlag = 0x01
	ExportSymbolFlagsKindAbsolute    ExportFlag = 0x02
	ExportSymbolFlagsWeakDefinition  ExportFlag = 0x04
	ExportSymbolFlagsReexport        ExportFlag = 0x08
	ExportSymbolFlagsStubAndResolver ExportFlag = 0x10
)

func (f ExportFlag) Kind() ExportFlag { return f & ExportSymbolFlagsKindMask }

func (f ExportFlag) Regular() bool {
	return f.Kind() == ExportSymbolFlagsKindRegular
}
func (f ExportFlag) ThreadLocal() bool {
	return f.Kind() == ExportSymbolFlagsKindThreadLocal
}
func (f ExportFlag) Absolute() bool {
	return f.Kind() == ExportSymbolFlagsKindAbsolute
}
func (f ExportFlag) WeakDefinition() bool {
	return f&ExportSymbolFlagsWeakDefinition != 0
}
func (f ExportFlag) ReExport() bool {
	return f&ExportSymbolFlagsReexport != 0
}
func (f ExportFlag) StubAndResolver() bool {
	return f&ExportSymbolFlagsStubAndResolver != 0
}

func (f ExportFlag) String() string {
	var parts []string
	switch {
	case f.ThreadLocal():
		parts = append(parts, "thread-local")
	case f.Absolute():
		parts = append(parts, "absolute")
	default:
		parts = append(parts, "regular")
	}
	if f.WeakDefinition() {
		parts = append(parts, "weak-definition")
	}
	if f.ReExport() {
		parts = append(parts, "re-export")
	}
	if f.StubAndResolver() {
		parts = append(parts, "stub-and-resolver")
	}
	return strings.Join(parts, ",")
}
