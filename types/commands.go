package types

// A LoadCmd is a Mach-O load command tag.
type LoadCmd uint32

func (c LoadCmd) Command() LoadCmd { return c }

const (
	LC_REQ_DYLD LoadCmd = 0x80000000

	LC_SEGMENT        LoadCmd = 0x1
	LC_SYMTAB         LoadCmd = 0x2
	LC_SYMSEG         LoadCmd = 0x3
	LC_THREAD         LoadCmd = 0x4
	LC_UNIXTHREAD     LoadCmd = 0x5
	LC_LOADFVMLIB     LoadCmd = 0x6
	LC_IDFVMLIB       LoadCmd = 0x7
	LC_IDENT          LoadCmd = 0x8
	LC_FVMFILE        LoadCmd = 0x9
	LC_PREPAGE        LoadCmd = 0xa
	LC_DYSYMTAB       LoadCmd = 0xb
	LC_LOAD_DYLIB     LoadCmd = 0xc
	LC_ID_DYLIB       LoadCmd = 0xd
	LC_LOAD_DYLINKER  LoadCmd = 0xe
	LC_ID_DYLINKER    LoadCmd = 0xf
	LC_PREBOUND_DYLIB LoadCmd = 0x10
	LC_ROUTINES       LoadCmd = 0x11
	LC_SUB_FRAMEWORK  LoadCmd = 0x12
	LC_SUB_UMBRELLA   LoadCmd = 0x13
	LC_SUB_CLIENT     LoadCmd = 0x14
	LC_SUB_LIBRARY    LoadCmd = 0x15
	LC_TWOLEVEL_HINTS LoadCmd = 0x16
	LC_PREBIND_CKSUM  LoadCmd = 0x17

	LC_LOAD_WEAK_DYLIB          LoadCmd = 0x18 | LC_REQ_DYLD
	LC_SEGMENT_64               LoadCmd = 0x19
	LC_ROUTINES_64              LoadCmd = 0x1a
	LC_UUID                     LoadCmd = 0x1b
	LC_RPATH                    LoadCmd = 0x1c | LC_REQ_DYLD
	LC_CODE_SIGNATURE           LoadCmd = 0x1d
	LC_SEGMENT_SPLIT_INFO       LoadCmd = 0x1e
	LC_REEXPORT_DYLIB           LoadCmd = 0x1f | LC_REQ_DYLD
	LC_LAZY_LOAD_DYLIB          LoadCmd = 0x20
	LC_ENCRYPTION_INFO          LoadCmd = 0x21
	LC_DYLD_INFO                LoadCmd = 0x22
	LC_DYLD_INFO_ONLY           LoadCmd = 0x22 | LC_REQ_DYLD
	LC_LOAD_UPWARD_DYLIB        LoadCmd = 0x23 | LC_REQ_DYLD
	LC_VERSION_MIN_MACOSX       LoadCmd = 0x24
	LC_VERSION_MIN_IPHONEOS     LoadCmd = 0x25
	LC_FUNCTION_STARTS          LoadCmd = 0x26
	LC_DYLD_ENVIRONMENT         LoadCmd = 0x27
	LC_MAIN                     LoadCmd = 0x28 | LC_REQ_DYLD
	LC_DATA_IN_CODE             LoadCmd = 0x29
	LC_SOURCE_VERSION           LoadCmd = 0x2A
	LC_DYLIB_CODE_SIGN_DRS      LoadCmd = 0x2B
	LC_ENCRYPTION_INFO_64       LoadCmd = 0x2C
	LC_LINKER_OPTION            LoadCmd = 0x2D
	LC_LINKER_OPTIMIZATION_HINT LoadCmd = 0x2E
	LC_VERSION_MIN_TVOS         LoadCmd = 0x2F
	LC_VERSION_MIN_WATCHOS      LoadCmd = 0x30
	LC_NOTE                     LoadCmd = 0x31
	LC_BUILD_VERSION            LoadCmd = 0x32
	LC_DYLD_EXPORTS_TRIE        LoadCmd = 0x33 | LC_REQ_DYLD
	LC_DYLD_CHAINED_FIXUPS      LoadCmd = 0x34 | LC_REQ_DYLD
	LC_FILESET_ENTRY            LoadCmd = 0x35 | LC_REQ_DYLD
)

var loadCmdStrings = []IntName{
	{uint32(LC_SEGMENT), "SEGMENT"},
	{uint32(LC_SYMTAB), "SYMTAB"},
	{uint32(LC_DYSYMTAB), "DYSYMTAB"},
	{uint32(LC_LOAD_DYLIB), "LOAD_DYLIB"},
	{uint32(LC_ID_DYLIB), "ID_DYLIB"},
	{uint32(LC_SUB_FRAMEWORK), "SUB_FRAMEWORK"},
	{uint32(LC_SUB_CLIENT), "SUB_CLIENT"},
	{uint32(LC_LOAD_WEAK_DYLIB), "LOAD_WEAK_DYLIB"},
	{uint32(LC_SEGMENT_64), "SEGMENT_64"},
	{uint32(LC_UUID), "UUID"},
	{uint32(LC_CODE_SIGNATURE), "CODE_SIGNATURE"},
	{uint32(LC_REEXPORT_DYLIB), "REEXPORT_DYLIB"},
	{uint32(LC_DYLD_INFO), "DYLD_INFO"},
	{uint32(LC_DYLD_INFO_ONLY), "DYLD_INFO_ONLY"},
	{uint32(LC_VERSION_MIN_MACOSX), "VERSION_MIN_MACOSX"},
	{uint32(LC_VERSION_MIN_IPHONEOS), "VERSION_MIN_IPHONEOS"},
	{uint32(LC_FUNCTION_STARTS), "FUNCTION_STARTS"},
	{uint32(LC_MAIN), "MAIN"},
	{uint32(LC_DATA_IN_CODE), "DATA_IN_CODE"},
	{uint32(LC_SOURCE_VERSION), "SOURCE_VERSION"},
	{uint32(LC_VERSION_MIN_TVOS), "VERSION_MIN_TVOS"},
	{uint32(LC_VERSION_MIN_WATCHOS), "VERSION_MIN_WATCHOS"},
	{uint32(LC_BUILD_VERSION), "BUILD_VERSION"},
	{uint32(LC_DYLD_EXPORTS_TRIE), "DYLD_EXPORTS_TRIE"},
	{uint32(LC_DYLD_CHAINED_FIXUPS), "DYLD_CHAINED_FIXUPS"},
}

func (c LoadCmd) String() string { return StringName(uint32(c), loadCmdStrings, false) }

// LoadCmdHeader is the generic (cmd, cmdsize) prefix every load command
// begins with, per spec.md §4.2.
type LoadCmdHeader struct {
	Cmd     LoadCmd
	CmdSize uint32
}

// A SymtabCmd is LC_SYMTAB's payload.
type SymtabCmd struct {
	LoadCmdHeader
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
}

// A DylibCmd is the payload shared by LC_ID_DYLIB, LC_LOAD_DYLIB,
// LC_REEXPORT_DYLIB and friends: an embedded string plus timestamp and
// version pair.
type DylibCmd struct {
	LoadCmdHeader
	NameOffset     uint32 // offset of the string, relative to the start of this command
	Time           uint32
	CurrentVersion Version
	CompatVersion  Version
}

// A SubFrameworkCmd is LC_SUB_FRAMEWORK's payload: a single embedded string
// naming the umbrella framework.
type SubFrameworkCmd struct {
	LoadCmdHeader
	FrameworkOffset uint32
}

// A SubClientCmd is LC_SUB_CLIENT's payload: a single embedded string
// naming a permitted client.
type SubClientCmd struct {
	LoadCmdHeader
	ClientOffset uint32
}

// A UUIDCmd is LC_UUID's payload.
type UUIDCmd struct {
	LoadCmdHeader
	UUID UUID
}

// A LinkEditDataCmd is the generic (offset, size) shape shared by
// LC_DYLD_EXPORTS_TRIE and (pre-Info-split) dyld info sub-ranges.
type LinkEditDataCmd struct {
	LoadCmdHeader
	Offset uint32
	Size   uint32
}

// A DyldInfoCmd is LC_DYLD_INFO[_ONLY]'s payload. Only ExportOff/ExportSize
// are consumed by this tool; the rebase/bind/lazy-bind ranges are read but
// unused (no non-goal to satisfy, they're simply not part of the stub
// model).
type DyldInfoCmd struct {
	LoadCmdHeader
	RebaseOff    uint32
	RebaseSize   uint32
	BindOff      uint32
	BindSize     uint32
	WeakBindOff  uint32
	WeakBindSize uint32
	LazyBindOff  uint32
	LazyBindSize uint32
	ExportOff    uint32
	ExportSize   uint32
}

// A BuildVersionCmd is LC_BUILD_VERSION's fixed-size payload (the variable
// number of trailing build_tool_version entries is skipped, not decoded:
// spec.md never asks for tool versions).
type BuildVersionCmd struct {
	LoadCmdHeader
	Platform Platform
	Minos    Version
	Sdk      Version
	NumTools uint32
}
