package types

import "fmt"

// A CPU is a Mach-O cpu type.
type CPU uint32

const (
	cpuArchMask = 0xff000000
	cpuArch64   = 0x01000000
)

const (
	CPUI386    CPU = 7
	CPUX8664   CPU = CPUI386 | cpuArch64
	CPUArm     CPU = 12
	CPUArm64   CPU = CPUArm | cpuArch64
	CPUArm6432 CPU = CPUArm | 0x02000000
)

var cpuStrings = []IntName{
	{uint32(CPUI386), "i386"},
	{uint32(CPUX8664), "x86_64"},
	{uint32(CPUArm), "arm"},
	{uint32(CPUArm64), "arm64"},
}

func (c CPU) String() string { return StringName(uint32(c), cpuStrings, false) }

// A CPUSubtype further qualifies a CPU.
type CPUSubtype uint32

const (
	CpuSubtypeMask             CPUSubtype = 0x00ffffff
	CpuSubtypeArm64PtrAuthMask CPUSubtype = 0x0f000000
)

const (
	CPUSubtypeX8664All CPUSubtype = 3
	CPUSubtypeX86_64H  CPUSubtype = 8
)

const (
	CPUSubtypeArmAll CPUSubtype = 0
	CPUSubtypeArmV7  CPUSubtype = 9
	CPUSubtypeArmV7S CPUSubtype = 11
	CPUSubtypeArmV7K CPUSubtype = 12
)

const (
	CPUSubtypeArm64All CPUSubtype = 0
	CPUSubtypeArm64V8  CPUSubtype = 1
	CPUSubtypeArm64E   CPUSubtype = 2
)

func (st CPUSubtype) String(cpu CPU) string {
	masked := st & CpuSubtypeMask
	switch cpu {
	case CPUX8664:
		switch masked {
		case CPUSubtypeX86_64H:
			return "x86_64h"
		default:
			return "x86_64"
		}
	case CPUArm:
		switch masked {
		case CPUSubtypeArmV7:
			return "armv7"
		case CPUSubtypeArmV7S:
			return "armv7s"
		case CPUSubtypeArmV7K:
			return "armv7k"
		default:
			return "arm"
		}
	case CPUArm64:
		if masked == CPUSubtypeArm64E {
			return "arm64e"
		}
		return "arm64"
	}
	return fmt.Sprintf("unknown(%#x,%#x)", uint32(cpu), uint32(st))
}

// Arch names one entry of the fixed (cputype, cpusubtype) catalog
// spec.md §3 requires: targets are ordered by an arch index into this
// catalog, not by the raw cputype/cpusubtype values.
type Arch struct {
	Name   string
	CPU    CPU
	SubCPU CPUSubtype
}

// ArchCatalog is the fixed, ordered list of architectures this tool
// recognizes. Its index order is the canonical "arch index" spec.md §3
// sorts Target values by.
var ArchCatalog = []Arch{
	{Name: "i386", CPU: CPUI386, SubCPU: 3},
	{Name: "x86_64", CPU: CPUX8664, SubCPU: CPUSubtypeX8664All},
	{Name: "x86_64h", CPU: CPUX8664, SubCPU: CPUSubtypeX86_64H},
	{Name: "armv7", CPU: CPUArm, SubCPU: CPUSubtypeArmV7},
	{Name: "armv7s", CPU: CPUArm, SubCPU: CPUSubtypeArmV7S},
	{Name: "armv7k", CPU: CPUArm, SubCPU: CPUSubtypeArmV7K},
	{Name: "arm64", CPU: CPUArm64, SubCPU: CPUSubtypeArm64All},
	{Name: "arm64e", CPU: CPUArm64, SubCPU: CPUSubtypeArm64E},
}

// ArchIndex returns the catalog index for (cpu, subCPU), matching only on
// the subtype bits (feature/capability bits in the top byte are ignored),
// or -1 if the pair is not in the catalog.
func ArchIndex(cpu CPU, subCPU CPUSubtype) int {
	masked := subCPU & CpuSubtypeMask
	for i, a := range ArchCatalog {
		if a.CPU == cpu && a.SubCPU == masked {
			return i
		}
	}
	return -1
}

// ArchByName returns the catalog index for a named arch (e.g. "arm64e"),
// or -1 if unknown.
func ArchByName(name string) int {
	for i, a := range ArchCatalog {
		if a.Name == name {
			return i
		}
	}
	return -1
}
