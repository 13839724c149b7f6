package stub

import (
	"bytes"
	"strings"
	"testing"

	"github.com/blacktop/go-tapi/types"
)

// buildSampleInfo constructs a frozen, symmetric two-target model (every
// export/undefined observed under both targets) so legacy schemas, which
// have no per-symbol target membership of their own, round-trip exactly.
func buildSampleInfo(t *testing.T, version SchemaVersion) *Info {
	t.Helper()
	m := NewInfo(version)
	m.InstallName = "/usr/lib/libFoo.dylib"
	m.CurrentVersion = types.Version(1<<16 | 2<<8)
	m.CompatibilityVersion = types.Version(1 << 16)
	m.ObjcConstraint = ObjcConstraintRetainRelease
	m.SwiftVersion = 4
	m.Flags = FlagFlatNamespace

	arm64 := archTarget(t, "arm64", types.PlatformMacOS)
	x8664 := archTarget(t, "x86_64", types.PlatformMacOS)

	for _, target := range []Target{arm64, x8664} {
		m.AddSymbol("_foo", Export, None, true, target, AddOptions{})
		m.AddSymbol("_bar", Export, WeakDef, true, target, AddOptions{})
		if version >= V2 {
			m.AddSymbol("_baz", Undefined, None, true, target, AddOptions{})
		}
		m.SetParentUmbrella(target, "System")
	}
	m.SetUUID(arm64, types.UUID{0x01})
	m.SetUUID(x8664, types.UUID{0x02})

	if err := m.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return m
}

func TestEmitV1OmitsV2PlusFields(t *testing.T) {
	m := buildSampleInfo(t, V1)
	var out bytes.Buffer
	if err := m.Emit(&out, EmitOptions{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	text := out.String()
	for _, want := range []string{"archs:", "install-name:", "_foo", "_bar"} {
		if !strings.Contains(text, want) {
			t.Errorf("v1 output missing %q:\n%s", want, text)
		}
	}
	for _, notWant := range []string{"swift-version:", "objc-constraint:", "parent-umbrella:", "flags:", "undefineds:"} {
		if strings.Contains(text, notWant) {
			t.Errorf("v1 output should not contain %q:\n%s", notWant, text)
		}
	}
}

func TestEmitV2AddsObjcAndSwiftAndUndefineds(t *testing.T) {
	m := buildSampleInfo(t, V2)
	var out bytes.Buffer
	if err := m.Emit(&out, EmitOptions{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	text := out.String()
	for _, want := range []string{"swift-version:", "objc-constraint:", "parent-umbrella:", "undefineds:", "_baz"} {
		if !strings.Contains(text, want) {
			t.Errorf("v2 output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "flags:") {
		t.Errorf("v2 output should not contain flags: (that's v3+):\n%s", text)
	}
}

func TestEmitV3AddsFlags(t *testing.T) {
	m := buildSampleInfo(t, V3)
	var out bytes.Buffer
	if err := m.Emit(&out, EmitOptions{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "flags:") || !strings.Contains(text, "flat_namespace") {
		t.Errorf("v3 output missing flags/flat_namespace:\n%s", text)
	}
}

func TestEmitV4UsesTargetsNotArchs(t *testing.T) {
	m := buildSampleInfo(t, V4)
	var out bytes.Buffer
	if err := m.Emit(&out, EmitOptions{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "targets:") {
		t.Errorf("v4 output should contain targets::\n%s", text)
	}
	if strings.Contains(text, "archs:") {
		t.Errorf("v4 output should not contain archs: (that's v1-v3):\n%s", text)
	}
	if !strings.Contains(text, "arm64-macos") || !strings.Contains(text, "x86_64-macos") {
		t.Errorf("v4 output missing target tags:\n%s", text)
	}
}

func TestEmitLegacyRoundTripIdempotent(t *testing.T) {
	for _, version := range []SchemaVersion{V1, V2, V3} {
		m := buildSampleInfo(t, version)
		var first bytes.Buffer
		if err := m.Emit(&first, EmitOptions{}); err != nil {
			t.Fatalf("%s Emit: %v", version, err)
		}

		parsed, err := Parse(first.Bytes())
		if err != nil {
			t.Fatalf("%s Parse: %v\n%s", version, err, first.String())
		}

		var second bytes.Buffer
		if err := parsed.Emit(&second, EmitOptions{}); err != nil {
			t.Fatalf("%s re-Emit: %v", version, err)
		}
		if first.String() != second.String() {
			t.Errorf("%s emit not idempotent:\n--- first ---\n%s\n--- second ---\n%s", version, first.String(), second.String())
		}
	}
}

func TestEmitV4RoundTripIdempotent(t *testing.T) {
	m := buildSampleInfo(t, V4)
	var first bytes.Buffer
	if err := m.Emit(&first, EmitOptions{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	parsed, err := Parse(first.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v\n%s", err, first.String())
	}

	var second bytes.Buffer
	if err := parsed.Emit(&second, EmitOptions{}); err != nil {
		t.Fatalf("re-Emit: %v", err)
	}
	if first.String() != second.String() {
		t.Fatalf("v4 emit not idempotent:\n--- first ---\n%s\n--- second ---\n%s", first.String(), second.String())
	}
}

// TestGroupedSymbolsNodeSeparatesTargetSets exercises v4's per-target-set
// symbol grouping (spec.md §4.7) against an asymmetric model — each
// symbol observed under exactly one of two targets — verifying the
// round-tripped membership lands on the right target and not its sibling.
func TestGroupedSymbolsNodeSeparatesTargetSets(t *testing.T) {
	m := NewInfo(V4)
	m.InstallName = "/usr/lib/libFoo.dylib"
	arm64 := archTarget(t, "arm64", types.PlatformMacOS)
	x8664 := archTarget(t, "x86_64", types.PlatformMacOS)

	m.AddSymbol("_onlyArm64", Export, None, true, arm64, AddOptions{})
	m.AddSymbol("_onlyX8664", Export, None, true, x8664, AddOptions{})
	if err := m.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	var out bytes.Buffer
	if err := m.Emit(&out, EmitOptions{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	parsed, err := Parse(out.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v\n%s", err, out.String())
	}

	armBit, ok := parsed.BitFor(arm64)
	if !ok {
		t.Fatal("arm64 target missing after round-trip")
	}
	x64Bit, ok := parsed.BitFor(x8664)
	if !ok {
		t.Fatal("x86_64 target missing after round-trip")
	}

	armRec, ok := parsed.exports[SymbolKey{Name: "_onlyArm64", Meta: Export, Predefined: None}]
	if !ok {
		t.Fatal("_onlyArm64 missing after round-trip")
	}
	x64Rec, ok := parsed.exports[SymbolKey{Name: "_onlyX8664", Meta: Export, Predefined: None}]
	if !ok {
		t.Fatal("_onlyX8664 missing after round-trip")
	}

	if !armRec.Targets.Has(armBit) || armRec.Targets.Has(x64Bit) {
		t.Errorf("_onlyArm64 targets = %#x, want only arm64's bit set", armRec.Targets)
	}
	if !x64Rec.Targets.Has(x64Bit) || x64Rec.Targets.Has(armBit) {
		t.Errorf("_onlyX8664 targets = %#x, want only x86_64's bit set", x64Rec.Targets)
	}
}
