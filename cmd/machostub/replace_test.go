package main

import (
	"testing"

	"github.com/blacktop/go-tapi/pkg/stub"
	"github.com/blacktop/go-tapi/types"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want types.Version
	}{
		{"1.2.3", types.Version(1<<16 | 2<<8 | 3)},
		{"1.2", types.Version(1<<16 | 2<<8)},
		{"1", types.Version(1 << 16)},
	}
	for _, tt := range tests {
		got, err := parseVersion(tt.in)
		if err != nil {
			t.Fatalf("parseVersion(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("parseVersion(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseVersion("a.b.c"); err == nil {
		t.Fatal("expected an error for a non-numeric version")
	}
}

func TestParseObjcConstraint(t *testing.T) {
	tests := map[string]stub.ObjcConstraint{
		"none":                         stub.ObjcConstraintNone,
		"retain_release":               stub.ObjcConstraintRetainRelease,
		"retain_release_or_gc":         stub.ObjcConstraintRetainReleaseOrGC,
		"retain_release_for_simulator": stub.ObjcConstraintRetainReleaseForSimulator,
		"gc":                           stub.ObjcConstraintGC,
	}
	for in, want := range tests {
		got, err := parseObjcConstraint(in)
		if err != nil {
			t.Fatalf("parseObjcConstraint(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseObjcConstraint(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseObjcConstraint("bogus"); err == nil {
		t.Fatal("expected an error for an unknown constraint")
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := parseFlags([]string{"flat_namespace", "not_app_extension_safe", ""})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if flags&stub.FlagFlatNamespace == 0 || flags&stub.FlagNotAppExtensionSafe == 0 {
		t.Fatalf("flags = %v, want both bits set", flags)
	}
	if _, err := parseFlags([]string{"bogus"}); err == nil {
		t.Fatal("expected an error for an unknown flag name")
	}
}

func TestApplyReplacementsOverridesInstallNameAndVersions(t *testing.T) {
	m := stub.NewInfo(stub.V4)
	m.InstallName = "/usr/lib/libOld.dylib"

	o := &extractOptions{
		replaceInstallName:    "/usr/lib/libNew.dylib",
		replaceCurrentVersion: "2.0.0",
		replaceCompatVersion:  "1.0.0",
		replaceObjcConstraint: "retain_release",
		replaceFlags:          []string{"flat_namespace"},
	}
	if err := applyReplacements(m, o); err != nil {
		t.Fatalf("applyReplacements: %v", err)
	}
	if m.InstallName != "/usr/lib/libNew.dylib" {
		t.Fatalf("InstallName = %q", m.InstallName)
	}
	if m.CurrentVersion != types.Version(2<<16) {
		t.Fatalf("CurrentVersion = %v", m.CurrentVersion)
	}
	if m.CompatibilityVersion != types.Version(1<<16) {
		t.Fatalf("CompatibilityVersion = %v", m.CompatibilityVersion)
	}
	if m.ObjcConstraint != stub.ObjcConstraintRetainRelease {
		t.Fatalf("ObjcConstraint = %v", m.ObjcConstraint)
	}
	if m.Flags&stub.FlagFlatNamespace == 0 {
		t.Fatalf("Flags = %v, want FlagFlatNamespace set", m.Flags)
	}
}

func TestApplyReplacementsReplacePlatformOverridesEveryTarget(t *testing.T) {
	m := stub.NewInfo(stub.V4)
	m.InstallName = "/usr/lib/libFoo.dylib"
	arm64 := types.ArchByName("arm64")
	m.EnsureTarget(stub.Target{ArchIndex: arm64, Platform: types.PlatformMacOS})

	o := &extractOptions{replacePlatform: "ios"}
	if err := applyReplacements(m, o); err != nil {
		t.Fatalf("applyReplacements: %v", err)
	}
	if m.Targets()[0].Platform != types.PlatformIOS {
		t.Fatalf("Targets()[0].Platform = %v, want ios", m.Targets()[0].Platform)
	}
}

func TestApplyReplacementsReplacePlatformCollapsesDuplicateTargets(t *testing.T) {
	m := stub.NewInfo(stub.V4)
	m.InstallName = "/usr/lib/libFoo.dylib"
	arm64 := types.ArchByName("arm64")
	tMac := stub.Target{ArchIndex: arm64, Platform: types.PlatformMacOS}
	tCatalyst := stub.Target{ArchIndex: arm64, Platform: types.PlatformMacCatalyst}
	m.EnsureTarget(tMac)
	m.EnsureTarget(tCatalyst)
	m.AddSymbol("_foo", stub.Export, stub.None, true, tMac, stub.AddOptions{})
	m.AddSymbol("_bar", stub.Export, stub.None, true, tCatalyst, stub.AddOptions{})

	o := &extractOptions{replacePlatform: "macos"}
	if err := applyReplacements(m, o); err != nil {
		t.Fatalf("applyReplacements: %v", err)
	}

	targets := m.Targets()
	if len(targets) != 1 {
		t.Fatalf("Targets() = %v, want a single collapsed target", targets)
	}
	if targets[0].Platform != types.PlatformMacOS {
		t.Fatalf("Targets()[0].Platform = %v, want macos", targets[0].Platform)
	}
	if err := m.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
}

func TestApplyReplacementsRejectsUnknownArch(t *testing.T) {
	m := stub.NewInfo(stub.V4)
	m.InstallName = "/usr/lib/libFoo.dylib"
	m.EnsureTarget(stub.Target{ArchIndex: types.ArchByName("arm64"), Platform: types.PlatformMacOS})

	o := &extractOptions{replaceArchs: []string{"not-a-real-arch"}}
	if err := applyReplacements(m, o); err == nil {
		t.Fatal("expected an error for an unknown --replace-archs value")
	}
}
