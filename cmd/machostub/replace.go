package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blacktop/go-tapi/pkg/stub"
	"github.com/blacktop/go-tapi/types"
)

// applyReplacements implements the --replace-* overrides from spec.md §6's
// CLI sketch: they run after parsing, before Freeze, directly against
// Info's exported fields and target list — the same surface a caller
// embedding this package as a library would use to correct metadata a
// binary recorded wrong or omitted.
func applyReplacements(model *stub.Info, o *extractOptions) error {
	if o.replaceInstallName != "" {
		model.InstallName = o.replaceInstallName
	}
	if o.replaceCurrentVersion != "" {
		v, err := parseVersion(o.replaceCurrentVersion)
		if err != nil {
			return fmt.Errorf("--replace-current-version: %w", err)
		}
		model.CurrentVersion = v
	}
	if o.replaceCompatVersion != "" {
		v, err := parseVersion(o.replaceCompatVersion)
		if err != nil {
			return fmt.Errorf("--replace-compatibility-version: %w", err)
		}
		model.CompatibilityVersion = v
	}
	if o.replaceObjcConstraint != "" {
		c, err := parseObjcConstraint(o.replaceObjcConstraint)
		if err != nil {
			return err
		}
		model.ObjcConstraint = c
	}
	if o.replaceSwiftVersionSet {
		model.SwiftVersion = o.replaceSwiftVersion
	}
	if len(o.replaceFlags) > 0 {
		flags, err := parseFlags(o.replaceFlags)
		if err != nil {
			return err
		}
		model.Flags = flags
	}
	if o.replacePlatform != "" {
		p := types.ParsePlatformName(o.replacePlatform)
		targets := model.Targets()
		for i := range targets {
			targets[i].Platform = p
		}
		// Collapsing every target onto one platform can make two targets
		// that only differed by platform identical; merge rather than emit
		// duplicate Target entries.
		model.CollapseTargets()
	}
	if len(o.replaceArchs) > 0 {
		targets := model.Targets()
		for i, name := range o.replaceArchs {
			if i >= len(targets) {
				break
			}
			idx := types.ArchByName(name)
			if idx < 0 {
				return fmt.Errorf("--replace-archs: unknown architecture %q", name)
			}
			targets[i].ArchIndex = idx
		}
		model.CollapseTargets()
	}
	if len(o.replaceTargets) > 0 {
		targets := model.Targets()
		for i, spec := range o.replaceTargets {
			if i >= len(targets) {
				break
			}
			t, err := stub.ParseTargetString(spec)
			if err != nil {
				return fmt.Errorf("--replace-targets: %w", err)
			}
			targets[i] = t
		}
		model.CollapseTargets()
	}
	return nil
}

func parseVersion(s string) (types.Version, error) {
	parts := strings.SplitN(s, ".", 3)
	var nums [3]int
	for i, p := range parts {
		if i >= 3 {
			break
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("malformed version %q", s)
		}
		nums[i] = n
	}
	return types.Version(uint32(nums[0])<<16 | uint32(nums[1])<<8 | uint32(nums[2])), nil
}

func parseObjcConstraint(s string) (stub.ObjcConstraint, error) {
	switch s {
	case "none":
		return stub.ObjcConstraintNone, nil
	case "retain_release":
		return stub.ObjcConstraintRetainRelease, nil
	case "retain_release_or_gc":
		return stub.ObjcConstraintRetainReleaseOrGC, nil
	case "retain_release_for_simulator":
		return stub.ObjcConstraintRetainReleaseForSimulator, nil
	case "gc":
		return stub.ObjcConstraintGC, nil
	default:
		return 0, fmt.Errorf("--replace-objc-constraint: unknown constraint %q", s)
	}
}

func parseFlags(names []string) (stub.Flags, error) {
	var flags stub.Flags
	for _, n := range names {
		switch strings.TrimSpace(n) {
		case "flat_namespace":
			flags |= stub.FlagFlatNamespace
		case "not_app_extension_safe":
			flags |= stub.FlagNotAppExtensionSafe
		case "":
			// allow a trailing empty element from StringSliceVar's split
		default:
			return 0, fmt.Errorf("--replace-flags: unknown flag %q", n)
		}
	}
	return flags, nil
}
