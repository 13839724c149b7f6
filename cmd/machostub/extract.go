package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blacktop/go-tapi/internal/bio"
	"github.com/blacktop/go-tapi/macho"
	"github.com/blacktop/go-tapi/pkg/dyldcache"
	"github.com/blacktop/go-tapi/pkg/fat"
	"github.com/blacktop/go-tapi/pkg/stub"
	"github.com/blacktop/go-tapi/types"
)

// extractOptions collects every flag from spec.md §6's CLI sketch
// (fleshed out in SPEC_FULL.md §6.3). It is filled by cobra and then
// translated into macho.ParseOptions and the replacement/image-filter
// helpers below; no flag sets macho.ParseOptions.Stub (stub.AddOptions).
type extractOptions struct {
	recursive bool
	output    string
	schema    string

	replaceInstallName     string
	replaceCurrentVersion  string
	replaceCompatVersion   string
	replacePlatform        string
	replaceArchs           []string
	replaceTargets         []string
	replaceObjcConstraint  string
	replaceSwiftVersion    int
	replaceSwiftVersionSet bool
	replaceFlags           []string

	ignoreUndefineds bool
	ignoreExports    bool
	ignoreReexports  bool
	ignoreClients    bool

	allowPrivObjcClassSyms  bool
	allowPrivObjcIvarSyms   bool
	allowPrivObjcEhtypeSyms bool

	imagePath      string
	imageName      string
	imageDirectory string
	imageOrdinal   int
}

func newExtractCmd() *cobra.Command {
	o := &extractOptions{}

	cmd := &cobra.Command{
		Use:   "extract <path>",
		Short: "Extract a stub file from a Mach-O binary, fat file, or dyld shared cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runExtract(args[0], o)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&o.recursive, "recursive", false, "walk directories for Mach-O/dyld-cache files")
	f.StringVarP(&o.output, "output", "o", "", "destination file or directory")
	f.StringVar(&o.schema, "schema", "v4", "stub schema version: v1, v2, v3, or v4")

	f.StringVar(&o.replaceInstallName, "replace-install-name", "", "override the recorded install name")
	f.StringVar(&o.replaceCurrentVersion, "replace-current-version", "", "override the recorded current version (X.Y.Z)")
	f.StringVar(&o.replaceCompatVersion, "replace-compatibility-version", "", "override the recorded compatibility version (X.Y.Z)")
	f.StringVar(&o.replacePlatform, "replace-platform", "", "override every target's platform")
	f.StringSliceVar(&o.replaceArchs, "replace-archs", nil, "override the target arch list, by position")
	f.StringSliceVar(&o.replaceTargets, "replace-targets", nil, "override the full arch-platform target list")
	f.StringVar(&o.replaceObjcConstraint, "replace-objc-constraint", "", "override objc_constraint")
	f.IntVar(&o.replaceSwiftVersion, "replace-swift-version", 0, "override the internal swift_version")
	f.StringSliceVar(&o.replaceFlags, "replace-flags", nil, "override the flags list (flat_namespace, not_app_extension_safe)")

	f.BoolVar(&o.ignoreUndefineds, "ignore-undefineds", false, "drop undefined symbols (v2+)")
	f.BoolVar(&o.ignoreExports, "ignore-exports", false, "drop export-trie and nlist exported symbols")
	f.BoolVar(&o.ignoreReexports, "ignore-reexports", false, "drop LC_REEXPORT_DYLIB and trie reexport symbols")
	f.BoolVar(&o.ignoreClients, "ignore-clients", false, "drop LC_SUB_CLIENT entries")
	f.BoolVar(&o.allowPrivObjcClassSyms, "allow-priv-objc-class-syms", false, "admit non-external _OBJC_CLASS_$ symbols")
	f.BoolVar(&o.allowPrivObjcIvarSyms, "allow-priv-objc-ivar-syms", false, "admit non-external _OBJC_IVAR_$ symbols")
	f.BoolVar(&o.allowPrivObjcEhtypeSyms, "allow-priv-objc-ehtype-syms", false, "admit non-external _OBJC_EHTYPE_$ symbols")

	f.StringVar(&o.imagePath, "image-path", "", "select one dyld-cache image by its exact recorded path")
	f.StringVar(&o.imageName, "image-name", "", "select dyld-cache images by filename")
	f.StringVar(&o.imageDirectory, "image-directory", "", "select dyld-cache images under a containing directory")
	f.IntVar(&o.imageOrdinal, "image-ordinal", 0, "select one dyld-cache image by 1-based ordinal")

	cmd.PreRun = func(*cobra.Command, []string) {
		o.replaceSwiftVersionSet = f.Changed("replace-swift-version")
	}

	return cmd
}

func runExtract(path string, o *extractOptions) error {
	version, err := parseSchemaVersion(o.schema)
	if err != nil {
		return err
	}

	var targets []string
	if o.recursive {
		if err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			targets = append(targets, p)
			return nil
		}); err != nil {
			return err
		}
	} else {
		targets = []string{path}
	}

	for _, t := range targets {
		if err := extractOne(t, version, o); err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
	}
	return nil
}

func parseSchemaVersion(s string) (stub.SchemaVersion, error) {
	switch strings.ToLower(s) {
	case "v1", "1":
		return stub.V1, nil
	case "v2", "2":
		return stub.V2, nil
	case "v3", "3":
		return stub.V3, nil
	case "v4", "4", "":
		return stub.V4, nil
	default:
		return 0, fmt.Errorf("unknown schema %q", s)
	}
}

// openSlab memory-maps nothing; it reads the whole file into a bio.MemSlab,
// matching the teacher's default "load the file, then decode" posture for
// inputs of the size this tool targets (individual dylibs and cache
// images), reserving bio.FileSlab for callers who construct one directly.
func openSlab(path string) (bio.Slab, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	data := make([]byte, info.Size())
	if _, err := f.ReadAt(data, 0); err != nil && info.Size() > 0 {
		f.Close()
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return &bio.MemSlab{Data: data}, f.Close, nil
}

func extractOne(path string, version stub.SchemaVersion, o *extractOptions) error {
	slab, closeFn, err := openSlab(path)
	if err != nil {
		return err
	}
	defer closeFn()

	model := stub.NewInfo(version)
	policy := stub.ReportAndContinue{Report: func(c *stub.Conflict) {
		fmt.Fprintf(os.Stderr, "machostub: %s: %v\n", path, c)
	}}
	parseOpts := buildParseOptions(o)

	switch kind, err := detectContainer(slab); {
	case err != nil:
		return err
	case kind == containerDyldCache:
		if err := extractDyldCache(slab, model, policy, parseOpts, o); err != nil {
			return err
		}
	case kind == containerFat:
		archs, err := fat.Parse(slab)
		if err != nil {
			return err
		}
		for _, a := range archs {
			headerOffset := int64(a.Range.Begin)
			if _, err := macho.ParseSlice(slab, headerOffset, headerOffset, int64(a.Range.End), a.ArchIndex, model, policy, parseOpts); err != nil {
				return err
			}
		}
	default:
		archIndex, err := macho.PeekArch(slab, 0)
		if err != nil {
			return err
		}
		if _, err := macho.ParseSlice(slab, 0, 0, slab.Len(), archIndex, model, policy, parseOpts); err != nil {
			return err
		}
	}

	if err := applyReplacements(model, o); err != nil {
		return err
	}
	if err := model.Freeze(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := model.Emit(&buf, stub.EmitOptions{}); err != nil {
		return err
	}

	outPath := o.output
	if outPath == "" {
		outPath = defaultOutputPath(model, path)
	} else if info, statErr := os.Stat(outPath); statErr == nil && info.IsDir() {
		outPath = filepath.Join(outPath, defaultOutputName(model, path))
	}
	return os.WriteFile(outPath, buf.Bytes(), 0o644)
}

func defaultOutputName(model *stub.Info, sourcePath string) string {
	leaf := model.InstallName
	if leaf == "" {
		leaf = filepath.Base(sourcePath)
	} else {
		leaf = filepath.Base(leaf)
	}
	return leaf + ".tbd"
}

func defaultOutputPath(model *stub.Info, sourcePath string) string {
	return filepath.Join(filepath.Dir(sourcePath), defaultOutputName(model, sourcePath))
}

func buildParseOptions(o *extractOptions) macho.ParseOptions {
	opts := macho.DefaultParseOptions()
	opts.IgnoreUndefineds = o.ignoreUndefineds
	opts.IgnoreExports = o.ignoreExports
	opts.AllowPrivObjcClassSyms = o.allowPrivObjcClassSyms
	opts.AllowPrivObjcIvarSyms = o.allowPrivObjcIvarSyms
	opts.AllowPrivObjcEhtypeSyms = o.allowPrivObjcEhtypeSyms
	opts.IgnoreReexports = o.ignoreReexports
	opts.IgnoreClients = o.ignoreClients
	return opts
}

type containerKind int

const (
	containerMacho containerKind = iota
	containerFat
	containerDyldCache
)

// detectContainer peeks at the first bytes of slab to classify it,
// spec.md §4.5: dyld caches carry the "dyld_v1" text magic, fat files
// carry one of the two big-endian FAT_MAGIC values, and anything else is
// handed to the Mach-O header reader directly.
func detectContainer(slab bio.Slab) (containerKind, error) {
	head, err := bio.SlabBytes(slab, 0, 16)
	if err != nil {
		return containerMacho, err
	}
	if bytes.HasPrefix(head, []byte("dyld_v1")) {
		return containerDyldCache, nil
	}
	magic := types.Magic(binary.BigEndian.Uint32(head[:4]))
	if magic == types.MagicFat32 || magic == types.MagicFat64 {
		return containerFat, nil
	}
	return containerMacho, nil
}

func extractDyldCache(slab bio.Slab, model *stub.Info, policy stub.ConflictPolicy, parseOpts macho.ParseOptions, o *extractOptions) error {
	cache, err := dyldcache.Parse(slab)
	if err != nil {
		return err
	}
	archIndex := types.ArchByName(cache.ArchTag)
	if archIndex < 0 {
		return fmt.Errorf("dyld cache: unrecognized architecture tag %q", cache.ArchTag)
	}

	selected := selectImages(cache.Images, o)
	if len(selected) == 0 {
		return fmt.Errorf("dyld cache: no image matched the selection filters")
	}
	for _, img := range selected {
		headerOffset, err := cache.FileOffset(img.Address)
		if err != nil {
			return fmt.Errorf("dyld cache: image %s: %w", img.Path, err)
		}
		if _, err := macho.ParseSlice(slab, headerOffset, 0, slab.Len(), archIndex, model, policy, parseOpts); err != nil {
			return fmt.Errorf("dyld cache: image %s: %w", img.Path, err)
		}
	}
	return nil
}

// selectImages applies the --image-* filters in spec.md §6.3. With no
// filter set, every image in the cache is parsed into the one model.
func selectImages(images []dyldcache.Image, o *extractOptions) []dyldcache.Image {
	if o.imageOrdinal > 0 {
		if o.imageOrdinal > len(images) {
			return nil
		}
		return images[o.imageOrdinal-1 : o.imageOrdinal]
	}
	if o.imagePath == "" && o.imageName == "" && o.imageDirectory == "" {
		return images
	}
	var out []dyldcache.Image
	for _, img := range images {
		if o.imagePath != "" && img.Path != o.imagePath {
			continue
		}
		if o.imageName != "" && filepath.Base(img.Path) != o.imageName {
			continue
		}
		if o.imageDirectory != "" && filepath.Dir(img.Path) != o.imageDirectory {
			continue
		}
		out = append(out, img)
	}
	return out
}
