// Command machostub converts Mach-O dynamic libraries and dyld
// shared-cache images into YAML stub ("tbd") files (spec.md §6, C11).
//
// Grounded on the pack's cobra usage (DataDog's cmd/system-probe
// subcommand tree: Use/Short/RunE, cmd.Flags() for the option surface)
// and the teacher's single-binary-tool shape (cmd/dtest), generalized
// from a one-off test harness into a command with a real subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "machostub:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "machostub",
		Short:         "Convert Mach-O libraries and dyld shared-cache images to stub (.tbd) files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newExtractCmd())
	return root
}
