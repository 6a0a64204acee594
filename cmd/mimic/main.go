// Command mimic is the host-side development tool for the mimic
// embedded target: it drives the compile/link pipeline and inspects a
// FAT32-formatted device image the way a developer would during a
// compile/load/run cycle, exposing spec.md section 6's external
// interface as cobra subcommands instead of the on-device shell (out of
// scope per spec.md).
//
// Grounded on the teacher's main.go in shape only (a small CLI in front
// of the same compiler passes); the teacher itself parses a single flat
// flag set with the standard library's flag package, but this tool's
// ten distinct subcommands (compile, load, kill, ps, lsmem, cat, ls,
// put, disasm, objdump) are the kind of surface the wider corpus
// reaches for github.com/spf13/cobra to dispatch, rather than
// hand-rolling a sub-command switch over os.Args[1].
package main

import (
	"fmt"
	"os"

	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	log     *logrus.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "mimic",
		Short:         "compile, link, load, and inspect programs for the mimic task kernel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log = logging.New(verbose)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newCompileCmd(),
		newLoadCmd(),
		newKillCmd(),
		newPsCmd(),
		newLsmemCmd(),
		newCatCmd(),
		newLsCmd(),
		newPutCmd(),
		newDisasmCmd(),
		newObjdumpCmd(),
	)

	if err := root.Execute(); err != nil {
		code := errs.As(err)
		fmt.Fprintln(os.Stderr, "mimic:", err)
		os.Exit(code.ExitCode())
	}
}
