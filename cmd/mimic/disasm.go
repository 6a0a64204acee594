package main

import (
	"fmt"
	"os"

	"github.com/mimic/mimic/internal/disasm"
	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/mimi"
	"github.com/spf13/cobra"
)

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <binary.mimi>",
		Short: "disassemble a .mimi binary's .text section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisasm(args[0])
		},
	}
}

func runDisasm(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errs.New(errs.IO, "reading %s: %v", path, err)
	}
	f, err := mimi.Read(raw)
	if err != nil {
		return err
	}

	insns, err := disasm.Decode(f.Text, 0)
	if err != nil {
		return err
	}
	for _, in := range insns {
		fmt.Printf("%8x:\t%s\n", in.Addr, in.Text)
	}
	return nil
}
