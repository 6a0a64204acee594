package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/mimi"
	"github.com/mimic/mimic/internal/object"
	"github.com/spf13/cobra"
)

func newObjdumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "objdump <file.mimi|file.o>",
		Short: "dump a .mimi or object-file header and symbol table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObjdump(args[0])
		},
	}
}

func runObjdump(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errs.New(errs.IO, "reading %s: %v", path, err)
	}

	if len(raw) >= 4 && binary.LittleEndian.Uint32(raw[0:4]) == mimi.Magic {
		return dumpMimi(raw)
	}
	return dumpObject(raw)
}

func dumpMimi(raw []byte) error {
	f, err := mimi.Read(raw)
	if err != nil {
		return err
	}
	h := f.Header
	fmt.Printf("mimi header: version=%d arch=%d flags=%#x entry=%#x\n", h.Version, h.Arch, h.Flags, h.EntryOffset)
	fmt.Printf("  text=%d rodata=%d data=%d bss=%d\n", h.TextSize, h.RodataSize, h.DataSize, h.BSSSize)
	fmt.Printf("  stack_request=%d heap_request=%d name=%q\n", h.StackRequest, h.HeapRequest, h.Name)
	dumpSymbols(f.Symbols)
	return nil
}

func dumpObject(raw []byte) error {
	f, err := object.Read(raw)
	if err != nil {
		return errs.New(errs.CORRUPT, "not a recognized .mimi or object file: %v", err)
	}
	fmt.Printf("object: text=%d data=%d relocs=%d symbols=%d\n",
		len(f.Text), len(f.Data), len(f.Relocs), len(f.Symbols))
	for _, r := range f.Relocs {
		fmt.Printf("  reloc off=%#x section=%d type=%d sym=%d\n", r.Offset, r.Section, r.Type, r.SymbolIdx)
	}
	dumpSymbols(f.Symbols)
	return nil
}

func dumpSymbols(syms []object.Symbol) {
	for _, s := range syms {
		fmt.Printf("  sym %-16s value=%#x section=%d type=%d\n", s.Name, s.Value, s.Section, s.Type)
	}
}
