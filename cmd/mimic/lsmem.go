package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mimic/mimic/internal/arena"
	"github.com/spf13/cobra"
)

func newLsmemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lsmem <image>",
		Short: "list kernel and user arena blocks (list_memory)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLsmem(args[0])
		},
	}
}

func runLsmem(imagePath string) error {
	s, err := openSession(imagePath)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.bootResident(); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POOL\tADDR\tSIZE\tOWNER\tFREE")
	printPool(w, "kernel", s.k.Arena.Kernel.Blocks())
	printPool(w, "user", s.k.Arena.User.Blocks())
	return w.Flush()
}

func printPool(w *tabwriter.Writer, name string, blocks []arena.Block) {
	for _, b := range blocks {
		fmt.Fprintf(w, "%s\t%#x\t%d\t%d\t%v\n", name, b.Addr, b.Size, b.Owner, b.Free)
	}
}
