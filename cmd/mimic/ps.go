package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps <image>",
		Short: "list tasks resident on the image (list_tasks)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPs(args[0])
		},
	}
}

func runPs(imagePath string) error {
	s, err := openSession(imagePath)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.bootResident(); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tPRIO\tENTRY\tSP\tSWITCHES")
	for _, t := range s.k.Tasks() {
		fmt.Fprintf(w, "%d\t%s\t%d\t%#x\t%#x\t%d\n",
			t.ID, t.State, t.Priority, t.EntryAddr, t.SP, t.ContextSwitches)
	}
	return w.Flush()
}
