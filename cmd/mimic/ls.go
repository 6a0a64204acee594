package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <image> <dir>",
		Short: "list a directory on the image's FAT32 volume (directory_list)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLs(args[0], args[1])
		},
	}
}

func runLs(imagePath, dir string) error {
	s, err := openSession(imagePath)
	if err != nil {
		return err
	}
	defer s.close()

	entries, err := s.vol.List(dir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSIZE")
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", e.Name, kind, e.Size)
	}
	return w.Flush()
}
