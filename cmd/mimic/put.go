package main

import (
	"os"

	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/fat32"
	"github.com/spf13/cobra"
)

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <image> <host-file> <path>",
		Short: "copy a host file onto the image's FAT32 volume",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(args[0], args[1], args[2])
		},
	}
}

func runPut(imagePath, hostPath, path string) error {
	raw, err := os.ReadFile(hostPath)
	if err != nil {
		return errs.New(errs.IO, "reading %s: %v", hostPath, err)
	}

	s, err := openSession(imagePath)
	if err != nil {
		return err
	}
	defer s.close()

	h, err := s.vol.Open(path, fat32.ModeWrite|fat32.ModeCreate)
	if err != nil {
		return err
	}
	defer h.Close()
	_, err = h.Write(raw)
	return err
}
