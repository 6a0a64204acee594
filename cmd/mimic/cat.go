package main

import (
	"io"
	"os"

	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/fat32"
	"github.com/spf13/cobra"
)

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <image> <path>",
		Short: "stream a file out of the image's FAT32 volume (file_read_stream)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCat(args[0], args[1])
		},
	}
}

func runCat(imagePath, path string) error {
	s, err := openSession(imagePath)
	if err != nil {
		return err
	}
	defer s.close()

	h, err := s.vol.Open(path, fat32.ModeRead)
	if err != nil {
		return err
	}
	defer h.Close()

	buf := make([]byte, 512)
	for {
		n, rerr := h.Read(buf)
		if n > 0 {
			if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
				return errs.New(errs.IO, "writing stdout: %v", werr)
			}
		}
		if rerr == io.EOF || n == 0 {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
