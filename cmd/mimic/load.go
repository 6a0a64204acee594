package main

import (
	"fmt"
	"os"

	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/fat32"
	"github.com/mimic/mimic/internal/logging"
	"github.com/spf13/cobra"
)

func newLoadCmd() *cobra.Command {
	var priority uint8
	cmd := &cobra.Command{
		Use:   "load <image> <binary.mimi>",
		Short: "copy a .mimi binary onto the image and load it as a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(args[0], args[1], priority)
		},
	}
	cmd.Flags().Uint8Var(&priority, "priority", defaultPriority, "scheduler priority (lower runs first)")
	return cmd
}

// runLoad implements spec.md section 6's load_and_start over the CLI's
// image/binary split: the binary is put onto the image's FAT32 volume so
// it survives as a resident program the way ps/lsmem/kill expect to
// find it on a later invocation, then loaded into the freshly-booted
// kernel at the requested priority and reported on.
func runLoad(imagePath, binaryPath string, priority uint8) error {
	raw, err := os.ReadFile(binaryPath)
	if err != nil {
		return errs.New(errs.IO, "reading %s: %v", binaryPath, err)
	}

	s, err := openSession(imagePath)
	if err != nil {
		return err
	}
	defer s.close()

	if err := putResident(s, residentName(binaryPath), raw); err != nil {
		return err
	}

	id, err := s.ld.Load(raw, priority)
	if err != nil {
		return err
	}
	s.k.Tick(0)

	t := s.k.Task(id)
	logging.Task(log, id).WithFields(map[string]interface{}{
		"entry":    t.EntryAddr,
		"sp":       t.SP,
		"priority": t.Priority,
	}).Info("task loaded")
	fmt.Println(id)
	return nil
}

func putResident(s *session, name string, raw []byte) error {
	h, err := s.vol.Open("/"+name, fat32.ModeWrite|fat32.ModeCreate)
	if err != nil {
		return err
	}
	defer h.Close()
	_, err = h.Write(raw)
	return err
}

// residentName maps a host-filesystem binary path to an 8.3 FAT name,
// truncating the stem to 8 characters since internal/fat32 has no
// long-file-name support (matching spec.md's Non-goal scope).
func residentName(hostPath string) string {
	base := hostPath
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' || base[i] == os.PathSeparator {
			base = base[i+1:]
			break
		}
	}
	for i, r := range base {
		if r == '.' {
			base = base[:i]
			break
		}
	}
	if len(base) > 8 {
		base = base[:8]
	}
	return base + ".MIM"
}
