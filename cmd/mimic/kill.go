package main

import (
	"fmt"
	"strconv"

	"github.com/mimic/mimic/internal/errs"
	"github.com/spf13/cobra"
)

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <image> <task_id>",
		Short: "boot the image's resident tasks and kill one of them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return errs.New(errs.INVAL, "task id %q is not a number", args[1])
			}
			return runKill(args[0], id)
		},
	}
}

func runKill(imagePath string, id int) error {
	s, err := openSession(imagePath)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.bootResident(); err != nil {
		return err
	}
	if err := s.k.Kill(id); err != nil {
		return err
	}
	fmt.Printf("killed task %d\n", id)
	return nil
}
