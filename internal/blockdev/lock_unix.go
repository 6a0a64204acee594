//go:build linux || darwin
// +build linux darwin

package blockdev

import (
	"golang.org/x/sys/unix"

	"github.com/mimic/mimic/internal/errs"
)

// lockFile takes an advisory exclusive lock on fd, the way a real SD card
// controller serializes access to the one physical device: two mimic CLI
// invocations against the same image file must not interleave sector
// writes. Non-blocking, since a held lock means "another mimic command is
// using this image right now" rather than something worth waiting on.
func lockFile(fd uintptr) error {
	if err := unix.Flock(int(fd), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return errs.New(errs.IO, "image is locked by another mimic process: %v", err)
	}
	return nil
}

func unlockFile(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_UN)
}
