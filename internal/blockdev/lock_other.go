//go:build !linux && !darwin
// +build !linux,!darwin

package blockdev

// lockFile is a no-op outside Linux/Darwin: the mimic CLI's single-process,
// single-command-at-a-time usage makes advisory locking a Unix-specific
// nicety rather than a correctness requirement.
func lockFile(fd uintptr) error { return nil }

func unlockFile(fd uintptr) error { return nil }
