package main

import (
	"strings"

	"github.com/mimic/mimic/internal/arena"
	"github.com/mimic/mimic/internal/blockdev"
	"github.com/mimic/mimic/internal/config"
	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/fat32"
	"github.com/mimic/mimic/internal/kernel"
	"github.com/mimic/mimic/internal/loader"
	"github.com/mimic/mimic/internal/mimi"
)

// defaultPriority is assigned to every task booted from the image's
// resident .mimi files; the CLI has no notion of a priority for a task
// it did not just load itself.
const defaultPriority = 100

// session wires a FAT32-backed .img file to a fresh kernel and loader,
// the way the mimic CLI's <image> argument drives a real device image per
// SPEC_FULL.md section 4.11. It has no persistent daemon behind it —
// every subcommand that needs task state opens one of these, boots
// whatever .mimi binaries are already resident in the volume's root
// directory as READY tasks, and reports on the result.
type session struct {
	dev *blockdev.FileDevice
	vol *fat32.Volume
	k   *kernel.Kernel
	ld  *loader.Loader
}

func openSession(imagePath string) (*session, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}

	dev, err := blockdev.OpenFileDevice(imagePath)
	if err != nil {
		return nil, err
	}
	vol, err := fat32.Mount(blockdev.NewSimulatedSD(dev))
	if err != nil {
		dev.Close()
		return nil, errs.New(errs.IO, "mounting %s: %v", imagePath, err)
	}

	alloc := arena.New(0, cfg.KernelArenaSize, cfg.KernelArenaSize, cfg.UserArenaSize, cfg.MaxArenaBlocks)
	k := kernel.New(alloc, cfg.MaxTasks)
	k.SetVolume(vol)

	img := loader.NewImage(cfg.KernelArenaSize + cfg.UserArenaSize)
	k.SetMemory(img)
	ld := loader.New(k, img, mimi.ArchThumb)

	return &session{dev: dev, vol: vol, k: k, ld: ld}, nil
}

func (s *session) close() {
	s.vol.Flush()
	s.dev.Close()
}

// bootResident loads every .mimi file in the image's root directory as a
// READY task at defaultPriority, then ticks the scheduler once so
// CurrentTask/ps/lsmem reflect a settled pick rather than the all-FREE
// startup state.
func (s *session) bootResident() error {
	entries, err := s.vol.List("/")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !hasMimiExt(e.Name) {
			continue
		}
		if err := s.loadResident(e.Name); err != nil {
			return err
		}
	}
	s.k.Tick(0)
	return nil
}

func (s *session) loadResident(name string) error {
	h, err := s.vol.Open("/"+name, fat32.ModeRead)
	if err != nil {
		return err
	}
	defer h.Close()

	buf := make([]byte, h.Size())
	if _, err := h.Read(buf); err != nil {
		return err
	}
	_, err = s.ld.Load(buf, defaultPriority)
	return err
}

func hasMimiExt(name string) bool {
	return strings.HasSuffix(strings.ToUpper(name), ".MIM")
}
