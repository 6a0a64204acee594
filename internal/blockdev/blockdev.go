// Package blockdev specifies the block device boundary used by
// internal/fat32: fixed-size sector read/write. Raw SPI bit-banging of an
// SD card is out of scope (spec.md section 1); this package only needs to
// give the volume layer and the loader something concrete to call, plus a
// host-side backing for tests and the mimic CLI's <image> argument.
package blockdev

import (
	"io"
	"os"
	"time"

	"github.com/mimic/mimic/internal/errs"
)

// SectorSize is the only sector size spec.md's FAT32 subset accepts.
const SectorSize = 512

// Device is a fixed-size sector store. Implementations must reject any
// buffer whose length is not SectorSize.
type Device interface {
	ReadSector(lba uint32, buf []byte) error
	WriteSector(lba uint32, buf []byte) error
	SectorSize() int
	TotalSectors() uint32
}

// MemDevice is an in-RAM block device, used by unit tests across
// internal/fat32 and internal/loader without touching the filesystem.
type MemDevice struct {
	data []byte
}

// NewMemDevice allocates a MemDevice with the given sector count.
func NewMemDevice(sectors uint32) *MemDevice {
	return &MemDevice{data: make([]byte, uint64(sectors)*SectorSize)}
}

func (m *MemDevice) SectorSize() int      { return SectorSize }
func (m *MemDevice) TotalSectors() uint32 { return uint32(len(m.data) / SectorSize) }

func (m *MemDevice) ReadSector(lba uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return errs.New(errs.INVAL, "read buffer must be %d bytes", SectorSize)
	}
	off := uint64(lba) * SectorSize
	if off+SectorSize > uint64(len(m.data)) {
		return errs.New(errs.IO, "sector %d out of range", lba)
	}
	copy(buf, m.data[off:off+SectorSize])
	return nil
}

func (m *MemDevice) WriteSector(lba uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return errs.New(errs.INVAL, "write buffer must be %d bytes", SectorSize)
	}
	off := uint64(lba) * SectorSize
	if off+SectorSize > uint64(len(m.data)) {
		return errs.New(errs.IO, "sector %d out of range", lba)
	}
	copy(m.data[off:off+SectorSize], buf)
	return nil
}

// FileDevice backs a Device with a regular file (a disk image), used by the
// mimic CLI's <image> argument to drive a real FAT32-formatted .img file.
type FileDevice struct {
	f       *os.File
	sectors uint32
}

// OpenFileDevice opens path (which must already exist and be a multiple of
// SectorSize) as a block device, taking an advisory exclusive lock on it for
// the lifetime of the FileDevice.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errs.New(errs.IO, "open %s: %v", path, err)
	}
	if err := lockFile(f.Fd()); err != nil {
		f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		unlockFile(f.Fd())
		f.Close()
		return nil, errs.New(errs.IO, "stat %s: %v", path, err)
	}
	return &FileDevice{f: f, sectors: uint32(info.Size() / SectorSize)}, nil
}

func (d *FileDevice) SectorSize() int      { return SectorSize }
func (d *FileDevice) TotalSectors() uint32 { return d.sectors }

func (d *FileDevice) ReadSector(lba uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return errs.New(errs.INVAL, "read buffer must be %d bytes", SectorSize)
	}
	if _, err := d.f.ReadAt(buf, int64(lba)*SectorSize); err != nil && err != io.EOF {
		return errs.New(errs.IO, "read sector %d: %v", lba, err)
	}
	return nil
}

func (d *FileDevice) WriteSector(lba uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return errs.New(errs.INVAL, "write buffer must be %d bytes", SectorSize)
	}
	if _, err := d.f.WriteAt(buf, int64(lba)*SectorSize); err != nil {
		return errs.New(errs.IO, "write sector %d: %v", lba, err)
	}
	return nil
}

func (d *FileDevice) Close() error {
	unlockFile(d.f.Fd())
	return d.f.Close()
}

// SimulatedSD wraps a Device and models the SD command-phase timeout for
// block reads and writes (500 ms by default). Real hardware polls a busy
// line; here the Busy flag stands for "the card never became ready within
// the timeout", so a test can drive the failure deterministically instead
// of sleeping wall-clock time. ReadTimeout/WriteTimeout only appear in the
// resulting error message; no card-init phase is modeled.
type SimulatedSD struct {
	Device
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Busy, when true, means the card has not yet become ready; the next
	// ReadSector/WriteSector call will fail with errs.IO instead of
	// performing the operation, modeling a timed-out busy-wait.
	Busy bool
}

// NewSimulatedSD wraps dev with the spec-mandated default timeouts.
func NewSimulatedSD(dev Device) *SimulatedSD {
	return &SimulatedSD{Device: dev, ReadTimeout: 500 * time.Millisecond, WriteTimeout: 500 * time.Millisecond}
}

func (s *SimulatedSD) ReadSector(lba uint32, buf []byte) error {
	if s.Busy {
		return errs.New(errs.IO, "sd card busy beyond %s read timeout", s.ReadTimeout)
	}
	return s.Device.ReadSector(lba, buf)
}

func (s *SimulatedSD) WriteSector(lba uint32, buf []byte) error {
	if s.Busy {
		return errs.New(errs.IO, "sd card busy beyond %s write timeout", s.WriteTimeout)
	}
	return s.Device.WriteSector(lba, buf)
}
