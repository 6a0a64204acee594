// Package fat32 implements the FAT32 subset described in spec.md section
// 4.2: MBR/superfloppy detection, BPB parsing, a one-sector write-back
// cache, cluster-chain walking, 8.3 directory traversal and creation, and
// the write-back contract on file close. cmd/mimic's load, cat, ls and
// put commands reach files on the disk image through this package; the
// compile command reads sources and writes its .mimi output through the
// host's os package instead.
package fat32

import (
	"encoding/binary"

	"github.com/mimic/mimic/internal/blockdev"
	"github.com/mimic/mimic/internal/errs"
)

const (
	sectorSize    = 512
	dirEntrySize  = 32
	entriesPerDir = sectorSize / dirEntrySize

	// EOC is the end-of-chain sentinel: any FAT entry >= this value marks
	// the last cluster in a chain (spec.md section 4.2).
	eocThreshold = 0x0FFFFFF8
	freeCluster  = 0
	fatEntryMask = 0x0FFFFFFF
)

// Volume holds mount-time geometry and the single sector cache, per
// spec.md section 3's Volume state.
type Volume struct {
	dev blockdev.Device

	partitionStart    uint32
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	fatSize           uint32
	rootCluster       uint32
	totalSectors      uint32

	fatStart        uint32
	dataStart       uint32
	totalClusters   uint32
	bytesPerCluster uint32

	cache        [sectorSize]byte
	cachedSector uint32
	cacheValid   bool
	cacheDirty   bool
}

// Mount reads sector 0, detects an MBR vs. superfloppy layout, parses the
// BPB at the partition base, and validates geometry per spec.md section 4.2.
func Mount(dev blockdev.Device) (*Volume, error) {
	v := &Volume{dev: dev}

	var sector0 [sectorSize]byte
	if err := dev.ReadSector(0, sector0[:]); err != nil {
		return nil, err
	}

	partitionStart := uint32(0)
	if sector0[510] == 0x55 && sector0[511] == 0xAA && sector0[0] != 0xEB && sector0[0] != 0xE9 {
		entry := sector0[446:462]
		partType := entry[4]
		switch partType {
		case 0x0B, 0x0C, 0x1B, 0x1C:
			partitionStart = binary.LittleEndian.Uint32(entry[8:12])
		default:
			// Unrecognized partition type: fall back to superfloppy (base 0)
			// rather than trusting an LBA for a filesystem we cannot name.
		}
	}
	v.partitionStart = partitionStart

	var bpb [sectorSize]byte
	if err := dev.ReadSector(partitionStart, bpb[:]); err != nil {
		return nil, err
	}

	v.bytesPerSector = binary.LittleEndian.Uint16(bpb[11:13])
	v.sectorsPerCluster = bpb[13]
	v.reservedSectors = binary.LittleEndian.Uint16(bpb[14:16])
	v.numFATs = bpb[16]
	v.fatSize = binary.LittleEndian.Uint32(bpb[36:40])
	v.rootCluster = binary.LittleEndian.Uint32(bpb[44:48])
	totalSectors16 := binary.LittleEndian.Uint16(bpb[19:21])
	totalSectors32 := binary.LittleEndian.Uint32(bpb[32:36])
	if totalSectors16 != 0 {
		v.totalSectors = uint32(totalSectors16)
	} else {
		v.totalSectors = totalSectors32
	}

	if v.bytesPerSector != sectorSize {
		return nil, errs.New(errs.CORRUPT, "unsupported bytes-per-sector %d", v.bytesPerSector)
	}
	if v.sectorsPerCluster == 0 {
		return nil, errs.New(errs.CORRUPT, "sectors-per-cluster is zero")
	}
	if v.fatSize == 0 {
		return nil, errs.New(errs.CORRUPT, "FAT size is zero")
	}

	v.fatStart = v.partitionStart + uint32(v.reservedSectors)
	v.dataStart = v.fatStart + uint32(v.numFATs)*v.fatSize
	v.totalClusters = (v.totalSectors - (v.dataStart - v.partitionStart)) / uint32(v.sectorsPerCluster)
	v.bytesPerCluster = sectorSize * uint32(v.sectorsPerCluster)

	return v, nil
}

// BytesPerCluster exposes cluster size for callers computing chain length.
func (v *Volume) BytesPerCluster() uint32 { return v.bytesPerCluster }

// RootCluster exposes the root directory's first cluster.
func (v *Volume) RootCluster() uint32 { return v.rootCluster }

// readSector is a no-op if n is already cached; otherwise it flushes a
// dirty cache and reads n, per spec.md section 4.2's single-sector cache.
func (v *Volume) readSector(n uint32) error {
	if v.cacheValid && v.cachedSector == n {
		return nil
	}
	if err := v.flushCache(); err != nil {
		return err
	}
	if err := v.dev.ReadSector(n, v.cache[:]); err != nil {
		return err
	}
	v.cachedSector = n
	v.cacheValid = true
	v.cacheDirty = false
	return nil
}

// writeSector updates the cache and marks it dirty; it does not touch the
// device until Flush, per the write-back contract in spec.md section 3.
func (v *Volume) writeSector(n uint32, buf []byte) error {
	if err := v.readSector(n); err != nil {
		return err
	}
	copy(v.cache[:], buf)
	v.cacheDirty = true
	return nil
}

// Flush writes back the cache if dirty.
func (v *Volume) Flush() error {
	return v.flushCache()
}

func (v *Volume) flushCache() error {
	if !v.cacheValid || !v.cacheDirty {
		return nil
	}
	if err := v.dev.WriteSector(v.cachedSector, v.cache[:]); err != nil {
		return err
	}
	v.cacheDirty = false
	return nil
}

// fatEntry reads the 28-bit FAT entry for cluster.
func (v *Volume) fatEntry(cluster uint32) (uint32, error) {
	sector := v.fatStart + (cluster*4)/sectorSize
	off := (cluster * 4) % sectorSize
	if err := v.readSector(sector); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v.cache[off:off+4]) & fatEntryMask, nil
}

// setFatEntry writes value (masked to 28 bits) into cluster's FAT entry.
func (v *Volume) setFatEntry(cluster, value uint32) error {
	sector := v.fatStart + (cluster*4)/sectorSize
	off := (cluster * 4) % sectorSize
	if err := v.readSector(sector); err != nil {
		return err
	}
	old := binary.LittleEndian.Uint32(v.cache[off : off+4])
	merged := (old &^ fatEntryMask) | (value & fatEntryMask)
	binary.LittleEndian.PutUint32(v.cache[off:off+4], merged)
	v.cacheDirty = true
	return nil
}

func isEOC(entry uint32) bool { return entry >= eocThreshold }

// allocCluster scans linearly from cluster 2 for a free entry, stamps it
// with the EOC sentinel, and returns its number, or 0 if none is free.
func (v *Volume) allocCluster() (uint32, error) {
	for c := uint32(2); c < v.totalClusters+2; c++ {
		entry, err := v.fatEntry(c)
		if err != nil {
			return 0, err
		}
		if entry == freeCluster {
			if err := v.setFatEntry(c, eocThreshold); err != nil {
				return 0, err
			}
			return c, nil
		}
	}
	return 0, nil
}

// clusterToSector returns the first sector of the given data cluster.
func (v *Volume) clusterToSector(cluster uint32) uint32 {
	return v.dataStart + (cluster-2)*uint32(v.sectorsPerCluster)
}
