package fat32

import (
	"github.com/mimic/mimic/internal/errs"
)

// Mode flags for Open, mirroring the shape spec.md section 6 assigns to
// syscall 20 (OPEN): a path and a mode.
type Mode int

const (
	ModeRead Mode = 1 << iota
	ModeWrite
	ModeCreate
)

// Handle is a live file handle: mode, directory back-reference for the
// close-time write-back, chain-walk cursor, size, and position, per
// spec.md section 3's File handle data model.
type Handle struct {
	v    *Volume
	path string
	mode Mode

	dirSector uint32
	dirOff    int

	firstCluster   uint32
	currentCluster uint32
	clusterOffset  uint32

	fileSize uint32
	position uint32

	dirty bool
}

// Open implements spec.md section 4.2's open/create contract: with
// ModeCreate and a missing path, a fresh zero-length entry is created;
// otherwise the existing entry is resolved. Opening for write truncates
// the in-memory cursor (not the on-disk chain) back to the start of the
// existing chain's first cluster, matching the teacher's one-pass-per-open
// style rather than implementing FAT truncation, which spec.md does not
// require.
func (v *Volume) Open(path string, mode Mode) (*Handle, error) {
	entry, sector, off, err := v.Resolve(path)
	if err != nil {
		if mode&ModeCreate == 0 {
			return nil, err
		}
		dirCluster, freeSector, freeOff, cerr := v.createEntry(path)
		if cerr != nil {
			return nil, cerr
		}
		_ = dirCluster
		return &Handle{v: v, path: path, mode: mode, dirSector: freeSector, dirOff: freeOff}, nil
	}
	if mode&(ModeRead|ModeWrite) == 0 {
		return nil, errs.New(errs.INVAL, "open requires a read or write mode")
	}
	return &Handle{
		v:              v,
		path:           path,
		mode:           mode,
		dirSector:      sector,
		dirOff:         off,
		firstCluster:   entry.FirstClus,
		currentCluster: entry.FirstClus,
		fileSize:       entry.Size,
	}, nil
}

// Size reports the handle's current logical size.
func (h *Handle) Size() uint32 { return h.fileSize }

// Read copies up to len(buf) bytes starting at the current position,
// walking the cluster chain as needed. It returns io-style (n, nil) with
// n < len(buf) at end of file rather than an error.
func (h *Handle) Read(buf []byte) (int, error) {
	if h.mode&ModeRead == 0 {
		return 0, errs.New(errs.PERM, "handle not opened for read")
	}
	if h.position >= h.fileSize {
		return 0, nil
	}
	remaining := h.fileSize - h.position
	want := uint32(len(buf))
	if want > remaining {
		want = remaining
	}

	var total uint32
	for total < want {
		if h.currentCluster == 0 || isEOC(h.currentCluster) {
			break
		}
		sector := h.v.clusterToSector(h.currentCluster) + h.clusterOffset/sectorSize
		sectorOff := h.clusterOffset % sectorSize
		if err := h.v.readSector(sector); err != nil {
			return int(total), err
		}
		n := uint32(sectorSize) - sectorOff
		if remain := want - total; n > remain {
			n = remain
		}
		copy(buf[total:total+n], h.v.cache[sectorOff:sectorOff+n])
		total += n
		h.position += n
		h.clusterOffset += n

		if h.clusterOffset >= h.v.bytesPerCluster {
			h.clusterOffset = 0
			next, err := h.v.fatEntry(h.currentCluster)
			if err != nil {
				return int(total), err
			}
			h.currentCluster = next
		}
	}
	return int(total), nil
}

// Write appends buf at the current position, allocating and linking
// clusters as needed and read-modify-writing any partially touched
// sector, per spec.md section 4.2's write contract.
func (h *Handle) Write(buf []byte) (int, error) {
	if h.mode&ModeWrite == 0 {
		return 0, errs.New(errs.PERM, "handle not opened for write")
	}
	v := h.v
	var total uint32
	for total < uint32(len(buf)) {
		if h.currentCluster == 0 || isEOC(h.currentCluster) {
			newCluster, err := v.allocCluster()
			if err != nil {
				return int(total), err
			}
			if newCluster == 0 {
				return int(total), errs.New(errs.NOMEM, "filesystem has no free clusters")
			}
			if h.firstCluster == 0 {
				h.firstCluster = newCluster
			} else {
				// h.currentCluster holds 0 or the EOC value here, so the
				// cluster to link from is the current tail of the chain.
				prev := h.firstCluster
				for {
					next, err := v.fatEntry(prev)
					if err != nil {
						return int(total), err
					}
					if isEOC(next) || next == freeCluster {
						break
					}
					prev = next
				}
				if err := v.setFatEntry(prev, newCluster); err != nil {
					return int(total), err
				}
			}
			h.currentCluster = newCluster
			h.clusterOffset = 0
		}

		sector := v.clusterToSector(h.currentCluster) + h.clusterOffset/sectorSize
		sectorOff := h.clusterOffset % sectorSize
		n := uint32(sectorSize) - sectorOff
		if remain := uint32(len(buf)) - total; n > remain {
			n = remain
		}

		// readSector is a no-op when sector is already cached, and
		// otherwise flushes whatever dirty sector currently sits in the
		// cache before loading this one — required even for a full-sector
		// write, since skipping it would silently drop a previously dirty
		// different sector instead of ever writing it back.
		if err := v.readSector(sector); err != nil {
			return int(total), err
		}
		copy(v.cache[sectorOff:sectorOff+n], buf[total:total+n])
		v.cacheDirty = true

		total += n
		h.position += n
		h.clusterOffset += n
		if h.position > h.fileSize {
			h.fileSize = h.position
		}

		if h.clusterOffset >= v.bytesPerCluster {
			h.clusterOffset = 0
			next, err := v.fatEntry(h.currentCluster)
			if err != nil {
				return int(total), err
			}
			h.currentCluster = next // EOC here forces allocation on next iteration
		}
	}
	h.dirty = true
	return int(total), nil
}

// Whence values for Seek, mirroring spec.md section 6 syscall 24 (SEEK).
const (
	SeekSet = iota
	SeekCur
	SeekEnd
)

// Seek recomputes currentCluster by walking forward from firstCluster by
// newPosition/bytesPerCluster steps, per spec.md section 4.2.
func (h *Handle) Seek(offset int64, whence int) error {
	var newPos int64
	switch whence {
	case SeekSet:
		newPos = offset
	case SeekCur:
		newPos = int64(h.position) + offset
	case SeekEnd:
		newPos = int64(h.fileSize) + offset
	default:
		return errs.New(errs.INVAL, "invalid whence %d", whence)
	}
	if newPos < 0 {
		return errs.New(errs.INVAL, "negative seek position")
	}

	steps := uint32(newPos) / h.v.bytesPerCluster
	cluster := h.firstCluster
	for i := uint32(0); i < steps; i++ {
		if cluster == 0 || isEOC(cluster) {
			break
		}
		next, err := h.v.fatEntry(cluster)
		if err != nil {
			return err
		}
		cluster = next
	}
	h.currentCluster = cluster
	h.clusterOffset = uint32(newPos) % h.v.bytesPerCluster
	h.position = uint32(newPos)
	return nil
}

// Close flushes the cache and, for handles opened for write, patches the
// containing directory entry's size and first-cluster fields, per
// spec.md section 3's file-handle lifecycle.
func (h *Handle) Close() error {
	if h.mode&ModeWrite != 0 && h.dirty {
		if err := h.v.updateEntry(h.dirSector, h.dirOff, h.firstCluster, h.fileSize); err != nil {
			return err
		}
	}
	return h.v.Flush()
}
