package fat32

import (
	"encoding/binary"
	"strings"

	"github.com/mimic/mimic/internal/errs"
)

const (
	attrReadOnly = 0x01
	attrHidden   = 0x02
	attrSystem   = 0x04
	attrVolumeID = 0x08
	attrDir      = 0x10
	attrArchive  = 0x20
	attrLFN      = attrReadOnly | attrHidden | attrSystem | attrVolumeID

	dirEntryFree    = 0x00
	dirEntryDeleted = 0xE5
)

// DirEntry is a decoded 32-byte FAT32 directory entry.
type DirEntry struct {
	Name      string // 8.3 name, decoded ("HELLO.TXT")
	Attr      byte
	FirstClus uint32
	Size      uint32
}

// IsDir reports whether the entry's attribute byte carries the directory bit.
func (e DirEntry) IsDir() bool {
	return e.Attr&attrDir != 0
}

func isLFNOrVolumeLabel(raw []byte) bool {
	attr := raw[11]
	return attr == attrLFN || attr&attrVolumeID != 0
}

func decodeDirEntry(raw []byte) DirEntry {
	attr := raw[11]
	hi := binary.LittleEndian.Uint16(raw[20:22])
	lo := binary.LittleEndian.Uint16(raw[26:28])
	return DirEntry{
		Name:      decode83(raw[0:11]),
		Attr:      attr,
		FirstClus: uint32(hi)<<16 | uint32(lo),
		Size:      binary.LittleEndian.Uint32(raw[28:32]),
	}
}

func decode83(raw []byte) string {
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// encode83 formats name (e.g. "hello.txt") into the fixed 11-byte 8.3 field,
// upper-cased and space-padded. Names longer than 8.3 are truncated, since
// long-file-name entries are only traversed-past, never produced.
func encode83(name string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	base, ext, _ := strings.Cut(name, ".")
	base = strings.ToUpper(base)
	ext = strings.ToUpper(ext)
	for i := 0; i < len(base) && i < 8; i++ {
		out[i] = base[i]
	}
	for i := 0; i < len(ext) && i < 3; i++ {
		out[8+i] = ext[i]
	}
	return out
}

func names83Equal(raw []byte, want string) bool {
	return decode83(raw[0:11]) == strings.ToUpper(want)
}

// splitPath breaks an absolute "/a/b/c" path into its components.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// dirIterFn is called with the raw 32-byte entry, the sector it lives in,
// and the entry's byte offset within that sector, for every non-LFN/volume
// entry in a directory chain until it returns stop=true or the directory
// ends.
type dirIterFn func(raw []byte, sector uint32, entryOff int) (stop bool)

// walkDir calls fn for every entry in the directory chain rooted at
// startCluster, stopping at the first 0x00 name byte (end of directory).
func (v *Volume) walkDir(startCluster uint32, fn dirIterFn) error {
	cluster := startCluster
	for {
		sector := v.clusterToSector(cluster)
		for s := uint32(0); s < uint32(v.sectorsPerCluster); s++ {
			if err := v.readSector(sector + s); err != nil {
				return err
			}
			var buf [sectorSize]byte
			copy(buf[:], v.cache[:])
			for e := 0; e < entriesPerDir; e++ {
				off := e * dirEntrySize
				raw := buf[off : off+dirEntrySize]
				if raw[0] == dirEntryFree {
					return nil
				}
				if raw[0] == dirEntryDeleted || isLFNOrVolumeLabel(raw) {
					continue
				}
				if fn(raw, sector+s, off) {
					return nil
				}
			}
		}
		next, err := v.fatEntry(cluster)
		if err != nil {
			return err
		}
		if isEOC(next) || next == freeCluster {
			return nil
		}
		cluster = next
	}
}

// findEntry searches dirCluster for an entry whose 8.3 name matches name.
func (v *Volume) findEntry(dirCluster uint32, name string) (entry DirEntry, sector uint32, entryOff int, found bool, err error) {
	err = v.walkDir(dirCluster, func(raw []byte, sec uint32, off int) bool {
		if names83Equal(raw, name) {
			entry = decodeDirEntry(raw)
			sector = sec
			entryOff = off
			found = true
			return true
		}
		return false
	})
	return
}

// Resolve walks path from the root, returning the final entry plus the
// sector/offset of its directory entry (needed by Handle.Close to write
// back size and first cluster).
func (v *Volume) Resolve(path string) (entry DirEntry, sector uint32, entryOff int, err error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return DirEntry{Name: "/", Attr: attrDir, FirstClus: v.rootCluster}, 0, 0, nil
	}
	cluster := v.rootCluster
	for i, part := range parts {
		found, sec, off, ok, werr := v.findEntry(cluster, part)
		if werr != nil {
			return DirEntry{}, 0, 0, werr
		}
		if !ok {
			return DirEntry{}, 0, 0, errs.New(errs.NOENT, "path component %q not found", part)
		}
		if i == len(parts)-1 {
			return found, sec, off, nil
		}
		if found.Attr&attrDir == 0 {
			return DirEntry{}, 0, 0, errs.New(errs.NOTDIR, "%q is not a directory", part)
		}
		cluster = found.FirstClus
	}
	return DirEntry{}, 0, 0, errs.New(errs.NOENT, "empty path")
}

// List returns every non-LFN, non-volume-label entry directly under dir.
func (v *Volume) List(dir string) ([]DirEntry, error) {
	cluster := v.rootCluster
	if dir != "" && dir != "/" {
		entry, _, _, err := v.Resolve(dir)
		if err != nil {
			return nil, err
		}
		if entry.Attr&attrDir == 0 {
			return nil, errs.New(errs.NOTDIR, "%q is not a directory", dir)
		}
		cluster = entry.FirstClus
	}
	var out []DirEntry
	err := v.walkDir(cluster, func(raw []byte, _ uint32, _ int) bool {
		out = append(out, decodeDirEntry(raw))
		return false
	})
	return out, err
}

// createEntry splits path into parent/base, resolves the parent directory,
// finds a free (or deleted) slot, and writes a zeroed ARCHIVE entry with
// size 0 and first-cluster 0, per spec.md section 4.2's file-creation rule.
func (v *Volume) createEntry(path string) (dirCluster uint32, sector uint32, entryOff int, err error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return 0, 0, 0, errs.New(errs.INVAL, "cannot create root")
	}
	parentParts := parts[:len(parts)-1]
	base := parts[len(parts)-1]

	cluster := v.rootCluster
	for _, part := range parentParts {
		found, _, _, ok, werr := v.findEntry(cluster, part)
		if werr != nil {
			return 0, 0, 0, werr
		}
		if !ok {
			return 0, 0, 0, errs.New(errs.NOENT, "parent path component %q not found", part)
		}
		if found.Attr&attrDir == 0 {
			return 0, 0, 0, errs.New(errs.NOTDIR, "%q is not a directory", part)
		}
		cluster = found.FirstClus
	}

	var freeSector uint32
	var freeOff int
	foundSlot := false
	err = v.walkFreeSlot(cluster, func(sec uint32, off int) bool {
		freeSector, freeOff, foundSlot = sec, off, true
		return true
	})
	if err != nil {
		return 0, 0, 0, err
	}
	if !foundSlot {
		return 0, 0, 0, errs.New(errs.NOMEM, "directory full")
	}

	if err := v.readSector(freeSector); err != nil {
		return 0, 0, 0, err
	}
	var raw [dirEntrySize]byte
	name := encode83(base)
	copy(raw[0:11], name[:])
	raw[11] = attrArchive
	copy(v.cache[freeOff:freeOff+dirEntrySize], raw[:])
	v.cacheDirty = true
	if err := v.Flush(); err != nil {
		return 0, 0, 0, err
	}
	return cluster, freeSector, freeOff, nil
}

// walkFreeSlot scans a directory chain for the first free (0x00) or
// deleted (0xE5) slot, including entries past the logical end of
// directory, and calls fn with its sector/offset.
func (v *Volume) walkFreeSlot(startCluster uint32, fn func(sector uint32, off int) bool) error {
	cluster := startCluster
	for {
		sector := v.clusterToSector(cluster)
		for s := uint32(0); s < uint32(v.sectorsPerCluster); s++ {
			if err := v.readSector(sector + s); err != nil {
				return err
			}
			for e := 0; e < entriesPerDir; e++ {
				off := e * dirEntrySize
				nameByte := v.cache[off]
				if nameByte == dirEntryFree || nameByte == dirEntryDeleted {
					fn(sector+s, off)
					return nil
				}
			}
		}
		next, err := v.fatEntry(cluster)
		if err != nil {
			return err
		}
		if isEOC(next) || next == freeCluster {
			return nil // spec.md directory growth is out of scope: report full
		}
		cluster = next
	}
}

// updateEntry patches the directory entry at sector/off with size and
// first-cluster fields, per spec.md section 4.2's close-time write-back.
func (v *Volume) updateEntry(sector uint32, off int, firstCluster, size uint32) error {
	if err := v.readSector(sector); err != nil {
		return err
	}
	hi := uint16(firstCluster >> 16)
	lo := uint16(firstCluster & 0xFFFF)
	binary.LittleEndian.PutUint16(v.cache[off+20:off+22], hi)
	binary.LittleEndian.PutUint16(v.cache[off+26:off+28], lo)
	binary.LittleEndian.PutUint32(v.cache[off+28:off+32], size)
	v.cacheDirty = true
	return v.Flush()
}
