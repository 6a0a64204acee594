package fat32

import (
	"encoding/binary"
	"testing"

	"github.com/mimic/mimic/internal/blockdev"
	"github.com/stretchr/testify/require"
)

// buildMinimalVolume writes a tiny superfloppy FAT32 layout (no MBR) to an
// in-RAM block device: 1 sector/cluster, 1 FAT, an empty root directory at
// cluster 2, and enough total sectors for a handful of file writes.
func buildMinimalVolume(t *testing.T) *Volume {
	t.Helper()
	const (
		reservedSectors = 32
		numFATs         = 1
		fatSizeSectors  = 8
		totalSectors    = 1000
	)

	dev := blockdev.NewMemDevice(totalSectors)

	var bpb [512]byte
	bpb[0] = 0xEB // jmp opcode marks this as a boot sector, not an MBR
	bpb[1] = 0x00
	bpb[2] = 0x90
	binary.LittleEndian.PutUint16(bpb[11:13], 512) // bytes per sector
	bpb[13] = 1                                    // sectors per cluster
	binary.LittleEndian.PutUint16(bpb[14:16], reservedSectors)
	bpb[16] = numFATs
	binary.LittleEndian.PutUint32(bpb[32:36], totalSectors)
	binary.LittleEndian.PutUint32(bpb[36:40], fatSizeSectors)
	binary.LittleEndian.PutUint32(bpb[44:48], 2) // root cluster
	require.NoError(t, dev.WriteSector(0, bpb[:]))

	fatStart := uint32(reservedSectors)
	var fatSector [512]byte
	binary.LittleEndian.PutUint32(fatSector[8:12], 0x0FFFFFFF) // cluster 2 (root) = EOC
	require.NoError(t, dev.WriteSector(fatStart, fatSector[:]))

	v, err := Mount(dev)
	require.NoError(t, err)
	return v
}

// buildVolumeWithSectorsPerCluster is buildMinimalVolume generalized to an
// arbitrary cluster size, needed to exercise writes that span multiple full
// sectors within a single cluster (buildMinimalVolume's sectorsPerCluster=1
// makes every sector boundary a cluster boundary too, which masks bugs in
// the full-sector write path).
func buildVolumeWithSectorsPerCluster(t *testing.T, sectorsPerCluster uint8) *Volume {
	t.Helper()
	const (
		reservedSectors = 32
		numFATs         = 1
		fatSizeSectors  = 8
		totalSectors    = 1000
	)

	dev := blockdev.NewMemDevice(totalSectors)

	var bpb [512]byte
	bpb[0] = 0xEB
	bpb[1] = 0x00
	bpb[2] = 0x90
	binary.LittleEndian.PutUint16(bpb[11:13], 512)
	bpb[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(bpb[14:16], reservedSectors)
	bpb[16] = numFATs
	binary.LittleEndian.PutUint32(bpb[32:36], totalSectors)
	binary.LittleEndian.PutUint32(bpb[36:40], fatSizeSectors)
	binary.LittleEndian.PutUint32(bpb[44:48], 2)
	require.NoError(t, dev.WriteSector(0, bpb[:]))

	fatStart := uint32(reservedSectors)
	var fatSector [512]byte
	binary.LittleEndian.PutUint32(fatSector[8:12], 0x0FFFFFFF)
	require.NoError(t, dev.WriteSector(fatStart, fatSector[:]))

	v, err := Mount(dev)
	require.NoError(t, err)
	return v
}

// TestWriteMultipleFullSectorsWithinOneCluster guards against a cache bug
// where a full-sector write path mutated the cache directly instead of
// routing through readSector, so moving on to the next full sector within
// the same cluster silently dropped the previous sector's dirty bytes
// instead of flushing them first.
func TestWriteMultipleFullSectorsWithinOneCluster(t *testing.T) {
	v := buildVolumeWithSectorsPerCluster(t, 4)
	h, err := v.Open("/big.bin", ModeWrite|ModeCreate)
	require.NoError(t, err)

	want := make([]byte, 3*sectorSize)
	for i := range want {
		want[i] = byte(i)
	}
	n, err := h.Write(want)
	require.NoError(t, err)
	require.Equal(t, len(want), n)
	require.NoError(t, h.Close())

	r, err := v.Open("/big.bin", ModeRead)
	require.NoError(t, err)
	got := make([]byte, len(want))
	n, err = r.Read(got)
	require.NoError(t, err)
	require.Equal(t, len(want), n)
	require.Equal(t, want, got)
}

func TestMountParsesGeometry(t *testing.T) {
	v := buildMinimalVolume(t)
	require.EqualValues(t, 512, v.bytesPerSector)
	require.EqualValues(t, 1, v.sectorsPerCluster)
	require.EqualValues(t, 2, v.rootCluster)
	require.EqualValues(t, 40, v.dataStart)
}

func TestFileRoundTrip(t *testing.T) {
	v := buildMinimalVolume(t)

	h, err := v.Open("/hello.txt", ModeWrite|ModeCreate)
	require.NoError(t, err)
	n, err := h.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.NoError(t, h.Close())

	entry, _, _, err := v.Resolve("/hello.txt")
	require.NoError(t, err)
	require.EqualValues(t, 6, entry.Size)
	require.NotZero(t, entry.FirstClus)

	r, err := v.Open("/hello.txt", ModeRead)
	require.NoError(t, err)
	out := make([]byte, 6)
	n, err = r.Read(out)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "hello\n", string(out))
}

func TestCreateThenReopenForReadHasZeroSize(t *testing.T) {
	v := buildMinimalVolume(t)
	h, err := v.Open("/empty.txt", ModeWrite|ModeCreate)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	r, err := v.Open("/empty.txt", ModeRead)
	require.NoError(t, err)
	require.EqualValues(t, 0, r.Size())
}

func TestWriteExactlyOneClusterAllocatesExactlyOneCluster(t *testing.T) {
	v := buildMinimalVolume(t)
	h, err := v.Open("/full.bin", ModeWrite|ModeCreate)
	require.NoError(t, err)

	buf := make([]byte, v.bytesPerCluster)
	n, err := h.Write(buf)
	require.NoError(t, err)
	require.EqualValues(t, v.bytesPerCluster, n)
	require.NoError(t, h.Close())

	// Exactly one cluster should be chained: the file's single cluster's
	// FAT entry must be EOC, with no successor allocated.
	entry, _, _, err := v.Resolve("/full.bin")
	require.NoError(t, err)
	fatVal, err := v.fatEntry(entry.FirstClus)
	require.NoError(t, err)
	require.True(t, isEOC(fatVal))
}

func TestWriteCrossingClusterBoundaryAllocatesSecondCluster(t *testing.T) {
	v := buildMinimalVolume(t)
	h, err := v.Open("/two.bin", ModeWrite|ModeCreate)
	require.NoError(t, err)

	buf := make([]byte, v.bytesPerCluster+10)
	_, err = h.Write(buf)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	entry, _, _, err := v.Resolve("/two.bin")
	require.NoError(t, err)
	next, err := v.fatEntry(entry.FirstClus)
	require.NoError(t, err)
	require.False(t, isEOC(next))
	require.NotZero(t, next)

	tail, err := v.fatEntry(next)
	require.NoError(t, err)
	require.True(t, isEOC(tail))
}

func TestSeekThenReadPartial(t *testing.T) {
	v := buildMinimalVolume(t)
	h, err := v.Open("/seek.txt", ModeWrite|ModeCreate)
	require.NoError(t, err)
	_, err = h.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	r, err := v.Open("/seek.txt", ModeRead)
	require.NoError(t, err)
	require.NoError(t, r.Seek(5, SeekSet))
	out := make([]byte, 5)
	n, err := r.Read(out)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "56789", string(out))
}

func TestResolveMissingPathIsNotFound(t *testing.T) {
	v := buildMinimalVolume(t)
	_, _, _, err := v.Resolve("/nope.txt")
	require.Error(t, err)
}

func TestListSkipsNothingInEmptyDir(t *testing.T) {
	v := buildMinimalVolume(t)
	entries, err := v.List("/")
	require.NoError(t, err)
	require.Empty(t, entries)

	h, err := v.Open("/a.txt", ModeWrite|ModeCreate)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	entries, err = v.List("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "A.TXT", entries[0].Name)
}
