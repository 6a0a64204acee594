package blockdev

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDeviceRoundTrip(t *testing.T) {
	dev := NewMemDevice(4)
	buf := make([]byte, SectorSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, dev.WriteSector(2, buf))

	out := make([]byte, SectorSize)
	require.NoError(t, dev.ReadSector(2, out))
	require.Equal(t, buf, out)
}

func TestMemDeviceOutOfRange(t *testing.T) {
	dev := NewMemDevice(1)
	buf := make([]byte, SectorSize)
	require.Error(t, dev.ReadSector(5, buf))
}

func TestMemDeviceRejectsWrongBufferSize(t *testing.T) {
	dev := NewMemDevice(1)
	require.Error(t, dev.ReadSector(0, make([]byte, 10)))
	require.Error(t, dev.WriteSector(0, make([]byte, 10)))
}

func TestSimulatedSDBusyFailsWithIO(t *testing.T) {
	sd := NewSimulatedSD(NewMemDevice(1))
	sd.Busy = true
	err := sd.ReadSector(0, make([]byte, SectorSize))
	require.Error(t, err)
}
