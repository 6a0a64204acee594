package kernel

import (
	"testing"

	"github.com/mimic/mimic/internal/arena"
	"github.com/stretchr/testify/require"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	alloc := arena.New(0, 4096, 8192, 64*1024, 64)
	return New(alloc, 4)
}

// fakeMemory is a flat byte slice standing in for internal/loader.Image in
// tests that only need the kernel.Memory interface.
type fakeMemory struct {
	buf []byte
}

func newFakeMemory(size uint32) *fakeMemory { return &fakeMemory{buf: make([]byte, size)} }

func (m *fakeMemory) ReadAt(addr uint32, buf []byte) error {
	copy(buf, m.buf[addr:addr+uint32(len(buf))])
	return nil
}

func (m *fakeMemory) WriteAt(addr uint32, buf []byte) error {
	copy(m.buf[addr:addr+uint32(len(buf))], buf)
	return nil
}

func TestAllocTaskReturnsFreeSlot(t *testing.T) {
	k := newTestKernel(t)
	tcb, err := k.AllocTask()
	require.NoError(t, err)
	require.NotEqual(t, IdleSlot, tcb.ID)
	require.Equal(t, StateBlocked, tcb.State)
}

func TestAllocTaskFailsWhenTableFull(t *testing.T) {
	k := newTestKernel(t)
	for i := 0; i < 3; i++ {
		_, err := k.AllocTask()
		require.NoError(t, err)
	}
	_, err := k.AllocTask()
	require.Error(t, err)
}

func TestSchedulerPicksLowestPriorityReady(t *testing.T) {
	k := newTestKernel(t)
	a, _ := k.AllocTask()
	a.Priority = 10
	k.MarkReady(a.ID)
	b, _ := k.AllocTask()
	b.Priority = 5
	k.MarkReady(b.ID)

	k.Tick(0)
	require.Equal(t, b.ID, k.CurrentTask())
}

func TestSleepingTaskWakesOnTick(t *testing.T) {
	k := newTestKernel(t)
	a, _ := k.AllocTask()
	a.Priority = 1
	k.MarkReady(a.ID)
	k.Tick(0)
	require.NoError(t, k.Sleep(a.ID, 100))
	require.Equal(t, StateSleeping, k.Task(a.ID).State)

	k.Tick(50)
	require.Equal(t, StateSleeping, k.Task(a.ID).State)
	k.Tick(60)
	require.Equal(t, StateRunning, k.Task(a.ID).State)
}

func TestIdleTaskCannotSleepOrBeKilled(t *testing.T) {
	k := newTestKernel(t)
	require.Error(t, k.Sleep(IdleSlot, 10))
	require.Error(t, k.Kill(IdleSlot))
}

func TestExitFreesArenaAndSlot(t *testing.T) {
	k := newTestKernel(t)
	a, _ := k.AllocTask()
	k.MarkReady(a.ID)
	addr, err := k.Arena.UserAlloc(a.ID, 128)
	require.NoError(t, err)

	k.Exit(a.ID)
	require.Equal(t, StateFree, k.Task(a.ID).State)
	owner, free, found := k.Arena.User.Owner(addr)
	require.True(t, found)
	require.True(t, free)
	require.Equal(t, arena.KernelOwner, owner)
}

func TestDispatchUnknownSyscallIsNosys(t *testing.T) {
	k := newTestKernel(t)
	a, _ := k.AllocTask()
	k.MarkReady(a.ID)
	k.Tick(0)

	_, err := k.Dispatch(255, [4]uint32{})
	require.Error(t, err)
}

func TestDispatchMallocAndFree(t *testing.T) {
	k := newTestKernel(t)
	a, _ := k.AllocTask()
	k.MarkReady(a.ID)
	k.Tick(0)

	ret, err := k.Dispatch(SysMalloc, [4]uint32{64})
	require.NoError(t, err)
	require.NotZero(t, ret)

	_, err = k.Dispatch(SysFree, [4]uint32{uint32(ret)})
	require.NoError(t, err)
	require.EqualValues(t, 2, k.SyscallsHandled())
}

func TestDispatchReallocCopiesOldBytes(t *testing.T) {
	k := newTestKernel(t)
	k.SetMemory(newFakeMemory(64 * 1024))
	a, _ := k.AllocTask()
	k.MarkReady(a.ID)
	k.Tick(0)

	oldAddr, err := k.Dispatch(SysMalloc, [4]uint32{32})
	require.NoError(t, err)
	require.NotZero(t, oldAddr)

	want := []byte("hello realloc")
	require.NoError(t, k.memory.WriteAt(uint32(oldAddr), want))

	newAddr, err := k.Dispatch(SysRealloc, [4]uint32{uint32(oldAddr), 128})
	require.NoError(t, err)
	require.NotZero(t, newAddr)
	require.NotEqual(t, oldAddr, newAddr)

	got := make([]byte, len(want))
	require.NoError(t, k.memory.ReadAt(uint32(newAddr), got))
	require.Equal(t, want, got)
}

func TestDispatchReallocRejectsUnownedPointer(t *testing.T) {
	k := newTestKernel(t)
	k.SetMemory(newFakeMemory(64 * 1024))
	a, _ := k.AllocTask()
	k.MarkReady(a.ID)
	k.Tick(0)

	b, err := k.AllocTask()
	require.NoError(t, err)

	addr, err := k.Dispatch(SysMalloc, [4]uint32{32})
	require.NoError(t, err)

	ret, err := handleRealloc(k, b, [4]uint32{uint32(addr), 64})
	require.NoError(t, err)
	require.Zero(t, ret)
}

func TestDispatchExitKillsCurrentTask(t *testing.T) {
	k := newTestKernel(t)
	a, _ := k.AllocTask()
	k.MarkReady(a.ID)
	k.Tick(0)
	require.Equal(t, a.ID, k.CurrentTask())

	_, err := k.Dispatch(SysExit, [4]uint32{0})
	require.NoError(t, err)
	require.Equal(t, StateFree, k.Task(a.ID).State)
}
