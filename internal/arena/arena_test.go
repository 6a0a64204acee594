package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocIsAlignedAndNonOverlapping(t *testing.T) {
	p := NewPool("user", 0, 4096, 64)
	a1, ok := p.Alloc(1, 10)
	require.True(t, ok)
	a2, ok := p.Alloc(1, 10)
	require.True(t, ok)

	assert.Zero(t, a1%Align)
	assert.Zero(t, a2%Align)
	assert.NotEqual(t, a1, a2)
	assert.True(t, a2 >= a1+Align)
}

func TestBestFitPicksSmallestSufficientBlock(t *testing.T) {
	p := NewPool("user", 0, 4096, 64)
	// Carve out two free blocks of distinct sizes (the freed 256B middle
	// block and the pool's remaining tail), leaving fragmentation to
	// best-fit over.
	a, _ := p.Alloc(1, 64)
	b, _ := p.Alloc(1, 256)
	c, _ := p.Alloc(1, 64)
	p.Free(b)
	_ = a
	_ = c

	got, ok := p.Alloc(1, 100)
	require.True(t, ok)
	assert.Equal(t, b, got, "should reuse the freed 256B block since it best-fits a 100B request")
}

func TestAllocZeroFails(t *testing.T) {
	p := NewPool("user", 0, 4096, 64)
	_, ok := p.Alloc(1, 0)
	assert.False(t, ok)
}

func TestFreeNullIsNoop(t *testing.T) {
	p := NewPool("user", 0, 4096, 64)
	p.Free(0) // must not panic
}

func TestFreeAllRestoresFullCapacityAfterCoalesce(t *testing.T) {
	alloc := New(0, 4096, 8192, 65536, 64)
	for i := 0; i < 10; i++ {
		_, ok := alloc.User.Alloc(7, 1024)
		require.True(t, ok)
	}
	alloc.FreeAll(7)
	assert.EqualValues(t, 65536, alloc.User.FreeBytes())
}

func TestFreeOfOtherTaskIsNoop(t *testing.T) {
	alloc := New(0, 4096, 8192, 65536, 64)
	addr, ok := alloc.User.Alloc(1, 128)
	require.True(t, ok)

	alloc.UserFree(2, addr) // task 2 does not own it
	owner, free, found := alloc.User.Owner(addr)
	require.True(t, found)
	assert.False(t, free)
	assert.Equal(t, 1, owner)

	alloc.UserFree(1, addr)
	_, free, _ = alloc.User.Owner(addr)
	assert.True(t, free)
}

func TestFreeAlreadyFreeIsNoop(t *testing.T) {
	p := NewPool("user", 0, 4096, 64)
	addr, _ := p.Alloc(1, 64)
	p.Free(addr)
	p.Free(addr) // already free: no-op, must not double count TotalFrees oddly
	assert.EqualValues(t, 1, p.TotalFrees)
}

func TestReallocNullIsAlloc(t *testing.T) {
	p := NewPool("user", 0, 4096, 64)
	addr, ok := p.Realloc(1, 0, 64)
	require.True(t, ok)
	assert.NotZero(t, addr)
}

func TestReallocZeroSizeIsFree(t *testing.T) {
	p := NewPool("user", 0, 4096, 64)
	addr, _ := p.Alloc(1, 64)
	newAddr, ok := p.Realloc(1, addr, 0)
	require.True(t, ok)
	assert.Zero(t, newAddr)
	_, free, _ := p.Owner(addr)
	assert.True(t, free)
}

func TestAllocFailureIncrementsFailedAllocs(t *testing.T) {
	p := NewPool("user", 0, 128, 64)
	_, ok := p.Alloc(1, 4096)
	assert.False(t, ok)
	assert.EqualValues(t, 1, p.FailedAllocs)
}
