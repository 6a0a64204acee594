// Package arena implements the kernel and user memory pools described in
// spec.md section 4.1: two independent best-fit allocators, each a vector
// of blocks capped at an implementation-defined limit, with per-block owner
// tagging and mass-free by owner. It is adapted from the teacher compiler's
// arena.go — there an Arena described bump-allocated memory the compiled
// program owned at runtime; here the same scope/ownership vocabulary
// (base, size, owner, split on demand) describes blocks the host kernel
// itself owns, one arena per concern (kernel vs. user) instead of one per
// language-level scope.
package arena

import (
	"sort"
	"sync"

	"github.com/mimic/mimic/internal/errs"
)

// Align is the allocation granularity required by spec.md section 3's
// invariant that every returned address is 32-byte aligned.
const Align = 32

// SplitThreshold is the default minimum remainder (spec.md section 4.1)
// below which a block is handed out whole instead of split.
const SplitThreshold = 64

// KernelOwner is the owner id reserved for kernel-internal allocations
// (spec.md section 3: "Owner 0 ≡ kernel").
const KernelOwner = 0

// Block is one entry in a pool's block table.
type Block struct {
	Addr   uint32
	Size   uint32
	Owner  int
	Free   bool
	Pinned bool
}

// Pool is a best-fit arena over a single contiguous address range
// [Base, Base+Size). Kernel and user pools are independent Pool values
// guarded by separate mutexes, per spec.md section 5.
type Pool struct {
	Name           string
	Base           uint32
	Size           uint32
	SplitThreshold uint32
	MaxBlocks      int

	mu     sync.Mutex
	blocks []Block

	TotalAllocs  uint64
	TotalFrees   uint64
	FailedAllocs uint64
}

// NewPool creates a pool spanning [base, base+size) with a single free
// block covering the whole range, per spec.md section 3's lifecycle note
// ("Arena blocks are born free covering the whole pool").
func NewPool(name string, base, size uint32, maxBlocks int) *Pool {
	if maxBlocks <= 0 {
		maxBlocks = 256
	}
	return &Pool{
		Name:           name,
		Base:           base,
		Size:           size,
		SplitThreshold: SplitThreshold,
		MaxBlocks:      maxBlocks,
		blocks:         []Block{{Addr: base, Size: size, Owner: KernelOwner, Free: true}},
	}
}

func alignUp(n, align uint32) uint32 {
	if align == 0 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// Alloc implements spec.md section 4.1's best-fit strategy: scan all
// blocks, pick the smallest free block >= the aligned request, stopping
// early on an exact match; split off the tail when it is at least
// SplitThreshold and the table has room. Returns (0, false) on failure,
// incrementing FailedAllocs, never panicking.
func (p *Pool) Alloc(owner int, size uint32) (uint32, bool) {
	if size == 0 {
		return 0, false
	}
	want := alignUp(size, Align)

	p.mu.Lock()
	defer p.mu.Unlock()

	addr, ok := p.allocLocked(owner, want)
	if !ok {
		// Deferred coalescing: retry once after merging adjacent frees,
		// per spec.md section 4.1 ("run ... when allocation would
		// otherwise fail").
		p.coalesceLocked()
		addr, ok = p.allocLocked(owner, want)
	}
	if !ok {
		p.FailedAllocs++
		return 0, false
	}
	return addr, true
}

func (p *Pool) allocLocked(owner int, want uint32) (uint32, bool) {
	best := -1
	for i := range p.blocks {
		b := &p.blocks[i]
		if !b.Free || b.Size < want {
			continue
		}
		if best == -1 || b.Size < p.blocks[best].Size {
			best = i
			if b.Size == want {
				break
			}
		}
	}
	if best == -1 {
		return 0, false
	}

	chosen := &p.blocks[best]
	remainder := chosen.Size - want
	if remainder >= p.SplitThreshold && len(p.blocks) < p.MaxBlocks {
		tail := Block{Addr: chosen.Addr + want, Size: remainder, Owner: KernelOwner, Free: true}
		chosen.Size = want
		p.blocks = append(p.blocks, tail)
	}
	chosen.Free = false
	chosen.Owner = owner
	chosen.Pinned = false
	p.TotalAllocs++
	return chosen.Addr, true
}

// Free marks the block at addr free. Freeing an address that is not an
// owned, non-pinned block is a no-op, per spec.md section 3's invariant.
func (p *Pool) Free(addr uint32) {
	if addr == 0 {
		return // spec.md section 8: free(null) is a no-op
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.blocks {
		b := &p.blocks[i]
		if b.Addr != addr {
			continue
		}
		if b.Free || b.Pinned {
			return
		}
		b.Free = true
		b.Owner = KernelOwner
		p.TotalFrees++
		return
	}
}

// FreeOwnedBy marks every block owned by owner as free, refunding bytes in
// a single pass; per spec.md section 4.1 the caller is responsible for a
// subsequent Coalesce.
func (p *Pool) FreeOwnedBy(owner int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.blocks {
		b := &p.blocks[i]
		if !b.Free && b.Owner == owner && !b.Pinned {
			b.Free = true
			b.Owner = KernelOwner
			p.TotalFrees++
		}
	}
}

// Coalesce sorts blocks by address and merges address-adjacent free
// blocks, per spec.md section 4.1's deferred-coalescing design.
func (p *Pool) Coalesce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coalesceLocked()
}

func (p *Pool) coalesceLocked() {
	sort.Slice(p.blocks, func(i, j int) bool { return p.blocks[i].Addr < p.blocks[j].Addr })
	merged := p.blocks[:0:0]
	for _, b := range p.blocks {
		if n := len(merged); n > 0 && merged[n-1].Free && b.Free && merged[n-1].Addr+merged[n-1].Size == b.Addr {
			merged[n-1].Size += b.Size
			continue
		}
		merged = append(merged, b)
	}
	p.blocks = merged
}

// Realloc implements spec.md section 4.1's realloc contract: null pointer
// behaves as Alloc, zero size behaves as Free, otherwise allocate-then-free
// of the old block. Pool has no view of the backing memory image, so it
// cannot move the old block's bytes itself; Allocator.UserRealloc wraps
// this with the ownership check and old-size lookup its caller needs to
// perform that copy.
func (p *Pool) Realloc(owner int, addr uint32, size uint32) (uint32, bool) {
	if addr == 0 {
		return p.Alloc(owner, size)
	}
	if size == 0 {
		p.Free(addr)
		return 0, true
	}
	if _, ok := p.sizeOf(addr); !ok {
		return p.Alloc(owner, size)
	}
	newAddr, ok := p.Alloc(owner, size)
	if !ok {
		return 0, false
	}
	p.Free(addr)
	return newAddr, true
}

func (p *Pool) sizeOf(addr uint32) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.blocks {
		if b.Addr == addr {
			return b.Size, true
		}
	}
	return 0, false
}

// SizeOf exposes the size of the live block at addr (used by Realloc
// callers that must copy bytes themselves, since Pool has no view of the
// backing memory image).
func (p *Pool) SizeOf(addr uint32) (uint32, bool) { return p.sizeOf(addr) }

// Owner reports the owner of the block at addr and whether it is currently
// free, used by the FREE syscall handler's ownership check (spec.md
// section 4.9).
func (p *Pool) Owner(addr uint32) (owner int, free bool, found bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.blocks {
		if b.Addr == addr {
			return b.Owner, b.Free, true
		}
	}
	return 0, false, false
}

// FreeBytes sums the size of every free block, used by tests asserting the
// "mass-free then coalesce restores full capacity" invariant.
func (p *Pool) FreeBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n uint64
	for _, b := range p.blocks {
		if b.Free {
			n += uint64(b.Size)
		}
	}
	return n
}

// Blocks returns a snapshot of the block table, for list_memory() and tests.
func (p *Pool) Blocks() []Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Block, len(p.blocks))
	copy(out, p.blocks)
	return out
}

// Allocator bundles the kernel and user pools, per spec.md section 4.1
// ("Two statically-sized pools").
type Allocator struct {
	Kernel *Pool
	User   *Pool
}

// New builds an Allocator with the given pool geometry.
func New(kernelBase, kernelSize, userBase, userSize uint32, maxBlocks int) *Allocator {
	return &Allocator{
		Kernel: NewPool("kernel", kernelBase, kernelSize, maxBlocks),
		User:   NewPool("user", userBase, userSize, maxBlocks),
	}
}

// UserAlloc allocates size bytes for task owner from the user pool,
// returning errs.NOMEM on failure per spec.md section 4.9's MALLOC handler.
func (a *Allocator) UserAlloc(owner int, size uint32) (uint32, error) {
	addr, ok := a.User.Alloc(owner, size)
	if !ok {
		return 0, errs.New(errs.NOMEM, "user arena exhausted allocating %d bytes for task %d", size, owner)
	}
	return addr, nil
}

// UserFree frees addr only if it is owned by owner; otherwise it is a
// silent no-op, per spec.md section 4.9's FREE handler
// ("must verify ownership ... never panics").
func (a *Allocator) UserFree(owner int, addr uint32) {
	if addr == 0 {
		return
	}
	actualOwner, free, found := a.User.Owner(addr)
	if !found || free || actualOwner != owner {
		return
	}
	a.User.Free(addr)
}

// UserRealloc reallocates addr to size bytes for task owner, verifying
// ownership the same way UserFree does, and returns the old block's size
// alongside the new address. Pool has no view of the backing memory image,
// so it cannot copy bytes itself: the caller (kernel.handleRealloc) uses
// oldSize to copy min(oldSize, size) bytes from addr to the returned
// address through the task's memory image before the old block is reused.
func (a *Allocator) UserRealloc(owner int, addr, size uint32) (newAddr uint32, oldSize uint32, ok bool) {
	if addr != 0 {
		actualOwner, free, found := a.User.Owner(addr)
		if !found || free || actualOwner != owner {
			return 0, 0, false
		}
		oldSize, _ = a.User.SizeOf(addr)
	}
	newAddr, ok = a.User.Realloc(owner, addr, size)
	return newAddr, oldSize, ok
}

// FreeAll releases every block owned by owner in both pools and then
// coalesces, implementing the kernel's free_all(task_id) teardown path
// (spec.md section 4.1 and the "Ownership of loaded task memory" design
// note in section 9: free_all is the only path that releases task memory).
func (a *Allocator) FreeAll(owner int) {
	a.User.FreeOwnedBy(owner)
	a.User.Coalesce()
	a.Kernel.FreeOwnedBy(owner)
	a.Kernel.Coalesce()
}
