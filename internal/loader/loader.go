// Package loader implements spec.md section 4.8: given a .mimi image and
// a priority, it allocates a task slot, computes the task's memory
// layout, carves a block from the user arena, copies sections into it,
// zero-fills BSS, applies every relocation, and hands the task to
// internal/kernel as READY. Any failure partway through tears the task
// back down to FREE before returning, per the loader's strict-teardown
// policy (spec.md section 7: "the loader is strict: any failure aborts
// the load and returns").
//
// Grounded on internal/linker's Add/Link shape — rebase-then-patch — and
// on the teacher's codegen_elf_writer.go, which likewise reads a
// produced image, places its sections at concrete addresses, and
// patches every recorded relocation against those addresses in one pass.
package loader

import (
	"encoding/binary"

	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/kernel"
	"github.com/mimic/mimic/internal/mimi"
	"github.com/mimic/mimic/internal/object"
	"github.com/mimic/mimic/internal/thumb"
)

// Align is the total-task-size rounding spec.md section 4.8 step 3
// requires.
const Align = 32

func alignUp(n uint32) uint32 {
	if rem := n % Align; rem != 0 {
		return n + (Align - rem)
	}
	return n
}

// Image is a flat simulated address space task sections are copied
// into and relocations are patched against. Addresses are plain byte
// offsets into buf — this loader's "physical memory" is exactly as
// large as the arena ranges it was configured to carve blocks from.
type Image struct {
	buf []byte
}

// NewImage allocates a simulated RAM of the given size, zero-filled.
func NewImage(size uint32) *Image {
	return &Image{buf: make([]byte, size)}
}

// ReadAt implements kernel.Memory.
func (m *Image) ReadAt(addr uint32, buf []byte) error {
	if uint64(addr)+uint64(len(buf)) > uint64(len(m.buf)) {
		return errs.New(errs.INVAL, "read [%d,%d) out of bounds (size %d)", addr, uint64(addr)+uint64(len(buf)), len(m.buf))
	}
	copy(buf, m.buf[addr:])
	return nil
}

// WriteAt implements kernel.Memory.
func (m *Image) WriteAt(addr uint32, buf []byte) error {
	if uint64(addr)+uint64(len(buf)) > uint64(len(m.buf)) {
		return errs.New(errs.INVAL, "write [%d,%d) out of bounds (size %d)", addr, uint64(addr)+uint64(len(buf)), len(m.buf))
	}
	copy(m.buf[addr:], buf)
	return nil
}

func (m *Image) putUint32At(addr uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.WriteAt(addr, b[:])
}

func (m *Image) putUint16At(addr uint32, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return m.WriteAt(addr, b[:])
}

// Loader ties a simulated Image to the kernel whose tasks it populates.
type Loader struct {
	K     *kernel.Kernel
	Image *Image
	Arch  mimi.Arch
}

// New builds a Loader over k, backed by img, validating against arch.
func New(k *kernel.Kernel, img *Image, arch mimi.Arch) *Loader {
	return &Loader{K: k, Image: img, Arch: arch}
}

// Load implements spec.md section 4.8 end to end: validate, allocate a
// task slot and arena block, copy sections, zero BSS, apply
// relocations, and mark the task READY with priority. Returns the new
// task id.
func (l *Loader) Load(raw []byte, priority uint8) (int, error) {
	f, err := mimi.Read(raw)
	if err != nil {
		return 0, err
	}
	if err := mimi.Validate(f.Header, l.Arch); err != nil {
		return 0, err
	}

	tcb, err := l.K.AllocTask()
	if err != nil {
		return 0, err
	}

	if err := l.populate(tcb, f, priority); err != nil {
		l.K.TeardownTask(tcb.ID)
		return 0, err
	}
	l.K.MarkReady(tcb.ID)
	return tcb.ID, nil
}

func (l *Loader) populate(tcb *kernel.TCB, f *mimi.File, priority uint8) error {
	layout, total := computeLayout(f.Header)

	base, err := l.K.Arena.UserAlloc(tcb.ID, total)
	if err != nil {
		return err
	}

	if err := l.Image.WriteAt(base+layout.TextStart, f.Text); err != nil {
		return err
	}
	if err := l.Image.WriteAt(base+layout.RodataStart, f.Rodata); err != nil {
		return err
	}
	if err := l.Image.WriteAt(base+layout.DataStart, f.Data); err != nil {
		return err
	}
	if layout.BSSSize > 0 {
		if err := l.Image.WriteAt(base+layout.BSSStart, make([]byte, layout.BSSSize)); err != nil {
			return err
		}
	}

	if len(f.Symbols) > 0 {
		if err := l.applyRelocs(base, layout, f); err != nil {
			return err
		}
	}

	tcb.Name = f.Header.Name
	tcb.Priority = priority
	tcb.Base = base
	tcb.Layout = kernel.Layout(layout)
	tcb.EntryAddr = base + layout.TextStart + f.Header.EntryOffset
	tcb.SP = base + layout.StackTop
	return nil
}

// taskLayout mirrors kernel.Layout; kept distinct here so computeLayout
// can be unit-tested without constructing a kernel.TCB.
type taskLayout = kernel.Layout

// computeLayout implements spec.md section 4.8 step 3's offset math.
func computeLayout(hdr mimi.Header) (taskLayout, uint32) {
	heapSize := hdr.HeapRequest
	if heapSize == 0 {
		heapSize = 8192
	}
	stackSize := hdr.StackRequest
	if stackSize == 0 {
		stackSize = 4096
	}

	var l taskLayout
	l.TextStart, l.TextSize = 0, hdr.TextSize
	l.RodataStart, l.RodataSize = l.TextStart+l.TextSize, hdr.RodataSize
	l.DataStart, l.DataSize = l.RodataStart+l.RodataSize, hdr.DataSize
	l.BSSStart, l.BSSSize = l.DataStart+l.DataSize, hdr.BSSSize
	l.HeapStart, l.HeapSize = l.BSSStart+l.BSSSize, heapSize
	l.StackTop, l.StackSize = l.HeapStart+l.HeapSize, stackSize

	total := alignUp(l.StackTop + l.StackSize)
	return l, total
}

// applyRelocs implements spec.md section 4.8 step 6: for each
// relocation, compute the patch address and the symbol's runtime value,
// then apply the fix-up per its type.
func (l *Loader) applyRelocs(base uint32, layout taskLayout, f *mimi.File) error {
	for _, r := range f.Relocs {
		if int(r.SymbolIdx) >= len(f.Symbols) {
			return errs.New(errs.CORRUPT, "relocation references out-of-range symbol %d", r.SymbolIdx)
		}
		sym := f.Symbols[r.SymbolIdx]
		patchAddr := base + sectionStart(layout, r.Section) + r.Offset

		var symValue uint32
		if sym.Type == object.SymSyscall {
			symValue = sym.Value
		} else {
			symValue = base + sectionStart(layout, sym.Section) + sym.Value
		}

		if err := l.applyOne(patchAddr, symValue, r.Type); err != nil {
			return err
		}
	}
	return nil
}

func sectionStart(layout taskLayout, s object.Section) uint32 {
	switch s {
	case object.SectionText:
		return layout.TextStart
	case object.SectionRodata:
		return layout.RodataStart
	case object.SectionData:
		return layout.DataStart
	default:
		return 0
	}
}

func (l *Loader) applyOne(patchAddr, symValue uint32, typ object.RelocType) error {
	switch typ {
	case object.RelocABS32, object.RelocDataPtr:
		return l.Image.putUint32At(patchAddr, symValue)
	case object.RelocREL32:
		return l.Image.putUint32At(patchAddr, symValue-patchAddr-4)
	case object.RelocThumbCall:
		return l.patchThumbCall(patchAddr, symValue)
	case object.RelocThumbBranch:
		return l.patchThumbBranch(patchAddr, symValue)
	default:
		return errs.New(errs.CORRUPT, "unknown relocation type %d", typ)
	}
}

// patchThumbCall computes the BL displacement and writes both halfwords
// (hi then lo, in emission order — see internal/thumb.Bl) at patchAddr.
func (l *Loader) patchThumbCall(patchAddr, symValue uint32) error {
	offset := int32(symValue) - int32(patchAddr) - 4
	hi, lo, err := thumb.Bl(offset)
	if err != nil {
		return err
	}
	if err := l.Image.putUint16At(patchAddr, hi); err != nil {
		return err
	}
	return l.Image.putUint16At(patchAddr+2, lo)
}

// patchThumbBranch is the short-branch analogue spec.md section 4.8
// step 6 calls for: a single-halfword unconditional B, same displacement
// convention as BL.
func (l *Loader) patchThumbBranch(patchAddr, symValue uint32) error {
	offset := int32(symValue) - int32(patchAddr) - 4
	enc, err := thumb.B(offset)
	if err != nil {
		return err
	}
	return l.Image.putUint16At(patchAddr, enc)
}
