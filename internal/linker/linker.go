// Package linker implements compiler pass 5, spec.md section 4.7: it
// takes the object files internal/codegen produced and concatenates
// their sections into one .mimi image, rebasing every relocation and
// symbol value by the section offset its source object landed at,
// merging the per-object symbol tables into one, resolving main as the
// entry point, and handing the assembled image to internal/mimi for
// serialization.
//
// Grounded on the teacher's ExecutableBuilder: a single accumulating
// struct that Defines symbols as sections grow and later patches every
// recorded relocation against the final, fully-known layout — the same
// "accumulate now, patch once at the end" shape internal/codegen already
// uses per function, just hoisted to whole-object granularity.
package linker

import (
	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/mimi"
	"github.com/mimic/mimic/internal/object"
)

// mergedSymbol tracks one name's resolution state across every input
// object while the linker folds the per-object tables into one.
type mergedSymbol struct {
	object.Symbol
	defined bool // true once a GLOBAL definition has been seen
}

// Linker accumulates the concatenated sections and the merged symbol
// table across a sequence of input objects.
type Linker struct {
	text []byte
	data []byte

	byName map[string]*mergedSymbol
	order  []string // preserves first-seen order for stable symbol table output

	locals      []object.Symbol // symbols, local to a single object, never merged by name
	relocs      []object.Reloc
	relocOwners []relocOwner

	StackRequest uint32
	HeapRequest  uint32
	Arch         mimi.Arch
	Name         string
}

// New builds a Linker ready to accept objects via Add. Stack/heap
// requests default to spec.md section 4.7's 4096/8192 and can be
// overridden by the caller (cmd/mimic's compile command) before Link.
func New() *Linker {
	return &Linker{
		byName:       make(map[string]*mergedSymbol),
		StackRequest: 4096,
		HeapRequest:  8192,
		Arch:         mimi.ArchThumb,
	}
}

// Add folds one object file into the linker's accumulated image: its
// text is appended to .text, its data to .data (the object format keeps
// no distinct rodata span — see internal/object's doc comment — so
// every object's Data bytes land in the final .data section), every
// relocation's Offset is rebased by the section base its object's bytes
// landed at, and every symbol is merged into the running table per
// spec.md section 4.7's GLOBAL/EXTERN rules.
func (l *Linker) Add(obj *object.File) error {
	textBase := uint32(len(l.text))
	dataBase := uint32(len(l.data))

	l.text = append(l.text, obj.Text...)
	l.data = append(l.data, obj.Data...)

	// rebased maps this object's own symbol-table indices to the
	// rebased values the linker will use for relocations that reference
	// them, since local symbols are never merged by name (two objects
	// may each define a same-named static).
	rebased := make([]object.Symbol, len(obj.Symbols))
	for i, sym := range obj.Symbols {
		rebased[i] = rebaseSymbol(sym, textBase, dataBase)
		if sym.Type == object.SymLocal {
			continue
		}
		if err := l.mergeGlobal(rebased[i]); err != nil {
			return err
		}
	}

	for _, r := range obj.Relocs {
		rr := r
		switch r.Section {
		case object.SectionText:
			rr.Offset += textBase
		case object.SectionData, object.SectionRodata:
			rr.Offset += dataBase
		}

		sym := rebased[r.SymbolIdx]
		if sym.Type == object.SymLocal {
			// Local symbols never enter the merged-by-name table; patch
			// the relocation's symbol slot with a private entry instead
			// of a shared index, so it cannot collide with another
			// object's same-named static.
			rr.SymbolIdx = l.internLocal(sym)
		} else {
			rr.SymbolIdx = 0 // resolved by name in Link, via relocOwners
		}
		l.relocs = append(l.relocs, rr)
		l.relocOwners = append(l.relocOwners, relocOwner{name: sym.Name, isLocal: sym.Type == object.SymLocal, localIdx: rr.SymbolIdx})
	}
	return nil
}

func rebaseSymbol(sym object.Symbol, textBase, dataBase uint32) object.Symbol {
	switch sym.Section {
	case object.SectionText:
		sym.Value += textBase
	case object.SectionData, object.SectionRodata:
		sym.Value += dataBase
	}
	return sym
}

// mergeGlobal applies spec.md section 4.7's three merge rules for a
// non-local symbol freshly rebased into the running image.
func (l *Linker) mergeGlobal(sym object.Symbol) error {
	existing, ok := l.byName[sym.Name]
	if !ok {
		l.order = append(l.order, sym.Name)
		l.byName[sym.Name] = &mergedSymbol{Symbol: sym, defined: sym.Type == object.SymGlobal}
		return nil
	}

	switch {
	case sym.Type == object.SymGlobal && existing.defined:
		return errs.New(errs.INVAL, "duplicate symbol %q", sym.Name)
	case sym.Type == object.SymGlobal:
		existing.Symbol = sym
		existing.defined = true
	case existing.defined:
		// GLOBAL already on file; this EXTERN reference contributes
		// nothing further.
	default:
		// Two EXTERNs (or an EXTERN after an unresolved EXTERN): keep
		// the first seen, still unresolved.
	}
	return nil
}

// Link finishes the merge, resolves main, and assembles a *mimi.File.
// Every EXTERN that never picked up a GLOBAL definition is a link error
// (spec.md section 4.7 line 332: "missing external symbol at link time"),
// since the real pipeline's codegen fully inlines syscalls and never
// emits object.SymSyscall — any EXTERN reaching Link is a genuinely
// undefined user function or global, not a syscall the loader resolves
// later.
func (l *Linker) Link() (*mimi.File, error) {
	main, ok := l.byName["main"]
	if !ok || !main.defined || main.Section != object.SectionText {
		return nil, errs.New(errs.NOENT, "no GLOBAL symbol named main")
	}

	for _, name := range l.order {
		if !l.byName[name].defined {
			return nil, errs.New(errs.NOENT, "missing external symbol %q at link time", name)
		}
	}

	var symbols []object.Symbol
	nameToIdx := make(map[string]uint32, len(l.order))
	for _, name := range l.order {
		nameToIdx[name] = uint32(len(symbols))
		symbols = append(symbols, l.byName[name].Symbol)
	}
	localBase := uint32(len(symbols))
	symbols = append(symbols, l.locals...)

	for i := range l.relocs {
		owner := l.relocOwners[i]
		if owner.isLocal {
			l.relocs[i].SymbolIdx = localBase + owner.localIdx
			continue
		}
		// owner.name is guaranteed present: Add only records a relocOwner
		// for a name already merged into l.byName/l.order, and the loop
		// above just confirmed every one of those names is defined.
		l.relocs[i].SymbolIdx = nameToIdx[owner.name]
	}

	return &mimi.File{
		Header: mimi.Header{
			Arch:         l.Arch,
			EntryOffset:  main.Value,
			StackRequest: l.StackRequest,
			HeapRequest:  l.HeapRequest,
			Name:         l.Name,
		},
		Text:    l.text,
		Data:    l.data,
		Relocs:  stableRelocOrder(l.relocs),
		Symbols: symbols,
	}, nil
}

// relocOwner records, per accumulated relocation, which symbol it
// ultimately resolves against: either a shared by-name global/extern
// slot (resolved lazily in Link, once every object has contributed) or a
// private local symbol this linker interned directly.
type relocOwner struct {
	name     string
	isLocal  bool
	localIdx uint32
}

func (l *Linker) internLocal(sym object.Symbol) uint32 {
	idx := uint32(len(l.locals))
	l.locals = append(l.locals, sym)
	return idx
}

// stableRelocOrder is a no-op: spec.md does not require any particular
// relocation order, and preserving insertion order (the order objects
// were Added in) is already deterministic.
func stableRelocOrder(r []object.Reloc) []object.Reloc { return r }
