// Package object implements the per-compile intermediate object file
// format spec.md section 3 and section 4.6 describe: a small header
// followed by raw text/data bytes, a relocation array, and a symbol
// array. internal/codegen produces these; internal/linker consumes one
// or more of them to produce a .mimi binary.
package object

import (
	"encoding/binary"
	"io"

	"github.com/mimic/mimic/internal/errs"
)

// Section identifies which output section a relocation or symbol value
// is relative to.
type Section uint8

const (
	SectionText Section = iota
	SectionRodata
	SectionData
)

// RelocType enumerates the fix-up kinds a relocation record may request,
// per spec.md section 3 and applied by internal/loader per section 4.8.
type RelocType uint8

const (
	RelocABS32 RelocType = iota
	RelocREL32
	RelocThumbCall
	RelocThumbBranch
	RelocDataPtr
)

// SymbolType enumerates how a symbol's Value should be interpreted.
type SymbolType uint8

const (
	SymLocal SymbolType = iota
	SymGlobal
	SymExtern
	SymSyscall
)

// Reloc is the 12-byte on-disk relocation record.
type Reloc struct {
	Offset    uint32
	Section   Section
	Type      RelocType
	SymbolIdx uint32
}

// Symbol is the 24-byte on-disk symbol record. Name is NUL-padded to 16
// bytes on disk; Section is meaningless (zero) for SymSyscall, whose
// Value holds the syscall number instead of a section-relative offset.
type Symbol struct {
	Name    string
	Value   uint32
	Section Section
	Type    SymbolType
}

const (
	headerSize = 16 // { text_size, data_size, reloc_count, symbol_count } u32 x4
	relocSize  = 12
	symbolSize = 24
	nameSize   = 16
)

// File is an assembled object: raw section bytes plus the relocation and
// symbol arrays the code generator emits alongside them. The object
// format carries only text and data spans (spec.md section 3); string
// literals and other read-only payloads are emitted into Data at
// codegen time, and the linker appends every object's Data to the .mimi
// binary's .data section (see internal/linker). Reloc.Section can still
// name SectionRodata, but no object ever holds a distinct rodata span.
type File struct {
	Text []byte
	Data []byte

	Relocs  []Reloc
	Symbols []Symbol
}

// WriteTo serializes f per spec.md section 3's object layout:
// header, text, data, relocations, symbols.
func (f *File) WriteTo(w io.Writer) error {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(f.Text)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(f.Data)))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(f.Relocs)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(f.Symbols)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errs.New(errs.IO, "write object header: %v", err)
	}
	if _, err := w.Write(f.Text); err != nil {
		return errs.New(errs.IO, "write object text: %v", err)
	}
	if _, err := w.Write(f.Data); err != nil {
		return errs.New(errs.IO, "write object data: %v", err)
	}
	for _, r := range f.Relocs {
		var buf [relocSize]byte
		binary.LittleEndian.PutUint32(buf[0:4], r.Offset)
		binary.LittleEndian.PutUint16(buf[4:6], uint16(r.Section))
		buf[6] = byte(r.Type)
		binary.LittleEndian.PutUint32(buf[8:12], r.SymbolIdx)
		if _, err := w.Write(buf[:]); err != nil {
			return errs.New(errs.IO, "write object reloc: %v", err)
		}
	}
	for _, s := range f.Symbols {
		var buf [symbolSize]byte
		copy(buf[0:nameSize], []byte(s.Name))
		binary.LittleEndian.PutUint32(buf[16:20], s.Value)
		buf[20] = byte(s.Section)
		buf[21] = byte(s.Type)
		if _, err := w.Write(buf[:]); err != nil {
			return errs.New(errs.IO, "write object symbol: %v", err)
		}
	}
	return nil
}

// Read parses a complete object file image.
func Read(data []byte) (*File, error) {
	if len(data) < headerSize {
		return nil, errs.New(errs.CORRUPT, "object file shorter than header")
	}
	textSize := binary.LittleEndian.Uint32(data[0:4])
	dataSize := binary.LittleEndian.Uint32(data[4:8])
	relocCount := binary.LittleEndian.Uint32(data[8:12])
	symCount := binary.LittleEndian.Uint32(data[12:16])

	cursor := uint64(headerSize)
	need := cursor + uint64(textSize) + uint64(dataSize) +
		uint64(relocCount)*relocSize + uint64(symCount)*symbolSize
	if uint64(len(data)) < need {
		return nil, errs.New(errs.CORRUPT, "object file truncated: want %d bytes, have %d", need, len(data))
	}

	f := &File{}
	f.Text = data[cursor : cursor+uint64(textSize)]
	cursor += uint64(textSize)
	f.Data = data[cursor : cursor+uint64(dataSize)]
	cursor += uint64(dataSize)

	for i := uint32(0); i < relocCount; i++ {
		rec := data[cursor : cursor+relocSize]
		f.Relocs = append(f.Relocs, Reloc{
			Offset:    binary.LittleEndian.Uint32(rec[0:4]),
			Section:   Section(binary.LittleEndian.Uint16(rec[4:6])),
			Type:      RelocType(rec[6]),
			SymbolIdx: binary.LittleEndian.Uint32(rec[8:12]),
		})
		cursor += relocSize
	}
	for i := uint32(0); i < symCount; i++ {
		rec := data[cursor : cursor+symbolSize]
		nameEnd := 0
		for nameEnd < nameSize && rec[nameEnd] != 0 {
			nameEnd++
		}
		f.Symbols = append(f.Symbols, Symbol{
			Name:    string(rec[0:nameEnd]),
			Value:   binary.LittleEndian.Uint32(rec[16:20]),
			Section: Section(rec[20]),
			Type:    SymbolType(rec[21]),
		})
		cursor += symbolSize
	}
	return f, nil
}
