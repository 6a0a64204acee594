// Package mimi implements the on-disk .mimi binary container spec.md
// sections 3, 4.7, 4.8, and 4.10 describe: a 64-byte position-independent
// header, .text/.rodata/.data sections (no stored .bss), a relocation
// array, and a symbol array. internal/linker produces these;
// internal/loader consumes them. Grounded on the teacher's elf.go
// header-then-sections-then-tables writer, generalized from ELF's
// variable-layout section headers to this format's fixed, relocatable
// layout.
package mimi

import (
	"encoding/binary"
	"io"

	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/object"
)

// Magic identifies a .mimi file: ASCII "MIMI" read as a little-endian u32.
const Magic uint32 = 0x494D494D

// Version is the only header version this package produces or accepts.
const Version uint8 = 1

// Arch enumerates target architectures; this spec's codegen only ever
// targets Thumb, but the field is carried for the loader's arch check.
type Arch uint8

const ArchThumb Arch = 1

const (
	headerSize = 64
	nameSize   = 16
	relocSize  = 12
	symbolSize = 24
)

// Header is the in-memory mirror of the 64-byte .mimi header.
type Header struct {
	Magic        uint32
	Version      uint8
	Flags        uint8
	Arch         Arch
	EntryOffset  uint32
	TextSize     uint32
	RodataSize   uint32
	DataSize     uint32
	BSSSize      uint32
	RelocCount   uint32
	SymbolCount  uint32
	StackRequest uint32
	HeapRequest  uint32
	Name         string
}

// File is a fully assembled .mimi image in memory.
type File struct {
	Header  Header
	Text    []byte
	Rodata  []byte
	Data    []byte
	Relocs  []object.Reloc
	Symbols []object.Symbol
}

// WriteTo serializes f per spec.md section 3's section order: header,
// .text, .rodata, .data, relocations, symbols.
func (f *File) WriteTo(w io.Writer) error {
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.TextSize = uint32(len(f.Text))
	h.RodataSize = uint32(len(f.Rodata))
	h.DataSize = uint32(len(f.Data))
	h.RelocCount = uint32(len(f.Relocs))
	h.SymbolCount = uint32(len(f.Symbols))

	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	buf[6] = byte(h.Arch)
	// buf[7] is _pad, left zero.
	binary.LittleEndian.PutUint32(buf[8:12], h.EntryOffset)
	binary.LittleEndian.PutUint32(buf[12:16], h.TextSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.RodataSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.DataSize)
	binary.LittleEndian.PutUint32(buf[24:28], h.BSSSize)
	binary.LittleEndian.PutUint32(buf[28:32], h.RelocCount)
	binary.LittleEndian.PutUint32(buf[32:36], h.SymbolCount)
	binary.LittleEndian.PutUint32(buf[36:40], h.StackRequest)
	binary.LittleEndian.PutUint32(buf[40:44], h.HeapRequest)
	copy(buf[44:44+nameSize], []byte(h.Name))
	// buf[60:64]: a single reserved trailing u32, left zero. The header
	// totals 64 bytes as spec.md states; its field list reads _reserved
	// as [u32;2], which would total 68 and is treated as a typo here
	// (see DESIGN.md).

	if _, err := w.Write(buf[:]); err != nil {
		return errs.New(errs.IO, "write mimi header: %v", err)
	}
	for _, section := range [][]byte{f.Text, f.Rodata, f.Data} {
		if _, err := w.Write(section); err != nil {
			return errs.New(errs.IO, "write mimi section: %v", err)
		}
	}
	for _, r := range f.Relocs {
		var rb [relocSize]byte
		binary.LittleEndian.PutUint32(rb[0:4], r.Offset)
		binary.LittleEndian.PutUint16(rb[4:6], uint16(r.Section))
		rb[6] = byte(r.Type)
		binary.LittleEndian.PutUint32(rb[8:12], r.SymbolIdx)
		if _, err := w.Write(rb[:]); err != nil {
			return errs.New(errs.IO, "write mimi reloc: %v", err)
		}
	}
	for _, s := range f.Symbols {
		var sb [symbolSize]byte
		copy(sb[0:nameSize], []byte(s.Name))
		binary.LittleEndian.PutUint32(sb[16:20], s.Value)
		sb[20] = byte(s.Section)
		sb[21] = byte(s.Type)
		if _, err := w.Write(sb[:]); err != nil {
			return errs.New(errs.IO, "write mimi symbol: %v", err)
		}
	}
	return nil
}

// DecodeHeader parses just the 64-byte header, performing only the
// structural field-layout decode; the caller (internal/loader) is
// responsible for the trust checks spec.md section 4.8 step 1 requires
// before using any field.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, errs.New(errs.CORRUPT, "mimi header shorter than %d bytes", headerSize)
	}
	nameEnd := 44 + nameSize
	name := buf[44:nameEnd]
	end := 0
	for end < len(name) && name[end] != 0 {
		end++
	}
	return Header{
		Magic:        binary.LittleEndian.Uint32(buf[0:4]),
		Version:      buf[4],
		Flags:        buf[5],
		Arch:         Arch(buf[6]),
		EntryOffset:  binary.LittleEndian.Uint32(buf[8:12]),
		TextSize:     binary.LittleEndian.Uint32(buf[12:16]),
		RodataSize:   binary.LittleEndian.Uint32(buf[16:20]),
		DataSize:     binary.LittleEndian.Uint32(buf[20:24]),
		BSSSize:      binary.LittleEndian.Uint32(buf[24:28]),
		RelocCount:   binary.LittleEndian.Uint32(buf[28:32]),
		SymbolCount:  binary.LittleEndian.Uint32(buf[32:36]),
		StackRequest: binary.LittleEndian.Uint32(buf[36:40]),
		HeapRequest:  binary.LittleEndian.Uint32(buf[40:44]),
		Name:         string(name[:end]),
	}, nil
}

// Read parses a complete .mimi file image.
func Read(data []byte) (*File, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	cursor := uint64(headerSize)
	need := cursor + uint64(hdr.TextSize) + uint64(hdr.RodataSize) + uint64(hdr.DataSize) +
		uint64(hdr.RelocCount)*relocSize + uint64(hdr.SymbolCount)*symbolSize
	if uint64(len(data)) < need {
		return nil, errs.New(errs.CORRUPT, "mimi file truncated: want %d bytes, have %d", need, len(data))
	}

	f := &File{Header: hdr}
	f.Text = data[cursor : cursor+uint64(hdr.TextSize)]
	cursor += uint64(hdr.TextSize)
	f.Rodata = data[cursor : cursor+uint64(hdr.RodataSize)]
	cursor += uint64(hdr.RodataSize)
	f.Data = data[cursor : cursor+uint64(hdr.DataSize)]
	cursor += uint64(hdr.DataSize)

	for i := uint32(0); i < hdr.RelocCount; i++ {
		rec := data[cursor : cursor+relocSize]
		f.Relocs = append(f.Relocs, object.Reloc{
			Offset:    binary.LittleEndian.Uint32(rec[0:4]),
			Section:   object.Section(binary.LittleEndian.Uint16(rec[4:6])),
			Type:      object.RelocType(rec[6]),
			SymbolIdx: binary.LittleEndian.Uint32(rec[8:12]),
		})
		cursor += relocSize
	}
	for i := uint32(0); i < hdr.SymbolCount; i++ {
		rec := data[cursor : cursor+symbolSize]
		end := 0
		for end < nameSize && rec[end] != 0 {
			end++
		}
		f.Symbols = append(f.Symbols, object.Symbol{
			Name:    string(rec[0:end]),
			Value:   binary.LittleEndian.Uint32(rec[16:20]),
			Section: object.Section(rec[20]),
			Type:    object.SymbolType(rec[21]),
		})
		cursor += symbolSize
	}
	return f, nil
}

// Validate performs the structural checks spec.md section 4.8 step 1
// requires before any other header field is trusted.
func Validate(hdr Header, targetArch Arch) error {
	if hdr.Magic != Magic {
		return errs.New(errs.CORRUPT, "bad magic 0x%08X", hdr.Magic)
	}
	if hdr.Version != Version {
		return errs.New(errs.CORRUPT, "unsupported version %d", hdr.Version)
	}
	if hdr.Arch != targetArch {
		return errs.New(errs.NOEXEC, "arch %d does not match target %d", hdr.Arch, targetArch)
	}
	if hdr.TextSize == 0 {
		return errs.New(errs.NOEXEC, "text_size is zero")
	}
	if hdr.EntryOffset >= hdr.TextSize {
		return errs.New(errs.NOEXEC, "entry_offset %d >= text_size %d", hdr.EntryOffset, hdr.TextSize)
	}
	return nil
}
