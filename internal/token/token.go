// Package token defines the on-disk token format emitted by internal/lexer
// and consumed by internal/parser: an 8-byte fixed record plus a trailing
// string table, exactly as laid out in spec.md section 3.
package token

import (
	"encoding/binary"
	"io"

	"github.com/mimic/mimic/internal/errs"
)

// Type enumerates the lexer's token classes (spec.md section 4.4).
type Type uint16

const (
	EOF Type = iota
	IDENT
	NUMBER
	CHAR
	STRING
	KEYWORD

	// Punctuators and operators.
	PLUS
	MINUS
	STAR
	SLASH
	PERCENT
	AMP
	PIPE
	CARET
	TILDE
	BANG
	ASSIGN
	LT
	GT
	LPAREN
	RPAREN
	LBRACE
	RBRACE
	LBRACKET
	RBRACKET
	SEMI
	COMMA
	DOT
	ARROW
	QUESTION
	COLON

	INC
	DEC
	SHL
	SHR
	LE
	GE
	EQ
	NE
	ANDAND
	OROR
	PLUSEQ
	MINUSEQ
	STAREQ
	SLASHEQ
	PERCENTEQ
	AMPEQ
	PIPEEQ
	CARETEQ
	SHLEQ
	SHREQ
	ELLIPSIS

	PP_INCLUDE
	PP_DEFINE
	PP_IFDEF
	PP_IFNDEF
	PP_ELSE
	PP_ENDIF
	PP_PRAGMA
)

// Flag bits stored in a token's Flags field.
type Flag uint16

const (
	FlagNone       Flag = 0
	FlagUnsigned   Flag = 1 << 0
	FlagLong       Flag = 1 << 1
	FlagHex        Flag = 1 << 2
	FlagOctal      Flag = 1 << 3
	FlagSystemHdr  Flag = 1 << 4 // #include <...> vs "..."
)

// Token is the in-memory mirror of the 8-byte on-disk record.
type Token struct {
	Type  Type
	Flags Flag
	Value uint32
	Line  int // not persisted; diagnostics only
	Col   int // not persisted; diagnostics only
}

const (
	recordSize = 8
	headerSize = 16
)

// Header is the 16-byte token-file header.
type Header struct {
	TokenCount      uint32
	StringTableOff  uint32
	StringTableSize uint32
	Reserved        uint32
}

// File accumulates tokens and a string table in memory, then writes them
// in the layout spec.md section 4.4 requires: placeholder header, tokens,
// string table, then a seek-back to write the real header.
type File struct {
	tokens  []Token
	strings []byte
}

// NewFile creates an empty token file builder.
func NewFile() *File { return &File{} }

// Add appends a token.
func (f *File) Add(t Token) { f.tokens = append(f.tokens, t) }

// InternString appends s (with a NUL terminator) to the string table and
// returns its offset, used for identifiers, string literals, and #include
// filenames per spec.md section 4.4.
func (f *File) InternString(s string) (uint32, error) {
	off := uint32(len(f.strings))
	if uint64(off)+uint64(len(s))+1 > 0xFFFFFFFF {
		return 0, errs.New(errs.TOOLARGE, "string table overflow")
	}
	f.strings = append(f.strings, s...)
	f.strings = append(f.strings, 0)
	return off, nil
}

// StringAt decodes the NUL-terminated string at off in the (already
// assembled) string table.
func (f *File) StringAt(off uint32) (string, error) {
	return stringAt(f.strings, off)
}

func stringAt(table []byte, off uint32) (string, error) {
	if uint64(off) >= uint64(len(table)) {
		return "", errs.New(errs.CORRUPT, "string offset %d out of range", off)
	}
	end := off
	for end < uint32(len(table)) && table[end] != 0 {
		end++
	}
	if end >= uint32(len(table)) {
		return "", errs.New(errs.CORRUPT, "unterminated string at offset %d", off)
	}
	return string(table[off:end]), nil
}

// Tokens exposes the accumulated token slice.
func (f *File) Tokens() []Token { return f.tokens }

// Strings exposes the raw string table bytes.
func (f *File) Strings() []byte { return f.strings }

// WriteTo serializes the header, tokens, and string table to w: a zeroed
// placeholder header first, then the records and string table, then a
// seek back to rewrite the real header before returning to the end.
func (f *File) WriteTo(w io.WriteSeeker) error {
	hdr := Header{
		TokenCount:      uint32(len(f.tokens)),
		StringTableOff:  headerSize + uint32(len(f.tokens))*recordSize,
		StringTableSize: uint32(len(f.strings)),
	}
	start, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return errs.New(errs.IO, "seek token file: %v", err)
	}
	if err := writeHeader(w, Header{}); err != nil {
		return err
	}
	for _, t := range f.tokens {
		var rec [recordSize]byte
		binary.LittleEndian.PutUint16(rec[0:2], uint16(t.Type))
		binary.LittleEndian.PutUint16(rec[2:4], uint16(t.Flags))
		binary.LittleEndian.PutUint32(rec[4:8], t.Value)
		if _, err := w.Write(rec[:]); err != nil {
			return errs.New(errs.IO, "write token: %v", err)
		}
	}
	if _, err := w.Write(f.strings); err != nil {
		return errs.New(errs.IO, "write string table: %v", err)
	}
	if _, err := w.Seek(start, io.SeekStart); err != nil {
		return errs.New(errs.IO, "seek token header: %v", err)
	}
	if err := writeHeader(w, hdr); err != nil {
		return err
	}
	if _, err := w.Seek(0, io.SeekEnd); err != nil {
		return errs.New(errs.IO, "seek token file end: %v", err)
	}
	return nil
}

func writeHeader(w io.WriteSeeker, hdr Header) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], hdr.TokenCount)
	binary.LittleEndian.PutUint32(buf[4:8], hdr.StringTableOff)
	binary.LittleEndian.PutUint32(buf[8:12], hdr.StringTableSize)
	binary.LittleEndian.PutUint32(buf[12:16], hdr.Reserved)
	if _, err := w.Write(buf[:]); err != nil {
		return errs.New(errs.IO, "write token header: %v", err)
	}
	return nil
}

// Read parses a complete token file image (header + records + string
// table) from data, as produced by WriteTo. It is the in-RAM counterpart
// of WriteTo; internal/parser itself is handed a *File directly and does
// not call it.
func Read(data []byte) (*File, error) {
	if len(data) < headerSize {
		return nil, errs.New(errs.CORRUPT, "token file shorter than header")
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	strOff := binary.LittleEndian.Uint32(data[4:8])
	strSize := binary.LittleEndian.Uint32(data[8:12])

	need := headerSize + uint64(count)*recordSize
	if uint64(len(data)) < need {
		return nil, errs.New(errs.CORRUPT, "token file truncated: want %d records", count)
	}
	if uint64(strOff)+uint64(strSize) > uint64(len(data)) {
		return nil, errs.New(errs.CORRUPT, "token file string table out of range")
	}

	f := &File{strings: data[strOff : strOff+strSize]}
	for i := uint32(0); i < count; i++ {
		off := headerSize + i*recordSize
		rec := data[off : off+recordSize]
		f.tokens = append(f.tokens, Token{
			Type:  Type(binary.LittleEndian.Uint16(rec[0:2])),
			Flags: Flag(binary.LittleEndian.Uint16(rec[2:4])),
			Value: binary.LittleEndian.Uint32(rec[4:8]),
		})
	}
	return f, nil
}
