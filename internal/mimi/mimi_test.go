package mimi

import (
	"bytes"
	"testing"

	"github.com/mimic/mimic/internal/object"
	"github.com/stretchr/testify/require"
)

func TestWriteToThenReadRoundTrip(t *testing.T) {
	f := &File{
		Header: Header{
			Arch:         ArchThumb,
			EntryOffset:  0,
			StackRequest: 4096,
			HeapRequest:  8192,
			Name:         "hello",
		},
		Text: []byte{0x80, 0xb5, 0x2a, 0x20, 0x00, 0xbd},
		Symbols: []object.Symbol{
			{Name: "main", Value: 0, Section: object.SectionText, Type: object.SymGlobal},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, f.WriteTo(&buf))
	require.GreaterOrEqual(t, buf.Len(), headerSize)

	back, err := Read(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, Magic, back.Header.Magic)
	require.Equal(t, Version, back.Header.Version)
	require.Equal(t, "hello", back.Header.Name)
	require.Equal(t, f.Text, back.Text)
	require.Len(t, back.Symbols, 1)
	require.Equal(t, "main", back.Symbols[0].Name)
}

func TestHeaderIsExactly64Bytes(t *testing.T) {
	f := &File{Header: Header{Arch: ArchThumb}, Text: []byte{0x00}}
	var buf bytes.Buffer
	require.NoError(t, f.WriteTo(&buf))
	require.Equal(t, headerSize, 64)
	require.Equal(t, 64+1, buf.Len())
}

func TestValidateRejectsBadMagic(t *testing.T) {
	hdr := Header{Magic: 0xDEADBEEF}
	err := Validate(hdr, ArchThumb)
	require.Error(t, err)
}

func TestValidateRejectsVersionMismatch(t *testing.T) {
	hdr := Header{Magic: Magic, Version: 2, Arch: ArchThumb, TextSize: 4}
	err := Validate(hdr, ArchThumb)
	require.Error(t, err)
}

func TestValidateRejectsArchMismatch(t *testing.T) {
	hdr := Header{Magic: Magic, Version: Version, Arch: Arch(99), TextSize: 4}
	err := Validate(hdr, ArchThumb)
	require.Error(t, err)
}

func TestValidateRejectsEntryOffsetAtTextSize(t *testing.T) {
	// A header with entry_offset == text_size is rejected (spec.md
	// section 8 boundary behavior).
	hdr := Header{Magic: Magic, Version: Version, Arch: ArchThumb, TextSize: 12, EntryOffset: 12}
	err := Validate(hdr, ArchThumb)
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedHeader(t *testing.T) {
	hdr := Header{Magic: Magic, Version: Version, Arch: ArchThumb, TextSize: 12, EntryOffset: 0}
	require.NoError(t, Validate(hdr, ArchThumb))
}

func TestReadRejectsTruncatedHeader(t *testing.T) {
	_, err := Read([]byte{1, 2, 3})
	require.Error(t, err)
}
