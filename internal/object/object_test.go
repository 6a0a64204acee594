package object

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteToThenReadRoundTrip(t *testing.T) {
	f := &File{
		Text: []byte{0x80, 0xb5, 0x2a, 0x20}, // PUSH {r7, lr}; MOV r0, #42
		Data: []byte{1, 2, 3, 4},
		Relocs: []Reloc{
			{Offset: 4, Section: SectionText, Type: RelocThumbCall, SymbolIdx: 0},
		},
		Symbols: []Symbol{
			{Name: "main", Value: 0, Section: SectionText, Type: SymGlobal},
			{Name: "printf", Value: 0, Type: SymExtern},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, f.WriteTo(&buf))

	back, err := Read(buf.Bytes())
	require.NoError(t, err)

	require.Equal(t, f.Text, back.Text)
	require.Equal(t, f.Data, back.Data)
	require.Equal(t, f.Relocs, back.Relocs)
	require.Len(t, back.Symbols, 2)
	require.Equal(t, "main", back.Symbols[0].Name)
	require.Equal(t, SymGlobal, back.Symbols[0].Type)
	require.Equal(t, "printf", back.Symbols[1].Name)
	require.Equal(t, SymExtern, back.Symbols[1].Type)
}

func TestReadRejectsTruncatedFile(t *testing.T) {
	_, err := Read([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestReadRejectsUndersizedBody(t *testing.T) {
	f := &File{Text: make([]byte, 100)}
	var buf bytes.Buffer
	require.NoError(t, f.WriteTo(&buf))
	truncated := buf.Bytes()[:headerSize+10]
	_, err := Read(truncated)
	require.Error(t, err)
}
