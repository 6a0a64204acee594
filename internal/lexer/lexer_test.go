package lexer

import (
	"bytes"
	"testing"

	"github.com/mimic/mimic/internal/stream"
	"github.com/mimic/mimic/internal/token"
	"github.com/stretchr/testify/require"
)

type memFile struct{ buf *bytes.Buffer }

func (m memFile) Read(p []byte) (int, error)  { return m.buf.Read(p) }
func (m memFile) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m memFile) Close() error                { return nil }

func newTestReader(src string) *stream.Reader {
	return stream.NewReader(memFile{bytes.NewBufferString(src)}, 16)
}

func lexAll(t *testing.T, src string) []token.Token {
	t.Helper()
	f, err := New(newTestReader(src)).Lex()
	require.NoError(t, err)
	return f.Tokens()
}

func TestLexSkipsWhitespaceAndLineComments(t *testing.T) {
	toks := lexAll(t, "  \t\n// a comment\n+")
	require.Len(t, toks, 2)
	require.Equal(t, token.PLUS, toks[0].Type)
	require.Equal(t, token.EOF, toks[1].Type)
}

func TestLexSkipsBlockComments(t *testing.T) {
	toks := lexAll(t, "/* multi\nline */;")
	require.Equal(t, token.SEMI, toks[0].Type)
}

func TestLexDecimalNumber(t *testing.T) {
	toks := lexAll(t, "12345")
	require.Equal(t, token.NUMBER, toks[0].Type)
	require.EqualValues(t, 12345, toks[0].Value)
	require.Zero(t, toks[0].Flags&token.FlagHex)
}

func TestLexHexNumberWithUnsignedLongSuffix(t *testing.T) {
	toks := lexAll(t, "0xFFuL")
	require.Equal(t, token.NUMBER, toks[0].Type)
	require.EqualValues(t, 0xFF, toks[0].Value)
	require.NotZero(t, toks[0].Flags&token.FlagHex)
	require.NotZero(t, toks[0].Flags&token.FlagUnsigned)
	require.NotZero(t, toks[0].Flags&token.FlagLong)
}

func TestLexOctalNumber(t *testing.T) {
	toks := lexAll(t, "017")
	require.NotZero(t, toks[0].Flags&token.FlagOctal)
	require.EqualValues(t, 15, toks[0].Value)
}

func TestLexCharLiteralWithEscape(t *testing.T) {
	toks := lexAll(t, `'\n'`)
	require.Equal(t, token.CHAR, toks[0].Type)
	require.EqualValues(t, '\n', toks[0].Value)
}

func TestLexStringLiteralInternsToStringTable(t *testing.T) {
	f, err := New(newTestReader(`"hi"`)).Lex()
	require.NoError(t, err)
	toks := f.Tokens()
	require.Equal(t, token.STRING, toks[0].Type)
	s, err := f.StringAt(toks[0].Value)
	require.NoError(t, err)
	require.Equal(t, "hi", s)
}

func TestLexIdentifierVsKeywordFallsBackToIdent(t *testing.T) {
	toks := lexAll(t, "foobar")
	require.Equal(t, token.IDENT, toks[0].Type)
}

func TestLexRecognizesKeyword(t *testing.T) {
	f, err := New(newTestReader("return")).Lex()
	require.NoError(t, err)
	toks := f.Tokens()
	require.Equal(t, token.KEYWORD, toks[0].Type)
	s, err := f.StringAt(toks[0].Value)
	require.NoError(t, err)
	require.Equal(t, "return", s)
}

func TestLexMultiCharOperators(t *testing.T) {
	toks := lexAll(t, "<<= >>= == != && || -> ...")
	types := make([]token.Type, 0, len(toks))
	for _, tk := range toks {
		types = append(types, tk.Type)
	}
	require.Equal(t, []token.Type{
		token.SHLEQ, token.SHREQ, token.EQ, token.NE,
		token.ANDAND, token.OROR, token.ARROW, token.ELLIPSIS, token.EOF,
	}, types)
}

func TestLexPPIncludeSystemHeader(t *testing.T) {
	f, err := New(newTestReader("#include <stdio.h>\n")).Lex()
	require.NoError(t, err)
	toks := f.Tokens()
	require.Equal(t, token.PP_INCLUDE, toks[0].Type)
	require.NotZero(t, toks[0].Flags&token.FlagSystemHdr)
	name, err := f.StringAt(toks[0].Value)
	require.NoError(t, err)
	require.Equal(t, "stdio.h", name)
}

func TestLexUnknownCharacterIsRecordedAsError(t *testing.T) {
	l := New(newTestReader("$"))
	_, err := l.Lex()
	require.NoError(t, err)
	require.Equal(t, 1, l.ErrorCount)
}
