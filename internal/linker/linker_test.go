package linker

import (
	"bytes"
	"testing"

	"github.com/mimic/mimic/internal/codegen"
	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/lexer"
	"github.com/mimic/mimic/internal/object"
	"github.com/mimic/mimic/internal/parser"
	"github.com/mimic/mimic/internal/stream"
	"github.com/stretchr/testify/require"
)

type memFile struct{ buf *bytes.Buffer }

func (m memFile) Read(p []byte) (int, error)  { return m.buf.Read(p) }
func (m memFile) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m memFile) Close() error                { return nil }

func compile(t *testing.T, src string) *object.File {
	t.Helper()
	r := stream.NewReader(memFile{bytes.NewBufferString(src)}, 16)
	tf, err := lexer.New(r).Lex()
	require.NoError(t, err)
	tree, err := parser.New(tf).Parse()
	require.NoError(t, err)
	obj, err := codegen.New(tree).Generate()
	require.NoError(t, err)
	return obj
}

func findSymbol(symbols []object.Symbol, name string) (object.Symbol, bool) {
	for _, s := range symbols {
		if s.Name == name {
			return s, true
		}
	}
	return object.Symbol{}, false
}

// TestLinkSingleObjectResolvesEntry checks the minimal case: one object
// defining main, linked alone, becomes a .mimi image whose entry offset
// is main's (rebased, here zero-based) value.
func TestLinkSingleObjectResolvesEntry(t *testing.T) {
	obj := compile(t, "int main() { return 0; }")

	l := New()
	require.NoError(t, l.Add(obj))
	out, err := l.Link()
	require.NoError(t, err)

	sym, ok := findSymbol(out.Symbols, "main")
	require.True(t, ok)
	require.EqualValues(t, sym.Value, out.Header.EntryOffset)
	require.EqualValues(t, 4096, out.Header.StackRequest)
	require.EqualValues(t, 8192, out.Header.HeapRequest)
}

// TestLinkMissingMainFails exercises spec.md section 4.7's "if absent,
// linking fails" rule.
func TestLinkMissingMainFails(t *testing.T) {
	obj := compile(t, "int helper() { return 1; }")

	l := New()
	require.NoError(t, l.Add(obj))
	_, err := l.Link()
	require.Error(t, err)
	require.Equal(t, errs.NOENT, errs.As(err))
}

// TestLinkUndefinedExternFails exercises spec.md section 4.7 line 332: a
// relocation against an EXTERN that never picked up a GLOBAL definition
// must fail link with NOENT rather than silently linking against an
// unresolved symbol (which the loader would later patch at a bogus
// address).
func TestLinkUndefinedExternFails(t *testing.T) {
	obj := compile(t, "int foo(); int main() { return foo(); }")

	l := New()
	require.NoError(t, l.Add(obj))
	_, err := l.Link()
	require.Error(t, err)
	require.Equal(t, errs.NOENT, errs.As(err))
}

// TestLinkAcrossTwoObjectsRebasesCallSite links a caller object and a
// callee object compiled separately, checking the caller's THUMB_CALL
// relocation resolves to the callee's address after rebasing by the
// caller's .text length.
func TestLinkAcrossTwoObjectsRebasesCallSite(t *testing.T) {
	callerObj := compile(t, "int add(int a, int b); int main() { return add(1, 2); }")
	calleeObj := compile(t, "int add(int a, int b) { return a + b; }")

	l := New()
	require.NoError(t, l.Add(callerObj))
	require.NoError(t, l.Add(calleeObj))
	out, err := l.Link()
	require.NoError(t, err)

	addSym, ok := findSymbol(out.Symbols, "add")
	require.True(t, ok)
	require.Equal(t, object.SymGlobal, addSym.Type)
	require.GreaterOrEqual(t, int(addSym.Value), len(callerObj.Text))

	var found bool
	for _, r := range out.Relocs {
		if r.Type == object.RelocThumbCall && int(r.SymbolIdx) < len(out.Symbols) && out.Symbols[r.SymbolIdx].Name == "add" {
			found = true
		}
	}
	require.True(t, found)
}

// TestLinkDuplicateGlobalFails exercises the GLOBAL-vs-GLOBAL duplicate
// rule, which Add reports as soon as the second definition arrives.
func TestLinkDuplicateGlobalFails(t *testing.T) {
	a := compile(t, "int main() { return 0; }")
	b := compile(t, "int main() { return 1; }")

	l := New()
	require.NoError(t, l.Add(a))
	err := l.Add(b)
	require.Error(t, err)
	require.Equal(t, errs.INVAL, errs.As(err))
}

// TestLinkGlobalWinsOverExtern checks a GLOBAL definition arriving after
// an EXTERN reference to the same name still resolves relocations
// against it (order of Add calls should not matter).
func TestLinkGlobalWinsOverExtern(t *testing.T) {
	callerObj := compile(t, "int helper(); int main() { return helper(); }")
	calleeObj := compile(t, "int helper() { return 7; }")

	l := New()
	require.NoError(t, l.Add(callerObj))
	require.NoError(t, l.Add(calleeObj))
	out, err := l.Link()
	require.NoError(t, err)

	sym, ok := findSymbol(out.Symbols, "helper")
	require.True(t, ok)
	require.Equal(t, object.SymGlobal, sym.Type)
}

// TestLinkRebasesDataSymbols checks a global variable's value is rebased
// by the preceding object's .data length when linked second.
func TestLinkRebasesDataSymbols(t *testing.T) {
	first := compile(t, "int counter = 1; int main() { return counter; }")
	second := compile(t, "int other = 2;")

	l := New()
	require.NoError(t, l.Add(first))
	require.NoError(t, l.Add(second))
	out, err := l.Link()
	require.NoError(t, err)

	other, ok := findSymbol(out.Symbols, "other")
	require.True(t, ok)
	require.GreaterOrEqual(t, int(other.Value), len(first.Data))
	require.Len(t, out.Data, len(first.Data)+len(second.Data))
}
