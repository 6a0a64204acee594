package loader

import (
	"bytes"
	"testing"

	"github.com/mimic/mimic/internal/arena"
	"github.com/mimic/mimic/internal/codegen"
	"github.com/mimic/mimic/internal/kernel"
	"github.com/mimic/mimic/internal/lexer"
	"github.com/mimic/mimic/internal/linker"
	"github.com/mimic/mimic/internal/mimi"
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

func buildMimi(t *testing.T, srcs ...string) []byte {
	t.Helper()
	l := linker.New()
	for _, src := range srcs {
		require.NoError(t, l.Add(compile(t, src)))
	}
	f, err := l.Link()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.WriteTo(&buf))
	return buf.Bytes()
}

// newTestLoader wires a fresh kernel, a generously-sized arena, and a
// matching Image so a loaded task's entire layout always fits.
func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	alloc := arena.New(0, 4096, 64*1024, 64*1024, 64)
	k := kernel.New(alloc, 4)
	img := NewImage(4096 + 64*1024 + 64*1024)
	return New(k, img, mimi.ArchThumb)
}

// TestLoadSimpleProgramBecomesReady checks the minimal path: a single
// object defining main becomes a READY task with a non-zero entry point
// and a stack pointer above the arena base.
func TestLoadSimpleProgramBecomesReady(t *testing.T) {
	raw := buildMimi(t, "int main() { return 0; }")
	l := newTestLoader(t)

	id, err := l.Load(raw, 10)
	require.NoError(t, err)

	tcb := l.K.Task(id)
	require.Equal(t, kernel.StateReady, tcb.State)
	require.EqualValues(t, 10, tcb.Priority)
	require.Greater(t, tcb.SP, tcb.EntryAddr)
}

// TestLoadRejectsBadMagic exercises spec.md section 4.8 step 1: a
// corrupted header must fail validation before any task slot or arena
// block is touched.
func TestLoadRejectsBadMagic(t *testing.T) {
	raw := buildMimi(t, "int main() { return 0; }")
	raw[0] ^= 0xFF
	l := newTestLoader(t)

	_, err := l.Load(raw, 10)
	require.Error(t, err)
}

// TestLoadPatchesThumbCallAcrossFunctions links a caller and callee
// compiled separately, loads the result, and checks the call site's two
// placeholder halfwords are no longer both zero once relocations are
// applied — i.e. the loader actually wrote a BL encoding at patch_addr.
func TestLoadPatchesThumbCallAcrossFunctions(t *testing.T) {
	raw := buildMimi(t,
		"int add(int a, int b); int main() { return add(1, 2); }",
		"int add(int a, int b) { return a + b; }",
	)
	l := newTestLoader(t)

	id, err := l.Load(raw, 10)
	require.NoError(t, err)

	tcb := l.K.Task(id)
	f, err := mimi.Read(raw)
	require.NoError(t, err)
	var word [4]byte
	foundNonZeroCall := false
	for _, r := range f.Relocs {
		if r.Type != object.RelocThumbCall {
			continue
		}
		require.NoError(t, l.Image.ReadAt(tcb.Base+tcb.Layout.TextStart+r.Offset, word[:]))
		if word != [4]byte{0, 0, 0, 0} {
			foundNonZeroCall = true
			break
		}
	}
	require.True(t, foundNonZeroCall, "expected the THUMB_CALL site in .text to hold a patched BL, not the zero placeholder")
}

// TestLoadFailsWhenArenaTooSmall exercises the OUT_OF_MEMORY teardown
// path: with an arena too small to hold even the default stack/heap,
// Load must fail and return the task slot to FREE.
func TestLoadFailsWhenArenaTooSmall(t *testing.T) {
	raw := buildMimi(t, "int main() { return 0; }")
	alloc := arena.New(0, 4096, 64, 64, 64)
	k := kernel.New(alloc, 4)
	img := NewImage(4096 + 64 + 64)
	l := New(k, img, mimi.ArchThumb)

	_, err := l.Load(raw, 10)
	require.Error(t, err)

	for i := 1; i < 4; i++ {
		require.Equal(t, kernel.StateFree, k.Task(i).State)
	}
}

// TestComputeLayoutDefaultsAndAlignment checks spec.md section 4.8 step
// 3's fallback heap/stack sizes and the 32-byte total alignment.
func TestComputeLayoutDefaultsAndAlignment(t *testing.T) {
	hdr := mimi.Header{TextSize: 10, RodataSize: 3, DataSize: 1}
	layout, total := computeLayout(hdr)

	require.EqualValues(t, 8192, layout.HeapSize)
	require.EqualValues(t, 4096, layout.StackSize)
	require.EqualValues(t, 0, total%Align)
	require.GreaterOrEqual(t, total, layout.StackTop+layout.StackSize)
}
