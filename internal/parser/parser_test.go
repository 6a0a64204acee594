package parser

import (
	"bytes"
	"testing"

	"github.com/mimic/mimic/internal/ast"
	"github.com/mimic/mimic/internal/lexer"
	"github.com/mimic/mimic/internal/stream"
	"github.com/mimic/mimic/internal/token"
	"github.com/stretchr/testify/require"
)

type memFile struct{ buf *bytes.Buffer }

func (m memFile) Read(p []byte) (int, error)  { return m.buf.Read(p) }
func (m memFile) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m memFile) Close() error                { return nil }

func parseSource(t *testing.T, src string) *ast.Tree {
	t.Helper()
	r := stream.NewReader(memFile{bytes.NewBufferString(src)}, 16)
	tf, err := lexer.New(r).Lex()
	require.NoError(t, err)
	tree, err := New(tf).Parse()
	require.NoError(t, err)
	return tree
}

func TestParseSimpleFunctionDefinition(t *testing.T) {
	tree := parseSource(t, "int main() { return 0; }")
	root := tree.Nodes[tree.Root]
	require.Equal(t, ast.KindTranslationUnit, root.Kind)
	require.Len(t, root.Children, 1)

	fn := tree.Nodes[root.Children[0]]
	require.Equal(t, ast.KindFuncDecl, fn.Kind)
	name, err := tree.StringAt(fn.Data)
	require.NoError(t, err)
	require.Equal(t, "main", name)

	body := tree.Nodes[fn.Children[len(fn.Children)-1]]
	require.Equal(t, ast.KindBlock, body.Kind)
	require.Len(t, body.Children, 1)

	ret := tree.Nodes[body.Children[0]]
	require.Equal(t, ast.KindReturn, ret.Kind)
	require.Len(t, ret.Children, 1)

	lit := tree.Nodes[ret.Children[0]]
	require.Equal(t, ast.KindNumber, lit.Kind)
	require.EqualValues(t, 0, lit.Data)
}

func TestParseVarDeclWithInitializer(t *testing.T) {
	tree := parseSource(t, "int x = 1 + 2;")
	root := tree.Nodes[tree.Root]
	decl := tree.Nodes[root.Children[0]]
	require.Equal(t, ast.KindVarDecl, decl.Kind)
	require.Len(t, decl.Children, 1)

	sum := tree.Nodes[decl.Children[0]]
	require.Equal(t, ast.KindBinary, sum.Kind)
	require.Equal(t, ast.OpAdd, ast.Op(sum.Data))
}

func TestParseAssignmentIsRightAssociative(t *testing.T) {
	tree := parseSource(t, "void f() { a = b = c; }")
	root := tree.Nodes[tree.Root]
	fn := tree.Nodes[root.Children[0]]
	body := tree.Nodes[fn.Children[len(fn.Children)-1]]
	stmt := tree.Nodes[body.Children[0]]
	require.Equal(t, ast.KindExprStmt, stmt.Kind)

	outer := tree.Nodes[stmt.Children[0]]
	require.Equal(t, ast.KindAssign, outer.Kind)

	// Right child of "a = (b = c)" must itself be an assignment.
	inner := tree.Nodes[outer.Children[1]]
	require.Equal(t, ast.KindAssign, inner.Kind)
}

func TestParseBinaryPrecedenceMulBeforeAdd(t *testing.T) {
	tree := parseSource(t, "int x = 1 + 2 * 3;")
	root := tree.Nodes[tree.Root]
	decl := tree.Nodes[root.Children[0]]
	add := tree.Nodes[decl.Children[0]]
	require.Equal(t, ast.KindBinary, add.Kind)
	require.Equal(t, ast.OpAdd, ast.Op(add.Data))

	rhs := tree.Nodes[add.Children[1]]
	require.Equal(t, ast.KindBinary, rhs.Kind)
	require.Equal(t, ast.OpMul, ast.Op(rhs.Data))
}

func TestParseTernaryIsRightAssociative(t *testing.T) {
	tree := parseSource(t, "int x = a ? b : c ? d : e;")
	root := tree.Nodes[tree.Root]
	decl := tree.Nodes[root.Children[0]]
	outer := tree.Nodes[decl.Children[0]]
	require.Equal(t, ast.KindTernary, outer.Kind)
	require.Len(t, outer.Children, 3)

	els := tree.Nodes[outer.Children[2]]
	require.Equal(t, ast.KindTernary, els.Kind)
}

func TestParseUnaryAndPostfixOperators(t *testing.T) {
	tree := parseSource(t, "void f() { x = *p++; }")
	root := tree.Nodes[tree.Root]
	fn := tree.Nodes[root.Children[0]]
	body := tree.Nodes[fn.Children[len(fn.Children)-1]]
	stmt := tree.Nodes[body.Children[0]]
	assign := tree.Nodes[stmt.Children[0]]
	require.Equal(t, ast.KindAssign, assign.Kind)

	deref := tree.Nodes[assign.Children[1]]
	require.Equal(t, ast.KindUnary, deref.Kind)
	require.Equal(t, ast.OpDeref, ast.Op(deref.Data))

	postinc := tree.Nodes[deref.Children[0]]
	require.Equal(t, ast.KindPostIncDec, postinc.Kind)
	require.Equal(t, ast.FlagPostfix, postinc.Flags)
}

func TestParseFunctionCallWithArguments(t *testing.T) {
	tree := parseSource(t, "void f() { foo(1, 2); }")
	root := tree.Nodes[tree.Root]
	fn := tree.Nodes[root.Children[0]]
	body := tree.Nodes[fn.Children[len(fn.Children)-1]]
	stmt := tree.Nodes[body.Children[0]]
	call := tree.Nodes[stmt.Children[0]]
	require.Equal(t, ast.KindCall, call.Kind)
	require.Len(t, call.Children, 3)
}

func TestParseArrayIndexAndMemberAccess(t *testing.T) {
	tree := parseSource(t, "void f() { a[0] = p->x; }")
	root := tree.Nodes[tree.Root]
	fn := tree.Nodes[root.Children[0]]
	body := tree.Nodes[fn.Children[len(fn.Children)-1]]
	stmt := tree.Nodes[body.Children[0]]
	assign := tree.Nodes[stmt.Children[0]]

	idx := tree.Nodes[assign.Children[0]]
	require.Equal(t, ast.KindIndex, idx.Kind)

	member := tree.Nodes[assign.Children[1]]
	require.Equal(t, ast.KindMember, member.Kind)
	require.Equal(t, ast.FlagArrow, member.Flags)
}

func TestParseIfElseAndWhile(t *testing.T) {
	tree := parseSource(t, "void f() { if (a) b(); else c(); while (d) e(); }")
	root := tree.Nodes[tree.Root]
	fn := tree.Nodes[root.Children[0]]
	body := tree.Nodes[fn.Children[len(fn.Children)-1]]
	require.Len(t, body.Children, 2)

	ifNode := tree.Nodes[body.Children[0]]
	require.Equal(t, ast.KindIf, ifNode.Kind)
	require.Len(t, ifNode.Children, 3)

	whileNode := tree.Nodes[body.Children[1]]
	require.Equal(t, ast.KindWhile, whileNode.Kind)
}

func TestParseForWithEmptyClauses(t *testing.T) {
	tree := parseSource(t, "void f() { for (;;) break; }")
	root := tree.Nodes[tree.Root]
	fn := tree.Nodes[root.Children[0]]
	body := tree.Nodes[fn.Children[len(fn.Children)-1]]
	forNode := tree.Nodes[body.Children[0]]
	require.Equal(t, ast.KindFor, forNode.Kind)
	require.Len(t, forNode.Children, 4) // init, cond, update always present as KindEmpty placeholders

	require.Equal(t, ast.KindEmpty, tree.Nodes[forNode.Children[0]].Kind)
	require.Equal(t, ast.KindEmpty, tree.Nodes[forNode.Children[1]].Kind)
	require.Equal(t, ast.KindEmpty, tree.Nodes[forNode.Children[2]].Kind)
	require.Equal(t, ast.KindBreak, tree.Nodes[forNode.Children[3]].Kind)
}

func TestParseRecoversFromErrorAndContinues(t *testing.T) {
	r := stream.NewReader(memFile{bytes.NewBufferString("int x = ; int y = 1;")}, 16)
	tf, err := lexer.New(r).Lex()
	require.NoError(t, err)
	p := New(tf)
	tree, err := p.Parse()
	require.NoError(t, err)
	require.Greater(t, p.ErrorCount, 0)
	require.NotNil(t, tree)
}

func TestParseAbortsAfterMaxErrors(t *testing.T) {
	var src bytes.Buffer
	for i := 0; i < 12; i++ {
		src.WriteString("= ; ")
	}
	r := stream.NewReader(memFile{&src}, 16)
	tf, err := lexer.New(r).Lex()
	require.NoError(t, err)
	p := New(tf)
	p.MaxErrors = 3
	_, err = p.Parse()
	require.Error(t, err)
}
