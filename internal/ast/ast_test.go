package ast

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteToThenReadRoundTrip(t *testing.T) {
	tree := NewTree([]byte("main\x00"))
	numLit, err := tree.Add(Node{Kind: KindNumber, Data: 42})
	require.NoError(t, err)
	ret, err := tree.Add(Node{Kind: KindReturn, Children: []int{numLit}})
	require.NoError(t, err)
	block, err := tree.Add(Node{Kind: KindBlock, Children: []int{ret}})
	require.NoError(t, err)
	fn, err := tree.Add(Node{Kind: KindFuncDecl, Data: 0, Children: []int{block}})
	require.NoError(t, err)
	tree.Root = fn

	var buf bytes.Buffer
	require.NoError(t, tree.WriteTo(&buf))

	readBack, err := Read(buf.Bytes())
	require.NoError(t, err)

	require.Len(t, readBack.Nodes, 4)
	root := readBack.Nodes[readBack.Root]
	require.Equal(t, KindFuncDecl, root.Kind)
	require.Len(t, root.Children, 1)

	blockNode := readBack.Nodes[root.Children[0]]
	require.Equal(t, KindBlock, blockNode.Kind)
	retNode := readBack.Nodes[blockNode.Children[0]]
	require.Equal(t, KindReturn, retNode.Kind)
	numNode := readBack.Nodes[retNode.Children[0]]
	require.Equal(t, KindNumber, numNode.Kind)
	require.EqualValues(t, 42, numNode.Data)

	name, err := readBack.StringAt(0)
	require.NoError(t, err)
	require.Equal(t, "main", name)
}

func TestAddRejectsTooManyChildren(t *testing.T) {
	tree := NewTree(nil)
	children := make([]int, maxChildren+1)
	_, err := tree.Add(Node{Kind: KindBlock, Children: children})
	require.Error(t, err)
}

func TestReadRejectsTruncatedFile(t *testing.T) {
	_, err := Read([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestReadRejectsBadChildOffset(t *testing.T) {
	tree := NewTree(nil)
	numLit, err := tree.Add(Node{Kind: KindNumber, Data: 1})
	require.NoError(t, err)
	_, err = tree.Add(Node{Kind: KindReturn, Children: []int{numLit}})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, tree.WriteTo(&buf))

	corrupted := buf.Bytes()
	// The return node's single child offset sits right after its 8-byte
	// prefix, at file offset fileHeaderSize + nodePrefixSize (the number
	// node, which comes first) + nodePrefixSize (the return node's own
	// prefix). Point it at a byte that isn't a node boundary.
	childOffsetPos := fileHeaderSize + nodePrefixSize + nodePrefixSize
	corrupted[childOffsetPos] = 0xFF
	corrupted[childOffsetPos+1] = 0xFF
	_, err = Read(corrupted)
	require.Error(t, err)
}
