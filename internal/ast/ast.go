// Package ast defines the on-disk AST node format produced by
// internal/parser and consumed by internal/codegen: a fixed 8-byte prefix
// per node plus up to 16 inline child offsets, as laid out in spec.md
// section 3. Node kinds are modeled as a tagged sum type per
// spec.md section 9's design note, carrying only the fields each kind
// needs; Encode/Decode translate between that Go-native shape and the
// disk layout.
package ast

import (
	"encoding/binary"
	"io"

	"github.com/mimic/mimic/internal/errs"
)

// Kind enumerates AST node types (the 1-byte on-disk `type` field).
type Kind uint8

const (
	KindInvalid Kind = iota

	// Expressions.
	KindNumber // Flags reuses token.Flag's hex/octal/unsigned/long bits directly
	KindString
	KindChar
	KindIdent
	KindUnary
	KindBinary
	KindAssign
	KindTernary
	KindCall
	KindIndex
	KindMember   // . and -> (distinguished by Flags)
	KindPostIncDec
	KindSizeof

	// Statements.
	KindBlock
	KindIf
	KindWhile
	KindDoWhile
	KindFor
	KindSwitch
	KindCase
	KindDefault
	KindReturn
	KindBreak
	KindContinue
	KindGoto
	KindLabel
	KindEmpty
	KindExprStmt

	// Declarations.
	KindVarDecl
	KindFuncDecl
	KindParam
	KindStructDecl
	KindUnionDecl
	KindEnumDecl
	KindTranslationUnit
)

// Flag bits stored in a node's 1-byte `flags` field. Meaning is
// kind-dependent; see each Node constructor for usage.
type Flag uint8

const (
	FlagNone Flag = 0

	// KindMember
	FlagArrow Flag = 1 << 0

	// KindPostIncDec: FlagPostfix marks the postfix form. The operator
	// of a KindUnary/KindPostIncDec node is carried in Data, not in
	// Flags; the parser never sets FlagOpMask.
	FlagOpMask  Flag = 0x0F
	FlagPostfix Flag = 1 << 4

	// KindVarDecl / KindFuncDecl storage class.
	FlagStatic   Flag = 1 << 0
	FlagExtern   Flag = 1 << 1
	FlagTypedef  Flag = 1 << 2

	// KindParam: declarator had no identifier (an abstract declarator,
	// e.g. a prototype parameter given only by type).
	FlagUnnamed Flag = 1 << 3
)

// Op enumerates the operator codes stored in the Data field of
// KindUnary, KindBinary and KindPostIncDec nodes (KindAssign's Data holds
// the assignment's token.Type instead).
type Op uint8

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpLT
	OpGT
	OpLE
	OpGE
	OpEq
	OpNE
	OpLogAnd
	OpLogOr
	OpNot
	OpBitNot
	OpNeg
	OpPos
	OpDeref
	OpAddr
	OpPreInc
	OpPreDec
)

const maxChildren = 16

// Node is the in-memory mirror of the on-disk AST node: an 8-byte prefix
// (Kind, Flags, child count implied by len(Children), Data) plus child
// offsets resolved to indices into a Tree's node slice while building,
// and to absolute byte offsets only at serialization time.
type Node struct {
	Kind     Kind
	Flags    Flag
	Data     uint32 // literal value, string-table offset, or Op code
	Children []int  // indices into the owning Tree.Nodes
}

// Tree is an in-memory AST: a flat node table (indices start at 0 with
// the first node added; offset 0 of the serialized file is the header,
// never a node) plus the shared string table copied forward from the
// token file per spec.md section 3.
type Tree struct {
	Nodes   []Node
	Strings []byte
	Root    int
}

// NewTree creates an empty tree sharing the given string table (as
// produced by internal/token.File, copied forward unchanged).
func NewTree(strings []byte) *Tree {
	return &Tree{Strings: strings}
}

// Add appends n and returns its index, for use as a child reference by
// a subsequently added parent.
func (t *Tree) Add(n Node) (int, error) {
	if len(n.Children) > maxChildren {
		return 0, errs.New(errs.TOOLARGE, "ast node has %d children, max %d", len(n.Children), maxChildren)
	}
	t.Nodes = append(t.Nodes, n)
	return len(t.Nodes) - 1, nil
}

// StringAt decodes the NUL-terminated string at off in the tree's string
// table.
func (t *Tree) StringAt(off uint32) (string, error) {
	if uint64(off) >= uint64(len(t.Strings)) {
		return "", errs.New(errs.CORRUPT, "ast string offset %d out of range", off)
	}
	end := off
	for end < uint32(len(t.Strings)) && t.Strings[end] != 0 {
		end++
	}
	if end >= uint32(len(t.Strings)) {
		return "", errs.New(errs.CORRUPT, "unterminated ast string at offset %d", off)
	}
	return string(t.Strings[off:end]), nil
}

const (
	nodePrefixSize = 8
	fileHeaderSize = 8 // { root_offset: u32, string_table_off: u32 }
)

// WriteTo serializes the tree in the layout spec.md section 3 requires:
// an 8-byte file header (root node offset, string table offset), then
// every node's 8-byte prefix followed inline by child_count absolute
// byte offsets (4 bytes each), then the string table. Nodes are written
// in the order they appear in t.Nodes (construction/post order, per
// spec.md section 4.5), so a child's offset is always known by the time
// its parent is written, since the parser only ever appends a parent
// after its children exist.
func (t *Tree) WriteTo(w io.Writer) error {
	offsets := make([]uint32, len(t.Nodes))
	cursor := uint32(fileHeaderSize)
	for i, n := range t.Nodes {
		offsets[i] = cursor
		cursor += nodePrefixSize + uint32(len(n.Children))*4
	}
	stringTableOff := cursor

	var rootOff uint32
	if len(t.Nodes) > 0 {
		rootOff = offsets[t.Root]
	}

	var hdr [fileHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], rootOff)
	binary.LittleEndian.PutUint32(hdr[4:8], stringTableOff)
	if _, err := w.Write(hdr[:]); err != nil {
		return errs.New(errs.IO, "write ast header: %v", err)
	}

	for _, n := range t.Nodes {
		var prefix [nodePrefixSize]byte
		prefix[0] = byte(n.Kind)
		prefix[1] = byte(n.Flags)
		binary.LittleEndian.PutUint16(prefix[2:4], uint16(len(n.Children)))
		binary.LittleEndian.PutUint32(prefix[4:8], n.Data)
		if _, err := w.Write(prefix[:]); err != nil {
			return errs.New(errs.IO, "write ast node: %v", err)
		}
		for _, c := range n.Children {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], offsets[c])
			if _, err := w.Write(buf[:]); err != nil {
				return errs.New(errs.IO, "write ast child offset: %v", err)
			}
		}
	}

	if _, err := w.Write(t.Strings); err != nil {
		return errs.New(errs.IO, "write ast string table: %v", err)
	}
	return nil
}

// Read parses a complete .ast file image, rebuilding the flat node table
// and translating absolute child byte offsets back into Tree.Nodes
// indices.
func Read(data []byte) (*Tree, error) {
	if len(data) < fileHeaderSize {
		return nil, errs.New(errs.CORRUPT, "ast file shorter than header")
	}
	rootOff := binary.LittleEndian.Uint32(data[0:4])
	stringOff := binary.LittleEndian.Uint32(data[4:8])
	if uint64(stringOff) > uint64(len(data)) {
		return nil, errs.New(errs.CORRUPT, "ast string table offset out of range")
	}

	// First pass: walk the node region by prefix size + child count,
	// recording each node's byte offset so child offsets can be resolved
	// to indices in a second pass.
	offsetToIndex := make(map[uint32]int)
	type rawNode struct {
		kind         Kind
		flags        Flag
		data         uint32
		childOffsets []uint32
	}
	var raws []rawNode

	cursor := uint32(fileHeaderSize)
	for cursor < stringOff {
		if uint64(cursor)+nodePrefixSize > uint64(stringOff) {
			return nil, errs.New(errs.CORRUPT, "ast node prefix truncated at offset %d", cursor)
		}
		prefix := data[cursor : cursor+nodePrefixSize]
		childCount := binary.LittleEndian.Uint16(prefix[2:4])
		need := uint64(cursor) + nodePrefixSize + uint64(childCount)*4
		if need > uint64(stringOff) {
			return nil, errs.New(errs.CORRUPT, "ast node at offset %d overruns string table", cursor)
		}
		offsetToIndex[cursor] = len(raws)
		r := rawNode{
			kind:  Kind(prefix[0]),
			flags: Flag(prefix[1]),
			data:  binary.LittleEndian.Uint32(prefix[4:8]),
		}
		childStart := cursor + nodePrefixSize
		for i := uint16(0); i < childCount; i++ {
			off := childStart + uint32(i)*4
			r.childOffsets = append(r.childOffsets, binary.LittleEndian.Uint32(data[off:off+4]))
		}
		raws = append(raws, r)
		cursor = uint32(need)
	}

	t := &Tree{Strings: data[stringOff:]}
	for _, r := range raws {
		n := Node{Kind: r.kind, Flags: r.flags, Data: r.data}
		for _, co := range r.childOffsets {
			idx, ok := offsetToIndex[co]
			if !ok {
				return nil, errs.New(errs.CORRUPT, "ast child offset %d does not name a node", co)
			}
			n.Children = append(n.Children, idx)
		}
		t.Nodes = append(t.Nodes, n)
	}

	rootIdx, ok := offsetToIndex[rootOff]
	if !ok && len(raws) > 0 {
		return nil, errs.New(errs.CORRUPT, "ast root offset %d does not name a node", rootOff)
	}
	t.Root = rootIdx
	return t, nil
}
