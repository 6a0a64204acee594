package codegen

import (
	"github.com/mimic/mimic/internal/ast"
	"github.com/mimic/mimic/internal/object"
	"github.com/mimic/mimic/internal/thumb"
	"github.com/mimic/mimic/internal/token"
)

// compoundOp maps a compound-assignment token to the arithmetic op it
// performs before storing back, per spec.md section 4.5's operator list.
var compoundOp = map[token.Type]ast.Op{
	token.PLUSEQ: ast.OpAdd, token.MINUSEQ: ast.OpSub, token.STAREQ: ast.OpMul,
	token.SLASHEQ: ast.OpDiv, token.PERCENTEQ: ast.OpMod,
	token.AMPEQ: ast.OpAnd, token.PIPEEQ: ast.OpOr, token.CARETEQ: ast.OpXor,
	token.SHLEQ: ast.OpShl, token.SHREQ: ast.OpShr,
}

// genExpr evaluates the expression at node index n and returns the
// scratch register (r0-r3) holding its value. Callers own freeing it.
func (g *Generator) genExpr(n int) thumb.Reg {
	node := g.tree.Nodes[n]
	switch node.Kind {
	case ast.KindNumber:
		dst := g.allocReg()
		g.loadImmediate(dst, node.Data)
		return dst
	case ast.KindChar:
		dst := g.allocReg()
		g.loadImmediate(dst, node.Data)
		return dst
	case ast.KindString:
		return g.genStringLiteral(node)
	case ast.KindIdent:
		return g.genIdentLoad(node)
	case ast.KindUnary:
		return g.genUnary(node)
	case ast.KindBinary:
		return g.genBinary(node)
	case ast.KindAssign:
		return g.genAssign(node)
	case ast.KindTernary:
		return g.genTernary(node)
	case ast.KindCall:
		return g.genCall(node)
	case ast.KindIndex, ast.KindMember:
		addr := g.genLValueAddr(n)
		enc, err := thumb.LdrImm5(addr, addr, 0)
		if err != nil {
			g.errorf("%v", err)
			return addr
		}
		g.emit16(enc)
		return addr
	case ast.KindPostIncDec:
		return g.genPostIncDec(node)
	case ast.KindSizeof:
		dst := g.allocReg()
		g.loadImmediate(dst, 4) // every value in this subset is a 4-byte word
		return dst
	default:
		g.errorf("codegen: unsupported expression kind %d", node.Kind)
		return g.allocReg()
	}
}

func (g *Generator) genStringLiteral(node ast.Node) thumb.Reg {
	s, err := g.tree.StringAt(node.Data)
	if err != nil {
		g.errorf("%v", err)
		return g.allocReg()
	}
	symIdx := g.internString([]byte(s))
	dst := g.allocReg()
	g.loadAddress(dst, symIdx)
	return dst
}

func (g *Generator) genIdentLoad(node ast.Node) thumb.Reg {
	name, err := g.tree.StringAt(node.Data)
	if err != nil {
		g.errorf("%v", err)
		return g.allocReg()
	}
	if off, ok := g.locals[name]; ok {
		dst := g.allocReg()
		enc, err := thumb.LdrSP(dst, uint8(off/4))
		if err != nil {
			g.errorf("%v", err)
			return dst
		}
		g.emit16(enc)
		return dst
	}
	idx, ok := g.symIndex[name]
	if !ok {
		idx = g.addSymbol(name, 0, object.SectionData, object.SymExtern)
	}
	dst := g.allocReg()
	g.loadAddress(dst, idx)
	enc, err := thumb.LdrImm5(dst, dst, 0)
	if err != nil {
		g.errorf("%v", err)
		return dst
	}
	g.emit16(enc)
	return dst
}

// genLValueAddr evaluates n as an lvalue and returns a register holding
// its address (never its value), for use by assignment, &, and member
// access. Struct/union field access always uses offset 0 (spec.md's
// sanctioned "treat every lvalue as a 4-byte integer" simplification;
// real field-offset computation is a known extension point).
func (g *Generator) genLValueAddr(n int) thumb.Reg {
	node := g.tree.Nodes[n]
	switch node.Kind {
	case ast.KindIdent:
		name, err := g.tree.StringAt(node.Data)
		if err != nil {
			g.errorf("%v", err)
			return g.allocReg()
		}
		if off, ok := g.locals[name]; ok {
			dst := g.allocReg()
			enc, err := thumb.MovRegAny(uint8(dst), 13) // MOV dst, SP
			if err != nil {
				g.errorf("%v", err)
				return dst
			}
			g.emit16(enc)
			g.addOffset(dst, off)
			return dst
		}
		idx, ok := g.symIndex[name]
		if !ok {
			idx = g.addSymbol(name, 0, object.SectionData, object.SymExtern)
		}
		dst := g.allocReg()
		g.loadAddress(dst, idx)
		return dst
	case ast.KindUnary:
		if ast.Op(node.Data) == ast.OpDeref {
			return g.genExpr(node.Children[0])
		}
	case ast.KindIndex:
		base := g.genExpr(node.Children[0])
		idx := g.genExpr(node.Children[1])
		enc, err := thumb.LslImm(idx, idx, 2) // word-indexed: offset = index*4
		if err != nil {
			g.errorf("%v", err)
		} else {
			g.emit16(enc)
		}
		enc, err = thumb.AddReg(base, base, idx)
		if err != nil {
			g.errorf("%v", err)
		} else {
			g.emit16(enc)
		}
		g.freeReg(idx)
		return base
	case ast.KindMember:
		if node.Flags&ast.FlagArrow != 0 {
			return g.genExpr(node.Children[0])
		}
		return g.genLValueAddr(node.Children[0])
	}
	g.errorf("codegen: expression kind %d is not assignable", node.Kind)
	return g.allocReg()
}

// addOffset adds a byte offset (already known to be a multiple of 4 and
// within a function's 508-byte frame limit) to reg in place, using
// whichever of format 2's 3-bit or format 3's 8-bit immediate fits.
func (g *Generator) addOffset(reg thumb.Reg, off uint32) {
	if off == 0 {
		return
	}
	if off <= 7 {
		enc, err := thumb.AddImm3(reg, reg, uint8(off))
		if err != nil {
			g.errorf("%v", err)
			return
		}
		g.emit16(enc)
		return
	}
	enc, err := thumb.AddImm8(reg, uint8(off))
	if err != nil {
		g.errorf("%v", err)
		return
	}
	g.emit16(enc)
}

func (g *Generator) genUnary(node ast.Node) thumb.Reg {
	op := ast.Op(node.Data)
	switch op {
	case ast.OpAddr:
		return g.genLValueAddr(node.Children[0])
	case ast.OpPreInc, ast.OpPreDec:
		addr := g.genLValueAddr(node.Children[0])
		val := g.allocReg()
		enc, err := thumb.LdrImm5(val, addr, 0)
		if err != nil {
			g.errorf("%v", err)
		} else {
			g.emit16(enc)
		}
		var aerr error
		if op == ast.OpPreInc {
			enc, aerr = thumb.AddImm8(val, 1)
		} else {
			enc, aerr = thumb.SubImm8(val, 1)
		}
		if aerr != nil {
			g.errorf("%v", aerr)
		} else {
			g.emit16(enc)
		}
		enc, err = thumb.StrImm5(val, addr, 0)
		if err != nil {
			g.errorf("%v", err)
		} else {
			g.emit16(enc)
		}
		g.freeReg(addr)
		return val
	}

	src := g.genExpr(node.Children[0])
	switch op {
	case ast.OpPos:
		return src
	case ast.OpNeg:
		dst := g.allocReg()
		enc, err := thumb.MovImm8(dst, 0)
		if err != nil {
			g.errorf("%v", err)
		} else {
			g.emit16(enc)
		}
		enc, err = thumb.SubReg(dst, dst, src)
		if err != nil {
			g.errorf("%v", err)
		} else {
			g.emit16(enc)
		}
		g.freeReg(src)
		return dst
	case ast.OpBitNot:
		dst := g.allocReg()
		enc, err := thumb.Mvn(dst, src)
		if err != nil {
			g.errorf("%v", err)
		} else {
			g.emit16(enc)
		}
		g.freeReg(src)
		return dst
	case ast.OpNot:
		enc, err := thumb.CmpImm8(src, 0)
		if err != nil {
			g.errorf("%v", err)
		} else {
			g.emit16(enc)
		}
		g.freeReg(src)
		dst := g.allocReg()
		trueLabel := g.newLabel()
		endLabel := g.newLabel()
		g.emitBranch(trueLabel, false, thumb.CondEQ)
		enc, _ = thumb.MovImm8(dst, 0)
		g.emit16(enc)
		g.emitBranch(endLabel, true, 0)
		g.bindLabel(trueLabel)
		enc, _ = thumb.MovImm8(dst, 1)
		g.emit16(enc)
		g.bindLabel(endLabel)
		return dst
	case ast.OpDeref:
		enc, err := thumb.LdrImm5(src, src, 0)
		if err != nil {
			g.errorf("%v", err)
		} else {
			g.emit16(enc)
		}
		return src
	}
	g.errorf("codegen: unsupported unary op %d", op)
	return src
}

func (g *Generator) genBinary(node ast.Node) thumb.Reg {
	op := ast.Op(node.Data)
	if op == ast.OpLogAnd || op == ast.OpLogOr {
		return g.genLogical(node, op)
	}
	left := g.genExpr(node.Children[0])
	right := g.genExpr(node.Children[1])
	if op == ast.OpDiv || op == ast.OpMod {
		return g.genDivMod(left, right, op == ast.OpMod)
	}
	if isCompare(op) {
		return g.genCompare(left, right, op)
	}
	g.applyArith(left, right, op)
	g.freeReg(right)
	return left
}

func isCompare(op ast.Op) bool {
	switch op {
	case ast.OpEq, ast.OpNE, ast.OpLT, ast.OpGT, ast.OpLE, ast.OpGE:
		return true
	}
	return false
}

// applyArith emits dst := dst OP src for every op the Thumb ALU can do
// directly in one instruction (add/sub/bitwise/shift/multiply).
func (g *Generator) applyArith(dst, src thumb.Reg, op ast.Op) {
	var enc uint16
	var err error
	switch op {
	case ast.OpAdd:
		enc, err = thumb.AddReg(dst, dst, src)
	case ast.OpSub:
		enc, err = thumb.SubReg(dst, dst, src)
	case ast.OpMul:
		enc, err = thumb.Mul(dst, src)
	case ast.OpAnd:
		enc, err = thumb.And(dst, src)
	case ast.OpOr:
		enc, err = thumb.Orr(dst, src)
	case ast.OpXor:
		enc, err = thumb.Eor(dst, src)
	case ast.OpShl:
		enc, err = thumb.LslReg(dst, src)
	case ast.OpShr:
		enc, err = thumb.AsrReg(dst, src)
	default:
		g.errorf("codegen: unsupported binary op %d", op)
		return
	}
	if err != nil {
		g.errorf("%v", err)
		return
	}
	g.emit16(enc)
}

func condFor(op ast.Op) thumb.Cond {
	switch op {
	case ast.OpEq:
		return thumb.CondEQ
	case ast.OpNE:
		return thumb.CondNE
	case ast.OpLT:
		return thumb.CondLT
	case ast.OpGT:
		return thumb.CondGT
	case ast.OpLE:
		return thumb.CondLE
	case ast.OpGE:
		return thumb.CondGE
	}
	return thumb.CondAL
}

func (g *Generator) genCompare(left, right thumb.Reg, op ast.Op) thumb.Reg {
	enc, err := thumb.CmpReg(left, right)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	g.freeReg(right)
	dst := left
	trueLabel := g.newLabel()
	endLabel := g.newLabel()
	g.emitBranch(trueLabel, false, condFor(op))
	enc, _ = thumb.MovImm8(dst, 0)
	g.emit16(enc)
	g.emitBranch(endLabel, true, 0)
	g.bindLabel(trueLabel)
	enc, _ = thumb.MovImm8(dst, 1)
	g.emit16(enc)
	g.bindLabel(endLabel)
	return dst
}

// genLogical implements short-circuit && and ||: the right operand is
// only evaluated if the left doesn't already decide the result.
func (g *Generator) genLogical(node ast.Node, op ast.Op) thumb.Reg {
	left := g.genExpr(node.Children[0])
	enc, err := thumb.CmpImm8(left, 0)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	shortCircuit := g.newLabel()
	rhsLabel := g.newLabel()
	if op == ast.OpLogAnd {
		g.emitBranch(shortCircuit, false, thumb.CondEQ) // left==0 -> result 0
	} else {
		g.emitBranch(shortCircuit, false, thumb.CondNE) // left!=0 -> result 1
	}
	g.emitBranch(rhsLabel, true, 0)
	g.bindLabel(shortCircuit)
	var fixedVal uint32
	if op == ast.OpLogOr {
		fixedVal = 1
	}
	enc, _ = thumb.MovImm8(left, uint8(fixedVal))
	g.emit16(enc)
	endLabel := g.newLabel()
	g.emitBranch(endLabel, true, 0)
	g.bindLabel(rhsLabel)
	right := g.genExpr(node.Children[1])
	enc, err = thumb.CmpImm8(right, 0)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	g.freeReg(right)
	nonzeroLabel := g.newLabel()
	g.emitBranch(nonzeroLabel, false, thumb.CondNE)
	enc, _ = thumb.MovImm8(left, 0)
	g.emit16(enc)
	g.emitBranch(endLabel, true, 0)
	g.bindLabel(nonzeroLabel)
	enc, _ = thumb.MovImm8(left, 1)
	g.emit16(enc)
	g.bindLabel(endLabel)
	return left
}

// genDivMod implements / and % as an unsigned repeated-subtraction loop
// (no Thumb-1 hardware divide exists on this target, and a software
// restoring-division routine is a known extension point this simple
// model trades away for a trivially-correct, easy-to-hand-verify
// sequence instead — acceptable for the small integer magnitudes this
// target's workloads actually divide by).
func (g *Generator) genDivMod(num, den thumb.Reg, mod bool) thumb.Reg {
	quot := g.allocReg()
	enc, _ := thumb.MovImm8(quot, 0)
	g.emit16(enc)

	loop := g.newLabel()
	end := g.newLabel()
	g.bindLabel(loop)
	enc, err := thumb.CmpReg(num, den)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	g.emitBranch(end, false, thumb.CondCC) // unsigned num < den -> done
	enc, err = thumb.SubReg(num, num, den)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	enc, err = thumb.AddImm8(quot, 1)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	g.emitBranch(loop, true, 0)
	g.bindLabel(end)

	g.freeReg(den)
	if mod {
		g.freeReg(quot)
		return num
	}
	g.freeReg(num)
	return quot
}

func (g *Generator) genAssign(node ast.Node) thumb.Reg {
	opType := token.Type(node.Data)
	addr := g.genLValueAddr(node.Children[0])
	if opType == token.ASSIGN {
		val := g.genExpr(node.Children[1])
		enc, err := thumb.StrImm5(val, addr, 0)
		if err != nil {
			g.errorf("%v", err)
		} else {
			g.emit16(enc)
		}
		g.freeReg(addr)
		return val
	}

	op, ok := compoundOp[opType]
	if !ok {
		g.errorf("codegen: unsupported assignment operator %d", opType)
	}
	cur := g.allocReg()
	enc, err := thumb.LdrImm5(cur, addr, 0)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	rhs := g.genExpr(node.Children[1])
	if op == ast.OpDiv || op == ast.OpMod {
		cur = g.genDivMod(cur, rhs, op == ast.OpMod)
	} else {
		g.applyArith(cur, rhs, op)
		g.freeReg(rhs)
	}
	enc, err = thumb.StrImm5(cur, addr, 0)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	g.freeReg(addr)
	return cur
}

func (g *Generator) genTernary(node ast.Node) thumb.Reg {
	cond := g.genExpr(node.Children[0])
	enc, err := thumb.CmpImm8(cond, 0)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	g.freeReg(cond)
	elseLabel := g.newLabel()
	endLabel := g.newLabel()
	g.emitBranch(elseLabel, false, thumb.CondEQ)
	dst := g.genExpr(node.Children[1])
	g.emitBranch(endLabel, true, 0)
	g.bindLabel(elseLabel)
	elseVal := g.genExpr(node.Children[2])
	if elseVal != dst {
		enc, err := thumb.MovRegAny(uint8(dst), uint8(elseVal))
		if err != nil {
			g.errorf("%v", err)
		} else {
			g.emit16(enc)
		}
		g.freeReg(elseVal)
	}
	g.bindLabel(endLabel)
	return dst
}

func (g *Generator) genPostIncDec(node ast.Node) thumb.Reg {
	op := ast.Op(node.Data)
	addr := g.genLValueAddr(node.Children[0])
	old := g.allocReg()
	enc, err := thumb.LdrImm5(old, addr, 0)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	next := g.allocReg()
	enc, err = thumb.MovRegAny(uint8(next), uint8(old))
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	if op == ast.OpPreInc {
		enc, err = thumb.AddImm8(next, 1)
	} else {
		enc, err = thumb.SubImm8(next, 1)
	}
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	enc, err = thumb.StrImm5(next, addr, 0)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	g.freeReg(next)
	g.freeReg(addr)
	return old
}

// placeArgs evaluates each argument and moves its value into the
// matching r0-r3 argument register, reserving that register as it
// goes so a later argument's own scratch use never collides with one
// already placed.
func (g *Generator) placeArgs(args []int) []thumb.Reg {
	if len(args) > 4 {
		g.errorf("call has %d arguments, only 4 fit in argument registers r0-r3", len(args))
		args = args[:4]
	}
	var placed []thumb.Reg
	for i, a := range args {
		r := g.genExpr(a)
		target := thumb.Reg(i)
		if r != target {
			enc, err := thumb.MovRegAny(uint8(target), uint8(r))
			if err != nil {
				g.errorf("%v", err)
			} else {
				g.emit16(enc)
			}
			g.freeReg(r)
		}
		g.regInUse[target] = true
		placed = append(placed, target)
	}
	return placed
}

func (g *Generator) genCall(node ast.Node) thumb.Reg {
	callee := g.tree.Nodes[node.Children[0]]
	args := node.Children[1:]

	if callee.Kind == ast.KindIdent {
		name, err := g.tree.StringAt(callee.Data)
		if err == nil {
			if num, ok := syscallNumbers[name]; ok {
				return g.genSyscall(num, args)
			}
			return g.genDirectCall(name, args)
		}
		g.errorf("%v", err)
	}
	g.errorf("codegen: only direct calls to a named function are supported")
	return g.allocReg()
}

func (g *Generator) genSyscall(num uint8, args []int) thumb.Reg {
	placed := g.placeArgs(args)
	enc, err := thumb.MovImm8(thumb.R7, num)
	if err != nil {
		g.errorf("%v", err)
	} else {
		g.emit16(enc)
	}
	g.emit16(thumb.Svc(0))
	for _, r := range placed {
		g.freeReg(r)
	}
	return g.moveResultToFreshReg()
}

// genDirectCall always emits a BL placeholder plus a THUMB_CALL
// relocation, even for a function defined earlier in this same
// translation unit — spec.md section 4.6 describes every non-syscall
// call this way, so there is no separate "resolve locally" path to get
// wrong.
func (g *Generator) genDirectCall(name string, args []int) thumb.Reg {
	idx, ok := g.symIndex[name]
	if !ok {
		idx = g.addSymbol(name, 0, object.SectionText, object.SymExtern)
	}
	placed := g.placeArgs(args)
	off := g.emit16(0)
	g.emit16(0)
	g.obj.Relocs = append(g.obj.Relocs, object.Reloc{
		Offset: off, Section: object.SectionText, Type: object.RelocThumbCall, SymbolIdx: uint32(idx),
	})
	for _, r := range placed {
		g.freeReg(r)
	}
	return g.moveResultToFreshReg()
}

// moveResultToFreshReg moves r0 (where every call leaves its return
// value, per the AAPCS subset this target follows) into a register the
// allocator considers free, so the caller's bookkeeping stays uniform
// regardless of which registers happened to hold arguments.
func (g *Generator) moveResultToFreshReg() thumb.Reg {
	dst := g.allocReg()
	if dst == thumb.R0 {
		return dst
	}
	enc, err := thumb.MovRegAny(uint8(dst), uint8(thumb.R0))
	if err != nil {
		g.errorf("%v", err)
		return dst
	}
	g.emit16(enc)
	return dst
}
