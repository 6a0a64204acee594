package parser

import (
	"github.com/mimic/mimic/internal/ast"
	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/token"
)

// parseExpr parses the comma operator, the lowest-precedence level in
// spec.md section 4.5's list.
func (p *Parser) parseExpr() (int, error) {
	left, err := p.parseAssignExpr()
	if err != nil {
		return -1, err
	}
	for p.at(token.COMMA) {
		p.advance()
		right, err := p.parseAssignExpr()
		if err != nil {
			return -1, err
		}
		left, err = p.add(ast.Node{Kind: ast.KindBinary, Data: uint32(ast.OpAdd), Children: []int{left, right}})
		if err != nil {
			return -1, err
		}
	}
	return left, nil
}

var assignOps = map[token.Type]bool{
	token.ASSIGN: true, token.PLUSEQ: true, token.MINUSEQ: true, token.STAREQ: true,
	token.SLASHEQ: true, token.PERCENTEQ: true, token.AMPEQ: true, token.PIPEEQ: true,
	token.CARETEQ: true, token.SHLEQ: true, token.SHREQ: true,
}

// parseAssignExpr implements right-associative assignment, per
// spec.md section 4.5.
func (p *Parser) parseAssignExpr() (int, error) {
	left, err := p.parseTernary()
	if err != nil {
		return -1, err
	}
	if assignOps[p.cur().Type] {
		opTok := p.advance()
		right, err := p.parseAssignExpr()
		if err != nil {
			return -1, err
		}
		return p.add(ast.Node{Kind: ast.KindAssign, Data: uint32(opTok.Type), Children: []int{left, right}})
	}
	return left, nil
}

// parseTernary implements right-associative `?:`.
func (p *Parser) parseTernary() (int, error) {
	cond, err := p.parseBinary(0)
	if err != nil {
		return -1, err
	}
	if !p.at(token.QUESTION) {
		return cond, nil
	}
	p.advance()
	then, err := p.parseAssignExpr()
	if err != nil {
		return -1, err
	}
	if _, err := p.expect(token.COLON); err != nil {
		return -1, err
	}
	els, err := p.parseAssignExpr()
	if err != nil {
		return -1, err
	}
	return p.add(ast.Node{Kind: ast.KindTernary, Children: []int{cond, then, els}})
}

// precedence levels for binary operators, lowest to highest, per
// spec.md section 4.5: logical-or < logical-and < bitwise-or <
// bitwise-xor < bitwise-and < equality < relational < shift <
// additive < multiplicative.
var binPrec = map[token.Type]int{
	token.OROR:     1,
	token.ANDAND:   2,
	token.PIPE:     3,
	token.CARET:    4,
	token.AMP:      5,
	token.EQ:       6,
	token.NE:       6,
	token.LT:       7,
	token.GT:       7,
	token.LE:       7,
	token.GE:       7,
	token.SHL:      8,
	token.SHR:      8,
	token.PLUS:     9,
	token.MINUS:    9,
	token.STAR:     10,
	token.SLASH:    10,
	token.PERCENT:  10,
}

var binOp = map[token.Type]ast.Op{
	token.OROR: ast.OpLogOr, token.ANDAND: ast.OpLogAnd,
	token.PIPE: ast.OpOr, token.CARET: ast.OpXor, token.AMP: ast.OpAnd,
	token.EQ: ast.OpEq, token.NE: ast.OpNE,
	token.LT: ast.OpLT, token.GT: ast.OpGT, token.LE: ast.OpLE, token.GE: ast.OpGE,
	token.SHL: ast.OpShl, token.SHR: ast.OpShr,
	token.PLUS: ast.OpAdd, token.MINUS: ast.OpSub,
	token.STAR: ast.OpMul, token.SLASH: ast.OpDiv, token.PERCENT: ast.OpMod,
}

// parseBinary is a precedence-climbing parser (equivalent to the
// Pratt scheme spec.md section 4.5 asks for) over every left-associative
// binary level below ternary.
func (p *Parser) parseBinary(minPrec int) (int, error) {
	left, err := p.parseUnary()
	if err != nil {
		return -1, err
	}
	for {
		prec, ok := binPrec[p.cur().Type]
		if !ok || prec < minPrec {
			return left, nil
		}
		opTok := p.advance()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return -1, err
		}
		left, err = p.add(ast.Node{Kind: ast.KindBinary, Data: uint32(binOp[opTok.Type]), Children: []int{left, right}})
		if err != nil {
			return -1, err
		}
	}
}

var unaryOp = map[token.Type]ast.Op{
	token.PLUS: ast.OpPos, token.MINUS: ast.OpNeg, token.BANG: ast.OpNot,
	token.TILDE: ast.OpBitNot, token.STAR: ast.OpDeref, token.AMP: ast.OpAddr,
	token.INC: ast.OpPreInc, token.DEC: ast.OpPreDec,
}

// parseUnary implements the prefix operators `+ - ! ~ * & ++ --` and
// `sizeof`, per spec.md section 4.5.
func (p *Parser) parseUnary() (int, error) {
	if op, ok := unaryOp[p.cur().Type]; ok {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return -1, err
		}
		return p.add(ast.Node{Kind: ast.KindUnary, Data: uint32(op), Children: []int{operand}})
	}
	if p.atKeyword("sizeof") {
		p.advance()
		if p.at(token.LPAREN) {
			p.advance()
			operand, err := p.parseExpr()
			if err != nil {
				return -1, err
			}
			if _, err := p.expect(token.RPAREN); err != nil {
				return -1, err
			}
			return p.add(ast.Node{Kind: ast.KindSizeof, Children: []int{operand}})
		}
		operand, err := p.parseUnary()
		if err != nil {
			return -1, err
		}
		return p.add(ast.Node{Kind: ast.KindSizeof, Children: []int{operand}})
	}
	return p.parsePostfix()
}

// parsePostfix implements `() [] . -> ++ --`, per spec.md section 4.5.
func (p *Parser) parsePostfix() (int, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return -1, err
	}
	for {
		switch {
		case p.at(token.LPAREN):
			p.advance()
			var args []int
			for !p.at(token.RPAREN) {
				arg, err := p.parseAssignExpr()
				if err != nil {
					return -1, err
				}
				args = append(args, arg)
				if p.at(token.COMMA) {
					p.advance()
					continue
				}
				break
			}
			if _, err := p.expect(token.RPAREN); err != nil {
				return -1, err
			}
			children := append([]int{expr}, args...)
			expr, err = p.add(ast.Node{Kind: ast.KindCall, Children: children})
			if err != nil {
				return -1, err
			}
		case p.at(token.LBRACKET):
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return -1, err
			}
			if _, err := p.expect(token.RBRACKET); err != nil {
				return -1, err
			}
			expr, err = p.add(ast.Node{Kind: ast.KindIndex, Children: []int{expr, idx}})
			if err != nil {
				return -1, err
			}
		case p.at(token.DOT), p.at(token.ARROW):
			arrow := p.at(token.ARROW)
			p.advance()
			fieldTok, err := p.expect(token.IDENT)
			if err != nil {
				return -1, err
			}
			flags := ast.FlagNone
			if arrow {
				flags = ast.FlagArrow
			}
			expr, err = p.add(ast.Node{Kind: ast.KindMember, Flags: flags, Data: fieldTok.Value, Children: []int{expr}})
			if err != nil {
				return -1, err
			}
		case p.at(token.INC), p.at(token.DEC):
			isInc := p.at(token.INC)
			p.advance()
			op := ast.OpPreDec
			if isInc {
				op = ast.OpPreInc
			}
			expr, err = p.add(ast.Node{Kind: ast.KindPostIncDec, Flags: ast.FlagPostfix, Data: uint32(op), Children: []int{expr}})
			if err != nil {
				return -1, err
			}
		default:
			return expr, nil
		}
	}
}

// parsePrimary implements number/string/character/identifier/parenthesized
// expressions, per spec.md section 4.5.
func (p *Parser) parsePrimary() (int, error) {
	switch {
	case p.at(token.NUMBER):
		t := p.advance()
		return p.add(ast.Node{Kind: ast.KindNumber, Flags: ast.Flag(t.Flags), Data: t.Value})
	case p.at(token.STRING):
		t := p.advance()
		return p.add(ast.Node{Kind: ast.KindString, Data: t.Value})
	case p.at(token.CHAR):
		t := p.advance()
		return p.add(ast.Node{Kind: ast.KindChar, Data: t.Value})
	case p.at(token.IDENT):
		t := p.advance()
		return p.add(ast.Node{Kind: ast.KindIdent, Data: t.Value})
	case p.at(token.LPAREN):
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return -1, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return -1, err
		}
		return inner, nil
	default:
		return -1, errs.New(errs.INVAL, "unexpected token type %d in expression", p.cur().Type)
	}
}
