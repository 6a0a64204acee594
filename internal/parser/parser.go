// Package parser implements compiler pass 2 (spec.md section 4.5): a
// recursive-descent parser over the token stream with an
// operator-precedence (Pratt) expression sub-parser, producing a
// serialized AST. Grounded on the teacher's cparser.go for its
// peek/advance/match token-cursor shape, generalized from the teacher's
// header-constant scanner into a full expression/statement/declaration
// grammar per spec.md section 4.5.
package parser

import (
	"github.com/mimic/mimic/internal/ast"
	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/token"
)

// defaultMaxErrors is the error count spec.md section 4.5 says the
// parser must abort after (>= 10).
const defaultMaxErrors = 10

// Parser walks a token.File's token slice and builds an ast.Tree.
type Parser struct {
	toks []token.Token
	strs *token.File
	pos  int

	tree *ast.Tree

	MaxErrors   int
	ErrorCount  int
	Diagnostics []string
}

// New creates a Parser over tf's tokens, sharing its string table
// forward into the resulting AST per spec.md section 3.
func New(tf *token.File) *Parser {
	return &Parser{
		toks:      tf.Tokens(),
		strs:      tf,
		tree:      ast.NewTree(tf.Strings()),
		MaxErrors: defaultMaxErrors,
	}
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	p.ErrorCount++
	p.Diagnostics = append(p.Diagnostics, errs.New(errs.INVAL, format, args...).Error())
	if p.ErrorCount >= p.MaxErrors {
		return errs.New(errs.INVAL, "parser aborted after %d errors", p.ErrorCount)
	}
	return nil
}

func (p *Parser) cur() token.Token {
	if p.pos >= len(p.toks) {
		return token.Token{Type: token.EOF}
	}
	return p.toks[p.pos]
}

func (p *Parser) at(tt token.Type) bool { return p.cur().Type == tt }

func (p *Parser) atKeyword(kw string) bool {
	if !p.at(token.KEYWORD) {
		return false
	}
	s, err := p.strs.StringAt(p.cur().Value)
	return err == nil && s == kw
}

func (p *Parser) advance() token.Token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *Parser) expect(tt token.Type) (token.Token, error) {
	if !p.at(tt) {
		return token.Token{}, errs.New(errs.INVAL, "expected token type %d, got %d", tt, p.cur().Type)
	}
	return p.advance(), nil
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return errs.New(errs.INVAL, "expected keyword %q", kw)
	}
	p.advance()
	return nil
}

// resync skips tokens until the next ';' or '}' or EOF, per spec.md
// section 4.5's error-recovery contract.
func (p *Parser) resync() {
	for !p.at(token.EOF) && !p.at(token.SEMI) && !p.at(token.RBRACE) {
		p.advance()
	}
	if p.at(token.SEMI) {
		p.advance()
	}
}

func (p *Parser) add(n ast.Node) (int, error) {
	idx, err := p.tree.Add(n)
	if err != nil {
		return 0, p.errorf("%v", err)
	}
	return idx, nil
}

// Parse runs the full translation-unit grammar and returns the
// assembled tree. It does not stop at the first error (best-effort,
// spec.md section 4.5) except once MaxErrors is reached.
func (p *Parser) Parse() (*ast.Tree, error) {
	var decls []int
	for !p.at(token.EOF) {
		idx, err := p.parseExternalDeclaration()
		if err != nil {
			return nil, err
		}
		if idx >= 0 {
			decls = append(decls, idx)
		}
		if p.ErrorCount >= p.MaxErrors {
			return nil, errs.New(errs.INVAL, "parser aborted after %d errors", p.ErrorCount)
		}
	}
	root, err := p.add(ast.Node{Kind: ast.KindTranslationUnit, Children: decls})
	if err != nil {
		return nil, err
	}
	p.tree.Root = root
	return p.tree, nil
}

// --- Declarations ---

// typeSpec is the result of scanning storage-class and type-specifier
// keywords plus pointer stars ahead of a declarator.
type typeSpec struct {
	flags   ast.Flag
	ptrs    int
}

func (p *Parser) parseTypeSpecifiers() (typeSpec, error) {
	var ts typeSpec
	for {
		switch {
		case p.atKeyword("static"):
			ts.flags |= ast.FlagStatic
			p.advance()
		case p.atKeyword("extern"):
			ts.flags |= ast.FlagExtern
			p.advance()
		case p.atKeyword("typedef"):
			ts.flags |= ast.FlagTypedef
			p.advance()
		case p.atKeyword("auto"), p.atKeyword("register"),
			p.atKeyword("const"), p.atKeyword("volatile"):
			p.advance()
		case p.atKeyword("void"), p.atKeyword("char"), p.atKeyword("short"),
			p.atKeyword("int"), p.atKeyword("long"), p.atKeyword("float"),
			p.atKeyword("double"), p.atKeyword("signed"), p.atKeyword("unsigned"):
			p.advance()
		case p.atKeyword("struct"), p.atKeyword("union"), p.atKeyword("enum"):
			p.advance()
			if p.at(token.IDENT) {
				p.advance()
			}
			if p.at(token.LBRACE) {
				if err := p.skipBalanced(token.LBRACE, token.RBRACE); err != nil {
					return ts, err
				}
			}
			return ts, nil
		default:
			for p.at(token.STAR) {
				ts.ptrs++
				p.advance()
			}
			return ts, nil
		}
	}
}

func (p *Parser) skipBalanced(open, close token.Type) error {
	depth := 0
	for {
		if p.at(token.EOF) {
			return errs.New(errs.INVAL, "unexpected EOF inside balanced group")
		}
		if p.at(open) {
			depth++
		} else if p.at(close) {
			depth--
			p.advance()
			if depth == 0 {
				return nil
			}
			continue
		}
		p.advance()
	}
}

// parseExternalDeclaration parses one top-level declaration or function
// definition, per spec.md section 4.5's declaration grammar.
func (p *Parser) parseExternalDeclaration() (int, error) {
	ts, err := p.parseTypeSpecifiers()
	if err != nil {
		p.resync()
		return -1, nil
	}
	// Re-scan pointer stars that parseTypeSpecifiers already consumed is
	// handled inside it; now expect a declarator name.
	if !p.at(token.IDENT) {
		if err := p.errorf("expected declarator name, got token type %d", p.cur().Type); err != nil {
			return -1, err
		}
		p.resync()
		return -1, nil
	}
	nameTok := p.advance()

	if p.at(token.LPAREN) {
		return p.parseFunctionRest(nameTok, ts.flags)
	}

	// Variable declaration, optionally with an initializer.
	var init int = -1
	if p.at(token.ASSIGN) {
		p.advance()
		idx, err := p.parseAssignExpr()
		if err != nil {
			if err := p.errorf("%v", err); err != nil {
				return -1, err
			}
			p.resync()
			return -1, nil
		}
		init = idx
	}
	if _, err := p.expect(token.SEMI); err != nil {
		if err := p.errorf("%v", err); err != nil {
			return -1, err
		}
		p.resync()
		return -1, nil
	}
	children := []int{}
	if init >= 0 {
		children = append(children, init)
	}
	return p.add(ast.Node{Kind: ast.KindVarDecl, Flags: ts.flags, Data: nameTok.Value, Children: children})
}

func (p *Parser) parseFunctionRest(nameTok token.Token, flags ast.Flag) (int, error) {
	params, err := p.parseParamList()
	if err != nil {
		if err := p.errorf("%v", err); err != nil {
			return -1, err
		}
		p.resync()
		return -1, nil
	}
	if p.at(token.SEMI) {
		p.advance()
		return p.add(ast.Node{Kind: ast.KindFuncDecl, Flags: flags, Data: nameTok.Value, Children: params})
	}
	body, err := p.parseCompoundStatement()
	if err != nil {
		return -1, err
	}
	children := append(params, body)
	return p.add(ast.Node{Kind: ast.KindFuncDecl, Flags: flags, Data: nameTok.Value, Children: children})
}

func (p *Parser) parseParamList() ([]int, error) {
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	var params []int
	for !p.at(token.RPAREN) {
		if p.at(token.ELLIPSIS) {
			p.advance()
			break
		}
		if _, err := p.parseTypeSpecifiers(); err != nil {
			return nil, err
		}
		var nameOff uint32
		flags := ast.FlagUnnamed
		if p.at(token.IDENT) {
			nameOff = p.advance().Value
			flags = ast.FlagNone
		}
		idx, err := p.add(ast.Node{Kind: ast.KindParam, Flags: flags, Data: nameOff})
		if err != nil {
			return nil, err
		}
		params = append(params, idx)
		if p.at(token.COMMA) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return params, nil
}

// --- Statements ---

func (p *Parser) parseStatement() (int, error) {
	switch {
	case p.at(token.LBRACE):
		return p.parseCompoundStatement()
	case p.atKeyword("if"):
		return p.parseIf()
	case p.atKeyword("while"):
		return p.parseWhile()
	case p.atKeyword("do"):
		return p.parseDoWhile()
	case p.atKeyword("for"):
		return p.parseFor()
	case p.atKeyword("switch"):
		return p.parseSwitch()
	case p.atKeyword("case"):
		return p.parseCase()
	case p.atKeyword("default"):
		return p.parseDefault()
	case p.atKeyword("return"):
		return p.parseReturn()
	case p.atKeyword("break"):
		p.advance()
		if _, err := p.expect(token.SEMI); err != nil {
			return -1, err
		}
		return p.add(ast.Node{Kind: ast.KindBreak})
	case p.atKeyword("continue"):
		p.advance()
		if _, err := p.expect(token.SEMI); err != nil {
			return -1, err
		}
		return p.add(ast.Node{Kind: ast.KindContinue})
	case p.atKeyword("goto"):
		p.advance()
		nameTok, err := p.expect(token.IDENT)
		if err != nil {
			return -1, err
		}
		if _, err := p.expect(token.SEMI); err != nil {
			return -1, err
		}
		return p.add(ast.Node{Kind: ast.KindGoto, Data: nameTok.Value})
	case p.at(token.SEMI):
		p.advance()
		return p.add(ast.Node{Kind: ast.KindEmpty})
	case p.isDeclarationStart():
		return p.parseLocalDeclaration()
	case p.at(token.IDENT) && p.peekIsColon():
		nameTok := p.advance()
		p.advance() // ':'
		return p.add(ast.Node{Kind: ast.KindLabel, Data: nameTok.Value})
	default:
		return p.parseExprStatement()
	}
}

func (p *Parser) peekIsColon() bool {
	if p.pos+1 >= len(p.toks) {
		return false
	}
	return p.toks[p.pos+1].Type == token.COLON
}

func (p *Parser) isDeclarationStart() bool {
	if !p.at(token.KEYWORD) {
		return false
	}
	s, err := p.strs.StringAt(p.cur().Value)
	if err != nil {
		return false
	}
	switch s {
	case "static", "extern", "auto", "register", "typedef",
		"void", "char", "short", "int", "long", "float", "double",
		"signed", "unsigned", "const", "volatile", "struct", "union", "enum":
		return true
	}
	return false
}

func (p *Parser) parseLocalDeclaration() (int, error) {
	ts, err := p.parseTypeSpecifiers()
	if err != nil {
		return -1, err
	}
	nameTok, err := p.expect(token.IDENT)
	if err != nil {
		return -1, err
	}
	var children []int
	if p.at(token.ASSIGN) {
		p.advance()
		idx, err := p.parseAssignExpr()
		if err != nil {
			return -1, err
		}
		children = append(children, idx)
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return -1, err
	}
	return p.add(ast.Node{Kind: ast.KindVarDecl, Flags: ts.flags, Data: nameTok.Value, Children: children})
}

func (p *Parser) parseCompoundStatement() (int, error) {
	if _, err := p.expect(token.LBRACE); err != nil {
		return -1, err
	}
	var stmts []int
	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		idx, err := p.parseStatement()
		if err != nil {
			if err := p.errorf("%v", err); err != nil {
				return -1, err
			}
			p.resync()
			continue
		}
		if idx >= 0 {
			stmts = append(stmts, idx)
		}
	}
	if _, err := p.expect(token.RBRACE); err != nil {
		return -1, err
	}
	return p.add(ast.Node{Kind: ast.KindBlock, Children: stmts})
}

func (p *Parser) parseIf() (int, error) {
	p.advance()
	if _, err := p.expect(token.LPAREN); err != nil {
		return -1, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return -1, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return -1, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return -1, err
	}
	children := []int{cond, then}
	if p.atKeyword("else") {
		p.advance()
		elseStmt, err := p.parseStatement()
		if err != nil {
			return -1, err
		}
		children = append(children, elseStmt)
	}
	return p.add(ast.Node{Kind: ast.KindIf, Children: children})
}

func (p *Parser) parseWhile() (int, error) {
	p.advance()
	if _, err := p.expect(token.LPAREN); err != nil {
		return -1, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return -1, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return -1, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return -1, err
	}
	return p.add(ast.Node{Kind: ast.KindWhile, Children: []int{cond, body}})
}

func (p *Parser) parseDoWhile() (int, error) {
	p.advance()
	body, err := p.parseStatement()
	if err != nil {
		return -1, err
	}
	if err := p.expectKeyword("while"); err != nil {
		return -1, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return -1, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return -1, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return -1, err
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return -1, err
	}
	return p.add(ast.Node{Kind: ast.KindDoWhile, Children: []int{body, cond}})
}

// parseFor always produces exactly 4 children [init, cond, update, body],
// filling any absent clause with a KindEmpty placeholder so codegen can
// index clauses positionally instead of guessing which ones were omitted.
func (p *Parser) parseFor() (int, error) {
	p.advance()
	if _, err := p.expect(token.LPAREN); err != nil {
		return -1, err
	}

	var init int
	var err error
	if p.at(token.SEMI) {
		p.advance()
		init, err = p.add(ast.Node{Kind: ast.KindEmpty})
	} else if p.isDeclarationStart() {
		init, err = p.parseLocalDeclaration()
	} else {
		init, err = p.parseExpr()
		if err == nil {
			_, err = p.expect(token.SEMI)
		}
	}
	if err != nil {
		return -1, err
	}

	var cond int
	if p.at(token.SEMI) {
		cond, err = p.add(ast.Node{Kind: ast.KindEmpty})
	} else {
		cond, err = p.parseExpr()
	}
	if err != nil {
		return -1, err
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return -1, err
	}

	var update int
	if p.at(token.RPAREN) {
		update, err = p.add(ast.Node{Kind: ast.KindEmpty})
	} else {
		update, err = p.parseExpr()
	}
	if err != nil {
		return -1, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return -1, err
	}

	body, err := p.parseStatement()
	if err != nil {
		return -1, err
	}
	return p.add(ast.Node{Kind: ast.KindFor, Children: []int{init, cond, update, body}})
}

func (p *Parser) parseSwitch() (int, error) {
	p.advance()
	if _, err := p.expect(token.LPAREN); err != nil {
		return -1, err
	}
	tag, err := p.parseExpr()
	if err != nil {
		return -1, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return -1, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return -1, err
	}
	return p.add(ast.Node{Kind: ast.KindSwitch, Children: []int{tag, body}})
}

func (p *Parser) parseCase() (int, error) {
	p.advance()
	val, err := p.parseExpr()
	if err != nil {
		return -1, err
	}
	if _, err := p.expect(token.COLON); err != nil {
		return -1, err
	}
	return p.add(ast.Node{Kind: ast.KindCase, Children: []int{val}})
}

func (p *Parser) parseDefault() (int, error) {
	p.advance()
	if _, err := p.expect(token.COLON); err != nil {
		return -1, err
	}
	return p.add(ast.Node{Kind: ast.KindDefault})
}

func (p *Parser) parseReturn() (int, error) {
	p.advance()
	var children []int
	if !p.at(token.SEMI) {
		idx, err := p.parseExpr()
		if err != nil {
			return -1, err
		}
		children = append(children, idx)
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return -1, err
	}
	return p.add(ast.Node{Kind: ast.KindReturn, Children: children})
}

func (p *Parser) parseExprStatement() (int, error) {
	idx, err := p.parseExpr()
	if err != nil {
		return -1, err
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return -1, err
	}
	return p.add(ast.Node{Kind: ast.KindExprStmt, Children: []int{idx}})
}
