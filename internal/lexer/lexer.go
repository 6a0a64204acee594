// Package lexer implements compiler pass 1 (spec.md section 4.4): it reads
// source bytes through a buffered stream and produces a token.File (token
// records plus a string table). It is grounded on the teacher compiler's
// lexer.go — same whitespace/comment skipping and number/string/identifier
// scanning shape — generalized from the teacher's own expression language
// to the C token set spec.md section 4.4 names, including the
// not-implemented preprocessor token pass-through.
package lexer

import (
	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/stream"
	"github.com/mimic/mimic/internal/token"
)

// keywords lists every reserved word the C subset (spec.md section 4.5)
// recognizes. Every entry lexes to token.KEYWORD; the keyword text
// itself is still interned into the string table, the same as an
// identifier, so internal/parser can recover which keyword it was by
// comparing the interned text (token.Type alone cannot distinguish
// "if" from "while" — both are KEYWORD).
var keywords = map[string]bool{
	"static": true, "extern": true, "auto": true, "register": true, "typedef": true,
	"void": true, "char": true, "short": true, "int": true, "long": true,
	"float": true, "double": true, "signed": true, "unsigned": true,
	"const": true, "volatile": true,
	"struct": true, "union": true, "enum": true,
	"if": true, "else": true, "while": true, "do": true, "for": true,
	"switch": true, "case": true, "default": true,
	"return": true, "break": true, "continue": true, "goto": true,
	"sizeof": true,
}

// Lexer scans one source stream into a token.File.
type Lexer struct {
	r    *stream.Reader
	out  *token.File
	line int
	col  int

	ErrorCount int
	Diagnostics []string
}

// New creates a Lexer reading from r.
func New(r *stream.Reader) *Lexer {
	return &Lexer{r: r, out: token.NewFile(), line: 1, col: 1}
}

func (l *Lexer) errorf(format string, args ...interface{}) {
	l.ErrorCount++
	l.Diagnostics = append(l.Diagnostics, errs.New(errs.INVAL, format, args...).Error())
}

func (l *Lexer) getc() (int, error) {
	c, err := l.r.Getc()
	if err != nil {
		return -1, err
	}
	if c == '\n' {
		l.line++
		l.col = 1
	} else if c >= 0 {
		l.col++
	}
	return c, nil
}

func (l *Lexer) peek() (int, error) {
	c, err := l.getc()
	if err != nil || c == -1 {
		return c, err
	}
	l.r.Ungetc()
	if c == '\n' {
		l.line--
	} else {
		l.col--
	}
	return c, nil
}

// Lex scans the whole stream and returns the assembled token.File.
func (l *Lexer) Lex() (*token.File, error) {
	for {
		c, err := l.getc()
		if err != nil {
			return nil, err
		}
		if c == -1 {
			l.emit(token.EOF, token.FlagNone, 0)
			break
		}
		if err := l.scanOne(byte(c)); err != nil {
			return nil, err
		}
	}
	return l.out, nil
}

func (l *Lexer) emit(t token.Type, flags token.Flag, value uint32) {
	l.out.Add(token.Token{Type: t, Flags: flags, Value: value, Line: l.line, Col: l.col})
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool  { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isAlnum(c byte) bool  { return isAlpha(c) || isDigit(c) }
func isHexDig(c byte) bool { return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') }

func (l *Lexer) scanOne(c byte) error {
	switch {
	case c == ' ' || c == '\t' || c == '\r' || c == '\n':
		return nil
	case c == '/' :
		return l.scanSlashOrComment()
	case c == '#':
		return l.scanPreprocessor()
	case isDigit(c):
		return l.scanNumber(c)
	case c == '\'':
		return l.scanChar()
	case c == '"':
		return l.scanString()
	case isAlpha(c):
		return l.scanIdentOrKeyword(c)
	default:
		return l.scanOperator(c)
	}
}

func (l *Lexer) scanSlashOrComment() error {
	n, err := l.peek()
	if err != nil {
		return err
	}
	if n == '/' {
		l.getc()
		for {
			c, err := l.getc()
			if err != nil {
				return err
			}
			if c == -1 || c == '\n' {
				return nil
			}
		}
	}
	if n == '*' {
		l.getc()
		prev := byte(0)
		for {
			c, err := l.getc()
			if err != nil {
				return err
			}
			if c == -1 {
				l.errorf("unterminated block comment")
				return nil
			}
			if prev == '*' && c == '/' {
				return nil
			}
			prev = byte(c)
		}
	}
	if n == '=' {
		l.getc()
		l.emit(token.SLASHEQ, token.FlagNone, 0)
		return nil
	}
	l.emit(token.SLASH, token.FlagNone, 0)
	return nil
}

func (l *Lexer) scanPreprocessor() error {
	directive := l.scanWord()
	switch directive {
	case "include":
		l.skipSpaces()
		name, isSystem, err := l.scanIncludeTarget()
		if err != nil {
			return err
		}
		off, err := l.out.InternString(name)
		if err != nil {
			return err
		}
		flags := token.FlagNone
		if isSystem {
			flags = token.FlagSystemHdr
		}
		l.emit(token.PP_INCLUDE, flags, off)
	case "define":
		l.emit(token.PP_DEFINE, token.FlagNone, 0)
	case "ifdef":
		l.emit(token.PP_IFDEF, token.FlagNone, 0)
	case "ifndef":
		l.emit(token.PP_IFNDEF, token.FlagNone, 0)
	case "else":
		l.emit(token.PP_ELSE, token.FlagNone, 0)
	case "endif":
		l.emit(token.PP_ENDIF, token.FlagNone, 0)
	case "pragma":
		l.emit(token.PP_PRAGMA, token.FlagNone, 0)
	default:
		l.errorf("unknown preprocessor directive #%s", directive)
	}
	return l.skipToEndOfLine()
}

func (l *Lexer) scanWord() string {
	var buf []byte
	for {
		c, err := l.peek()
		if err != nil || c == -1 || !isAlnum(byte(c)) {
			break
		}
		l.getc()
		buf = append(buf, byte(c))
	}
	return string(buf)
}

func (l *Lexer) skipSpaces() {
	for {
		c, err := l.peek()
		if err != nil || c != ' ' && c != '\t' {
			return
		}
		l.getc()
	}
}

func (l *Lexer) skipToEndOfLine() error {
	for {
		c, err := l.getc()
		if err != nil || c == -1 || c == '\n' {
			return err
		}
	}
}

func (l *Lexer) scanIncludeTarget() (string, bool, error) {
	c, err := l.getc()
	if err != nil {
		return "", false, err
	}
	var closer byte
	isSystem := false
	switch c {
	case '<':
		closer = '>'
		isSystem = true
	case '"':
		closer = '"'
	default:
		l.errorf("malformed #include target")
		return "", false, nil
	}
	var buf []byte
	for {
		c, err := l.getc()
		if err != nil {
			return "", false, err
		}
		if c == -1 || byte(c) == closer {
			break
		}
		buf = append(buf, byte(c))
	}
	return string(buf), isSystem, nil
}

func (l *Lexer) scanNumber(first byte) error {
	var digits []byte
	digits = append(digits, first)

	base := 10
	if first == '0' {
		n, err := l.peek()
		if err != nil {
			return err
		}
		if n == 'x' || n == 'X' {
			l.getc()
			base = 16
			digits = digits[:0]
			for {
				c, err := l.peek()
				if err != nil {
					return err
				}
				if c == -1 || !isHexDig(byte(c)) {
					break
				}
				l.getc()
				digits = append(digits, byte(c))
			}
		} else if isDigit(byte(n)) {
			base = 8
			for {
				c, err := l.peek()
				if err != nil {
					return err
				}
				if c == -1 || !isDigit(byte(c)) {
					break
				}
				l.getc()
				digits = append(digits, byte(c))
			}
		}
	} else {
		for {
			c, err := l.peek()
			if err != nil {
				return err
			}
			if c == -1 || !isDigit(byte(c)) {
				break
			}
			l.getc()
			digits = append(digits, byte(c))
		}
	}

	var flags token.Flag
	if base == 16 {
		flags |= token.FlagHex
	} else if base == 8 {
		flags |= token.FlagOctal
	}
	for {
		c, err := l.peek()
		if err != nil {
			return err
		}
		switch c {
		case 'u', 'U':
			flags |= token.FlagUnsigned
			l.getc()
			continue
		case 'l', 'L':
			flags |= token.FlagLong
			l.getc()
			continue
		}
		break
	}

	value, err := parseInt(digits, base)
	if err != nil {
		l.errorf("malformed numeric literal: %v", err)
		return nil
	}
	l.emit(token.NUMBER, flags, value)
	return nil
}

func parseInt(digits []byte, base int) (uint32, error) {
	var v uint64
	for _, d := range digits {
		var dv uint64
		switch {
		case d >= '0' && d <= '9':
			dv = uint64(d - '0')
		case d >= 'a' && d <= 'f':
			dv = uint64(d-'a') + 10
		case d >= 'A' && d <= 'F':
			dv = uint64(d-'A') + 10
		default:
			return 0, errs.New(errs.INVAL, "bad digit %q", d)
		}
		if int(dv) >= base {
			return 0, errs.New(errs.INVAL, "digit %q invalid in base %d", d, base)
		}
		v = v*uint64(base) + dv
	}
	return uint32(v), nil
}

func (l *Lexer) scanEscape() (byte, error) {
	c, err := l.getc()
	if err != nil {
		return 0, err
	}
	switch c {
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case '0':
		return 0, nil
	case '\\':
		return '\\', nil
	case '\'':
		return '\'', nil
	case '"':
		return '"', nil
	default:
		return byte(c), nil // anything else after \ is taken literally
	}
}

func (l *Lexer) scanChar() error {
	c, err := l.getc()
	if err != nil {
		return err
	}
	if c == -1 {
		l.errorf("unterminated character literal")
		return nil
	}
	var value byte
	if c == '\\' {
		value, err = l.scanEscape()
		if err != nil {
			return err
		}
	} else {
		value = byte(c)
	}
	closing, err := l.getc()
	if err != nil {
		return err
	}
	if closing != '\'' {
		l.errorf("unterminated character literal")
	}
	l.emit(token.CHAR, token.FlagNone, uint32(value))
	return nil
}

func (l *Lexer) scanString() error {
	var buf []byte
	for {
		c, err := l.getc()
		if err != nil {
			return err
		}
		if c == -1 {
			l.errorf("unterminated string literal")
			break
		}
		if c == '"' {
			break
		}
		if c == '\\' {
			e, err := l.scanEscape()
			if err != nil {
				return err
			}
			buf = append(buf, e)
			continue
		}
		buf = append(buf, byte(c))
	}
	off, err := l.out.InternString(string(buf))
	if err != nil {
		return err
	}
	l.emit(token.STRING, token.FlagNone, off)
	return nil
}

func (l *Lexer) scanIdentOrKeyword(first byte) error {
	buf := []byte{first}
	for {
		c, err := l.peek()
		if err != nil {
			return err
		}
		if c == -1 || !isAlnum(byte(c)) {
			break
		}
		l.getc()
		buf = append(buf, byte(c))
	}
	word := string(buf)
	off, err := l.out.InternString(word)
	if err != nil {
		return err
	}
	if keywords[word] {
		l.emit(token.KEYWORD, token.FlagNone, off)
		return nil
	}
	l.emit(token.IDENT, token.FlagNone, off)
	return nil
}

// twoCharOps maps a first-byte/second-byte pair to the resulting token
// type for every multi-character operator spec.md section 4.4 lists,
// excluding the three-character ones (handled separately below).
var twoCharOps = map[[2]byte]token.Type{
	{'+', '+'}: token.INC,
	{'-', '-'}: token.DEC,
	{'<', '<'}: token.SHL,
	{'>', '>'}: token.SHR,
	{'<', '='}: token.LE,
	{'>', '='}: token.GE,
	{'=', '='}: token.EQ,
	{'!', '='}: token.NE,
	{'&', '&'}: token.ANDAND,
	{'|', '|'}: token.OROR,
	{'+', '='}: token.PLUSEQ,
	{'-', '='}: token.MINUSEQ,
	{'*', '='}: token.STAREQ,
	{'/', '='}: token.SLASHEQ,
	{'%', '='}: token.PERCENTEQ,
	{'&', '='}: token.AMPEQ,
	{'|', '='}: token.PIPEEQ,
	{'^', '='}: token.CARETEQ,
	{'-', '>'}: token.ARROW,
}

var singleCharOps = map[byte]token.Type{
	'+': token.PLUS, '-': token.MINUS, '*': token.STAR, '%': token.PERCENT,
	'&': token.AMP, '|': token.PIPE, '^': token.CARET, '~': token.TILDE,
	'!': token.BANG, '=': token.ASSIGN, '<': token.LT, '>': token.GT,
	'(': token.LPAREN, ')': token.RPAREN, '{': token.LBRACE, '}': token.RBRACE,
	'[': token.LBRACKET, ']': token.RBRACKET, ';': token.SEMI, ',': token.COMMA,
	'.': token.DOT, '?': token.QUESTION, ':': token.COLON,
}

func (l *Lexer) scanOperator(first byte) error {
	if first == '.' {
		n1, err := l.peek()
		if err != nil {
			return err
		}
		if n1 == '.' {
			l.getc()
			n2, err := l.peek()
			if err != nil {
				return err
			}
			if n2 == '.' {
				l.getc()
				l.emit(token.ELLIPSIS, token.FlagNone, 0)
				return nil
			}
			l.r.Ungetc()
		}
	}

	n, err := l.peek()
	if err == nil && n != -1 {
		if tt, ok := twoCharOps[[2]byte{first, byte(n)}]; ok {
			l.getc()
			// <<= and >>= are three characters; check for the trailing '='.
			if (first == '<' && n == '<') || (first == '>' && n == '>') {
				n2, err2 := l.peek()
				if err2 == nil && n2 == '=' {
					l.getc()
					if first == '<' {
						l.emit(token.SHLEQ, token.FlagNone, 0)
					} else {
						l.emit(token.SHREQ, token.FlagNone, 0)
					}
					return nil
				}
			}
			l.emit(tt, token.FlagNone, 0)
			return nil
		}
	}

	tt, ok := singleCharOps[first]
	if !ok {
		l.errorf("unexpected character %q", first)
		return nil
	}
	l.emit(tt, token.FlagNone, 0)
	return nil
}
