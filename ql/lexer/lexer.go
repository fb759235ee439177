// Package lexer tokenizes the common lexeme set shared by all four
// discret DSLs: identifiers (including dotted namespaces), variables
// ($name), strings, numbers, booleans, null, and the punctuation each
// grammar's parser assembles into its own AST.
package lexer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/discretlib/discret-go/ql/token"
)

// Lexer scans a rune stream into a Token sequence, skipping whitespace
// and line (`//`) / block (`/* */`) comments between tokens.
type Lexer struct {
	src        string
	offset     int
	line, col  int
	rdOffset   int
	ch         rune
}

// New returns a Lexer positioned at the start of src.
func New(src string) *Lexer {
	l := &Lexer{src: src, line: 1, col: 0}
	l.next()
	return l
}

func (l *Lexer) next() {
	if l.rdOffset >= len(l.src) {
		l.ch = -1
		l.offset = l.rdOffset
		return
	}
	r, w := utf8.DecodeRuneInString(l.src[l.rdOffset:])
	l.offset = l.rdOffset
	l.rdOffset += w
	if r == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
	l.ch = r
}

func (l *Lexer) pos() token.Pos {
	return token.Pos{Offset: l.offset, Line: l.line, Col: l.col}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch != -1 && unicode.IsSpace(l.ch) {
			l.next()
		}
		if l.ch == '/' && l.peek() == '/' {
			for l.ch != -1 && l.ch != '\n' {
				l.next()
			}
			continue
		}
		if l.ch == '/' && l.peek() == '*' {
			l.next()
			l.next()
			for l.ch != -1 && !(l.ch == '*' && l.peek() == '/') {
				l.next()
			}
			if l.ch != -1 {
				l.next()
				l.next()
			}
			continue
		}
		break
	}
}

func (l *Lexer) peek() rune {
	if l.rdOffset >= len(l.src) {
		return -1
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.rdOffset:])
	return r
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Next returns the next Token, terminating with an EOF token.
func (l *Lexer) Next() (token.Token, error) {
	l.skipWhitespaceAndComments()
	start := l.pos()

	if l.ch == -1 {
		return token.Token{Kind: token.EOF, Pos: start}, nil
	}

	switch {
	case l.ch == '$':
		l.next()
		if l.ch == '.' {
			// Bare '$' used as the JSON-path root sigil, e.g. ->$.a.b[2];
			// not followed by a variable name.
			return token.Token{Kind: token.Dollar, Lit: "$", Pos: start}, nil
		}
		var sb strings.Builder
		for isIdentPart(l.ch) && l.ch != '.' {
			sb.WriteRune(l.ch)
			l.next()
		}
		if sb.Len() == 0 {
			return token.Token{}, fmt.Errorf("%s: empty variable name", start)
		}
		return token.Token{Kind: token.Variable, Lit: sb.String(), Pos: start}, nil

	case l.ch == '"':
		return l.scanString(start)

	case unicode.IsDigit(l.ch) || (l.ch == '-' && unicode.IsDigit(l.peek())):
		return l.scanNumber(start)

	case isIdentStart(l.ch):
		var sb strings.Builder
		for isIdentPart(l.ch) {
			sb.WriteRune(l.ch)
			l.next()
		}
		lit := sb.String()
		switch lit {
		case "true":
			return token.Token{Kind: token.True, Lit: lit, Pos: start}, nil
		case "false":
			return token.Token{Kind: token.False, Lit: lit, Pos: start}, nil
		case "null":
			return token.Token{Kind: token.Null, Lit: lit, Pos: start}, nil
		default:
			return token.Token{Kind: token.Ident, Lit: lit, Pos: start}, nil
		}

	default:
		return l.scanPunct(start)
	}
}

func (l *Lexer) scanString(start token.Pos) (token.Token, error) {
	l.next() // consume opening quote
	var sb strings.Builder
	for {
		if l.ch == -1 {
			return token.Token{}, fmt.Errorf("%s: unterminated string", start)
		}
		if l.ch == '"' {
			l.next()
			break
		}
		if l.ch == '\\' {
			l.next()
			switch l.ch {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case '"', '\\':
				sb.WriteRune(l.ch)
			default:
				sb.WriteRune(l.ch)
			}
			l.next()
			continue
		}
		sb.WriteRune(l.ch)
		l.next()
	}
	return token.Token{Kind: token.String, Lit: sb.String(), Pos: start}, nil
}

func (l *Lexer) scanNumber(start token.Pos) (token.Token, error) {
	var sb strings.Builder
	if l.ch == '-' {
		sb.WriteRune(l.ch)
		l.next()
	}
	for unicode.IsDigit(l.ch) {
		sb.WriteRune(l.ch)
		l.next()
	}
	if l.ch == '.' && unicode.IsDigit(l.peek()) {
		sb.WriteRune(l.ch)
		l.next()
		for unicode.IsDigit(l.ch) {
			sb.WriteRune(l.ch)
			l.next()
		}
	}
	return token.Token{Kind: token.Number, Lit: sb.String(), Pos: start}, nil
}

func (l *Lexer) scanPunct(start token.Pos) (token.Token, error) {
	ch := l.ch
	l.next()
	mk := func(k token.Kind, lit string) (token.Token, error) {
		return token.Token{Kind: k, Lit: lit, Pos: start}, nil
	}
	switch ch {
	case '{':
		return mk(token.LBrace, "{")
	case '}':
		return mk(token.RBrace, "}")
	case '(':
		return mk(token.LParen, "(")
	case ')':
		return mk(token.RParen, ")")
	case '[':
		return mk(token.LBracket, "[")
	case ']':
		return mk(token.RBracket, "]")
	case ':':
		return mk(token.Colon, ":")
	case ',':
		return mk(token.Comma, ",")
	case '.':
		return mk(token.Dot, ".")
	case '@':
		return mk(token.At, "@")
	case '=':
		return mk(token.Eq, "=")
	case '!':
		if l.ch == '=' {
			l.next()
			return mk(token.Neq, "!=")
		}
		return mk(token.Bang, "!")
	case '<':
		if l.ch == '=' {
			l.next()
			return mk(token.Lte, "<=")
		}
		return mk(token.Lt, "<")
	case '>':
		if l.ch == '=' {
			l.next()
			return mk(token.Gte, ">=")
		}
		return mk(token.Gt, ">")
	case '-':
		if l.ch == '>' {
			l.next()
			return mk(token.Arrow, "->")
		}
	}
	return token.Token{}, fmt.Errorf("%s: unexpected character %q", start, ch)
}
