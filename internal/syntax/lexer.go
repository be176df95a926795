package syntax

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent          // bare identifiers, including dotted op names
	tokValue          // %12 or %12#3
	tokSymbol         // @main
	tokNumber         // integer or float literal, optionally negative
	tokPunct          // single punctuation: ( ) [ ] { } , = : <
	tokArrow          // ->
	tokShaped         // tensor<...> or vector<...> consumed whole
)

type token struct {
	kind tokenKind
	text string
	line int
}

type lexer struct {
	src  string
	pos  int
	line int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1}
}

func (l *lexer) errf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s", l.line, fmt.Sprintf(format, args...))
}

// next returns the next token. Shaped types (tensor<...>, vector<...>)
// are consumed as one token so dimension lists never collide with value
// tokenization.
func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line}, nil
	}
	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == '%':
		l.pos++
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '#') {
			l.pos++
		}
		if l.pos == start+1 {
			return token{}, l.errf("malformed value reference")
		}
		return token{kind: tokValue, text: l.src[start:l.pos], line: l.line}, nil
	case c == '@':
		l.pos++
		for l.pos < len(l.src) && isIdentByte(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokSymbol, text: l.src[start+1 : l.pos], line: l.line}, nil
	case c == '-' && strings.HasPrefix(l.src[l.pos:], "->"):
		l.pos += 2
		return token{kind: tokArrow, text: "->", line: l.line}, nil
	case c == '-' || isDigit(c):
		l.pos++
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.' ||
			l.src[l.pos] == 'e' || l.src[l.pos] == 'E' ||
			((l.src[l.pos] == '+' || l.src[l.pos] == '-') && (l.src[l.pos-1] == 'e' || l.src[l.pos-1] == 'E'))) {
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], line: l.line}, nil
	case isIdentStart(c):
		l.pos++
		for l.pos < len(l.src) && (isIdentByte(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		word := l.src[start:l.pos]
		if (word == "tensor" || word == "vector") && l.pos < len(l.src) && l.src[l.pos] == '<' {
			depth := 0
			for l.pos < len(l.src) {
				switch l.src[l.pos] {
				case '<':
					depth++
				case '>':
					depth--
				}
				l.pos++
				if depth == 0 {
					return token{kind: tokShaped, text: l.src[start:l.pos], line: l.line}, nil
				}
			}
			return token{}, l.errf("unterminated shaped type")
		}
		return token{kind: tokIdent, text: word, line: l.line}, nil
	case strings.IndexByte("()[]{},=:<>", c) >= 0:
		l.pos++
		return token{kind: tokPunct, text: string(c), line: l.line}, nil
	default:
		return token{}, l.errf("unexpected character %q", rune(c))
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\n' {
			l.line++
			l.pos++
			continue
		}
		if c == '/' && strings.HasPrefix(l.src[l.pos:], "//") {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		if unicode.IsSpace(rune(c)) {
			l.pos++
			continue
		}
		return
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
