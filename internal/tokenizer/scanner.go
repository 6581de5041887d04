package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// multiSymbols are matched before single-character symbols.
var multiSymbols = []string{"::", "->", "=>", "==", ">=", "<=", "!=", "&&", "||"}

const singleSymbols = "(){}[]<>=+-*/%&|^!~,;:.?@#$\\"

// scanner walks the input one token at a time. Rules are tried in a fixed
// order: comment, string, char literal, lifetime, identifier, number, symbol,
// whitespace, unknown.
type scanner struct {
	src string
	pos int
}

func (s *scanner) done() bool {
	return s.pos >= len(s.src)
}

func (s *scanner) rest() string {
	return s.src[s.pos:]
}

func (s *scanner) peek(offset int) byte {
	if s.pos+offset >= len(s.src) {
		return 0
	}
	return s.src[s.pos+offset]
}

// next consumes one token and returns its kind.
func (s *scanner) next() Kind {
	if s.comment() {
		return Comment
	}
	if s.str() {
		return String
	}
	if k, ok := s.quote(); ok {
		return k
	}

	r, size := utf8.DecodeRuneInString(s.rest())
	switch {
	case isIdentStart(r):
		s.pos += size
		s.identTail()
		return Identifier
	case r >= '0' && r <= '9':
		s.number()
		return Literal
	}

	if s.symbol() {
		return Symbol
	}

	if unicode.IsSpace(r) {
		for !s.done() {
			r, size := utf8.DecodeRuneInString(s.rest())
			if !unicode.IsSpace(r) {
				break
			}
			s.pos += size
		}
		return Whitespace
	}

	s.pos += size
	return Unknown
}

func (s *scanner) comment() bool {
	rest := s.rest()
	switch {
	case strings.HasPrefix(rest, "//"):
		s.toLineEnd()
		return true
	case strings.HasPrefix(rest, "/*"):
		end := strings.Index(rest[2:], "*/")
		if end < 0 {
			s.pos = len(s.src)
		} else {
			s.pos += end + 4
		}
		return true
	case rest[0] == '#':
		// "# text", "#!shebang" and a trailing "#" are comments;
		// "#[derive]" and "#include" are not.
		c := s.peek(1)
		if c == 0 || c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '!' || c == '#' {
			s.toLineEnd()
			return true
		}
	}
	return false
}

func (s *scanner) toLineEnd() {
	idx := strings.IndexByte(s.rest(), '\n')
	if idx < 0 {
		s.pos = len(s.src)
		return
	}
	s.pos += idx
}

// str consumes a double-quoted, triple-quoted or back-quoted string.
// An unterminated string runs to end of line (or input for raw strings).
func (s *scanner) str() bool {
	rest := s.rest()
	switch {
	case strings.HasPrefix(rest, `"""`):
		end := strings.Index(rest[3:], `"""`)
		if end < 0 {
			s.pos = len(s.src)
		} else {
			s.pos += end + 6
		}
		return true
	case rest[0] == '`':
		end := strings.IndexByte(rest[1:], '`')
		if end < 0 {
			s.pos = len(s.src)
		} else {
			s.pos += end + 2
		}
		return true
	case rest[0] == '"':
		s.pos++
		for !s.done() {
			switch s.src[s.pos] {
			case '\\':
				s.pos += 2
				if s.pos > len(s.src) {
					s.pos = len(s.src)
				}
				continue
			case '"':
				s.pos++
				return true
			case '\n':
				return true
			}
			s.pos++
		}
		return true
	}
	return false
}

// quote handles the single quote: char literals ('a', '\n'), lifetimes ('a)
// and single-quoted strings ('abc').
func (s *scanner) quote() (Kind, bool) {
	rest := s.rest()
	if rest[0] != '\'' || len(rest) < 2 {
		return 0, false
	}

	// Char literal: one rune or one escape, then a closing quote.
	if rest[1] == '\\' {
		if len(rest) < 4 {
			return 0, false
		}
		if end := strings.IndexByte(rest[3:], '\''); end >= 0 && end <= 10 && !strings.ContainsRune(rest[3:3+end], '\n') {
			s.pos += end + 4
			return Literal, true
		}
	} else {
		_, size := utf8.DecodeRuneInString(rest[1:])
		if len(rest) > 1+size && rest[1+size] == '\'' && rest[1] != '\n' {
			s.pos += size + 2
			return Literal, true
		}
	}

	// Lifetime in an unambiguous position: &'a, <'a, 'a>, 'outer:
	end, isIdent := s.lifetimeEnd()
	if isIdent {
		var prev, next byte
		if s.pos > 0 {
			prev = s.src[s.pos-1]
		}
		if end < len(s.src) {
			next = s.src[end]
		}
		if strings.IndexByte("&<,+", prev) >= 0 || next == 0 || strings.IndexByte(">,:;)+=", next) >= 0 {
			s.pos = end
			return Identifier, true
		}
	}

	// Single-quoted string on one line.
	line := rest[1:]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '\'':
			s.pos += i + 2
			return String, true
		}
	}

	if isIdent {
		s.pos = end
		return Identifier, true
	}
	return 0, false
}

// lifetimeEnd returns the end of a quote-prefixed identifier at the current
// position, and false when the quote is not followed by one or the
// identifier is closed by another quote.
func (s *scanner) lifetimeEnd() (int, bool) {
	r, size := utf8.DecodeRuneInString(s.rest()[1:])
	if !isIdentStart(r) {
		return 0, false
	}
	save := s.pos
	s.pos += 1 + size
	s.identTail()
	end := s.pos
	s.pos = save
	if end < len(s.src) && s.src[end] == '\'' {
		return 0, false
	}
	return end, true
}

func (s *scanner) identTail() {
	for !s.done() {
		r, size := utf8.DecodeRuneInString(s.rest())
		if !isIdentPart(r) {
			return
		}
		s.pos += size
	}
}

// number consumes integer, hex, binary, octal, float and exponent forms
// plus a trailing type suffix (u32, f64, L, n).
func (s *scanner) number() {
	if s.peek(0) == '0' {
		switch s.peek(1) {
		case 'x', 'X', 'b', 'B', 'o', 'O':
			s.pos += 2
			s.digits(isHexDigit)
			s.suffix()
			return
		}
	}

	s.digits(isDecDigit)
	if s.peek(0) == '.' && isDecDigit(s.peek(1)) {
		s.pos++
		s.digits(isDecDigit)
	}
	if c := s.peek(0); c == 'e' || c == 'E' {
		next := s.peek(1)
		if isDecDigit(next) || ((next == '+' || next == '-') && isDecDigit(s.peek(2))) {
			s.pos += 2
			s.digits(isDecDigit)
		}
	}
	s.suffix()
}

func (s *scanner) digits(ok func(byte) bool) {
	for !s.done() && (ok(s.src[s.pos]) || s.src[s.pos] == '_') {
		s.pos++
	}
}

func (s *scanner) suffix() {
	for !s.done() {
		c := s.src[s.pos]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || isDecDigit(c)) {
			return
		}
		s.pos++
	}
}

func (s *scanner) symbol() bool {
	rest := s.rest()
	for _, m := range multiSymbols {
		if strings.HasPrefix(rest, m) {
			s.pos += len(m)
			return true
		}
	}
	if strings.IndexByte(singleSymbols, rest[0]) >= 0 {
		s.pos++
		return true
	}
	return false
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isDecDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDecDigit(c) || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
