// Package tokenizer turns source text into a typed token stream.
//
// The scanner is language-agnostic on purpose: query text has no language,
// and index-time and query-time tokenization must agree byte for byte.
// Only Identifier and Literal tokens contribute to term frequencies.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

// scannerVersion is bumped whenever a scanning rule changes in a way that
// alters the token stream for existing input.
const scannerVersion = 1

// Kind classifies a token.
type Kind int

const (
	Identifier Kind = iota
	Keyword
	Literal
	String
	Symbol
	Comment
	Whitespace
	Unknown
)

func (k Kind) String() string {
	switch k {
	case Identifier:
		return "identifier"
	case Keyword:
		return "keyword"
	case Literal:
		return "literal"
	case String:
		return "string"
	case Symbol:
		return "symbol"
	case Comment:
		return "comment"
	case Whitespace:
		return "whitespace"
	default:
		return "unknown"
	}
}

// IsTerm reports whether tokens of this kind feed term-frequency counting.
func (k Kind) IsTerm() bool {
	return k == Identifier || k == Literal
}

// Token is a single scanned token. Offset is the byte offset in the input.
type Token struct {
	Text   string
	Kind   Kind
	Offset int
}

// Config controls tokenization. The same value must be used when indexing
// and when querying a collection; Fingerprint identifies it.
type Config struct {
	// PreserveCase keeps identifier case. Off by default.
	PreserveCase bool

	// SplitCompound additionally emits the segments of compound identifiers
	// (getUserName, get_user_name -> get, user, name).
	SplitCompound bool

	// IncludeComments emits Comment tokens. Comments never feed term counts.
	IncludeComments bool

	// IncludeWhitespace emits Whitespace and Unknown tokens.
	IncludeWhitespace bool
}

// DefaultConfig returns the configuration used for indexing.
func DefaultConfig() Config {
	return Config{IncludeComments: true}
}

// Fingerprint identifies the settings that change the term stream.
// IncludeComments and IncludeWhitespace are excluded since they never alter terms.
func (c Config) Fingerprint() string {
	return fmt.Sprintf("v%d;preserve_case=%t;split_compound=%t", scannerVersion, c.PreserveCase, c.SplitCompound)
}

// Tokenizer scans text into tokens. It is stateless and safe for concurrent use.
type Tokenizer struct {
	cfg Config
}

// New creates a tokenizer with the given configuration.
func New(cfg Config) *Tokenizer {
	return &Tokenizer{cfg: cfg}
}

// Config returns the tokenizer configuration.
func (t *Tokenizer) Config() Config {
	return t.cfg
}

// Tokenize scans text. Invalid UTF-8 yields a tokenization error.
func (t *Tokenizer) Tokenize(text string) ([]Token, error) {
	if !utf8.ValidString(text) {
		return nil, errors.TokenizationError("", fmt.Errorf("input is not valid UTF-8"))
	}

	s := scanner{src: text}
	var tokens []Token
	for !s.done() {
		start := s.pos
		kind := s.next()
		raw := text[start:s.pos]

		switch kind {
		case Whitespace, Unknown:
			if t.cfg.IncludeWhitespace {
				tokens = append(tokens, Token{Text: raw, Kind: kind, Offset: start})
			}
		case Comment:
			if t.cfg.IncludeComments {
				tokens = append(tokens, Token{Text: raw, Kind: Comment, Offset: start})
			}
		case Identifier:
			tokens = t.appendIdentifier(tokens, raw, start)
		default:
			tokens = append(tokens, Token{Text: raw, Kind: kind, Offset: start})
		}
	}
	return tokens, nil
}

func (t *Tokenizer) appendIdentifier(tokens []Token, raw string, offset int) []Token {
	lower := strings.ToLower(raw)
	if IsKeyword(lower) {
		return append(tokens, Token{Text: lower, Kind: Keyword, Offset: offset})
	}

	text := lower
	if t.cfg.PreserveCase {
		text = raw
	}
	tokens = append(tokens, Token{Text: text, Kind: Identifier, Offset: offset})

	if !t.cfg.SplitCompound {
		return tokens
	}
	parts := SplitIdentifier(raw)
	if len(parts) < 2 {
		return tokens
	}
	for _, p := range parts {
		if !t.cfg.PreserveCase {
			p = strings.ToLower(p)
		}
		tokens = append(tokens, Token{Text: p, Kind: Identifier, Offset: offset})
	}
	return tokens
}

// Terms returns the texts of Identifier and Literal tokens in order.
func (t *Tokenizer) Terms(text string) ([]string, error) {
	tokens, err := t.Tokenize(text)
	if err != nil {
		return nil, err
	}
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Kind.IsTerm() {
			terms = append(terms, tok.Text)
		}
	}
	return terms, nil
}

// SplitIdentifier splits snake_case, kebab-case and camelCase identifiers into
// their segments, keeping acronyms together:
//
//	"getUserById"      -> ["get", "User", "By", "Id"]
//	"parseHTTPRequest" -> ["parse", "HTTP", "Request"]
//	"max_chunk-size"   -> ["max", "chunk", "size"]
func SplitIdentifier(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	}) {
		out = append(out, splitCamel(part)...)
	}
	return out
}

func splitCamel(s string) []string {
	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevLower || nextLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}
