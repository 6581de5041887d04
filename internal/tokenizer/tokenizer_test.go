package tokenizer

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

func kinds(tokens []Token) []Kind {
	out := make([]Kind, len(tokens))
	for i, t := range tokens {
		out[i] = t.Kind
	}
	return out
}

func texts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

func TestTokenize_RustFunction(t *testing.T) {
	// Given: a small rust function
	tok := New(DefaultConfig())

	// When: tokenizing
	tokens, err := tok.Tokenize(`fn handler(req: Request) -> u32 { 42 }`)
	require.NoError(t, err)

	// Then: keywords, identifiers, symbols and literals are typed
	assert.Equal(t,
		[]string{"fn", "handler", "(", "req", ":", "request", ")", "->", "u32", "{", "42", "}"},
		texts(tokens))
	assert.Equal(t,
		[]Kind{Keyword, Identifier, Symbol, Identifier, Symbol, Identifier, Symbol, Symbol, Identifier, Symbol, Literal, Symbol},
		kinds(tokens))
}

func TestTokenize_Comments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "line comment", input: "x // note\ny", want: []string{"x", "// note", "y"}},
		{name: "block comment", input: "a /* b\nc */ d", want: []string{"a", "/* b\nc */", "d"}},
		{name: "unterminated block", input: "a /* b", want: []string{"a", "/* b"}},
		{name: "hash comment", input: "x = 1 # trailing", want: []string{"x", "=", "1", "# trailing"}},
		{name: "shebang", input: "#!/bin/sh\nrun", want: []string{"#!/bin/sh", "run"}},
		{name: "rust attribute", input: "#[derive(Debug)]", want: []string{"#", "[", "derive", "(", "debug", ")", "]"}},
		{name: "c include", input: "#include <stdio.h>", want: []string{"#", "include", "<", "stdio", ".", "h", ">"}},
	}

	tok := New(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := tok.Tokenize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, texts(tokens))
		})
	}
}

func TestTokenize_CommentsExcludedWhenDisabled(t *testing.T) {
	tok := New(Config{})

	tokens, err := tok.Tokenize("a // hidden")
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, texts(tokens))
}

func TestTokenize_StringsAndChars(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Token
	}{
		{name: "double quoted with escape", input: `"a \"b\" c"`, want: []Token{{Text: `"a \"b\" c"`, Kind: String}}},
		{name: "raw string", input: "`x\ny`", want: []Token{{Text: "`x\ny`", Kind: String}}},
		{name: "triple quoted", input: `"""doc "here" """`, want: []Token{{Text: `"""doc "here" """`, Kind: String}}},
		{name: "char literal", input: `'a'`, want: []Token{{Text: `'a'`, Kind: Literal}}},
		{name: "escaped char", input: `'\n'`, want: []Token{{Text: `'\n'`, Kind: Literal}}},
		{name: "escaped quote char", input: `'\''`, want: []Token{{Text: `'\''`, Kind: Literal}}},
		{name: "lifetime", input: `'a`, want: []Token{{Text: `'a`, Kind: Identifier}}},
		{name: "single quoted string", input: `'hello world'`, want: []Token{{Text: `'hello world'`, Kind: String}}},
	}

	tok := New(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := tok.Tokenize(tt.input)
			require.NoError(t, err)
			require.Len(t, tokens, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].Text, tokens[i].Text)
				assert.Equal(t, tt.want[i].Kind, tokens[i].Kind)
			}
		})
	}
}

func TestTokenize_Numbers(t *testing.T) {
	tests := []string{"42", "3.14", "0xFF", "0b1010", "0o17", "1_000_000", "1e10", "2.5e-3", "10u32", "1.0f64"}

	tok := New(DefaultConfig())
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			tokens, err := tok.Tokenize(in)
			require.NoError(t, err)
			require.Len(t, tokens, 1)
			assert.Equal(t, in, tokens[0].Text)
			assert.Equal(t, Literal, tokens[0].Kind)
		})
	}
}

func TestTokenize_MultiCharSymbolsFirst(t *testing.T) {
	tok := New(DefaultConfig())

	tokens, err := tok.Tokenize("a::b != c && d || e => f")
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"a", "::", "b", "!=", "c", "&&", "d", "||", "e", "=>", "f"},
		texts(tokens))
}

func TestTokenize_CaseNormalization(t *testing.T) {
	// Given: mixed-case identifiers and keywords
	input := "Self HttpHandler None"

	// When: default config
	lower, err := New(DefaultConfig()).Tokenize(input)
	require.NoError(t, err)

	// Then: everything is lowercased and Self/None are keywords
	assert.Equal(t, []string{"self", "httphandler", "none"}, texts(lower))
	assert.Equal(t, []Kind{Keyword, Identifier, Keyword}, kinds(lower))

	// When: PreserveCase
	kept, err := New(Config{PreserveCase: true}).Tokenize(input)
	require.NoError(t, err)

	// Then: identifiers keep case, keywords are still normalized
	assert.Equal(t, []string{"self", "HttpHandler", "none"}, texts(kept))
}

func TestTokenize_SplitCompound(t *testing.T) {
	tok := New(Config{SplitCompound: true})

	terms, err := tok.Terms("getUserName max_size x")
	require.NoError(t, err)

	assert.Equal(t, []string{"getusername", "get", "user", "name", "max_size", "max", "size", "x"}, terms)
}

func TestTokenize_InvalidUTF8(t *testing.T) {
	_, err := New(DefaultConfig()).Tokenize("ok \xff\xfe")

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTokenizationFailed))
}

func TestTokenize_WhitespaceOptIn(t *testing.T) {
	tokens, err := New(Config{IncludeWhitespace: true}).Tokenize("a  b")
	require.NoError(t, err)

	assert.Equal(t, []Kind{Identifier, Whitespace, Identifier}, kinds(tokens))
}

func TestTokenize_OffsetsPointIntoInput(t *testing.T) {
	input := "let total = count + 1;"
	tokens, err := New(DefaultConfig()).Tokenize(input)
	require.NoError(t, err)

	for _, tok := range tokens {
		assert.True(t, strings.EqualFold(input[tok.Offset:tok.Offset+len(tok.Text)], tok.Text), tok.Text)
	}
}

func TestTerms_OnlyIdentifiersAndLiterals(t *testing.T) {
	tok := New(DefaultConfig())

	terms, err := tok.Terms(`fn foo() { let s = "bar"; foo(1); } // baz`)
	require.NoError(t, err)

	assert.Equal(t, []string{"foo", "s", "foo", "1"}, terms)
}

func TestTerms_Deterministic(t *testing.T) {
	// Given: generated code-like inputs
	alphabet := []string{"foo", "Bar", "_x1", "42", "0x1F", "::", "->", "(", ")", "{", "}", " ", "\n",
		"// c\n", "/* b */", `"s\"q"`, "'c'", "'a", "#", "# h\n", "ünï", "3.5e2", "a_b", "getX", "'q w'", "`r`"}
	rng := rand.New(rand.NewSource(7))

	a := New(DefaultConfig())
	b := New(DefaultConfig())
	for i := 0; i < 500; i++ {
		var sb strings.Builder
		n := rng.Intn(40)
		for j := 0; j < n; j++ {
			sb.WriteString(alphabet[rng.Intn(len(alphabet))])
		}
		input := sb.String()

		// When: two tokenizers with equal config scan the same input
		ta, errA := a.Terms(input)
		tb, errB := b.Terms(input)

		// Then: the term streams are identical
		require.NoError(t, errA)
		require.NoError(t, errB)
		require.Equal(t, ta, tb, "input %q", input)
	}
}

func TestConfig_Fingerprint(t *testing.T) {
	base := DefaultConfig()

	assert.Equal(t, base.Fingerprint(), Config{}.Fingerprint(), "comment inclusion does not change terms")
	assert.NotEqual(t, base.Fingerprint(), Config{PreserveCase: true}.Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), Config{SplitCompound: true}.Fingerprint())
}

func TestSplitIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"getUserById", []string{"get", "User", "By", "Id"}},
		{"parseHTTPRequest", []string{"parse", "HTTP", "Request"}},
		{"HTTPHandler", []string{"HTTP", "Handler"}},
		{"max_chunk-size", []string{"max", "chunk", "size"}},
		{"code_chunker.test", []string{"code", "chunker", "test"}},
		{"simple", []string{"simple"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitIdentifier(tt.in))
		})
	}
}
