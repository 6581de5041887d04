package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_SkipsEmptyAndBinary(t *testing.T) {
	e := NewEngine(Options{})
	ctx := context.Background()

	tests := []struct {
		name    string
		content []byte
	}{
		{name: "empty", content: nil},
		{name: "whitespace", content: []byte("\n\n  \t\n")},
		{name: "binary", content: []byte("PK\x03\x04\x00\x00binary")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := e.Chunk(ctx, &FileInput{Path: "main.rs", Content: tt.content})
			require.NoError(t, err)
			assert.Empty(t, chunks)
		})
	}
}

func TestEngine_DetectsLanguageAndUsesStructure(t *testing.T) {
	e := NewEngine(Options{})

	chunks, err := e.Chunk(context.Background(), &FileInput{Path: "src/main.rs", Content: []byte("fn handler() {}\n")})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "rust", chunks[0].Language)
	assert.Equal(t, KindFunction, chunks[0].Kind)
	assert.Equal(t, "handler", chunks[0].Name)
}

func TestEngine_FallsBackToWindows(t *testing.T) {
	e := NewEngine(Options{})

	chunks, err := e.Chunk(context.Background(), &FileInput{Path: "Main.java", Content: []byte("class Main {}\n")})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "java", chunks[0].Language)
	assert.Equal(t, KindWindow, chunks[0].Kind)
}

func TestEngine_StructuralDisabled(t *testing.T) {
	e := NewEngine(Options{DisableStructural: true})

	chunks, err := e.Chunk(context.Background(), &FileInput{Path: "a.go", Content: []byte("package a\n\nfunc A() {}\n")})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, KindWindow, chunks[0].Kind)
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]string{
		"main.go":          "go",
		"src/lib.rs":       "rust",
		"app.PY":           "python",
		"web/index.tsx":    "tsx",
		"web/index.mjs":    "javascript",
		"docs/README.md":   "markdown",
		"build/Dockerfile": "dockerfile",
		"LICENSE":          "",
		"data.bin":         "",
	}
	for in, want := range tests {
		assert.Equal(t, want, DetectLanguage(in), in)
	}
}

func TestIsBinary(t *testing.T) {
	assert.False(t, IsBinary([]byte("plain text")))
	assert.True(t, IsBinary([]byte{'a', 0, 'b'}))

	late := make([]byte, binarySniffLen+10)
	for i := range late {
		late[i] = 'x'
	}
	late[binarySniffLen+5] = 0
	assert.False(t, IsBinary(late), "NUL past the sniff window is ignored")
}
