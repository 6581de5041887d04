package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/sparse"
)

func TestPayloadValuesRoundTrip(t *testing.T) {
	p := Payload{
		FilePath: "src/main.rs", Language: "rust", FileExtension: "rs",
		StartByte: 10, EndByte: 90, StartLine: 2, EndLine: 8,
		ElementType: "function", SymbolName: "main", Commit: "abc", ContentHash: "h", Content: "fn main() {}",
	}

	values := toValues(&p)

	assert.Equal(t, p, fromValues(values))
	list := values[FieldPathPrefixes].GetListValue().GetValues()
	require.Len(t, list, 2)
	assert.Equal(t, "src", list[0].GetStringValue())
}

func TestToFilter(t *testing.T) {
	assert.Nil(t, toFilter(Filter{}))

	f := toFilter(Filter{Language: "go", PathPrefix: "src/", FileExtension: ".GO"})

	require.Len(t, f.GetMust(), 3)
	keys := make(map[string]string)
	for _, c := range f.GetMust() {
		field := c.GetField()
		keys[field.GetKey()] = field.GetMatch().GetKeyword()
	}
	assert.Equal(t, map[string]string{
		FieldLanguage:      "go",
		FieldPathPrefixes:  "src",
		FieldFileExtension: "go",
	}, keys)
}

func TestToPointStruct_OmitsEmptySparse(t *testing.T) {
	withSparse := toPointStruct(&Point{
		ID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", Dense: []float32{1, 0},
		Sparse: sparse.Vector{Indices: []uint32{1}, Values: []float32{2}},
	})
	without := toPointStruct(&Point{ID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", Dense: []float32{1, 0}})

	assert.Len(t, withSparse.GetVectors().GetVectors().GetVectors(), 2)
	assert.Len(t, without.GetVectors().GetVectors().GetVectors(), 1)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", without.GetId().GetUuid())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"unavailable", status.Error(codes.Unavailable, "connection refused"), errors.ErrCodeStoreUnavailable},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), errors.ErrCodeStoreUnavailable},
		{"context deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), errors.ErrCodeStoreUnavailable},
		{"bad request", status.Error(codes.InvalidArgument, "wrong dims"), errors.ErrCodeStoreRequest},
		{"already classified", errors.CollectionMissingOrEmpty("c", false), errors.ErrCodeCollectionMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, errors.GetCode(classify("op", tt.err)))
		})
	}

	assert.True(t, errors.IsRetryable(classify("op", status.Error(codes.Unavailable, "x"))))
	assert.ErrorIs(t, classify("op", context.Canceled), context.Canceled)
}
