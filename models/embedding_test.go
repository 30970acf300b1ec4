package models

import (
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEmbedding() Embedding {
	var e Embedding
	for i := range e {
		e[i] = float64(i) / 1000
	}
	return e
}

func TestEmbeddingTextCodec(t *testing.T) {
	e := sampleEmbedding()
	encoded, err := EncodeEmbedding(e)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "[0,0.001,0.002"))

	decoded, err := DecodeEmbedding(encoded)
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

func TestDecodeEmbeddingValidates(t *testing.T) {
	_, err := DecodeEmbedding("[0.1,0.2]")
	assert.ErrorIs(t, err, ErrInvalidEmbedding)
	assert.ErrorIs(t, err, ErrEmbeddingLength)

	_, err = DecodeEmbedding("{")
	assert.ErrorIs(t, err, ErrInvalidEmbedding)
	assert.NotErrorIs(t, err, ErrEmbeddingLength)

	_, err = DecodeEmbedding("null")
	assert.ErrorIs(t, err, ErrEmbeddingLength)
}

func TestEmbeddingFloat64Array(t *testing.T) {
	e := sampleEmbedding()
	arr := e.Float64Array()
	require.Len(t, arr, EmbeddingDim)

	back, err := EmbeddingFromFloat64Array(arr)
	require.NoError(t, err)
	assert.Equal(t, e, back)

	_, err = EmbeddingFromFloat64Array(pq.Float64Array{1, 2, 3})
	assert.ErrorIs(t, err, ErrEmbeddingLength)
}

func TestEmbeddingSliceIsACopy(t *testing.T) {
	e := sampleEmbedding()
	s := e.Slice()
	s[0] = 42
	assert.Zero(t, e[0])
}
