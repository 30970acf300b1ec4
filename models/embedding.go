package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// EmbeddingDim is the length of every stored and computed embedding.
const EmbeddingDim = 384

// Embedding is the fixed-length fingerprint of a user turn.
type Embedding [EmbeddingDim]float64

var (
	// ErrInvalidEmbedding marks stored embeddings that cannot be used for scoring.
	ErrInvalidEmbedding = errors.New("invalid embedding")
	ErrEmbeddingLength  = errors.New("embedding has unexpected length")
)

// NewEmbedding copies values into an Embedding. It fails unless len(values) == EmbeddingDim.
func NewEmbedding(values []float64) (Embedding, error) {
	var e Embedding
	if len(values) != EmbeddingDim {
		return e, fmt.Errorf("%w: %w: got %d, want %d", ErrInvalidEmbedding, ErrEmbeddingLength, len(values), EmbeddingDim)
	}
	copy(e[:], values)
	return e, nil
}

// Slice returns the components as a new slice.
func (e Embedding) Slice() []float64 {
	out := make([]float64, EmbeddingDim)
	copy(out, e[:])
	return out
}

// EncodeEmbedding serializes e into the JSON array text kept in text columns and DynamoDB string attributes.
func EncodeEmbedding(e Embedding) (string, error) {
	b, err := json.Marshal(e[:])
	if err != nil {
		return "", fmt.Errorf("marshal embedding: %w", err)
	}
	return string(b), nil
}

// DecodeEmbedding parses the output of EncodeEmbedding and validates its length.
func DecodeEmbedding(s string) (Embedding, error) {
	var values []float64
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return Embedding{}, fmt.Errorf("%w: %w", ErrInvalidEmbedding, err)
	}
	return NewEmbedding(values)
}

// Float64Array converts e for a Postgres float8[] column.
func (e Embedding) Float64Array() pq.Float64Array {
	return pq.Float64Array(e.Slice())
}

// EmbeddingFromFloat64Array validates and converts a scanned float8[] value.
func EmbeddingFromFloat64Array(a pq.Float64Array) (Embedding, error) {
	return NewEmbedding([]float64(a))
}
