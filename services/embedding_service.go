package services

import (
	"crypto/md5"
	"crypto/sha1"
	"math"
	"strings"
	"unicode/utf8"

	"evolveme/models"
)

// referenceChars are the characters whose relative frequency becomes a feature.
const referenceChars = "abcdefghijklmnopqrstuvwxyz0123456789 .,!?"

const maxByteFeatures = 50

// Encode turns text into a unit-length fingerprint of models.EmbeddingDim
// features built from hashes, character statistics and raw UTF-8 bytes.
// Vectors already persisted depend on every step below, including the padding.
func Encode(text string) models.Embedding {
	text = strings.TrimSpace(strings.ToLower(text))
	raw := []byte(text)
	charLen := utf8.RuneCountInString(text)

	features := make([]float64, 0, models.EmbeddingDim)

	md5Sum := md5.Sum(raw)
	for _, b := range md5Sum {
		features = append(features, float64(b)/255)
	}
	sha1Sum := sha1.Sum(raw)
	for _, b := range sha1Sum {
		features = append(features, float64(b)/255)
	}

	features = append(features, math.Min(float64(charLen)/1000, 1))

	counts := make(map[rune]int, charLen)
	for _, r := range text {
		counts[r]++
	}
	denom := float64(max(charLen, 1))
	for _, r := range referenceChars {
		features = append(features, math.Min(float64(counts[r])/denom, 1))
	}

	features = append(features, math.Min(float64(len(strings.Fields(text)))/100, 1))

	for i := 0; i < len(raw) && i < maxByteFeatures; i++ {
		features = append(features, float64(raw[i])/255)
	}

	for len(features) < models.EmbeddingDim {
		if len(features) > 0 {
			features = append(features, math.Mod(features[len(features)%len(features)]+0.1, 1.0))
		} else {
			features = append(features, 0.5)
		}
	}

	var e models.Embedding
	copy(e[:], features[:models.EmbeddingDim])

	norm := l2Norm(e[:])
	if norm > 0 {
		for i := range e {
			e[i] /= norm
		}
	}
	return e
}

// Similarity is the cosine similarity of a and b clamped to [0, 1].
// Zero vectors and vectors of different length score 0.
func Similarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	normA, normB := l2Norm(a), l2Norm(b)
	if normA == 0 || normB == 0 {
		return 0
	}
	s := dot / (normA * normB)
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

func l2Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
