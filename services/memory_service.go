package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"evolveme/metrics"
	"evolveme/models"
)

// MemoryRetriever ranks a user's past turns against a new query. Every call
// is a linear scan over the owner's embedded user turns; there is no index.
type MemoryRetriever struct {
	store   TurnStore
	metrics *metrics.Metrics
}

func NewMemoryRetriever(store TurnStore, m *metrics.Metrics) *MemoryRetriever {
	return &MemoryRetriever{store: store, metrics: m}
}

type scoredTurn struct {
	turn       models.Conversation
	similarity float64
}

// Retrieve returns at most limit memories for userID, most similar first.
// Equal scores keep storage order. Each memory is paired with the first
// assistant reply that follows it.
func (r *MemoryRetriever) Retrieve(ctx context.Context, query, userID string, limit int) ([]models.RetrievedMemory, error) {
	memories := make([]models.RetrievedMemory, 0)
	if limit <= 0 {
		return memories, nil
	}
	start := time.Now()

	queryVector := Encode(query)

	turns, err := r.store.FindUserTurnsWithEmbedding(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user turns: %w", err)
	}

	candidates := make([]scoredTurn, 0, len(turns))
	for _, turn := range turns {
		if turn.Role != models.RoleUser || turn.Embedding == nil {
			continue
		}
		candidates = append(candidates, scoredTurn{
			turn:       turn,
			similarity: Similarity(queryVector[:], turn.Embedding[:]),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for _, c := range candidates {
		reply, err := r.store.FindNextAssistantTurn(ctx, userID, c.turn.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("find reply to turn %s: %w", c.turn.ID, err)
		}
		memory := models.RetrievedMemory{
			UserMessage: c.turn.Content,
			Similarity:  c.similarity,
			Timestamp:   c.turn.Timestamp,
		}
		if reply != nil {
			content := reply.Content
			memory.AssistantReply = &content
		}
		memories = append(memories, memory)
	}

	r.metrics.ObserveRetrieval(time.Since(start), len(turns))
	return memories, nil
}
