package services

import (
	"context"
	"fmt"
	"log"

	"evolveme/metrics"
)

// BatchProcessor recomputes embeddings for user turns that have none, or
// whose stored embedding no longer decodes to models.EmbeddingDim values.
type BatchProcessor struct {
	store   EmbeddingBackfiller
	metrics *metrics.Metrics
}

func NewBatchProcessor(store EmbeddingBackfiller, m *metrics.Metrics) *BatchProcessor {
	return &BatchProcessor{store: store, metrics: m}
}

// ProcessConversations は埋め込みの補完処理のメインロジック
func (bp *BatchProcessor) ProcessConversations(ctx context.Context) (int, error) {
	turns, err := bp.store.FindUserTurnsNeedingEmbedding(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to find turns needing embedding: %w", err)
	}

	if len(turns) == 0 {
		log.Printf("No user turns need embeddings")
		return 0, nil
	}

	updated := 0
	for _, turn := range turns {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if err := bp.store.UpdateEmbedding(ctx, turn, Encode(turn.Content)); err != nil {
			log.Printf("Error updating embedding for turn %s of user %s: %v", turn.ID, turn.UserID, err)
			continue
		}
		updated++
	}

	bp.metrics.AddBackfilled(updated)
	log.Printf("Successfully backfilled %d of %d user turns", updated, len(turns))
	return updated, nil
}
