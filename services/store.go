package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"evolveme/config"
	"evolveme/models"
)

var ErrTurnNotFound = errors.New("conversation turn not found")

// TurnStore is the storage collaborator of the chat backend.
type TurnStore interface {
	SaveTurn(ctx context.Context, turn models.Conversation) (models.Conversation, error)
	// FindUserTurnsWithEmbedding returns the owner's user turns that carry a
	// valid embedding, in storage order.
	FindUserTurnsWithEmbedding(ctx context.Context, userID string) ([]models.Conversation, error)
	// FindNextAssistantTurn returns the owner's assistant turn with the
	// smallest timestamp strictly after the given one, or nil.
	FindNextAssistantTurn(ctx context.Context, userID string, after time.Time) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	UpdateMessageFlag(ctx context.Context, userID string, timestamp time.Time, isLiked, isDisliked *bool) error
}

// EmbeddingBackfiller finds user turns whose embedding is missing or
// unreadable and rewrites it.
type EmbeddingBackfiller interface {
	FindUserTurnsNeedingEmbedding(ctx context.Context) ([]models.Conversation, error)
	UpdateEmbedding(ctx context.Context, turn models.Conversation, e models.Embedding) error
}

// Store is what every backend in this package provides.
type Store interface {
	TurnStore
	EmbeddingBackfiller
	Close() error
}

// OpenStore connects the backend selected by cfg.StoreBackend.
func OpenStore(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return NewInMemoryStore(), nil
	case "dynamodb":
		return NewDynamoStore(ctx, cfg.Dynamo)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresURI)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// prepareTurn fills the storage-assigned fields and checks the turn invariants.
func prepareTurn(turn models.Conversation, newID func() string) (models.Conversation, error) {
	if turn.UserID == "" {
		return turn, fmt.Errorf("turn has no owner")
	}
	turn.Content = strings.TrimSpace(turn.Content)
	if turn.Content == "" {
		return turn, ErrEmptyMessage
	}
	switch turn.Role {
	case models.RoleUser:
	case models.RoleAssistant:
		if turn.Embedding != nil {
			return turn, fmt.Errorf("assistant turns do not carry embeddings")
		}
	default:
		return turn, fmt.Errorf("unknown role %q", turn.Role)
	}
	if turn.ID == "" {
		turn.ID = newID()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	turn.Timestamp = turn.Timestamp.UTC()
	return turn, nil
}

// decodeStoredEmbedding reads a text embedding column. Unreadable values are
// reported so that callers can skip the row instead of failing the scan.
func decodeStoredEmbedding(turnID, raw string) (*models.Embedding, error) {
	if raw == "" {
		return nil, nil
	}
	e, err := models.DecodeEmbedding(raw)
	if err != nil {
		return nil, fmt.Errorf("turn %s: %w", turnID, err)
	}
	return &e, nil
}

func logSkippedEmbedding(err error) {
	log.Printf("Skipping stored embedding: %v", err)
}

func sortByTimestamp(turns []models.Conversation) {
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})
}
