package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"evolveme/metrics"
	"evolveme/models"
)

var ErrEmptyMessage = errors.New("message content is empty")

// ChatService runs one chat exchange: it assembles the memory context for the
// new message, asks the language model for a reply and persists both turns.
type ChatService struct {
	store     TurnStore
	assembler *ContextAssembler
	llm       CompletionClient
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewChatService(store TurnStore, assembler *ContextAssembler, llm CompletionClient, m *metrics.Metrics) *ChatService {
	return &ChatService{
		store:     store,
		assembler: assembler,
		llm:       llm,
		metrics:   m,
		now:       time.Now,
	}
}

// SendMessage returns the saved assistant turn. The user turn is stored
// after the context is assembled so it cannot be recalled as its own memory.
func (s *ChatService) SendMessage(ctx context.Context, userID, message string) (models.Conversation, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		s.metrics.IncChat("invalid")
		return models.Conversation{}, ErrEmptyMessage
	}
	receivedAt := s.now().UTC().Truncate(time.Microsecond)
	embedding := Encode(message)

	messages, err := s.assembler.Assemble(ctx, message, userID)
	if err != nil {
		s.metrics.IncChat("retrieval_error")
		return models.Conversation{}, fmt.Errorf("assemble context: %w", err)
	}

	start := time.Now()
	replyContent, err := s.llm.Complete(ctx, messages)
	s.metrics.ObserveCompletion(time.Since(start))
	if err != nil {
		s.metrics.IncChat("completion_error")
		return models.Conversation{}, fmt.Errorf("call language model: %w", err)
	}

	_, err = s.store.SaveTurn(ctx, models.Conversation{
		UserID:    userID,
		Role:      models.RoleUser,
		Content:   message,
		Timestamp: receivedAt,
		Embedding: &embedding,
	})
	if err != nil {
		s.metrics.IncChat("store_error")
		return models.Conversation{}, fmt.Errorf("save user message: %w", err)
	}

	repliedAt := s.now().UTC().Truncate(time.Microsecond)
	if !repliedAt.After(receivedAt) {
		repliedAt = receivedAt.Add(time.Microsecond)
	}
	reply, err := s.store.SaveTurn(ctx, models.Conversation{
		UserID:    userID,
		Role:      models.RoleAssistant,
		Content:   replyContent,
		Timestamp: repliedAt,
	})
	if err != nil {
		s.metrics.IncChat("store_error")
		return models.Conversation{}, fmt.Errorf("save assistant reply: %w", err)
	}

	log.Printf("Chat reply saved for user %s (%d prompt messages)", userID, len(messages))
	s.metrics.IncChat("ok")
	return reply, nil
}

func (s *ChatService) Conversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

func (s *ChatService) UpdateMessageFlag(ctx context.Context, userID string, timestamp time.Time, isLiked, isDisliked *bool) error {
	return s.store.UpdateMessageFlag(ctx, userID, timestamp, isLiked, isDisliked)
}
