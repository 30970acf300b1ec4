package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"evolveme/models"
)

// InMemoryStore keeps turns in process memory. It backs local development
// (STORE_BACKEND=memory) and tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns []models.Conversation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, turn models.Conversation) (models.Conversation, error) {
	turn, err := prepareTurn(turn, uuid.NewString)
	if err != nil {
		return models.Conversation{}, err
	}
	turn.Embedding = cloneEmbedding(turn.Embedding)

	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
	return cloneTurn(turn), nil
}

func (s *InMemoryStore) FindUserTurnsWithEmbedding(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Conversation, 0)
	for _, t := range s.turns {
		if t.UserID == userID && t.Role == models.RoleUser && t.Embedding != nil {
			out = append(out, cloneTurn(t))
		}
	}
	return out, nil
}

func (s *InMemoryStore) FindNextAssistantTurn(_ context.Context, userID string, after time.Time) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var next *models.Conversation
	for i := range s.turns {
		t := &s.turns[i]
		if t.UserID != userID || t.Role != models.RoleAssistant || !t.Timestamp.After(after) {
			continue
		}
		if next == nil || t.Timestamp.Before(next.Timestamp) {
			next = t
		}
	}
	if next == nil {
		return nil, nil
	}
	found := cloneTurn(*next)
	return &found, nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Conversation, 0)
	for _, t := range s.turns {
		if t.UserID == userID {
			out = append(out, cloneTurn(t))
		}
	}
	sortByTimestamp(out)
	return out, nil
}

func (s *InMemoryStore) UpdateMessageFlag(_ context.Context, userID string, timestamp time.Time, isLiked, isDisliked *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.turns {
		t := &s.turns[i]
		if t.UserID != userID || !t.Timestamp.Equal(timestamp) {
			continue
		}
		if isLiked != nil {
			v := *isLiked
			t.IsLiked = &v
		}
		if isDisliked != nil {
			v := *isDisliked
			t.IsDisliked = &v
		}
		return nil
	}
	return ErrTurnNotFound
}

func (s *InMemoryStore) FindUserTurnsNeedingEmbedding(_ context.Context) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Conversation, 0)
	for _, t := range s.turns {
		if t.Role == models.RoleUser && t.Embedding == nil {
			out = append(out, cloneTurn(t))
		}
	}
	return out, nil
}

func (s *InMemoryStore) UpdateEmbedding(_ context.Context, turn models.Conversation, e models.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.turns {
		if s.turns[i].ID == turn.ID {
			s.turns[i].Embedding = &e
			return nil
		}
	}
	return ErrTurnNotFound
}

func (s *InMemoryStore) Close() error {
	return nil
}

func cloneTurn(t models.Conversation) models.Conversation {
	t.Embedding = cloneEmbedding(t.Embedding)
	return t
}

func cloneEmbedding(e *models.Embedding) *models.Embedding {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
