package services

import (
	"context"
	"fmt"
	"strings"

	"evolveme/config"
	"evolveme/metrics"
	"evolveme/models"
)

type Retriever interface {
	Retrieve(ctx context.Context, query, userID string, limit int) ([]models.RetrievedMemory, error)
}

// ContextAssembler builds the message list sent to the language model:
// persona, recalled memories when any are relevant, then the new message.
type ContextAssembler struct {
	retriever Retriever
	cfg       config.MemoryConfig
	metrics   *metrics.Metrics
}

func NewContextAssembler(retriever Retriever, cfg config.MemoryConfig, m *metrics.Metrics) *ContextAssembler {
	return &ContextAssembler{retriever: retriever, cfg: cfg, metrics: m}
}

func (a *ContextAssembler) Assemble(ctx context.Context, query, userID string) ([]models.ChatMessage, error) {
	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: a.cfg.PersonaPrompt},
	}

	memories, err := a.retriever.Retrieve(ctx, query, userID, a.cfg.RetrieveLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieve memories: %w", err)
	}

	relevant := make([]models.RetrievedMemory, 0, len(memories))
	for _, m := range memories {
		if m.Similarity > a.cfg.SimilarityThreshold {
			relevant = append(relevant, m)
		}
	}
	a.metrics.ObserveInjected(len(relevant))

	if len(relevant) > 0 {
		messages = append(messages, models.ChatMessage{
			Role:    models.RoleSystem,
			Content: a.buildMemoryContext(relevant),
		})
	}

	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: query})
	return messages, nil
}

func (a *ContextAssembler) buildMemoryContext(memories []models.RetrievedMemory) string {
	var b strings.Builder

	b.WriteString("基于我们之前的对话，我记得：\n")
	for i, m := range memories {
		fmt.Fprintf(&b, "%d. 你曾经说过：\"%s\"\n", i+1, m.UserMessage)
		if m.AssistantReply != nil {
			fmt.Fprintf(&b, "   我当时回复：\"%s...\"\n", excerpt(*m.AssistantReply, a.cfg.ReplyExcerptRunes))
		}
	}
	b.WriteString("\n请结合这些历史信息来回复用户的新问题。")

	return b.String()
}

// excerpt returns the first n characters of s.
func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
