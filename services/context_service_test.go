package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evolveme/config"
	"evolveme/models"
)

type stubRetriever struct {
	memories  []models.RetrievedMemory
	err       error
	lastLimit int
}

func (s *stubRetriever) Retrieve(_ context.Context, _, _ string, limit int) ([]models.RetrievedMemory, error) {
	s.lastLimit = limit
	return s.memories, s.err
}

func strPtr(s string) *string { return &s }

func TestAssembleEmptyOwner(t *testing.T) {
	store := NewInMemoryStore()
	seedU1(t, store)
	assembler := NewContextAssembler(NewMemoryRetriever(store, nil), config.DefaultMemoryConfig(), nil)

	messages, err := assembler.Assemble(context.Background(), "anything", "U2")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.ChatMessage{Role: models.RoleSystem, Content: config.DefaultPersonaPrompt}, messages[0])
	assert.Equal(t, models.ChatMessage{Role: models.RoleUser, Content: "anything"}, messages[1])
}

func TestAssembleInjectsRelevantMemories(t *testing.T) {
	store := NewInMemoryStore()
	seedU1(t, store)
	assembler := NewContextAssembler(NewMemoryRetriever(store, nil), config.DefaultMemoryConfig(), nil)

	messages, err := assembler.Assemble(context.Background(), "我喜欢编程", "U1")
	require.NoError(t, err)
	require.Len(t, messages, 3)

	memory := messages[1]
	assert.Equal(t, models.RoleSystem, memory.Role)
	assert.True(t, strings.HasPrefix(memory.Content, "基于我们之前的对话，我记得：\n"))
	assert.Contains(t, memory.Content, "1. 你曾经说过：\"我喜欢编程\"\n")
	assert.Contains(t, memory.Content, "   我当时回复：\"编程是很棒的爱好！...\"\n")
	assert.True(t, strings.HasSuffix(memory.Content, "请结合这些历史信息来回复用户的新问题。"))

	assert.Equal(t, models.ChatMessage{Role: models.RoleUser, Content: "我喜欢编程"}, messages[2])
}

func TestAssembleThreshold(t *testing.T) {
	cfg := config.DefaultMemoryConfig()
	cases := []struct {
		name       string
		similarity []float64
		wantLines  int
	}{
		{"none retrieved", nil, 0},
		{"all below", []float64{0.3, 0.1}, 0},
		{"exactly threshold is excluded", []float64{0.3}, 0},
		{"one above", []float64{0.9, 0.2}, 1},
		{"all above", []float64{0.9, 0.8, 0.31}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubRetriever{}
			for i, s := range tc.similarity {
				stub.memories = append(stub.memories, models.RetrievedMemory{
					UserMessage: "memory " + string(rune('A'+i)),
					Similarity:  s,
					Timestamp:   t0,
				})
			}
			messages, err := NewContextAssembler(stub, cfg, nil).Assemble(context.Background(), "query", "U1")
			require.NoError(t, err)
			assert.Equal(t, cfg.RetrieveLimit, stub.lastLimit)

			if tc.wantLines == 0 {
				assert.Len(t, messages, 2)
				return
			}
			require.Len(t, messages, 3)
			assert.Equal(t, tc.wantLines, strings.Count(messages[1].Content, "你曾经说过"))
			for i := 0; i < tc.wantLines; i++ {
				assert.Contains(t, messages[1].Content, string(rune('1'+i))+". 你曾经说过：\"memory "+string(rune('A'+i)))
			}
		})
	}
}

func TestAssembleTruncatesReplyExcerpt(t *testing.T) {
	long := strings.Repeat("好", 150)
	short := "short reply"
	stub := &stubRetriever{memories: []models.RetrievedMemory{
		{UserMessage: "first", AssistantReply: &long, Similarity: 0.9, Timestamp: t0},
		{UserMessage: "second", AssistantReply: strPtr(short), Similarity: 0.8, Timestamp: t0.Add(time.Hour)},
		{UserMessage: "third", Similarity: 0.7, Timestamp: t0.Add(2 * time.Hour)},
	}}

	messages, err := NewContextAssembler(stub, config.DefaultMemoryConfig(), nil).Assemble(context.Background(), "q", "U1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	content := messages[1].Content

	assert.Contains(t, content, "我当时回复：\""+strings.Repeat("好", 100)+"...\"")
	assert.NotContains(t, content, strings.Repeat("好", 101))
	assert.Contains(t, content, "我当时回复：\"short reply...\"")
	assert.Equal(t, 2, strings.Count(content, "我当时回复"))
	assert.Contains(t, content, "3. 你曾经说过：\"third\"\n")
}

func TestAssembleUsesConfiguredPolicy(t *testing.T) {
	cfg := config.MemoryConfig{
		RetrieveLimit:       5,
		SimilarityThreshold: 0.95,
		ReplyExcerptRunes:   3,
		PersonaPrompt:       "persona",
	}
	stub := &stubRetriever{memories: []models.RetrievedMemory{
		{UserMessage: "kept", AssistantReply: strPtr("abcdef"), Similarity: 0.99},
		{UserMessage: "dropped", Similarity: 0.9},
	}}

	messages, err := NewContextAssembler(stub, cfg, nil).Assemble(context.Background(), "q", "U1")
	require.NoError(t, err)
	assert.Equal(t, 5, stub.lastLimit)
	require.Len(t, messages, 3)
	assert.Equal(t, "persona", messages[0].Content)
	assert.Contains(t, messages[1].Content, "\"abc...\"")
	assert.NotContains(t, messages[1].Content, "dropped")
}

func TestAssemblePropagatesRetrievalError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewContextAssembler(&stubRetriever{err: boom}, config.DefaultMemoryConfig(), nil).
		Assemble(context.Background(), "q", "U1")
	assert.ErrorIs(t, err, boom)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "", excerpt("", 5))
	assert.Equal(t, "abc", excerpt("abc", 5))
	assert.Equal(t, "ab", excerpt("abc", 2))
	assert.Equal(t, "编程", excerpt("编程语言", 2))
}
