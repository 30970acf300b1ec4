package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sashabaranov/go-openai"

	"evolveme/config"
	"evolveme/models"
)

var (
	ErrMissingAPIKey = errors.New("LLM API key is not set")
	ErrNoCompletion  = errors.New("no content in response")
)

// CompletionClient sends an assembled message list to a chat-completion
// service and returns the reply text.
type CompletionClient interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (string, error)
}

// NewCompletionClient picks the client named by cfg.Client.
func NewCompletionClient(cfg config.LLMConfig) (CompletionClient, error) {
	switch cfg.Client {
	case "resty":
		return NewRestyCompletionClient(cfg), nil
	case "openai":
		return NewOpenAICompletionClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM client %q", cfg.Client)
	}
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// RestyCompletionClient talks to any OpenAI-compatible /chat/completions endpoint.
type RestyCompletionClient struct {
	client *resty.Client
	cfg    config.LLMConfig
}

func NewRestyCompletionClient(cfg config.LLMConfig) *RestyCompletionClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &RestyCompletionClient{client: client, cfg: cfg}
}

func (c *RestyCompletionClient) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrMissingAPIKey
	}

	requestBody := map[string]interface{}{
		"model":       c.cfg.Model,
		"messages":    messages,
		"temperature": c.cfg.Temperature,
		"max_tokens":  c.cfg.MaxTokens,
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.cfg.APIKey).
		SetBody(requestBody).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("chat completion failed, status: %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", ErrNoCompletion
	}
	content := strings.TrimSpace(result.Choices[0].Message.Content)
	if content == "" {
		return "", ErrNoCompletion
	}
	return content, nil
}

// OpenAICompletionClient uses the go-openai SDK; BaseURL may point at any
// compatible provider.
type OpenAICompletionClient struct {
	client *openai.Client
	cfg    config.LLMConfig
}

func NewOpenAICompletionClient(cfg config.LLMConfig) *OpenAICompletionClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAICompletionClient{client: openai.NewClientWithConfig(clientConfig), cfg: cfg}
}

func (c *OpenAICompletionClient) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrMissingAPIKey
	}

	openAIMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openAIMessages = append(openAIMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    openAIMessages,
		Temperature: float32(c.cfg.Temperature),
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrNoCompletion
	}
	return content, nil
}
