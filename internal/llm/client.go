// Package llm provides a unified client for OpenAI API access with support
// for both Azure OpenAI (primary) and OpenAI platform (fallback).
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"mailbase/internal/config"
	"mailbase/internal/models"
	"mailbase/internal/summarize"
)

const (
	summaryMaxTokens = 1200
	answerMaxTokens  = 800
	// history entries are truncated so a 20-message thread stays inside the
	// model context
	historyBodyLimit = 2000
)

// Client wraps the OpenAI SDK with Azure OpenAI support and fallback capability
type Client struct {
	primary      *openai.Client
	fallback     *openai.Client
	useAzure     bool
	gptModel     string
	embedModel   openai.EmbeddingModel
	providerName string
	logger       zerolog.Logger
}

// NewClient creates a client with Azure as primary and OpenAI as fallback
func NewClient(cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	client := &Client{logger: logger}

	if cfg.UseAzureOpenAI() {
		azureConfig := openai.DefaultAzureConfig(cfg.AzureOpenAIKey, cfg.AzureOpenAIEndpoint)
		client.primary = openai.NewClientWithConfig(azureConfig)
		client.useAzure = true
		client.gptModel = cfg.AzureOpenAIGPTDeployment
		client.embedModel = openai.EmbeddingModel(cfg.AzureOpenAIEmbeddingDeployment)
		client.providerName = "Azure OpenAI"

		logger.Info().Str("endpoint", cfg.AzureOpenAIEndpoint).Msg("Primary LLM provider: Azure OpenAI")
	}

	if cfg.HasOpenAIFallback() {
		client.fallback = openai.NewClient(cfg.OpenAIKey)

		if !client.useAzure {
			client.primary = client.fallback
			client.fallback = nil
			client.gptModel = string(openai.GPT4oMini)
			client.embedModel = openai.SmallEmbedding3
			client.providerName = "OpenAI"

			logger.Info().Msg("Primary LLM provider: OpenAI (Azure not configured)")
		} else {
			logger.Info().Msg("Fallback LLM provider: OpenAI")
		}
	}

	if client.primary == nil {
		return nil, fmt.Errorf("no OpenAI provider configured: set AZURE_OPENAI_ENDPOINT + AZURE_OPENAI_KEY or OPENAI_API_KEY")
	}

	return client, nil
}

// TestConnection verifies the API connection works
func (c *Client) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := c.Embed(ctx, "connection test"); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.providerName, err)
	}
	return nil
}

// Embed generates an embedding vector for a single text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for the given texts
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.primary.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.embedModel,
	})

	if err != nil && c.fallback != nil {
		c.logger.Warn().Err(err).Msg("Primary embedding provider failed, trying fallback")
		resp, err = c.fallback.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.SmallEmbedding3,
		})
		if err != nil {
			return nil, fmt.Errorf("both providers failed: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = data.Embedding
	}
	return embeddings, nil
}

const summarySystemPrompt = `You summarize resolved email conversations for a company knowledge base.
Respond with a JSON object only, no prose around it, using exactly these keys:
{"summary_short": "one or two sentences", "summary_detailed": "a paragraph covering problem, steps and outcome", "key_decisions": ["..."], "action_items": ["..."]}`

type summaryPayload struct {
	SummaryShort    string   `json:"summary_short"`
	SummaryDetailed string   `json:"summary_detailed"`
	KeyDecisions    []string `json:"key_decisions"`
	ActionItems     []string `json:"action_items"`
}

// Summarize condenses a thread's message history into a structured summary.
// History is expected in chronological order.
func (c *Client) Summarize(ctx context.Context, history []models.Message) (*summarize.Summary, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("cannot summarize empty history")
	}

	prompt := buildHistoryPrompt(history)
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}

	resp, err := c.chat(ctx, messages, summaryMaxTokens, 0.3)
	if err != nil {
		return nil, err
	}

	raw := resp.Choices[0].Message.Content
	var payload summaryPayload
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse summary response: %w", err)
	}
	if payload.SummaryShort == "" {
		return nil, fmt.Errorf("summary response missing summary_short")
	}

	return &summarize.Summary{
		Short:            payload.SummaryShort,
		Detailed:         payload.SummaryDetailed,
		KeyDecisions:     payload.KeyDecisions,
		ActionItems:      payload.ActionItems,
		Model:            resp.Model,
		Prompt:           prompt,
		Response:         raw,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

const answerSystemPrompt = `You answer questions about a company's email history.
Use only the provided excerpts. If they do not contain the answer, say so.
Cite dates and senders from the excerpts where relevant. Be concise.`

// Answer produces a natural-language reply to a question using retrieved
// evidence excerpts.
func (c *Client) Answer(ctx context.Context, question string, evidence []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Excerpts:\n\n")
	for i, ev := range evidence {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, ev)
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: answerSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: sb.String()},
	}

	resp, err := c.chat(ctx, messages, answerMaxTokens, 0.2)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) chat(ctx context.Context, messages []openai.ChatCompletionMessage, maxTokens int, temperature float32) (*openai.ChatCompletionResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.gptModel,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	resp, err := c.primary.CreateChatCompletion(ctx, req)
	if err != nil && c.fallback != nil {
		c.logger.Warn().Err(err).Msg("Primary chat provider failed, trying fallback")
		req.Model = string(openai.GPT4oMini)
		resp, err = c.fallback.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("both providers failed: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return &resp, nil
}

// ProviderName returns the current primary provider name
func (c *Client) ProviderName() string {
	return c.providerName
}

func buildHistoryPrompt(history []models.Message) string {
	var sb strings.Builder
	sb.WriteString("Conversation, oldest first:\n\n")
	for _, msg := range history {
		body := msg.BodyText
		if runes := []rune(body); len(runes) > historyBodyLimit {
			body = string(runes[:historyBodyLimit]) + "…"
		}
		fmt.Fprintf(&sb, "From: %s\nDate: %s\nSubject: %s\n%s\n\n---\n\n",
			msg.FromAddress, msg.ReceivedAt.Format("2006-01-02 15:04"), msg.Subject, body)
	}
	return sb.String()
}

// stripCodeFence removes a surrounding markdown code fence the model
// sometimes wraps JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
