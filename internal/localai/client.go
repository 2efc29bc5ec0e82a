// Package localai talks to a locally hosted OpenAI-compatible server (LM Studio, Ollama)
// for embeddings and chat completions.
package localai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/providers"
)

var (
	// ErrBaseURLRequired is returned by NewClient without a base URL.
	ErrBaseURLRequired = errors.New("localai: base URL is required")
	// ErrEmptyInput is returned when an embedding input is empty.
	ErrEmptyInput = errors.New("localai: input text is empty")
	// ErrNoEmbeddingInResponse is returned when the server returns fewer embeddings than inputs.
	ErrNoEmbeddingInResponse = errors.New("localai: no embedding in response")
	// ErrNoChoiceInResponse is returned when a chat completion has no choices.
	ErrNoChoiceInResponse = errors.New("localai: no choice in chat completion response")
)

const (
	providerName = "local"
	// LM Studio's default server address.
	DefaultBaseURL     = "http://localhost:1234/v1"
	defaultTemperature = 0.2
)

// Client wraps go-openai configured against a local server. Local servers ignore the API key
// but go-openai sends one anyway, so a placeholder is used when none is configured.
type Client struct {
	client         *goopenai.Client
	embeddingModel string
	chatModel      string
	temperature    float64
	retry          providers.RetryPolicy
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithModel sets the embedding model name as known to the local server.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.embeddingModel = model
	}
}

// WithChatModel sets the chat model name as known to the local server.
func WithChatModel(model string) ClientOption {
	return func(c *Client) {
		c.chatModel = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ClientOption {
	return func(c *Client) {
		c.temperature = t
	}
}

// WithRetryPolicy overrides the retry policy for all calls.
func WithRetryPolicy(p providers.RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a client for the server at baseURL (e.g. http://localhost:11434/v1 for Ollama).
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	if apiKey == "" {
		apiKey = "local"
	}

	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")

	client := &Client{
		client:      goopenai.NewClientWithConfig(cfg),
		temperature: defaultTemperature,
		retry:       providers.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// EmbeddingModel returns the model used by CreateEmbeddings.
func (c *Client) EmbeddingModel() string { return c.embeddingModel }

// Model returns the chat model used by Complete.
func (c *Client) Model() string { return c.chatModel }

// CreateEmbeddings returns one vector per input, in input order.
func (c *Client) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	for i, in := range inputs {
		if in == "" {
			return nil, huberrors.NewValidationError("input", fmt.Sprintf("%s (index %d)", ErrEmptyInput, i))
		}
	}

	return providers.Do(ctx, c.retry, providerName, "embeddings", classify,
		func(ctx context.Context) ([][]float32, error) {
			resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
				Input: inputs,
				Model: goopenai.EmbeddingModel(c.embeddingModel),
			})
			if err != nil {
				return nil, fmt.Errorf("local embedding: %w", err)
			}

			if len(resp.Data) != len(inputs) {
				return nil, fmt.Errorf("%w: got %d, want %d", ErrNoEmbeddingInResponse, len(resp.Data), len(inputs))
			}

			out := make([][]float32, len(inputs))

			for i, d := range resp.Data {
				idx := d.Index
				// Some local servers leave index at zero for every item.
				if idx < 0 || idx >= len(out) || out[idx] != nil {
					idx = i
				}

				out[idx] = d.Embedding
			}

			return out, nil
		})
}

// Complete sends one system and one user message and returns the first choice.
func (c *Client) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.Completion, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}

	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.User})

	return providers.Do(ctx, c.retry, providerName, "chat", classify,
		func(ctx context.Context) (*providers.Completion, error) {
			resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
				Model:       c.chatModel,
				Messages:    messages,
				Temperature: float32(c.temperature),
			})
			if err != nil {
				return nil, fmt.Errorf("local chat completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return nil, ErrNoChoiceInResponse
			}

			model := resp.Model
			if model == "" {
				model = c.chatModel
			}

			return &providers.Completion{
				Text:             resp.Choices[0].Message.Content,
				Model:            model,
				PromptTokens:     int64(resp.Usage.PromptTokens),
				CompletionTokens: int64(resp.Usage.CompletionTokens),
			}, nil
		})
}

func classify(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return providers.RetryableStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return providers.RetryableStatus(reqErr.HTTPStatusCode)
	}

	return !errors.Is(err, ErrNoChoiceInResponse)
}
