// Package openai provides a thin wrapper around the official OpenAI Go SDK for embeddings and chat completions.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/providers"
)

var (
	// ErrEmptyInput is returned when an embedding input is empty.
	ErrEmptyInput = errors.New("openai: input text is empty")
	// ErrInvalidDims is returned when dimensions is not positive.
	ErrInvalidDims = errors.New("openai: embedding dimensions must be positive")
	// ErrNoEmbeddingInResponse is returned when the API response contains fewer embeddings than inputs.
	ErrNoEmbeddingInResponse = errors.New("openai: no embedding in response")
	// ErrNoChoiceInResponse is returned when a chat completion has no choices.
	ErrNoChoiceInResponse = errors.New("openai: no choice in chat completion response")
)

const (
	providerName          = "openai"
	defaultDimension      = 1536
	defaultEmbeddingModel = "text-embedding-ada-002"
	defaultChatModel      = "gpt-4"
	defaultTemperature    = 0.2
)

// Client calls the OpenAI embeddings and chat completions APIs via the official SDK.
// SDK-level retries are disabled; retries go through providers.Do so that every
// provider shares one policy and one error classification.
type Client struct {
	sdk            openaisdk.Client
	embeddingModel string
	chatModel      string
	dimensions     int
	temperature    float64
	retry          providers.RetryPolicy
	baseURL        string
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the requested embedding dimension (must match the vector collection).
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		c.dimensions = dim
	}
}

// WithModel sets the embedding model name. Empty keeps the default.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.embeddingModel = model
		}
	}
}

// WithChatModel sets the chat completion model name. Empty keeps the default.
func WithChatModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.chatModel = model
		}
	}
}

// WithTemperature sets the sampling temperature for chat completions.
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

// WithBaseURL points the client at an OpenAI-compatible endpoint (e.g. a proxy or a test server).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// NewClient creates an OpenAI client using the official SDK.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		embeddingModel: defaultEmbeddingModel,
		chatModel:      defaultChatModel,
		dimensions:     defaultDimension,
		temperature:    defaultTemperature,
		retry:          providers.DefaultRetryPolicy(),
	}

	for _, opt := range opts {
		opt(client)
	}

	sdkOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if client.baseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(client.baseURL))
	}

	client.sdk = openaisdk.NewClient(sdkOpts...)

	return client
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int { return c.dimensions }

// EmbeddingModel returns the model used by CreateEmbeddings.
func (c *Client) EmbeddingModel() string { return c.embeddingModel }

// Model returns the chat model used by Complete.
func (c *Client) Model() string { return c.chatModel }

// CreateEmbeddings returns one vector per input, in input order.
func (c *Client) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if c.dimensions <= 0 {
		return nil, ErrInvalidDims
	}

	for i, in := range inputs {
		if in == "" {
			return nil, huberrors.NewValidationError("input", fmt.Sprintf("%s (index %d)", ErrEmptyInput, i))
		}
	}

	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model:          openaisdk.EmbeddingModel(c.embeddingModel),
		EncodingFormat: openaisdk.EmbeddingNewParamsEncodingFormatFloat,
	}
	// Only the text-embedding-3 family accepts a dimensions parameter.
	if strings.HasPrefix(c.embeddingModel, "text-embedding-3") {
		params.Dimensions = param.NewOpt(int64(c.dimensions))
	}

	return providers.Do(ctx, c.retry, providerName, "embeddings", classify,
		func(ctx context.Context) ([][]float32, error) {
			resp, err := c.sdk.Embeddings.New(ctx, params)
			if err != nil {
				return nil, fmt.Errorf("openai embedding: %w", err)
			}

			if len(resp.Data) != len(inputs) {
				return nil, fmt.Errorf("%w: got %d, want %d", ErrNoEmbeddingInResponse, len(resp.Data), len(inputs))
			}

			out := make([][]float32, len(inputs))

			for _, d := range resp.Data {
				idx := int(d.Index)
				if idx < 0 || idx >= len(out) {
					return nil, fmt.Errorf("%w: index %d out of range", ErrNoEmbeddingInResponse, idx)
				}

				vec := make([]float32, len(d.Embedding))
				for i := range d.Embedding {
					vec[i] = float32(d.Embedding[i])
				}

				out[idx] = vec
			}

			return out, nil
		})
}

// CreateEmbedding returns the embedding vector for a single text.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	vecs, err := c.CreateEmbeddings(ctx, []string{input})
	if err != nil {
		return nil, err
	}

	return vecs[0], nil
}

// Complete sends one system and one user message and returns the first choice.
func (c *Client) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.Completion, error) {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openaisdk.SystemMessage(req.System))
	}

	messages = append(messages, openaisdk.UserMessage(req.User))

	params := openaisdk.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openaisdk.ChatModel(c.chatModel),
		Temperature: param.NewOpt(c.temperature),
	}

	return providers.Do(ctx, c.retry, providerName, "chat", classify,
		func(ctx context.Context) (*providers.Completion, error) {
			resp, err := c.sdk.Chat.Completions.New(ctx, params)
			if err != nil {
				return nil, fmt.Errorf("openai chat completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return nil, ErrNoChoiceInResponse
			}

			return &providers.Completion{
				Text:             resp.Choices[0].Message.Content,
				Model:            resp.Model,
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			}, nil
		})
}

// classify retries rate limits, timeouts and 5xx; everything else the API rejected is final.
func classify(err error) bool {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return providers.RetryableStatus(apiErr.StatusCode)
	}

	return !errors.Is(err, ErrNoChoiceInResponse)
}
