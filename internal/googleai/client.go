// Package googleai provides a thin wrapper around the Google Gen AI SDK for embeddings and generation (Gemini API).
package googleai

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/genai"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/providers"
)

var (
	// ErrEmptyInput is returned when an embedding input is empty.
	ErrEmptyInput = errors.New("googleai: input text is empty")
	// ErrInvalidDims is returned when dimensions is not positive.
	ErrInvalidDims = errors.New("googleai: embedding dimensions must be positive")
	// ErrNoEmbeddingInResponse is returned when the API response contains fewer embeddings than inputs.
	ErrNoEmbeddingInResponse = errors.New("googleai: no embedding in response")
	// ErrEmptyCompletion is returned when generation produced no text.
	ErrEmptyCompletion = errors.New("googleai: empty generation response")
)

const (
	providerName          = "google"
	defaultDimension      = 1536
	defaultEmbeddingModel = "gemini-embedding-001"
	defaultChatModel      = "gemini-2.0-flash"
	defaultTemperature    = 0.2
)

// Client calls the Gemini embeddings and generation APIs via the Google Gen AI SDK.
type Client struct {
	client         *genai.Client
	baseURL        string
	embeddingModel string
	chatModel      string
	dimensions     int
	temperature    float64
	retry          providers.RetryPolicy
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the requested embedding dimension (must match the vector collection).
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		c.dimensions = dim
	}
}

// WithModel sets the embedding model name (e.g. gemini-embedding-001). Empty uses default.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.embeddingModel = model
		}
	}
}

// WithChatModel sets the generation model name. Empty uses default.
func WithChatModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.chatModel = model
		}
	}
}

// WithTemperature sets the sampling temperature for generation.
func WithTemperature(t float64) ClientOption {
	return func(c *Client) {
		c.temperature = t
	}
}

// WithBaseURL points the SDK at another endpoint (a proxy, or a fake in tests). Empty keeps the default.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithRetryPolicy overrides the retry policy for all calls.
func WithRetryPolicy(p providers.RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
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

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: client.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("googleai client: %w", err)
	}

	client.client = genaiClient

	return client, nil
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int { return c.dimensions }

// EmbeddingModel returns the model used by CreateEmbeddings.
func (c *Client) EmbeddingModel() string { return c.embeddingModel }

// Model returns the generation model used by Complete.
func (c *Client) Model() string { return c.chatModel }

// CreateEmbeddings returns one vector per input, in input order.
func (c *Client) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if c.dimensions <= 0 || c.dimensions > math.MaxInt32 {
		return nil, ErrInvalidDims
	}

	contents := make([]*genai.Content, len(inputs))

	for i, in := range inputs {
		if in == "" {
			return nil, huberrors.NewValidationError("input", fmt.Sprintf("%s (index %d)", ErrEmptyInput, i))
		}

		contents[i] = genai.NewContentFromText(in, genai.RoleUser)
	}

	//nolint:gosec // G115: c.dimensions is bounded above by math.MaxInt32
	dimInt32 := int32(c.dimensions)

	return providers.Do(ctx, c.retry, providerName, "embeddings", classify,
		func(ctx context.Context) ([][]float32, error) {
			resp, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, &genai.EmbedContentConfig{
				OutputDimensionality: &dimInt32,
			})
			if err != nil {
				return nil, fmt.Errorf("gemini embedding: %w", err)
			}

			if len(resp.Embeddings) != len(inputs) {
				return nil, fmt.Errorf("%w: got %d, want %d", ErrNoEmbeddingInResponse, len(resp.Embeddings), len(inputs))
			}

			out := make([][]float32, len(resp.Embeddings))
			for i, emb := range resp.Embeddings {
				vec := make([]float32, len(emb.Values))
				copy(vec, emb.Values)
				out[i] = vec
			}

			return out, nil
		})
}

// Complete generates a reply for the user prompt with the system prompt as system instruction.
func (c *Client) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.Completion, error) {
	temp := float32(c.temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}

	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	return providers.Do(ctx, c.retry, providerName, "generate", classify,
		func(ctx context.Context) (*providers.Completion, error) {
			resp, err := c.client.Models.GenerateContent(ctx, c.chatModel, genai.Text(req.User), cfg)
			if err != nil {
				return nil, fmt.Errorf("gemini generate: %w", err)
			}

			text := resp.Text()
			if text == "" {
				return nil, ErrEmptyCompletion
			}

			out := &providers.Completion{Text: text, Model: c.chatModel}
			if resp.UsageMetadata != nil {
				out.PromptTokens = int64(resp.UsageMetadata.PromptTokenCount)
				out.CompletionTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
			}

			return out, nil
		})
}

func classify(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.RetryableStatus(apiErr.Code)
	}

	return !errors.Is(err, ErrEmptyCompletion)
}
