// Package providers holds the types shared by embedding and LLM provider clients
// and the retry policy wrapped around every remote call.
package providers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/essaygrader/hub/internal/huberrors"
)

// CompletionRequest is one system+user exchange with a chat model.
type CompletionRequest struct {
	System string
	User   string
}

// Completion is the model reply plus usage reported by the provider.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
}

// RetryPolicy bounds retries of a remote call. Zero MaxRetries means a single attempt.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when a client is built without WithRetryPolicy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Classifier reports whether a provider error is worth retrying.
type Classifier func(err error) bool

// RetryableStatus reports whether an HTTP status from a provider is transient.
func RetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return true
	case code >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

// Do runs fn with exponential backoff. Errors the classifier rejects stop immediately.
// The final error is a *huberrors.ProviderUnavailableError unless fn returned a
// ConfigurationError or ValidationError, which pass through untouched.
func Do[T any](
	ctx context.Context, policy RetryPolicy, provider, op string, classify Classifier, fn func(context.Context) (T, error),
) (T, error) {
	exp := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		exp.InitialInterval = policy.InitialInterval
	}

	if policy.MaxInterval > 0 {
		exp.MaxInterval = policy.MaxInterval
	}

	exp.MaxElapsedTime = 0

	retries := max(policy.MaxRetries, 0)

	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(retries)) //nolint:gosec // non-negative
	b = backoff.WithContext(b, ctx)

	var lastErr error

	operation := func() (T, error) {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}

		lastErr = err

		if errors.Is(err, huberrors.ErrConfiguration) || errors.Is(err, huberrors.ErrValidation) {
			return out, backoff.Permanent(err)
		}

		if !isRetryable(ctx, err, classify) {
			return out, backoff.Permanent(err)
		}

		return out, err
	}

	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "provider call failed, retrying",
			"provider", provider, "op", op, "wait", wait, "error", err)
	}

	out, err := backoff.RetryNotifyWithData(operation, b, notify)
	if err == nil {
		return out, nil
	}

	if errors.Is(err, huberrors.ErrConfiguration) || errors.Is(err, huberrors.ErrValidation) {
		return out, err
	}

	// backoff returns ctx.Err() when the context ends between attempts; keep the provider error.
	if lastErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = errors.Join(err, lastErr)
	}

	return out, huberrors.NewProviderUnavailableError(provider, op, isRetryable(ctx, err, classify), err)
}

func isRetryable(ctx context.Context, err error, classify Classifier) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, context.Canceled) || ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return false
	}

	if classify == nil {
		return true
	}

	return classify(err)
}
