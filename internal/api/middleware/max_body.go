package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/essaygrader/hub/internal/api/response"
)

// MaxBody caps request bodies at maxBytes and answers 413 when a handler read past the cap.
// A maxBytes of 0 or less disables the limit (MAX_REQUEST_BODY_BYTES=0).
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasBody(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			body := &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, maxBytes)}
			r.Body = body

			// Handlers turn a failed decode into a 400; buffer so it can be replaced with a 413.
			buf := &bufferedResponse{ResponseWriter: w}
			next.ServeHTTP(buf, r)

			if body.exceeded {
				slog.WarnContext(r.Context(), "request body too large", "path", r.URL.Path, "limit_bytes", maxBytes)
				response.RespondError(w, http.StatusRequestEntityTooLarge,
					"Request Entity Too Large", fmt.Sprintf("request body exceeds %d bytes", maxBytes))

				return
			}

			buf.flush()
		})
	}
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

type limitedBody struct {
	io.ReadCloser

	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		b.exceeded = true
	}

	return n, err //nolint:wrapcheck // io.EOF must reach the decoder unwrapped
}

// bufferedResponse holds status and body until the middleware decides what to send.
type bufferedResponse struct {
	http.ResponseWriter

	status int
	buf    bytes.Buffer
}

func (b *bufferedResponse) WriteHeader(code int) {
	b.status = code
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	return b.buf.Write(p) //nolint:wrapcheck // bytes.Buffer never fails
}

func (b *bufferedResponse) flush() {
	if b.status != 0 {
		b.ResponseWriter.WriteHeader(b.status)
	}

	_, _ = b.buf.WriteTo(b.ResponseWriter)
}
