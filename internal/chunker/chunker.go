// Package chunker splits documents into overlapping fixed-size windows.
//
// Offsets are counted in runes, not bytes, so multi-byte scripts are never cut
// inside a character. Boundaries are purely positional.
package chunker

import (
	"fmt"
	"strings"

	"github.com/essaygrader/hub/internal/huberrors"
)

// Default window settings.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Chunk is one window of the source text. ID is the 0-based position in the emitted sequence.
type Chunk struct {
	ID          int    `json:"chunk_id"`
	OffsetStart int    `json:"offset_start"`
	OffsetEnd   int    `json:"offset_end"`
	Text        string `json:"text"`
}

// Config holds window size and overlap.
type Config struct {
	Size    int
	Overlap int
}

// DefaultConfig returns the default window settings.
func DefaultConfig() Config {
	return Config{Size: DefaultSize, Overlap: DefaultOverlap}
}

// Validate returns a ConfigurationError when the chunker would not advance.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return huberrors.NewConfigurationError("chunk size", fmt.Sprintf("must be positive, got %d", c.Size))
	}

	if c.Overlap < 0 {
		return huberrors.NewConfigurationError("chunk overlap", fmt.Sprintf("must not be negative, got %d", c.Overlap))
	}

	if c.Overlap >= c.Size {
		return huberrors.NewConfigurationError("chunk overlap",
			fmt.Sprintf("overlap (%d) must be smaller than size (%d)", c.Overlap, c.Size))
	}

	return nil
}

// Split cuts text into windows of size runes, each starting size-overlap runes after the previous.
// Empty text yields no chunks. The final chunk may be shorter than size.
func Split(text string, size, overlap int) ([]Chunk, error) {
	cfg := Config{Size: size, Overlap: overlap}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return []Chunk{}, nil
	}

	step := size - overlap
	chunks := make([]Chunk, 0, Count(len(runes), size, overlap))

	for offset := 0; offset < len(runes); offset += step {
		end := min(offset+size, len(runes))
		chunks = append(chunks, Chunk{
			ID:          len(chunks),
			OffsetStart: offset,
			OffsetEnd:   end,
			Text:        string(runes[offset:end]),
		})
	}

	return chunks, nil
}

// Split applies the configured window settings.
func (c Config) Split(text string) ([]Chunk, error) {
	return Split(text, c.Size, c.Overlap)
}

// Count returns how many chunks Split produces for a text of n runes.
// Arguments are assumed valid.
func Count(n, size, overlap int) int {
	if n <= 0 {
		return 0
	}

	step := size - overlap

	return (n + step - 1) / step
}

// Reconstruct joins chunks back into the source text by dropping each chunk's
// leading overlap with its predecessor. Chunks must be in ID order.
func Reconstruct(chunks []Chunk) string {
	var b strings.Builder

	covered := 0

	for _, c := range chunks {
		if c.OffsetEnd <= covered {
			continue
		}

		runes := []rune(c.Text)
		skip := max(covered-c.OffsetStart, 0)
		b.WriteString(string(runes[skip:]))
		covered = c.OffsetEnd
	}

	return b.String()
}
