// Package vectorindex stores chunk embeddings in named collections and ranks them by cosine similarity.
package vectorindex

import (
	"context"
	"fmt"
	"regexp"

	"github.com/essaygrader/hub/internal/huberrors"
)

// Collection names, one per document role.
const (
	AnswerKeyCollection     = "answer_key_embeddings"
	StudentAnswerCollection = "student_answer_embeddings"
)

// Record is one embedded chunk. ChunkID is the chunk's 0-based position in its owner document.
type Record struct {
	OwnerID   string
	ChunkID   int
	ChunkText string
	Vector    []float32
}

// SearchResult is one ranked match. Score is cosine similarity in [-1, 1].
type SearchResult struct {
	ChunkText string  `json:"chunkText"`
	ChunkID   int     `json:"chunkId"`
	Score     float64 `json:"score"`
}

// Filter narrows Delete, Search and Count. Empty OwnerID matches every owner.
// MinChunkID, when set, keeps only chunk ids >= *MinChunkID.
type Filter struct {
	OwnerID    string
	MinChunkID *int
}

// OwnerFilter is shorthand for a Filter on one owner.
func OwnerFilter(ownerID string) Filter {
	return Filter{OwnerID: ownerID}
}

func (f Filter) matches(r Record) bool {
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}

	return f.MinChunkID == nil || r.ChunkID >= *f.MinChunkID
}

// Index is a vector store. Implementations are safe for concurrent use.
type Index interface {
	// EnsureCollection creates the collection and its cosine ANN index when absent.
	// Concurrent callers never fail or duplicate it. An existing collection with a
	// different dimension is a ConfigurationError.
	EnsureCollection(ctx context.Context, name string, dimension int) (string, error)
	HasCollection(ctx context.Context, name string) (bool, error)
	// Insert appends records; it does not deduplicate by (owner, chunk).
	Insert(ctx context.Context, collection string, records []Record) error
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)
	// Replace swaps every record of ownerID for records, as atomically as the backend allows.
	Replace(ctx context.Context, collection, ownerID string, records []Record) error
	// Search returns at most topK records ordered by non-increasing Score.
	Search(ctx context.Context, collection string, query []float32, filter Filter, topK int) ([]SearchResult, error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
}

var collectionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidateCollectionName rejects names that are not safe as SQL identifiers or URL path segments.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return huberrors.NewConfigurationError("collection",
			fmt.Sprintf("invalid collection name %q: use lowercase letters, digits and underscores", name))
	}

	return nil
}

func validateEnsure(name string, dimension int) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	if dimension <= 0 {
		return huberrors.NewConfigurationError("EMBEDDING_DIMENSIONS",
			fmt.Sprintf("collection dimension must be positive, got %d", dimension))
	}

	return nil
}

func missingCollection(name string) error {
	return huberrors.NewConfigurationError("collection", fmt.Sprintf("collection %q does not exist", name))
}

func dimensionMismatch(collection string, want, got int) error {
	return huberrors.NewConfigurationError("EMBEDDING_DIMENSIONS",
		fmt.Sprintf("collection %q has dimension %d, got vector of dimension %d", collection, want, got))
}

// checkRecords verifies every vector has the collection dimension and every record an owner.
func checkRecords(collection string, dimension int, records []Record) error {
	for _, r := range records {
		if r.OwnerID == "" {
			return huberrors.NewValidationError("ownerId", "record owner id is required")
		}

		if r.ChunkID < 0 {
			return huberrors.NewValidationError("chunkId", fmt.Sprintf("chunk id %d is negative", r.ChunkID))
		}

		if len(r.Vector) != dimension {
			return dimensionMismatch(collection, dimension, len(r.Vector))
		}
	}

	return nil
}

func checkReplaceOwner(ownerID string, records []Record) error {
	if ownerID == "" {
		return huberrors.NewValidationError("ownerId", "owner id is required")
	}

	for _, r := range records {
		if r.OwnerID != ownerID {
			return huberrors.NewValidationError("ownerId",
				fmt.Sprintf("record owner %q does not match %q", r.OwnerID, ownerID))
		}
	}

	return nil
}
