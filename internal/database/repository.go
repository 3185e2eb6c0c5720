package database

import (
	"context"

	"github.com/google/uuid"
)

// EmbeddingCache stores encoder output so unchanged images are not re-encoded.
// Entries are keyed by content hash and model; vectors from different models
// are never interchangeable.
type EmbeddingCache interface {
	// Get returns the cached embedding for a content hash and model, or nil if not found
	Get(ctx context.Context, contentHash, model string) (*StoredEmbedding, error)
	// Save stores an embedding (upsert on hash and model)
	Save(ctx context.Context, emb StoredEmbedding) error
}

// RunWriter persists grouping runs
type RunWriter interface {
	// SaveRun stores the run and its assignments, returning the run ID
	SaveRun(ctx context.Context, run Run) (uuid.UUID, error)
}

// RunReader reads persisted grouping runs
type RunReader interface {
	// GetRun returns a run with its assignments, or nil if not found
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
}

// RunStore reads and writes grouping runs
type RunStore interface {
	RunWriter
	RunReader
}
