package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-grouper/internal/database"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingRepository provides PostgreSQL-backed embedding storage
type EmbeddingRepository struct {
	pool *Pool
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

// Get retrieves the embedding a model produced for the content hash,
// returns nil if not found
func (r *EmbeddingRepository) Get(ctx context.Context, contentHash, model string) (*database.StoredEmbedding, error) {
	query := `
		SELECT content_hash, image_name, embedding, model, dim, created_at
		FROM embeddings
		WHERE content_hash = $1 AND model = $2
	`

	var emb database.StoredEmbedding
	var vec pgvector.Vector

	err := r.pool.QueryRow(ctx, query, contentHash, model).Scan(
		&emb.ContentHash,
		&emb.ImageName,
		&vec,
		&emb.Model,
		&emb.Dim,
		&emb.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	emb.Embedding = vec.Slice()
	return &emb, nil
}

// Save stores an embedding, replacing any earlier vector for the same hash and model
func (r *EmbeddingRepository) Save(ctx context.Context, emb database.StoredEmbedding) error {
	if emb.ContentHash == "" {
		return errors.New("content hash is required")
	}
	if len(emb.Embedding) == 0 {
		return errors.New("embedding is empty")
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO embeddings (content_hash, image_name, embedding, model, dim, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (content_hash, model)
		DO UPDATE SET image_name = EXCLUDED.image_name, embedding = EXCLUDED.embedding,
			dim = EXCLUDED.dim, created_at = NOW()
	`, emb.ContentHash, emb.ImageName, pgvector.NewVector(emb.Embedding), emb.Model, len(emb.Embedding))
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}

// Count returns the total number of embeddings stored
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}
