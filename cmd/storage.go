package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/kozaktomas/photo-grouper/internal/config"
	"github.com/kozaktomas/photo-grouper/internal/database"
	"github.com/kozaktomas/photo-grouper/internal/database/postgres"
)

// storage bundles the embedding cache and run store. Without DATABASE_URL the
// cache lives in memory and runs cannot be saved.
type storage struct {
	cache database.EmbeddingCache
	runs  database.RunStore
	pool  *postgres.Pool
}

func openStorage(ctx context.Context, cfg *config.Config, status io.Writer) (*storage, error) {
	if cfg.Database.URL == "" {
		return &storage{cache: database.NewMemoryCache()}, nil
	}

	fmt.Fprintln(status, "Connecting to PostgreSQL...")
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	embeddings := postgres.NewEmbeddingRepository(pool)
	if count, err := embeddings.Count(ctx); err == nil {
		fmt.Fprintf(status, "Cached embeddings in database: %d\n", count)
	}

	return &storage{
		cache: embeddings,
		runs:  postgres.NewRunRepository(pool),
		pool:  pool,
	}, nil
}

func (s *storage) persistent() bool {
	return s.pool != nil
}

func (s *storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
