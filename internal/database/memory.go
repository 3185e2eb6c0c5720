package database

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache is an in-process EmbeddingCache used when no database is configured.
type MemoryCache struct {
	mu         sync.RWMutex
	embeddings map[cacheKey]StoredEmbedding
}

type cacheKey struct {
	hash  string
	model string
}

// NewMemoryCache creates an empty cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{embeddings: make(map[cacheKey]StoredEmbedding)}
}

// Get returns a copy of the cached embedding, or nil if not found
func (c *MemoryCache) Get(_ context.Context, contentHash, model string) (*StoredEmbedding, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	emb, ok := c.embeddings[cacheKey{contentHash, model}]
	if !ok {
		return nil, nil
	}
	emb.Embedding = slices.Clone(emb.Embedding)
	return &emb, nil
}

// Save stores a copy of emb
func (c *MemoryCache) Save(_ context.Context, emb StoredEmbedding) error {
	emb.Embedding = slices.Clone(emb.Embedding)
	if emb.Dim == 0 {
		emb.Dim = len(emb.Embedding)
	}
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeddings[cacheKey{emb.ContentHash, emb.Model}] = emb
	return nil
}

// Len returns the number of cached embeddings
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.embeddings)
}

// MemoryRunStore keeps grouping runs in process memory.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[uuid.UUID]Run)}
}

// SaveRun stores a copy of run under a new ID
func (s *MemoryRunStore) SaveRun(_ context.Context, run Run) (uuid.UUID, error) {
	run.ID = uuid.New()
	run.CreatedAt = time.Now()
	run.Assignments = slices.Clone(run.Assignments)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return run.ID, nil
}

// GetRun returns a copy of the run, or nil if not found
func (s *MemoryRunStore) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	run.Assignments = slices.Clone(run.Assignments)
	return &run, nil
}
