package grouping

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// SimilarityMatrix is a dense, symmetric N×N matrix of cosine similarities.
type SimilarityMatrix struct {
	n    int
	data []float64
}

// NewSimilarityMatrix allocates a zeroed n×n matrix.
func NewSimilarityMatrix(n int) *SimilarityMatrix {
	return &SimilarityMatrix{n: n, data: make([]float64, n*n)}
}

// Size returns N.
func (m *SimilarityMatrix) Size() int {
	return m.n
}

// At returns the similarity between records i and j.
func (m *SimilarityMatrix) At(i, j int) float64 {
	return m.data[i*m.n+j]
}

// Set writes the similarity of (i, j) and its mirror (j, i).
func (m *SimilarityMatrix) Set(i, j int, v float64) {
	m.data[i*m.n+j] = v
	m.data[j*m.n+i] = v
}

// Rows returns the matrix as a slice of rows, mainly for JSON output.
func (m *SimilarityMatrix) Rows() [][]float64 {
	rows := make([][]float64, m.n)
	for i := range rows {
		rows[i] = m.data[i*m.n : (i+1)*m.n : (i+1)*m.n]
	}
	return rows
}

// CosineSimilarity computes the cosine similarity between two vectors of the
// same length. Returns 0 when either vector has zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return clamp(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// clamp keeps floating point drift inside [-1, 1].
func clamp(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// validateVectors checks dimensionality and norms, returning the L2 norm of
// every vector.
func validateVectors(vectors [][]float32) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, nil
	}

	dim := len(vectors[0])
	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, &InvalidVectorError{Index: i, Reason: "empty vector"}
		}
		if len(v) != dim {
			return nil, &InvalidVectorError{
				Index:  i,
				Reason: fmt.Sprintf("dimension %d does not match batch dimension %d", len(v), dim),
			}
		}

		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
			return nil, &InvalidVectorError{Index: i, Reason: "vector norm is zero or not finite"}
		}
		norms[i] = math.Sqrt(sum)
	}
	return norms, nil
}

// ComputeSimilarity returns the pairwise cosine similarity matrix of vectors.
// Only the upper triangle is computed; rows are sharded over at most workers
// goroutines (GOMAXPROCS when workers <= 0) and mirrored once all of them finish.
func ComputeSimilarity(ctx context.Context, vectors [][]float32, workers int) (*SimilarityMatrix, error) {
	norms, err := validateVectors(vectors)
	if err != nil {
		return nil, err
	}

	n := len(vectors)
	m := NewSimilarityMatrix(n)
	if n == 0 {
		return m, nil
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range n {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row := m.data[i*n : (i+1)*n]
			row[i] = 1
			a := vectors[i]
			for j := i + 1; j < n; j++ {
				b := vectors[j]
				var dot float64
				for k := range a {
					dot += float64(a[k]) * float64(b[k])
				}
				row[j] = clamp(dot / (norms[i] * norms[j]))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("computing similarity matrix: %w", err)
	}

	// Mirror the upper triangle.
	for i := range n {
		for j := i + 1; j < n; j++ {
			m.data[j*n+i] = m.data[i*n+j]
		}
	}

	return m, nil
}
