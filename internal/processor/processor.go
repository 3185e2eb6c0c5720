// Package processor turns a directory of images into grouping records:
// EXIF metadata plus a feature vector per image.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/kozaktomas/photo-grouper/internal/database"
	"github.com/kozaktomas/photo-grouper/internal/grouping"
	"github.com/kozaktomas/photo-grouper/internal/metadata"
)

// Encoder computes a feature vector for prepared image bytes.
type Encoder interface {
	ComputeEmbedding(ctx context.Context, imageData []byte) ([]float32, error)
}

type Processor struct {
	encoder Encoder
	cache   database.EmbeddingCache
	maxSize int
	model   string
}

// New creates a processor. cache may be nil to always call the encoder.
func New(encoder Encoder, cache database.EmbeddingCache, maxSize int, model string) *Processor {
	return &Processor{
		encoder: encoder,
		cache:   cache,
		maxSize: maxSize,
		model:   model,
	}
}

// ProgressInfo contains progress information for callbacks
type ProgressInfo struct {
	Current   int
	Total     int
	ImageName string
	Cached    bool
	Err       error
}

type Options struct {
	Extension   string // file extension without dot, matched case-insensitively
	Normalise   string // NormaliseMinMax, NormaliseStandard or NormaliseNone
	SortBy      string // metadata key to sort by, empty keeps directory order
	RequireKey  string // images without this metadata key are skipped and reported
	Concurrency int
	OnProgress  func(ProgressInfo) // optional, called once per image
}

type Result struct {
	Records []grouping.ImageRecord
	Errors  []error // per-image failures, those images are not in Records
	Cached  int     // images whose vector came from the cache
}

// ListImages returns the paths in dir with the given extension, sorted by name.
func ListImages(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	suffix := "." + strings.TrimPrefix(ext, ".")
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), suffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	slices.Sort(paths)
	return paths, nil
}

// ProcessImage reads one image, extracts its metadata and computes its feature vector.
func (p *Processor) ProcessImage(ctx context.Context, path string) (grouping.ImageRecord, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return grouping.ImageRecord{}, false, fmt.Errorf("failed to read image: %w", err)
	}

	md := metadata.Extract(data)
	name := filepath.Base(path)
	md[metadata.KeyImagePath] = path
	md[metadata.KeyImageName] = name

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if p.cache != nil {
		stored, err := p.cache.Get(ctx, hash, p.model)
		if err != nil {
			return grouping.ImageRecord{}, false, fmt.Errorf("failed to read embedding cache: %w", err)
		}
		if stored != nil {
			return grouping.ImageRecord{ID: name, Metadata: md, FeatureVector: stored.Embedding}, true, nil
		}
	}

	prepared, err := metadata.PrepareImage(data, md.Orientation(), p.maxSize)
	if err != nil {
		return grouping.ImageRecord{}, false, err
	}

	vec, err := p.encoder.ComputeEmbedding(ctx, prepared)
	if err != nil {
		return grouping.ImageRecord{}, false, fmt.Errorf("failed to compute embedding: %w", err)
	}

	if p.cache != nil {
		err := p.cache.Save(ctx, database.StoredEmbedding{
			ContentHash: hash,
			ImageName:   name,
			Embedding:   vec,
			Model:       p.model,
			Dim:         len(vec),
		})
		if err != nil {
			return grouping.ImageRecord{}, false, fmt.Errorf("failed to store embedding: %w", err)
		}
	}

	return grouping.ImageRecord{ID: name, Metadata: md, FeatureVector: vec}, false, nil
}

type imageResult struct {
	record grouping.ImageRecord
	cached bool
	err    error
}

// ProcessDir processes every matching image in dir with a bounded worker pool.
// Failing images are collected in Result.Errors and left out of the batch.
func (p *Processor) ProcessDir(ctx context.Context, dir string, opts Options) (*Result, error) {
	if !ValidNormalise(opts.Normalise) {
		return nil, fmt.Errorf("unknown normalisation %q", opts.Normalise)
	}

	paths, err := ListImages(dir, opts.Extension)
	if err != nil {
		return nil, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]imageResult, len(paths))
	var mu sync.Mutex
	done := 0
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range paths {
		wg.Add(1)
		go func(idx int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var res imageResult
			if err := ctx.Err(); err != nil {
				res.err = err
			} else {
				res.record, res.cached, res.err = p.ProcessImage(ctx, path)
			}
			if res.err == nil && opts.RequireKey != "" && res.record.Metadata[opts.RequireKey] == "" {
				res.err = fmt.Errorf("missing %s metadata", opts.RequireKey)
			}
			if res.err != nil {
				res.err = fmt.Errorf("%s: %w", filepath.Base(path), res.err)
			}

			mu.Lock()
			results[idx] = res
			done++
			current := done
			mu.Unlock()

			if opts.OnProgress != nil {
				opts.OnProgress(ProgressInfo{
					Current:   current,
					Total:     len(paths),
					ImageName: filepath.Base(path),
					Cached:    res.cached,
					Err:       res.err,
				})
			}
		}(i, paths[i])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Records: make([]grouping.ImageRecord, 0, len(paths))}
	for _, res := range results {
		if res.err != nil {
			result.Errors = append(result.Errors, res.err)
			continue
		}
		if res.cached {
			result.Cached++
		}
		result.Records = append(result.Records, res.record)
	}

	if err := Normalise(result.Records, opts.Normalise); err != nil {
		return nil, fmt.Errorf("failed to normalise features: %w", err)
	}

	if opts.SortBy != "" {
		SortRecords(result.Records, opts.SortBy)
	}

	return result, nil
}

// SortRecords orders records by a metadata value. EXIF timestamps sort
// chronologically as strings. Records without the key go last; ties keep
// their current order.
func SortRecords(records []grouping.ImageRecord, key string) {
	slices.SortStableFunc(records, func(a, b grouping.ImageRecord) int {
		va, oka := a.Metadata[key]
		vb, okb := b.Metadata[key]
		switch {
		case oka && !okb:
			return -1
		case !oka && okb:
			return 1
		}
		return strings.Compare(va, vb)
	})
}
