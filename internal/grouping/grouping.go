// Package grouping clusters images that are both visually similar and
// captured close together in time.
//
// Group ids propagate forward only: pairs are visited row-major over the upper
// triangle of the similarity matrix and a candidate inherits whatever group its
// reference holds at that moment. Groups discovered through different reference
// chains are never merged afterwards, so the result depends on record order.
package grouping

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultDateTimeKey is the metadata key holding the capture timestamp.
	DefaultDateTimeKey = "DateTime"

	// TimestampLayout matches EXIF timestamps such as "2024:06:15 14:03:27".
	TimestampLayout = "2006:01:02 15:04:05"
)

// ImageRecord is one image of a batch.
type ImageRecord struct {
	ID            string            `json:"id"`
	Metadata      map[string]string `json:"metadata"`
	FeatureVector []float32         `json:"feature_vector"`
	Group         int               `json:"Group"`
}

// Options configures a Grouper.
type Options struct {
	TimeThreshold       time.Duration // maximum capture time difference, inclusive
	SimilarityThreshold float64       // pairs must be strictly above this
	DateTimeKey         string        // defaults to DefaultDateTimeKey
	Workers             int           // similarity matrix goroutines, <= 0 means GOMAXPROCS
}

// Validate checks that both thresholds are in range.
func (o Options) Validate() error {
	if math.IsNaN(o.SimilarityThreshold) || o.SimilarityThreshold < -1 || o.SimilarityThreshold > 1 {
		return &ConfigurationError{Field: "similarity threshold", Reason: "must be within [-1, 1]"}
	}
	if o.TimeThreshold < 0 {
		return &ConfigurationError{Field: "time threshold", Reason: "must not be negative"}
	}
	return nil
}

// Grouper assigns group ids to batches of image records.
type Grouper struct {
	opts Options
}

// NewGrouper validates opts and returns a Grouper.
func NewGrouper(opts Options) (*Grouper, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.DateTimeKey == "" {
		opts.DateTimeKey = DefaultDateTimeKey
	}
	return &Grouper{opts: opts}, nil
}

// Options returns the effective options.
func (g *Grouper) Options() Options {
	return g.opts
}

// Apply groups records in place and returns the same slice. On error no
// record is modified.
func (g *Grouper) Apply(ctx context.Context, records []ImageRecord) ([]ImageRecord, error) {
	if len(records) == 0 {
		return records, nil
	}

	times, err := parseTimestamps(records, g.opts.DateTimeKey)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(records))
	for i := range records {
		vectors[i] = records[i].FeatureVector
	}

	matrix, err := ComputeSimilarity(ctx, vectors, g.opts.Workers)
	if err != nil {
		return nil, err
	}

	groups := assignGroups(matrix, times, g.opts.SimilarityThreshold, g.opts.TimeThreshold)
	for i := range records {
		records[i].Group = groups[i]
	}
	return records, nil
}

// ParseTimestamp parses an EXIF style timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

func parseTimestamps(records []ImageRecord, key string) ([]time.Time, error) {
	times := make([]time.Time, len(records))
	for i := range records {
		value, ok := records[i].Metadata[key]
		if !ok || value == "" {
			return nil, &MalformedTimestampError{Index: i, Key: key}
		}
		t, err := ParseTimestamp(value)
		if err != nil {
			return nil, &MalformedTimestampError{Index: i, Key: key, Value: value, Err: err}
		}
		times[i] = t
	}
	return times, nil
}

// withinWindow reports whether candidate lies in [reference-window, reference+window].
func withinWindow(reference, candidate time.Time, window time.Duration) bool {
	d := candidate.Sub(reference)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// assignGroups runs the forward-only assignment pass. It must stay sequential:
// each pair may read the group written by an earlier pair.
func assignGroups(m *SimilarityMatrix, times []time.Time, similarity float64, window time.Duration) []int {
	n := m.Size()
	group := make([]int, n)
	assigned := make([]bool, n)

	for i := range n {
		for j := i; j < n; j++ {
			if m.At(i, j) <= similarity {
				continue
			}

			if !withinWindow(times[i], times[j], window) {
				group[j] = j
				assigned[j] = true
				continue
			}

			if assigned[i] {
				group[j] = group[i]
			} else {
				group[i] = i
				assigned[i] = true
				group[j] = i
			}
			assigned[j] = true
		}
	}

	// Only reachable when the threshold excludes self-pairs.
	for k := range n {
		if !assigned[k] {
			group[k] = k
		}
	}
	return group
}
