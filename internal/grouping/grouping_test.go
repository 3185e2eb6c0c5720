package grouping

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseTime = "2024:06:15 10:00:00"

func record(vec []float32, ts string) ImageRecord {
	return ImageRecord{
		Metadata:      map[string]string{DefaultDateTimeKey: ts},
		FeatureVector: vec,
	}
}

func at(offset time.Duration) string {
	t, err := ParseTimestamp(baseTime)
	if err != nil {
		panic(err)
	}
	return t.Add(offset).Format(TimestampLayout)
}

func groupsOf(records []ImageRecord) []int {
	out := make([]int, len(records))
	for i := range records {
		out[i] = records[i].Group
	}
	return out
}

func mustGrouper(t *testing.T, opts Options) *Grouper {
	t.Helper()
	g, err := NewGrouper(opts)
	require.NoError(t, err)
	return g
}

// matrixFrom builds a symmetric matrix with a unit diagonal from the given
// upper-triangle entries.
func matrixFrom(n int, upper map[[2]int]float64) *SimilarityMatrix {
	m := NewSimilarityMatrix(n)
	for i := range n {
		m.Set(i, i, 1)
	}
	for k, v := range upper {
		m.Set(k[0], k[1], v)
	}
	return m
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		field string
	}{
		{"valid", Options{TimeThreshold: time.Minute, SimilarityThreshold: 0.8}, ""},
		{"bounds inclusive", Options{SimilarityThreshold: -1}, ""},
		{"upper bound inclusive", Options{SimilarityThreshold: 1}, ""},
		{"similarity too high", Options{SimilarityThreshold: 1.01}, "similarity threshold"},
		{"similarity too low", Options{SimilarityThreshold: -1.5}, "similarity threshold"},
		{"similarity NaN", Options{SimilarityThreshold: math.NaN()}, "similarity threshold"},
		{"negative window", Options{TimeThreshold: -time.Second}, "time threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNewGrouper_DefaultsDateTimeKey(t *testing.T) {
	g := mustGrouper(t, Options{SimilarityThreshold: 0.5})
	assert.Equal(t, DefaultDateTimeKey, g.Options().DateTimeKey)

	_, err := NewGrouper(Options{SimilarityThreshold: 2})
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestAssignGroups_Scenarios(t *testing.T) {
	similarities := map[[2]int]float64{{0, 1}: 0.95, {0, 2}: 0.10, {1, 2}: 0.12}
	window := time.Minute

	t.Run("all within window", func(t *testing.T) {
		times := []time.Time{mustTime(0), mustTime(10 * time.Second), mustTime(20 * time.Second)}
		got := assignGroups(matrixFrom(3, similarities), times, 0.8, window)
		assert.Equal(t, []int{0, 0, 2}, got)
	})

	t.Run("record 1 outside window", func(t *testing.T) {
		times := []time.Time{mustTime(0), mustTime(window + time.Second), mustTime(0)}
		got := assignGroups(matrixFrom(3, similarities), times, 0.8, window)
		assert.Equal(t, []int{0, 1, 2}, got)
	})
}

func TestAssignGroups_ForwardOnly(t *testing.T) {
	times := []time.Time{mustTime(0), mustTime(0), mustTime(0), mustTime(0)}

	t.Run("chain propagates forward", func(t *testing.T) {
		m := matrixFrom(3, map[[2]int]float64{{0, 1}: 0.9, {1, 2}: 0.9, {0, 2}: 0.1})
		assert.Equal(t, []int{0, 0, 0}, assignGroups(m, times[:3], 0.5, time.Minute))
	})

	t.Run("later reference overwrites candidate", func(t *testing.T) {
		// 2 joins 0 first, then row 1 claims it; nothing merges 0 and 1 afterwards.
		m := matrixFrom(3, map[[2]int]float64{{0, 1}: 0.1, {0, 2}: 0.9, {1, 2}: 0.9})
		assert.Equal(t, []int{0, 1, 1}, assignGroups(m, times[:3], 0.5, time.Minute))
	})

	t.Run("out of window pair resets candidate", func(t *testing.T) {
		m := matrixFrom(3, map[[2]int]float64{{0, 1}: 0.9, {0, 2}: 0.9, {1, 2}: 0.1})
		late := []time.Time{mustTime(0), mustTime(0), mustTime(time.Hour)}
		assert.Equal(t, []int{0, 0, 2}, assignGroups(m, late, 0.5, time.Minute))
	})

	t.Run("inherited group passes on", func(t *testing.T) {
		m := matrixFrom(4, map[[2]int]float64{{0, 1}: 0.9, {1, 3}: 0.9})
		assert.Equal(t, []int{0, 0, 2, 0}, assignGroups(m, times, 0.5, time.Minute))
	})
}

func TestAssignGroups_ThresholdExcludesSelfPairs(t *testing.T) {
	times := []time.Time{mustTime(0), mustTime(0)}
	m := matrixFrom(2, map[[2]int]float64{{0, 1}: 1})
	assert.Equal(t, []int{0, 1}, assignGroups(m, times, 1, time.Minute))
}

func mustTime(offset time.Duration) time.Time {
	t, err := ParseTimestamp(at(offset))
	if err != nil {
		panic(err)
	}
	return t
}

func TestApply_EmptyBatch(t *testing.T) {
	g := mustGrouper(t, Options{SimilarityThreshold: 0.5})

	got, err := g.Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = g.Apply(context.Background(), []ImageRecord{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestApply_TimeWindowBoundary(t *testing.T) {
	window := 5 * time.Minute
	g := mustGrouper(t, Options{TimeThreshold: window, SimilarityThreshold: 0.9})
	vec := []float32{0.2, 0.4, 0.6}

	records := []ImageRecord{record(vec, at(0)), record(vec, at(window))}
	got, err := g.Apply(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, groupsOf(got))

	records = []ImageRecord{record(vec, at(0)), record(vec, at(window+time.Second))}
	got, err = g.Apply(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, groupsOf(got))

	// Earlier candidate, same rule.
	records = []ImageRecord{record(vec, at(window)), record(vec, at(0))}
	got, err = g.Apply(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, groupsOf(got))
}

func TestApply_SimilarityThresholdIsStrict(t *testing.T) {
	records := func() []ImageRecord {
		return []ImageRecord{
			record([]float32{1, 0}, at(0)),
			record([]float32{0, 1}, at(time.Second)),
		}
	}

	g := mustGrouper(t, Options{TimeThreshold: time.Hour, SimilarityThreshold: 0})
	got, err := g.Apply(context.Background(), records())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, groupsOf(got))

	g = mustGrouper(t, Options{TimeThreshold: time.Hour, SimilarityThreshold: -1e-9})
	got, err = g.Apply(context.Background(), records())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, groupsOf(got))
}

func TestApply_CustomDateTimeKey(t *testing.T) {
	g := mustGrouper(t, Options{TimeThreshold: time.Minute, SimilarityThreshold: 0.5, DateTimeKey: "DateTimeOriginal"})
	records := []ImageRecord{
		{Metadata: map[string]string{"DateTimeOriginal": at(0)}, FeatureVector: []float32{1, 1}},
		{Metadata: map[string]string{"DateTimeOriginal": at(30 * time.Second)}, FeatureVector: []float32{1, 1.1}},
	}

	got, err := g.Apply(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, groupsOf(got))
}

func TestApply_MutatesInPlace(t *testing.T) {
	g := mustGrouper(t, Options{TimeThreshold: time.Minute, SimilarityThreshold: 0.5})
	records := []ImageRecord{
		record([]float32{1, 0}, at(0)),
		record([]float32{0, 1}, at(0)),
		record([]float32{1, 0.05}, at(0)),
	}

	got, err := g.Apply(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Same(t, &records[0], &got[0])
	assert.Equal(t, []int{0, 1, 0}, groupsOf(records))
}

func TestApply_Idempotent(t *testing.T) {
	vectors := randomVectors(40, 12, 99)
	records := make([]ImageRecord, len(vectors))
	for i, v := range vectors {
		records[i] = record(v, at(time.Duration(i*17)*time.Second))
	}

	g := mustGrouper(t, Options{TimeThreshold: 2 * time.Minute, SimilarityThreshold: 0.2, Workers: 4})

	first, err := g.Apply(context.Background(), records)
	require.NoError(t, err)
	firstGroups := groupsOf(first)

	second, err := g.Apply(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, firstGroups, groupsOf(second))
}

func TestApply_EveryRecordGetsValidGroup(t *testing.T) {
	for _, threshold := range []float64{-1, -0.2, 0, 0.3, 0.9, 1} {
		t.Run(fmt.Sprintf("threshold %.1f", threshold), func(t *testing.T) {
			vectors := randomVectors(25, 6, 5)
			records := make([]ImageRecord, len(vectors))
			for i, v := range vectors {
				records[i] = record(v, at(time.Duration(i)*time.Minute))
				records[i].Group = -1
			}

			g := mustGrouper(t, Options{TimeThreshold: 3 * time.Minute, SimilarityThreshold: threshold})
			got, err := g.Apply(context.Background(), records)
			require.NoError(t, err)

			seen := make(map[int]bool)
			for i := range got {
				assert.GreaterOrEqual(t, got[i].Group, 0)
				assert.Less(t, got[i].Group, len(got))
				seen[got[i].Group] = true
			}
			assert.LessOrEqual(t, len(seen), len(got))
		})
	}
}

func TestApply_TimestampErrors(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		wrapsErr bool
	}{
		{"missing key", map[string]string{"Model": "X100V"}, false},
		{"empty value", map[string]string{DefaultDateTimeKey: ""}, false},
		{"nil metadata", nil, false},
		{"iso format", map[string]string{DefaultDateTimeKey: "2024-06-15T10:00:00Z"}, true},
		{"garbage", map[string]string{DefaultDateTimeKey: "yesterday"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []ImageRecord{
				record([]float32{1, 2}, at(0)),
				{Metadata: tt.metadata, FeatureVector: []float32{1, 2}, Group: -7},
			}
			records[0].Group = -7

			g := mustGrouper(t, Options{TimeThreshold: time.Minute, SimilarityThreshold: 0.5})
			got, err := g.Apply(context.Background(), records)
			require.Error(t, err)
			assert.Nil(t, got)

			var tsErr *MalformedTimestampError
			require.True(t, errors.As(err, &tsErr))
			assert.Equal(t, 1, tsErr.Index)
			assert.Equal(t, DefaultDateTimeKey, tsErr.Key)
			assert.Equal(t, tt.wrapsErr, errors.Unwrap(err) != nil)

			// Nothing is written on failure.
			assert.Equal(t, []int{-7, -7}, groupsOf(records))
		})
	}
}

func TestApply_InvalidVector(t *testing.T) {
	g := mustGrouper(t, Options{TimeThreshold: time.Minute, SimilarityThreshold: 0.5})
	records := []ImageRecord{
		record([]float32{1, 2}, at(0)),
		record([]float32{0, 0}, at(0)),
	}

	_, err := g.Apply(context.Background(), records)
	var vecErr *InvalidVectorError
	require.True(t, errors.As(err, &vecErr))
	assert.Equal(t, 1, vecErr.Index)
}
