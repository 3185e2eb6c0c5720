package processor

import (
	"fmt"
	"math"
	"slices"

	"github.com/kozaktomas/photo-grouper/internal/grouping"
)

// Normalisation strategies applied per feature across a batch.
const (
	NormaliseNone     = "none"
	NormaliseMinMax   = "minmax"   // scale each feature to [0, 1]
	NormaliseStandard = "standard" // zero mean, unit variance per feature
)

// ValidNormalise reports whether name is a known strategy. Empty means none.
func ValidNormalise(name string) bool {
	switch name {
	case "", NormaliseNone, NormaliseMinMax, NormaliseStandard:
		return true
	}
	return false
}

// Normalise rescales the feature vectors of records in place. A batch of
// fewer than two records is left alone since per-feature statistics need a
// spread. A record that scales to the zero vector (the per-feature minimum in
// every dimension under minmax, or the mean under standard) keeps its raw
// vector so it stays comparable instead of failing the whole batch.
func Normalise(records []grouping.ImageRecord, strategy string) error {
	if !ValidNormalise(strategy) {
		return fmt.Errorf("unknown normalisation %q (want %s, %s or %s)",
			strategy, NormaliseMinMax, NormaliseStandard, NormaliseNone)
	}
	if strategy == "" || strategy == NormaliseNone || len(records) < 2 {
		return nil
	}

	dim := len(records[0].FeatureVector)
	for i := range records {
		if len(records[i].FeatureVector) != dim {
			return &grouping.InvalidVectorError{
				Index:  i,
				Reason: fmt.Sprintf("dimension %d does not match batch dimension %d", len(records[i].FeatureVector), dim),
			}
		}
	}

	raw := make([][]float32, len(records))
	for i := range records {
		raw[i] = slices.Clone(records[i].FeatureVector)
	}

	for k := range dim {
		column := make([]float64, len(records))
		for i := range records {
			column[i] = float64(records[i].FeatureVector[k])
		}

		var scaled []float64
		if strategy == NormaliseMinMax {
			scaled = minMax(column)
		} else {
			scaled = standardise(column)
		}

		for i := range records {
			records[i].FeatureVector[k] = float32(scaled[i])
		}
	}

	for i := range records {
		if zeroNorm(records[i].FeatureVector) {
			records[i].FeatureVector = raw[i]
		}
	}
	return nil
}

func zeroNorm(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// minMax maps values to [0, 1]. A constant feature maps to 0.
func minMax(values []float64) []float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	out := make([]float64, len(values))
	span := hi - lo
	if span == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / span
	}
	return out
}

// standardise centres values and divides by the population standard
// deviation. A constant feature maps to 0.
func standardise(values []float64) []float64 {
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(values)))
	if std == 0 {
		std = 1
	}

	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}
