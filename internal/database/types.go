package database

import (
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/photo-grouper/internal/grouping"
	"github.com/kozaktomas/photo-grouper/internal/metadata"
)

// StoredEmbedding is a cached image feature vector, keyed by the SHA-256 of
// the image file contents.
type StoredEmbedding struct {
	ContentHash string
	ImageName   string
	Embedding   []float32
	Model       string
	Dim         int
	CreatedAt   time.Time
}

// Run is one persisted grouping of a directory.
type Run struct {
	ID                  uuid.UUID
	SourceDir           string
	TimeThreshold       time.Duration
	SimilarityThreshold float64
	DateTimeKey         string
	Assignments         []Assignment
	CreatedAt           time.Time
}

// Assignment is the group of one image within a run, in input order.
type Assignment struct {
	Position  int
	ImageName string
	ImagePath string
	TakenAt   string
	Group     int
}

// NewRun builds a run from a grouped batch. Records keep their batch order.
func NewRun(sourceDir string, opts grouping.Options, records []grouping.ImageRecord) Run {
	key := opts.DateTimeKey
	if key == "" {
		key = grouping.DefaultDateTimeKey
	}

	run := Run{
		SourceDir:           sourceDir,
		TimeThreshold:       opts.TimeThreshold,
		SimilarityThreshold: opts.SimilarityThreshold,
		DateTimeKey:         key,
		Assignments:         make([]Assignment, len(records)),
	}
	for i, rec := range records {
		name := rec.Metadata[metadata.KeyImageName]
		if name == "" {
			name = rec.ID
		}
		run.Assignments[i] = Assignment{
			Position:  i,
			ImageName: name,
			ImagePath: rec.Metadata[metadata.KeyImagePath],
			TakenAt:   rec.Metadata[key],
			Group:     rec.Group,
		}
	}
	return run
}
