package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-grouper/internal/database"
	"github.com/lib/pq"
)

// RunRepository stores grouping runs and their per-image assignments
type RunRepository struct {
	pool *Pool
}

// NewRunRepository creates a new PostgreSQL run repository
func NewRunRepository(pool *Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// SaveRun inserts the run and all assignments in one transaction.
func (r *RunRepository) SaveRun(ctx context.Context, run database.Run) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO grouping_runs (id, source_dir, time_threshold_ms, similarity_threshold, datetime_key, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, run.ID, run.SourceDir, run.TimeThreshold.Milliseconds(), run.SimilarityThreshold, run.DateTimeKey)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	if len(run.Assignments) > 0 {
		positions := make([]int64, len(run.Assignments))
		names := make([]string, len(run.Assignments))
		paths := make([]string, len(run.Assignments))
		takenAt := make([]string, len(run.Assignments))
		groups := make([]int64, len(run.Assignments))
		for i, a := range run.Assignments {
			positions[i] = int64(a.Position)
			names[i] = a.ImageName
			paths[i] = a.ImagePath
			takenAt[i] = a.TakenAt
			groups[i] = int64(a.Group)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO grouping_assignments (run_id, position, image_name, image_path, taken_at, group_id)
			SELECT $1, * FROM UNNEST($2::int[], $3::text[], $4::text[], $5::text[], $6::int[])
		`, run.ID, pq.Array(positions), pq.Array(names), pq.Array(paths), pq.Array(takenAt), pq.Array(groups))
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert assignments: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit run: %w", err)
	}
	return run.ID, nil
}

// GetRun returns the run with its assignments ordered by position, or nil if not found.
func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*database.Run, error) {
	run := database.Run{ID: id}
	var timeThresholdMs int64

	err := r.pool.QueryRow(ctx, `
		SELECT source_dir, time_threshold_ms, similarity_threshold, datetime_key, created_at
		FROM grouping_runs
		WHERE id = $1
	`, id).Scan(&run.SourceDir, &timeThresholdMs, &run.SimilarityThreshold, &run.DateTimeKey, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	run.TimeThreshold = time.Duration(timeThresholdMs) * time.Millisecond

	rows, err := r.pool.Query(ctx, `
		SELECT position, image_name, image_path, taken_at, group_id
		FROM grouping_assignments
		WHERE run_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a database.Assignment
		if err := rows.Scan(&a.Position, &a.ImageName, &a.ImagePath, &a.TakenAt, &a.Group); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		run.Assignments = append(run.Assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}

	return &run, nil
}
