package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/photo-grouper/internal/database"
)

// RunsHandler serves saved grouping runs
type RunsHandler struct {
	runs database.RunReader
}

func NewRunsHandler(runs database.RunReader) *RunsHandler {
	return &RunsHandler{runs: runs}
}

type RunResponse struct {
	ID                   string               `json:"id"`
	SourceDir            string               `json:"source_dir"`
	TimeThresholdSeconds float64              `json:"time_threshold_seconds"`
	SimilarityThreshold  float64              `json:"similarity_threshold"`
	DateTimeKey          string               `json:"datetime_key"`
	CreatedAt            string               `json:"created_at"`
	Assignments          []AssignmentResponse `json:"assignments"`
}

type AssignmentResponse struct {
	Position  int    `json:"position"`
	ImageName string `json:"image_name"`
	ImagePath string `json:"image_path,omitempty"`
	TakenAt   string `json:"taken_at,omitempty"`
	Group     int    `json:"group"`
}

// Get returns one run with its assignments
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		log.Printf("failed to load run %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}

	resp := RunResponse{
		ID:                   run.ID.String(),
		SourceDir:            run.SourceDir,
		TimeThresholdSeconds: run.TimeThreshold.Seconds(),
		SimilarityThreshold:  run.SimilarityThreshold,
		DateTimeKey:          run.DateTimeKey,
		CreatedAt:            run.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Assignments:          make([]AssignmentResponse, len(run.Assignments)),
	}
	for i, a := range run.Assignments {
		resp.Assignments[i] = AssignmentResponse{
			Position:  a.Position,
			ImageName: a.ImageName,
			ImagePath: a.ImagePath,
			TakenAt:   a.TakenAt,
			Group:     a.Group,
		}
	}

	respondJSON(w, http.StatusOK, resp)
}
