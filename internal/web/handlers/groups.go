package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/photo-grouper/internal/config"
	"github.com/kozaktomas/photo-grouper/internal/database"
	"github.com/kozaktomas/photo-grouper/internal/export"
	"github.com/kozaktomas/photo-grouper/internal/grouping"
)

// maxDurationSeconds is the largest whole number of seconds a time.Duration holds.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// Duration accepts either a Go duration string ("90s") or a number of seconds,
// and marshals as a duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err == nil {
		if math.IsNaN(seconds) || seconds < 0 || seconds*float64(time.Second) >= float64(math.MaxInt64) {
			return fmt.Errorf("duration of %v seconds is out of range [0, %d]", seconds, maxDurationSeconds)
		}
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// GroupsHandler groups batches of image records
type GroupsHandler struct {
	config *config.Config
	runs   database.RunStore
}

// NewGroupsHandler creates a groups handler. runs may be nil to disable saving.
func NewGroupsHandler(cfg *config.Config, runs database.RunStore) *GroupsHandler {
	return &GroupsHandler{
		config: cfg,
		runs:   runs,
	}
}

// GroupRequest is the body of POST /groups. Unset thresholds fall back to config.
type GroupRequest struct {
	Records             []grouping.ImageRecord `json:"records"`
	TimeThreshold       *Duration              `json:"time_threshold,omitempty"`
	SimilarityThreshold *float64               `json:"similarity_threshold,omitempty"`
	DateTimeKey         string                 `json:"datetime_key,omitempty"`
	Save                bool                   `json:"save,omitempty"`
	SourceDir           string                 `json:"source_dir,omitempty"`
}

type GroupResponse struct {
	Records []grouping.ImageRecord `json:"records"`
	Groups  []export.Group         `json:"groups"`
	RunID   *uuid.UUID             `json:"run_id,omitempty"`
}

func (h *GroupsHandler) options(req GroupRequest) grouping.Options {
	opts := h.config.Grouping.Options()
	if req.TimeThreshold != nil {
		opts.TimeThreshold = time.Duration(*req.TimeThreshold)
	}
	if req.SimilarityThreshold != nil {
		opts.SimilarityThreshold = *req.SimilarityThreshold
	}
	if req.DateTimeKey != "" {
		opts.DateTimeKey = req.DateTimeKey
	}
	return opts
}

// isClientError reports whether err was caused by the submitted batch or options.
func isClientError(err error) bool {
	var vecErr *grouping.InvalidVectorError
	var tsErr *grouping.MalformedTimestampError
	var cfgErr *grouping.ConfigurationError
	return errors.As(err, &vecErr) || errors.As(err, &tsErr) || errors.As(err, &cfgErr)
}

// Create groups the submitted records and optionally saves the run
func (h *GroupsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if limit := h.config.Web.MaxRecords; limit > 0 && len(req.Records) > limit {
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("too many records: %d (max %d)", len(req.Records), limit))
		return
	}
	if req.Save && h.runs == nil {
		respondError(w, http.StatusBadRequest, "run storage is not configured")
		return
	}

	grouper, err := grouping.NewGrouper(h.options(req))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := grouper.Apply(r.Context(), req.Records)
	if err != nil {
		if isClientError(err) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("grouping failed: %v", err)
		respondError(w, http.StatusInternalServerError, "grouping failed")
		return
	}
	if records == nil {
		records = []grouping.ImageRecord{}
	}

	resp := GroupResponse{
		Records: records,
		Groups:  export.Summarize(records, grouper.Options().DateTimeKey),
	}

	if req.Save {
		id, err := h.runs.SaveRun(r.Context(), database.NewRun(req.SourceDir, grouper.Options(), records))
		if err != nil {
			log.Printf("failed to save run for %s: %v", sanitizeForLog(req.SourceDir), err)
			respondError(w, http.StatusInternalServerError, "failed to save run")
			return
		}
		resp.RunID = &id
	}

	respondJSON(w, http.StatusOK, resp)
}
