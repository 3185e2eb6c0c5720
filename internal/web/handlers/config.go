package handlers

import (
	"net/http"

	"github.com/kozaktomas/photo-grouper/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config     *config.Config
	persistent bool
}

// NewConfigHandler creates a new config handler. persistent reports whether
// runs are stored in PostgreSQL rather than in memory.
func NewConfigHandler(cfg *config.Config, persistent bool) *ConfigHandler {
	return &ConfigHandler{
		config:     cfg,
		persistent: persistent,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	TimeThreshold        string  `json:"time_threshold"`
	TimeThresholdSeconds float64 `json:"time_threshold_seconds"`
	SimilarityThreshold  float64 `json:"similarity_threshold"`
	DateTimeKey          string  `json:"datetime_key"`
	Workers              int     `json:"workers"`
	MaxRecords           int     `json:"max_records"`
	PersistentRuns       bool    `json:"persistent_runs"`
}

// Get returns the active grouping defaults
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	g := h.config.Grouping
	respondJSON(w, http.StatusOK, ConfigResponse{
		TimeThreshold:        g.TimeThreshold.String(),
		TimeThresholdSeconds: g.TimeThreshold.Seconds(),
		SimilarityThreshold:  g.SimilarityThreshold,
		DateTimeKey:          g.DateTimeKey,
		Workers:              g.Workers,
		MaxRecords:           h.config.Web.MaxRecords,
		PersistentRuns:       h.persistent,
	})
}
