package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/okian/autoscale/internal/domain/model"
)

// ResultsHandler exposes the latest result for an event together with
// the per-event aggregates.
type ResultsHandler struct {
	deps Dependencies
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps Dependencies) *ResultsHandler {
	return &ResultsHandler{deps: deps}
}

type resultResponse struct {
	OK          bool                     `json:"ok"`
	EventID     string                   `json:"event_id"`
	SampleCount int                      `json:"sample_count"`
	PeakKG      float64                  `json:"peak_kg"`
	EventTime   time.Time                `json:"event_time"`
	DayPhase    model.DayPhase           `json:"day_phase"`
	Raw         model.Estimate           `json:"raw"`
	Consensus   *model.ConsensusEstimate `json:"consensus,omitempty"`
	Meta        model.ResultMeta         `json:"meta"`
	ComputedAt  time.Time                `json:"computed_at"`
}

// HandleEventResult handles GET /events/{id}/result requests.
func (h *ResultsHandler) HandleEventResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, ErrMethodNotAllowed)
		return
	}
	eventID := parseEventID(r.URL.Path)
	if eventID == "" {
		writeError(w, http.StatusBadRequest, ErrMissingEventID)
		return
	}

	event, result, err := h.deps.EventResult(r.Context(), eventID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	eventTime := event.Time()
	writeJSON(w, http.StatusOK, resultResponse{
		OK:          true,
		EventID:     event.ID,
		SampleCount: event.SampleCount,
		PeakKG:      event.PeakKG,
		EventTime:   eventTime,
		DayPhase:    model.PhaseOf(eventTime),
		Raw:         result.Raw,
		Consensus:   result.Consensus,
		Meta:        result.Meta,
		ComputedAt:  result.ComputedAt,
	})
}

// parseEventID extracts {id} from /events/{id}/result.
func parseEventID(path string) string {
	rest := strings.TrimPrefix(path, "/events/")
	rest = strings.TrimSuffix(rest, "/result")
	if rest == path || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}
