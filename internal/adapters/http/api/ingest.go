package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"

	"github.com/okian/autoscale/internal/domain/model"
	"github.com/okian/autoscale/pkg/metrics"
)

// IngestHandler accepts captured weighing events from devices.
type IngestHandler struct {
	deps Dependencies
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(deps Dependencies) *IngestHandler {
	return &IngestHandler{deps: deps}
}

// ingestRequest mirrors the device wire format.
type ingestRequest struct {
	ScaleID   string       `json:"scale_id"`
	T0EpochMS *int64       `json:"t0_epoch_ms"`
	Samples   []wireSample `json:"samples"`
}

type wireSample struct {
	T  *float64 `json:"t"`
	KG *float64 `json:"kg"`
}

// validate checks the request shape and converts the samples. An empty
// samples array is a valid event (the worker closes its job with a
// "no samples" note); an absent or null samples key is not.
func (req ingestRequest) validate() ([]model.Sample, error) {
	if strings.TrimSpace(req.ScaleID) == "" {
		return nil, ErrMissingScaleID
	}
	if req.Samples == nil {
		return nil, ErrMissingSamples
	}
	samples := make([]model.Sample, len(req.Samples))
	for i, s := range req.Samples {
		if s.T == nil || s.KG == nil {
			return nil, ErrMalformedSample
		}
		t, kg := *s.T, *s.KG
		if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) || math.IsNaN(kg) || math.IsInf(kg, 0) {
			return nil, ErrMalformedSample
		}
		samples[i] = model.Sample{T: int64(t), KG: kg}
	}
	return samples, nil
}

type ingestAck struct {
	OK          bool    `json:"ok"`
	SampleCount int     `json:"sample_count"`
	PeakKG      float64 `json:"peak_kg"`
}

// HandleIngest handles POST /ingest requests.
func (h *IngestHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, ErrMethodNotAllowed)
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordIngestRejected("bad_json")
		writeError(w, http.StatusBadRequest, err)
		return
	}
	samples, err := req.validate()
	if err != nil {
		metrics.RecordIngestRejected("bad_request")
		writeError(w, http.StatusBadRequest, err)
		return
	}

	event, err := h.deps.IngestEvent(r.Context(), req.ScaleID, req.T0EpochMS, samples)
	if err != nil {
		metrics.RecordIngestRejected("service")
		writeServiceError(w, err)
		return
	}

	metrics.RecordEventIngested(event.SampleCount)
	writeJSON(w, http.StatusOK, ingestAck{
		OK:          true,
		SampleCount: event.SampleCount,
		PeakKG:      event.PeakKG,
	})
}
