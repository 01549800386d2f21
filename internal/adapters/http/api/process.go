package api

import (
	"net/http"
	"strconv"
)

// defaultBatch is the claim size when ?batch is absent or invalid.
const defaultBatch = 10

// ProcessHandler triggers one worker batch per invocation.
type ProcessHandler struct {
	deps Dependencies
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(deps Dependencies) *ProcessHandler {
	return &ProcessHandler{deps: deps}
}

type processAck struct {
	OK     bool `json:"ok"`
	Picked int  `json:"picked"`
}

// HandleProcess handles POST /process?batch=<n> requests.
func (h *ProcessHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, ErrMethodNotAllowed)
		return
	}
	batch := defaultBatch
	if raw := r.URL.Query().Get("batch"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			batch = n
		}
	}

	picked, err := h.deps.ProcessBatch(r.Context(), batch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processAck{OK: true, Picked: picked})
}
