package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jmallard/commentcue/dispatch"
	"github.com/jmallard/commentcue/telemetry"
)

// HandlePoll runs one poll/dispatch cycle and reports the outcome. Intended
// to be hit by an external scheduler; see pollAuth for access control.
func (h *Handlers) HandlePoll(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())

	report, err := dispatch.Run(r.Context(), h.db, h.yt)
	if err != nil {
		log.Error("poll run failed", slog.Any("err", err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
		*dispatch.Report
	}{Status: "complete", Report: report})
}
