package httpapi

import (
	"net/http"
	"slices"
	"strings"

	"github.com/ent0n29/clinicguard/internal/observability"
)

// handlePerfLatency reports the rolling per-stage latency window.
// ?stage=a,b narrows the stages; ?reset=1 clears the window after reading.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.TurnStageSnapshot{Stages: []observability.TurnStageStats{}})
		return
	}
	snap := s.metrics.SnapshotTurnStages()
	if raw := strings.TrimSpace(r.URL.Query().Get("stage")); raw != "" {
		want := strings.Split(raw, ",")
		snap.Stages = slices.DeleteFunc(snap.Stages, func(st observability.TurnStageStats) bool {
			return !slices.Contains(want, st.Stage)
		})
	}
	if r.URL.Query().Get("reset") == "1" {
		s.metrics.ResetTurnStages()
	}
	respondJSON(w, http.StatusOK, snap)
}
