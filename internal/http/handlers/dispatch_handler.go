// Dispatch HTTP handlers.
//
// This file exposes the manual sweep trigger:
//   - POST /dispatch/sweep   (claim and process one batch of due queue items)
//
// The background loop runs sweeps on an interval; this endpoint exists for
// operators who want to drain the queue immediately after an incident, and
// for integration tests that need deterministic sweep timing.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/replyflow/go-autoreply-backend/internal/services"
)

// SweepResponse wraps the processing summary of one sweep.
type SweepResponse struct {
	Summary services.SweepSummary `json:"summary"`
}

// TriggerSweep runs one dispatch sweep synchronously and reports the summary.
func (h *Handlers) TriggerSweep(c *gin.Context) {
	sum := h.dispatchSvc.Sweep(c.Request.Context())
	ok(c, http.StatusOK, SweepResponse{Summary: sum})
}
