package handler

import (
	"log/slog"
	"net/http"

	"github.com/evetabi/snipe/internal/api/middleware"
	"github.com/evetabi/snipe/internal/service"
	"github.com/gin-gonic/gin"
)

// TickHandler lets an operator trigger a reconciliation pass.
type TickHandler struct {
	reconcileSvc *service.ReconcileService
	logger       *slog.Logger
}

// NewTickHandler creates a TickHandler.
func NewTickHandler(reconcileSvc *service.ReconcileService, logger *slog.Logger) *TickHandler {
	return &TickHandler{reconcileSvc: reconcileSvc, logger: logger}
}

// Tick godoc
// POST /api/tick [JWT]
// Runs one pass synchronously and returns its report. 409 while another
// pass is running.
func (h *TickHandler) Tick(c *gin.Context) {
	h.logger.Info("manual tick requested", "operator", middleware.GetOperator(c))

	report, err := h.reconcileSvc.Tick(c.Request.Context())
	if err != nil {
		respondDomainError(c, err, "tick failed")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"report": report,
		"errors": report.ErrorMessages(),
	})
}
