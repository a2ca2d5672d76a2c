package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/riteshkumar/banking-core/internal/logger"
	"github.com/riteshkumar/banking-core/internal/service"
	u "github.com/riteshkumar/banking-core/internal/utils"
)

type AuditHandler struct {
	auditService service.AuditService
	logger       zerolog.Logger
}

func NewAuditHandler(auditService service.AuditService, logger zerolog.Logger) *AuditHandler {
	return &AuditHandler{auditService: auditService, logger: logger}
}

func (h *AuditHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/audit/{entity}/{id:[0-9]+}", h.GetAuditTrail).Methods(http.MethodGet)
}

func (h *AuditHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	id, err := u.PathID(r, "id")
	if err != nil {
		handleServiceError(w, log, err, "get audit trail")
		return
	}
	entityType := strings.ToUpper(mux.Vars(r)["entity"])

	logs, err := h.auditService.GetAuditTrail(r.Context(), principal, entityType, id)
	if err != nil {
		handleServiceError(w, log, err, "get audit trail")
		return
	}
	u.WriteJSON(w, http.StatusOK, logs)
}
