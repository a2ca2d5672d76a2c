package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/riteshkumar/banking-core/internal/logger"
	"github.com/riteshkumar/banking-core/internal/models"
	"github.com/riteshkumar/banking-core/internal/service"
	u "github.com/riteshkumar/banking-core/internal/utils"
)

type AlertHandler struct {
	fraudService service.FraudService
	logger       zerolog.Logger
}

func NewAlertHandler(fraudService service.FraudService, logger zerolog.Logger) *AlertHandler {
	return &AlertHandler{
		fraudService: fraudService,
		logger:       logger,
	}
}

func (h *AlertHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/alerts", h.ListMyAlerts).Methods(http.MethodGet)
	router.HandleFunc("/alerts/{id:[0-9]+}", h.GetAlert).Methods(http.MethodGet)
	router.HandleFunc("/admin/alerts", h.ListAlerts).Methods(http.MethodGet)
	router.HandleFunc("/admin/alerts/{id:[0-9]+}", h.UpdateAlert).Methods(http.MethodPut)
}

func (h *AlertHandler) ListMyAlerts(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	page, limit, err := pagination(r)
	if err != nil {
		handleServiceError(w, log, err, "list alerts")
		return
	}

	result, err := h.fraudService.ListUserAlerts(r.Context(), principal, page, limit)
	if err != nil {
		handleServiceError(w, log, err, "list alerts")
		return
	}
	u.WriteJSON(w, http.StatusOK, result)
}

func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	id, err := u.PathID(r, "id")
	if err != nil {
		handleServiceError(w, log, err, "get alert")
		return
	}

	alert, err := h.fraudService.GetAlert(r.Context(), principal, id)
	if err != nil {
		handleServiceError(w, log, err, "get alert")
		return
	}
	u.WriteJSON(w, http.StatusOK, alert)
}

// ListAlerts is the privileged review queue with an optional status filter.
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	page, limit, err := pagination(r)
	if err != nil {
		handleServiceError(w, log, err, "list alerts")
		return
	}

	q := models.ListAlertsQuery{Page: page, Limit: limit}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.AlertStatus(raw)
		q.Status = &status
	}

	result, err := h.fraudService.ListAlerts(r.Context(), principal, q)
	if err != nil {
		handleServiceError(w, log, err, "list alerts")
		return
	}
	u.WriteJSON(w, http.StatusOK, result)
}

func (h *AlertHandler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	id, err := u.PathID(r, "id")
	if err != nil {
		handleServiceError(w, log, err, "update alert")
		return
	}

	var req models.UpdateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("invalid update alert request")
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	alert, err := h.fraudService.UpdateAlertStatus(r.Context(), principal, id, &req)
	if err != nil {
		handleServiceError(w, log, err, "update alert")
		return
	}
	u.WriteJSON(w, http.StatusOK, alert)
}

func pagination(r *http.Request) (int, int, error) {
	page, err := u.QueryInt(r, "page")
	if err != nil {
		return 0, 0, err
	}
	limit, err := u.QueryInt(r, "limit")
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}
