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

const IdempotencyKeyHeader = "Idempotency-Key"

type TransactionHandler struct {
	ledgerService service.LedgerService
	fraudService  service.FraudService
	logger        zerolog.Logger
}

func NewTransactionHandler(ledgerService service.LedgerService, fraudService service.FraudService, logger zerolog.Logger) *TransactionHandler {
	return &TransactionHandler{
		ledgerService: ledgerService,
		fraudService:  fraudService,
		logger:        logger,
	}
}

func (h *TransactionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/transactions", h.CreateTransaction).Methods(http.MethodPost)
	router.HandleFunc("/transactions", h.ListTransactions).Methods(http.MethodGet)
	router.HandleFunc("/transactions/{id:[0-9]+}", h.GetTransaction).Methods(http.MethodGet)
	router.HandleFunc("/transactions/{id:[0-9]+}/report", h.ReportTransaction).Methods(http.MethodPost)
}

// CreateTransaction always acts on the caller's own account.
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	var req models.CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("invalid create transaction request")
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	transaction, err := h.ledgerService.SubmitTransaction(r.Context(), &models.SubmitTransactionRequest{
		AccountID:       principal.AccountID,
		Type:            req.Type,
		Amount:          req.Amount,
		Description:     req.Description,
		CounterpartyRef: req.CounterpartyRef,
		IdempotencyKey:  r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		handleServiceError(w, log, err, "create transaction")
		return
	}

	u.WriteJSON(w, http.StatusCreated, transaction)
}

func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	page, limit, err := pagination(r)
	if err != nil {
		handleServiceError(w, log, err, "list transactions")
		return
	}

	query := r.URL.Query()
	result, err := h.ledgerService.ListTransactions(r.Context(), models.ListTransactionsQuery{
		AccountID: principal.AccountID,
		Page:      page,
		Limit:     limit,
		Sort:      models.TransactionSort(query.Get("sort")),
		Order:     models.SortOrder(query.Get("order")),
	})
	if err != nil {
		handleServiceError(w, log, err, "list transactions")
		return
	}

	u.WriteJSON(w, http.StatusOK, result)
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	id, err := u.PathID(r, "id")
	if err != nil {
		handleServiceError(w, log, err, "get transaction")
		return
	}

	transaction, err := h.ledgerService.GetTransaction(r.Context(), principal, id)
	if err != nil {
		handleServiceError(w, log, err, "get transaction")
		return
	}

	u.WriteJSON(w, http.StatusOK, transaction)
}

func (h *TransactionHandler) ReportTransaction(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	id, err := u.PathID(r, "id")
	if err != nil {
		handleServiceError(w, log, err, "report transaction")
		return
	}

	var req models.ReportTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("invalid report transaction request")
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	alert, err := h.fraudService.ReportTransaction(r.Context(), id, principal.AccountID, req.Reason)
	if err != nil {
		handleServiceError(w, log, err, "report transaction")
		return
	}

	u.WriteJSON(w, http.StatusOK, alert)
}
