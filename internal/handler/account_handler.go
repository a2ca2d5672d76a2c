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

type AccountHandler struct {
	accountService service.AccountService
	logger         zerolog.Logger
}

func NewAccountHandler(accountService service.AccountService, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logger:         logger,
	}
}

func (h *AccountHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	router.HandleFunc("/accounts/me", h.GetMyAccount).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id:[0-9]+}", h.GetAccount).Methods(http.MethodGet)
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	var req models.CreateAccountRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Warn().Err(err).Msg("invalid create account request")
			u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
			return
		}
	}

	account, err := h.accountService.CreateAccount(r.Context(), principal, &req)
	if err != nil {
		handleServiceError(w, log, err, "create account")
		return
	}

	u.WriteJSON(w, http.StatusCreated, account)
}

func (h *AccountHandler) GetMyAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	h.writeAccount(w, r, principal.AccountID)
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := u.PathID(r, "id")
	if err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid account id", err.Error())
		return
	}
	h.writeAccount(w, r, id)
}

func (h *AccountHandler) writeAccount(w http.ResponseWriter, r *http.Request, id int64) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	account, err := h.accountService.GetAccount(r.Context(), principal, id)
	if err != nil {
		handleServiceError(w, logger.FromContext(r.Context(), h.logger), err, "get account")
		return
	}

	u.WriteJSON(w, http.StatusOK, account)
}
