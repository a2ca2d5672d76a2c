package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/riteshkumar/banking-core/internal/errors"
	u "github.com/riteshkumar/banking-core/internal/utils"
)

// handleServiceError maps the domain error taxonomy onto HTTP statuses.
// Anything unrecognized is logged and hidden behind a generic 500.
func handleServiceError(w http.ResponseWriter, logger zerolog.Logger, err error, action string) {
	switch {
	case errors.IsValidationError(err):
		u.WriteError(w, http.StatusBadRequest, "validation error", err.Error())
	case errors.IsUnauthorized(err):
		u.WriteError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.IsNotFound(err):
		u.WriteError(w, http.StatusNotFound, "not found", err.Error())
	case errors.IsInsufficientFunds(err):
		u.WriteError(w, http.StatusConflict, "insufficient funds", "account balance is lower than the requested amount")
	case errors.IsConflict(err):
		u.WriteError(w, http.StatusConflict, "conflict", err.Error())
	case errors.IsTransient(err):
		logger.Warn().Err(err).Msg("transient failure during " + action)
		u.WriteError(w, http.StatusServiceUnavailable, "service unavailable", "please retry later")
	default:
		logger.Error().Err(err).Msg("internal server error during " + action)
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
