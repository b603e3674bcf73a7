package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"anonfeedback-backend/internal/flow"
	"anonfeedback-backend/internal/payment"
	"anonfeedback-backend/internal/repository"
	"anonfeedback-backend/internal/wallet"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	return dec.Decode(dst)
}

// writeError maps domain errors onto HTTP statuses. Anything unrecognised is
// logged and reported as a 500 without detail.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verrs.Error()})
	case errors.Is(err, repository.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text must not be empty"})
	case flow.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, payment.ErrUnknownHandle):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, flow.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, wallet.ErrInvalidProof), errors.Is(err, wallet.ErrUnknownConnector):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, payment.ErrNotSupported), errors.Is(err, payment.ErrInvalidTransaction):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, payment.ErrProviderUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "payment provider unavailable, try again later"})
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
