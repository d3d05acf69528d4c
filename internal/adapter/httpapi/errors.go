package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

type errorBody struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

// statusOf maps a domain error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMaxRoundsReached),
		errors.Is(err, domain.ErrRoundTableNotActive),
		errors.Is(err, domain.ErrJobNotPending):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrWorkerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrProviderError),
		errors.Is(err, domain.ErrAuthInvalid),
		errors.Is(err, domain.ErrCircuitOpen),
		errors.Is(err, domain.ErrStreamFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody{Error: err.Error(), Code: domain.ErrorCodeOf(err)})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: domain.CodeInvalidInput})
}
