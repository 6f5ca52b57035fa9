package server

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/json"
	"github.com/meridianhq/meridian/pkg/logger"
)

// errorBody is the wire shape of a failed request
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type              string `json:"type"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(errType errors.ErrorType) int {
	switch errType {
	case errors.ErrTypeInvalidCredentials, errors.ErrTypeAuthFailed:
		return http.StatusUnauthorized
	case errors.ErrTypeInvalidConnectorReference:
		return http.StatusNotFound
	case errors.ErrTypeUnsupportedOperation, errors.ErrTypeValidation:
		return http.StatusUnprocessableEntity
	case errors.ErrTypeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	structured := errors.AsError(err)
	status := statusFor(structured.Type)

	body := errorBody{Error: errorDetail{
		Type:              string(structured.Type),
		Message:           structured.Message,
		RetryAfterSeconds: structured.RetryAfter,
	}}
	if structured.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(structured.RetryAfter))
	}

	writeJSON(w, r, status, body)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.WithContext(r.Context()).Error("response encoding failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

