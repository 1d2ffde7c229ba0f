package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/goclaw/simnet/pkg/engine"
	"github.com/goclaw/simnet/pkg/simulation"
	"github.com/goclaw/simnet/pkg/storage"
)

// ErrorResponse is the error envelope of every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Error codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
)

// ErrInternalServer is reported for failures with no better description.
var ErrInternalServer = errors.New("internal server error")

// HTTPStatusFromError maps run, storage and engine errors to a status.
func HTTPStatusFromError(err error) int {
	var (
		notFound    *storage.NotFoundError
		unavailable *storage.StorageUnavailableError
		notActive   *engine.RunNotActiveError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, simulation.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.As(err, &notActive):
		return http.StatusConflict
	case errors.As(err, &unavailable), errors.Is(err, engine.ErrEngineShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCodeFromStatus returns the envelope code for status.
func ErrorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusUnprocessableEntity:
		return ErrCodeValidationFailed
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavailable
	case http.StatusGatewayTimeout:
		return ErrCodeGatewayTimeout
	default:
		return ErrCodeInternalServer
	}
}

// HandleError writes err with the status and code it maps to. Internal
// errors are not echoed to the client.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status := HTTPStatusFromError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = ErrInternalServer.Error()
	}
	Error(w, status, ErrorCodeFromStatus(status), msg, requestID)
}
