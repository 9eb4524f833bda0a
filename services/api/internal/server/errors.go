package server

import (
	"errors"
	"net/http"
	"strings"

	"realestate360/internal/util"
	"realestate360/services/api/internal/app"
)

type errorResponse struct {
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorDetail(w, status, errorCode(status), msg, "")
}

func writeErrorDetail(w http.ResponseWriter, status int, code, msg, detail string) {
	writeJSON(w, status, errorResponse{
		Message:   msg,
		Error:     detail,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "VALIDATION_FAILED"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "INVALID_STATUS_TRANSITION"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusBadGateway:
		return "UPSTREAM_UNAVAILABLE"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}

// writeAppError maps store errors onto responses. notFound and failed are
// the messages for absent records and unexpected failures.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error, notFound, failed string) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Msg)
	case errors.Is(err, app.ErrForbidden):
		s.audit(r, "api.ownership", "denied", "reason", err.Error())
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, app.ErrInvalidTransition):
		writeErrorDetail(w, http.StatusConflict, errorCode(http.StatusConflict),
			"Appointment cannot move to the requested status", err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error(failed, "err", err)
		writeError(w, http.StatusInternalServerError, failed)
	}
}
