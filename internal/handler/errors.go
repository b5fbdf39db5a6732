package handler

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/simatei/kpi/internal/gateway"
	"github.com/simatei/kpi/internal/permission"
	"github.com/simatei/kpi/internal/query"
	"github.com/simatei/kpi/internal/repository"
	"github.com/simatei/kpi/internal/service"
)

// writeServiceError maps a service error to a response. notFound is the
// status used when no submission matched.
func writeServiceError(w http.ResponseWriter, logger *log.Logger, err error, notFound int) {
	var (
		unsafe    *query.UnsafeQueryError
		transport *gateway.TransportError
		protocol  *gateway.ProtocolError
		semantic  *gateway.SemanticError
		payload   *service.BulkPayloadError
		invalid   *service.ValidationError
	)
	switch {
	case errors.As(err, &payload):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": payload.Reason})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{invalid.Field: invalid.Reason})
	case errors.As(err, &semantic):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": semantic.Reason})
	case errors.Is(err, repository.ErrNoMatchingSubmissions):
		writeJSON(w, notFound, map[string]string{"detail": err.Error()})
	case errors.Is(err, repository.ErrBadFormat), errors.Is(err, repository.ErrNotDeployed):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
	case errors.Is(err, permission.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": err.Error()})
	case errors.As(err, &transport):
		logger.Error("remote unreachable", "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "could not reach KoBoCAT"})
	case errors.As(err, &protocol), errors.As(err, &unsafe),
		errors.Is(err, service.ErrMalformedSubmissionXML), errors.Is(err, service.ErrDuplicationFailed):
		logger.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
	default:
		logger.Error("unexpected error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
