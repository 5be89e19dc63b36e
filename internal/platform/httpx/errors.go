// Package httpx provides HTTP response utilities.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

var kindStatus = map[shared.Kind]int{
	shared.KindUnauthenticated: http.StatusUnauthorized,
	shared.KindInvalidToken:    http.StatusUnauthorized,
	shared.KindForbidden:       http.StatusForbidden,
	shared.KindBadRequest:      http.StatusBadRequest,
	shared.KindNotFound:        http.StatusNotFound,
	shared.KindConflict:        http.StatusConflict,
	shared.KindTooManyRequests: http.StatusTooManyRequests,
	shared.KindInternal:        http.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind shared.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Responder renders domain errors as RFC7807 problems.
type Responder struct {
	Logger *slog.Logger
	// Debug exposes internal error causes. Never set in production.
	Debug bool
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func (rs Responder) RespondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := shared.KindOf(err)
	status := StatusFor(kind)
	detail := err.Error()
	if kind == shared.KindInternal {
		if rs.Logger != nil {
			rs.Logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		if !rs.Debug {
			detail = "internal server error"
		}
	}
	Problem(w, status, http.StatusText(status), detail, kind)
}
