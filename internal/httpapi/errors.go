// Package httpapi exposes the JSON HTTP surface: auth, provider config,
// document ingest, chat, and operational endpoints. All failures use the
// {"detail": ...} envelope and pass through the sanitizer.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/auth"
	"github.com/ragnote/ragcore/internal/configstore"
	"github.com/ragnote/ragcore/internal/db"
	"github.com/ragnote/ragcore/internal/pipeline"
	"github.com/ragnote/ragcore/internal/ratelimit"
	"github.com/ragnote/ragcore/internal/sanitize"
	"github.com/ragnote/ragcore/internal/sessionval"
	"github.com/ragnote/ragcore/internal/store"
)

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes the error envelope.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps an error to its HTTP status. Messages that are not
// explicitly client-facing pass through the sanitizer.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error, retryAfter int) {
	var authVE *auth.ValidationError
	var pipeVE *pipeline.ValidationError

	switch {
	case errors.As(err, &authVE):
		writeDetail(w, http.StatusBadRequest, authVE.Msg)
	case errors.As(err, &pipeVE):
		writeDetail(w, http.StatusBadRequest, pipeVE.Msg)
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenInvalid):
		writeDetail(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrBadCode),
		errors.Is(err, auth.ErrEmailNotFound),
		errors.Is(err, auth.ErrEmailRegistered),
		errors.Is(err, auth.ErrUsernameExists):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sessionval.ErrNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sessionval.ErrAccessDenied),
		errors.Is(err, sessionval.ErrExpired):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Not found")
	case errors.Is(err, ratelimit.ErrRateLimited):
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		writeDetail(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, configstore.ErrConfigMissing):
		writeDetail(w, http.StatusBadRequest, "API configuration missing. Please save your provider settings first.")
	case errors.Is(err, db.ErrPoolExhausted):
		logger.Error("Pool exhausted", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, sanitize.Error(err))
	default:
		logger.Error("Request failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, sanitize.Error(err))
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// identity pulls the authenticated caller; the middleware guarantees it
// on protected routes.
func identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return nil, false
	}
	return id, true
}
