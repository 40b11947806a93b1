package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/blockedby/tgparser/internal/auth"
	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/parser"
	"github.com/blockedby/tgparser/internal/telegram"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondErr maps a domain error to its HTTP status.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	if rl, ok := telegram.AsRateLimit(err); ok {
		secs := int(math.Ceil(rl.Wait.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		respondError(w, http.StatusTooManyRequests, err.Error())
		return
	}

	switch {
	case errors.Is(err, parser.ErrValidation), errors.Is(err, telegram.ErrInvalidIdentifier),
		errors.Is(err, telegram.ErrInvalidSession), errors.Is(err, telegram.ErrEntityNotFound):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, telegram.ErrNotConfigured):
		respondError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, parser.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, parser.ErrStopped):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		ev := logger.Get().Component("api").Error().Err(err).Str("path", r.URL.Path)
		if u, ok := auth.UserFrom(r.Context()); ok {
			ev = ev.Uint("user_id", u.ID)
		}
		ev.Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
