package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/models"
)

// UserLoader loads the account a token names. It returns (nil, nil) for
// unknown ids.
type UserLoader interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
}

type ctxKey struct{}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the authenticated user stored by Middleware.
func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*models.User)
	return u, ok && u != nil
}

// Middleware rejects requests without a valid bearer token for an active
// user, and stores the user in the request context.
func Middleware(issuer *Issuer, users UserLoader) func(http.Handler) http.Handler {
	log := logger.Get().Component("auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := issuer.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			u, err := users.GetUser(r.Context(), claims.UserID)
			if err != nil {
				log.Error().Err(err).Uint("user_id", claims.UserID).Msg("load user")
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if u == nil || !u.IsActive {
				writeError(w, http.StatusUnauthorized, "inactive or unknown user")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// RequireParse lets through users allowed to start parses. It must run
// after Middleware.
func RequireParse(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !u.CanParse && !u.IsSuperuser {
			writeError(w, http.StatusForbidden, "parsing is not enabled for this account")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		// browsers cannot set headers on websocket upgrades
		token = r.URL.Query().Get("token")
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
