// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/drivebackup/internal/auth"
	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/models"
)

// ClaimsKey is the context key holding the validated *auth.Claims.
const ClaimsKey contextKey = "claims"

// TokenValidator validates trigger tokens. *auth.TriggerManager implements it.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// PolicyEnforcer decides whether a scope may call a route.
// *authz.Enforcer implements it.
type PolicyEnforcer interface {
	Enforce(scope, object, action string) (bool, error)
}

// Authorize authenticates the bearer token and asks policy whether the
// token's scope may call the request path with the request method. A missing
// or invalid token is 401, a valid token the policy denies is 403.
func Authorize(validator TokenValidator, policy PolicyEnforcer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="drivebackup"`)
				writeAuthError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logging.CtxWarn(r.Context()).Err(err).Msg("Rejected trigger token")
				w.Header().Set("WWW-Authenticate", `Bearer realm="drivebackup", error="invalid_token"`)
				writeAuthError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "invalid or expired token")
				return
			}

			allowed, err := policy.Enforce(claims.Scope, r.URL.Path, r.Method)
			if err != nil {
				logging.CtxErr(r.Context(), err).Msg("Authorization error")
				writeAuthError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "authorization failed")
				return
			}
			if !allowed {
				logging.Ctx(r.Context()).Debug().
					Str("scope", claims.Scope).
					Str("path", r.URL.Path).
					Msg("Token scope denied")
				writeAuthError(w, http.StatusForbidden, "AUTHORIZATION_ERROR", "token scope does not allow this operation")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims returns the claims Authorize stored, or nil.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ClaimsKey).(*auth.Claims) //nolint:errcheck // nil when absent
	return claims
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	data, err := json.Marshal(&models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now()},
		Error:    &models.APIError{Code: code, Message: message},
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data) //nolint:errcheck // client may be gone
}
