// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/models"
)

// oauthStateTTL bounds how long a consent round trip may take.
const oauthStateTTL = 10 * time.Minute

// authorizeResponse is the payload of the authorize endpoint.
type authorizeResponse struct {
	AuthURL   string    `json:"auth_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// authorizationResponse reports the authorization state after a change.
type authorizationResponse struct {
	Authorized bool              `json:"authorized"`
	Quota      *models.QuotaInfo `json:"quota,omitempty"`
}

// OAuthAuthorize issues a consent URL carrying a fresh single-use state.
func (h *Handler) OAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	if !h.oauthAvailable(w) {
		return
	}
	start := time.Now()

	state := uuid.NewString()
	expires := h.states.add(state, start)
	respondSuccess(w, authorizeResponse{
		AuthURL:   h.oauth.AuthURL(state),
		ExpiresAt: expires,
	}, start)
}

// OAuthCallback completes the consent round trip: it checks the state,
// exchanges the code for a refresh token and refreshes the quota.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	if !h.oauthAvailable(w) {
		return
	}
	start := time.Now()
	query := r.URL.Query()

	if denied := query.Get("error"); denied != "" {
		respondError(w, http.StatusBadRequest, ErrCodeAccessDenied, "authorization was not granted: "+sanitizeLogValue(denied), nil)
		return
	}
	if !h.states.consume(query.Get("state"), start) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidState, "unknown or expired state", nil)
		return
	}
	code := query.Get("code")
	if code == "" {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "code is required", nil)
		return
	}

	if err := h.oauth.Exchange(r.Context(), code); err != nil {
		respondError(w, http.StatusBadGateway, ErrCodeExternalService, "authorization code exchange failed", err)
		return
	}
	logging.CtxInfo(r.Context()).Msg("Remote store authorized")

	resp := authorizationResponse{Authorized: true}
	quota, err := h.backups.RefreshQuota(r.Context())
	if err != nil {
		logging.CtxWarn(r.Context()).Err(err).Msg("Could not refresh the remote quota after authorization")
	} else {
		resp.Quota = &quota
	}
	respondSuccess(w, resp, start)
}

// OAuthRevoke revokes the stored refresh token.
func (h *Handler) OAuthRevoke(w http.ResponseWriter, r *http.Request) {
	if !h.oauthAvailable(w) {
		return
	}
	start := time.Now()

	if err := h.oauth.Revoke(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, ErrCodeExternalService, "failed to revoke authorization", err)
		return
	}
	logging.CtxInfo(r.Context()).Msg("Remote store authorization revoked")
	respondSuccess(w, authorizationResponse{Authorized: h.oauth.Authorized()}, start)
}

func (h *Handler) oauthAvailable(w http.ResponseWriter) bool {
	if h.oauth == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "remote authorization is not configured", nil)
		return false
	}
	return true
}

// stateStore holds outstanding OAuth states until used or expired.
type stateStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	states map[string]time.Time
}

func newStateStore(ttl time.Duration) *stateStore {
	return &stateStore{ttl: ttl, states: make(map[string]time.Time)}
}

// add records state and returns its expiry. Expired states are dropped.
func (s *stateStore) add(state string, now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, exp := range s.states {
		if now.After(exp) {
			delete(s.states, k)
		}
	}
	exp := now.Add(s.ttl)
	s.states[state] = exp
	return exp
}

// consume reports whether state is outstanding and removes it.
func (s *stateStore) consume(state string, now time.Time) bool {
	if state == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return !now.After(exp)
}
