// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/drivebackup/internal/models"
)

// authorize calls the authorize endpoint and returns the issued state.
func authorize(t *testing.T, api *testAPI) string {
	t.Helper()
	rec := api.do(t, http.MethodGet, "/api/v1/oauth/authorize", api.adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorize status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp authorizeResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec.Body).Data, &resp); err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(resp.AuthURL)
	if err != nil {
		t.Fatal(err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("auth URL %q carries no state", resp.AuthURL)
	}
	return state
}

func TestOAuthFlow(t *testing.T) {
	oauth := &mockOAuth{}
	quotaCalls := 0
	svc := &mockBackupService{
		refreshQuotaFunc: func(context.Context) (models.QuotaInfo, error) {
			quotaCalls++
			return models.QuotaInfo{Used: 250, Total: 1000}, nil
		},
	}
	api := newTestAPI(t, svc, oauth, nil)

	state := authorize(t, api)

	rec := api.do(t, http.MethodGet, "/api/v1/oauth/callback?code=4%2Fabc&state="+state, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp authorizationResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec.Body).Data, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Authorized || resp.Quota == nil || resp.Quota.Used != 250 {
		t.Errorf("callback response = %+v", resp)
	}
	if len(oauth.codes) != 1 || oauth.codes[0] != "4/abc" {
		t.Errorf("exchanged codes = %v", oauth.codes)
	}
	if quotaCalls != 1 {
		t.Errorf("quota refreshed %d times, want 1", quotaCalls)
	}

	// states are single use
	rec = api.do(t, http.MethodGet, "/api/v1/oauth/callback?code=again&state="+state, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replayed state status = %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec.Body); env.Error.Code != ErrCodeInvalidState {
		t.Errorf("code = %s", env.Error.Code)
	}

	rec = api.do(t, http.MethodPost, "/api/v1/oauth/revoke", api.adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", rec.Code)
	}
	if oauth.Authorized() {
		t.Error("still authorized after revoke")
	}
}

func TestOAuthCallback_Failures(t *testing.T) {
	tests := []struct {
		name       string
		query      func(state string) string
		exchErr    error
		wantStatus int
		wantCode   string
	}{
		{"consent denied", func(s string) string { return "error=access_denied&state=" + s }, nil, http.StatusBadRequest, ErrCodeAccessDenied},
		{"unknown state", func(string) string { return "code=abc&state=forged" }, nil, http.StatusBadRequest, ErrCodeInvalidState},
		{"missing code", func(s string) string { return "state=" + s }, nil, http.StatusBadRequest, ErrCodeValidation},
		{"exchange fails", func(s string) string { return "code=abc&state=" + s }, errors.New("did not receive a refresh token"), http.StatusBadGateway, ErrCodeExternalService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oauth := &mockOAuth{exchErr: tt.exchErr}
			api := newTestAPI(t, &mockBackupService{}, oauth, nil)
			state := authorize(t, api)

			rec := api.do(t, http.MethodGet, "/api/v1/oauth/callback?"+tt.query(state), "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if env := decodeEnvelope(t, rec.Body); env.Error == nil || env.Error.Code != tt.wantCode {
				t.Errorf("envelope = %+v", env)
			}
			if oauth.Authorized() {
				t.Error("authorized after a failed callback")
			}
		})
	}
}

func TestOAuthCallback_QuotaFailureStillAuthorizes(t *testing.T) {
	svc := &mockBackupService{
		refreshQuotaFunc: func(context.Context) (models.QuotaInfo, error) {
			return models.QuotaInfo{}, errors.New("quota endpoint down")
		},
	}
	api := newTestAPI(t, svc, &mockOAuth{}, nil)
	state := authorize(t, api)

	rec := api.do(t, http.MethodGet, "/api/v1/oauth/callback?code=abc&state="+state, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp authorizationResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec.Body).Data, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Authorized || resp.Quota != nil {
		t.Errorf("response = %+v", resp)
	}
}

func TestOAuthRevoke_Failure(t *testing.T) {
	oauth := &mockOAuth{authorized: true, revokeErr: errors.New("revoke endpoint down")}
	api := newTestAPI(t, &mockBackupService{}, oauth, nil)

	rec := api.do(t, http.MethodPost, "/api/v1/oauth/revoke", api.adminToken)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestOAuth_NotConfigured(t *testing.T) {
	api := newTestAPI(t, &mockBackupService{}, nil, nil)

	for _, tc := range []struct{ method, target, token string }{
		{http.MethodGet, "/api/v1/oauth/authorize", api.adminToken},
		{http.MethodGet, "/api/v1/oauth/callback?code=a&state=b", ""},
		{http.MethodPost, "/api/v1/oauth/revoke", api.adminToken},
	} {
		if rec := api.do(t, tc.method, tc.target, tc.token); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s status = %d, want 503", tc.method, tc.target, rec.Code)
		}
	}
}

func TestStateStore(t *testing.T) {
	s := newStateStore(time.Minute)
	now := time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)

	exp := s.add("fresh", now)
	if !exp.Equal(now.Add(time.Minute)) {
		t.Errorf("expiry = %v", exp)
	}
	s.add("stale", now)

	if s.consume("", now) {
		t.Error("empty state accepted")
	}
	if !s.consume("fresh", now.Add(30*time.Second)) {
		t.Error("fresh state rejected")
	}
	if s.consume("fresh", now.Add(30*time.Second)) {
		t.Error("state accepted twice")
	}
	if s.consume("stale", now.Add(2*time.Minute)) {
		t.Error("expired state accepted")
	}

	// adding prunes expired entries
	s.add("old", now)
	s.add("new", now.Add(5*time.Minute))
	if _, ok := s.states["old"]; ok {
		t.Error("expired state not pruned")
	}
}
