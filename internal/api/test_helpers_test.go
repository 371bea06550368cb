// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package api

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/drivebackup/internal/auth"
	"github.com/tomtom215/drivebackup/internal/authz"
	"github.com/tomtom215/drivebackup/internal/backup"
	"github.com/tomtom215/drivebackup/internal/config"
	"github.com/tomtom215/drivebackup/internal/models"
)

// mockBackupService implements BackupService for testing
type mockBackupService struct {
	runJobFunc       func(ctx context.Context, id string, report backup.Reporter) (backup.RunResult, error)
	retryScanFunc    func(ctx context.Context, report backup.Reporter) (backup.RunResult, error)
	statusFunc       func(ctx context.Context, nextRun *time.Time, recent int) (models.BackupStatus, error)
	jobsFunc         func(ctx context.Context) ([]models.JobSummary, error)
	jobLogFunc       func(ctx context.Context, id string, n int) ([]models.LogEntry, error)
	refreshQuotaFunc func(ctx context.Context) (models.QuotaInfo, error)
}

func (m *mockBackupService) RunJob(ctx context.Context, id string, report backup.Reporter) (backup.RunResult, error) {
	if m.runJobFunc != nil {
		return m.runJobFunc(ctx, id, report)
	}
	return backup.RunResult{}, nil
}

func (m *mockBackupService) RetryScan(ctx context.Context, report backup.Reporter) (backup.RunResult, error) {
	if m.retryScanFunc != nil {
		return m.retryScanFunc(ctx, report)
	}
	return backup.RunResult{}, backup.ErrNothingToRetry
}

func (m *mockBackupService) Status(ctx context.Context, nextRun *time.Time, recent int) (models.BackupStatus, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, nextRun, recent)
	}
	return models.BackupStatus{RecentJobs: []models.JobSummary{}}, nil
}

func (m *mockBackupService) Jobs(ctx context.Context) ([]models.JobSummary, error) {
	if m.jobsFunc != nil {
		return m.jobsFunc(ctx)
	}
	return []models.JobSummary{}, nil
}

func (m *mockBackupService) JobLog(ctx context.Context, id string, n int) ([]models.LogEntry, error) {
	if m.jobLogFunc != nil {
		return m.jobLogFunc(ctx, id, n)
	}
	return nil, nil
}

func (m *mockBackupService) RefreshQuota(ctx context.Context) (models.QuotaInfo, error) {
	if m.refreshQuotaFunc != nil {
		return m.refreshQuotaFunc(ctx)
	}
	return models.QuotaInfo{}, nil
}

// mockOAuth implements OAuthService for testing
type mockOAuth struct {
	mu         sync.Mutex
	authorized bool
	codes      []string
	exchErr    error
	revokeErr  error
}

func (m *mockOAuth) Authorized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authorized
}

func (m *mockOAuth) AuthURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + state
}

func (m *mockOAuth) Exchange(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, code)
	if m.exchErr != nil {
		return m.exchErr
	}
	m.authorized = true
	return nil
}

func (m *mockOAuth) Revoke(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revokeErr != nil {
		return m.revokeErr
	}
	m.authorized = false
	return nil
}

type fixedSchedule struct{ next *time.Time }

func (s fixedSchedule) NextRun() *time.Time { return s.next }

// testAPI is a router with issued tokens.
type testAPI struct {
	handler      http.Handler
	triggerToken string
	adminToken   string
}

func newTestAPI(t *testing.T, svc BackupService, oauth OAuthService, mwCfg *ChiMiddlewareConfig) *testAPI {
	t.Helper()
	return newTestAPIWithHandler(t, NewHandler(svc, nil, oauth, "test"), mwCfg)
}

func newTestAPIWithHandler(t *testing.T, h *Handler, mwCfg *ChiMiddlewareConfig) *testAPI {
	t.Helper()

	triggers, err := auth.NewTriggerManager(&config.SecurityConfig{
		JWTSecret: "test-secret-that-is-at-least-32-characters",
	})
	if err != nil {
		t.Fatalf("NewTriggerManager() error = %v", err)
	}
	triggerToken, err := triggers.GenerateToken("cron", auth.ScopeTrigger)
	if err != nil {
		t.Fatal(err)
	}
	adminToken, err := triggers.GenerateToken("ops", auth.ScopeAdmin)
	if err != nil {
		t.Fatal(err)
	}

	if mwCfg == nil {
		mwCfg = DefaultChiMiddlewareConfig()
		mwCfg.RateLimitDisabled = true
	}
	enforcer, err := authz.NewEnforcer(nil)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	router := NewRouter(h, triggers, enforcer, NewChiMiddleware(mwCfg))

	return &testAPI{
		handler:      router.SetupChi(),
		triggerToken: triggerToken,
		adminToken:   adminToken,
	}
}

func (a *testAPI) do(t *testing.T, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

// testEnvelope is models.APIResponse with Data left raw.
type testEnvelope struct {
	Status string           `json:"status"`
	Data   json.RawMessage  `json:"data"`
	Error  *models.APIError `json:"error"`
}

func decodeEnvelope(t *testing.T, body io.Reader) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

// decodeEvents splits an NDJSON body into events.
func decodeEvents(t *testing.T, body io.Reader) []progressEvent {
	t.Helper()
	var events []progressEvent
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		var ev progressEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("decode event %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}
