// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package authz

import (
	"os"
	"path/filepath"
	"testing"
)

func setupEnforcer(t *testing.T, config *EnforcerConfig) *Enforcer {
	t.Helper()
	enforcer, err := NewEnforcer(config)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	return enforcer
}

func TestEnforcer_EmbeddedPolicy(t *testing.T) {
	e := setupEnforcer(t, nil)

	tests := []struct {
		scope, path, method string
		want                bool
	}{
		{"trigger", "/api/v1/backup", "POST", true},
		{"trigger", "/api/v1/backup", "GET", false},
		{"trigger", "/api/v1/backup/resume", "POST", true},
		{"trigger", "/api/v1/backup/status", "GET", true},
		{"trigger", "/api/v1/backup/jobs", "GET", true},
		{"trigger", "/api/v1/backup/jobs/t3xk2a/log", "GET", true},
		{"trigger", "/api/v1/backup/jobs/t3xk2a/extra/log", "GET", false},
		{"trigger", "/api/v1/oauth/authorize", "GET", false},
		{"trigger", "/api/v1/oauth/revoke", "POST", false},
		{"admin", "/api/v1/oauth/authorize", "GET", true},
		{"admin", "/api/v1/oauth/revoke", "POST", true},
		{"admin", "/api/v1/backup", "POST", true},
		{"admin", "/api/v1/backup/jobs/abc/log", "GET", true},
		{"unknown", "/api/v1/backup", "POST", false},
		{"", "/api/v1/backup/status", "GET", false},
	}

	for _, tt := range tests {
		t.Run(tt.scope+" "+tt.method+" "+tt.path, func(t *testing.T) {
			got, err := e.Enforce(tt.scope, tt.path, tt.method)
			if err != nil {
				t.Fatalf("Enforce() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Enforce(%q, %q, %q) = %v, want %v", tt.scope, tt.path, tt.method, got, tt.want)
			}
		})
	}
}

func TestEnforcer_RolesFor(t *testing.T) {
	e := setupEnforcer(t, nil)

	roles, err := e.RolesFor("admin")
	if err != nil {
		t.Fatalf("RolesFor() error = %v", err)
	}
	if len(roles) != 1 || roles[0] != "trigger" {
		t.Errorf("RolesFor(admin) = %v, want [trigger]", roles)
	}

	roles, err = e.RolesFor("trigger")
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 0 {
		t.Errorf("RolesFor(trigger) = %v, want none", roles)
	}
}

func TestEnforcer_PolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	policy := "p, status, /api/v1/backup/status, GET\n"
	if err := os.WriteFile(path, []byte(policy), 0o600); err != nil {
		t.Fatal(err)
	}

	e := setupEnforcer(t, &EnforcerConfig{PolicyPath: path})

	if ok, err := e.Enforce("status", "/api/v1/backup/status", "GET"); err != nil || !ok {
		t.Errorf("custom scope denied: %v, %v", ok, err)
	}
	// the built-in rules are replaced, not merged
	if ok, err := e.Enforce("trigger", "/api/v1/backup", "POST"); err != nil || ok {
		t.Errorf("built-in rule still active: %v, %v", ok, err)
	}
}

func TestNewEnforcer_MissingPolicyFile(t *testing.T) {
	_, err := NewEnforcer(&EnforcerConfig{PolicyPath: filepath.Join(t.TempDir(), "missing.csv")})
	if err == nil {
		t.Fatal("NewEnforcer() with a missing policy file should fail")
	}
}

func TestLoadEmbeddedPolicy_Malformed(t *testing.T) {
	e := setupEnforcer(t, nil)
	if err := loadEmbeddedPolicy(e.enforcer, "p, only-two, fields\n"); err == nil {
		t.Error("malformed line accepted")
	}
}
