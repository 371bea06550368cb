// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/drivebackup/internal/config"
)

func newTestTriggers(t *testing.T, ttl time.Duration) *TriggerManager {
	t.Helper()
	m, err := NewTriggerManager(&config.SecurityConfig{JWTSecret: testSecret, TriggerTokenTTL: ttl})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewTriggerManager_EmptySecret(t *testing.T) {
	if _, err := NewTriggerManager(&config.SecurityConfig{}); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestTriggerToken_RoundTrip(t *testing.T) {
	m := newTestTriggers(t, time.Hour)

	token, err := m.GenerateToken("cron", ScopeTrigger)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "cron" || claims.Scope != ScopeTrigger || claims.ID == "" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTriggerToken_AdminWithoutExpiry(t *testing.T) {
	m := newTestTriggers(t, 0)
	token, err := m.GenerateToken("ops", ScopeAdmin)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Scope != ScopeAdmin {
		t.Errorf("scope = %q, want %q", claims.Scope, ScopeAdmin)
	}
	if claims.ExpiresAt != nil {
		t.Error("zero TTL should issue a token without expiry")
	}
}

func TestTriggerToken_Rejections(t *testing.T) {
	m := newTestTriggers(t, time.Hour)

	if _, err := m.GenerateToken("x", "root"); err == nil {
		t.Error("unknown scope should be rejected")
	}

	other, err := NewTriggerManager(&config.SecurityConfig{JWTSecret: "another-secret-another-secret-xx", TriggerTokenTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	foreign, _ := other.GenerateToken("x", ScopeTrigger)
	if _, err := m.ValidateToken(foreign); err == nil {
		t.Error("token signed with another secret should be rejected")
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Scope: ScopeTrigger,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, _ := expired.SignedString([]byte(testSecret))
	if _, err := m.ValidateToken(signed); err == nil {
		t.Error("expired token should be rejected")
	}

	wrongIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Scope:            ScopeTrigger,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	})
	signed, _ = wrongIssuer.SignedString([]byte(testSecret))
	if _, err := m.ValidateToken(signed); err == nil {
		t.Error("token from another issuer should be rejected")
	}

	if _, err := m.ValidateToken("not-a-token"); err == nil {
		t.Error("garbage should be rejected")
	}
}
