// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/drivebackup/internal/config"
)

// Trigger token scopes.
const (
	// ScopeTrigger allows starting and resuming backups and reading job state.
	ScopeTrigger = "trigger"

	// ScopeAdmin additionally allows changing remote authorization. The
	// route policy in internal/authz grants admin every trigger route.
	ScopeAdmin = "admin"
)

const tokenIssuer = "drivebackup"

// Claims are the claims carried by a trigger token.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TriggerManager issues and validates trigger tokens.
type TriggerManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTriggerManager creates a TriggerManager using HMAC-SHA256 with the
// configured JWT secret.
//
//	triggers, err := auth.NewTriggerManager(&cfg.Security)
//	token, err := triggers.GenerateToken("cron", auth.ScopeTrigger)
func NewTriggerManager(cfg *config.SecurityConfig) (*TriggerManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but was empty")
	}
	return &TriggerManager{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.TriggerTokenTTL,
	}, nil
}

// GenerateToken signs a token for subject with the given scope. A zero TTL
// issues a token that never expires.
func (m *TriggerManager) GenerateToken(subject, scope string) (string, error) {
	if scope != ScopeTrigger && scope != ScopeAdmin {
		return "", fmt.Errorf("unknown scope %q", scope)
	}

	now := time.Now()
	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks the signature, algorithm, issuer and time claims.
func (m *TriggerManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
