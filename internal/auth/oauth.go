// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

// Package auth holds the two credentials the service deals with: the OAuth2
// refresh token that authorizes uploads to the remote store, and the signed
// trigger tokens that authorize manual runs over HTTP.
//
// The refresh token is stored encrypted in the settings store. Access tokens
// are minted from it on demand and cached in memory for the process lifetime
// only.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/tomtom215/drivebackup/internal/config"
	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/settings"
)

// RefreshTokenKey is the settings key holding the stored refresh token.
const RefreshTokenKey = "cred/refresh_token"

var (
	// ErrNotAuthorized is returned when no refresh token is stored.
	ErrNotAuthorized = errors.New("not authorized with the remote store")

	// ErrNoRefreshToken is returned when the token endpoint answered without
	// a refresh token.
	ErrNoRefreshToken = errors.New("did not receive a refresh token")
)

// storedCredential is the persisted form of a secret.
type storedCredential struct {
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted"`
}

// Manager runs the authorization-code flow and hands out authorized clients.
type Manager struct {
	oauth     *oauth2.Config
	revokeURL string
	store     *settings.Store
	enc       *config.CredentialEncryptor
	base      *http.Client

	mu           sync.RWMutex
	refreshToken string
	source       oauth2.TokenSource
}

// NewManager creates a Manager and loads any stored refresh token. enc may be
// nil, in which case the token is stored unencrypted.
func NewManager(ctx context.Context, cfg config.OAuthConfig, store *settings.Store, enc *config.CredentialEncryptor, httpClient *http.Client) (*Manager, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	m := &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		revokeURL: cfg.RevokeURL,
		store:     store,
		enc:       enc,
		base:      httpClient,
	}

	token, err := m.loadRefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		m.setRefreshToken(token)
		logging.Info().Str("refresh_token", config.MaskCredential(token)).Msg("Loaded stored remote credentials")
	}
	return m, nil
}

// Authorized reports whether uploads can be authorized: a client
// registration and a refresh token are both present.
func (m *Manager) Authorized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshToken != "" && m.oauth.ClientID != "" && m.oauth.ClientSecret != ""
}

// AuthURL returns the consent page URL. Offline access with a forced prompt
// makes the provider issue a refresh token every time.
func (m *Manager) AuthURL(state string) string {
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and stores the refresh token.
func (m *Manager) Exchange(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("authorization code is required")
	}

	tok, err := m.oauth.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}
	if tok.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	if err := m.saveRefreshToken(ctx, tok.RefreshToken); err != nil {
		return err
	}

	m.mu.Lock()
	m.refreshToken = tok.RefreshToken
	// seed the cache with the access token we already have
	m.source = oauth2.ReuseTokenSource(tok, m.oauth.TokenSource(m.clientContext(context.Background()), tok))
	m.mu.Unlock()

	logging.Info().Str("refresh_token", config.MaskCredential(tok.RefreshToken)).Msg("Remote store authorized")
	return nil
}

// Revoke revokes the refresh token at the provider and forgets it locally.
// The local copy is removed even if the provider call fails.
func (m *Manager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	token := m.refreshToken
	m.refreshToken = ""
	m.source = nil
	m.mu.Unlock()

	if err := m.store.Delete(ctx, RefreshTokenKey); err != nil {
		return fmt.Errorf("failed to delete stored refresh token: %w", err)
	}
	if token == "" || m.revokeURL == "" {
		return nil
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.base.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body drained below

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // diagnostics only
	// 400 means the provider no longer knows the token, which is what we want
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("revoke returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	logging.Info().Msg("Remote store authorization revoked")
	return nil
}

// Token returns a valid access token, refreshing it when needed.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.RLock()
	src := m.source
	m.mu.RUnlock()
	if src == nil {
		return nil, ErrNotAuthorized
	}
	return src.Token()
}

// HTTPClient returns a client that authorizes every request with the current
// access token. It follows later Exchange and Revoke calls.
func (m *Manager) HTTPClient() *http.Client {
	base := m.base.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: m, Base: base},
		Timeout:   m.base.Timeout,
	}
}

func (m *Manager) setRefreshToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshToken = token
	m.source = oauth2.ReuseTokenSource(nil, m.oauth.TokenSource(m.clientContext(context.Background()), &oauth2.Token{RefreshToken: token}))
}

// clientContext routes the oauth2 package's own requests through m.base.
func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.base)
}

func (m *Manager) loadRefreshToken(ctx context.Context) (string, error) {
	var cred storedCredential
	if err := m.store.Get(ctx, RefreshTokenKey, &cred); err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load refresh token: %w", err)
	}
	if !cred.Encrypted {
		return cred.Value, nil
	}
	if m.enc == nil {
		return "", fmt.Errorf("stored refresh token is encrypted but no secret is configured")
	}
	token, err := m.enc.Decrypt(cred.Value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return token, nil
}

func (m *Manager) saveRefreshToken(ctx context.Context, token string) error {
	cred := storedCredential{Value: token}
	if m.enc != nil {
		sealed, err := m.enc.Encrypt(token)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		cred = storedCredential{Value: sealed, Encrypted: true}
	} else {
		logging.Warn().Msg("No JWT secret configured, storing refresh token unencrypted")
	}

	if err := m.store.Put(ctx, RefreshTokenKey, cred); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}
