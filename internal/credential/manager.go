// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package credential manages the OAuth2 credential lifecycle for mailbox
// owners: load, refresh once on expiry, persist, and destroy on revocation.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/models"
	"golang.org/x/oauth2"
)

// State is the lifecycle position of an owner's credential.
type State string

const (
	StateAbsent  State = "absent"
	StatePending State = "pending"
	StateValid   State = "valid"
	StateExpired State = "expired"
	StateRevoked State = "revoked"
)

// expiryLeeway treats tokens this close to expiry as already expired.
const expiryLeeway = 10 * time.Second

// ManagerConfig holds the OAuth client settings and stores for a Manager.
type ManagerConfig struct {
	Secrets  SecretStore
	Metadata *MetadataStore

	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	RedirectURL  string
	Scopes       []string

	// HTTPClient is used for token endpoint calls. Defaults to a client
	// with Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Manager obtains usable credentials for mailbox owners.
type Manager struct {
	cfg  ManagerConfig
	http *http.Client
	now  func() time.Time

	mu      sync.Mutex
	pending map[string]bool
	revoked map[string]bool
}

// NewManager creates a credential manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Manager{
		cfg:     cfg,
		http:    hc,
		now:     time.Now,
		pending: make(map[string]bool),
		revoked: make(map[string]bool),
	}
}

func (m *Manager) oauthConfig(clientID, clientSecret string) *oauth2.Config {
	if clientID == "" {
		clientID = m.cfg.ClientID
	}
	if clientSecret == "" {
		clientSecret = m.cfg.ClientSecret
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     m.cfg.Endpoint,
		RedirectURL:  m.cfg.RedirectURL,
		Scopes:       m.cfg.Scopes,
	}
}

// Obtain returns a usable credential for ownerID. A stored, unexpired
// credential is returned without contacting the token endpoint. An expired one
// is refreshed exactly once.
func (m *Manager) Obtain(ctx context.Context, ownerID, clientID, clientSecret string) (*models.Credential, error) {
	cred, err := m.cfg.Secrets.Load(ownerID)
	if errors.Is(err, ErrNotFound) {
		return nil, &apperr.AuthError{OwnerID: ownerID, Message: "no stored credential", Err: apperr.ErrAuthorizationRequired}
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return m.refresh(ctx, m.oauthConfig(clientID, clientSecret), cred)
}

// RefreshIfNeeded applies the Obtain rules to an in-memory credential using
// the manager's own client settings.
func (m *Manager) RefreshIfNeeded(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	return m.refresh(ctx, m.oauthConfig("", ""), cred)
}

func (m *Manager) refresh(ctx context.Context, oc *oauth2.Config, cred *models.Credential) (*models.Credential, error) {
	if !cred.Expired(m.now(), expiryLeeway) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return nil, &apperr.AuthError{OwnerID: cred.OwnerID, Message: "credential expired and no refresh token available"}
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.http)

	tok, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		if isRevocation(err) {
			slog.Warn("credential revoked, removing stored token", "owner_id", cred.OwnerID)
			m.destroy(cred.OwnerID)
			return nil, &apperr.RevokedError{OwnerID: cred.OwnerID, Err: err}
		}
		return nil, fmt.Errorf("refresh token: %w", &apperr.ProviderError{
			Provider: "oauth2", Op: "refresh", Kind: apperr.KindTransport, Err: err,
		})
	}

	refreshed := fromToken(cred.OwnerID, tok, cred.GrantedScopes)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if err := m.persistRefresh(refreshed); err != nil {
		// The refreshed token is still usable for this assessment.
		slog.Error("failed to persist refreshed credential", "owner_id", cred.OwnerID, "error", err)
	}
	slog.Info("credential refreshed", "owner_id", cred.OwnerID, "expiry", refreshed.Expiry)
	return refreshed, nil
}

// Store persists a credential produced by an external authorization flow.
func (m *Manager) Store(ctx context.Context, cred *models.Credential) error {
	if cred == nil || cred.OwnerID == "" {
		return apperr.Invalid("credential", "owner id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.persist(cred)
}

func (m *Manager) persist(cred *models.Credential) error {
	if err := m.saveSecret(cred); err != nil {
		return err
	}
	if m.cfg.Metadata == nil {
		return nil
	}
	return m.cfg.Metadata.Save(&models.CredentialMetadata{
		OwnerID:       cred.OwnerID,
		TokenURI:      m.cfg.Endpoint.TokenURL,
		Scopes:        cred.GrantedScopes,
		Expiry:        cred.Expiry,
		LastRefreshed: m.now().UTC(),
	})
}

// persistRefresh saves a refreshed credential. An existing metadata record
// keeps its token URI and scopes; only expiry and last_refreshed change.
func (m *Manager) persistRefresh(cred *models.Credential) error {
	if err := m.saveSecret(cred); err != nil {
		return err
	}
	if m.cfg.Metadata == nil {
		return nil
	}
	meta, err := m.cfg.Metadata.Load(cred.OwnerID)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = &models.CredentialMetadata{
			OwnerID:  cred.OwnerID,
			TokenURI: m.cfg.Endpoint.TokenURL,
			Scopes:   cred.GrantedScopes,
		}
	}
	meta.Expiry = cred.Expiry
	meta.LastRefreshed = m.now().UTC()
	return m.cfg.Metadata.Save(meta)
}

func (m *Manager) saveSecret(cred *models.Credential) error {
	if err := m.cfg.Secrets.Save(cred); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.pending, cred.OwnerID)
	delete(m.revoked, cred.OwnerID)
	m.mu.Unlock()
	return nil
}

// destroy removes both the secret and its metadata.
func (m *Manager) destroy(ownerID string) {
	if err := m.cfg.Secrets.Delete(ownerID); err != nil {
		slog.Error("failed to delete revoked credential", "owner_id", ownerID, "error", err)
	}
	if m.cfg.Metadata != nil {
		if err := m.cfg.Metadata.Delete(ownerID); err != nil {
			slog.Error("failed to delete credential metadata", "owner_id", ownerID, "error", err)
		}
	}
	m.mu.Lock()
	m.revoked[ownerID] = true
	m.mu.Unlock()
}

// Metadata returns the diagnostic record for ownerID, or nil if none exists.
func (m *Manager) Metadata(ownerID string) (*models.CredentialMetadata, error) {
	if m.cfg.Metadata == nil {
		return nil, nil
	}
	return m.cfg.Metadata.Load(ownerID)
}

// AuthCodeURL starts an interactive authorization for ownerID and returns the
// consent URL. The owner is Pending until Exchange or Store succeeds.
func (m *Manager) AuthCodeURL(ownerID, state string) string {
	m.mu.Lock()
	m.pending[ownerID] = true
	m.mu.Unlock()
	return m.oauthConfig("", "").AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange completes an authorization with the code returned to the redirect
// URL and stores the resulting credential.
func (m *Manager) Exchange(ctx context.Context, ownerID, code string) (*models.Credential, error) {
	if code == "" {
		return nil, apperr.Invalid("code", "authorization code is required")
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.http)

	tok, err := m.oauthConfig("", "").Exchange(ctx, code)
	if err != nil {
		return nil, &apperr.AuthError{OwnerID: ownerID, Message: "authorization code exchange failed", Err: err}
	}
	cred := fromToken(ownerID, tok, m.cfg.Scopes)
	if err := m.persist(cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	return cred, nil
}

// State reports where ownerID's credential is in its lifecycle.
func (m *Manager) State(ownerID string) State {
	m.mu.Lock()
	revoked, pending := m.revoked[ownerID], m.pending[ownerID]
	m.mu.Unlock()

	cred, err := m.cfg.Secrets.Load(ownerID)
	switch {
	case err == nil:
		if cred.Expired(m.now(), expiryLeeway) {
			return StateExpired
		}
		return StateValid
	case pending:
		return StatePending
	case revoked:
		return StateRevoked
	default:
		return StateAbsent
	}
}

func fromToken(ownerID string, tok *oauth2.Token, fallbackScopes []string) *models.Credential {
	scopes := fallbackScopes
	if s, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(s) != "" {
		scopes = strings.Fields(s)
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &models.Credential{
		OwnerID:       ownerID,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		TokenType:     tokenType,
		Expiry:        tok.Expiry,
		GrantedScopes: scopes,
	}
}

// isRevocation reports whether a refresh failure is permanent.
func isRevocation(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant", "access_denied", "unauthorized_client":
			return true
		}
		if strings.Contains(strings.ToLower(re.ErrorDescription), "revoked") {
			return true
		}
		body := strings.ToLower(string(re.Body))
		if strings.Contains(body, "invalid_grant") || strings.Contains(body, "revoked") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "revoked")
}
