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

// Package api exposes assessments over HTTP: single-message assessment and
// mitigation, unread-mail scans, credential diagnostics and the OAuth
// redirect endpoints.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/bcem/mailguard/internal/credential"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
	"github.com/bcem/mailguard/internal/pipeline"
	"github.com/bcem/mailguard/internal/store"
)

// oauthStateTTL bounds how long a started authorization stays valid.
const oauthStateTTL = 10 * time.Minute

// Assessor runs assessments. *pipeline.Pipeline implements it.
type Assessor interface {
	Assess(ctx context.Context, user pipeline.User, messageID string, opts ...pipeline.Option) (*models.AssessmentReport, error)
	Mitigate(ctx context.Context, user pipeline.User, messageID string, action models.Action) (models.MitigationResult, error)
	AssessUnread(ctx context.Context, user pipeline.User, fo mailbox.FetchOptions, keep func(context.Context, models.NormalizedMessage) bool) ([]*models.AssessmentReport, error)
	AssessBatch(ctx context.Context, user pipeline.User, messageIDs []string) ([]*models.AssessmentReport, error)
}

// Credentials drives the OAuth flow. *credential.Manager implements it.
type Credentials interface {
	AuthCodeURL(ownerID, state string) string
	Exchange(ctx context.Context, ownerID, code string) (*models.Credential, error)
	State(ownerID string) credential.State
	Metadata(ownerID string) (*models.CredentialMetadata, error)
}

// HealthCheck is one dependency probe reported by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// History reads previously recorded reports. *store.Store implements it.
type History interface {
	Get(ctx context.Context, userID, messageID string) (*models.AssessmentReport, error)
	ListRecent(ctx context.Context, f store.Filter) ([]*models.AssessmentReport, error)
}

// Config wires the server.
type Config struct {
	Assessor    Assessor
	Credentials Credentials
	Users       func(id string) (pipeline.User, bool)
	History     History
	Metrics     http.Handler
	Checks      []HealthCheck
}

// Server is the HTTP surface.
type Server struct {
	cfg    Config
	states *cache.Cache
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	return &Server{
		cfg:    cfg,
		states: cache.New(oauthStateTTL, time.Minute),
	}
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}

	r.Route("/v1/users/{user}", func(r chi.Router) {
		r.Post("/messages/{id}/assess", s.assess)
		r.Post("/messages/assess", s.assessBatch)
		r.Post("/messages/{id}/mitigate", s.mitigate)
		r.Get("/unread", s.unread)
		r.Get("/credential", s.credentialStatus)
		if s.cfg.History != nil {
			r.Get("/assessments", s.history)
			r.Get("/messages/{id}", s.stored)
		}
	})

	if s.cfg.Credentials != nil {
		r.Get("/oauth/start", s.oauthStart)
		r.Get("/oauth/callback", s.oauthCallback)
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	status := http.StatusOK
	for _, c := range s.cfg.Checks {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}
	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) (pipeline.User, bool) {
	id := chi.URLParam(r, "user")
	u, ok := s.cfg.Users(id)
	if !ok {
		writeErr(w, "unknown_user", "no monitored user "+id, http.StatusNotFound)
	}
	return u, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeErr(w http.ResponseWriter, code, desc string, status int) {
	writeJSON(w, status, map[string]any{"error": code, "error_description": desc})
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
