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

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/gmail"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
	"github.com/bcem/mailguard/internal/pipeline"
	"github.com/bcem/mailguard/internal/store"
)

func (s *Server) assess(w http.ResponseWriter, r *http.Request) {
	u, ok := s.user(w, r)
	if !ok {
		return
	}
	var opts []pipeline.Option
	if mitigate, _ := strconv.ParseBool(r.URL.Query().Get("mitigate")); mitigate {
		opts = append(opts, pipeline.WithMitigation())
	}

	report, err := s.cfg.Assessor.Assess(r.Context(), u, chi.URLParam(r, "id"), opts...)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse(report))
}

// maxBatch bounds the message IDs accepted by one batch request.
const maxBatch = mailbox.MaxResultsLimit

type batchRequest struct {
	MessageIDs []string `json:"message_ids"`
}

func (s *Server) assessBatch(w http.ResponseWriter, r *http.Request) {
	u, ok := s.user(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.MessageIDs) == 0 {
		writeErr(w, "invalid_request", "body must be {\"message_ids\": [...]}", http.StatusBadRequest)
		return
	}
	if len(req.MessageIDs) > maxBatch {
		writeErr(w, "invalid_request", "too many message ids", http.StatusBadRequest)
		return
	}

	reports, err := s.cfg.Assessor.AssessBatch(r.Context(), u, req.MessageIDs)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeReports(w, reports)
}

type mitigateRequest struct {
	Action models.Action `json:"action"`
}

func (s *Server) mitigate(w http.ResponseWriter, r *http.Request) {
	u, ok := s.user(w, r)
	if !ok {
		return
	}
	var req mitigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		writeErr(w, "invalid_request", "body must be {\"action\": \"...\"}", http.StatusBadRequest)
		return
	}

	res, err := s.cfg.Assessor.Mitigate(r.Context(), u, chi.URLParam(r, "id"), req.Action)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	status := http.StatusOK
	if !res.Succeeded() {
		status = mitigationStatus(res.ErrorCode)
	}
	writeJSON(w, status, res)
}

func (s *Server) unread(w http.ResponseWriter, r *http.Request) {
	u, ok := s.user(w, r)
	if !ok {
		return
	}
	fo := mailbox.DefaultFetchOptions()
	q := r.URL.Query()
	if v := q.Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeErr(w, "invalid_request", "max must be an integer", http.StatusBadRequest)
			return
		}
		fo.MaxResults = n
	}
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeErr(w, "invalid_request", "days must be an integer", http.StatusBadRequest)
			return
		}
		fo.DaysBack = n
	}
	fo.Keywords = q["keyword"]

	reports, err := s.cfg.Assessor.AssessUnread(r.Context(), u, fo.Normalize(), nil)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeReports(w, reports)
}

func (s *Server) credentialStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := s.user(w, r)
	if !ok {
		return
	}
	if s.cfg.Credentials == nil || u.Provider != gmail.ProviderName {
		writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID, "provider": u.Provider, "state": "not_applicable"})
		return
	}
	body := map[string]any{"user_id": u.ID, "provider": u.Provider, "state": s.cfg.Credentials.State(u.ID)}
	meta, err := s.cfg.Credentials.Metadata(u.ID)
	if err != nil {
		slog.Warn("failed to read credential metadata", "user_id", u.ID, "error", err)
	}
	if meta != nil {
		body["metadata"] = meta
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	u, ok := s.user(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := store.Filter{UserID: u.ID, Status: q.Get("status")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeErr(w, "invalid_request", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, "invalid_request", "since must be RFC 3339", http.StatusBadRequest)
			return
		}
		f.Since = t
	}

	reports, err := s.cfg.History.ListRecent(r.Context(), f)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeReports(w, reports)
}

func (s *Server) stored(w http.ResponseWriter, r *http.Request) {
	u, ok := s.user(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	report, err := s.cfg.History.Get(r.Context(), u.ID, id)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	if report == nil {
		writeErr(w, "not_found", "no recorded assessment for "+id, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse(report))
}

func (s *Server) oauthStart(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("user")
	if _, ok := s.cfg.Users(id); !ok {
		writeErr(w, "unknown_user", "no monitored user "+id, http.StatusNotFound)
		return
	}
	state, err := newState()
	if err != nil {
		writeErr(w, "server_error", "could not create state", http.StatusInternalServerError)
		return
	}
	s.states.SetDefault(state, id)
	http.Redirect(w, r, s.cfg.Credentials.AuthCodeURL(id, state), http.StatusFound)
}

func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeErr(w, "authorization_denied", e, http.StatusBadRequest)
		return
	}
	state := q.Get("state")
	v, ok := s.states.Get(state)
	if !ok {
		writeErr(w, "invalid_state", "unknown or expired state", http.StatusBadRequest)
		return
	}
	s.states.Delete(state)
	id := v.(string)

	cred, err := s.cfg.Credentials.Exchange(r.Context(), id, q.Get("code"))
	if err != nil {
		writeAppErr(w, err)
		return
	}
	slog.Info("mailbox authorized", "user_id", id, "scopes", cred.GrantedScopes)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "state": s.cfg.Credentials.State(id), "scopes": cred.GrantedScopes})
}

func reportResponse(r *models.AssessmentReport) map[string]any {
	return map[string]any{
		"status": r.Status(),
		"report": r,
	}
}

func writeReports(w http.ResponseWriter, reports []*models.AssessmentReport) {
	out := make([]map[string]any, 0, len(reports))
	for _, rep := range reports {
		out = append(out, reportResponse(rep))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "reports": out})
}

// writeAppErr maps pipeline errors to HTTP statuses.
func writeAppErr(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsRevoked(err):
		writeErr(w, "reauthorize", err.Error(), http.StatusUnauthorized)
	case apperr.IsAuthError(err):
		writeErr(w, "unauthorized", err.Error(), http.StatusUnauthorized)
	case apperr.IsValidation(err):
		writeErr(w, "invalid_request", err.Error(), http.StatusBadRequest)
	default:
		kind, isProvider := apperr.Kind(err)
		switch {
		case isProvider && kind == apperr.KindNotFound:
			writeErr(w, "not_found", err.Error(), http.StatusNotFound)
		case isProvider && kind == apperr.KindInsufficientScope:
			writeErr(w, "insufficient_scope", err.Error(), http.StatusForbidden)
		case isProvider:
			writeErr(w, "provider_error", err.Error(), http.StatusBadGateway)
		default:
			slog.Error("request failed", "error", err)
			writeErr(w, "server_error", err.Error(), http.StatusInternalServerError)
		}
	}
}

func mitigationStatus(code string) int {
	switch code {
	case models.ErrCodeUnsupportedAction:
		return http.StatusBadRequest
	case models.ErrCodeInsufficientScope:
		return http.StatusForbidden
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case models.ErrCodeMessageNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
