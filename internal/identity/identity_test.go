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

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bcem/mailguard/internal/models"
)

type stubSearcher struct {
	matches []models.ImageMatch
	err     error
	calls   int
}

func (s *stubSearcher) Search(ctx context.Context, image []byte, mimeType string) ([]models.ImageMatch, error) {
	s.calls++
	return s.matches, s.err
}

var (
	profile = &models.ExtractedImage{Data: []byte("img"), MimeType: "image/png"}
	message = models.NormalizedMessage{ID: "m1", Sender: "Jane Doe <jane@gmail.com>"}
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestVerifySenderNoImage(t *testing.T) {
	s := &stubSearcher{}
	got := NewVerifier(s, time.Second).VerifySender(context.Background(), message, nil)
	if got.Status != models.VerificationNoImage || got.RiskScore != 0.5 || got.Verified {
		t.Errorf("result = %+v", got)
	}
	if s.calls != 0 {
		t.Error("searcher called without an image")
	}
	if len(got.Recommendations) == 0 {
		t.Error("expected a recommendation")
	}
}

func TestVerifySenderUnavailable(t *testing.T) {
	for name, v := range map[string]*Verifier{
		"backend down": NewVerifier(&stubSearcher{err: ErrSearchUnavailable}, time.Second),
		"no backend":   NewVerifier(nil, time.Second),
	} {
		got := v.VerifySender(context.Background(), message, profile)
		if got.Status != models.VerificationUnavailable || got.RiskScore != 0.5 || got.Verified {
			t.Errorf("%s: result = %+v", name, got)
		}
	}
}

func TestVerifySenderNoMatches(t *testing.T) {
	got := NewVerifier(&stubSearcher{}, time.Second).VerifySender(context.Background(), message, profile)
	if got.Status != models.VerificationVerified || got.RiskScore != 0 || !got.Verified {
		t.Errorf("result = %+v", got)
	}
	if got.Recommendations[0] != "Profile photo appears legitimate" {
		t.Errorf("recommendations = %v", got.Recommendations)
	}
}

func TestVerifySenderSuspiciousPatterns(t *testing.T) {
	s := &stubSearcher{matches: []models.ImageMatch{
		{Domain: "linkedin.com", Title: "John Smith - Recruiter at Acme"},
		{Domain: "smithlaw.com", Title: "John Smith, Attorney at law"},
		{Domain: "homes.example", Title: "Top realtor in town"},
		{Domain: "blog.example", Title: "photo"},
	}}
	got := NewVerifier(s, time.Second).VerifySender(context.Background(), message, profile)

	if got.RiskScore != 1.0 {
		t.Errorf("risk = %v, want capped 1.0", got.RiskScore)
	}
	if got.Verified {
		t.Error("high risk sender marked verified")
	}
	kinds := map[string]bool{}
	for _, p := range got.Patterns {
		kinds[p.Type] = true
	}
	for _, want := range []string{"multiple_domains", "multiple_identities", "social_media_mismatch", "suspicious_domain", "name_mismatch"} {
		if !kinds[want] {
			t.Errorf("missing pattern %s in %+v", want, got.Patterns)
		}
	}
	if !strings.HasPrefix(got.Recommendations[0], "HIGH RISK") {
		t.Errorf("recommendations = %v", got.Recommendations)
	}
	if !strings.Contains(got.Analysis, "Image found on 4 domain(s)") {
		t.Errorf("analysis = %s", got.Analysis)
	}
}

func TestAnalyzeMatchesWeights(t *testing.T) {
	tests := []struct {
		name    string
		matches []models.ImageMatch
		claimed string
		want    float64
	}{
		{"consistent", []models.ImageMatch{{Domain: "acme.com", Title: "Jane Doe - Director"}}, "Jane Doe", 0},
		{"name mismatch", []models.ImageMatch{{Domain: "acme.com", Title: "Mark Jones"}}, "Jane Doe", 0.2},
		{"two categories", []models.ImageMatch{
			{Domain: "a.com", Title: "recruiter profile"},
			{Domain: "b.com", Title: "lawyer profile"},
		}, "", 0.4},
		{"suspicious domains", []models.ImageMatch{
			{Domain: "bestrealtor.com", Title: "x"},
			{Domain: "agentpages.net", Title: "y"},
		}, "", 0.4},
		{"social same name", []models.ImageMatch{{Domain: "facebook.com", DisplayName: "Jane Doe"}}, "Jane Doe", 0},
		{"social other name", []models.ImageMatch{{Domain: "facebook.com", DisplayName: "Ann Lee"}}, "Jane Doe", 0.5},
		{"social without claimed name", []models.ImageMatch{
			{Domain: "facebook.com", DisplayName: "Ann Lee"},
			{Domain: "instagram.com", DisplayName: "Ann Lee"},
		}, "", 0},
		{"four domains", []models.ImageMatch{
			{Domain: "a.com"}, {Domain: "b.com"}, {Domain: "c.com"}, {Domain: "d.com"}, {Domain: "D.com"},
		}, "", 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := analyzeMatches(tt.matches, tt.claimed)
			if !approx(got.risk, tt.want) {
				t.Errorf("risk = %v, want %v (patterns %+v)", got.risk, tt.want, got.patterns)
			}
		})
	}
}

func TestClaimedName(t *testing.T) {
	if got := claimedName(`"Jane Doe" <jane@gmail.com>`); got != "Jane Doe" {
		t.Errorf("claimedName = %q", got)
	}
	if got := claimedName("jane@gmail.com"); got != "" {
		t.Errorf("claimedName = %q", got)
	}
	if got := claimedName("<jane@gmail.com>"); got != "" {
		t.Errorf("claimedName = %q", got)
	}
}

func TestVerifySenderBareAddressNotSocialMismatch(t *testing.T) {
	s := &stubSearcher{matches: []models.ImageMatch{
		{Domain: "facebook.com", DisplayName: "Jane Doe"},
		{Domain: "linkedin.com", DisplayName: "Jane Doe"},
	}}
	bare := models.NormalizedMessage{ID: "m2", Sender: "jane@gmail.com"}
	got := NewVerifier(s, time.Second).VerifySender(context.Background(), bare, profile)

	for _, p := range got.Patterns {
		if p.Type == "social_media_mismatch" {
			t.Errorf("unexpected pattern %+v", p)
		}
	}
	if got.RiskScore != 0 || !got.Verified {
		t.Errorf("result = %+v", got)
	}
}

func TestHTTPSearcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		switch req.MimeType {
		case "image/png":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"matches":[{"domain":"linkedin.com","title":"Jane Doe"}]}`))
		case "image/gif":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	s := NewHTTPSearcher(srv.URL+"/", "key", time.Second)
	matches, err := s.Search(context.Background(), []byte("x"), "image/png")
	if err != nil || len(matches) != 1 || matches[0].Domain != "linkedin.com" {
		t.Errorf("Search = %+v, %v", matches, err)
	}

	if _, err := s.Search(context.Background(), []byte("x"), "image/gif"); !errors.Is(err, ErrSearchUnavailable) {
		t.Errorf("503 error = %v, want unavailable", err)
	}
	_, err = s.Search(context.Background(), []byte("x"), "image/jpeg")
	if err == nil || errors.Is(err, ErrSearchUnavailable) {
		t.Errorf("500 error = %v, want a plain failure", err)
	}

	srv.Close()
	if _, err := s.Search(context.Background(), []byte("x"), "image/png"); !errors.Is(err, ErrSearchUnavailable) {
		t.Errorf("closed server error = %v, want unavailable", err)
	}
}

func TestSummary(t *testing.T) {
	a := models.ThreatAssessment{
		ThreatScore:       0.97,
		RecommendedAction: models.ActionMarkAsPhishing,
		Breakdown:         models.Breakdown{FootprintRisk: 0.4, DomainMismatchRisk: 0.3, ContentRisk: 0.27},
	}
	v := &models.VerificationResult{Recommendations: []string{"Block sender"}, Analysis: "HIGH RISK"}
	got := Summary(a, v)
	for _, want := range []string{"PHISHING DETECTED", "Risk Score: 97%", "Block sender", "domain mismatch: 0.30"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
	if got := Summary(models.ThreatAssessment{RecommendedAction: models.ActionNone, ThreatScore: 0.1}, nil); !strings.HasPrefix(got, "Email appears legitimate") {
		t.Errorf("clean summary = %s", got)
	}
}
