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

// Package identity checks whether a sender's profile picture is consistent
// with the identity they claim, using reverse image search.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/mailguard/internal/models"
)

// ErrSearchUnavailable means the search backend could not be reached. It is
// distinct from a search that found nothing.
var ErrSearchUnavailable = errors.New("reverse image search unavailable")

// Searcher finds pages on which an image appears.
type Searcher interface {
	Search(ctx context.Context, image []byte, mimeType string) ([]models.ImageMatch, error)
}

// Risk bands.
const (
	VerifiedBelow = 0.4
	highRisk      = 0.7
	neutralRisk   = 0.5
)

// Verifier scores sender identity consistency.
type Verifier struct {
	searcher Searcher
	timeout  time.Duration
}

// NewVerifier creates a Verifier. A nil searcher makes every verification
// report the search as unavailable.
func NewVerifier(searcher Searcher, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{searcher: searcher, timeout: timeout}
}

// VerifySender checks img against msg's claimed sender. It never fails:
// a missing image or unreachable search yields a neutral 0.5 risk with a
// status saying why.
func (v *Verifier) VerifySender(ctx context.Context, msg models.NormalizedMessage, img *models.ExtractedImage) models.VerificationResult {
	if img == nil || len(img.Data) == 0 {
		return models.VerificationResult{
			Status:          models.VerificationNoImage,
			RiskScore:       neutralRisk,
			Analysis:        "No profile image found in email",
			Recommendations: []string{"Email contains no profile image to verify", "Verify sender identity through other channels"},
		}
	}
	if v.searcher == nil {
		return unavailable(ErrSearchUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	matches, err := v.searcher.Search(ctx, img.Data, img.MimeType)
	if err != nil {
		if !errors.Is(err, ErrSearchUnavailable) {
			slog.Warn("reverse image search failed", "message_id", msg.ID, "error", err)
		}
		return unavailable(err)
	}

	claimed := claimedName(msg.Sender)
	a := analyzeMatches(matches, claimed)
	return models.VerificationResult{
		Status:          models.VerificationVerified,
		RiskScore:       a.risk,
		Verified:        a.risk < VerifiedBelow,
		Analysis:        analysisText(a),
		Recommendations: recommendations(a.risk),
		Matches:         matches,
		Identities:      a.identities,
		Patterns:        a.patterns,
	}
}

func unavailable(err error) models.VerificationResult {
	return models.VerificationResult{
		Status:          models.VerificationUnavailable,
		RiskScore:       neutralRisk,
		Analysis:        fmt.Sprintf("Reverse image search unavailable: %v", err),
		Recommendations: []string{"Verify sender identity through other channels"},
	}
}

// claimedName is the display text of a sender header before '<'.
func claimedName(sender string) string {
	name, _, found := strings.Cut(sender, "<")
	if !found {
		return ""
	}
	return strings.Trim(strings.TrimSpace(name), `"`)
}

func recommendations(risk float64) []string {
	switch {
	case risk >= highRisk:
		return []string{"HIGH RISK: Do not respond to this email", "Report as phishing/spam", "Block sender"}
	case risk >= VerifiedBelow:
		return []string{"Verify sender identity through other channels", "Be cautious with any requests"}
	default:
		return []string{"Profile photo appears legitimate"}
	}
}

func analysisText(a analysis) string {
	var b strings.Builder
	switch {
	case a.risk >= highRisk:
		b.WriteString("HIGH RISK: Profile photo shows suspicious patterns")
	case a.risk >= VerifiedBelow:
		b.WriteString("MEDIUM RISK: Profile photo shows some inconsistencies")
	default:
		b.WriteString("LOW RISK: Profile photo appears consistent")
	}

	if len(a.domains) > 0 {
		fmt.Fprintf(&b, "\n\nImage found on %d domain(s):", len(a.domains))
		for _, d := range a.domains[:min(len(a.domains), 5)] {
			fmt.Fprintf(&b, "\n  - %s", d)
		}
		if len(a.domains) > 5 {
			fmt.Fprintf(&b, "\n  ... and %d more", len(a.domains)-5)
		}
	}
	if len(a.identities) > 0 {
		b.WriteString("\n\nAssociated identities found:")
		for _, id := range a.identities[:min(len(a.identities), 3)] {
			parts := make([]string, 0, 2)
			for _, p := range []string{id.Name, id.Role} {
				if p != "" {
					parts = append(parts, p)
				}
			}
			fmt.Fprintf(&b, "\n  - %s (%s)", strings.Join(parts, " - "), id.Domain)
		}
	}
	if len(a.patterns) > 0 {
		b.WriteString("\n\nSuspicious patterns detected:")
		for _, p := range a.patterns {
			fmt.Fprintf(&b, "\n  - %s", p.Description)
		}
	}
	return b.String()
}
