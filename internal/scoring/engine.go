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

// Package scoring fuses footprint, sender/domain consistency and content
// risk into a threat score and a recommended action.
package scoring

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/bcem/mailguard/internal/models"
)

// Component caps.
const (
	MaxFootprintRisk      = 0.40
	MaxDomainMismatchRisk = 0.30
	MaxContentRisk        = 0.30
)

// Action thresholds.
const (
	PhishingThreshold = 0.8
	FlagThreshold     = 0.5
)

// FailSafeScore is reported when scoring itself fails.
const FailSafeScore = 0.5

var professionalRe = regexp.MustCompile(`(?i)\b(?:recruiter|hiring manager|hr department|human resources|company|corporation|corp|llc|ltd|financial advisor|bank|investment|legal counsel|attorney|law firm|accountant|cpa)\b|\binc\.`)

// MessageInput is the part of a message the engine looks at.
type MessageInput struct {
	MessageID string
	Sender    string
	Subject   string
	Body      string
}

// InputFrom builds a MessageInput from a normalized message.
func InputFrom(msg models.NormalizedMessage) MessageInput {
	return MessageInput{MessageID: msg.ID, Sender: msg.Sender, Subject: msg.Subject, Body: msg.Body}
}

// Engine computes threat assessments. It is stateless and safe for
// concurrent use.
type Engine struct{}

// NewEngine creates an Engine.
func NewEngine() *Engine { return &Engine{} }

// Score assesses one message. contentRisk is clamped to [0,1]. Any internal
// failure produces the fail-safe assessment instead of an error.
func (e *Engine) Score(in MessageInput, fp models.FootprintRecord, contentRisk float64) (a models.ThreatAssessment) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("threat scoring failed, using fail-safe result", "message_id", in.MessageID, "panic", fmt.Sprint(r))
			a = FailSafe(in.MessageID)
		}
	}()
	if math.IsNaN(contentRisk) || math.IsInf(contentRisk, 0) {
		slog.Warn("invalid content risk, using fail-safe result", "message_id", in.MessageID)
		return FailSafe(in.MessageID)
	}

	b := models.Breakdown{
		FootprintRisk:      footprintRisk(fp),
		DomainMismatchRisk: domainMismatchRisk(in),
		ContentRisk:        round(clamp01(contentRisk) * MaxContentRisk),
	}
	score := round(min(b.Total(), 1.0))
	return models.ThreatAssessment{
		MessageID:         in.MessageID,
		ThreatScore:       score,
		Breakdown:         b,
		RecommendedAction: Decide(score),
	}
}

// FailSafe is the cautious assessment used when scoring cannot complete.
func FailSafe(messageID string) models.ThreatAssessment {
	return models.ThreatAssessment{
		MessageID:         messageID,
		ThreatScore:       FailSafeScore,
		RecommendedAction: models.ActionFlag,
		Degraded:          true,
	}
}

// Decide maps a score to an action.
func Decide(score float64) models.Action {
	switch {
	case score >= PhishingThreshold:
		return models.ActionMarkAsPhishing
	case score >= FlagThreshold:
		return models.ActionFlag
	default:
		return models.ActionNone
	}
}

// footprintRisk is highest for young domains nobody references.
func footprintRisk(fp models.FootprintRecord) float64 {
	switch {
	case fp.SourceCount == 0 && fp.AgeDays < 90:
		return MaxFootprintRisk
	case fp.SourceCount < 3 && fp.AgeDays < 180:
		return 0.20
	case fp.SourceCount < 10:
		return 0.10
	default:
		return 0.0
	}
}

// domainMismatchRisk flags professional claims sent from a personal mailbox.
// The risk is flat regardless of how many keywords match.
func domainMismatchRisk(in MessageInput) float64 {
	domain, ok := models.SenderDomain(in.Sender)
	if !ok || !models.IsPersonalDomain(domain) {
		return 0.0
	}
	if professionalRe.MatchString(in.Body) {
		return MaxDomainMismatchRisk
	}
	return 0.0
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

// round trims float noise so threshold comparisons are stable.
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// ProfessionalTerms lists the distinct professional-role terms found in
// text, lowercased, in order of first appearance.
func ProfessionalTerms(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range professionalRe.FindAllString(text, -1) {
		k := strings.ToLower(m)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
