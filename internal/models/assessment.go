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

package models

// Action is a recommended or requested mailbox action.
type Action string

const (
	ActionNone           Action = "NONE"
	ActionFlag           Action = "FLAG"
	ActionMarkAsPhishing Action = "MARK_AS_PHISHING"
	ActionMarkAsSpam     Action = "MARK_AS_SPAM"
	ActionMarkAsRead     Action = "MARK_AS_READ"
)

// Reputation values carried by a FootprintRecord.
const (
	ReputationUnknown     = "unknown"
	ReputationEstablished = "established"
)

// FootprintRecord summarizes the public presence of a sender domain.
type FootprintRecord struct {
	Domain      string `json:"domain"`
	SourceCount int    `json:"source_count"`
	AgeDays     int    `json:"age_days"`
	Reputation  string `json:"reputation"`
}

// UnknownFootprint is returned when no domain can be determined or looked up.
func UnknownFootprint() FootprintRecord {
	return FootprintRecord{Domain: "unknown", SourceCount: 0, AgeDays: 999, Reputation: ReputationUnknown}
}

// Breakdown holds the weighted risk components of a threat score.
type Breakdown struct {
	FootprintRisk      float64 `json:"footprint_risk"`
	DomainMismatchRisk float64 `json:"domain_mismatch_risk"`
	ContentRisk        float64 `json:"content_risk"`
}

// Total sums the components.
func (b Breakdown) Total() float64 {
	return b.FootprintRisk + b.DomainMismatchRisk + b.ContentRisk
}

// ThreatAssessment is the verdict for one message. Degraded is set when the
// scorer fell back to its fail-safe result.
type ThreatAssessment struct {
	MessageID         string    `json:"message_id"`
	ThreatScore       float64   `json:"threat_score"`
	Breakdown         Breakdown `json:"breakdown"`
	RecommendedAction Action    `json:"recommended_action"`
	Degraded          bool      `json:"degraded,omitempty"`
}

// Mitigation outcome values.
const (
	MitigationSuccess = "SUCCESS"
	MitigationFailure = "FAILURE"
)

// Mitigation error codes.
const (
	ErrCodeInsufficientScope = "INSUFFICIENT_SCOPE"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeMessageNotFound   = "MESSAGE_NOT_FOUND"
	ErrCodeUnsupportedAction = "UNSUPPORTED_ACTION"
	ErrCodeUnknownAPIError   = "UNKNOWN_API_ERROR"
)

// MitigationResult describes one mitigation attempt. On failure LabelsApplied
// and LabelsRemoved hold the labels that were attempted.
type MitigationResult struct {
	Status        string   `json:"status"`
	MessageID     string   `json:"message_id"`
	Action        Action   `json:"action"`
	LabelsApplied []string `json:"labels_applied"`
	LabelsRemoved []string `json:"labels_removed"`
	Error         string   `json:"error,omitempty"`
	ErrorCode     string   `json:"error_code,omitempty"`
}

// Succeeded reports whether the mitigation was applied.
func (r MitigationResult) Succeeded() bool { return r.Status == MitigationSuccess }

// Verification outcomes.
const (
	VerificationVerified    = "verified"
	VerificationNoImage     = "no_image"
	VerificationUnavailable = "unavailable"
)

// ImageMatch is one reverse image search hit.
type ImageMatch struct {
	Domain      string `json:"domain"`
	Title       string `json:"title"`
	Context     string `json:"context,omitempty"`
	URL         string `json:"url,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Identity is a persona inferred from a match.
type Identity struct {
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	Category string `json:"category,omitempty"`
	Domain   string `json:"domain"`
}

// Pattern is a triggered identity-risk detector.
type Pattern struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// VerificationResult is the identity verification verdict for a sender.
type VerificationResult struct {
	Status          string       `json:"status"`
	RiskScore       float64      `json:"risk_score"`
	Verified        bool         `json:"verified"`
	Analysis        string       `json:"analysis"`
	Recommendations []string     `json:"recommendations"`
	Matches         []ImageMatch `json:"matches,omitempty"`
	Identities      []Identity   `json:"identities,omitempty"`
	Patterns        []Pattern    `json:"patterns,omitempty"`
}

// Searched reports whether the result came from an actual image search.
func (v VerificationResult) Searched() bool { return v.Status == VerificationVerified }
