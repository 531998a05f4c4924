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

import "time"

// Report statuses.
const (
	StatusClean      = "clean"
	StatusSuspicious = "suspicious"
	StatusPhishing   = "phishing"
	StatusIncomplete = "incomplete"
)

// AssessmentReport is the full outcome of assessing one message: the verdict
// plus the inputs that produced it and any sub-analysis that was degraded.
type AssessmentReport struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	Provider     string              `json:"provider"`
	MessageID    string              `json:"message_id"`
	ThreadID     string              `json:"thread_id,omitempty"`
	Sender       string              `json:"sender"`
	Subject      string              `json:"subject"`
	Assessment   ThreatAssessment    `json:"assessment"`
	Footprint    FootprintRecord     `json:"footprint"`
	Verification *VerificationResult `json:"verification,omitempty"`
	ContentRisk  float64             `json:"content_risk"`
	Degraded     []string            `json:"degraded,omitempty"`
	Notes        []string            `json:"notes,omitempty"`
	Summary      string              `json:"summary,omitempty"`
	Mitigation   *MitigationResult   `json:"mitigation,omitempty"`
	AssessedAt   time.Time           `json:"assessed_at"`
}

// Complete reports whether every sub-analysis ran normally.
func (r *AssessmentReport) Complete() bool {
	return len(r.Degraded) == 0 && !r.Assessment.Degraded
}

// Status summarizes the verdict. A message that scored clean but could not be
// fully assessed is "incomplete", never "clean".
func (r *AssessmentReport) Status() string {
	switch r.Assessment.RecommendedAction {
	case ActionMarkAsPhishing:
		return StatusPhishing
	case ActionFlag:
		if r.Assessment.Degraded {
			return StatusIncomplete
		}
		return StatusSuspicious
	}
	if !r.Complete() {
		return StatusIncomplete
	}
	return StatusClean
}
