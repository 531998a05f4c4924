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
	"fmt"
	"strings"

	"github.com/bcem/mailguard/internal/models"
)

// Summary renders a short human-readable verdict combining the threat
// assessment with the identity verification, if one ran.
func Summary(a models.ThreatAssessment, v *models.VerificationResult) string {
	var lines []string
	switch a.RecommendedAction {
	case models.ActionMarkAsPhishing:
		lines = append(lines, "PHISHING DETECTED", fmt.Sprintf("Risk Score: %.0f%%", a.ThreatScore*100))
	case models.ActionFlag:
		lines = append(lines, "SUSPICIOUS EMAIL", fmt.Sprintf("Risk Score: %.0f%%", a.ThreatScore*100))
	default:
		lines = append(lines, "Email appears legitimate")
		if a.ThreatScore > 0.3 {
			lines = append(lines, fmt.Sprintf("Risk Score: %.0f%%", a.ThreatScore*100))
		}
	}
	if a.Degraded {
		lines = append(lines, "Assessment incomplete: scoring fell back to a cautious default")
	}

	b := a.Breakdown
	lines = append(lines, "", "Breakdown:",
		fmt.Sprintf("  footprint: %.2f", b.FootprintRisk),
		fmt.Sprintf("  domain mismatch: %.2f", b.DomainMismatchRisk),
		fmt.Sprintf("  content: %.2f", b.ContentRisk))

	if v != nil {
		if len(v.Recommendations) > 0 {
			lines = append(lines, "", "Recommendations:")
			for _, r := range v.Recommendations {
				lines = append(lines, "  * "+r)
			}
		}
		if v.Analysis != "" {
			lines = append(lines, "", v.Analysis)
		}
	}
	return strings.Join(lines, "\n")
}
