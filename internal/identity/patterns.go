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
	"regexp"
	"sort"
	"strings"

	"github.com/bcem/mailguard/internal/models"
)

// Detector weights.
const (
	weightManyDomains      = 0.2
	weightMultipleRoles    = 0.4
	weightSocialMismatch   = 0.3
	weightSuspiciousDomain = 0.2
	weightNameMismatch     = 0.2

	manyDomainsThreshold = 3
)

var (
	fullNameRe   = regexp.MustCompile(`\b([A-Z][a-z]+ [A-Z][a-z]+)\b`)
	singleNameRe = regexp.MustCompile(`\b([A-Z][a-z]{2,})\b`)

	roles = []string{
		"recruiter", "headhunter", "real estate", "realtor", "attorney",
		"lawyer", "agent", "director", "manager", "executive",
	}
	socialDomains     = []string{"facebook", "instagram", "linkedin", "twitter", "x.com"}
	suspiciousDomainK = []string{"law", "real estate", "realestate", "attorney", "lawyer", "realtor", "agent"}
)

// roleCategory groups roles into the categories compared for consistency.
func roleCategory(role string) string {
	switch role {
	case "recruiter", "headhunter":
		return "recruiter"
	case "real estate", "realtor", "agent":
		return "real_estate"
	case "attorney", "lawyer":
		return "legal"
	case "director", "manager", "executive":
		return "corporate"
	default:
		return "other"
	}
}

// extractIdentity infers a persona from a match's title and context. It
// returns false when nothing useful was found.
func extractIdentity(m models.ImageMatch) (models.Identity, bool) {
	id := models.Identity{Domain: m.Domain, Name: m.DisplayName}
	if id.Name == "" {
		if n := fullNameRe.FindString(m.Title); n != "" {
			id.Name = n
		} else if n := singleNameRe.FindString(m.Title); n != "" {
			id.Name = n
		}
	}
	text := strings.ToLower(m.Title + " " + m.Context)
	for _, r := range roles {
		if strings.Contains(text, r) {
			id.Role = r
			id.Category = roleCategory(r)
			break
		}
	}
	if id.Name == "" && id.Role == "" {
		return models.Identity{}, false
	}
	return id, true
}

// analysis is the outcome of running the detectors over a set of matches.
type analysis struct {
	domains    []string
	identities []models.Identity
	patterns   []models.Pattern
	risk       float64
}

// analyzeMatches runs the additive detectors. The claimed name is the
// sender's display name and may be empty.
func analyzeMatches(matches []models.ImageMatch, claimedName string) analysis {
	var a analysis
	domainSet := make(map[string]bool)
	categories := make(map[string]bool)

	for _, m := range matches {
		d := strings.ToLower(strings.TrimSpace(m.Domain))
		if d != "" && !domainSet[d] {
			domainSet[d] = true
			a.domains = append(a.domains, d)
		}
		if id, ok := extractIdentity(m); ok {
			a.identities = append(a.identities, id)
			if id.Category != "" {
				categories[id.Category] = true
			}
		}
	}
	sort.Strings(a.domains)

	add := func(kind, desc string, weight float64) {
		a.patterns = append(a.patterns, models.Pattern{Type: kind, Description: desc, Weight: weight})
		a.risk += weight
	}

	if len(a.domains) > manyDomainsThreshold {
		add("multiple_domains", fmt.Sprintf("Image appears on %d different domains", len(a.domains)), weightManyDomains)
	}
	if len(categories) > 1 {
		cats := make([]string, 0, len(categories))
		for c := range categories {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		add("multiple_identities", "Image associated with different professional roles: "+strings.Join(cats, ", "), weightMultipleRoles)
	}
	for _, m := range matches {
		// Without a claimed name there is nothing to contradict.
		if claimedName == "" || !isSocial(m.Domain) {
			continue
		}
		shown := m.DisplayName
		if shown == "" {
			if id, ok := extractIdentity(m); ok {
				shown = id.Name
			}
		}
		if shown != "" && !namesAgree(claimedName, shown) {
			add("social_media_mismatch", fmt.Sprintf("Image found on %s under the name %q", m.Domain, shown), weightSocialMismatch)
		}
	}
	for _, d := range a.domains {
		if k := suspiciousKeyword(d); k != "" {
			add("suspicious_domain", fmt.Sprintf("Image found on %s domain: %s", k, d), weightSuspiciousDomain)
		}
	}
	for _, id := range a.identities {
		if id.Name != "" && claimedName != "" && !namesAgree(claimedName, id.Name) {
			add("name_mismatch", fmt.Sprintf("Sender name %q does not match %q found with the image", claimedName, id.Name), weightNameMismatch)
			break
		}
	}

	a.risk = min(a.risk, 1.0)
	return a
}

func isSocial(domain string) bool {
	d := strings.ToLower(domain)
	for _, s := range socialDomains {
		if strings.Contains(d, s) {
			return true
		}
	}
	return false
}

func suspiciousKeyword(domain string) string {
	for _, k := range suspiciousDomainK {
		if strings.Contains(domain, k) {
			return k
		}
	}
	return ""
}

// namesAgree reports whether either name contains the other, ignoring case.
func namesAgree(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
