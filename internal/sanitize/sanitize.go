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

// Package sanitize bounds and cleans untrusted message content before it is
// stored, scored or forwarded anywhere.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/models"
	"github.com/microcosm-cc/bluemonday"
)

// FieldKind selects the length limit applied by Text.
type FieldKind int

const (
	Subject FieldKind = iota
	Sender
	Body
	Recipient
)

// MaxThreadIDLength bounds provider thread identifiers.
const MaxThreadIDLength = 200

func (k FieldKind) limit() int {
	switch k {
	case Subject:
		return models.MaxSubjectLength
	case Sender, Recipient:
		return models.MaxSenderLength
	default:
		return models.MaxBodyLength
	}
}

// Text strips control characters (keeping newline and tab), trims surrounding
// whitespace and truncates to the field's limit without splitting a rune.
func Text(value string, kind FieldKind) string {
	if value == "" {
		return ""
	}
	value = strings.ToValidUTF8(value, "")
	value = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, value)
	value = strings.TrimSpace(value)
	return truncate(value, kind.limit())
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// Sanitizer cleans HTML with an allow-list policy. The zero value has no
// policy and escapes everything instead.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// New returns a Sanitizer allowing basic formatting and links only.
func New() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "em", "u", "ul", "ol", "li")
	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	return &Sanitizer{policy: p}
}

// Markup returns html reduced to the allow-list, bounded to the body limit.
func (s *Sanitizer) Markup(markup string) string {
	var out string
	if s == nil || s.policy == nil {
		out = html.EscapeString(markup)
	} else {
		out = s.policy.Sanitize(markup)
	}
	return Text(out, Body)
}

var (
	addressRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	controlRe = regexp.MustCompile(`[\s\x00-\x1f\x7f]`)
)

// Address validates a recipient against the strict address grammar.
func Address(addr string) error {
	if addr == "" {
		return apperr.Invalid("recipient", "empty address")
	}
	if utf8.RuneCountInString(addr) > models.MaxSenderLength {
		return apperr.Invalid("recipient", "longer than %d characters", models.MaxSenderLength)
	}
	if !addressRe.MatchString(addr) {
		return apperr.Invalid("recipient", "%q is not a valid address", addr)
	}
	return nil
}

// ThreadID validates an optional thread identifier. Empty means no thread.
func ThreadID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > MaxThreadIDLength {
		return apperr.Invalid("thread_id", "longer than %d characters", MaxThreadIDLength)
	}
	if controlRe.MatchString(id) {
		return apperr.Invalid("thread_id", "contains whitespace or control characters")
	}
	return nil
}

// sensitiveKeys never leave the process in an outbound payload.
var sensitiveKeys = map[string]bool{
	"raw_message":  true,
	"raw_payload":  true,
	"credentials":  true,
	"token":        true,
	"access_token": true,
}

// Payload prepares fields for an external service: sensitive keys are
// dropped and every value is cleaned and HTML-escaped.
func Payload(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			continue
		}
		kind := Body
		switch k {
		case "subject":
			kind = Subject
		case "sender", "from":
			kind = Sender
		}
		out[k] = html.EscapeString(Text(v, kind))
	}
	return out
}
