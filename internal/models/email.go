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

// Package models defines the data structures shared across the assessment pipeline.
package models

import (
	"net/mail"
	"regexp"
	"strings"
)

// Field limits applied when a message is normalized.
const (
	MaxSubjectLength = 500
	MaxSenderLength  = 255
	MaxBodyLength    = 100_000
)

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Part is a decoded MIME part kept for content inspection (images, HTML).
// It is never rendered.
type Part struct {
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Inline   bool   `json:"inline,omitempty"`
	Data     []byte `json:"-"`
}

// NormalizedMessage is a provider-agnostic, sanitized view of one message.
// Subject, Sender and Body have already passed the text sanitizer.
type NormalizedMessage struct {
	ID             string `json:"id"`
	ThreadID       string `json:"thread_id,omitempty"`
	Subject        string `json:"subject"`
	Sender         string `json:"sender"`
	Date           string `json:"date"`
	Body           string `json:"body"`
	SourceProvider string `json:"source_provider"`
	Parts          []Part `json:"-"`
}

// ExtractedImage is a verified image candidate pulled out of a message.
type ExtractedImage struct {
	Data       []byte
	MimeType   string
	Filename   string
	IsEmbedded bool
	Size       int
	Width      int
	Height     int
}

var senderDomainRe = regexp.MustCompile(`@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)

// SenderDomain returns the lowercased domain of the first address found in a
// sender string such as "Jane Doe <jane@example.com>".
func SenderDomain(sender string) (string, bool) {
	m := senderDomainRe.FindStringSubmatch(sender)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// ParseSender splits a sender header into its display name and address.
// Headers net/mail cannot parse fall back to the raw text before '<'.
func ParseSender(sender string) EmailAddress {
	if addr, err := mail.ParseAddress(sender); err == nil {
		return EmailAddress{Address: addr.Address, Name: addr.Name}
	}
	name, rest, found := strings.Cut(sender, "<")
	if !found {
		return EmailAddress{Address: strings.TrimSpace(sender)}
	}
	return EmailAddress{
		Address: strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), ">")),
		Name:    strings.Trim(strings.TrimSpace(name), `"`),
	}
}

var personalDomains = map[string]bool{
	"gmail.com":      true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"icloud.com":     true,
	"protonmail.com": true,
	"aol.com":        true,
	"mail.com":       true,
	"yandex.com":     true,
	"zoho.com":       true,
	"gmx.com":        true,
}

// IsPersonalDomain reports whether domain belongs to a consumer mail provider.
func IsPersonalDomain(domain string) bool {
	return personalDomains[strings.ToLower(domain)]
}
