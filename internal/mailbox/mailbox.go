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

// Package mailbox defines the provider-agnostic mail ingestion contract and
// the options shared by every provider implementation.
package mailbox

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bcem/mailguard/internal/models"
	"github.com/bcem/mailguard/internal/sanitize"
)

// Fetch limits.
const (
	MaxResultsLimit   = 500
	DaysBackLimit     = 30
	DefaultMaxResults = 50
	DefaultDaysBack   = 7
	MaxKeywords       = 10
	MaxKeywordLength  = 100
)

// Scopes that allow modifying a mailbox.
const (
	ScopeGmailModify = "https://www.googleapis.com/auth/gmail.modify"
	ScopeGmailFull   = "https://mail.google.com/"
	ScopeIMAP        = "imap"
)

// Provider fetches and sends mail for one authenticated mailbox.
type Provider interface {
	Name() string
	FetchUnread(ctx context.Context, opts FetchOptions) ([]models.NormalizedMessage, error)
	// FetchByID returns nil, nil when the message does not exist.
	FetchByID(ctx context.Context, id string) (*models.NormalizedMessage, error)
	Send(ctx context.Context, msg OutgoingMessage) (bool, error)
}

// LabelModifier is implemented by providers that can change message labels.
// Adding a present label or removing an absent one is a no-op.
type LabelModifier interface {
	ModifyLabels(ctx context.Context, messageID string, add, remove []string) error
}

// FetchOptions bounds an unread-mail fetch.
type FetchOptions struct {
	MaxResults int
	DaysBack   int
	Keywords   []string
}

// DefaultFetchOptions returns the options used when a caller sets nothing.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{MaxResults: DefaultMaxResults, DaysBack: DefaultDaysBack}
}

// Normalize clamps the limits into range and cleans the keyword list.
// Out-of-range values are clamped, never rejected.
func (o FetchOptions) Normalize() FetchOptions {
	out := FetchOptions{
		MaxResults: clamp(o.MaxResults, 1, MaxResultsLimit),
		DaysBack:   clamp(o.DaysBack, 1, DaysBackLimit),
	}
	kws := o.Keywords
	if len(kws) > MaxKeywords {
		kws = kws[:MaxKeywords]
	}
	for _, k := range kws {
		k = strings.TrimSpace(k)
		if k == "" || utf8.RuneCountInString(k) > MaxKeywordLength {
			continue
		}
		out.Keywords = append(out.Keywords, k)
	}
	return out
}

// Since returns the start of the fetch window relative to now.
func (o FetchOptions) Since(now time.Time) time.Time {
	d := now.AddDate(0, 0, -o.DaysBack)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// MatchesKeywords reports whether msg mentions any keyword in its subject,
// sender or body. An empty list matches everything.
func MatchesKeywords(msg models.NormalizedMessage, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(msg.Subject + "\n" + msg.Sender + "\n" + msg.Body)
	for _, k := range keywords {
		if strings.Contains(haystack, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// OutgoingMessage is a reply or new message to send.
type OutgoingMessage struct {
	To       string
	Subject  string
	Body     string
	ThreadID string
}

// Validate checks the recipient and thread ID and returns a cleaned copy.
func (m OutgoingMessage) Validate() (OutgoingMessage, error) {
	to := strings.TrimSpace(m.To)
	if err := sanitize.Address(to); err != nil {
		return m, err
	}
	if err := sanitize.ThreadID(m.ThreadID); err != nil {
		return m, err
	}
	return OutgoingMessage{
		To:       to,
		Subject:  sanitize.Text(m.Subject, sanitize.Subject),
		Body:     sanitize.Text(m.Body, sanitize.Body),
		ThreadID: m.ThreadID,
	}, nil
}

// NewMessage builds a NormalizedMessage, passing every text field through the
// sanitizer.
func NewMessage(provider, id, threadID, subject, sender, date, body string, parts []models.Part) models.NormalizedMessage {
	return models.NormalizedMessage{
		ID:             id,
		ThreadID:       threadID,
		Subject:        sanitize.Text(subject, sanitize.Subject),
		Sender:         sanitize.Text(sender, sanitize.Sender),
		Date:           sanitize.Text(date, sanitize.Subject),
		Body:           sanitize.Text(body, sanitize.Body),
		SourceProvider: provider,
		Parts:          parts,
	}
}

// Session is an opened mailbox for one user. Modifier is nil when the
// provider cannot change labels.
type Session struct {
	Provider   Provider
	Modifier   LabelModifier
	Credential *models.Credential
}

// Account identifies the mailbox a Factory should open.
type Account struct {
	UserID   string
	Provider string
	Address  string
	// Password is used by providers without OAuth.
	Password string
}

// Factory opens a session for an account.
type Factory func(ctx context.Context, acct Account) (*Session, error)

// Registry selects a Factory by provider name.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Open opens a session with the factory registered for acct.Provider.
func (r *Registry) Open(ctx context.Context, acct Account) (*Session, error) {
	f, ok := r.factories[acct.Provider]
	if !ok {
		return nil, fmt.Errorf("no mail provider registered for %q", acct.Provider)
	}
	return f(ctx, acct)
}
