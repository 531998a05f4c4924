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

// Package gmail implements the mailbox provider on the Gmail REST API.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
	"github.com/bcem/mailguard/internal/sanitize"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// ProviderName is the registry key for Gmail accounts.
	ProviderName = "gmail"
	userMe       = "me"

	// DefaultMaxAttachmentBytes bounds image attachments pulled for inspection.
	DefaultMaxAttachmentBytes = 5 << 20
)

// Config controls how a Client talks to the Gmail API.
type Config struct {
	// Endpoint overrides the API base URL (tests).
	Endpoint string
	// HTTPClient replaces the OAuth2 transport entirely (tests).
	HTTPClient *http.Client
	// Timeout bounds each API call. Defaults to 10s.
	Timeout time.Duration
	// Breaker is shared between clients so failures accumulate across users.
	Breaker            *gobreaker.CircuitBreaker
	Sanitizer          *sanitize.Sanitizer
	MaxAttachmentBytes int64
}

// Client is a Gmail mailbox bound to one credential.
type Client struct {
	svc       *gm.Service
	cb        *gobreaker.CircuitBreaker
	sanitizer *sanitize.Sanitizer
	timeout   time.Duration
	maxAttach int64
	now       func() time.Time

	labelMu  sync.Mutex
	labelIDs map[string]string
}

var (
	_ mailbox.Provider      = (*Client)(nil)
	_ mailbox.LabelModifier = (*Client)(nil)
)

// New creates a Gmail client authorized with cred.
func New(ctx context.Context, cred *models.Credential, cfg Config) (*Client, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, &apperr.AuthError{Message: "gmail client requires an access token"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewBreaker("gmail-api")
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = sanitize.New()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		ts := oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cred.AccessToken,
			TokenType:   cred.TokenType,
			Expiry:      cred.Expiry,
		})
		hc = oauth2.NewClient(ctx, ts)
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Client{
		svc:       svc,
		cb:        cfg.Breaker,
		sanitizer: cfg.Sanitizer,
		timeout:   cfg.Timeout,
		maxAttach: cfg.MaxAttachmentBytes,
		now:       time.Now,
		labelIDs:  make(map[string]string),
	}, nil
}

// Name implements mailbox.Provider.
func (c *Client) Name() string { return ProviderName }

// NewBreaker returns a circuit breaker that opens on sustained server-side
// failures. Client errors (4xx other than 429) never trip it.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isServerSide(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// call runs fn under the per-call timeout and the circuit breaker and
// classifies any failure.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func isServerSide(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return true
}

// classify maps a Gmail API failure to a ProviderError.
func classify(op string, err error) error {
	kind := apperr.KindUnknown

	var apiErr *googleapi.Error
	var netErr net.Error
	switch {
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			kind = apperr.KindUnauthorized
		case apiErr.Code == http.StatusForbidden:
			kind = apperr.KindInsufficientScope
			if isRateLimitReason(apiErr) {
				kind = apperr.KindRateLimited
			}
		case apiErr.Code == http.StatusNotFound:
			kind = apperr.KindNotFound
		case apiErr.Code == http.StatusTooManyRequests:
			kind = apperr.KindRateLimited
		case apiErr.Code >= 500:
			kind = apperr.KindTransport
		}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		kind = apperr.KindTransport
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		kind = apperr.KindTransport
	}
	return &apperr.ProviderError{Provider: ProviderName, Op: op, Kind: kind, Err: err}
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}
