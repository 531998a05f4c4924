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

// Package gateway talks to the optional content analysis gateway, an
// OpenAI-compatible chat completions service that also stores sanitized
// message copies.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bcem/mailguard/internal/models"
	"github.com/bcem/mailguard/internal/sanitize"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "mailguard-email-classifier"

// bodyPreviewLength bounds the body excerpt sent for analysis.
const bodyPreviewLength = 1000

// ErrUnavailable is returned when the gateway cannot be reached.
var ErrUnavailable = errors.New("gateway unavailable")

const analysisPrompt = `Assess whether this email is a phishing or impersonation attempt.
Reply with a JSON object {"risk": <number between 0 and 1>, "reason": "<short reason>"}.

Subject: %s

Body: %s`

var (
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*?"risk".*?\}`)
	riskRe       = regexp.MustCompile(`(?i)risk["'\s:=]*([01](?:\.\d+)?)`)
)

// Config holds gateway connection settings.
type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls the gateway.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a gateway client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Analysis is the gateway's verdict on one message.
type Analysis struct {
	Text   string  `json:"analysis"`
	Model  string  `json:"model"`
	Risk   float64 `json:"risk"`
	Parsed bool    `json:"parsed"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Health reports whether the gateway answers its health check.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// Analyze asks the gateway model to assess a message. Only sanitized
// subject and body excerpts leave the process.
func (c *Client) Analyze(ctx context.Context, msg models.NormalizedMessage) (*Analysis, error) {
	fields := sanitize.Payload(map[string]string{
		"subject": msg.Subject,
		"body":    msg.Body,
	})
	body := fields["body"]
	if r := []rune(body); len(r) > bodyPreviewLength {
		body = string(r[:bodyPreviewLength])
	}

	payload := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: fmt.Sprintf(analysisPrompt, fields["subject"], body)}},
		Temperature: 0.3,
		MaxTokens:   500,
	}
	var out chatResponse
	if err := c.postJSON(ctx, "/v1/chat/completions", payload, &out); err != nil {
		return nil, fmt.Errorf("analyze message %s: %w", msg.ID, err)
	}

	a := &Analysis{Model: firstNonEmpty(out.Model, c.model)}
	if len(out.Choices) > 0 {
		a.Text = out.Choices[0].Message.Content
	}
	a.Risk, a.Parsed = ParseRisk(a.Text)
	return a, nil
}

// ContentRisk returns the gateway risk for a message. An unparseable
// verdict is an error so the caller can fall back to its default.
func (c *Client) ContentRisk(ctx context.Context, msg models.NormalizedMessage) (float64, error) {
	a, err := c.Analyze(ctx, msg)
	if err != nil {
		return 0, err
	}
	if !a.Parsed {
		return 0, fmt.Errorf("analyze message %s: no risk value in model output", msg.ID)
	}
	return a.Risk, nil
}

type syncRequest struct {
	Action    string            `json:"action"`
	EmailData map[string]string `json:"email_data"`
	Timestamp string            `json:"timestamp"`
}

// Sync stores a sanitized copy of a message and its assessment with the
// gateway.
func (c *Client) Sync(ctx context.Context, msg models.NormalizedMessage, a models.ThreatAssessment) error {
	fields := sanitize.Payload(map[string]string{
		"message_id":         msg.ID,
		"thread_id":          msg.ThreadID,
		"subject":            msg.Subject,
		"sender":             msg.Sender,
		"body":               msg.Body,
		"provider":           msg.SourceProvider,
		"threat_score":       strconv.FormatFloat(a.ThreatScore, 'f', 2, 64),
		"recommended_action": string(a.RecommendedAction),
	})
	req := syncRequest{
		Action:    "store_email",
		EmailData: fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.postJSON(ctx, "/api/email", req, nil); err != nil {
		return fmt.Errorf("sync message %s: %w", msg.ID, err)
	}
	slog.Debug("synced message to gateway", "message_id", msg.ID)
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ParseRisk extracts a risk value in [0,1] from model output. A JSON object
// carrying a numeric "risk" wins; otherwise the first "risk: N" mention is
// used.
func ParseRisk(text string) (float64, bool) {
	for _, obj := range jsonObjectRe.FindAllString(text, -1) {
		var v struct {
			Risk *float64 `json:"risk"`
		}
		if err := json.Unmarshal([]byte(obj), &v); err == nil && v.Risk != nil {
			return clamp01(*v.Risk), true
		}
	}
	if m := riskRe.FindStringSubmatch(text); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clamp01(f), true
		}
	}
	return 0, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
