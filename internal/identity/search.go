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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bcem/mailguard/internal/models"
)

// HTTPSearcher calls an external reverse image search service.
type HTTPSearcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSearcher creates a searcher for the service at baseURL.
func NewHTTPSearcher(baseURL, apiKey string, timeout time.Duration) *HTTPSearcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSearcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Image    string `json:"image"`
	MimeType string `json:"mime_type"`
}

type searchResponse struct {
	Matches []models.ImageMatch `json:"matches"`
}

// Search posts the image and returns the matches. Connection failures,
// timeouts and 503s wrap ErrSearchUnavailable.
func (s *HTTPSearcher) Search(ctx context.Context, image []byte, mimeType string) ([]models.ImageMatch, error) {
	body, err := json.Marshal(searchRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		MimeType: mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway:
		return nil, fmt.Errorf("%w: HTTP %d", ErrSearchUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("image search returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return out.Matches, nil
}
