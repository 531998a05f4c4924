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

package gmail

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
	gm "google.golang.org/api/gmail/v1"
)

// maxDepth bounds MIME tree recursion.
const maxDepth = 20

// extracted collects what a walk over the MIME tree found.
type extracted struct {
	text  string
	html  string
	parts []models.Part
}

// convert turns a full-format Gmail message into a NormalizedMessage.
func (c *Client) convert(ctx context.Context, msg *gm.Message) models.NormalizedMessage {
	var headers map[string]string
	var ex extracted
	if msg.Payload != nil {
		headers = headerMap(msg.Payload.Headers)
		c.walk(ctx, msg.Id, msg.Payload, &ex, 0)
	}

	body := ex.text
	if strings.TrimSpace(body) == "" && ex.html != "" {
		body = c.sanitizer.Markup(ex.html)
	}
	if body == "" {
		body = msg.Snippet
	}

	return mailbox.NewMessage(ProviderName, msg.Id, msg.ThreadId,
		headers["subject"], headers["from"], headers["date"], body, ex.parts)
}

func (c *Client) walk(ctx context.Context, messageID string, part *gm.MessagePart, ex *extracted, depth int) {
	if part == nil || depth > maxDepth {
		return
	}
	mimeType := strings.ToLower(part.MimeType)

	switch {
	case mimeType == "text/plain" && part.Filename == "":
		if data := partData(part); data != nil && ex.text == "" {
			ex.text = string(data)
		}
	case mimeType == "text/html" && part.Filename == "":
		if data := partData(part); data != nil {
			if ex.html == "" {
				ex.html = string(data)
			}
			if len(data) > models.MaxBodyLength {
				data = data[:models.MaxBodyLength]
			}
			ex.parts = append(ex.parts, models.Part{MimeType: "text/html", Data: data})
		}
	case strings.HasPrefix(mimeType, "image/"):
		if data := c.imageData(ctx, messageID, part); data != nil {
			ex.parts = append(ex.parts, models.Part{
				MimeType: mimeType,
				Filename: part.Filename,
				Inline:   isInline(part),
				Data:     data,
			})
		}
	}

	for _, p := range part.Parts {
		c.walk(ctx, messageID, p, ex, depth+1)
	}
}

func (c *Client) imageData(ctx context.Context, messageID string, part *gm.MessagePart) []byte {
	if part.Body == nil {
		return nil
	}
	if part.Body.Size > c.maxAttach {
		return nil
	}
	if part.Body.Data != "" {
		return partData(part)
	}
	if part.Body.AttachmentId == "" {
		return nil
	}
	data, err := c.fetchAttachment(ctx, messageID, part.Body.AttachmentId)
	if err != nil {
		slog.Warn("failed to fetch image attachment", "message_id", messageID, "filename", part.Filename, "error", err)
		return nil
	}
	return data
}

func partData(part *gm.MessagePart) []byte {
	if part.Body == nil || part.Body.Data == "" {
		return nil
	}
	data, err := decodeData(part.Body.Data)
	if err != nil {
		return nil
	}
	return data
}

// decodeData decodes Gmail's base64url payloads, padded or not.
func decodeData(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func headerMap(headers []*gm.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		key := strings.ToLower(h.Name)
		if _, ok := m[key]; !ok {
			m[key] = h.Value
		}
	}
	return m
}

func isInline(part *gm.MessagePart) bool {
	h := headerMap(part.Headers)
	if strings.HasPrefix(strings.ToLower(h["content-disposition"]), "inline") {
		return true
	}
	return h["content-id"] != ""
}
