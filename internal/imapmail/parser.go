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

package imapmail

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
	"github.com/bcem/mailguard/internal/sanitize"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// maxPartBytes bounds each MIME part read into memory.
const maxPartBytes = 5 << 20

// parseMessage converts a raw RFC 822 message into a NormalizedMessage.
// Messages go-message cannot parse are kept as plain text.
func parseMessage(id string, raw []byte, s *sanitize.Sanitizer) models.NormalizedMessage {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return mailbox.NewMessage(providerName, id, "", "", "", "", string(raw), nil)
	}
	defer mr.Close()

	subject, _ := mr.Header.Subject()
	var sender string
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		sender = formatAddress(from[0])
	} else {
		sender = mr.Header.Get("From")
	}
	var date string
	if d, err := mr.Header.Date(); err == nil && !d.IsZero() {
		date = d.Format(time.RFC1123Z)
	}

	var text, html string
	var parts []models.Part
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			ct = strings.ToLower(ct)
			data, err := io.ReadAll(io.LimitReader(p.Body, maxPartBytes))
			if err != nil {
				continue
			}
			switch {
			case ct == "text/plain" || ct == "":
				if text == "" {
					text = string(data)
				}
			case ct == "text/html":
				if html == "" {
					html = string(data)
				}
				if len(data) > models.MaxBodyLength {
					data = data[:models.MaxBodyLength]
				}
				parts = append(parts, models.Part{MimeType: ct, Data: data})
			case strings.HasPrefix(ct, "image/"):
				parts = append(parts, models.Part{MimeType: ct, Inline: true, Data: data})
			}
		case *mail.AttachmentHeader:
			ct, _, _ := h.ContentType()
			ct = strings.ToLower(ct)
			if !strings.HasPrefix(ct, "image/") {
				continue
			}
			data, err := io.ReadAll(io.LimitReader(p.Body, maxPartBytes))
			if err != nil {
				continue
			}
			filename, _ := h.Filename()
			parts = append(parts, models.Part{MimeType: ct, Filename: filename, Data: data})
		}
	}

	body := text
	if strings.TrimSpace(body) == "" && html != "" {
		body = s.Markup(html)
	}
	return mailbox.NewMessage(providerName, id, "", subject, sender, date, body, parts)
}

func formatAddress(a *mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}
