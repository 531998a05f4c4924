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
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/bcem/mailguard/internal/mailbox"
	gomail "github.com/go-mail/mail"
	gm "google.golang.org/api/gmail/v1"
)

// Send validates and sends msg. Validation failures never reach the network.
func (c *Client) Send(ctx context.Context, msg mailbox.OutgoingMessage) (bool, error) {
	raw, clean, err := buildRaw(msg)
	if err != nil {
		return false, err
	}

	var sent *gm.Message
	err = c.call(ctx, "send", func(ctx context.Context) error {
		var err error
		sent, err = c.svc.Users.Messages.Send(userMe, &gm.Message{Raw: raw, ThreadId: clean.ThreadID}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return false, err
	}
	slog.Info("message sent", "message_id", sent.Id, "thread_id", sent.ThreadId)
	return true, nil
}

// CreateDraft validates msg and stores it as a draft. It returns the draft ID.
func (c *Client) CreateDraft(ctx context.Context, msg mailbox.OutgoingMessage) (string, error) {
	raw, clean, err := buildRaw(msg)
	if err != nil {
		return "", err
	}

	var draft *gm.Draft
	err = c.call(ctx, "create_draft", func(ctx context.Context) error {
		var err error
		draft, err = c.svc.Users.Drafts.Create(userMe, &gm.Draft{
			Message: &gm.Message{Raw: raw, ThreadId: clean.ThreadID},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return draft.Id, nil
}

// buildRaw renders an RFC 822 message encoded the way the Gmail API expects.
func buildRaw(msg mailbox.OutgoingMessage) (string, mailbox.OutgoingMessage, error) {
	clean, err := msg.Validate()
	if err != nil {
		return "", clean, err
	}

	m := gomail.NewMessage()
	m.SetHeader("To", clean.To)
	m.SetHeader("Subject", clean.Subject)
	m.SetBody("text/plain", clean.Body)

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return "", clean, fmt.Errorf("render message: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), clean, nil
}
