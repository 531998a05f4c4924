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
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
	gm "google.golang.org/api/gmail/v1"
)

// FetchUnread lists unread messages inside the options window and fetches
// each in full. Messages that fail individually are skipped; an
// authentication failure aborts the whole fetch.
func (c *Client) FetchUnread(ctx context.Context, opts mailbox.FetchOptions) ([]models.NormalizedMessage, error) {
	opts = opts.Normalize()
	query := buildQuery(opts, c.now())

	var resp *gm.ListMessagesResponse
	err := c.call(ctx, "list", func(ctx context.Context) error {
		var err error
		resp, err = c.svc.Users.Messages.List(userMe).
			Q(query).
			MaxResults(int64(opts.MaxResults)).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	messages := make([]models.NormalizedMessage, 0, len(resp.Messages))
	for _, ref := range resp.Messages {
		msg, err := c.FetchByID(ctx, ref.Id)
		if err != nil {
			if apperr.IsAuthError(err) {
				return nil, err
			}
			slog.Warn("skipping message that failed to fetch", "message_id", ref.Id, "error", err)
			continue
		}
		if msg == nil {
			continue
		}
		messages = append(messages, *msg)
	}

	slog.Debug("fetched unread gmail messages", "query", query, "count", len(messages))
	return messages, nil
}

// FetchByID fetches one message in full format. It returns nil, nil when the
// message no longer exists.
func (c *Client) FetchByID(ctx context.Context, id string) (*models.NormalizedMessage, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Invalid("message_id", "empty message id")
	}

	var raw *gm.Message
	err := c.call(ctx, "get", func(ctx context.Context) error {
		var err error
		raw, err = c.svc.Users.Messages.Get(userMe, id).Format("full").Context(ctx).Do()
		return err
	})
	if kind, ok := apperr.Kind(err); ok && kind == apperr.KindNotFound {
		slog.Warn("message not found (may have been deleted)", "message_id", id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	msg := c.convert(ctx, raw)
	return &msg, nil
}

// buildQuery renders the Gmail search query for an unread fetch.
func buildQuery(opts mailbox.FetchOptions, now time.Time) string {
	q := "is:unread after:" + opts.Since(now).Format("2006/01/02")
	if len(opts.Keywords) == 0 {
		return q
	}
	quoted := make([]string, 0, len(opts.Keywords))
	for _, k := range opts.Keywords {
		quoted = append(quoted, `"`+strings.ReplaceAll(k, `"`, "")+`"`)
	}
	return q + " (" + strings.Join(quoted, " OR ") + ")"
}

func (c *Client) fetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	var body *gm.MessagePartBody
	err := c.call(ctx, "attachment", func(ctx context.Context) error {
		var err error
		body, err = c.svc.Users.Messages.Attachments.Get(userMe, messageID, attachmentID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return decodeData(body.Data)
}
