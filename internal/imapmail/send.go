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
	"context"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/mailbox"
	gomail "github.com/go-mail/mail"
)

// Send delivers msg through the account's SMTP server. IMAP has no thread
// IDs, so ThreadID is only validated.
func (c *Client) Send(ctx context.Context, msg mailbox.OutgoingMessage) (bool, error) {
	clean, err := msg.Validate()
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.username)
	m.SetHeader("To", clean.To)
	m.SetHeader("Subject", clean.Subject)
	m.SetBody("text/plain", clean.Body)

	d := gomail.NewDialer(c.cfg.SMTPHost, c.cfg.SMTPPort, c.username, c.password)
	d.Timeout = c.cfg.Timeout
	d.SSL = c.cfg.SMTPPort == 465
	if err := d.DialAndSend(m); err != nil {
		return false, &apperr.ProviderError{Provider: providerName, Op: "send", Kind: apperr.KindTransport, Err: err}
	}
	return true, nil
}
