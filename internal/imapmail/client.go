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

// Package imapmail implements the mailbox provider over IMAP, with SMTP for
// sending and IMAP flags standing in for labels.
package imapmail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
	"github.com/bcem/mailguard/internal/sanitize"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

const (
	providerName = "imap"
	inbox        = "INBOX"
)

// Config describes the IMAP and SMTP servers for a mailbox.
type Config struct {
	Host     string
	Port     int
	TLS      bool
	SMTPHost string
	SMTPPort int
	Timeout  time.Duration

	Sanitizer *sanitize.Sanitizer
}

// Client is an IMAP mailbox for one account. Every operation opens its own
// connection.
type Client struct {
	cfg      Config
	username string
	password string
	now      func() time.Time
}

var (
	_ mailbox.Provider      = (*Client)(nil)
	_ mailbox.LabelModifier = (*Client)(nil)
)

// New creates an IMAP client for username.
func New(cfg Config, username, password string) *Client {
	if cfg.Port == 0 {
		cfg.Port = 993
		if !cfg.TLS {
			cfg.Port = 143
		}
	}
	if cfg.SMTPHost == "" {
		cfg.SMTPHost = cfg.Host
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = sanitize.New()
	}
	return &Client{cfg: cfg, username: username, password: password, now: time.Now}
}

// Name implements mailbox.Provider.
func (c *Client) Name() string { return providerName }

// connect dials, authenticates and selects the inbox. The connection deadline
// bounds the whole session.
func (c *Client) connect(ctx context.Context, op string) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: c.cfg.Host}

	var conn net.Conn
	var err error
	if c.cfg.TLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &apperr.ProviderError{Provider: providerName, Op: op, Kind: apperr.KindTransport, Err: err}
	}
	_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))

	var client *imapclient.Client
	if c.cfg.TLS {
		client = imapclient.New(conn, nil)
	} else {
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: tlsConfig})
		if err != nil {
			_ = conn.Close()
			return nil, &apperr.ProviderError{Provider: providerName, Op: op, Kind: apperr.KindTransport, Err: err}
		}
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Close()
		return nil, &apperr.AuthError{OwnerID: c.username, Message: "imap login failed", Err: err}
	}
	if _, err := client.Select(inbox, nil).Wait(); err != nil {
		c.logout(client)
		return nil, &apperr.ProviderError{Provider: providerName, Op: op, Kind: apperr.KindUnknown, Err: fmt.Errorf("select %s: %w", inbox, err)}
	}
	return client, nil
}

func (c *Client) logout(client *imapclient.Client) {
	if err := client.Logout().Wait(); err != nil {
		slog.Debug("imap logout failed", "error", err)
	}
	_ = client.Close()
}

// FetchUnread searches the inbox for unseen messages since the window start
// and fetches the newest MaxResults of them.
func (c *Client) FetchUnread(ctx context.Context, opts mailbox.FetchOptions) ([]models.NormalizedMessage, error) {
	opts = opts.Normalize()
	client, err := c.connect(ctx, "search")
	if err != nil {
		return nil, err
	}
	defer c.logout(client)

	data, err := client.UIDSearch(searchCriteria(opts, c.now()), nil).Wait()
	if err != nil {
		return nil, &apperr.ProviderError{Provider: providerName, Op: "search", Kind: apperr.KindUnknown, Err: err}
	}
	uids := data.AllUIDs()
	if len(uids) > opts.MaxResults {
		uids = uids[len(uids)-opts.MaxResults:]
	}
	if len(uids) == 0 {
		return nil, nil
	}
	return c.fetch(client, imap.UIDSetNum(uids...))
}

// FetchByID fetches one message by UID. It returns nil, nil when no message
// has that UID.
func (c *Client) FetchByID(ctx context.Context, id string) (*models.NormalizedMessage, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}
	client, err := c.connect(ctx, "get")
	if err != nil {
		return nil, err
	}
	defer c.logout(client)

	msgs, err := c.fetch(client, imap.UIDSetNum(uid))
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

func (c *Client) fetch(client *imapclient.Client, set imap.UIDSet) ([]models.NormalizedMessage, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	cmd := client.Fetch(set, &imap.FetchOptions{
		UID:         true,
		Flags:       true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer cmd.Close()

	var out []models.NormalizedMessage
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			slog.Warn("skipping imap message that failed to collect", "error", err)
			continue
		}
		raw := buf.FindBodySection(section)
		if raw == nil {
			continue
		}
		id := strconv.FormatUint(uint64(buf.UID), 10)
		out = append(out, parseMessage(id, raw, c.cfg.Sanitizer))
	}
	if err := cmd.Close(); err != nil {
		return out, &apperr.ProviderError{Provider: providerName, Op: "fetch", Kind: apperr.KindUnknown, Err: err}
	}
	return out, nil
}

// searchCriteria builds UNSEEN SINCE <date> with keywords OR-ed as TEXT.
func searchCriteria(opts mailbox.FetchOptions, now time.Time) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{
		Since:   opts.Since(now),
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if len(opts.Keywords) > 0 {
		kw := anyText(opts.Keywords)
		criteria.Text = kw.Text
		criteria.Or = kw.Or
	}
	return criteria
}

func anyText(keywords []string) imap.SearchCriteria {
	if len(keywords) == 1 {
		return imap.SearchCriteria{Text: []string{keywords[0]}}
	}
	return imap.SearchCriteria{Or: [][2]imap.SearchCriteria{{
		{Text: []string{keywords[0]}},
		anyText(keywords[1:]),
	}}}
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, apperr.Invalid("message_id", "%q is not an IMAP UID", id)
	}
	return imap.UID(n), nil
}
