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
	"fmt"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAP keywords standing in for labels that have no system flag.
const (
	keywordJunk     imap.Flag = "$Junk"
	keywordPhishing imap.Flag = "$Phishing"
)

var (
	junkFolders    = []string{"Junk", "Spam", "[Gmail]/Spam", "INBOX.Junk", "INBOX.Spam"}
	archiveFolders = []string{"Archive", "[Gmail]/All Mail", "Archives", "INBOX.Archive"}
)

// flagPlan is the IMAP rendition of a label change.
type flagPlan struct {
	add    []imap.Flag
	remove []imap.Flag
	// moveTo lists candidate folders, tried in order.
	moveTo []string
}

// planFlags maps label names onto IMAP flags, keywords and a folder move.
func planFlags(add, remove []string) flagPlan {
	var p flagPlan
	leaveInbox := false
	for _, l := range add {
		switch l {
		case "UNREAD":
			p.remove = append(p.remove, imap.FlagSeen)
		case "STARRED":
			p.add = append(p.add, imap.FlagFlagged)
		case "SPAM":
			p.add = append(p.add, keywordJunk)
			p.moveTo = junkFolders
		case "PHISHING_DETECTED":
			p.add = append(p.add, keywordPhishing)
		}
	}
	for _, l := range remove {
		switch l {
		case "UNREAD":
			p.add = append(p.add, imap.FlagSeen)
		case "STARRED":
			p.remove = append(p.remove, imap.FlagFlagged)
		case "SPAM":
			p.remove = append(p.remove, keywordJunk)
		case "PHISHING_DETECTED":
			p.remove = append(p.remove, keywordPhishing)
		case "INBOX":
			leaveInbox = true
		}
	}
	if leaveInbox && p.moveTo == nil {
		p.moveTo = archiveFolders
	}
	return p
}

// ModifyLabels applies a label change as IMAP flag updates followed by a
// folder move when the message should leave the inbox. Flag stores are
// set-based, so repeating a change has no further effect.
func (c *Client) ModifyLabels(ctx context.Context, messageID string, add, remove []string) error {
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}
	plan := planFlags(add, remove)

	client, err := c.connect(ctx, "modify")
	if err != nil {
		return err
	}
	defer c.logout(client)

	return applyPlan(&uidTarget{client: client, set: imap.UIDSetNum(uid)}, plan)
}

// flagTarget is the message a plan is applied to.
type flagTarget interface {
	store(op imap.StoreFlagsOp, flags []imap.Flag) error
	move(folder string) error
}

type uidTarget struct {
	client *imapclient.Client
	set    imap.UIDSet
}

func (t *uidTarget) store(op imap.StoreFlagsOp, flags []imap.Flag) error {
	return t.client.Store(t.set, &imap.StoreFlags{Op: op, Silent: true, Flags: flags}, nil).Close()
}

func (t *uidTarget) move(folder string) error {
	_, err := t.client.Move(t.set, folder).Wait()
	return err
}

// applyPlan stores the flag changes, then moves the message to the first
// candidate folder that accepts it. A planned move that no folder accepts is
// an error: the message is still in the inbox.
func applyPlan(t flagTarget, plan flagPlan) error {
	if len(plan.add) > 0 {
		if err := t.store(imap.StoreFlagsAdd, plan.add); err != nil {
			return &apperr.ProviderError{Provider: providerName, Op: "store", Kind: apperr.KindUnknown, Err: err}
		}
	}
	if len(plan.remove) > 0 {
		if err := t.store(imap.StoreFlagsDel, plan.remove); err != nil {
			return &apperr.ProviderError{Provider: providerName, Op: "store", Kind: apperr.KindUnknown, Err: err}
		}
	}
	if len(plan.moveTo) == 0 {
		return nil
	}
	var lastErr error
	for _, folder := range plan.moveTo {
		err := t.move(folder)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return &apperr.ProviderError{
		Provider: providerName,
		Op:       "move",
		Kind:     apperr.KindUnknown,
		Err:      fmt.Errorf("no folder of %v accepted the message: %w", plan.moveTo, lastErr),
	}
}
