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
	"strings"

	gm "google.golang.org/api/gmail/v1"
)

// systemLabels are addressed by name; every other label needs its ID.
var systemLabels = map[string]bool{
	"INBOX":     true,
	"SPAM":      true,
	"TRASH":     true,
	"UNREAD":    true,
	"STARRED":   true,
	"IMPORTANT": true,
	"SENT":      true,
	"DRAFT":     true,
}

// ModifyLabels adds and removes labels on a message. User labels that do not
// exist yet are created.
func (c *Client) ModifyLabels(ctx context.Context, messageID string, add, remove []string) error {
	addIDs, err := c.resolveLabels(ctx, add, true)
	if err != nil {
		return err
	}
	removeIDs, err := c.resolveLabels(ctx, remove, false)
	if err != nil {
		return err
	}
	if len(addIDs) == 0 && len(removeIDs) == 0 {
		return nil
	}

	req := &gm.ModifyMessageRequest{AddLabelIds: addIDs, RemoveLabelIds: removeIDs}
	return c.call(ctx, "modify", func(ctx context.Context) error {
		_, err := c.svc.Users.Messages.Modify(userMe, messageID, req).Context(ctx).Do()
		return err
	})
}

func (c *Client) resolveLabels(ctx context.Context, names []string, create bool) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		if systemLabels[name] || strings.HasPrefix(name, "CATEGORY_") {
			ids = append(ids, name)
			continue
		}
		id, err := c.labelID(ctx, name, create)
		if err != nil {
			return nil, err
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// labelID finds a user label by name, creating it when asked to.
func (c *Client) labelID(ctx context.Context, name string, create bool) (string, error) {
	c.labelMu.Lock()
	id, ok := c.labelIDs[name]
	c.labelMu.Unlock()
	if ok {
		return id, nil
	}

	var list *gm.ListLabelsResponse
	err := c.call(ctx, "list_labels", func(ctx context.Context) error {
		var err error
		list, err = c.svc.Users.Labels.List(userMe).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	for _, l := range list.Labels {
		if l.Name == name {
			c.rememberLabel(name, l.Id)
			return l.Id, nil
		}
	}
	if !create {
		return "", nil
	}

	var created *gm.Label
	err = c.call(ctx, "create_label", func(ctx context.Context) error {
		var err error
		created, err = c.svc.Users.Labels.Create(userMe, &gm.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	c.rememberLabel(name, created.Id)
	return created.Id, nil
}

func (c *Client) rememberLabel(name, id string) {
	c.labelMu.Lock()
	c.labelIDs[name] = id
	c.labelMu.Unlock()
}
