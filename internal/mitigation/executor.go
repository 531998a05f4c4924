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

// Package mitigation applies threat actions to messages as label changes.
package mitigation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
)

// Label names used by mitigation actions.
const (
	LabelSpam             = "SPAM"
	LabelInbox            = "INBOX"
	LabelUnread           = "UNREAD"
	LabelStarred          = "STARRED"
	LabelPhishingDetected = "PHISHING_DETECTED"
)

// modifyScopes are the grants that allow label changes.
var modifyScopes = []string{mailbox.ScopeGmailModify, mailbox.ScopeGmailFull, mailbox.ScopeIMAP}

// Delta is the set of labels an action adds and removes.
type Delta struct {
	Add    []string
	Remove []string
}

// LabelDelta returns the label changes for action. ok is false for actions
// that have no mailbox effect or are not supported.
func LabelDelta(action models.Action) (d Delta, ok bool) {
	switch action {
	case models.ActionMarkAsPhishing:
		return Delta{Add: []string{LabelSpam, LabelPhishingDetected}, Remove: []string{LabelInbox}}, true
	case models.ActionMarkAsSpam:
		return Delta{Add: []string{LabelSpam}, Remove: []string{LabelInbox}}, true
	case models.ActionMarkAsRead:
		return Delta{Remove: []string{LabelUnread}}, true
	case models.ActionFlag:
		return Delta{Add: []string{LabelStarred}}, true
	default:
		return Delta{}, false
	}
}

// ModifierFactory opens a label modifier for a credential.
type ModifierFactory func(ctx context.Context, cred *models.Credential) (mailbox.LabelModifier, error)

// Executor applies mitigation actions.
type Executor struct {
	open ModifierFactory
}

// NewExecutor creates an Executor. open may be nil when callers only use
// MitigateWith.
func NewExecutor(open ModifierFactory) *Executor {
	return &Executor{open: open}
}

// Mitigate applies action to messageID using a modifier opened for cred.
// It never returns an error; failures are described by the result.
func (e *Executor) Mitigate(ctx context.Context, messageID string, action models.Action, cred *models.Credential) models.MitigationResult {
	res, d, ok := precheck(messageID, action, cred)
	if !ok {
		return res
	}
	if e.open == nil {
		return fail(res, d, models.ErrCodeUnknownAPIError, "no mailbox modifier configured")
	}
	mod, err := e.open(ctx, cred)
	if err != nil {
		return failErr(res, d, err)
	}
	return apply(ctx, mod, res, d)
}

// MitigateWith applies action through an already open modifier. The
// credential is only used for the scope check.
func (e *Executor) MitigateWith(ctx context.Context, mod mailbox.LabelModifier, messageID string, action models.Action, cred *models.Credential) models.MitigationResult {
	res, d, ok := precheck(messageID, action, cred)
	if !ok {
		return res
	}
	if mod == nil {
		return fail(res, d, models.ErrCodeUnknownAPIError, "mailbox does not support label changes")
	}
	return apply(ctx, mod, res, d)
}

// precheck runs every check that needs no network call.
func precheck(messageID string, action models.Action, cred *models.Credential) (models.MitigationResult, Delta, bool) {
	res := models.MitigationResult{MessageID: messageID, Action: action}
	d, ok := LabelDelta(action)
	if !ok {
		return fail(res, d, models.ErrCodeUnsupportedAction, fmt.Sprintf("unsupported action %q", action)), d, false
	}
	if strings.TrimSpace(messageID) == "" {
		return fail(res, d, models.ErrCodeMessageNotFound, "message id is empty"), d, false
	}
	if cred == nil {
		return fail(res, d, models.ErrCodeUnauthorized, "no credential"), d, false
	}
	if !cred.HasScope(modifyScopes...) {
		slog.Warn("mitigation skipped, credential lacks modify scope",
			"user_id", cred.OwnerID, "message_id", messageID, "action", action)
		return fail(res, d, models.ErrCodeInsufficientScope, "credential lacks mailbox modify permission"), d, false
	}
	return res, d, true
}

func apply(ctx context.Context, mod mailbox.LabelModifier, res models.MitigationResult, d Delta) models.MitigationResult {
	if err := mod.ModifyLabels(ctx, res.MessageID, d.Add, d.Remove); err != nil {
		slog.Error("mitigation failed", "message_id", res.MessageID, "action", res.Action, "error", err)
		return failErr(res, d, err)
	}
	res.Status = models.MitigationSuccess
	res.LabelsApplied = nonNil(d.Add)
	res.LabelsRemoved = nonNil(d.Remove)
	slog.Info("mitigation applied", "message_id", res.MessageID, "action", res.Action,
		"labels_applied", res.LabelsApplied, "labels_removed", res.LabelsRemoved)
	return res
}

func failErr(res models.MitigationResult, d Delta, err error) models.MitigationResult {
	return fail(res, d, Classify(err), err.Error())
}

func fail(res models.MitigationResult, d Delta, code, msg string) models.MitigationResult {
	res.Status = models.MitigationFailure
	res.ErrorCode = code
	res.Error = msg
	res.LabelsApplied = nonNil(d.Add)
	res.LabelsRemoved = nonNil(d.Remove)
	return res
}

// Classify maps a provider error to a mitigation error code.
func Classify(err error) string {
	if k, ok := apperr.Kind(err); ok {
		switch k {
		case apperr.KindInsufficientScope:
			return models.ErrCodeInsufficientScope
		case apperr.KindUnauthorized:
			return models.ErrCodeUnauthorized
		case apperr.KindNotFound:
			return models.ErrCodeMessageNotFound
		}
	}
	if apperr.IsAuthError(err) {
		return models.ErrCodeUnauthorized
	}
	return models.ErrCodeUnknownAPIError
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
