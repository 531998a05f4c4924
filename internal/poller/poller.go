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

// Package poller runs a background loop per monitored user that
// periodically assesses new unread mail.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
	"github.com/bcem/mailguard/internal/pipeline"
)

// DefaultInterval is used when a target has no check interval.
const DefaultInterval = 5 * time.Minute

// Assessor assesses a user's unread mail. *pipeline.Pipeline implements it.
type Assessor interface {
	AssessUnread(ctx context.Context, user pipeline.User, fo mailbox.FetchOptions, keep func(context.Context, models.NormalizedMessage) bool) ([]*models.AssessmentReport, error)
}

// SeenFilter marks messages as assessed. *dedup.Filter implements it.
type SeenFilter interface {
	IsNew(ctx context.Context, userID, messageID string) (bool, error)
	Forget(ctx context.Context, userID, messageID string) error
}

// forgetTimeout bounds un-marking after a failed poll, which may run after
// the poll context was cancelled.
const forgetTimeout = 5 * time.Second

// Target is one user to poll.
type Target struct {
	User     pipeline.User
	Interval time.Duration
	Fetch    mailbox.FetchOptions
}

// Poller polls every target on its own interval.
type Poller struct {
	assessor Assessor
	seen     SeenFilter
	targets  []Target
}

// NewPoller creates a poller. seen may be nil, in which case every unread
// message is assessed on every poll.
func NewPoller(assessor Assessor, seen SeenFilter, targets []Target) *Poller {
	return &Poller{assessor: assessor, seen: seen, targets: targets}
}

// Run starts one loop per target. It blocks until the context is cancelled
// and every loop has returned.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("mail poller starting", "users", len(p.targets))

	var wg sync.WaitGroup
	for _, t := range p.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runTarget(ctx, t)
		}()
	}
	wg.Wait()
	slog.Info("mail poller stopped")
}

func (p *Poller) runTarget(ctx context.Context, t Target) {
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	slog.Info("polling user", "user_id", t.User.ID, "provider", t.User.Provider, "interval", interval)

	// Do an initial poll immediately
	if _, stop := p.poll(ctx, t); stop {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, stop := p.poll(ctx, t); stop {
				return
			}
		}
	}
}

// poll assesses the target's new unread messages. stop is true when the
// user's authorization was revoked and polling cannot continue.
func (p *Poller) poll(ctx context.Context, t Target) (assessed int, stop bool) {
	var marked markedSet
	reports, err := p.assessor.AssessUnread(ctx, t.User, t.Fetch, p.keep(t.User.ID, &marked))
	if err != nil {
		p.forget(ctx, t.User.ID, marked.ids())
	}
	switch {
	case err == nil:
	case apperr.IsRevoked(err) || errors.Is(err, apperr.ErrAuthorizationRequired):
		slog.Error("stopping poller for user, reauthorization required", "user_id", t.User.ID, "error", err)
		return 0, true
	case ctx.Err() != nil:
		return 0, true
	default:
		slog.Error("poll failed", "user_id", t.User.ID, "error", err)
		return 0, false
	}

	if len(reports) > 0 {
		slog.Info("poll complete", "user_id", t.User.ID, "assessed", len(reports))
	} else {
		slog.Debug("no new messages", "user_id", t.User.ID)
	}
	return len(reports), false
}

// keep skips messages already assessed and records the ones it marks. A
// dedup failure lets the message through.
func (p *Poller) keep(userID string, marked *markedSet) func(context.Context, models.NormalizedMessage) bool {
	if p.seen == nil {
		return nil
	}
	return func(ctx context.Context, m models.NormalizedMessage) bool {
		ok, err := p.seen.IsNew(ctx, userID, m.ID)
		if err != nil {
			slog.Warn("dedup check failed, assessing anyway", "user_id", userID, "message_id", m.ID, "error", err)
			return true
		}
		if ok {
			marked.add(m.ID)
		}
		return ok
	}
}

// forget un-marks messages from a failed poll so the next poll retries them.
func (p *Poller) forget(ctx context.Context, userID string, ids []string) {
	if p.seen == nil || len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forgetTimeout)
	defer cancel()
	for _, id := range ids {
		if err := p.seen.Forget(ctx, userID, id); err != nil {
			slog.Warn("failed to clear dedup mark", "user_id", userID, "message_id", id, "error", err)
		}
	}
}

type markedSet struct {
	mu  sync.Mutex
	all []string
}

func (m *markedSet) add(id string) {
	m.mu.Lock()
	m.all = append(m.all, id)
	m.mu.Unlock()
}

func (m *markedSet) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.all
}
