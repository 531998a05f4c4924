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

// Package pipeline assesses messages end to end: it opens the user's
// mailbox, runs the sub-analyses, scores the result, applies the mitigation
// policy and hands the report to the configured sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/identity"
	"github.com/bcem/mailguard/internal/imagex"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/metrics"
	"github.com/bcem/mailguard/internal/models"
	"github.com/bcem/mailguard/internal/scoring"
)

// Sub-analysis names used in degraded notes and metrics.
const (
	AnalysisFootprint = "footprint"
	AnalysisIdentity  = "identity"
	AnalysisContent   = "content"
	AnalysisScoring   = "scoring"
)

// degradedContentRisk replaces a content risk that could not be computed.
const degradedContentRisk = 0.5

// DefaultConcurrency bounds batch assessments.
const DefaultConcurrency = 4

// SessionOpener opens a user's mailbox. *mailbox.Registry implements it.
type SessionOpener interface {
	Open(ctx context.Context, acct mailbox.Account) (*mailbox.Session, error)
}

// ImageExtractor finds images in a message.
type ImageExtractor interface {
	Extract(msg models.NormalizedMessage) []models.ExtractedImage
}

// FootprintAnalyzer estimates sender domain reputation.
type FootprintAnalyzer interface {
	Analyze(ctx context.Context, sender string) (models.FootprintRecord, error)
}

// IdentityVerifier checks the sender's profile image.
type IdentityVerifier interface {
	VerifySender(ctx context.Context, msg models.NormalizedMessage, img *models.ExtractedImage) models.VerificationResult
}

// ContentAnalyzer returns a content risk in [0,1].
type ContentAnalyzer interface {
	ContentRisk(ctx context.Context, msg models.NormalizedMessage) (float64, error)
}

// Scorer fuses sub-analysis results into an assessment.
type Scorer interface {
	Score(in scoring.MessageInput, fp models.FootprintRecord, contentRisk float64) models.ThreatAssessment
}

// Mitigator applies an action through an open label modifier.
type Mitigator interface {
	MitigateWith(ctx context.Context, mod mailbox.LabelModifier, messageID string, action models.Action, cred *models.Credential) models.MitigationResult
}

// RecordSink receives finished reports.
type RecordSink interface {
	Record(ctx context.Context, r *models.AssessmentReport) error
}

// Syncer stores a sanitized copy of an assessed message.
type Syncer interface {
	Sync(ctx context.Context, msg models.NormalizedMessage, a models.ThreatAssessment) error
}

// Config wires the pipeline. Opener, Footprint and Scorer are required;
// the rest are optional.
type Config struct {
	Opener      SessionOpener
	Images      ImageExtractor
	Footprint   FootprintAnalyzer
	Identity    IdentityVerifier
	Content     ContentAnalyzer
	Scorer      Scorer
	Mitigator   Mitigator
	Syncer      Syncer
	Sinks       []RecordSink
	Metrics     *metrics.Recorder
	Concurrency int
}

// User is a monitored mailbox and its assessment settings.
type User struct {
	ID                  string
	Provider            string
	Address             string
	Password            string
	PhishingDetection   bool
	ImageSearch         bool
	AutoMitigate        bool
	MitigationThreshold int
	Keywords            []string
}

// Account returns the mailbox account for u.
func (u User) Account() mailbox.Account {
	return mailbox.Account{UserID: u.ID, Provider: u.Provider, Address: u.Address, Password: u.Password}
}

// shouldAutoMitigate applies the user's auto-mitigation policy.
func (u User) shouldAutoMitigate(a models.ThreatAssessment) bool {
	return u.AutoMitigate &&
		a.RecommendedAction != models.ActionNone &&
		a.ThreatScore*100 >= float64(u.MitigationThreshold)
}

// Option changes a single Assess call.
type Option func(*options)

type options struct {
	mitigate bool
}

// WithMitigation applies the recommended action regardless of the user's
// auto-mitigation policy. A NONE verdict is never mitigated.
func WithMitigation() Option {
	return func(o *options) { o.mitigate = true }
}

// Pipeline runs assessments.
type Pipeline struct {
	cfg Config
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Opener == nil || cfg.Footprint == nil || cfg.Scorer == nil {
		return nil, errors.New("pipeline requires an opener, a footprint analyzer and a scorer")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Pipeline{cfg: cfg}, nil
}

// Assess fetches and assesses one message. Authorization and validation
// errors are returned; sub-analysis failures only degrade the report.
func (p *Pipeline) Assess(ctx context.Context, user User, messageID string, opts ...Option) (*models.AssessmentReport, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, apperr.Invalid("message_id", "must not be empty")
	}
	sess, err := p.cfg.Opener.Open(ctx, user.Account())
	if err != nil {
		return nil, fmt.Errorf("open mailbox for %s: %w", user.ID, err)
	}
	msg, err := sess.Provider.FetchByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	if msg == nil {
		return nil, &apperr.ProviderError{
			Provider: sess.Provider.Name(),
			Op:       "fetch",
			Kind:     apperr.KindNotFound,
			Err:      fmt.Errorf("message %s not found", messageID),
		}
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return p.assess(ctx, user, sess, *msg, o), nil
}

// Mitigate applies action to one message in the user's mailbox.
func (p *Pipeline) Mitigate(ctx context.Context, user User, messageID string, action models.Action) (models.MitigationResult, error) {
	if p.cfg.Mitigator == nil {
		return models.MitigationResult{}, errors.New("mitigation is not configured")
	}
	sess, err := p.cfg.Opener.Open(ctx, user.Account())
	if err != nil {
		return models.MitigationResult{}, fmt.Errorf("open mailbox for %s: %w", user.ID, err)
	}
	res := p.cfg.Mitigator.MitigateWith(ctx, sess.Modifier, messageID, action, sess.Credential)
	p.cfg.Metrics.Mitigation(string(action), res.Status)
	return res, nil
}

// AssessUnread assesses the user's unread messages. keep, if set, filters
// messages before assessment.
func (p *Pipeline) AssessUnread(ctx context.Context, user User, fo mailbox.FetchOptions, keep func(ctx context.Context, msg models.NormalizedMessage) bool) ([]*models.AssessmentReport, error) {
	if len(fo.Keywords) == 0 {
		fo.Keywords = user.Keywords
	}
	sess, err := p.cfg.Opener.Open(ctx, user.Account())
	if err != nil {
		return nil, fmt.Errorf("open mailbox for %s: %w", user.ID, err)
	}
	msgs, err := sess.Provider.FetchUnread(ctx, fo)
	if err != nil {
		return nil, fmt.Errorf("fetch unread for %s: %w", user.ID, err)
	}

	var todo []models.NormalizedMessage
	for _, m := range msgs {
		if keep == nil || keep(ctx, m) {
			todo = append(todo, m)
		}
	}
	slog.Info("assessing unread messages", "user_id", user.ID, "fetched", len(msgs), "selected", len(todo))
	return p.fanOut(ctx, len(todo), func(ctx context.Context, i int) (*models.AssessmentReport, error) {
		return p.assess(ctx, user, sess, todo[i], options{}), nil
	})
}

// AssessBatch assesses the given messages with bounded concurrency.
// Messages that no longer exist are skipped; an authorization failure stops
// the batch.
func (p *Pipeline) AssessBatch(ctx context.Context, user User, messageIDs []string) ([]*models.AssessmentReport, error) {
	sess, err := p.cfg.Opener.Open(ctx, user.Account())
	if err != nil {
		return nil, fmt.Errorf("open mailbox for %s: %w", user.ID, err)
	}
	return p.fanOut(ctx, len(messageIDs), func(ctx context.Context, i int) (*models.AssessmentReport, error) {
		id := messageIDs[i]
		msg, err := sess.Provider.FetchByID(ctx, id)
		if err != nil {
			if apperr.IsAuthError(err) {
				return nil, fmt.Errorf("fetch message %s: %w", id, err)
			}
			slog.Warn("skipping message", "user_id", user.ID, "message_id", id, "error", err)
			return nil, nil
		}
		if msg == nil {
			slog.Warn("message not found, skipping", "user_id", user.ID, "message_id", id)
			return nil, nil
		}
		return p.assess(ctx, user, sess, *msg, options{}), nil
	})
}

// fanOut runs fn for indexes [0,n) with the configured concurrency and
// returns the non-nil reports in index order.
func (p *Pipeline) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) (*models.AssessmentReport, error)) ([]*models.AssessmentReport, error) {
	results := make([]*models.AssessmentReport, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, i)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*models.AssessmentReport, 0, n)
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// assess runs the sub-analyses for msg concurrently, scores, mitigates and
// records the report.
func (p *Pipeline) assess(ctx context.Context, user User, sess *mailbox.Session, msg models.NormalizedMessage, o options) *models.AssessmentReport {
	start := time.Now()
	report := &models.AssessmentReport{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Provider:  msg.SourceProvider,
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Sender:    msg.Sender,
		Subject:   msg.Subject,
	}

	var (
		fp          models.FootprintRecord
		fpErr       error
		verify      *models.VerificationResult
		gatewayRisk float64
		contentErr  error
	)
	var g errgroup.Group
	g.Go(func() error {
		fp, fpErr = p.cfg.Footprint.Analyze(ctx, msg.Sender)
		return nil
	})
	if p.cfg.Identity != nil && user.PhishingDetection && user.ImageSearch {
		g.Go(func() error {
			var img *models.ExtractedImage
			if p.cfg.Images != nil {
				img = imagex.SelectProfile(p.cfg.Images.Extract(msg))
			}
			v := p.cfg.Identity.VerifySender(ctx, msg, img)
			verify = &v
			return nil
		})
	} else {
		report.Notes = append(report.Notes, "identity verification disabled")
	}
	if p.cfg.Content != nil {
		g.Go(func() error {
			gatewayRisk, contentErr = p.cfg.Content.ContentRisk(ctx, msg)
			return nil
		})
	} else {
		report.Notes = append(report.Notes, "content analysis disabled")
	}
	g.Wait()

	if fpErr != nil {
		p.degrade(report, AnalysisFootprint, fpErr)
		fp = models.UnknownFootprint()
	}
	report.Footprint = fp

	contentRisk := 0.0
	if p.cfg.Content != nil {
		if contentErr != nil {
			p.degrade(report, AnalysisContent, contentErr)
			gatewayRisk = degradedContentRisk
		}
		contentRisk = gatewayRisk
	}
	if verify != nil {
		report.Verification = verify
		switch verify.Status {
		case models.VerificationVerified:
			contentRisk = max(contentRisk, verify.RiskScore)
		case models.VerificationUnavailable:
			// The verifier's uncertain default still counts toward suspicion.
			p.degrade(report, AnalysisIdentity, errors.New(verify.Analysis))
			contentRisk = max(contentRisk, verify.RiskScore)
		case models.VerificationNoImage:
			report.Notes = append(report.Notes, "no profile image to verify")
		}
	}
	report.ContentRisk = contentRisk

	report.Assessment = p.cfg.Scorer.Score(scoring.InputFrom(msg), fp, contentRisk)
	if report.Assessment.Degraded {
		p.cfg.Metrics.Degraded(AnalysisScoring)
	}
	report.Summary = identity.Summary(report.Assessment, report.Verification)

	if o.mitigate || user.shouldAutoMitigate(report.Assessment) {
		p.mitigate(ctx, sess, report)
	}

	report.AssessedAt = time.Now().UTC()
	p.cfg.Metrics.Assessment(string(report.Assessment.RecommendedAction), report.Status(), time.Since(start))
	slog.Info("message assessed",
		"user_id", user.ID,
		"message_id", msg.ID,
		"threat_score", report.Assessment.ThreatScore,
		"action", report.Assessment.RecommendedAction,
		"status", report.Status(),
		"degraded", report.Degraded,
	)

	p.record(ctx, msg, report)
	return report
}

func (p *Pipeline) mitigate(ctx context.Context, sess *mailbox.Session, report *models.AssessmentReport) {
	action := report.Assessment.RecommendedAction
	if action == models.ActionNone || p.cfg.Mitigator == nil {
		return
	}
	res := p.cfg.Mitigator.MitigateWith(ctx, sess.Modifier, report.MessageID, action, sess.Credential)
	report.Mitigation = &res
	p.cfg.Metrics.Mitigation(string(action), res.Status)
}

func (p *Pipeline) record(ctx context.Context, msg models.NormalizedMessage, report *models.AssessmentReport) {
	if p.cfg.Syncer != nil {
		if err := p.cfg.Syncer.Sync(ctx, msg, report.Assessment); err != nil {
			slog.Warn("gateway sync failed", "message_id", msg.ID, "error", err)
		}
	}
	for _, s := range p.cfg.Sinks {
		if err := s.Record(ctx, report); err != nil {
			slog.Error("failed to record assessment", "message_id", report.MessageID, "report_id", report.ID, "error", err)
		}
	}
}

func (p *Pipeline) degrade(report *models.AssessmentReport, analysis string, err error) {
	report.Degraded = append(report.Degraded, analysis)
	p.cfg.Metrics.Degraded(analysis)
	slog.Warn("sub-analysis degraded", "message_id", report.MessageID, "analysis", analysis, "error", err)
}
