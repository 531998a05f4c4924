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

// Package store persists assessment reports in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/mailguard/internal/models"
)

const table = "assessments"

// DefaultListLimit bounds ListRecent when no limit is given.
const DefaultListLimit = 100

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store writes and reads assessment reports.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an assessment store backed by the given Postgres pool.
// It ensures the assessments table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure assessment schema: %w", err)
	}
	slog.Info("assessment store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS assessments (
			id                   UUID PRIMARY KEY,
			user_id              TEXT NOT NULL,
			provider             TEXT NOT NULL,
			message_id           TEXT NOT NULL,
			sender               TEXT DEFAULT '',
			subject              TEXT DEFAULT '',
			threat_score         DOUBLE PRECISION NOT NULL,
			footprint_risk       DOUBLE PRECISION NOT NULL,
			domain_mismatch_risk DOUBLE PRECISION NOT NULL,
			content_risk         DOUBLE PRECISION NOT NULL,
			action               TEXT NOT NULL,
			status               TEXT NOT NULL,
			mitigation_status    TEXT DEFAULT '',
			report               JSONB NOT NULL,
			assessed_at          TIMESTAMPTZ NOT NULL,
			created_at           TIMESTAMPTZ DEFAULT NOW(),
			updated_at           TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(user_id, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_assessments_user_time ON assessments(user_id, assessed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status);
	`)
	return err
}

// Record upserts a report keyed on (user_id, message_id). A re-assessment
// replaces the previous verdict.
func (s *Store) Record(ctx context.Context, r *models.AssessmentReport) error {
	query, args, err := upsertQuery(r)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record assessment %s: %w", r.MessageID, err)
	}
	return nil
}

// Get returns the latest report for a message, or nil when none exists.
func (s *Store) Get(ctx context.Context, userID, messageID string) (*models.AssessmentReport, error) {
	query, args, err := psql.Select("report").From(table).
		Where(sq.Eq{"user_id": userID, "message_id": messageID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}
	return scanReport(s.pool.QueryRow(ctx, query, args...))
}

// Filter narrows ListRecent.
type Filter struct {
	UserID string
	Status string
	Since  time.Time
	Limit  uint64
}

// ListRecent returns reports newest first.
func (s *Store) ListRecent(ctx context.Context, f Filter) ([]*models.AssessmentReport, error) {
	query, args, err := listQuery(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()
	return collectReports(rows)
}

func upsertQuery(r *models.AssessmentReport) (string, []any, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return "", nil, fmt.Errorf("encode report %s: %w", r.MessageID, err)
	}
	mitigation := ""
	if r.Mitigation != nil {
		mitigation = r.Mitigation.Status
	}
	a := r.Assessment
	query, args, err := psql.Insert(table).
		Columns("id", "user_id", "provider", "message_id", "sender", "subject",
			"threat_score", "footprint_risk", "domain_mismatch_risk", "content_risk",
			"action", "status", "mitigation_status", "report", "assessed_at").
		Values(r.ID, r.UserID, r.Provider, r.MessageID, r.Sender, r.Subject,
			a.ThreatScore, a.Breakdown.FootprintRisk, a.Breakdown.DomainMismatchRisk, a.Breakdown.ContentRisk,
			string(a.RecommendedAction), r.Status(), mitigation, doc, r.AssessedAt).
		Suffix(`ON CONFLICT (user_id, message_id) DO UPDATE SET
			id                   = EXCLUDED.id,
			sender               = EXCLUDED.sender,
			subject              = EXCLUDED.subject,
			threat_score         = EXCLUDED.threat_score,
			footprint_risk       = EXCLUDED.footprint_risk,
			domain_mismatch_risk = EXCLUDED.domain_mismatch_risk,
			content_risk         = EXCLUDED.content_risk,
			action               = EXCLUDED.action,
			status               = EXCLUDED.status,
			mitigation_status    = EXCLUDED.mitigation_status,
			report               = EXCLUDED.report,
			assessed_at          = EXCLUDED.assessed_at,
			updated_at           = NOW()`).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build upsert: %w", err)
	}
	return query, args, nil
}

func listQuery(f Filter) (string, []any, error) {
	q := psql.Select("report").From(table).OrderBy("assessed_at DESC")
	if f.UserID != "" {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"assessed_at": f.Since})
	}
	limit := f.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	query, args, err := q.Limit(limit).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build list query: %w", err)
	}
	return query, args, nil
}

// scanReport decodes a single report row.
func scanReport(row pgx.Row) (*models.AssessmentReport, error) {
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r models.AssessmentReport
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// collectReports decodes multiple report rows.
func collectReports(rows pgx.Rows) ([]*models.AssessmentReport, error) {
	var out []*models.AssessmentReport
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r models.AssessmentReport
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
