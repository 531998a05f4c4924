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

// Package footprint estimates how established a sender's domain is.
package footprint

import (
	"context"
	"log/slog"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/models"
	"github.com/patrickmn/go-cache"
)

// Source looks up the public footprint of a domain.
type Source interface {
	Lookup(ctx context.Context, domain string) (models.FootprintRecord, error)
}

// HeuristicSource classifies domains without network access: consumer mail
// providers have a thin per-sender footprint, everything else is assumed to
// be an established organization.
type HeuristicSource struct{}

// Lookup implements Source.
func (HeuristicSource) Lookup(_ context.Context, domain string) (models.FootprintRecord, error) {
	if models.IsPersonalDomain(domain) {
		return models.FootprintRecord{Domain: domain, SourceCount: 1, AgeDays: 365, Reputation: models.ReputationEstablished}, nil
	}
	return models.FootprintRecord{Domain: domain, SourceCount: 10, AgeDays: 730, Reputation: models.ReputationEstablished}, nil
}

// Analyzer resolves sender footprints, caching results per domain for the
// life of the process.
type Analyzer struct {
	source Source
	cache  *cache.Cache
}

// NewAnalyzer creates an Analyzer over source. A nil source uses the
// heuristics.
func NewAnalyzer(source Source) *Analyzer {
	if source == nil {
		source = HeuristicSource{}
	}
	return &Analyzer{
		source: source,
		cache:  cache.New(cache.NoExpiration, 0),
	}
}

// Analyze returns the footprint for the sender's domain. An unparseable
// sender gets the unknown record. A lookup failure returns the unknown record
// together with an AnalysisDegraded error; failures are not cached.
func (a *Analyzer) Analyze(ctx context.Context, sender string) (models.FootprintRecord, error) {
	domain, ok := models.SenderDomain(sender)
	if !ok {
		return models.UnknownFootprint(), nil
	}
	if v, found := a.cache.Get(domain); found {
		return v.(models.FootprintRecord), nil
	}

	rec, err := a.source.Lookup(ctx, domain)
	if err != nil {
		slog.Warn("footprint lookup failed", "domain", domain, "error", err)
		return models.UnknownFootprint(), &apperr.AnalysisDegraded{Analysis: "footprint", Err: err}
	}
	a.cache.Set(domain, rec, cache.NoExpiration)
	return rec, nil
}

// ClearCache drops every cached record.
func (a *Analyzer) ClearCache() {
	a.cache.Flush()
}

// Cached reports how many domains are cached.
func (a *Analyzer) Cached() int {
	return a.cache.ItemCount()
}
