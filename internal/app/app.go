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

// Package app assembles the assessment components from configuration. It is
// shared by the long-running server and the one-shot scan command.
package app

import (
	"fmt"
	"os"

	"golang.org/x/oauth2/endpoints"

	"github.com/bcem/mailguard/internal/config"
	"github.com/bcem/mailguard/internal/credential"
	"github.com/bcem/mailguard/internal/footprint"
	"github.com/bcem/mailguard/internal/gateway"
	"github.com/bcem/mailguard/internal/gmail"
	"github.com/bcem/mailguard/internal/identity"
	"github.com/bcem/mailguard/internal/imagex"
	"github.com/bcem/mailguard/internal/imapmail"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/metrics"
	"github.com/bcem/mailguard/internal/mitigation"
	"github.com/bcem/mailguard/internal/pipeline"
	"github.com/bcem/mailguard/internal/poller"
	"github.com/bcem/mailguard/internal/sanitize"
	"github.com/bcem/mailguard/internal/scoring"
)

// Credentials opens the keyring and returns the OAuth credential manager
// used by Gmail accounts.
func Credentials(cfg *config.Config) (*credential.Manager, error) {
	secrets, err := credential.OpenKeyring(credential.KeyringConfig{
		ServiceName:  cfg.KeyringService,
		FileDir:      cfg.KeyringDir,
		FilePassword: cfg.KeyringPassword,
		FileOnly:     cfg.KeyringFileOnly,
	})
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.MetadataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}

	scopes := cfg.Gmail.Scopes
	if len(scopes) == 0 {
		scopes = []string{mailbox.ScopeGmailModify}
	}
	return credential.NewManager(credential.ManagerConfig{
		Secrets:      secrets,
		Metadata:     credential.NewMetadataStore(cfg.MetadataDir),
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		Endpoint:     endpoints.Google,
		RedirectURL:  cfg.Gmail.RedirectURL,
		Scopes:       scopes,
		Timeout:      cfg.RefreshTimeout,
	}), nil
}

// Components holds every assessment dependency built from configuration.
// Gateway and Identity are nil when their endpoints are not configured.
type Components struct {
	Registry  *mailbox.Registry
	Images    *imagex.Extractor
	Footprint *footprint.Analyzer
	Identity  *identity.Verifier
	Gateway   *gateway.Client
	Scorer    *scoring.Engine
	Mitigator *mitigation.Executor

	concurrency int
}

// Build wires the providers and sub-analyzers. creds may be nil when no
// Gmail account is configured.
func Build(cfg *config.Config, creds *credential.Manager) *Components {
	san := sanitize.New()
	gcfg := gmail.Config{
		Timeout:   cfg.ProviderTimeout,
		Breaker:   gmail.NewBreaker(gmail.ProviderName),
		Sanitizer: san,
	}

	reg := mailbox.NewRegistry()
	if creds != nil {
		reg.Register(gmail.ProviderName, gmail.NewFactory(creds, cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, gcfg))
	}
	reg.Register(config.ProviderIMAP, imapmail.NewFactory(imapmail.Config{
		Host:      cfg.IMAP.Host,
		Port:      cfg.IMAP.Port,
		TLS:       cfg.IMAP.TLS,
		SMTPHost:  cfg.IMAP.SMTPHost,
		SMTPPort:  cfg.IMAP.SMTPPort,
		Timeout:   cfg.ProviderTimeout,
		Sanitizer: san,
	}))

	c := &Components{
		Registry:    reg,
		Images:      imagex.NewExtractor(),
		Footprint:   footprint.NewAnalyzer(footprint.HeuristicSource{}),
		Scorer:      scoring.NewEngine(),
		Mitigator:   mitigation.NewExecutor(gmail.NewModifierFunc(gcfg)),
		concurrency: cfg.Concurrency,
	}
	if cfg.ImageSearchURL != "" {
		searcher := identity.NewHTTPSearcher(cfg.ImageSearchURL, cfg.ImageSearchAPIKey, cfg.SearchTimeout)
		c.Identity = identity.NewVerifier(searcher, cfg.SearchTimeout)
	}
	if cfg.GatewayURL != "" {
		c.Gateway = gateway.NewClient(gateway.Config{
			URL:     cfg.GatewayURL,
			APIKey:  cfg.GatewayAPIKey,
			Model:   cfg.GatewayModel,
			Timeout: cfg.GatewayTimeout,
		})
	}
	return c
}

// Pipeline builds the assessment pipeline over c. rec may be nil.
func (c *Components) Pipeline(sinks []pipeline.RecordSink, rec *metrics.Recorder) (*pipeline.Pipeline, error) {
	pc := pipeline.Config{
		Opener:      c.Registry,
		Images:      c.Images,
		Footprint:   c.Footprint,
		Scorer:      c.Scorer,
		Mitigator:   c.Mitigator,
		Sinks:       sinks,
		Metrics:     rec,
		Concurrency: c.concurrency,
	}
	// Optional analyzers stay nil interfaces when absent.
	if c.Identity != nil {
		pc.Identity = c.Identity
	}
	if c.Gateway != nil {
		pc.Content = c.Gateway
		pc.Syncer = c.Gateway
	}
	return pipeline.New(pc)
}

// User converts a configured user to the pipeline's view of it.
func User(uc config.UserConfig) pipeline.User {
	return pipeline.User{
		ID:                  uc.ID,
		Provider:            uc.Provider,
		Address:             uc.Address,
		Password:            uc.Password,
		PhishingDetection:   uc.PhishingDetection,
		ImageSearch:         uc.ImageSearch,
		AutoMitigate:        uc.AutoMitigate,
		MitigationThreshold: uc.MitigationThreshold,
		Keywords:            uc.Keywords,
	}
}

// Users returns a lookup over the configured users.
func Users(cfg *config.Config) func(id string) (pipeline.User, bool) {
	return func(id string) (pipeline.User, bool) {
		uc, ok := cfg.User(id)
		if !ok {
			return pipeline.User{}, false
		}
		return User(uc), true
	}
}

// FetchOptions returns the unread-mail window configured for uc.
func FetchOptions(uc config.UserConfig) mailbox.FetchOptions {
	fo := mailbox.DefaultFetchOptions()
	if uc.MaxResults > 0 {
		fo.MaxResults = uc.MaxResults
	}
	if uc.DaysBack > 0 {
		fo.DaysBack = uc.DaysBack
	}
	fo.Keywords = uc.Keywords
	return fo.Normalize()
}

// Target returns the poll target for uc.
func Target(uc config.UserConfig) poller.Target {
	return poller.Target{
		User:     User(uc),
		Interval: uc.CheckInterval,
		Fetch:    FetchOptions(uc),
	}
}
