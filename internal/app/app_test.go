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

package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bcem/mailguard/internal/config"
	"github.com/bcem/mailguard/internal/credential"
	"github.com/bcem/mailguard/internal/mailbox"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Gmail: config.GmailConfig{ClientID: "id", ClientSecret: "secret", RedirectURL: "http://localhost/oauth/callback"},
		IMAP:  config.IMAPConfig{Host: "imap.example.com", Port: 993, TLS: true},
		Users: []config.UserConfig{
			{ID: "alice", Provider: config.ProviderGmail, PhishingDetection: true, ImageSearch: true, MitigationThreshold: 80, CheckInterval: time.Minute},
			{ID: "bob", Provider: config.ProviderIMAP, Address: "bob@example.com", Password: "pw", MaxResults: 2000, DaysBack: 3, Keywords: []string{" invoice ", ""}},
		},
		KeyringService:  "mailguard-test",
		KeyringDir:      dir + "/keyring",
		KeyringPassword: "test",
		KeyringFileOnly: true,
		MetadataDir:     dir + "/metadata",
	}
}

func TestUsersLookup(t *testing.T) {
	lookup := Users(testConfig(t))

	u, ok := lookup("bob")
	if !ok {
		t.Fatal("bob not found")
	}
	if u.Provider != config.ProviderIMAP || u.Password != "pw" {
		t.Errorf("user = %+v", u)
	}
	acct := u.Account()
	if acct.Address != "bob@example.com" || acct.UserID != "bob" {
		t.Errorf("account = %+v", acct)
	}
	if _, ok := lookup("mallory"); ok {
		t.Error("unknown user resolved")
	}
}

func TestTarget(t *testing.T) {
	cfg := testConfig(t)

	alice := Target(cfg.Users[0])
	if alice.Interval != time.Minute {
		t.Errorf("interval = %v", alice.Interval)
	}
	if alice.Fetch.MaxResults != mailbox.DefaultMaxResults || alice.Fetch.DaysBack != mailbox.DefaultDaysBack {
		t.Errorf("default window = %+v", alice.Fetch)
	}

	bob := Target(cfg.Users[1])
	if bob.Fetch.MaxResults != mailbox.MaxResultsLimit {
		t.Errorf("max results not clamped: %d", bob.Fetch.MaxResults)
	}
	if bob.Fetch.DaysBack != 3 {
		t.Errorf("days back = %d", bob.Fetch.DaysBack)
	}
	if len(bob.Fetch.Keywords) != 1 || bob.Fetch.Keywords[0] != "invoice" {
		t.Errorf("keywords = %q", bob.Fetch.Keywords)
	}
}

func TestBuildWithoutOptionalServices(t *testing.T) {
	c := Build(testConfig(t), nil)
	if c.Gateway != nil || c.Identity != nil {
		t.Error("optional services should stay unset without endpoints")
	}

	_, err := c.Registry.Open(context.Background(), mailbox.Account{UserID: "alice", Provider: config.ProviderGmail})
	if err == nil || !strings.Contains(err.Error(), "no mail provider") {
		t.Errorf("gmail should be unregistered without credentials, got %v", err)
	}

	sess, err := c.Registry.Open(context.Background(), mailbox.Account{UserID: "bob", Provider: config.ProviderIMAP, Address: "bob@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("open imap: %v", err)
	}
	if sess.Provider.Name() != config.ProviderIMAP {
		t.Errorf("provider = %s", sess.Provider.Name())
	}

	if _, err := c.Pipeline(nil, nil); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
}

func TestBuildWithOptionalServices(t *testing.T) {
	cfg := testConfig(t)
	cfg.GatewayURL = "http://gateway.invalid"
	cfg.ImageSearchURL = "http://search.invalid"

	c := Build(cfg, nil)
	if c.Gateway == nil || c.Identity == nil {
		t.Fatal("configured services should be built")
	}
	if _, err := c.Pipeline(nil, nil); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
}

func TestCredentials(t *testing.T) {
	cfg := testConfig(t)
	m, err := Credentials(cfg)
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if got := m.State("alice"); got != credential.StateAbsent {
		t.Errorf("state = %s", got)
	}
	u := m.AuthCodeURL("alice", "xyz")
	if !strings.HasPrefix(u, "https://accounts.google.com/") || !strings.Contains(u, "state=xyz") {
		t.Errorf("auth url = %s", u)
	}

	c := Build(cfg, m)
	if _, err := c.Registry.Open(context.Background(), mailbox.Account{UserID: "alice", Provider: config.ProviderGmail}); err == nil {
		t.Error("opening gmail without a stored credential should fail")
	}
}
