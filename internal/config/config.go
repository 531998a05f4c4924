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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names.
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// Defaults for per-user settings.
const (
	DefaultMitigationThreshold = 80
	DefaultCheckInterval       = 5 * time.Minute
)

// GmailConfig holds the OAuth client used for every Gmail user.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Enabled reports whether Gmail client credentials are configured.
func (g GmailConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// IMAPConfig holds the IMAP and SMTP server settings.
type IMAPConfig struct {
	Host     string
	Port     int
	TLS      bool
	SMTPHost string
	SMTPPort int
}

// UserConfig is one monitored mailbox and its feature flags.
type UserConfig struct {
	ID                  string
	Provider            string
	Address             string
	Password            string
	PhishingDetection   bool
	ImageSearch         bool
	AutoMitigate        bool
	MitigationThreshold int
	Keywords            []string
	CheckInterval       time.Duration
	MaxResults          int
	DaysBack            int
}

// Config holds all configuration for the service.
type Config struct {
	Gmail GmailConfig
	IMAP  IMAPConfig
	Users []UserConfig

	// Redis
	RedisURL         string
	AssessmentsQueue string
	DedupTTL         time.Duration

	// Postgres (optional)
	DatabaseURL string

	// Content analysis gateway (optional)
	GatewayURL    string
	GatewayAPIKey string
	GatewayModel  string

	// Reverse image search (optional)
	ImageSearchURL    string
	ImageSearchAPIKey string

	// Per-call timeouts
	ProviderTimeout time.Duration
	RefreshTimeout  time.Duration
	SearchTimeout   time.Duration
	GatewayTimeout  time.Duration

	// Credential storage
	KeyringService  string
	KeyringDir      string
	KeyringPassword string
	KeyringFileOnly bool
	MetadataDir     string

	Concurrency int
	Port        int
	LogLevel    slog.Level
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Providers struct {
		Gmail struct {
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			RedirectURL  string   `yaml:"redirect_url"`
			Scopes       []string `yaml:"scopes"`
		} `yaml:"gmail"`
		IMAP struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			TLS      *bool  `yaml:"tls"`
			SMTPHost string `yaml:"smtp_host"`
			SMTPPort int    `yaml:"smtp_port"`
		} `yaml:"imap"`
	} `yaml:"providers"`
	Users []struct {
		ID                  string   `yaml:"id"`
		Provider            string   `yaml:"provider"`
		Address             string   `yaml:"address"`
		Password            string   `yaml:"password"`
		PhishingDetection   *bool    `yaml:"phishing_detection"`
		ImageSearch         *bool    `yaml:"reverse_image_search"`
		AutoMitigate        bool     `yaml:"auto_mitigate"`
		MitigationThreshold *int     `yaml:"mitigation_threshold"`
		Keywords            []string `yaml:"keywords"`
		CheckInterval       string   `yaml:"check_interval"`
		MaxResults          int      `yaml:"max_results"`
		DaysBack            int      `yaml:"days_back"`
	} `yaml:"users"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Assessments string `yaml:"assessments"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Gateway struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"gateway"`
	ImageSearch struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
	} `yaml:"image_search"`
	Credentials struct {
		Service  string `yaml:"service"`
		Dir      string `yaml:"keyring_dir"`
		FileOnly bool   `yaml:"file_only"`
		Metadata string `yaml:"metadata_dir"`
	} `yaml:"credentials"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A .env file, if present, is
// loaded into the environment first.
func Load() (*Config, error) {
	envFile := envOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	g := raw.Providers.Gmail
	im := raw.Providers.IMAP
	cfg := &Config{
		Gmail: GmailConfig{
			ClientID:     firstNonEmpty(g.ClientID, os.Getenv("GMAIL_CLIENT_ID")),
			ClientSecret: firstNonEmpty(g.ClientSecret, os.Getenv("GMAIL_CLIENT_SECRET")),
			RedirectURL:  firstNonEmpty(g.RedirectURL, envOrDefault("GMAIL_REDIRECT_URL", "http://localhost:8080/oauth/callback")),
			Scopes:       g.Scopes,
		},
		IMAP: IMAPConfig{
			Host:     im.Host,
			Port:     im.Port,
			TLS:      im.TLS == nil || *im.TLS,
			SMTPHost: im.SMTPHost,
			SMTPPort: im.SMTPPort,
		},
		RedisURL:          firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		AssessmentsQueue:  firstNonEmpty(raw.Redis.Queues.Assessments, envOrDefault("ASSESSMENTS_QUEUE", "assessments")),
		DedupTTL:          envOrDefaultDuration("DEDUP_TTL", 7*24*time.Hour),
		DatabaseURL:       firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		GatewayURL:        firstNonEmpty(raw.Gateway.URL, os.Getenv("GATEWAY_URL")),
		GatewayAPIKey:     firstNonEmpty(raw.Gateway.APIKey, os.Getenv("GATEWAY_API_KEY")),
		GatewayModel:      raw.Gateway.Model,
		ImageSearchURL:    firstNonEmpty(raw.ImageSearch.URL, os.Getenv("IMAGE_SEARCH_URL")),
		ImageSearchAPIKey: firstNonEmpty(raw.ImageSearch.APIKey, os.Getenv("IMAGE_SEARCH_API_KEY")),
		ProviderTimeout:   envOrDefaultDuration("PROVIDER_TIMEOUT", 10*time.Second),
		RefreshTimeout:    envOrDefaultDuration("REFRESH_TIMEOUT", 10*time.Second),
		SearchTimeout:     envOrDefaultDuration("SEARCH_TIMEOUT", 10*time.Second),
		GatewayTimeout:    envOrDefaultDuration("GATEWAY_TIMEOUT", 30*time.Second),
		KeyringService:    firstNonEmpty(raw.Credentials.Service, "mailguard"),
		KeyringDir:        firstNonEmpty(raw.Credentials.Dir, envOrDefault("KEYRING_DIR", "/app/data/keyring")),
		KeyringPassword:   os.Getenv("KEYRING_PASSWORD"),
		KeyringFileOnly:   raw.Credentials.FileOnly,
		MetadataDir:       firstNonEmpty(raw.Credentials.Metadata, envOrDefault("METADATA_DIR", "/app/data/tokens")),
		Concurrency:       envOrDefaultInt("CONCURRENCY", 4),
		Port:              envOrDefaultInt("PORT", 8080),
		LogLevel:          parseLevel(envOrDefault("LOG_LEVEL", "info")),
	}
	if cfg.IMAP.Port == 0 {
		cfg.IMAP.Port = 993
	}
	if cfg.IMAP.SMTPHost == "" {
		cfg.IMAP.SMTPHost = cfg.IMAP.Host
	}
	if cfg.IMAP.SMTPPort == 0 {
		cfg.IMAP.SMTPPort = 587
	}

	// Build user configs
	for _, u := range raw.Users {
		uc := UserConfig{
			ID:                  strings.TrimSpace(u.ID),
			Provider:            strings.ToLower(strings.TrimSpace(u.Provider)),
			Address:             u.Address,
			Password:            u.Password,
			PhishingDetection:   u.PhishingDetection == nil || *u.PhishingDetection,
			ImageSearch:         u.ImageSearch == nil || *u.ImageSearch,
			AutoMitigate:        u.AutoMitigate,
			MitigationThreshold: DefaultMitigationThreshold,
			Keywords:            u.Keywords,
			CheckInterval:       parseInterval(u.CheckInterval, DefaultCheckInterval),
			MaxResults:          u.MaxResults,
			DaysBack:            u.DaysBack,
		}
		if u.MitigationThreshold != nil {
			uc.MitigationThreshold = min(max(*u.MitigationThreshold, 0), 100)
		}
		if uc.Provider == "" {
			uc.Provider = ProviderGmail
		}
		if uc.ID == "" {
			uc.ID = uc.Address
		}

		// Skip users whose credentials are missing (commented out in YAML)
		if reason := cfg.incomplete(uc); reason != "" {
			slog.Warn("skipping user", "user_id", uc.ID, "provider", uc.Provider, "reason", reason)
			continue
		}

		cfg.Users = append(cfg.Users, uc)
	}

	if len(cfg.Users) == 0 {
		return nil, fmt.Errorf("no users configured: check config.yaml and environment variables")
	}

	return cfg, nil
}

// incomplete returns why uc cannot be used, or "" when it can.
func (c *Config) incomplete(uc UserConfig) string {
	if uc.ID == "" {
		return "missing id and address"
	}
	switch uc.Provider {
	case ProviderGmail:
		if !c.Gmail.Enabled() {
			return "gmail client credentials not configured"
		}
	case ProviderIMAP:
		if c.IMAP.Host == "" {
			return "imap host not configured"
		}
		if uc.Address == "" || uc.Password == "" {
			return "imap address or password missing"
		}
	default:
		return "unknown provider"
	}
	return ""
}

// User returns the configured user with id.
func (c *Config) User(id string) (UserConfig, bool) {
	for _, u := range c.Users {
		if u.ID == id {
			return u, true
		}
	}
	return UserConfig{}, false
}

// parseInterval accepts a Go duration ("5m") or a number of seconds ("300").
func parseInterval(v string, fallback time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func parseLevel(v string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
