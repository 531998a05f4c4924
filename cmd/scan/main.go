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

// Mailguard one-shot scan.
//
// Standalone CLI tool that assesses one monitored user's unread mail and
// prints the verdicts. Useful for checking a new account's configuration
// before enabling the poller.
//
// Usage:
//
//	go run ./cmd/scan/ --user <id> [--max 50] [--days 7] [--mitigate] [--json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bcem/mailguard/internal/app"
	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/config"
	"github.com/bcem/mailguard/internal/credential"
	"github.com/bcem/mailguard/internal/models"
)

func main() {
	// --- CLI Flags ---
	userFlag := flag.String("user", "", "Configured user ID to scan (required)")
	maxFlag := flag.Int("max", 0, "Maximum messages to assess (default: the user's max_results)")
	daysFlag := flag.Int("days", 0, "Lookback in days (default: the user's days_back)")
	mitigateFlag := flag.Bool("mitigate", false, "Apply the recommended action to messages above the user's threshold")
	jsonFlag := flag.Bool("json", false, "Print full reports as JSON lines")
	flag.Parse()

	if *userFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --user is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so stdout carries only results.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	uc, ok := cfg.User(*userFlag)
	if !ok {
		slog.Error("user not found in configuration", "user_id", *userFlag)
		os.Exit(1)
	}

	fo := app.FetchOptions(uc)
	if *maxFlag > 0 {
		fo.MaxResults = *maxFlag
	}
	if *daysFlag > 0 {
		fo.DaysBack = *daysFlag
	}
	fo = fo.Normalize()

	user := app.User(uc)
	if *mitigateFlag {
		user.AutoMitigate = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var creds *credential.Manager
	if cfg.Gmail.Enabled() {
		creds, err = app.Credentials(cfg)
		if err != nil {
			slog.Error("failed to open credential store", "error", err)
			os.Exit(1)
		}
	}
	pipe, err := app.Build(cfg, creds).Pipeline(nil, nil)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	slog.Info("starting scan",
		"user_id", user.ID,
		"provider", user.Provider,
		"max_results", fo.MaxResults,
		"days_back", fo.DaysBack,
		"mitigate", user.AutoMitigate,
	)

	start := time.Now()
	reports, err := pipe.AssessUnread(ctx, user, fo, nil)
	if err != nil {
		if apperr.IsRevoked(err) || apperr.IsAuthError(err) {
			slog.Error("mailbox needs authorization; complete the OAuth flow via the server's /oauth/start", "user_id", user.ID, "error", err)
		} else {
			slog.Error("scan failed", "error", err)
		}
		os.Exit(1)
	}

	// --- Results ---
	counts := make(map[string]int)
	for _, r := range reports {
		counts[r.Status()]++
		if *jsonFlag {
			if err := json.NewEncoder(os.Stdout).Encode(r); err != nil {
				slog.Error("failed to encode report", "message_id", r.MessageID, "error", err)
			}
			continue
		}
		printReport(os.Stdout, r)
	}

	slog.Info("scan complete",
		"user_id", user.ID,
		"assessed", len(reports),
		"phishing", counts[models.StatusPhishing],
		"suspicious", counts[models.StatusSuspicious],
		"incomplete", counts[models.StatusIncomplete],
		"clean", counts[models.StatusClean],
		"elapsed", time.Since(start),
	)
}

func printReport(w io.Writer, r *models.AssessmentReport) {
	a := r.Assessment
	fmt.Fprintf(w, "%-10s %.2f %-16s %s  %s\n", r.Status(), a.ThreatScore, a.RecommendedAction, r.MessageID, r.Subject)
	fmt.Fprintf(w, "    from %s  (footprint %.2f, mismatch %.2f, content %.2f)\n",
		r.Sender, a.Breakdown.FootprintRisk, a.Breakdown.DomainMismatchRisk, a.Breakdown.ContentRisk)
	if r.Summary != "" {
		fmt.Fprintf(w, "    %s\n", r.Summary)
	}
	for _, d := range r.Degraded {
		fmt.Fprintf(w, "    degraded: %s\n", d)
	}
	if m := r.Mitigation; m != nil {
		if m.Succeeded() {
			fmt.Fprintf(w, "    mitigated: %s\n", m.Action)
		} else {
			fmt.Fprintf(w, "    mitigation failed: %s %s\n", m.ErrorCode, m.Error)
		}
	}
}
