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

package scoring

import (
	"math"
	"testing"

	"github.com/bcem/mailguard/internal/models"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func recruiterInput() MessageInput {
	return MessageInput{
		MessageID: "m1",
		Sender:    "Jane Doe <jane@gmail.com>",
		Subject:   "Opportunity",
		Body:      "Hi, I'm a recruiter at Acme Corp and would like to talk.",
	}
}

func TestScoreRecruiterFromPersonalDomain(t *testing.T) {
	e := NewEngine()
	fp := models.FootprintRecord{Domain: "gmail.com", SourceCount: 0, AgeDays: 10}

	a := e.Score(recruiterInput(), fp, 0.0)
	if !approx(a.Breakdown.FootprintRisk, 0.40) {
		t.Errorf("footprint risk = %v, want 0.40", a.Breakdown.FootprintRisk)
	}
	if !approx(a.Breakdown.DomainMismatchRisk, 0.30) {
		t.Errorf("domain mismatch risk = %v, want 0.30", a.Breakdown.DomainMismatchRisk)
	}
	if a.Breakdown.ContentRisk != 0 {
		t.Errorf("content risk = %v, want 0", a.Breakdown.ContentRisk)
	}
	if !approx(a.ThreatScore, 0.70) {
		t.Errorf("score = %v, want 0.70", a.ThreatScore)
	}
	if a.RecommendedAction != models.ActionFlag {
		t.Errorf("action = %s, want FLAG", a.RecommendedAction)
	}
	if a.Degraded {
		t.Error("expected a non-degraded assessment")
	}
}

func TestScoreWithHighContentRisk(t *testing.T) {
	e := NewEngine()
	fp := models.FootprintRecord{Domain: "gmail.com", SourceCount: 0, AgeDays: 10}

	a := e.Score(recruiterInput(), fp, 0.9)
	if !approx(a.Breakdown.ContentRisk, 0.27) {
		t.Errorf("content risk = %v, want 0.27", a.Breakdown.ContentRisk)
	}
	if !approx(a.ThreatScore, 0.97) {
		t.Errorf("score = %v, want 0.97", a.ThreatScore)
	}
	if a.RecommendedAction != models.ActionMarkAsPhishing {
		t.Errorf("action = %s, want MARK_AS_PHISHING", a.RecommendedAction)
	}
}

func TestScoreEstablishedCorporateSender(t *testing.T) {
	e := NewEngine()
	in := MessageInput{MessageID: "m2", Sender: "ops@example.org", Body: "The quarterly report is attached."}
	fp := models.FootprintRecord{Domain: "example.org", SourceCount: 20, AgeDays: 900, Reputation: models.ReputationEstablished}

	a := e.Score(in, fp, 0.0)
	if a.ThreatScore != 0 {
		t.Errorf("score = %v, want 0", a.ThreatScore)
	}
	if a.RecommendedAction != models.ActionNone {
		t.Errorf("action = %s, want NONE", a.RecommendedAction)
	}
}

func TestFootprintRiskBands(t *testing.T) {
	tests := []struct {
		name string
		fp   models.FootprintRecord
		want float64
	}{
		{"new and unreferenced", models.FootprintRecord{SourceCount: 0, AgeDays: 89}, 0.40},
		{"unreferenced but old", models.FootprintRecord{SourceCount: 0, AgeDays: 90}, 0.20},
		{"few sources young", models.FootprintRecord{SourceCount: 2, AgeDays: 179}, 0.20},
		{"few sources old", models.FootprintRecord{SourceCount: 2, AgeDays: 180}, 0.10},
		{"some sources", models.FootprintRecord{SourceCount: 9, AgeDays: 5000}, 0.10},
		{"established", models.FootprintRecord{SourceCount: 10, AgeDays: 1}, 0.0},
		{"unknown default", models.UnknownFootprint(), 0.10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := footprintRisk(tt.fp); !approx(got, tt.want) {
				t.Errorf("footprintRisk = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDomainMismatchIsFlat(t *testing.T) {
	one := MessageInput{Sender: "a@yahoo.com", Body: "I work at a bank."}
	many := MessageInput{Sender: "a@yahoo.com", Body: "Recruiter, attorney, CPA and accountant at a law firm, Foo Inc. LLC"}
	if got := domainMismatchRisk(one); !approx(got, 0.30) {
		t.Errorf("one keyword: %v, want 0.30", got)
	}
	if got := domainMismatchRisk(many); !approx(got, 0.30) {
		t.Errorf("many keywords: %v, want 0.30", got)
	}
}

func TestDomainMismatchNeedsPersonalDomainAndKeyword(t *testing.T) {
	tests := []struct {
		name string
		in   MessageInput
		want float64
	}{
		{"corporate sender", MessageInput{Sender: "hr@acme.com", Body: "I'm a recruiter"}, 0},
		{"personal no keyword", MessageInput{Sender: "me@outlook.com", Body: "see you at lunch"}, 0},
		{"keyword inside word", MessageInput{Sender: "me@outlook.com", Body: "a corpus of bankers"}, 0},
		{"unparseable sender", MessageInput{Sender: "nobody", Body: "recruiter"}, 0},
		{"inc with period", MessageInput{Sender: "me@gmail.com", Body: "Globex Inc. is hiring"}, 0.30},
		{"human resources", MessageInput{Sender: "me@icloud.com", Body: "From Human Resources"}, 0.30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domainMismatchRisk(tt.in); !approx(got, tt.want) {
				t.Errorf("domainMismatchRisk = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreStaysWithinBounds(t *testing.T) {
	e := NewEngine()
	fp := models.FootprintRecord{SourceCount: 0, AgeDays: 1}
	for _, risk := range []float64{-5, 0, 0.33, 1, 7} {
		a := e.Score(recruiterInput(), fp, risk)
		if a.ThreatScore < 0 || a.ThreatScore > 1 {
			t.Errorf("risk %v: score %v out of range", risk, a.ThreatScore)
		}
		if a.Breakdown.ContentRisk > MaxContentRisk || a.Breakdown.ContentRisk < 0 {
			t.Errorf("risk %v: content risk %v out of range", risk, a.Breakdown.ContentRisk)
		}
		if a.Breakdown.Total() > 1.0+1e-9 {
			t.Errorf("risk %v: breakdown total %v exceeds 1", risk, a.Breakdown.Total())
		}
		if !approx(a.ThreatScore, math.Min(a.Breakdown.Total(), 1)) {
			t.Errorf("risk %v: score %v != breakdown total %v", risk, a.ThreatScore, a.Breakdown.Total())
		}
	}
	full := e.Score(recruiterInput(), fp, 1)
	if !approx(full.ThreatScore, 1.0) {
		t.Errorf("all caps: score = %v, want 1.0", full.ThreatScore)
	}
}

func TestScoreFailsSafeOnNaN(t *testing.T) {
	a := NewEngine().Score(recruiterInput(), models.UnknownFootprint(), math.NaN())
	if a.ThreatScore != FailSafeScore || a.RecommendedAction != models.ActionFlag || !a.Degraded {
		t.Errorf("got %+v, want fail-safe", a)
	}
	if a.MessageID != "m1" {
		t.Errorf("message id = %q", a.MessageID)
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		score float64
		want  models.Action
	}{
		{0, models.ActionNone},
		{0.499999, models.ActionNone},
		{0.5, models.ActionFlag},
		{0.79, models.ActionFlag},
		{0.8, models.ActionMarkAsPhishing},
		{1, models.ActionMarkAsPhishing},
	}
	for _, tt := range tests {
		if got := Decide(tt.score); got != tt.want {
			t.Errorf("Decide(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestProfessionalTerms(t *testing.T) {
	got := ProfessionalTerms("Recruiter at Acme Corp. Our recruiter team, Acme Inc. bank")
	want := []string{"recruiter", "corp", "inc.", "bank"}
	if len(got) != len(want) {
		t.Fatalf("terms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("terms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
