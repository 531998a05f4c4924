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

package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
	"github.com/bcem/mailguard/internal/pipeline"
)

type mockAssessor struct {
	unread []models.NormalizedMessage
	err    error
	// failAfterKeep fails the call after the messages were filtered.
	failAfterKeep error
	calls         atomic.Int32
}

func (m *mockAssessor) AssessUnread(ctx context.Context, user pipeline.User, _ mailbox.FetchOptions, keep func(context.Context, models.NormalizedMessage) bool) ([]*models.AssessmentReport, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.AssessmentReport
	for _, msg := range m.unread {
		if keep == nil || keep(ctx, msg) {
			out = append(out, &models.AssessmentReport{UserID: user.ID, MessageID: msg.ID})
		}
	}
	if m.failAfterKeep != nil {
		return nil, m.failAfterKeep
	}
	return out, nil
}

// mockSeen is an in-memory SeenFilter.
type mockSeen struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (s *mockSeen) IsNew(_ context.Context, userID, messageID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	k := userID + "/" + messageID
	if s.seen[k] {
		return false, nil
	}
	s.seen[k] = true
	return true, nil
}

func (s *mockSeen) Forget(_ context.Context, userID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, userID+"/"+messageID)
	return nil
}

func msgs(ids ...string) []models.NormalizedMessage {
	var out []models.NormalizedMessage
	for _, id := range ids {
		out = append(out, models.NormalizedMessage{ID: id})
	}
	return out
}

func TestPollSkipsAlreadyAssessed(t *testing.T) {
	a := &mockAssessor{unread: msgs("m1", "m2")}
	p := NewPoller(a, &mockSeen{}, nil)
	target := Target{User: pipeline.User{ID: "u1"}}

	if n, stop := p.poll(context.Background(), target); n != 2 || stop {
		t.Fatalf("first poll = %d, %v", n, stop)
	}
	a.unread = msgs("m1", "m2", "m3")
	if n, _ := p.poll(context.Background(), target); n != 1 {
		t.Fatalf("second poll assessed %d, want 1", n)
	}
}

func TestPollFailureClearsMarks(t *testing.T) {
	a := &mockAssessor{unread: msgs("m1", "m2"), failAfterKeep: &apperr.ProviderError{Kind: apperr.KindTransport, Err: errors.New("503")}}
	seen := &mockSeen{}
	p := NewPoller(a, seen, nil)
	target := Target{User: pipeline.User{ID: "u1"}}

	if n, stop := p.poll(context.Background(), target); n != 0 || stop {
		t.Fatalf("failed poll = %d, %v", n, stop)
	}
	a.failAfterKeep = nil
	if n, _ := p.poll(context.Background(), target); n != 2 {
		t.Fatalf("retry assessed %d, want 2", n)
	}
}

func TestPollDedupFailureAssessesAnyway(t *testing.T) {
	a := &mockAssessor{unread: msgs("m1")}
	p := NewPoller(a, &mockSeen{err: errors.New("redis down")}, nil)

	if n, _ := p.poll(context.Background(), Target{User: pipeline.User{ID: "u1"}}); n != 1 {
		t.Fatalf("assessed %d, want 1", n)
	}
}

func TestPollStopsOnRevocation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantStop bool
	}{
		{"revoked", &apperr.RevokedError{OwnerID: "u1", Err: errors.New("invalid_grant")}, true},
		{"never authorized", &apperr.AuthError{OwnerID: "u1", Err: apperr.ErrAuthorizationRequired}, true},
		{"transient", &apperr.ProviderError{Kind: apperr.KindTransport, Err: errors.New("503")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPoller(&mockAssessor{err: tt.err}, nil, nil)
			if _, stop := p.poll(context.Background(), Target{User: pipeline.User{ID: "u1"}}); stop != tt.wantStop {
				t.Errorf("stop = %v, want %v", stop, tt.wantStop)
			}
		})
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	a := &mockAssessor{}
	p := NewPoller(a, nil, []Target{{User: pipeline.User{ID: "u1"}, Interval: 5 * time.Millisecond}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for a.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d polls before deadline", a.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReturnsWhenAllUsersRevoked(t *testing.T) {
	a := &mockAssessor{err: &apperr.RevokedError{OwnerID: "u1"}}
	p := NewPoller(a, nil, []Target{{User: pipeline.User{ID: "u1"}, Interval: time.Hour}})

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept polling a revoked user")
	}
	if a.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", a.calls.Load())
	}
}
