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

package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func b64url(b []byte) string { return base64.URLEncoding.EncodeToString(b) }

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fakeGmail serves the subset of the Gmail API the client uses.
type fakeGmail struct {
	mu         sync.Mutex
	t          *testing.T
	messages   map[string]*gm.Message
	labels     []*gm.Label
	listStatus int
	lastQuery  string
	modify     []gm.ModifyMessageRequest
	sent       []gm.Message
	drafts     []gm.Draft
	labelLists int
	requests   int
	auth       []string
}

func newFakeGmail(t *testing.T) (*fakeGmail, *httptest.Server) {
	f := &fakeGmail{t: t, messages: make(map[string]*gm.Message), listStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", f.list)
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", f.get)
	mux.HandleFunc("POST /gmail/v1/users/me/messages/{id}/modify", f.modifyMessage)
	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", f.send)
	mux.HandleFunc("POST /gmail/v1/users/me/drafts", f.createDraft)
	mux.HandleFunc("GET /gmail/v1/users/me/labels", f.listLabels)
	mux.HandleFunc("POST /gmail/v1/users/me/labels", f.createLabel)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests++
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, code int, reason string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": reason,
			"errors":  []map[string]string{{"reason": reason, "message": reason}},
		},
	})
}

func (f *fakeGmail) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.lastQuery = r.URL.Query().Get("q")
	status := f.listStatus
	f.mu.Unlock()
	if status != http.StatusOK {
		apiError(w, status, "authError")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": []map[string]string{{"id": "m1", "threadId": "t1"}, {"id": "gone", "threadId": "t2"}},
	})
}

func (f *fakeGmail) get(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	msg, ok := f.messages[r.PathValue("id")]
	f.mu.Unlock()
	if !ok {
		apiError(w, http.StatusNotFound, "notFound")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (f *fakeGmail) modifyMessage(w http.ResponseWriter, r *http.Request) {
	var req gm.ModifyMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("decode modify: %v", err)
	}
	f.mu.Lock()
	f.modify = append(f.modify, req)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
}

func (f *fakeGmail) createDraft(w http.ResponseWriter, r *http.Request) {
	var d gm.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		f.t.Errorf("decode draft: %v", err)
	}
	f.mu.Lock()
	f.drafts = append(f.drafts, d)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"id": "draft-1", "message": map[string]string{"id": "dm1"}})
}

func (f *fakeGmail) send(w http.ResponseWriter, r *http.Request) {
	var msg gm.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		f.t.Errorf("decode send: %v", err)
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"id": "sent-1", "threadId": msg.ThreadId})
}

func (f *fakeGmail) listLabels(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.labelLists++
	labels := f.labels
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"labels": labels})
}

func (f *fakeGmail) createLabel(w http.ResponseWriter, r *http.Request) {
	var l gm.Label
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		f.t.Errorf("decode label: %v", err)
	}
	l.Id = "Label_9"
	f.mu.Lock()
	f.labels = append(f.labels, &l)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, l)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(context.Background(), &models.Credential{AccessToken: "token"}, Config{
		Endpoint:   srv.URL + "/",
		HTTPClient: srv.Client(),
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	return c
}

func sampleMessage(t *testing.T) *gm.Message {
	return &gm.Message{
		Id:       "m1",
		ThreadId: "t1",
		Snippet:  "snippet",
		Payload: &gm.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gm.MessagePartHeader{
				{Name: "From", Value: "Jane Doe <jane@gmail.com>"},
				{Name: "Subject", Value: "Job offer\x07"},
				{Name: "Date", Value: "Tue, 10 Mar 2026 08:00:00 +0000"},
			},
			Parts: []*gm.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gm.MessagePart{
						{MimeType: "text/plain", Body: &gm.MessagePartBody{Data: b64url([]byte("I'm a recruiter at Acme Corp"))}},
						{MimeType: "text/html", Body: &gm.MessagePartBody{Data: b64url([]byte("<p>I'm a recruiter</p>"))}},
					},
				},
				{
					MimeType: "image/png",
					Filename: "me.png",
					Headers:  []*gm.MessagePartHeader{{Name: "Content-ID", Value: "<img1>"}},
					Body:     &gm.MessagePartBody{Data: b64url(testPNG(t, 40, 40)), Size: 100},
				},
			},
		},
	}
}

func TestFetchUnread(t *testing.T) {
	f, srv := newFakeGmail(t)
	f.messages["m1"] = sampleMessage(t)
	c := newTestClient(t, srv)

	msgs, err := c.FetchUnread(context.Background(), mailbox.FetchOptions{
		MaxResults: 1000, DaysBack: 3, Keywords: []string{"offer", "job"},
	})
	if err != nil {
		t.Fatalf("FetchUnread: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (missing message skipped)", len(msgs))
	}

	wantQuery := `is:unread after:2026/03/07 ("offer" OR "job")`
	if f.lastQuery != wantQuery {
		t.Errorf("query = %q, want %q", f.lastQuery, wantQuery)
	}

	msg := msgs[0]
	if msg.ID != "m1" || msg.ThreadID != "t1" || msg.SourceProvider != "gmail" {
		t.Errorf("ids = %+v", msg)
	}
	if msg.Subject != "Job offer" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.Sender != "Jane Doe <jane@gmail.com>" {
		t.Errorf("sender = %q", msg.Sender)
	}
	if msg.Body != "I'm a recruiter at Acme Corp" {
		t.Errorf("body = %q", msg.Body)
	}

	var images, html int
	for _, p := range msg.Parts {
		switch {
		case p.MimeType == "image/png":
			images++
			if !p.Inline || p.Filename != "me.png" {
				t.Errorf("image part = %+v", p)
			}
		case p.MimeType == "text/html":
			html++
		}
	}
	if images != 1 || html != 1 {
		t.Errorf("parts: %d images, %d html", images, html)
	}
}

func TestFetchUnreadUnauthorized(t *testing.T) {
	f, srv := newFakeGmail(t)
	f.listStatus = http.StatusUnauthorized
	c := newTestClient(t, srv)

	_, err := c.FetchUnread(context.Background(), mailbox.DefaultFetchOptions())
	if !apperr.IsAuthError(err) {
		t.Fatalf("error = %v, want auth error", err)
	}
}

func TestFetchByIDNotFound(t *testing.T) {
	_, srv := newFakeGmail(t)
	c := newTestClient(t, srv)

	msg, err := c.FetchByID(context.Background(), "missing")
	if err != nil || msg != nil {
		t.Errorf("FetchByID = %v, %v; want nil, nil", msg, err)
	}
}

func TestFetchByIDHTMLOnlyBody(t *testing.T) {
	f, srv := newFakeGmail(t)
	f.messages["h1"] = &gm.Message{
		Id: "h1",
		Payload: &gm.MessagePart{
			MimeType: "text/html",
			Headers:  []*gm.MessagePartHeader{{Name: "From", Value: "x@corp.example"}},
			Body:     &gm.MessagePartBody{Data: b64url([]byte(`<p>Hello<script>steal()</script></p>`))},
		},
	}
	c := newTestClient(t, srv)

	msg, err := c.FetchByID(context.Background(), "h1")
	if err != nil {
		t.Fatalf("FetchByID: %v", err)
	}
	if strings.Contains(msg.Body, "script") || !strings.Contains(msg.Body, "Hello") {
		t.Errorf("body = %q", msg.Body)
	}
}

func TestModifyLabelsCreatesUserLabel(t *testing.T) {
	f, srv := newFakeGmail(t)
	f.labels = []*gm.Label{{Id: "INBOX", Name: "INBOX"}}
	c := newTestClient(t, srv)

	for i := 0; i < 2; i++ {
		if err := c.ModifyLabels(context.Background(), "m1", []string{"SPAM", "PHISHING_DETECTED"}, []string{"INBOX"}); err != nil {
			t.Fatalf("ModifyLabels: %v", err)
		}
	}
	if len(f.modify) != 2 {
		t.Fatalf("modify calls = %d", len(f.modify))
	}
	got := f.modify[0]
	if strings.Join(got.AddLabelIds, ",") != "SPAM,Label_9" || strings.Join(got.RemoveLabelIds, ",") != "INBOX" {
		t.Errorf("modify request = %+v", got)
	}
	if f.labelLists != 1 {
		t.Errorf("label list calls = %d, want 1 (cached)", f.labelLists)
	}
}

func TestSendValidatesBeforeNetwork(t *testing.T) {
	f, srv := newFakeGmail(t)
	c := newTestClient(t, srv)

	ok, err := c.Send(context.Background(), mailbox.OutgoingMessage{To: "bad address", Subject: "x"})
	if ok || !apperr.IsValidation(err) {
		t.Fatalf("Send = %v, %v; want validation error", ok, err)
	}
	if f.requests != 0 {
		t.Errorf("requests = %d, want 0", f.requests)
	}
}

func TestSend(t *testing.T) {
	f, srv := newFakeGmail(t)
	c := newTestClient(t, srv)

	ok, err := c.Send(context.Background(), mailbox.OutgoingMessage{
		To: "someone@example.com", Subject: "Hello", Body: "body text", ThreadID: "t1",
	})
	if err != nil || !ok {
		t.Fatalf("Send = %v, %v", ok, err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("sent = %d", len(f.sent))
	}
	raw, err := base64.URLEncoding.DecodeString(f.sent[0].Raw)
	if err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	for _, want := range []string{"To: someone@example.com", "Subject: Hello", "body text"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("raw message missing %q:\n%s", want, raw)
		}
	}
	if f.sent[0].ThreadId != "t1" {
		t.Errorf("thread id = %q", f.sent[0].ThreadId)
	}
}

func TestCreateDraftValidatesBeforeNetwork(t *testing.T) {
	f, srv := newFakeGmail(t)
	c := newTestClient(t, srv)

	for _, msg := range []mailbox.OutgoingMessage{
		{To: "bad address", Subject: "x"},
		{To: "someone@example.com", Subject: "x", ThreadID: "not a thread/id"},
	} {
		id, err := c.CreateDraft(context.Background(), msg)
		if id != "" || !apperr.IsValidation(err) {
			t.Errorf("CreateDraft(%+v) = %q, %v; want validation error", msg, id, err)
		}
	}
	if f.requests != 0 {
		t.Errorf("requests = %d, want 0", f.requests)
	}
}

func TestCreateDraft(t *testing.T) {
	f, srv := newFakeGmail(t)
	c := newTestClient(t, srv)

	id, err := c.CreateDraft(context.Background(), mailbox.OutgoingMessage{
		To: " someone@example.com ", Subject: "Re: offer", Body: "draft body", ThreadID: "t1",
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if id != "draft-1" {
		t.Errorf("draft id = %q, want draft-1", id)
	}
	if len(f.drafts) != 1 || f.drafts[0].Message == nil {
		t.Fatalf("drafts = %+v", f.drafts)
	}
	if f.drafts[0].Message.ThreadId != "t1" {
		t.Errorf("thread id = %q", f.drafts[0].Message.ThreadId)
	}
	raw, err := base64.URLEncoding.DecodeString(f.drafts[0].Message.Raw)
	if err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	for _, want := range []string{"To: someone@example.com", "Subject: Re: offer", "draft body"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("raw draft missing %q:\n%s", want, raw)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.ProviderKind
	}{
		{"401", &googleapi.Error{Code: 401}, apperr.KindUnauthorized},
		{"403 scope", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "insufficientPermissions"}}}, apperr.KindInsufficientScope},
		{"403 rate", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, apperr.KindRateLimited},
		{"404", &googleapi.Error{Code: 404}, apperr.KindNotFound},
		{"429", &googleapi.Error{Code: 429}, apperr.KindRateLimited},
		{"503", &googleapi.Error{Code: 503}, apperr.KindTransport},
		{"deadline", context.DeadlineExceeded, apperr.KindTransport},
		{"other", errors.New("weird"), apperr.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, _ := apperr.Kind(classify("op", tt.err))
			if kind != tt.want {
				t.Errorf("kind = %q, want %q", kind, tt.want)
			}
		})
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	cb := NewBreaker("test")
	for i := 0; i < 20; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, &googleapi.Error{Code: 404} })
	}
	if cb.State().String() != "closed" {
		t.Errorf("breaker state = %s after client errors", cb.State())
	}
	for i := 0; i < 6; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, &googleapi.Error{Code: 503} })
	}
	if cb.State().String() != "open" {
		t.Errorf("breaker state = %s after server errors", cb.State())
	}
}
