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

package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bcem/mailguard/internal/apperr"
)

func TestTextStripsControlCharacters(t *testing.T) {
	got := Text("  Hello\x00\x07 world\r\n\tnext\x1f ", Subject)
	if got != "Hello world\n\tnext" {
		t.Errorf("Text() = %q", got)
	}
}

func TestTextTruncatesByRune(t *testing.T) {
	long := strings.Repeat("é", 600)
	got := Text(long, Subject)
	if n := utf8.RuneCountInString(got); n != 500 {
		t.Errorf("subject length = %d, want 500", n)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}

	body := strings.Repeat("a", 150_000)
	if n := len(Text(body, Body)); n != 100_000 {
		t.Errorf("body length = %d, want 100000", n)
	}
	if n := len(Text(strings.Repeat("s", 300), Sender)); n != 255 {
		t.Errorf("sender length = %d, want 255", n)
	}
}

func TestMarkupAllowList(t *testing.T) {
	s := New()
	got := s.Markup(`<p onclick="x()">Hi <strong>there</strong><script>alert(1)</script><img src="a.png"></p><a href="https://example.com">link</a>`)
	for _, bad := range []string{"script", "alert", "onclick", "<img"} {
		if strings.Contains(got, bad) {
			t.Errorf("Markup() kept %q: %s", bad, got)
		}
	}
	for _, want := range []string{"<p>", "<strong>there</strong>", `href="https://example.com"`} {
		if !strings.Contains(got, want) {
			t.Errorf("Markup() dropped %q: %s", want, got)
		}
	}
}

func TestMarkupWithoutPolicyEscapes(t *testing.T) {
	var s Sanitizer
	if got := s.Markup("<b>x</b>"); got != "&lt;b&gt;x&lt;/b&gt;" {
		t.Errorf("Markup() = %q", got)
	}
}

func TestAddress(t *testing.T) {
	valid := []string{"a@b.co", "first.last+tag@sub.example.org", "x_y%z@host-1.io"}
	for _, a := range valid {
		if err := Address(a); err != nil {
			t.Errorf("Address(%q) = %v", a, err)
		}
	}
	invalid := []string{"", "no-at-sign", "a@b", "a@b.c", "a b@c.com", "<a@b.com>", "a@b.com\nBcc: x@y.com"}
	for _, a := range invalid {
		err := Address(a)
		if err == nil {
			t.Errorf("Address(%q) accepted", a)
			continue
		}
		if !apperr.IsValidation(err) {
			t.Errorf("Address(%q) error %v is not a validation error", a, err)
		}
	}
}

func TestThreadID(t *testing.T) {
	if err := ThreadID(""); err != nil {
		t.Errorf("empty thread id: %v", err)
	}
	if err := ThreadID("18c2f0a9d1e2b3c4"); err != nil {
		t.Errorf("valid thread id: %v", err)
	}
	if err := ThreadID(strings.Repeat("a", 201)); err == nil {
		t.Error("expected error for 201-character thread id")
	}
	if err := ThreadID("abc def"); err == nil {
		t.Error("expected error for whitespace")
	}
	if err := ThreadID("abc\x00"); err == nil {
		t.Error("expected error for control character")
	}
}

func TestPayloadDropsSensitiveKeys(t *testing.T) {
	got := Payload(map[string]string{
		"subject":     "<b>Win</b>",
		"body":        "hello\x00",
		"token":       "secret",
		"raw_message": "From: x",
		"credentials": "y",
	})
	if len(got) != 2 {
		t.Fatalf("Payload() kept %d keys: %v", len(got), got)
	}
	if got["subject"] != "&lt;b&gt;Win&lt;/b&gt;" {
		t.Errorf("subject = %q", got["subject"])
	}
	if got["body"] != "hello" {
		t.Errorf("body = %q", got["body"])
	}
}
