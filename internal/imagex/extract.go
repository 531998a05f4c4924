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

// Package imagex pulls verified image candidates out of a message and picks
// the one most likely to be a sender profile picture.
package imagex

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bcem/mailguard/internal/models"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxImageBytes skips candidates larger than this.
	DefaultMaxImageBytes = 5 << 20
	// DefaultMaxPixels skips candidates whose header claims more pixels than
	// this, before any pixel buffer is allocated.
	DefaultMaxPixels = 40_000_000
)

var dataURIRe = regexp.MustCompile(`data:image/([a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/=]+)`)

// Extractor finds images in attachments, inline parts and data URIs.
type Extractor struct {
	maxBytes  int
	maxPixels int
}

// NewExtractor creates an Extractor with the default size bounds.
func NewExtractor() *Extractor {
	return &Extractor{maxBytes: DefaultMaxImageBytes, maxPixels: DefaultMaxPixels}
}

// Extract returns every image in msg that decodes as the format it claims.
// Corrupt, oversized and mislabeled data is dropped silently.
func (e *Extractor) Extract(msg models.NormalizedMessage) []models.ExtractedImage {
	var out []models.ExtractedImage
	seen := make(map[[32]byte]bool)
	add := func(data []byte, declared, filename string, embedded bool) {
		img, ok := e.verify(data, declared, filename, embedded)
		if !ok {
			return
		}
		sum := sha256.Sum256(data)
		if seen[sum] {
			return
		}
		seen[sum] = true
		out = append(out, img)
	}

	for _, p := range msg.Parts {
		mt := strings.ToLower(p.MimeType)
		switch {
		case strings.HasPrefix(mt, "image/"):
			add(p.Data, mt, p.Filename, p.Inline)
		case mt == "text/html":
			for _, uri := range htmlDataURIs(p.Data) {
				if data, declared, ok := decodeDataURI(uri); ok {
					add(data, declared, "", true)
				}
			}
		}
	}

	for _, m := range dataURIRe.FindAllStringSubmatch(msg.Body, -1) {
		if data, ok := decodeBase64(m[2]); ok {
			add(data, "image/"+strings.ToLower(m[1]), "", true)
		}
	}
	return out
}

// htmlDataURIs collects img src attributes that carry data URIs. The
// document is parsed, never rendered.
func htmlDataURIs(markup []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil
	}
	var uris []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if strings.HasPrefix(strings.TrimSpace(src), "data:image/") {
			uris = append(uris, strings.TrimSpace(src))
		}
	})
	return uris
}

func decodeDataURI(uri string) ([]byte, string, bool) {
	uri = strings.Join(strings.Fields(uri), "")
	m := dataURIRe.FindStringSubmatch(uri)
	if m == nil {
		return nil, "", false
	}
	data, ok := decodeBase64(m[2])
	return data, "image/" + strings.ToLower(m[1]), ok
}

func decodeBase64(s string) ([]byte, bool) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	return data, err == nil
}

// verify checks the header dimensions, then fully decodes data and checks it
// against the declared type.
func (e *Extractor) verify(data []byte, declared, filename string, embedded bool) (models.ExtractedImage, bool) {
	if len(data) == 0 || len(data) > e.maxBytes {
		return models.ExtractedImage{}, false
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || !e.withinPixelBudget(cfg.Width, cfg.Height) {
		return models.ExtractedImage{}, false
	}
	if !formatMatches(declared, format) {
		return models.ExtractedImage{}, false
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return models.ExtractedImage{}, false
	}
	b := img.Bounds()
	return models.ExtractedImage{
		Data:       data,
		MimeType:   "image/" + format,
		Filename:   filename,
		IsEmbedded: embedded,
		Size:       len(data),
		Width:      b.Dx(),
		Height:     b.Dy(),
	}, true
}

func (e *Extractor) withinPixelBudget(w, h int) bool {
	if w <= 0 || h <= 0 {
		return false
	}
	return int64(w)*int64(h) <= int64(e.maxPixels)
}

// formatMatches compares a declared MIME type with a decoded format name.
// Generic declarations accept any decodable image.
func formatMatches(declared, format string) bool {
	sub := strings.TrimPrefix(strings.ToLower(declared), "image/")
	switch sub {
	case "", "*", "octet-stream", "unknown":
		return true
	case "jpg", "pjpeg":
		sub = "jpeg"
	case "x-ms-bmp", "x-bmp":
		sub = "bmp"
	}
	return sub == format
}
