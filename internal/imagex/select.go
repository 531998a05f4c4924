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

package imagex

import "github.com/bcem/mailguard/internal/models"

// SelectProfile picks the image most likely to be a profile picture: roughly
// square, moderately sized and embedded. The highest positive score wins,
// earliest first on ties; with no positive score the first candidate is
// returned. It returns nil for an empty list.
func SelectProfile(images []models.ExtractedImage) *models.ExtractedImage {
	if len(images) == 0 {
		return nil
	}
	best, bestScore := 0, profileScore(images[0])
	for i := 1; i < len(images); i++ {
		if s := profileScore(images[i]); s > bestScore {
			best, bestScore = i, s
		}
	}
	if bestScore <= 0 {
		return &images[0]
	}
	return &images[best]
}

func profileScore(img models.ExtractedImage) int {
	score := 0
	if img.Width > 0 && img.Height > 0 {
		ratio := float64(img.Width) / float64(img.Height)
		switch {
		case ratio >= 0.7 && ratio <= 1.3:
			score += 3
		case ratio >= 0.5 && ratio <= 2.0:
			score++
		}
	}
	switch {
	case img.Size >= 10_000 && img.Size <= 500_000:
		score += 2
	case img.Size < 10_000:
		score--
	case img.Size > 2_000_000:
		score--
	}
	if img.IsEmbedded {
		score++
	}
	return score
}
