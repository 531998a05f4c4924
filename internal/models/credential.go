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

package models

import (
	"slices"
	"time"
)

// Credential is an OAuth2 token set owned by one mailbox user.
// It is only ever persisted through a secret store.
type Credential struct {
	OwnerID       string    `json:"owner_id"`
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	TokenType     string    `json:"token_type,omitempty"`
	Expiry        time.Time `json:"expiry,omitempty"`
	GrantedScopes []string  `json:"granted_scopes"`
}

// HasScope reports whether any of the given scopes was granted.
func (c *Credential) HasScope(scopes ...string) bool {
	if c == nil {
		return false
	}
	for _, s := range scopes {
		if slices.Contains(c.GrantedScopes, s) {
			return true
		}
	}
	return false
}

// Expired reports whether the access token is unusable at now, allowing leeway
// for clock skew.
func (c *Credential) Expired(now time.Time, leeway time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(c.Expiry)
}

// CredentialMetadata is the non-secret diagnostic record kept next to a
// stored credential. It never carries token material.
type CredentialMetadata struct {
	OwnerID       string    `json:"user_id"`
	TokenURI      string    `json:"token_uri"`
	Scopes        []string  `json:"scopes"`
	Expiry        time.Time `json:"expiry,omitempty"`
	LastRefreshed time.Time `json:"last_refreshed"`
}
