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

package imapmail

import (
	"context"

	"github.com/bcem/mailguard/internal/apperr"
	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
)

// NewFactory returns a mailbox.Factory for password-authenticated IMAP
// accounts. The session credential carries the IMAP scope so mitigation can
// proceed.
func NewFactory(cfg Config) mailbox.Factory {
	return func(ctx context.Context, acct mailbox.Account) (*mailbox.Session, error) {
		if acct.Password == "" {
			return nil, &apperr.AuthError{OwnerID: acct.UserID, Message: "no imap password configured", Err: apperr.ErrAuthorizationRequired}
		}
		username := acct.Address
		if username == "" {
			username = acct.UserID
		}
		c := New(cfg, username, acct.Password)
		return &mailbox.Session{
			Provider: c,
			Modifier: c,
			Credential: &models.Credential{
				OwnerID:       acct.UserID,
				GrantedScopes: []string{mailbox.ScopeIMAP},
			},
		}, nil
	}
}
