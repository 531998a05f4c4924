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
	"context"

	"github.com/bcem/mailguard/internal/mailbox"
	"github.com/bcem/mailguard/internal/models"
)

// CredentialSource yields a usable credential for a mailbox owner.
type CredentialSource interface {
	Obtain(ctx context.Context, ownerID, clientID, clientSecret string) (*models.Credential, error)
}

// NewFactory returns a mailbox.Factory that obtains the owner's credential
// (refreshing it at most once) and opens a Gmail session with it.
func NewFactory(creds CredentialSource, clientID, clientSecret string, cfg Config) mailbox.Factory {
	return func(ctx context.Context, acct mailbox.Account) (*mailbox.Session, error) {
		cred, err := creds.Obtain(ctx, acct.UserID, clientID, clientSecret)
		if err != nil {
			return nil, err
		}
		c, err := New(ctx, cred, cfg)
		if err != nil {
			return nil, err
		}
		return &mailbox.Session{Provider: c, Modifier: c, Credential: cred}, nil
	}
}

// NewModifierFunc returns a constructor for label modifiers bound to a
// credential, for callers that already hold one.
func NewModifierFunc(cfg Config) func(ctx context.Context, cred *models.Credential) (mailbox.LabelModifier, error) {
	return func(ctx context.Context, cred *models.Credential) (mailbox.LabelModifier, error) {
		return New(ctx, cred, cfg)
	}
}
