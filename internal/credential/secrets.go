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

package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
	"github.com/bcem/mailguard/internal/models"
)

// ErrNotFound is returned by a SecretStore when nothing is stored for an owner.
var ErrNotFound = errors.New("credential not found")

// SecretStore persists credentials opaquely. Implementations must encrypt at
// rest or delegate to an OS secret service.
type SecretStore interface {
	Load(ownerID string) (*models.Credential, error)
	Save(cred *models.Credential) error
	Delete(ownerID string) error
}

// KeyringConfig selects where the keyring keeps secrets.
type KeyringConfig struct {
	ServiceName string
	// FileDir is used by the encrypted file backend.
	FileDir string
	// FilePassword unlocks the file backend.
	FilePassword string
	// FileOnly skips OS secret services, for headless servers.
	FileOnly bool
}

// KeyringStore keeps credentials in a 99designs/keyring backend.
type KeyringStore struct {
	ring keyring.Keyring
}

// OpenKeyring opens the configured keyring backend.
func OpenKeyring(cfg KeyringConfig) (*KeyringStore, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.FileBackend,
	}
	if cfg.FileOnly {
		backends = []keyring.BackendType{keyring.FileBackend}
	}
	name := cfg.ServiceName
	if name == "" {
		name = "mailguard"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:      name,
		AllowedBackends:  backends,
		FileDir:          cfg.FileDir,
		FilePasswordFunc: keyring.FixedStringPrompt(cfg.FilePassword),
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func secretKey(ownerID string) string {
	return "oauth:" + ownerID
}

// Load returns the stored credential or ErrNotFound.
func (s *KeyringStore) Load(ownerID string) (*models.Credential, error) {
	item, err := s.ring.Get(secretKey(ownerID))
	if errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %q: %w", ownerID, err)
	}

	var cred models.Credential
	if err := json.Unmarshal(item.Data, &cred); err != nil {
		return nil, fmt.Errorf("decode credential %q: %w", ownerID, err)
	}
	if cred.OwnerID == "" {
		cred.OwnerID = ownerID
	}
	return &cred, nil
}

// Save stores cred under its owner, replacing any previous value.
func (s *KeyringStore) Save(cred *models.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	err = s.ring.Set(keyring.Item{
		Key:         secretKey(cred.OwnerID),
		Data:        data,
		Label:       "mailguard oauth token",
		Description: "OAuth2 token for " + cred.OwnerID,
	})
	if err != nil {
		return fmt.Errorf("set credential %q: %w", cred.OwnerID, err)
	}
	return nil
}

// Delete removes the owner's credential. Deleting a missing one is not an error.
func (s *KeyringStore) Delete(ownerID string) error {
	err := s.ring.Remove(secretKey(ownerID))
	if err == nil || errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("delete credential %q: %w", ownerID, err)
}
