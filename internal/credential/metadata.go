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
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bcem/mailguard/internal/models"
)

// MetadataStore keeps one non-secret JSON file per owner for diagnostics.
type MetadataStore struct {
	dir string
}

// NewMetadataStore stores metadata files under dir.
func NewMetadataStore(dir string) *MetadataStore {
	return &MetadataStore{dir: dir}
}

var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._@-]`)

func (s *MetadataStore) path(ownerID string) string {
	name := unsafeNameRe.ReplaceAllString(ownerID, "_")
	return filepath.Join(s.dir, "token_"+name+"_metadata.json")
}

// Load returns nil, nil when no metadata exists for the owner.
func (s *MetadataStore) Load(ownerID string) (*models.CredentialMetadata, error) {
	data, err := os.ReadFile(s.path(ownerID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta models.CredentialMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

// Save writes meta atomically with owner-only permissions.
func (s *MetadataStore) Save(meta *models.CredentialMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return writeFileAtomic(s.path(meta.OwnerID), data, 0o600)
}

// Delete removes the owner's metadata file if present.
func (s *MetadataStore) Delete(ownerID string) error {
	err := os.Remove(s.path(ownerID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove metadata: %w", err)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the target directory, syncs it and
// renames it over path.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
