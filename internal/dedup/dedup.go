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

// Package dedup remembers which messages have already been assessed, using
// Redis keys with a TTL. Overlapping poll windows then assess each message
// once.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a message stays marked. Poll windows are at most
	// a few days, so a week is safe.
	DefaultTTL = 7 * 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "mailguard:assessed:"
)

// Filter tracks which messages have already been assessed.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis. A non-positive ttl uses
// DefaultTTL.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

func key(userID, messageID string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, userID, messageID)
}

// IsNew returns true if the message has NOT been seen before for this user.
// If true, the message is marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, userID, messageID string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, key(userID, messageID), 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Forget clears the mark so the message is assessed again on the next poll.
func (f *Filter) Forget(ctx context.Context, userID, messageID string) error {
	if err := f.rdb.Del(ctx, key(userID, messageID)).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
