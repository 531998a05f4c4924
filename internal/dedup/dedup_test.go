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

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestKeyIsScopedPerUser(t *testing.T) {
	if got := key("u1", "m1"); got != "mailguard:assessed:u1:m1" {
		t.Errorf("key = %q", got)
	}
	if key("u1", "m1") == key("u2", "m1") {
		t.Error("keys for different users must differ")
	}
}

func TestNewFilterDefaultsTTL(t *testing.T) {
	if f := NewFilter(nil, 0); f.ttl != DefaultTTL {
		t.Errorf("ttl = %v", f.ttl)
	}
	if f := NewFilter(nil, time.Hour); f.ttl != time.Hour {
		t.Errorf("ttl = %v", f.ttl)
	}
}

func TestIsNewReportsRedisFailure(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	f := NewFilter(rdb, time.Minute)
	if ok, err := f.IsNew(context.Background(), "u1", "m1"); err == nil || ok {
		t.Fatalf("IsNew = %v, %v; want error", ok, err)
	}
	if err := f.Forget(context.Background(), "u1", "m1"); err == nil {
		t.Fatal("expected Forget error")
	}
}
