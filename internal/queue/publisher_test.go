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

package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailguard/internal/models"
)

func TestEnvelope(t *testing.T) {
	p := NewPublisher(nil, "assessments")
	r := &models.AssessmentReport{
		ID:        "r1",
		UserID:    "u1",
		MessageID: "m1",
		Assessment: models.ThreatAssessment{
			ThreatScore:       0.97,
			RecommendedAction: models.ActionMarkAsPhishing,
		},
	}

	raw, taskID, err := p.envelope(r)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}

	var msg celeryMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if msg.Headers["task"] != AssessmentTask || msg.Headers["id"] != taskID {
		t.Errorf("headers = %v", msg.Headers)
	}
	if msg.Properties["routing_key"] != "assessments" {
		t.Errorf("routing key = %v", msg.Properties["routing_key"])
	}

	var task celeryTask
	if err := json.Unmarshal([]byte(msg.Body), &task); err != nil {
		t.Fatalf("body is not a task: %v", err)
	}
	if task.ID != taskID || task.Task != AssessmentTask || len(task.Args) != 1 {
		t.Fatalf("task = %+v", task)
	}
	if task.Kwargs["status"] != models.StatusPhishing {
		t.Errorf("kwargs = %v", task.Kwargs)
	}

	var decoded models.AssessmentReport
	if err := json.Unmarshal([]byte(task.Args[0].(string)), &decoded); err != nil {
		t.Fatalf("arg is not a report: %v", err)
	}
	if decoded.MessageID != "m1" || decoded.Assessment.ThreatScore != 0.97 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestEnvelopeTaskIDsAreUnique(t *testing.T) {
	p := NewPublisher(nil, "q")
	r := &models.AssessmentReport{MessageID: "m1"}
	_, a, _ := p.envelope(r)
	_, b, _ := p.envelope(r)
	if a == b {
		t.Errorf("task ids repeat: %s", a)
	}
}

func TestRecordReportsRedisFailure(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	p := NewPublisher(rdb, "q")
	if err := p.Record(context.Background(), &models.AssessmentReport{MessageID: "m1"}); err == nil {
		t.Fatal("expected error from unreachable redis")
	}
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}
