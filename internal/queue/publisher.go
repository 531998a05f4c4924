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

// Package queue publishes assessment reports to Redis as Celery-compatible
// tasks, for downstream workers that alert on or archive verdicts.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailguard/internal/models"
)

// AssessmentTask is the Celery task name consumers register.
const AssessmentTask = "mailguard.tasks.handle_assessment"

// Publisher sends assessment reports to Redis in Celery task format.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// celeryTask represents a Celery-compatible task message.
type celeryTask struct {
	ID      string         `json:"id"`
	Task    string         `json:"task"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
	Retries int            `json:"retries"`
	ETA     *string        `json:"eta"`
}

// celeryMessage wraps a task for Redis transport.
type celeryMessage struct {
	Body            string         `json:"body"`
	ContentEncoding string         `json:"content-encoding"`
	ContentType     string         `json:"content-type"`
	Headers         map[string]any `json:"headers"`
	Properties      map[string]any `json:"properties"`
}

// Record publishes a report as a Celery task. It implements the pipeline's
// record sink.
func (p *Publisher) Record(ctx context.Context, r *models.AssessmentReport) error {
	msg, taskID, err := p.envelope(r)
	if err != nil {
		return err
	}

	// Celery consumes with BRPOP, so producers LPUSH.
	if err := p.rdb.LPush(ctx, p.queueName, msg).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published assessment to queue",
		"task_id", taskID,
		"message_id", r.MessageID,
		"user_id", r.UserID,
		"status", r.Status(),
		"queue", p.queueName,
	)
	return nil
}

// envelope builds the Celery message for r and returns it with its task ID.
func (p *Publisher) envelope(r *models.AssessmentReport) (string, string, error) {
	reportJSON, err := json.Marshal(r)
	if err != nil {
		return "", "", fmt.Errorf("marshal assessment report: %w", err)
	}

	taskID := uuid.New().String()
	task := celeryTask{
		ID:     taskID,
		Task:   AssessmentTask,
		Args:   []any{string(reportJSON)},
		Kwargs: map[string]any{"status": r.Status()},
	}
	taskBody, err := json.Marshal(task)
	if err != nil {
		return "", "", fmt.Errorf("marshal celery task: %w", err)
	}

	msg := celeryMessage{
		Body:            string(taskBody),
		ContentEncoding: "utf-8",
		ContentType:     "application/json",
		Headers: map[string]any{
			"lang":    "py",
			"task":    AssessmentTask,
			"id":      taskID,
			"retries": 0,
		},
		Properties: map[string]any{
			"correlation_id": taskID,
			"delivery_mode":  2,
			"delivery_tag":   taskID,
			"body_encoding":  "utf-8",
			"exchange":       p.queueName,
			"routing_key":    p.queueName,
			"delivery_info": map[string]string{
				"exchange":    p.queueName,
				"routing_key": p.queueName,
			},
		},
	}
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", "", fmt.Errorf("marshal celery message: %w", err)
	}
	return string(msgJSON), taskID, nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
