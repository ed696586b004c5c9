// Package events publishes task lifecycle transitions onto Redis streams via
// goa.design/pulse, so an operator dashboard or an external monitor can
// observe submission/planning/execution/completion without polling
// GET /tasks/{id} (spec §6, supplementing the HTTP-like read path with a
// push channel). Publishing is best-effort: a Publisher is optional, and a
// nil Publisher held by the orchestrator is always a safe no-op.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// Type names a task or step lifecycle transition.
type Type string

const (
	TaskSubmitted Type = "task_submitted"
	TaskPlanned   Type = "task_planned"
	TaskExecuting Type = "task_executing"
	TaskCompleted Type = "task_completed"
	TaskFailed    Type = "task_failed"
	TaskCancelled Type = "task_cancelled"
	StepCompleted Type = "step_completed"
	StepFailed    Type = "step_failed"
)

// Event is one published lifecycle transition.
type Event struct {
	Type       Type      `json:"type"`
	TaskID     string    `json:"task_id"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	StepID     string    `json:"step_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
}

// Publisher emits Events onto a per-task Pulse stream. The zero value is not
// usable; construct with NewPublisher.
type Publisher struct {
	redis   *redis.Client
	maxLen  int
	timeout time.Duration
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	// Redis is the connection streams are opened against. Required.
	Redis *redis.Client
	// StreamMaxLen bounds per-stream retained entries. Zero uses the Pulse
	// default.
	StreamMaxLen int
	// OperationTimeout bounds each publish call. Zero means no timeout.
	OperationTimeout time.Duration
}

// NewPublisher constructs a Publisher backed by rdb.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Redis == nil {
		return nil, errors.New("events: redis client is required")
	}
	return &Publisher{redis: opts.Redis, maxLen: opts.StreamMaxLen, timeout: opts.OperationTimeout}, nil
}

// streamName derives the per-task stream name: "taskmesh:events:<task_id>".
func streamName(taskID string) string {
	return fmt.Sprintf("taskmesh:events:%s", taskID)
}

// Publish writes ev to its task's stream. Safe for concurrent use.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var opts []streamopts.Stream
	if p.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(p.maxLen))
	}
	str, err := streaming.NewStream(streamName(ev.TaskID), p.redis, opts...)
	if err != nil {
		return fmt.Errorf("events: open stream: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	if _, err := str.Add(ctx, string(ev.Type), payload); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}
