package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
)

// Subscriber consumes one task's event stream through a Pulse consumer
// group, decoding entries back into Events.
type Subscriber struct {
	redis *redis.Client
	group string
}

// NewSubscriber constructs a Subscriber reading with consumer group name
// group (defaults to "taskmesh_monitor" when empty).
func NewSubscriber(rdb *redis.Client, group string) *Subscriber {
	if group == "" {
		group = "taskmesh_monitor"
	}
	return &Subscriber{redis: rdb, group: group}
}

// Subscribe opens a sink on taskID's stream and returns a channel of decoded
// Events plus a cancel func that stops consumption and closes the sink. The
// events channel closes when ctx is cancelled or the sink channel closes.
func (s *Subscriber) Subscribe(ctx context.Context, taskID string) (<-chan Event, context.CancelFunc, error) {
	str, err := streaming.NewStream(streamName(taskID), s.redis)
	if err != nil {
		return nil, nil, fmt.Errorf("events: open stream: %w", err)
	}
	sink, err := str.NewSink(ctx, s.group)
	if err != nil {
		return nil, nil, fmt.Errorf("events: open sink: %w", err)
	}

	out := make(chan Event, 32)
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		ch := sink.Subscribe()
		for {
			select {
			case <-runCtx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal(raw.Payload, &ev); err == nil {
					select {
					case out <- ev:
					case <-runCtx.Done():
						return
					}
				}
				_ = sink.Ack(runCtx, raw)
			}
		}
	}()

	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return out, cancelFunc, nil
}
