// Package event is the in-process pub/sub boundary between the engine and
// its consumers (CLI watch view, UI layer). There is no wire protocol:
// subscribers live in the same process.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	// TopicStatus carries every status-file watch event.
	TopicStatus = "status"
	// TopicTask carries task lifecycle events (created, transitioned).
	TopicTask = "task"
)

// TaskStatusTopic is the per-task filtered view of TopicStatus.
func TaskStatusTopic(taskID int) string {
	return TopicStatus + ".task." + strconv.Itoa(taskID)
}

// Bus wraps a watermill gochannel pub/sub with JSON payloads.
type Bus struct {
	pubSub *gochannel.GoChannel
}

func NewBus() *Bus {
	logger := watermill.NopLogger{}
	return &Bus{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			logger,
		),
	}
}

func (b *Bus) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubSub.Subscribe(ctx, topic)
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}

// SubscribeTyped decodes each message on the topic into T. Undecodable
// messages are dropped; the bus only ever carries payloads this package
// marshaled. The returned channel closes with the subscription.
func SubscribeTyped[T any](ctx context.Context, b *Bus, topic string) (<-chan T, error) {
	messages, err := b.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan T, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var payload T
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
