// Package bus fans agent events out to consumers (UI, session persistence)
// over an in-process pub/sub channel. Producers never see their consumers;
// a bus with no subscribers drops events silently.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/kon-agent/kon/internal/agent"
)

// EventsTopic is the single topic all agent events publish to.
const EventsTopic = "agent.events"

// Bus is an in-process publish/subscribe bridge for agent events.
type Bus struct {
	pubSub *gochannel.GoChannel
}

func New(logger zerolog.Logger) *Bus {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
		// Publish must not return until the subscriber has the message,
		// otherwise delivery order is not the emit order.
		BlockPublishUntilSubscriberAck: true,
	}, &zerologAdapter{logger: logger})
	return &Bus{pubSub: pubSub}
}

// Emit publishes one event. Safe to pass as the loop's EmitFunc; publish
// failures are swallowed there since event delivery must never fail a
// cycle.
func (b *Bus) Emit(ev agent.Event) error {
	if ev.Err != nil && ev.Text == "" {
		ev.Text = ev.Err.Error()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", string(ev.Type))
	msg.Metadata.Set("sequence_number", strconv.FormatUint(ev.Seq, 10))
	return b.pubSub.Publish(EventsTopic, msg)
}

// EmitFunc adapts Emit to the agent.EmitFunc signature.
func (b *Bus) EmitFunc() agent.EmitFunc {
	return func(ev agent.Event) {
		_ = b.Emit(ev)
	}
}

// Subscribe returns a channel of decoded events. The channel closes when
// ctx is cancelled or the bus shuts down. Undecodable payloads are skipped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan agent.Event, error) {
	messages, err := b.pubSub.Subscribe(ctx, EventsTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", EventsTopic, err)
	}

	events := make(chan agent.Event, 64)
	go func() {
		defer close(events)
		for msg := range messages {
			var ev agent.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				msg.Ack()
				continue
			}
			select {
			case events <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return events, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}

// zerologAdapter bridges watermill's logger interface onto zerolog.
// Watermill's info level maps to debug because it is chatty.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error().Fields(map[string]interface{}(fields)).Err(err).Msg(msg)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zerologAdapter{logger: a.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}

var _ watermill.LoggerAdapter = &zerologAdapter{}
