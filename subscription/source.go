package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.appointy.com/capi/pgnotify"
	"go.appointy.com/capi/subscription/topic"
	"gocloud.dev/pubsub"
)

// PgSource publishes Postgres notifications whose channel is a topic, such
// as those sent by pg_notify('graphql:new_boat:<user id>', '{"event": ...}').
// It listens only to channels with subscribers.
type PgSource struct {
	listener *pgnotify.Listener
	logger   *slog.Logger
}

func NewPgSource(listener *pgnotify.Listener, logger *slog.Logger) *PgSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgSource{listener: listener, logger: logger}
}

func (s *PgSource) Listen(t topic.Topic) error {
	return s.listener.Listen(t.String())
}

func (s *PgSource) Unlisten(t topic.Topic) error {
	return s.listener.Unlisten(t.String())
}

// Run publishes notifications to hub until ctx is done.
func (s *PgSource) Run(ctx context.Context, hub *Hub) error {
	return s.listener.Run(ctx, func(channel, payload string) {
		ev, err := decode(channel, []byte(payload))
		if err != nil {
			s.logger.Warn("ignoring notification", "channel", channel, "error", err)
			return
		}
		hub.Publish(ev)
	})
}

// MetadataTopic is the message metadata key holding the topic of a pub/sub
// message.
const MetadataTopic = "topic"

// PubSubSource publishes the messages of a gocloud subscription, for
// deployments where events come from a broker instead of the database.
type PubSubSource struct {
	sub    *pubsub.Subscription
	logger *slog.Logger
}

func NewPubSubSource(sub *pubsub.Subscription, logger *slog.Logger) *PubSubSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PubSubSource{sub: sub, logger: logger}
}

// OpenPubSubSource opens the subscription at url, for example
// "mem://capi-events".
func OpenPubSubSource(ctx context.Context, url string, logger *slog.Logger) (*PubSubSource, error) {
	sub, err := pubsub.OpenSubscription(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open subscription %s: %w", url, err)
	}
	return NewPubSubSource(sub, logger), nil
}

// Run publishes received messages to hub until ctx is done, then shuts the
// subscription down.
func (s *PubSubSource) Run(ctx context.Context, hub *Hub) error {
	defer s.sub.Shutdown(context.Background()) //nolint:errcheck
	for {
		msg, err := s.sub.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive event: %w", err)
		}
		msg.Ack()

		ev, err := decode(msg.Metadata[MetadataTopic], msg.Body)
		if err != nil {
			s.logger.Warn("ignoring message", "error", err)
			continue
		}
		hub.Publish(ev)
	}
}

// Send publishes ev on a gocloud topic in the form PubSubSource reads.
func Send(ctx context.Context, t *pubsub.Topic, ev topic.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return t.Send(ctx, &pubsub.Message{
		Body:     body,
		Metadata: map[string]string{MetadataTopic: ev.Topic.String()},
	})
}

func decode(channel string, payload []byte) (topic.Event, error) {
	t, err := topic.Parse(channel)
	if err != nil {
		return topic.Event{}, err
	}
	return topic.DecodeEvent(t, payload)
}
