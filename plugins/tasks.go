package plugins

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gocloud.dev/pubsub"

	"go.appointy.com/capi/jobs"
	"go.appointy.com/capi/subscription"
	"go.appointy.com/capi/subscription/topic"
)

// PublishEventTask is the task name of publish_event jobs. Their payload is
// {"topic": "graphql:<kind>:<subject>", "event": "...", "subject": "..."}.
const PublishEventTask = "publish_event"

type publishPayload struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Subject string `json:"subject"`
}

func decodeEvent(job *jobs.Job) (topic.Event, error) {
	var p publishPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return topic.Event{}, fmt.Errorf("decode payload: %w", err)
	}
	tp, err := topic.Parse(p.Topic)
	if err != nil {
		return topic.Event{}, err
	}
	ev := topic.Event{Topic: tp, Event: p.Event, Subject: p.Subject}
	if ev.Subject == "" {
		ev.Subject = tp.Subject
	}
	return ev, nil
}

// PublishEvent returns a publish_event handler sending the event on t for
// PubSubSource subscribers.
func PublishEvent(t *pubsub.Topic) jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) error {
		ev, err := decodeEvent(job)
		if err != nil {
			return err
		}
		return subscription.Send(ctx, t, ev)
	}
}

// NotifyEvent returns a publish_event handler sending the event with
// pg_notify for PgSource subscribers.
func NotifyEvent(db *sql.DB) jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) error {
		ev, err := decodeEvent(job)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ev.Topic.String(), string(payload)); err != nil {
			return fmt.Errorf("notify %s: %w", ev.Topic, err)
		}
		return nil
	}
}
