package plugins_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/pubsub/mempubsub"

	"go.appointy.com/capi/jobs"
	"go.appointy.com/capi/plugins"
)

func TestPublishEvent(t *testing.T) {
	ctx := context.Background()
	top := mempubsub.NewTopic()
	defer top.Shutdown(ctx)
	sub := mempubsub.NewSubscription(top, time.Minute)
	defer sub.Shutdown(ctx)

	handle := plugins.PublishEvent(top)
	err := handle(ctx, &jobs.Job{Task: plugins.PublishEventTask, Payload: json.RawMessage(`{"topic":"graphql:new_boat:u1","event":"created"}`)})
	require.NoError(t, err)

	msg, err := sub.Receive(ctx)
	require.NoError(t, err)
	msg.Ack()
	assert.Equal(t, "graphql:new_boat:u1", msg.Metadata["topic"])
	assert.JSONEq(t, `{"event":"created","subject":"u1"}`, string(msg.Body))
}

func TestPublishEventRejectsBadPayload(t *testing.T) {
	ctx := context.Background()
	top := mempubsub.NewTopic()
	defer top.Shutdown(ctx)

	handle := plugins.PublishEvent(top)
	assert.Error(t, handle(ctx, &jobs.Job{Payload: json.RawMessage(`[]`)}))
	assert.ErrorContains(t, handle(ctx, &jobs.Job{Payload: json.RawMessage(`{"topic":"nope"}`)}), "malformed topic")
}
