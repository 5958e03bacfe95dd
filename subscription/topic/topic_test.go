package topic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/subscription/topic"
)

func TestFormatParse(t *testing.T) {
	tp, err := topic.New("new_boat", "6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c01")
	require.NoError(t, err)
	assert.Equal(t, "graphql:new_boat:6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c01", tp.String())

	parsed, err := topic.Parse(tp.String())
	require.NoError(t, err)
	assert.Equal(t, tp, parsed)
}

func TestParseSubjectWithColon(t *testing.T) {
	tp, err := topic.Parse("graphql:trip:harbor:7")
	require.NoError(t, err)
	assert.Equal(t, topic.Topic{Kind: "trip", Subject: "harbor:7"}, tp)
}

func TestParseRejects(t *testing.T) {
	for _, s := range []string{
		"",
		"graphql",
		"graphql:new_boat",
		"graphql:new_boat:",
		"postgraphile:new_boat:1",
		"graphql::1",
	} {
		_, err := topic.Parse(s)
		assert.Error(t, err, s)
	}
}

func TestNewRejectsSeparatorInKind(t *testing.T) {
	_, err := topic.New("new:boat", "1")
	assert.Error(t, err)

	// Without validation these two would collide on the wire.
	a := topic.Topic{Kind: "new", Subject: "boat:1"}
	assert.NoError(t, a.Validate())
	assert.Equal(t, "graphql:new:boat:1", a.String())
}

func TestDecodeEvent(t *testing.T) {
	tp := topic.Topic{Kind: "new_boat", Subject: "u1"}

	ev, err := topic.DecodeEvent(tp, []byte(`{"event":"boat_created","subject":"7"}`))
	require.NoError(t, err)
	assert.Equal(t, topic.Event{Topic: tp, Event: "boat_created", Subject: "7"}, ev)

	ev, err = topic.DecodeEvent(tp, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", ev.Subject)

	_, err = topic.DecodeEvent(tp, []byte(`{`))
	assert.Error(t, err)
}
