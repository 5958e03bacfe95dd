package subscription_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/schemagraph"
	"go.appointy.com/capi/subscription"
	"go.appointy.com/capi/subscription/topic"
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func dial(t *testing.T, h *harness) *websocket.Conn {
	t.Helper()
	handler := subscription.NewWSHandler(h.d, func(ctx context.Context, r *http.Request, params map[string]interface{}) (schemagraph.AccessContext, error) {
		if params["authToken"] == "bad" {
			return schemagraph.AccessContext{}, errors.New("token expired")
		}
		return schemagraph.AccessContext{Role: "capi_user"}, nil
	}, nil)
	handler.KeepAlive = 0

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dialer := websocket.Dialer{Subprotocols: []string{subscription.Protocol}}
	conn, resp, err := dialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	assert.Equal(t, subscription.Protocol, resp.Header.Get("Sec-Websocket-Protocol"))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg wsMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func start(id, query string) wsMessage {
	payload, _ := json.Marshal(map[string]interface{}{"query": query})
	return wsMessage{ID: id, Type: "start", Payload: payload}
}

func TestWSSubscription(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)
	u1 := topic.Topic{Kind: "new_boat", Subject: "u1"}

	send(t, conn, wsMessage{Type: "connection_init", Payload: json.RawMessage(`{"authToken":"ok"}`)})
	assert.Equal(t, "connection_ack", read(t, conn).Type)

	send(t, conn, start("1", `subscription { newBoatCreated(userId: "u1") { event subject } }`))
	require.Eventually(t, func() bool { return h.hub.ListenerCount(u1) == 1 }, time.Second, 5*time.Millisecond)

	h.hub.Publish(topic.Event{Topic: u1, Event: "created", Subject: "7"})
	msg := read(t, conn)
	assert.Equal(t, "data", msg.Type)
	assert.Equal(t, "1", msg.ID)
	assert.JSONEq(t, `{"data":{"newBoatCreated":{"event":"created","subject":"7"}}}`, string(msg.Payload))

	send(t, conn, wsMessage{ID: "1", Type: "stop"})
	msg = read(t, conn)
	assert.Equal(t, "complete", msg.Type)
	assert.Equal(t, "1", msg.ID)
	assert.Equal(t, 0, h.hub.ListenerCount(u1))
}

func TestWSInvalidSubscriptionArgs(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, wsMessage{Type: "connection_init"})
	read(t, conn)

	send(t, conn, start("1", `subscription { newBoatCreated { event } }`))
	msg := read(t, conn)
	assert.Equal(t, "error", msg.Type)
	var errs []struct {
		Message    string
		Extensions struct{ Code, Kind string }
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &errs))
	require.Len(t, errs, 1)
	assert.Equal(t, "InvalidSubscriptionArgs", errs[0].Extensions.Kind)
	assert.Empty(t, h.hub.Topics())
}

func TestWSQuery(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, wsMessage{Type: "connection_init"})
	read(t, conn)

	send(t, conn, start("q", `{ __typename }`))
	msg := read(t, conn)
	assert.Equal(t, "data", msg.Type)
	assert.JSONEq(t, `{"data":{"__typename":"Query"}}`, string(msg.Payload))
	assert.Equal(t, "complete", read(t, conn).Type)
}

func TestWSRequiresInit(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, start("1", `{ __typename }`))
	msg := read(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, string(msg.Payload), "not initialized")
}

func TestWSRejectedConnection(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, wsMessage{Type: "connection_init", Payload: json.RawMessage(`{"authToken":"bad"}`)})
	msg := read(t, conn)
	assert.Equal(t, "connection_error", msg.Type)
	assert.Contains(t, string(msg.Payload), "token expired")

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestWSRejectsRepeatedInit(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, wsMessage{Type: "connection_init", Payload: json.RawMessage(`{"authToken":"ok"}`)})
	assert.Equal(t, "connection_ack", read(t, conn).Type)

	send(t, conn, wsMessage{Type: "connection_init", Payload: json.RawMessage(`{"authToken":"ok"}`)})
	msg := read(t, conn)
	assert.Equal(t, "connection_error", msg.Type)
	assert.Contains(t, string(msg.Payload), "already initialised")

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestWSDisconnectReleasesListeners(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)
	u1 := topic.Topic{Kind: "new_boat", Subject: "u1"}

	send(t, conn, wsMessage{Type: "connection_init"})
	read(t, conn)
	send(t, conn, start("1", `subscription { newBoatCreated(userId: "u1") { event } }`))
	require.Eventually(t, func() bool { return h.hub.ListenerCount(u1) == 1 }, time.Second, 5*time.Millisecond)

	send(t, conn, wsMessage{Type: "connection_terminate"})
	assert.Eventually(t, func() bool { return h.hub.ListenerCount(u1) == 0 }, time.Second, 5*time.Millisecond)
}
