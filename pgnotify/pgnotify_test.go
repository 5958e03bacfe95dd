package pgnotify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.appointy.com/capi/pgnotify"
)

func TestSignalCoalesces(t *testing.T) {
	events := make(chan struct{}, 1)
	handle := pgnotify.Signal("capi_watch", events)

	handle("other", "")
	assert.Len(t, events, 0)

	handle("capi_watch", "")
	handle("capi_watch", "")
	assert.Len(t, events, 1)
}
