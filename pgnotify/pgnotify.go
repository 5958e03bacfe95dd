// Package pgnotify delivers Postgres NOTIFY messages over a dedicated
// connection that reconnects by itself.
package pgnotify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Handler receives every notification. Handlers run on the Run goroutine and
// must not block.
type Handler func(channel, payload string)

// Listener listens on a set of channels.
type Listener struct {
	l      *pq.Listener
	logger *slog.Logger
	ping   time.Duration
	// OnReconnect runs after the connection was re-established. Messages
	// sent while disconnected are lost.
	OnReconnect func()
}

// Option configures a Listener.
type Option func(*Listener)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

// WithPingInterval checks an idle connection every d.
func WithPingInterval(d time.Duration) Option {
	return func(l *Listener) {
		l.ping = d
	}
}

// New opens a listener on the database at dsn.
func New(dsn string, opts ...Option) *Listener {
	l := &Listener{logger: slog.Default(), ping: 90 * time.Second}
	for _, opt := range opts {
		opt(l)
	}
	l.l = pq.NewListener(dsn, 100*time.Millisecond, 10*time.Second, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			l.logger.Warn("notification listener disconnected", "error", err)
		case pq.ListenerEventConnectionAttemptFailed:
			l.logger.Warn("notification listener cannot connect", "error", err)
		case pq.ListenerEventReconnected:
			l.logger.Info("notification listener reconnected")
		}
	})
	return l
}

// Listen starts delivering notifications of channel. Listening twice is not
// an error.
func (l *Listener) Listen(channel string) error {
	if err := l.l.Listen(channel); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
		return err
	}
	return nil
}

// Unlisten stops delivering notifications of channel.
func (l *Listener) Unlisten(channel string) error {
	if err := l.l.Unlisten(channel); err != nil && !errors.Is(err, pq.ErrChannelNotOpen) {
		return err
	}
	return nil
}

// Run delivers notifications to handle until ctx is done, then closes the
// listener.
func (l *Listener) Run(ctx context.Context, handle Handler) error {
	defer l.l.Close()

	ticker := time.NewTicker(l.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-l.l.Notify:
			if !ok {
				return errors.New("notification listener closed")
			}
			// A nil notification follows a reconnect.
			if n == nil {
				if l.OnReconnect != nil {
					l.OnReconnect()
				}
				continue
			}
			handle(n.Channel, n.Extra)
		case <-ticker.C:
			if err := l.l.Ping(); err != nil {
				l.logger.Warn("notification listener ping failed", "error", err)
			}
		}
	}
}

// Signal returns a handler that turns notifications of channel into
// non-blocking sends on events.
func Signal(channel string, events chan<- struct{}) Handler {
	return func(ch, payload string) {
		if ch != channel {
			return
		}
		select {
		case events <- struct{}{}:
		default:
		}
	}
}
