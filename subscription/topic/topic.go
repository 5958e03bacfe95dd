// Package topic names the channels change notifications are published on.
//
// A topic is written as "graphql:<kind>:<subject>", for example
// "graphql:new_boat:6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c01".
package topic

import (
	"encoding/json"
	"fmt"
	"strings"
)

const prefix = "graphql"

// Topic routes notifications of one kind about one subject.
type Topic struct {
	Kind    string
	Subject string
}

// New validates kind and subject and returns their topic.
func New(kind, subject string) (Topic, error) {
	t := Topic{Kind: kind, Subject: subject}
	if err := t.Validate(); err != nil {
		return Topic{}, err
	}
	return t, nil
}

// Validate reports whether the topic can be formatted and parsed back
// unchanged.
func (t Topic) Validate() error {
	if t.Kind == "" {
		return fmt.Errorf("topic kind is empty")
	}
	if strings.ContainsAny(t.Kind, ": \t\n") {
		return fmt.Errorf("topic kind %q contains a separator", t.Kind)
	}
	if t.Subject == "" {
		return fmt.Errorf("topic %s has no subject", t.Kind)
	}
	if strings.ContainsAny(t.Subject, " \t\n") {
		return fmt.Errorf("topic subject %q contains whitespace", t.Subject)
	}
	return nil
}

// String formats the topic in its wire form.
func (t Topic) String() string {
	return prefix + ":" + t.Kind + ":" + t.Subject
}

// Parse parses the wire form of a topic. The subject may itself contain
// colons.
func Parse(s string) (Topic, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != prefix {
		return Topic{}, fmt.Errorf("malformed topic %q", s)
	}
	return New(parts[1], parts[2])
}

// Event is one notification published on a topic. Its payload on the wire is
// {"event": "...", "subject": "..."}.
type Event struct {
	Topic   Topic  `json:"-"`
	Event   string `json:"event"`
	Subject string `json:"subject"`
}

// DecodeEvent decodes the payload of a notification received on t. A payload
// without a subject refers to the subject of the topic.
func DecodeEvent(t Topic, payload []byte) (Event, error) {
	ev := Event{Topic: t}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev); err != nil {
			return Event{}, fmt.Errorf("decode event on %s: %w", t, err)
		}
	}
	if ev.Subject == "" {
		ev.Subject = t.Subject
	}
	return ev, nil
}
