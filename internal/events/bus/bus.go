// Package bus provides the event fabric between loosely coupled components.
// Production deployments run it over NATS; a single process can use the
// in-memory implementation.
package bus

import (
	"context"
	"encoding/json"
)

// Handler receives one published message.
type Handler func(subject string, data []byte)

// Subscription is a handle to an active subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the publish/subscribe fabric. Subjects use dotted hierarchical
// names; subscribing supports NATS-style wildcards on the NATS
// implementation and exact matches plus trailing ".>" on the memory one.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error)
	Close() error
}

// PublishJSON marshals v and publishes it on subject.
func PublishJSON(ctx context.Context, b Bus, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(ctx, subject, data)
}

// Child-session lifecycle subjects emitted by the orchestrator.
const (
	// SubjectChildEvents carries completion notifications for children of
	// one parent session: orchestrator.child.<parentSessionID>.
	SubjectChildEventsPrefix = "orchestrator.child."
)

// ChildEventSubject returns the subject for one parent session's child
// notifications.
func ChildEventSubject(parentSessionID string) string {
	return SubjectChildEventsPrefix + parentSessionID
}
