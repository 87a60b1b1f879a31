// Package notify publishes build events to interested review tooling.
// Delivery is best effort: the durable event list in the store remains the
// source of truth, so publish failures never abort a pipeline.
package notify

import "context"

// Publisher delivers an event payload to a named group of subscribers.
type Publisher interface {
	Publish(ctx context.Context, group string, event []byte) error
}
