// Package events carries new-object notifications from whatever produced them
// (bucket webhooks, operator tools) to the pipeline workers. Delivery is
// at-least-once; consumers must tolerate duplicates.
package events

import (
	"context"
	"time"
)

// Notification is the event contract shared by all producers:
// which store, which key, and when.
type Notification struct {
	Store     string    `json:"store"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits notifications into the delivery channel.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Delivery is one received notification plus its acknowledgement hook.
// Ack is called only after the stage invocation finished (success or a written
// error record); an unacked delivery will be redelivered.
type Delivery struct {
	Notification Notification
	Ack          func(ctx context.Context) error
}

// Source yields deliveries until the context is cancelled.
type Source interface {
	Receive(ctx context.Context) (*Delivery, error)
}
