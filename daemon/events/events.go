// Package events publishes lifecycle notifications. Delivery is
// fire-and-forget: a slow or broken sink never blocks the request that
// produced the event.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/containerd/log"
	goevents "github.com/docker/go-events"
)

// Message is one notification.
type Message struct {
	// Action names the event, for example "image.send" or
	// "image.delete".
	Action string

	// Payload carries the event fields.
	Payload map[string]interface{}

	// Error is set when the event reports a failed operation.
	Error string

	Timestamp time.Time
}

// Events fans messages out to its sinks.
type Events struct {
	mu sync.Mutex
	bc *goevents.Broadcaster
}

// New returns an Events hub with a logging sink attached.
func New() *Events {
	return &Events{bc: goevents.NewBroadcaster(logSink{})}
}

// AddSink attaches a sink. Used by tests and by deployments forwarding
// notifications to an external bus.
func (e *Events) AddSink(sink goevents.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bc.Add(sink)
}

// Publish broadcasts a message and never fails.
func (e *Events) Publish(ctx context.Context, action string, payload map[string]interface{}) {
	e.publish(ctx, Message{Action: action, Payload: payload, Timestamp: time.Now().UTC()})
}

// PublishError broadcasts a message classified as an error.
func (e *Events) PublishError(ctx context.Context, action string, payload map[string]interface{}, cause error) {
	e.publish(ctx, Message{Action: action, Payload: payload, Error: cause.Error(), Timestamp: time.Now().UTC()})
}

func (e *Events) publish(ctx context.Context, m Message) {
	if err := e.bc.Write(m); err != nil {
		log.G(ctx).WithError(err).WithField("action", m.Action).Warn("events: dropping notification")
	}
}

// Close shuts the broadcaster down.
func (e *Events) Close() error {
	return e.bc.Close()
}

type logSink struct{}

func (logSink) Write(ev goevents.Event) error {
	m, ok := ev.(Message)
	if !ok {
		return nil
	}
	l := log.L.WithField("action", m.Action)
	for k, v := range m.Payload {
		l = l.WithField(k, v)
	}
	if m.Error != "" {
		l.WithField("error", m.Error).Warn("event")
		return nil
	}
	l.Info("event")
	return nil
}

func (logSink) Close() error { return nil }
