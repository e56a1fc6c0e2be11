package events

import (
	"context"
	"testing"
	"time"

	goevents "github.com/docker/go-events"
	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

type channelSink struct {
	ch chan Message
}

func (s channelSink) Write(ev goevents.Event) error {
	if m, ok := ev.(Message); ok {
		s.ch <- m
	}
	return nil
}

func (channelSink) Close() error { return nil }

func waitFor(t *testing.T, ch chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
		return Message{}
	}
}

func TestPublishReachesSinks(t *testing.T) {
	e := New()
	defer e.Close()
	sink := channelSink{ch: make(chan Message, 1)}
	e.AddSink(sink)

	e.Publish(context.Background(), "image.upload", map[string]interface{}{"image_id": "abc"})

	m := waitFor(t, sink.ch)
	assert.Check(t, is.Equal(m.Action, "image.upload"))
	assert.Check(t, is.Equal(m.Payload["image_id"], "abc"))
	assert.Check(t, is.Equal(m.Error, ""))
	assert.Check(t, !m.Timestamp.IsZero())
}

func TestPublishErrorCarriesCause(t *testing.T) {
	e := New()
	defer e.Close()
	sink := channelSink{ch: make(chan Message, 1)}
	e.AddSink(sink)

	e.PublishError(context.Background(), "image.send", map[string]interface{}{"image_id": "abc"}, errors.New("short write"))

	m := waitFor(t, sink.ch)
	assert.Check(t, is.Equal(m.Action, "image.send"))
	assert.Check(t, is.Equal(m.Error, "short write"))
}
