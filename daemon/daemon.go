// Package daemon implements the image lifecycle controller: the state
// machine that takes an image from reservation through streaming upload
// to active retrieval and eventual deletion, coordinating the registry
// service and the object-store dispatcher.
package daemon

import (
	"github.com/moby/locker"

	"github.com/openstack/glance-sub003/daemon/events"
	"github.com/openstack/glance-sub003/registry"
	"github.com/openstack/glance-sub003/store"
)

// Config tunes the lifecycle controller.
type Config struct {
	// ImageSizeCap is the maximum body size in bytes. Zero means
	// unlimited.
	ImageSizeCap int64

	// ChunkSize is the buffer size for hashing and transfer. Zero uses
	// the 16 KiB default.
	ChunkSize int

	// DelayedDelete defers body reclamation to the scrubber.
	DelayedDelete bool
}

const defaultChunkSize = 16 * 1024

// Daemon is the lifecycle controller.
type Daemon struct {
	registry *registry.Service
	stores   *store.Dispatcher
	events   *events.Events
	cfg      Config

	// uploads serializes body uploads per image id.
	uploads *locker.Locker
}

// New wires a Daemon together.
func New(reg *registry.Service, stores *store.Dispatcher, ev *events.Events, cfg Config) *Daemon {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if ev == nil {
		ev = events.New()
	}
	return &Daemon{
		registry: reg,
		stores:   stores,
		events:   ev,
		cfg:      cfg,
		uploads:  locker.New(),
	}
}

// Registry exposes the underlying registry service for read paths that
// need no lifecycle coordination.
func (d *Daemon) Registry() *registry.Service {
	return d.registry
}

// Events exposes the notification hub.
func (d *Daemon) Events() *events.Events {
	return d.events
}
