// Package scrubber drains delayed deletes: it periodically lists images
// in pending_delete, reclaims their bodies from the object stores and
// transitions the rows to deleted. Multiple instances may run at once;
// the status transition is transactional and an image already deleted is
// simply skipped.
package scrubber

import (
	"context"
	"sync"
	"time"

	"github.com/containerd/log"
	metrics "github.com/docker/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/catalog"
	"github.com/openstack/glance-sub003/errdefs"
	"github.com/openstack/glance-sub003/store"
)

// Config tunes the scrubber.
type Config struct {
	// Interval between cycles when running as a daemon.
	Interval time.Duration

	// GracePeriod is how long an image must sit in pending_delete
	// before its body is reclaimed.
	GracePeriod time.Duration

	// MaxAttempts bounds the retries for one image. Past the bound the
	// image stays in pending_delete and a warning is logged each cycle.
	MaxAttempts int

	// Parallelism caps concurrent location deletes within a cycle.
	Parallelism int
}

const (
	defaultInterval    = 5 * time.Minute
	defaultMaxAttempts = 5
	defaultParallelism = 4
)

// Scrubber is the background worker.
type Scrubber struct {
	catalog *catalog.Catalog
	stores  *store.Dispatcher
	cfg     Config

	mu       sync.Mutex
	attempts map[string]int
}

// New builds a Scrubber.
func New(c *catalog.Catalog, stores *store.Dispatcher, cfg Config) *Scrubber {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	return &Scrubber{
		catalog:  c,
		stores:   stores,
		cfg:      cfg,
		attempts: map[string]int{},
	}
}

// Run cycles until ctx is cancelled.
func (s *Scrubber) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			log.G(ctx).WithError(err).Error("scrubber: cycle failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs one cycle and reports how many images it completed.
func (s *Scrubber) RunOnce(ctx context.Context) (int, error) {
	done := metrics.StartTimer(cycleTimer)
	defer done()

	cutoff := time.Now().UTC().Add(-s.cfg.GracePeriod)
	tasks, err := s.catalog.ImagesPendingScrub(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	log.G(ctx).WithField("images", len(tasks)).Info("scrubber: starting cycle")

	scrubbed := 0
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return scrubbed, err
		}
		if s.exhausted(task.ImageID) {
			log.G(ctx).WithField("image", task.ImageID).Warnf("scrubber: image failed %d times, leaving in pending_delete", s.cfg.MaxAttempts)
			continue
		}
		if err := s.scrubImage(ctx, task); err != nil {
			s.recordFailure(task.ImageID)
			log.G(ctx).WithError(err).WithField("image", task.ImageID).Warn("scrubber: image will be retried next cycle")
			continue
		}
		s.clearFailures(task.ImageID)
		scrubbedCounter.Inc()
		scrubbed++
	}
	log.G(ctx).WithField("scrubbed", scrubbed).Info("scrubber: cycle complete")
	return scrubbed, nil
}

// scrubImage reclaims every location of one image, then finishes the
// delete. Unsupported and already-gone backends count as reclaimed.
func (s *Scrubber) scrubImage(ctx context.Context, task *catalog.ScrubTask) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for _, rawURL := range task.LocationURLs {
		loc := types.Location{URL: rawURL}
		g.Go(func() error {
			err := s.stores.ScheduleDelete(gctx, loc)
			if errdefs.IsNotFound(err) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := s.catalog.SetImageStatus(ctx, task.ImageID, types.StatusDeleted); err != nil {
		if errdefs.IsNotFound(err) {
			// Another scrubber instance finished first.
			return nil
		}
		return err
	}
	log.G(ctx).WithField("image", task.ImageID).Info("scrubber: image scrubbed")
	return nil
}

func (s *Scrubber) exhausted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id] >= s.cfg.MaxAttempts
}

func (s *Scrubber) recordFailure(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id]++
}

func (s *Scrubber) clearFailures(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, id)
}
