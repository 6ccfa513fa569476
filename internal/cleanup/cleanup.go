package cleanup

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/extractd/extractd/internal/job"
	"github.com/extractd/extractd/internal/results"
	"github.com/extractd/extractd/internal/upload"
)

// Sweeper periodically removes expired job records with their output
// artifacts, and stale files from the upload staging area. A failing pass
// is retried on a shortened backoff instead of killing the loop.
type Sweeper struct {
	store   job.Store
	results *results.Materializer
	uploads *upload.Staging

	interval       time.Duration // between successful job sweeps
	backoff        time.Duration // retry delay after a failed sweep
	retention      time.Duration // completed jobs older than this expire
	pendingTTL     time.Duration // pending jobs older than this are abandoned
	uploadTTL      time.Duration // staged uploads older than this expire
	uploadInterval time.Duration // between upload sweeps
}

// Config holds the sweeper timings; zero fields get defaults.
type Config struct {
	Interval   time.Duration
	Backoff    time.Duration
	Retention  time.Duration
	PendingTTL time.Duration
	UploadTTL  time.Duration
}

// New builds a Sweeper.
func New(store job.Store, m *results.Materializer, uploads *upload.Staging, cfg Config) *Sweeper {
	s := &Sweeper{
		store:      store,
		results:    m,
		uploads:    uploads,
		interval:   cfg.Interval,
		backoff:    cfg.Backoff,
		retention:  cfg.Retention,
		pendingTTL: cfg.PendingTTL,
		uploadTTL:  cfg.UploadTTL,
	}
	if s.interval <= 0 {
		s.interval = time.Hour
	}
	if s.backoff <= 0 {
		s.backoff = 5 * time.Minute
	}
	if s.retention <= 0 {
		s.retention = 24 * time.Hour
	}
	if s.pendingTTL <= 0 {
		s.pendingTTL = s.retention
	}
	if s.uploadTTL <= 0 {
		s.uploadTTL = time.Hour
	}
	s.uploadInterval = s.uploadTTL
	if s.uploadInterval > s.interval {
		s.uploadInterval = s.interval
	}
	return s
}

// Run loops until ctx is cancelled. Start it once at process startup.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("cleanup: sweeping jobs every %s, uploads every %s", s.interval, s.uploadInterval)

	jobTimer := time.NewTimer(s.interval)
	defer jobTimer.Stop()
	uploadTicker := time.NewTicker(s.uploadInterval)
	defer uploadTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("cleanup: stopped")
			return
		case <-jobTimer.C:
			next := s.interval
			if err := s.SweepJobs(ctx, time.Now()); err != nil {
				log.Printf("cleanup: sweep failed, retrying in %s: %v", s.backoff, err)
				next = s.backoff
			}
			jobTimer.Reset(next)
		case <-uploadTicker.C:
			if n, err := s.uploads.SweepOlderThan(s.uploadTTL); err != nil {
				log.Printf("cleanup: uploads sweep: %v", err)
			} else if n > 0 {
				log.Printf("cleanup: removed %d stale uploads", n)
			}
		}
	}
}

// SweepJobs deletes expired job records as of now, then removes each
// deleted job's output directory. Output removal is best-effort: one
// failure does not block the other deletions.
func (s *Sweeper) SweepJobs(ctx context.Context, now time.Time) error {
	ids, err := s.store.DeleteExpired(ctx, now.Add(-s.retention), now.Add(-s.pendingTTL))
	if err != nil {
		return fmt.Errorf("delete expired jobs: %w", err)
	}

	for _, id := range ids {
		if err := s.results.Remove(id); err != nil {
			log.Printf("cleanup: remove outputs of job %s: %v", id, err)
		}
	}
	if len(ids) > 0 {
		log.Printf("cleanup: removed %d expired jobs", len(ids))
	}
	return nil
}
