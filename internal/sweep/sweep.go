// Package sweep runs the hall's daily batch work on a cron scheduler: the
// morning dispatch processing, the 30-day re-sign expiry, and labor-request
// expiry. Every job is idempotent, so a crashed or repeated run settles to
// the same state.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/app"
	"github.com/openhall/hiringhall/internal/engine"
	"github.com/openhall/hiringhall/internal/metrics"
	"github.com/openhall/hiringhall/internal/store"
)

const sweepActor = "daily-sweep"

type Sweeper struct {
	config    *app.Config
	store     store.ReferralStore
	engine    *engine.Engine
	scheduler *gocron.Scheduler
}

// NewSweeper schedules the daily jobs and starts the scheduler. Schedules
// left empty in config fall back to the hall's standard mornings.
func NewSweeper(config *app.Config, st store.ReferralStore, eng *engine.Engine) (*Sweeper, error) {
	location := time.UTC
	if config.Sweep.Timezone != "" {
		loc, err := time.LoadLocation(config.Sweep.Timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load sweep timezone: %w", err)
		}
		location = loc
	}
	scheduler := gocron.NewScheduler(location)

	s := &Sweeper{
		config:    config,
		store:     st,
		engine:    eng,
		scheduler: scheduler,
	}

	jobs := []struct {
		name     string
		schedule string
		fallback string
		run      func() error
	}{
		{"morning_processing", config.Sweep.MorningSchedule, "30 8 * * 1-5", s.MorningProcessing},
		{"stale_expiry", config.Sweep.ExpirySchedule, "0 5 * * *", s.ExpireStale},
		{"request_expiry", config.Sweep.RequestSchedule, "15 5 * * *", s.ExpireRequests},
		{"queue_metrics", config.Sweep.MetricsSchedule, "*/15 * * * *", s.RefreshQueueMetrics},
	}
	for _, job := range jobs {
		job := job
		schedule := job.schedule
		if schedule == "" {
			schedule = job.fallback
		}
		_, err := scheduler.Cron(schedule).Do(func() {
			start := time.Now()
			if err := job.run(); err != nil {
				logger.Error.Printf("Sweep %s failed: %v", job.name, err)
			}
			metrics.SweepDuration.WithLabelValues(job.name).Observe(time.Since(start).Seconds())
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}

	scheduler.StartAsync()
	return s, nil
}

func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}

// MorningProcessing walks every due open request in book processing order:
// overnight bids settle first, then the book queue, by-name calls direct.
// Requests nobody could fill carry to the next morning.
func (s *Sweeper) MorningProcessing() error {
	ctx := context.Background()
	now := time.Now().UTC()

	books, err := s.store.ProcessingOrder()
	if err != nil {
		return fmt.Errorf("failed to order books: %w", err)
	}
	due, err := s.store.ListDueRequests(now)
	if err != nil {
		return fmt.Errorf("failed to list due requests: %w", err)
	}

	byBook := make(map[string][]int64)
	for _, req := range due {
		byBook[req.Book] = append(byBook[req.Book], req.ID)
	}

	filled, carried := 0, 0
	for _, book := range books {
		for _, id := range byBook[book.Name] {
			d, err := s.engine.ProcessRequest(ctx, id, sweepActor)
			if err != nil {
				logger.Error.Printf("Morning processing of request %d failed: %v", id, err)
				continue
			}
			if d == nil {
				carried++
				continue
			}
			filled++
			metrics.DispatchesTotal.WithLabelValues(d.Book, "morning").Inc()
		}
	}

	logger.Info.Printf("Morning processing done: %d filled, %d carried across %d books", filled, carried, len(books))
	return nil
}

// ExpireStale rolls registrations whose re-sign window lapsed to expired.
func (s *Sweeper) ExpireStale() error {
	_, err := s.engine.ExpireStale(context.Background(), time.Now().UTC(), sweepActor)
	return err
}

// ExpireRequests lapses open requests past their horizon.
func (s *Sweeper) ExpireRequests() error {
	_, err := s.engine.ExpireRequests(context.Background(), time.Now().UTC(), sweepActor)
	return err
}

// RefreshQueueMetrics publishes every book's queue depth.
func (s *Sweeper) RefreshQueueMetrics() error {
	rows, err := s.store.FetchBookSummary()
	if err != nil {
		return fmt.Errorf("failed to fetch book summary: %w", err)
	}
	for _, row := range rows {
		metrics.QueueDepth.WithLabelValues(row.Book).Set(float64(row.QueueDepth))
	}
	return nil
}
