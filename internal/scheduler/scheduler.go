// Package scheduler ticks every minute, finds subscriptions due for a run,
// and fans them out to a bounded worker pool.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/trogers1052/signal-alert-service/internal/config"
	"github.com/trogers1052/signal-alert-service/internal/interval"
	"github.com/trogers1052/signal-alert-service/internal/metrics"
	"github.com/trogers1052/signal-alert-service/internal/models"
	"github.com/trogers1052/signal-alert-service/internal/pipeline"
)

// SubscriptionLister loads the subscriptions eligible for scheduling.
type SubscriptionLister interface {
	ListEnabledSubscriptions() ([]*models.Subscription, error)
}

// PipelineRunner runs the alert pipeline for one subscription.
type PipelineRunner interface {
	Run(ctx context.Context, sub *models.Subscription, opts pipeline.Options) pipeline.Outcome
}

// Scheduler manages the periodic alert sweep.
type Scheduler struct {
	cron       *gocron.Scheduler
	lister     SubscriptionLister
	runner     PipelineRunner
	workers    int
	runTimeout time.Duration
	now        func() time.Time
}

// New creates a scheduler ticking once per minute.
func New(lister SubscriptionLister, runner PipelineRunner, cfg config.SchedulerConfig) *Scheduler {
	workers := cfg.Workers
	if workers < 1 {
		workers = 4
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 60 * time.Second
	}
	return &Scheduler{
		cron:       gocron.NewScheduler(time.UTC),
		lister:     lister,
		runner:     runner,
		workers:    workers,
		runTimeout: runTimeout,
		now:        time.Now,
	}
}

// Start registers the sweep job and starts ticking in the background.
func (s *Scheduler) Start() {
	log.Println("Starting alert scheduler...")

	// SingletonMode keeps a slow sweep from overlapping the next tick.
	s.cron.Every(1).Minute().SingletonMode().Do(func() {
		s.Tick(context.Background())
	})

	s.cron.StartAsync()
	log.Printf("Alert scheduler started (%d workers)", s.workers)
}

// Stop stops the scheduler. Runs already in flight finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Alert scheduler stopped")
}

// Tick runs one sweep: list enabled subscriptions, filter the due ones, and
// run them on the worker pool.
func (s *Scheduler) Tick(ctx context.Context) {
	metrics.SchedulerTicksTotal.Inc()

	subs, err := s.lister.ListEnabledSubscriptions()
	if err != nil {
		log.Printf("Scheduler: failed to list subscriptions: %v", err)
		return
	}

	due := s.filterDue(subs)
	if len(due) == 0 {
		return
	}
	log.Printf("Scheduler: %d of %d subscriptions due", len(due), len(subs))

	jobs := make(chan *models.Subscription)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				s.runOne(ctx, sub)
			}
		}()
	}

	for _, sub := range due {
		jobs <- sub
	}
	close(jobs)
	wg.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, sub *models.Subscription) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	out := s.runner.Run(runCtx, sub, pipeline.Options{})
	log.Printf("Scheduler: %s -> %s", sub.StreamID, out.Status)
}

// filterDue keeps subscriptions whose next closed candle can plausibly have
// arrived: never-run subscriptions are always due, otherwise the clock must
// have passed the processed candle's close by at least one full interval.
// Unparseable intervals stay in so the pipeline surfaces the config error on
// the subscription status.
func (s *Scheduler) filterDue(subs []*models.Subscription) []*models.Subscription {
	nowSec := s.now().Unix()
	due := make([]*models.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.LastProcessedClosedCandleTime == 0 {
			due = append(due, sub)
			continue
		}
		sec, err := interval.Seconds(sub.Interval)
		if err != nil {
			due = append(due, sub)
			continue
		}
		if nowSec >= sub.LastProcessedClosedCandleTime+2*sec {
			due = append(due, sub)
		}
	}
	return due
}
