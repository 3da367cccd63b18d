// Package scheduler polls tracked pages on a fixed interval and delivers new resources.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"site_tracker/internal/export"
	"site_tracker/internal/fetcher"
	"site_tracker/internal/metrics"
	"site_tracker/internal/model"
	"site_tracker/internal/storage"
	"site_tracker/internal/tracker"
)

// Notifier delivers messages and files to a subscriber.
type Notifier interface {
	NotifyText(ctx context.Context, subscriberID int64, text string) error
	NotifyDocument(ctx context.Context, subscriberID int64, path, caption string) error
}

// Loader reads the full subscription snapshot.
type Loader interface {
	Load(ctx context.Context) (model.Snapshot, error)
}

// PageChecker compares a page with its baseline and records delivered changes.
type PageChecker interface {
	Check(ctx context.Context, subscriberID int64, page model.TrackedPage) (*tracker.Change, error)
	Commit(ctx context.Context, ch *tracker.Change) error
}

// Downloader saves a resource to disk.
type Downloader interface {
	Download(ctx context.Context, url, suggestedName, dir string) (*fetcher.File, error)
}

// Options configures a Scheduler.
type Options struct {
	Interval    time.Duration
	Concurrency int
	WorkDir     string
}

// Scheduler periodically checks every tracked page and notifies subscribers.
type Scheduler struct {
	store      Loader
	checker    PageChecker
	downloader Downloader
	exporter   *export.Exporter
	notifier   Notifier
	metrics    *metrics.Metrics
	log        *slog.Logger
	opts       Options
}

// New creates a Scheduler.
func New(
	store Loader,
	checker PageChecker,
	downloader Downloader,
	exporter *export.Exporter,
	notifier Notifier,
	m *metrics.Metrics,
	log *slog.Logger,
	opts Options,
) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Scheduler{
		store:      store,
		checker:    checker,
		downloader: downloader,
		exporter:   exporter,
		notifier:   notifier,
		metrics:    m,
		log:        log,
		opts:       opts,
	}
}

// Run checks all pages immediately and then on every interval, blocking until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.checkAll(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

func (s *Scheduler) checkAll(ctx context.Context) {
	start := time.Now()

	snap, err := s.store.Load(ctx)
	if err != nil {
		// An unreadable store is treated as having no subscriptions this tick.
		s.log.Error("load subscriptions", "error", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)

	pages := 0
	for _, sub := range snap.Subscribers() {
		for _, page := range sub.Pages {
			if ctx.Err() != nil {
				break
			}
			pages++
			g.Go(func() error {
				s.processPage(ctx, sub.ID, page)
				return nil
			})
		}
	}
	_ = g.Wait()

	s.metrics.Ticks.Inc()
	s.metrics.TickDuration.Observe(time.Since(start).Seconds())
	s.log.Debug("tick finished", "pages", pages, "duration", time.Since(start))
}

func (s *Scheduler) processPage(ctx context.Context, subscriberID int64, page model.TrackedPage) {
	log := s.log.With("subscriber", subscriberID, "url", page.URL)

	ch, err := s.checker.Check(ctx, subscriberID, page)
	if err != nil {
		s.metrics.PageChecks.WithLabelValues(metrics.ResultFetchErr).Inc()
		log.Warn("check page", "error", err)
		return
	}
	if ch == nil {
		s.metrics.PageChecks.WithLabelValues(metrics.ResultUnchanged).Inc()
		log.Debug("page unchanged")
		return
	}

	log.Info("page changed", "resources", len(ch.Current), "new", len(ch.New))
	s.sendText(ctx, subscriberID, "Website updated: "+page.URL)

	if len(ch.New) > 0 {
		s.metrics.NewResources.Add(float64(len(ch.New)))
		s.sendListing(ctx, subscriberID, page.URL, ch.New)
		for _, r := range ch.New {
			s.deliver(ctx, subscriberID, r)
		}
	}

	if err := s.checker.Commit(ctx, ch); err != nil {
		if errors.Is(err, storage.ErrNotTracked) {
			s.metrics.PageChecks.WithLabelValues(metrics.ResultChanged).Inc()
			log.Info("page untracked during check, baseline dropped")
			return
		}
		s.metrics.PageChecks.WithLabelValues(metrics.ResultStoreErr).Inc()
		s.metrics.PersistenceErrors.Inc()
		log.Error("record delivery, subscriber may be notified again", "error", err)
		return
	}
	s.metrics.PageChecks.WithLabelValues(metrics.ResultChanged).Inc()
}

func (s *Scheduler) sendText(ctx context.Context, subscriberID int64, text string) {
	if err := s.notifier.NotifyText(ctx, subscriberID, text); err != nil {
		s.metrics.Deliveries.WithLabelValues(metrics.DeliveryFailed).Inc()
		s.log.Error("send text", "subscriber", subscriberID, "error", err)
		return
	}
	s.metrics.Deliveries.WithLabelValues(metrics.DeliveryOK).Inc()
}

// sendListing delivers the listing of new resources. A listing over the size
// ceiling is dropped.
func (s *Scheduler) sendListing(ctx context.Context, subscriberID int64, pageURL string, resources []model.Resource) {
	listing, err := s.exporter.Write(pageURL, resources)
	if err != nil {
		s.log.Warn("export listing", "subscriber", subscriberID, "url", pageURL, "error", err)
		return
	}
	defer func() {
		if err := listing.Remove(); err != nil {
			s.log.Warn("remove listing", "path", listing.Path, "error", err)
		}
	}()

	caption := fmt.Sprintf("New files list (%d)", len(resources))
	if err := s.notifier.NotifyDocument(ctx, subscriberID, listing.Path, caption); err != nil {
		s.metrics.Deliveries.WithLabelValues(metrics.DeliveryFailed).Inc()
		s.log.Error("send listing", "subscriber", subscriberID, "url", pageURL, "error", err)
		return
	}
	s.metrics.Deliveries.WithLabelValues(metrics.DeliveryOK).Inc()
}

// deliver downloads one resource and sends it. Failures are reported to the
// subscriber and never stop sibling deliveries.
func (s *Scheduler) deliver(ctx context.Context, subscriberID int64, r model.Resource) {
	if err := s.sendResource(ctx, subscriberID, r); err != nil {
		s.metrics.Deliveries.WithLabelValues(metrics.DeliveryFailed).Inc()
		s.log.Warn("deliver resource", "subscriber", subscriberID, "resource", r.URL, "error", err)
		s.sendText(ctx, subscriberID, fmt.Sprintf("Error sending %s: %v\n%s", r.Name, err, r.URL))
		return
	}
	s.metrics.Deliveries.WithLabelValues(metrics.DeliveryOK).Inc()
}

func (s *Scheduler) sendResource(ctx context.Context, subscriberID int64, r model.Resource) error {
	file, err := s.downloader.Download(ctx, r.URL, r.Name, s.opts.WorkDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := file.Remove(); err != nil {
			s.log.Warn("remove download", "path", file.Path, "error", err)
		}
	}()

	caption := fmt.Sprintf("New %s:\n%s\n%s", r.Kind.Label(), r.Name, r.URL)
	return s.notifier.NotifyDocument(ctx, subscriberID, file.Path, caption)
}
