// Package tracker implements the per-page operations: establishing a baseline,
// checking a page for new resources and recording what was delivered.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"site_tracker/internal/differ"
	"site_tracker/internal/extractor"
	"site_tracker/internal/fingerprint"
	"site_tracker/internal/model"
	"site_tracker/internal/storage"
)

// ErrInvalidURL is returned when a page URL is not an absolute http or https URL.
var ErrInvalidURL = errors.New("invalid url")

// PageFetcher retrieves raw page content.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ResourceExtractor finds resources referenced by page content.
type ResourceExtractor interface {
	Extract(content []byte, baseURL string) ([]model.Resource, error)
}

// Change describes a page whose content differs from its baseline.
type Change struct {
	SubscriberID int64
	URL          string
	Hash         string
	// Current is the full extraction result of the new content.
	Current []model.Resource
	// New holds the resources of Current absent from the baseline, in Current's order.
	New []model.Resource
}

// Tracker coordinates fetching, fingerprinting, extraction and diffing against the store.
type Tracker struct {
	store     storage.Storage
	fetcher   PageFetcher
	extractor ResourceExtractor
	logger    *slog.Logger
	locks     *keyedMutex
}

// New creates a Tracker.
func New(store storage.Storage, f PageFetcher, x ResourceExtractor, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:     store,
		fetcher:   f,
		extractor: x,
		logger:    logger,
		locks:     newKeyedMutex(),
	}
}

// ValidateURL trims raw and checks that it is an absolute http or https URL.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "", ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", ErrInvalidURL
	}
	return raw, nil
}

func lockKey(subscriberID int64, pageURL string) string {
	return strconv.FormatInt(subscriberID, 10) + " " + pageURL
}

// Track fetches a page and stores its hash and resources as the subscriber's
// baseline. No resources are reported as new.
func (t *Tracker) Track(ctx context.Context, subscriberID int64, rawURL string) (*model.TrackedPage, error) {
	pageURL, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	unlock := t.locks.Lock(lockKey(subscriberID, pageURL))
	defer unlock()

	if _, err := t.store.GetPage(ctx, subscriberID, pageURL); err == nil {
		return nil, storage.ErrAlreadyTracked
	} else if !errors.Is(err, storage.ErrNotTracked) {
		return nil, fmt.Errorf("get page: %w", err)
	}

	content, err := t.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	page := model.TrackedPage{
		URL:       pageURL,
		Hash:      fingerprint.Sum(content),
		Resources: t.extract(content, pageURL),
	}
	if err := t.store.AddPage(ctx, subscriberID, page); err != nil {
		return nil, err
	}

	t.logger.Info("page tracked",
		"subscriber", subscriberID, "url", pageURL, "resources", len(page.Resources))
	return &page, nil
}

// Untrack removes a page from the subscriber's collection.
func (t *Tracker) Untrack(ctx context.Context, subscriberID int64, pageURL string) error {
	pageURL = strings.TrimSpace(pageURL)

	unlock := t.locks.Lock(lockKey(subscriberID, pageURL))
	defer unlock()

	if err := t.store.RemovePage(ctx, subscriberID, pageURL); err != nil {
		return err
	}
	t.logger.Info("page untracked", "subscriber", subscriberID, "url", pageURL)
	return nil
}

// Pages returns the subscriber's tracked pages.
func (t *Tracker) Pages(ctx context.Context, subscriberID int64) ([]model.TrackedPage, error) {
	return t.store.ListPages(ctx, subscriberID)
}

// Page returns one tracked page with its stored resources.
func (t *Tracker) Page(ctx context.Context, subscriberID int64, pageURL string) (*model.TrackedPage, error) {
	return t.store.GetPage(ctx, subscriberID, strings.TrimSpace(pageURL))
}

// Check fetches page and compares it with its baseline. It returns nil when the
// content hash is unchanged. Fetch failures are returned as is and leave the
// baseline untouched.
func (t *Tracker) Check(ctx context.Context, subscriberID int64, page model.TrackedPage) (*Change, error) {
	content, err := t.fetcher.Fetch(ctx, page.URL)
	if err != nil {
		return nil, err
	}

	hash := fingerprint.Sum(content)
	if hash == page.Hash {
		return nil, nil
	}

	current := t.extract(content, page.URL)
	return &Change{
		SubscriberID: subscriberID,
		URL:          page.URL,
		Hash:         hash,
		Current:      current,
		New:          differ.ComputeNew(current, page.Resources),
	}, nil
}

// Commit records a change as delivered: the new hash is stored and the new
// resources are appended to the baseline read under the page lock. Resources
// that disappeared from the page are kept.
func (t *Tracker) Commit(ctx context.Context, ch *Change) error {
	unlock := t.locks.Lock(lockKey(ch.SubscriberID, ch.URL))
	defer unlock()

	stored, err := t.store.GetPage(ctx, ch.SubscriberID, ch.URL)
	if err != nil {
		return err
	}
	merged := differ.Merge(stored.Resources, ch.Current)
	return t.store.RecordDelivery(ctx, ch.SubscriberID, ch.URL, ch.Hash, merged)
}

// extract returns the resources of content, or an empty set when it cannot be parsed.
func (t *Tracker) extract(content []byte, pageURL string) []model.Resource {
	resources, err := t.extractor.Extract(content, pageURL)
	if err != nil {
		var pe *extractor.ParseError
		if errors.As(err, &pe) {
			t.logger.Warn("parse page, treating as no resources", "url", pageURL, "error", err)
		} else {
			t.logger.Error("extract resources", "url", pageURL, "error", err)
		}
		return []model.Resource{}
	}
	return resources
}
