// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"fmt"

	"site_tracker/internal/model"
)

// Sentinel errors returned by page operations.
var (
	ErrNotTracked     = errors.New("url not tracked")
	ErrAlreadyTracked = errors.New("url already tracked")
)

// PersistenceError reports a failed write. Silent continuation after one risks
// re-notifying subscribers or losing their baseline.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persist %s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotTracked) || errors.Is(err, ErrAlreadyTracked) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// Storage is the interface for all persistence operations.
type Storage interface {
	// Load returns every subscriber with its tracked pages.
	Load(ctx context.Context) (model.Snapshot, error)
	// Save atomically replaces all subscriptions with snap. It is the bulk path
	// used by Import.
	Save(ctx context.Context, snap model.Snapshot) error

	AddPage(ctx context.Context, subscriberID int64, page model.TrackedPage) error
	RemovePage(ctx context.Context, subscriberID int64, url string) error
	GetPage(ctx context.Context, subscriberID int64, url string) (*model.TrackedPage, error)
	ListPages(ctx context.Context, subscriberID int64) ([]model.TrackedPage, error)
	// RecordDelivery replaces the hash and resource set of one page in a single step.
	RecordDelivery(ctx context.Context, subscriberID int64, url, hash string, resources []model.Resource) error

	AddSudoUser(ctx context.Context, userID int64) (bool, error)
	RemoveSudoUser(ctx context.Context, userID int64) (bool, error)
	IsSudoUser(ctx context.Context, userID int64) (bool, error)

	AddChannel(ctx context.Context, channelID int64) (bool, error)
	RemoveChannel(ctx context.Context, channelID int64) (bool, error)
	IsChannelAuthorized(ctx context.Context, channelID int64) (bool, error)

	Close() error
}
