package storage

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"site_tracker/internal/model"
)

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "bot.db")

	s, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	page := model.TrackedPage{URL: "http://ex.com", Hash: "h1", Resources: []model.Resource{pdf, png}}
	if err := s.AddPage(ctx, 5, page); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddChannel(ctx, -100); err != nil {
		t.Fatalf("add channel: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Migrations must be idempotent on an existing database.
	s, err = NewSQLite(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.GetPage(ctx, 5, "http://ex.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(page, *got); diff != "" {
		t.Errorf("page after reopen mismatch (-want +got):\n%s", diff)
	}
	ok, err := s.IsChannelAuthorized(ctx, -100)
	if err != nil {
		t.Fatalf("is channel: %v", err)
	}
	if !ok {
		t.Error("channel lost after reopen")
	}
}

func TestSQLiteRecordDeliveryKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.AddPage(ctx, 1, model.TrackedPage{URL: "http://ex.com", Hash: "h"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	resources := []model.Resource{
		{Name: "z", URL: "http://ex.com/z.pdf", Kind: model.KindDocument},
		{Name: "a", URL: "http://ex.com/a.png", Kind: model.KindImage},
		{Name: "m", URL: "http://ex.com/m.txt", Kind: model.KindDocument},
	}
	if err := s.RecordDelivery(ctx, 1, "http://ex.com", "h2", resources); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.GetPage(ctx, 1, "http://ex.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(resources, got.Resources); diff != "" {
		t.Errorf("resources mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenSQLiteCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")
	garbage := bytes.Repeat([]byte("definitely not sqlite "), 64)
	if err := os.WriteFile(path, garbage, 0o600); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	s, err := OpenSQLite(path, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open corrupt store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	snap, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(0, len(snap)); diff != "" {
		t.Errorf("snapshot size mismatch (-want +got):\n%s", diff)
	}

	if err := s.AddPage(ctx, 1, model.TrackedPage{URL: "http://ex.com", Hash: "h"}); err != nil {
		t.Fatalf("add to fresh store: %v", err)
	}

	moved, err := os.ReadFile(path + ".corrupt")
	if err != nil {
		t.Fatalf("read moved file: %v", err)
	}
	if !bytes.Equal(garbage, moved) {
		t.Error("corrupt file content not preserved")
	}
}

func TestOpenSQLiteKeepsValidFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")
	log := slog.New(slog.DiscardHandler)

	s, err := OpenSQLite(path, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.AddPage(ctx, 1, model.TrackedPage{URL: "http://ex.com", Hash: "h"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	_ = s.Close()

	s, err = OpenSQLite(path, log)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.GetPage(ctx, 1, "http://ex.com"); err != nil {
		t.Errorf("page lost on reopen: %v", err)
	}
	if _, err := os.Stat(path + ".corrupt"); !os.IsNotExist(err) {
		t.Errorf("valid store moved aside: %v", err)
	}
}
