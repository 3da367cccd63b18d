// Package export renders resource sets as plain-text listing files.
package export

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"site_tracker/internal/fetcher"
	"site_tracker/internal/model"
)

// ErrTooLarge is returned when a listing exceeds the size ceiling. The partial
// file is discarded.
var ErrTooLarge = errors.New("listing exceeds size limit")

// Listing is a listing file written to disk.
type Listing struct {
	Path string
	Size int64
	dir  string
}

// Remove deletes the listing and its scratch directory.
func (l *Listing) Remove() error {
	return os.RemoveAll(l.dir)
}

// Exporter writes listings under a work directory.
type Exporter struct {
	dir      string
	maxBytes int64
	now      func() time.Time
}

// New creates an Exporter writing under dir and rejecting listings larger than maxBytes.
func New(dir string, maxBytes int64) *Exporter {
	return &Exporter{dir: dir, maxBytes: maxBytes, now: time.Now}
}

// FileName returns the listing file name for a page, e.g.
// "ex.com_files_20250102_150405.txt".
func FileName(pageURL string, at time.Time) string {
	host := ""
	if u, err := url.Parse(pageURL); err == nil {
		host = fetcher.SanitizeFilename(u.Host)
	}
	return fmt.Sprintf("%s_files_%s.txt", host, at.Format("20060102_150405"))
}

// Format renders one listing record.
func Format(r model.Resource) string {
	return fmt.Sprintf("%s: %s %s\n\n", strings.ToUpper(string(r.Kind)), r.Name, r.URL)
}

// Write renders resources for pageURL into a new listing file. The caller owns the
// returned Listing and must Remove it.
func (e *Exporter) Write(pageURL string, resources []model.Resource) (*Listing, error) {
	if err := os.MkdirAll(e.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	tmp, err := os.MkdirTemp(e.dir, "listing-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	p := filepath.Join(tmp, FileName(pageURL, e.now()))
	size, err := writeRecords(p, resources)
	if err != nil {
		_ = os.RemoveAll(tmp)
		return nil, err
	}
	if size > e.maxBytes {
		_ = os.RemoveAll(tmp)
		return nil, ErrTooLarge
	}
	return &Listing{Path: p, Size: size, dir: tmp}, nil
}

func writeRecords(p string, resources []model.Resource) (int64, error) {
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // path built from work dir
	if err != nil {
		return 0, fmt.Errorf("create listing: %w", err)
	}

	w := bufio.NewWriter(f)
	var size int64
	for _, r := range resources {
		n, err := w.WriteString(Format(r))
		if err != nil {
			_ = f.Close()
			return 0, fmt.Errorf("write listing: %w", err)
		}
		size += int64(n)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("flush listing: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close listing: %w", err)
	}
	return size, nil
}
