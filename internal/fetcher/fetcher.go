// Package fetcher retrieves tracked pages and downloads the resources they reference.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes timeouts and size limits of a Fetcher.
type Options struct {
	Timeout         time.Duration
	DownloadTimeout time.Duration
	MaxPageSize     int64
	MaxFileSize     int64
	UserAgent       string
}

// ErrTooLarge is wrapped by fetch and download errors for bodies over the size limit.
var ErrTooLarge = errors.New("response too large")

// FetchError reports a page that could not be retrieved: transport failure,
// timeout or a non-2xx status.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DownloadError reports a resource that could not be downloaded or saved.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Fetcher downloads pages and resources over HTTP.
type Fetcher struct {
	client HTTPClient
	opts   Options
}

// New creates a Fetcher with the given HTTP client. Zero options fall back to defaults.
func New(client HTTPClient, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 2 * time.Minute
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 10 << 20
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 45 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "SiteTrackerBot/1.0"
	}
	return &Fetcher{client: client, opts: opts}
}

// Fetch downloads the raw content of a page.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxPageSize+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.opts.MaxPageSize {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("%w: page exceeds %s", ErrTooLarge, humanize.IBytes(uint64(f.opts.MaxPageSize)))}
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("http get: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &FetchError{URL: rawURL, Status: resp.StatusCode}
	}
	return resp, nil
}

// File is a downloaded resource saved on disk.
type File struct {
	Path string
	Name string
	Size int64
	dir  string
}

// Remove deletes the file and its scratch directory.
func (f *File) Remove() error {
	return os.RemoveAll(f.dir)
}

// Download fetches a resource and saves it under dir with a resolved filename.
// The caller owns the returned File and must Remove it.
func (f *Fetcher) Download(ctx context.Context, rawURL, suggestedName, dir string) (*File, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.DownloadTimeout)
	defer cancel()

	resp, err := f.get(ctx, rawURL)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.Status != 0 {
			return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("unexpected status %d", fe.Status)}
		}
		return nil, &DownloadError{URL: rawURL, Err: errors.Unwrap(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxFileSize+1))
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.opts.MaxFileSize {
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("%w: file exceeds %s", ErrTooLarge, humanize.IBytes(uint64(f.opts.MaxFileSize)))}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mimetype.Detect(body).String()
	}
	name := ResolveFilename(rawURL, suggestedName, contentType)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("create work dir: %w", err)}
	}
	tmp, err := os.MkdirTemp(dir, "download-*")
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("create scratch dir: %w", err)}
	}
	p := filepath.Join(tmp, name)
	if err := os.WriteFile(p, body, 0o600); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("write file: %w", err)}
	}

	return &File{Path: p, Name: name, Size: int64(len(body)), dir: tmp}, nil
}

const maxBaseNameRunes = 100

var filenameReplacer = strings.NewReplacer(
	`\`, "_", "/", "_", "*", "_", "?", "_", ":", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// SanitizeFilename replaces characters that are unsafe in file names with underscores.
func SanitizeFilename(name string) string {
	return strings.TrimSpace(filenameReplacer.Replace(name))
}

// ResolveFilename derives a file name for a downloaded resource. The base comes from
// suggestedName, or from the URL path when no name is suggested. The extension comes
// from the URL path, or from contentType when the path has none.
func ResolveFilename(rawURL, suggestedName, contentType string) string {
	var urlPath string
	if u, err := url.Parse(rawURL); err == nil {
		urlPath = u.Path
	}

	ext := strings.ToLower(path.Ext(urlPath))
	if ext == "" {
		ext = extFromContentType(contentType)
	}

	base := SanitizeFilename(suggestedName)
	if base == "" {
		if b := path.Base(urlPath); b != "/" && b != "." {
			base = SanitizeFilename(strings.TrimSuffix(b, path.Ext(b)))
		}
	}
	if n := len(ext); n > 0 && len(base) >= n && strings.EqualFold(base[len(base)-n:], ext) {
		base = base[:len(base)-n]
	}
	if base == "" || base == "." {
		base = "file"
	}
	if utf8.RuneCountInString(base) > maxBaseNameRunes {
		base = string([]rune(base)[:maxBaseNameRunes])
	}
	return base + ext
}

func extFromContentType(ct string) string {
	ct = strings.ToLower(ct)
	switch {
	case strings.Contains(ct, "image/jpeg"):
		return ".jpg"
	case strings.Contains(ct, "image/png"):
		return ".png"
	case strings.Contains(ct, "image/gif"):
		return ".gif"
	case strings.Contains(ct, "application/pdf"):
		return ".pdf"
	case strings.Contains(ct, "vnd.openxmlformats"):
		return ".docx"
	default:
		return ""
	}
}
