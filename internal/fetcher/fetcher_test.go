package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

type mockTransport struct {
	body        string
	statusCode  int
	contentType string
	err         error
	block       bool
	lastReq     *http.Request
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.lastReq = req
	if m.block {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	h := http.Header{}
	if m.contentType != "" {
		h.Set("Content-Type", m.contentType)
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Header:     h,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func TestFetch(t *testing.T) {
	tests := []struct {
		name       string
		transport  *mockTransport
		opts       Options
		want       string
		wantStatus int
		wantErr    bool
		tooLarge   bool
	}{
		{
			name:      "successful fetch",
			transport: &mockTransport{body: "<html>hello</html>", statusCode: 200},
			want:      "<html>hello</html>",
		},
		{
			name:      "2xx other than 200",
			transport: &mockTransport{body: "partial", statusCode: 203},
			want:      "partial",
		},
		{
			name:       "http error status",
			transport:  &mockTransport{body: "not found", statusCode: 404},
			wantErr:    true,
			wantStatus: 404,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
		{
			name:      "timeout",
			transport: &mockTransport{block: true},
			opts:      Options{Timeout: 20 * time.Millisecond},
			wantErr:   true,
		},
		{
			name:      "body at page limit",
			transport: &mockTransport{body: "0123", statusCode: 200},
			opts:      Options{MaxPageSize: 4},
			want:      "0123",
		},
		{
			name:      "body over page limit",
			transport: &mockTransport{body: "0123456789", statusCode: 200},
			opts:      Options{MaxPageSize: 4},
			wantErr:   true,
			tooLarge:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.transport, tt.opts)
			got, err := f.Fetch(context.Background(), "https://example.com/page")

			if tt.wantErr {
				var fe *FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("expected *FetchError, got %v", err)
				}
				if diff := cmp.Diff(tt.wantStatus, fe.Status); diff != "" {
					t.Errorf("status mismatch (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff(tt.tooLarge, errors.Is(err, ErrTooLarge)); diff != "" {
					t.Errorf("ErrTooLarge mismatch (-want +got):\n%s", diff)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, string(got)); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchSetsUserAgent(t *testing.T) {
	tr := &mockTransport{body: "ok", statusCode: 200}
	f := New(tr, Options{UserAgent: "SiteTrackerTest/2.0"})
	if _, err := f.Fetch(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff("SiteTrackerTest/2.0", tr.lastReq.Header.Get("User-Agent")); diff != "" {
		t.Errorf("user agent mismatch (-want +got):\n%s", diff)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "report", want: "report"},
		{in: `a\b/c*d?e:f"g<h>i|j`, want: "a_b_c_d_e_f_g_h_i_j"},
		{in: "  spaced name  ", want: "spaced name"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, SanitizeFilename(tt.in)); diff != "" {
				t.Errorf("SanitizeFilename(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestResolveFilename(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		suggested   string
		contentType string
		want        string
	}{
		{
			name:      "suggested name plus url extension",
			url:       "https://ex.com/files/a.PDF",
			suggested: "Annual Report",
			want:      "Annual Report.pdf",
		},
		{
			name: "name from url path",
			url:  "https://ex.com/files/photo.png",
			want: "photo.png",
		},
		{
			name:      "suggested name already carries extension",
			url:       "https://ex.com/x/doc.pdf",
			suggested: "doc.pdf",
			want:      "doc.pdf",
		},
		{
			name:      "unsafe characters sanitized",
			url:       "https://ex.com/a.txt",
			suggested: "Q1/Q2: results?",
			want:      "Q1_Q2_ results_.txt",
		},
		{
			name:        "extension from content type jpeg",
			url:         "https://ex.com/image",
			contentType: "image/jpeg",
			want:        "image.jpg",
		},
		{
			name:        "extension from content type ooxml",
			url:         "https://ex.com/download?id=1",
			suggested:   "Contract",
			contentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			want:        "Contract.docx",
		},
		{
			name:        "unknown content type gives no extension",
			url:         "https://ex.com/blob",
			contentType: "application/octet-stream",
			want:        "blob",
		},
		{
			name:      "case-folded suffix of a different byte length is kept",
			url:       "https://ex.com/f/a.k",
			suggested: "temp.\u212A",
			want:      "temp.\u212A.k",
		},
		{
			name:      "uppercase suffix stripped",
			url:       "https://ex.com/f/scan.jpg",
			suggested: "Scan.JPG",
			want:      "Scan.jpg",
		},
		{
			name: "root path falls back to generic name",
			url:  "https://ex.com/",
			want: "file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveFilename(tt.url, tt.suggested, tt.contentType)
			if !utf8.ValidString(got) {
				t.Fatalf("ResolveFilename returned invalid UTF-8 %q", got)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ResolveFilename mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDownload(t *testing.T) {
	ctx := context.Background()

	t.Run("saves file with resolved name", func(t *testing.T) {
		dir := t.TempDir()
		f := New(&mockTransport{body: "%PDF-1.4 data", statusCode: 200, contentType: "application/pdf"}, Options{})

		file, err := f.Download(ctx, "https://ex.com/docs/report.pdf", "Quarterly", dir)
		if err != nil {
			t.Fatalf("download: %v", err)
		}
		if diff := cmp.Diff("Quarterly.pdf", file.Name); diff != "" {
			t.Errorf("name mismatch (-want +got):\n%s", diff)
		}
		data, err := os.ReadFile(file.Path)
		if err != nil {
			t.Fatalf("read downloaded file: %v", err)
		}
		if diff := cmp.Diff("%PDF-1.4 data", string(data)); diff != "" {
			t.Errorf("content mismatch (-want +got):\n%s", diff)
		}
		if !strings.HasPrefix(file.Path, dir) {
			t.Errorf("file %s not under work dir %s", file.Path, dir)
		}

		if err := file.Remove(); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if _, err := os.Stat(filepath.Dir(file.Path)); !os.IsNotExist(err) {
			t.Errorf("scratch dir still exists: %v", err)
		}
	})

	t.Run("sniffs content type when undeclared", func(t *testing.T) {
		png := "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"
		f := New(&mockTransport{body: png, statusCode: 200}, Options{})
		file, err := f.Download(ctx, "https://ex.com/render", "", t.TempDir())
		if err != nil {
			t.Fatalf("download: %v", err)
		}
		defer func() { _ = file.Remove() }()
		if diff := cmp.Diff("render.png", file.Name); diff != "" {
			t.Errorf("name mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("status error", func(t *testing.T) {
		f := New(&mockTransport{statusCode: 500}, Options{})
		_, err := f.Download(ctx, "https://ex.com/a.pdf", "", t.TempDir())
		var de *DownloadError
		if !errors.As(err, &de) {
			t.Fatalf("expected *DownloadError, got %v", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		f := New(&mockTransport{body: strings.Repeat("x", 32), statusCode: 200}, Options{MaxFileSize: 16})
		_, err := f.Download(ctx, "https://ex.com/a.txt", "", t.TempDir())
		var de *DownloadError
		if !errors.As(err, &de) {
			t.Fatalf("expected *DownloadError, got %v", err)
		}
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("error %q does not wrap ErrTooLarge", err)
		}
	})

	t.Run("network error", func(t *testing.T) {
		f := New(&mockTransport{err: io.ErrUnexpectedEOF}, Options{})
		_, err := f.Download(ctx, "https://ex.com/a.txt", "", t.TempDir())
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("expected wrapped ErrUnexpectedEOF, got %v", err)
		}
	})
}
