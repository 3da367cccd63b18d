package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Ticks.Inc()
	m.PageChecks.WithLabelValues(ResultChanged).Add(2)

	srv := httptest.NewServer(NewRouter(reg))
	defer srv.Close()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   []string
	}{
		{path: "/healthz", wantStatus: http.StatusOK, wantBody: []string{"ok"}},
		{
			path:       "/metrics",
			wantStatus: http.StatusOK,
			wantBody: []string{
				"site_tracker_ticks_total 1",
				`site_tracker_page_checks_total{result="changed"} 2`,
			},
		},
		{path: "/missing", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer func() { _ = resp.Body.Close() }()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}

			if diff := cmp.Diff(tt.wantStatus, resp.StatusCode); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(string(body), want) {
					t.Errorf("body missing %q", want)
				}
			}
		})
	}
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Deliveries.WithLabelValues(DeliveryOK).Inc()
	m.Deliveries.WithLabelValues(DeliveryFailed).Inc()
	m.Deliveries.WithLabelValues(DeliveryOK).Inc()

	if diff := cmp.Diff(2.0, testutil.ToFloat64(m.Deliveries.WithLabelValues(DeliveryOK))); diff != "" {
		t.Errorf("ok deliveries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues(DeliveryFailed))); diff != "" {
		t.Errorf("failed deliveries mismatch (-want +got):\n%s", diff)
	}
}
