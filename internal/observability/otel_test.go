package observability

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spanlight/spanlight/internal/config"
)

func TestSetupDisabledReturnsInertRuntime(t *testing.T) {
	t.Parallel()

	runtime, err := Setup(context.Background(), config.OTelConfig{Enabled: false}, "test", slog.Default())
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if runtime.Enabled() {
		t.Fatal("disabled runtime should report Enabled()=false")
	}
	if err := runtime.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	// Metric hooks must be safe no-ops when disabled.
	runtime.RecordIngestRejection("span", 3)
	runtime.RecordWriteFailure("write_spans", "contention")
	runtime.RecordCompaction(10)
}

func TestDisabledRuntimePassesHandlerThrough(t *testing.T) {
	t.Parallel()

	runtime := &Runtime{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	wrapped := runtime.WrapHTTPHandler(runtime.SpanEnrichmentMiddleware(inner))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/traces", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestNilRuntimeIsSafe(t *testing.T) {
	t.Parallel()

	var runtime *Runtime
	if runtime.Enabled() {
		t.Fatal("nil runtime should report Enabled()=false")
	}
	if err := runtime.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() on nil runtime: %v", err)
	}
}

func TestNormalizeOTLPEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		raw          string
		wantEndpoint string
		wantInsecure bool
		wantErr      string
	}{
		{name: "bare host port", raw: "collector:4318", wantEndpoint: "collector:4318"},
		{name: "http url", raw: "http://collector:4318", wantEndpoint: "collector:4318", wantInsecure: true},
		{name: "https url", raw: "https://collector:4318", wantEndpoint: "collector:4318"},
		{name: "surrounding whitespace", raw: "  collector:4318  ", wantEndpoint: "collector:4318"},
		{name: "empty", raw: "  ", wantErr: "must not be empty"},
		{name: "unsupported scheme", raw: "grpc://collector:4317", wantErr: "scheme must be http or https"},
		{name: "url without host", raw: "http://", wantErr: "must include host"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			endpoint, insecure, err := normalizeOTLPEndpoint(tc.raw)
			if tc.wantErr != "" {
				if err == nil {
					t.Fatalf("normalizeOTLPEndpoint(%q) should fail", tc.raw)
				}
				if !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("error=%v, want substring %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeOTLPEndpoint(%q) error: %v", tc.raw, err)
			}
			if endpoint != tc.wantEndpoint {
				t.Fatalf("endpoint=%q, want %q", endpoint, tc.wantEndpoint)
			}
			if insecure != tc.wantInsecure {
				t.Fatalf("insecure=%v, want %v", insecure, tc.wantInsecure)
			}
		})
	}
}

func TestRoutePatternForPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{path: "/api/ingest/traces", want: "/api/ingest/*"},
		{path: "/api/ingest/spans", want: "/api/ingest/*"},
		{path: "/api/traces", want: "/api/traces/*"},
		{path: "/api/traces/abc123/spans", want: "/api/traces/*"},
		{path: "/api/analytics/usage", want: "/api/analytics/*"},
		{path: "/api/health", want: "/api/*"},
		{path: "/apiary", want: "/other"},
		{path: "/", want: "/other"},
	}

	for _, tc := range tests {
		if got := routePatternForPath(tc.path); got != tc.want {
			t.Fatalf("routePatternForPath(%q)=%q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestServerSpanName(t *testing.T) {
	t.Parallel()

	if got := serverSpanName("POST", "/api/ingest/spans"); got != "POST /api/ingest/*" {
		t.Fatalf("serverSpanName=%q, want %q", got, "POST /api/ingest/*")
	}
	if got := serverSpanName("  ", "/api/traces"); got != "UNKNOWN /api/traces/*" {
		t.Fatalf("serverSpanName=%q, want %q", got, "UNKNOWN /api/traces/*")
	}
}

func TestStatusCapturingResponseWriter(t *testing.T) {
	t.Parallel()

	t.Run("explicit status", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		w := &statusCapturingResponseWriter{ResponseWriter: rec}
		w.WriteHeader(http.StatusBadGateway)
		w.WriteHeader(http.StatusOK) // later writes must not overwrite the captured code
		if w.StatusCode() != http.StatusBadGateway {
			t.Fatalf("StatusCode()=%d, want %d", w.StatusCode(), http.StatusBadGateway)
		}
	})

	t.Run("implicit 200 on write", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		w := &statusCapturingResponseWriter{ResponseWriter: rec}
		if _, err := w.Write([]byte("ok")); err != nil {
			t.Fatalf("Write() error: %v", err)
		}
		if w.StatusCode() != http.StatusOK {
			t.Fatalf("StatusCode()=%d, want %d", w.StatusCode(), http.StatusOK)
		}
	})
}
