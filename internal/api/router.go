package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spanlight/spanlight/internal/ingest"
	"github.com/spanlight/spanlight/internal/rollup"
	"github.com/spanlight/spanlight/internal/store"
)

type RouterOptions struct {
	AppVersion    string
	Store         store.Store
	Ingest        *ingest.Service
	Compactor     rollup.CompactorDiagnosticsReader
	StorageDriver string
	StoragePath   string
	AuthHeader    string
	MaxBodySize   int64
	Logger        *slog.Logger
}

func NewRouter(options RouterOptions) http.Handler {
	startedAt := time.Now().UTC()
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.Handle("/api/health", HealthHandler(HealthOptions{
		Version:       options.AppVersion,
		StartedAt:     startedAt,
		StorageDriver: options.StorageDriver,
		StoragePath:   options.StoragePath,
		Store:         options.Store,
		Compactor:     options.Compactor,
	}))
	mux.Handle("/api/ingest/traces", IngestTracesHandler(options.Ingest, options.MaxBodySize))
	mux.Handle("/api/ingest/spans", IngestSpansHandler(options.Ingest, options.MaxBodySize))
	mux.Handle("/api/traces", TracesHandler(options.Store))
	mux.Handle("/api/traces/", TraceDetailHandler(options.Store))
	mux.Handle("/api/analytics/usage", UsageHandler(options.Store))
	mux.Handle("/api/analytics/models", ModelsHandler(options.Store))
	mux.Handle("/api/tenants/", TenantPurgeHandler(options.Store, options.Logger))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    "spanlight",
			"version": options.AppVersion,
			"status":  "ok",
		})
	})

	return withCORS(mux, options.AuthHeader)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("{\"error\":\"internal server error\"}\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method+", OPTIONS")
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func withCORS(next http.Handler, authHeader string) http.Handler {
	allowedHeaders := []string{"Content-Type", "Authorization", "X-Spanlight-Key"}
	customHeader := strings.TrimSpace(authHeader)
	if customHeader != "" {
		alreadyAllowed := false
		for _, header := range allowedHeaders {
			if strings.EqualFold(header, customHeader) {
				alreadyAllowed = true
				break
			}
		}
		if !alreadyAllowed {
			allowedHeaders = append(allowedHeaders, customHeader)
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
