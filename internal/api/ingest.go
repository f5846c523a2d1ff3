package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/spanlight/spanlight/internal/ingest"
	"github.com/spanlight/spanlight/internal/store"
	"github.com/spanlight/spanlight/internal/tenant"
)

const defaultIngestBodyLimit = 4 << 20

type ingestTraceResponse struct {
	TraceID string `json:"trace_id"`
	Version int64  `json:"version"`
}

type ingestSpansResponse struct {
	Accepted int `json:"accepted"`
}

type validationErrorResponse struct {
	Error  string              `json:"error"`
	Fields []ingest.FieldError `json:"fields,omitempty"`
}

// IngestTracesHandler accepts one trace write (open or close) per request
// and responds with the version assigned to it.
func IngestTracesHandler(service *ingest.Service, bodyLimit int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if service == nil {
			writeError(w, http.StatusServiceUnavailable, "ingest service is not configured")
			return
		}
		identity, ok := tenant.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing tenant identity")
			return
		}

		var payload ingest.TracePayload
		if !decodeIngestBody(w, r, bodyLimit, &payload) {
			return
		}

		version, err := service.IngestTrace(r.Context(), identity.TenantID, &payload)
		if err != nil {
			writeIngestError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, ingestTraceResponse{
			TraceID: payload.TraceID,
			Version: version,
		})
	})
}

// IngestSpansHandler accepts a single span object or an array of spans.
// The batch is atomic: either every span is stored or none are.
func IngestSpansHandler(service *ingest.Service, bodyLimit int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if service == nil {
			writeError(w, http.StatusServiceUnavailable, "ingest service is not configured")
			return
		}
		identity, ok := tenant.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing tenant identity")
			return
		}

		var raw json.RawMessage
		if !decodeIngestBody(w, r, bodyLimit, &raw) {
			return
		}

		payloads, err := decodeSpanPayloads(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		accepted, err := service.IngestSpans(r.Context(), identity.TenantID, payloads)
		if err != nil {
			writeIngestError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, ingestSpansResponse{Accepted: accepted})
	})
}

// decodeSpanPayloads accepts either `{...}` or `[{...}, ...]` request bodies
// so single-span senders avoid the array wrapper.
func decodeSpanPayloads(raw json.RawMessage) ([]*ingest.SpanPayload, error) {
	trimmed := firstNonSpaceByte(raw)
	switch trimmed {
	case '[':
		var payloads []*ingest.SpanPayload
		if err := json.Unmarshal(raw, &payloads); err != nil {
			return nil, errors.New("invalid span batch body")
		}
		return payloads, nil
	case '{':
		var payload ingest.SpanPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, errors.New("invalid span body")
		}
		return []*ingest.SpanPayload{&payload}, nil
	default:
		return nil, errors.New("request body must be a span object or an array of spans")
	}
}

func firstNonSpaceByte(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b
	}
	return 0
}

func decodeIngestBody(w http.ResponseWriter, r *http.Request, bodyLimit int64, target any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	if bodyLimit <= 0 {
		bodyLimit = defaultIngestBodyLimit
	}
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeIngestError(w http.ResponseWriter, err error) {
	var validationErr *ingest.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, validationErrorResponse{
			Error:  "validation failed",
			Fields: validationErr.Fields,
		})
		return
	}

	switch store.ClassifyWriteError(err) {
	case store.WriteErrorClassConnection, store.WriteErrorClassTimeout, store.WriteErrorClassContention:
		writeError(w, http.StatusServiceUnavailable, "storage is temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "failed to store payload")
	}
}
