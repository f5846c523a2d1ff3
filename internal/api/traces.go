package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spanlight/spanlight/internal/reconcile"
	"github.com/spanlight/spanlight/internal/store"
	"github.com/spanlight/spanlight/internal/tenant"
)

type tracesResponse struct {
	Items      []traceSummary `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type traceSummary struct {
	TraceID     string            `json:"trace_id"`
	Version     int64             `json:"version"`
	WriteCount  int               `json:"write_count"`
	Name        *string           `json:"name,omitempty"`
	StartTime   *time.Time        `json:"start_time,omitempty"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
	DurationMS  *int64            `json:"duration_ms"`
	Status      *string           `json:"status,omitempty"`
	UserID      *string           `json:"user_id,omitempty"`
	SessionID   *string           `json:"session_id,omitempty"`
	Environment *string           `json:"environment,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Usage       traceUsage        `json:"usage"`
}

type traceDetail struct {
	traceSummary
	StatusMessage *string          `json:"status_message,omitempty"`
	Input         *json.RawMessage `json:"input,omitempty"`
	Output        *json.RawMessage `json:"output,omitempty"`
}

type traceUsage struct {
	SpanCount    int64   `json:"span_count"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
}

type traceSpansResponse struct {
	TraceID string     `json:"trace_id"`
	Spans   []spanItem `json:"spans"`
}

type spanItem struct {
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	DurationMS   *int64            `json:"duration_ms"`
	Status       string            `json:"status"`
	StatusMsg    string            `json:"status_message,omitempty"`
	Input        *json.RawMessage  `json:"input,omitempty"`
	Output       *json.RawMessage  `json:"output,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	Model        string            `json:"model,omitempty"`
	InputTokens  int64             `json:"input_tokens"`
	OutputTokens int64             `json:"output_tokens"`
	InputCost    float64           `json:"input_cost"`
	OutputCost   float64           `json:"output_cost"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TracesHandler pages over logical traces. Each item is the reconciled view
// of a trace's write history plus its folded rollup.
func TracesHandler(st store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if st == nil {
			writeError(w, http.StatusServiceUnavailable, "trace store is not configured")
			return
		}
		identity, ok := tenant.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing tenant identity")
			return
		}

		filter, err := parseTraceFilter(r, identity.TenantID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		page, err := st.ListTraceWrites(r.Context(), filter)
		if err != nil {
			if errors.Is(err, store.ErrInvalidCursor) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to query traces")
			return
		}

		rollups, err := st.Rollups(r.Context(), identity.TenantID, page.Order)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to query trace rollups")
			return
		}

		items := make([]traceSummary, 0, len(page.Order))
		for _, traceID := range page.Order {
			merged := reconcile.Merge(page.Writes[traceID])
			if merged == nil {
				continue
			}
			items = append(items, summarizeTrace(merged, rollups[traceID]))
		}

		writeJSON(w, http.StatusOK, tracesResponse{
			Items:      items,
			NextCursor: page.NextCursor,
		})
	})
}

// TraceDetailHandler serves /api/traces/{id} and /api/traces/{id}/spans.
func TraceDetailHandler(st store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if st == nil {
			writeError(w, http.StatusServiceUnavailable, "trace store is not configured")
			return
		}
		identity, ok := tenant.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing tenant identity")
			return
		}

		route, ok := parseTracePathRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		switch route.Action {
		case "":
			handleTraceDetail(w, r, st, identity.TenantID, route.ID)
		case "spans":
			handleTraceSpans(w, r, st, identity.TenantID, route.ID)
		default:
			http.NotFound(w, r)
		}
	})
}

func handleTraceDetail(w http.ResponseWriter, r *http.Request, st store.Store, tenantID, traceID string) {
	writes, err := st.TraceWrites(r.Context(), tenantID, traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read trace")
		return
	}
	merged := reconcile.Merge(writes)
	if merged == nil {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	}

	rollupState, err := st.Rollup(r.Context(), tenantID, traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read trace rollup")
		return
	}

	writeJSON(w, http.StatusOK, traceDetail{
		traceSummary:  summarizeTrace(merged, rollupState),
		StatusMessage: merged.StatusMessage,
		Input:         rawPayloadField(merged.Input),
		Output:        rawPayloadField(merged.Output),
	})
}

func handleTraceSpans(w http.ResponseWriter, r *http.Request, st store.Store, tenantID, traceID string) {
	writes, err := st.TraceWrites(r.Context(), tenantID, traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read trace")
		return
	}
	if len(writes) == 0 {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	}

	spans, err := st.Spans(r.Context(), tenantID, traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read trace spans")
		return
	}

	items := make([]spanItem, 0, len(spans))
	for _, span := range spans {
		items = append(items, presentSpan(span))
	}

	writeJSON(w, http.StatusOK, traceSpansResponse{
		TraceID: traceID,
		Spans:   items,
	})
}

func parseTraceFilter(r *http.Request, tenantID string) (store.TraceListFilter, error) {
	query := r.URL.Query()
	limit, err := parseIntQuery(query.Get("limit"), "limit", 0, 200)
	if err != nil {
		return store.TraceListFilter{}, err
	}

	from, err := parseTimeQuery(query.Get("from"), false)
	if err != nil {
		return store.TraceListFilter{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := parseTimeQuery(query.Get("to"), true)
	if err != nil {
		return store.TraceListFilter{}, fmt.Errorf("invalid to: %w", err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return store.TraceListFilter{}, fmt.Errorf("to must be greater than or equal to from")
	}

	return store.TraceListFilter{
		TenantID:    tenantID,
		UserID:      strings.TrimSpace(query.Get("user_id")),
		SessionID:   strings.TrimSpace(query.Get("session_id")),
		Environment: strings.TrimSpace(query.Get("environment")),
		From:        from,
		To:          to,
		Limit:       limit,
		Cursor:      strings.TrimSpace(query.Get("cursor")),
	}, nil
}

func summarizeTrace(merged *reconcile.Trace, rollupState *store.Rollup) traceSummary {
	end := reconcile.EffectiveEnd(merged, rollupState)
	status := merged.Status
	if status == nil {
		defaulted := store.StatusOK
		status = &defaulted
	}
	return traceSummary{
		TraceID:     merged.TraceID,
		Version:     merged.Version,
		WriteCount:  merged.WriteCount,
		Name:        merged.Name,
		StartTime:   merged.StartTime,
		EndTime:     end,
		DurationMS:  durationMillis(reconcile.Duration(merged.StartTime, end)),
		Status:      status,
		UserID:      merged.UserID,
		SessionID:   merged.SessionID,
		Environment: merged.Environment,
		Tags:        merged.Tags,
		Usage:       usageFromRollup(rollupState),
	}
}

func usageFromRollup(rollupState *store.Rollup) traceUsage {
	if rollupState == nil {
		return traceUsage{}
	}
	return traceUsage{
		SpanCount:    rollupState.SpanCount,
		InputTokens:  rollupState.InputTokens,
		OutputTokens: rollupState.OutputTokens,
		TotalTokens:  rollupState.InputTokens + rollupState.OutputTokens,
		InputCost:    reconcile.CostUnits(rollupState.InputCostMicros),
		OutputCost:   reconcile.CostUnits(rollupState.OutputCostMicros),
		TotalCost:    reconcile.CostUnits(rollupState.InputCostMicros + rollupState.OutputCostMicros),
	}
}

func presentSpan(span *store.Span) spanItem {
	duration := durationMillis(reconcile.Duration(&span.StartTime, &span.EndTime))
	return spanItem{
		SpanID:       span.SpanID,
		ParentSpanID: span.ParentSpanID,
		Name:         span.Name,
		Type:         span.Type,
		StartTime:    span.StartTime,
		EndTime:      span.EndTime,
		DurationMS:   duration,
		Status:       span.Status,
		StatusMsg:    span.StatusMessage,
		Input:        rawPayloadValue(span.Input),
		Output:       rawPayloadValue(span.Output),
		Provider:     span.Provider,
		Model:        span.Model,
		InputTokens:  span.InputTokens,
		OutputTokens: span.OutputTokens,
		InputCost:    reconcile.CostUnits(span.InputCostMicros),
		OutputCost:   reconcile.CostUnits(span.OutputCostMicros),
		Metadata:     span.Metadata,
	}
}

// rawPayloadField renders a merged trace payload. A nil pointer means no
// write ever carried the field (omit); an empty string means a write
// explicitly carried "no payload" (render as JSON null).
func rawPayloadField(value *string) *json.RawMessage {
	if value == nil {
		return nil
	}
	return rawMessage(*value)
}

// rawPayloadValue renders a span payload column, where empty means absent.
func rawPayloadValue(value string) *json.RawMessage {
	if value == "" {
		return nil
	}
	return rawMessage(value)
}

func rawMessage(value string) *json.RawMessage {
	if strings.TrimSpace(value) == "" {
		raw := json.RawMessage("null")
		return &raw
	}
	if !json.Valid([]byte(value)) {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		raw := json.RawMessage(encoded)
		return &raw
	}
	raw := json.RawMessage(value)
	return &raw
}

func durationMillis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	// Sub-millisecond intervals round up to 1ms: a strictly positive
	// duration is never reported as zero.
	ms := d.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return &ms
}

type tracePathRoute struct {
	ID     string
	Action string
}

func parseTracePathRoute(path string) (tracePathRoute, bool) {
	prefix := "/api/traces/"
	if !strings.HasPrefix(path, prefix) {
		return tracePathRoute{}, false
	}
	suffix := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if suffix == "" {
		return tracePathRoute{}, false
	}
	parts := strings.Split(suffix, "/")
	if len(parts) > 2 {
		return tracePathRoute{}, false
	}
	if strings.TrimSpace(parts[0]) == "" {
		return tracePathRoute{}, false
	}
	route := tracePathRoute{
		ID: parts[0],
	}
	if len(parts) == 2 {
		route.Action = strings.TrimSpace(parts[1])
		if route.Action == "" {
			return tracePathRoute{}, false
		}
	}
	return route, true
}

func parseIntQuery(raw, name string, min, max int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if parsed < min {
		return 0, fmt.Errorf("%s must be >= %d", name, min)
	}
	if max != 0 && parsed > max {
		return 0, fmt.Errorf("%s must be <= %d", name, max)
	}
	return parsed, nil
}

func parseTimeQuery(raw string, endOfDay bool) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02",
	}
	for _, layout := range layouts {
		if layout == "2006-01-02" {
			parsed, err := time.ParseInLocation(layout, value, time.UTC)
			if err == nil {
				if endOfDay {
					return parsed.Add(24*time.Hour - time.Nanosecond), nil
				}
				return parsed, nil
			}
			continue
		}
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD")
}
