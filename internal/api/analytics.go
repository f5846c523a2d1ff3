package api

import (
	"fmt"
	"net/http"

	"github.com/spanlight/spanlight/internal/reconcile"
	"github.com/spanlight/spanlight/internal/store"
	"github.com/spanlight/spanlight/internal/tenant"
)

type usageResponse struct {
	SpanCount    int64   `json:"span_count"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
}

type modelsResponse struct {
	Items []modelUsageItem `json:"items"`
}

type modelUsageItem struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	SpanCount    int64   `json:"span_count"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// UsageHandler sums span token and cost usage for the authenticated tenant.
func UsageHandler(st store.Store) http.Handler {
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

		filter, err := parseAnalyticsFilter(r, identity.TenantID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		summary, err := st.UsageSummary(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to query usage")
			return
		}

		writeJSON(w, http.StatusOK, usageResponse{
			SpanCount:    summary.SpanCount,
			InputTokens:  summary.InputTokens,
			OutputTokens: summary.OutputTokens,
			TotalTokens:  summary.InputTokens + summary.OutputTokens,
			InputCost:    reconcile.CostUnits(summary.InputCostMicros),
			OutputCost:   reconcile.CostUnits(summary.OutputCostMicros),
			TotalCost:    reconcile.CostUnits(summary.InputCostMicros + summary.OutputCostMicros),
		})
	})
}

// ModelsHandler groups span usage by provider and model.
func ModelsHandler(st store.Store) http.Handler {
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

		filter, err := parseAnalyticsFilter(r, identity.TenantID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		breakdown, err := st.ModelBreakdown(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to query model usage")
			return
		}

		items := make([]modelUsageItem, 0, len(breakdown))
		for _, usage := range breakdown {
			items = append(items, modelUsageItem{
				Provider:     usage.Provider,
				Model:        usage.Model,
				SpanCount:    usage.SpanCount,
				InputTokens:  usage.InputTokens,
				OutputTokens: usage.OutputTokens,
				TotalTokens:  usage.InputTokens + usage.OutputTokens,
				TotalCost:    reconcile.CostUnits(usage.InputCostMicros + usage.OutputCostMicros),
			})
		}

		writeJSON(w, http.StatusOK, modelsResponse{Items: items})
	})
}

func parseAnalyticsFilter(r *http.Request, tenantID string) (store.AnalyticsFilter, error) {
	query := r.URL.Query()
	from, err := parseTimeQuery(query.Get("from"), false)
	if err != nil {
		return store.AnalyticsFilter{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := parseTimeQuery(query.Get("to"), true)
	if err != nil {
		return store.AnalyticsFilter{}, fmt.Errorf("invalid to: %w", err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return store.AnalyticsFilter{}, fmt.Errorf("to must be greater than or equal to from")
	}

	return store.AnalyticsFilter{
		TenantID: tenantID,
		From:     from,
		To:       to,
	}, nil
}
