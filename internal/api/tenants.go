package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/spanlight/spanlight/internal/store"
	"github.com/spanlight/spanlight/internal/tenant"
)

type tenantPurgeResponse struct {
	TenantID     string `json:"tenant_id"`
	TraceWrites  int64  `json:"trace_writes_deleted"`
	Spans        int64  `json:"spans_deleted"`
	RollupDeltas int64  `json:"rollup_deltas_deleted"`
}

// TenantPurgeHandler serves DELETE /api/tenants/{id}. An API key may only
// purge its own tenant; individual trace or span deletion does not exist.
func TenantPurgeHandler(st store.Store, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodDelete) {
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

		tenantID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tenants/"), "/")
		if tenantID == "" || strings.Contains(tenantID, "/") {
			http.NotFound(w, r)
			return
		}
		if tenantID != identity.TenantID {
			writeError(w, http.StatusForbidden, "key is not authorized for this tenant")
			return
		}

		result, err := st.PurgeTenant(r.Context(), tenantID)
		if err != nil {
			log.Error("tenant purge failed",
				slog.String("tenant_id", tenantID),
				slog.String("error_class", store.ClassifyWriteError(err)),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to purge tenant")
			return
		}

		log.Info("tenant purged",
			slog.String("tenant_id", tenantID),
			slog.Int64("trace_writes", result.TraceWrites),
			slog.Int64("spans", result.Spans),
			slog.Int64("rollup_deltas", result.RollupDeltas),
		)

		writeJSON(w, http.StatusOK, tenantPurgeResponse{
			TenantID:     tenantID,
			TraceWrites:  result.TraceWrites,
			Spans:        result.Spans,
			RollupDeltas: result.RollupDeltas,
		})
	})
}
