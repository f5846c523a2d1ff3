package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spanlight/spanlight/internal/rollup"
	"github.com/spanlight/spanlight/internal/store"
)

type HealthOptions struct {
	Version       string
	StartedAt     time.Time
	StorageDriver string
	StoragePath   string
	Store         store.Store
	Compactor     rollup.CompactorDiagnosticsReader
}

type healthResponse struct {
	Status        string                       `json:"status"`
	Version       string                       `json:"version"`
	UptimeSec     int64                        `json:"uptime_sec"`
	StorageDriver string                       `json:"storage_driver"`
	StorageOK     bool                         `json:"storage_ok"`
	DBSizeBytes   int64                        `json:"db_size_bytes,omitempty"`
	Compactor     *rollup.CompactorDiagnostics `json:"compactor,omitempty"`
}

func HealthHandler(options HealthOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		uptime := time.Since(options.StartedAt)

		status := "ok"
		storageOK := false
		if options.Store != nil {
			if err := options.Store.Ping(r.Context()); err == nil {
				storageOK = true
			} else {
				status = "degraded"
			}
		}

		dbSizeBytes := int64(0)
		if strings.EqualFold(options.StorageDriver, "sqlite") && options.StoragePath != "" {
			if info, err := os.Stat(options.StoragePath); err == nil {
				dbSizeBytes = info.Size()
			}
		}

		var compactor *rollup.CompactorDiagnostics
		if options.Compactor != nil {
			snapshot := options.Compactor.CompactorDiagnostics()
			compactor = &snapshot
		}

		writeJSON(w, http.StatusOK, healthResponse{
			Status:        status,
			Version:       options.Version,
			UptimeSec:     int64(uptime.Seconds()),
			StorageDriver: options.StorageDriver,
			StorageOK:     storageOK,
			DBSizeBytes:   dbSizeBytes,
			Compactor:     compactor,
		})
	})
}
