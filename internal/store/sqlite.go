package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spanlight/spanlight/migrations"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows only one writer at a time; serialize writes to avoid
	// SQLITE_BUSY contention when concurrent ingest requests land together.
	writeMu sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	store := &SQLiteStore{
		Path: path,
		db:   db,
	}

	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) WriteTraceVersion(ctx context.Context, write *TraceWrite) error {
	if write == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tags, err := encodeTags(write.Tags)
	if err != nil {
		return fmt.Errorf("encode tags for trace %q: %w", write.TraceID, err)
	}

	err = retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO trace_writes (
    tenant_id,
    trace_id,
    version,
    name,
    start_time,
    end_time,
    status,
    status_message,
    input,
    output,
    user_id,
    session_id,
    environment,
    tags,
    received_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			write.TenantID,
			write.TraceID,
			write.Version,
			nullString(write.Name),
			nullTime(write.StartTime),
			nullTime(write.EndTime),
			nullString(write.Status),
			nullString(write.StatusMessage),
			nullString(write.Input),
			nullString(write.Output),
			nullString(write.UserID),
			nullString(write.SessionID),
			nullString(write.Environment),
			tags,
			receivedAtOrNow(write.ReceivedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("write trace version %q v%d: %w", write.TraceID, write.Version, err)
	}

	return nil
}

func (s *SQLiteStore) WriteSpans(ctx context.Context, spans []*Span) error {
	if len(spans) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin sqlite span transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		spanStmt, err := tx.PrepareContext(ctx, `
INSERT INTO spans (
    tenant_id,
    trace_id,
    span_id,
    parent_span_id,
    name,
    span_type,
    start_time,
    end_time,
    status,
    status_message,
    input,
    output,
    provider,
    model,
    input_tokens,
    output_tokens,
    input_cost_micros,
    output_cost_micros,
    metadata,
    received_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare sqlite span insert: %w", err)
		}
		defer spanStmt.Close()

		deltaStmt, err := tx.PrepareContext(ctx, `
INSERT INTO rollup_deltas (
    tenant_id,
    trace_id,
    input_tokens,
    output_tokens,
    input_cost_micros,
    output_cost_micros,
    span_count,
    max_end_time
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare sqlite rollup delta insert: %w", err)
		}
		defer deltaStmt.Close()

		for _, span := range spans {
			if span == nil {
				continue
			}
			metadata, err := encodeTags(span.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata for span %q: %w", span.SpanID, err)
			}
			if metadata == nil {
				// spans.metadata is NOT NULL DEFAULT ''; an explicit NULL
				// bypasses the default and fails the constraint.
				metadata = ""
			}
			if _, err := spanStmt.ExecContext(
				ctx,
				span.TenantID,
				span.TraceID,
				span.SpanID,
				span.ParentSpanID,
				span.Name,
				span.Type,
				span.StartTime.UTC(),
				span.EndTime.UTC(),
				span.Status,
				span.StatusMessage,
				span.Input,
				span.Output,
				span.Provider,
				span.Model,
				span.InputTokens,
				span.OutputTokens,
				span.InputCostMicros,
				span.OutputCostMicros,
				metadata,
				receivedAtOrNow(span.ReceivedAt),
			); err != nil {
				return fmt.Errorf("write span %q in batch: %w", span.SpanID, err)
			}

			delta := DeltaForSpan(span)
			if _, err := deltaStmt.ExecContext(
				ctx,
				delta.TenantID,
				delta.TraceID,
				delta.InputTokens,
				delta.OutputTokens,
				delta.InputCostMicros,
				delta.OutputCostMicros,
				delta.SpanCount,
				nullTime(delta.MaxEndTime),
			); err != nil {
				return fmt.Errorf("write rollup delta for span %q: %w", span.SpanID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit sqlite span transaction: %w", err)
		}
		return nil
	})
}

const traceWriteSelectColumns = `
tenant_id,
trace_id,
version,
name,
CAST(start_time AS TEXT),
CAST(end_time AS TEXT),
status,
status_message,
input,
output,
user_id,
session_id,
environment,
tags,
CAST(received_at AS TEXT)
`

func (s *SQLiteStore) TraceWrites(ctx context.Context, tenantID, traceID string) ([]*TraceWrite, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT "+traceWriteSelectColumns+" FROM trace_writes WHERE tenant_id = ? AND trace_id = ? ORDER BY version ASC, received_at ASC",
		tenantID,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query trace writes for %q: %w", traceID, err)
	}
	defer rows.Close()

	writes, err := collectTraceWrites(rows)
	if err != nil {
		return nil, err
	}
	return writes, nil
}

func (s *SQLiteStore) ListTraceWrites(ctx context.Context, filter TraceListFilter) (*TraceWritePage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	havingSQL, args, err := buildTraceListHaving(filter, sqlitePlaceholders)
	if err != nil {
		return nil, err
	}
	args = append([]any{filter.TenantID}, args...)
	args = append(args, limit+1)

	query := `
SELECT trace_id, MAX(version) AS latest
FROM trace_writes
WHERE tenant_id = ?
GROUP BY trace_id
` + havingSQL + `
ORDER BY latest DESC, trace_id DESC
LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	type pageEntry struct {
		traceID string
		latest  int64
	}
	entries := make([]pageEntry, 0, limit+1)
	for rows.Next() {
		var entry pageEntry
		if err := rows.Scan(&entry.traceID, &entry.latest); err != nil {
			return nil, fmt.Errorf("scan trace list row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace list rows: %w", err)
	}

	nextCursor := ""
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[len(entries)-1]
		nextCursor = encodeTraceCursor(last.latest, last.traceID)
	}

	page := &TraceWritePage{
		Order:      make([]string, 0, len(entries)),
		Writes:     make(map[string][]*TraceWrite, len(entries)),
		NextCursor: nextCursor,
	}
	if len(entries) == 0 {
		return page, nil
	}

	ids := make([]any, 0, len(entries)+1)
	ids = append(ids, filter.TenantID)
	placeholders := make([]string, 0, len(entries))
	for _, entry := range entries {
		page.Order = append(page.Order, entry.traceID)
		ids = append(ids, entry.traceID)
		placeholders = append(placeholders, "?")
	}

	writeRows, err := s.db.QueryContext(
		ctx,
		"SELECT "+traceWriteSelectColumns+" FROM trace_writes WHERE tenant_id = ? AND trace_id IN ("+strings.Join(placeholders, ", ")+") ORDER BY trace_id, version ASC, received_at ASC",
		ids...,
	)
	if err != nil {
		return nil, fmt.Errorf("load trace writes for page: %w", err)
	}
	defer writeRows.Close()

	writes, err := collectTraceWrites(writeRows)
	if err != nil {
		return nil, err
	}
	for _, write := range writes {
		page.Writes[write.TraceID] = append(page.Writes[write.TraceID], write)
	}

	return page, nil
}

const spanSelectColumns = `
tenant_id,
trace_id,
span_id,
parent_span_id,
name,
span_type,
CAST(start_time AS TEXT),
CAST(end_time AS TEXT),
status,
status_message,
input,
output,
provider,
model,
input_tokens,
output_tokens,
input_cost_micros,
output_cost_micros,
metadata,
CAST(received_at AS TEXT)
`

func (s *SQLiteStore) Spans(ctx context.Context, tenantID, traceID string) ([]*Span, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT "+spanSelectColumns+" FROM spans WHERE tenant_id = ? AND trace_id = ? ORDER BY start_time ASC, span_id ASC",
		tenantID,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query spans for trace %q: %w", traceID, err)
	}
	defer rows.Close()

	spans := make([]*Span, 0)
	for rows.Next() {
		span, err := scanSpanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan span row: %w", err)
		}
		spans = append(spans, span)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate span rows: %w", err)
	}

	return spans, nil
}

func (s *SQLiteStore) Rollup(ctx context.Context, tenantID, traceID string) (*Rollup, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(input_cost_micros), 0),
	COALESCE(SUM(output_cost_micros), 0),
	COALESCE(SUM(span_count), 0),
	CAST(MAX(max_end_time) AS TEXT)
FROM rollup_deltas
WHERE tenant_id = ? AND trace_id = ?`, tenantID, traceID)

	rollup, err := scanRollupRow(row)
	if err != nil {
		return nil, fmt.Errorf("fold rollup for trace %q: %w", traceID, err)
	}
	return rollup, nil
}

func (s *SQLiteStore) Rollups(ctx context.Context, tenantID string, traceIDs []string) (map[string]*Rollup, error) {
	result := make(map[string]*Rollup, len(traceIDs))
	if len(traceIDs) == 0 {
		return result, nil
	}

	args := make([]any, 0, len(traceIDs)+1)
	args = append(args, tenantID)
	placeholders := make([]string, 0, len(traceIDs))
	for _, id := range traceIDs {
		args = append(args, id)
		placeholders = append(placeholders, "?")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT
	trace_id,
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(input_cost_micros), 0),
	COALESCE(SUM(output_cost_micros), 0),
	COALESCE(SUM(span_count), 0),
	CAST(MAX(max_end_time) AS TEXT)
FROM rollup_deltas
WHERE tenant_id = ? AND trace_id IN (`+strings.Join(placeholders, ", ")+`)
GROUP BY trace_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("fold rollups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			traceID    string
			rollup     Rollup
			maxEndText sql.NullString
		)
		if err := rows.Scan(
			&traceID,
			&rollup.InputTokens,
			&rollup.OutputTokens,
			&rollup.InputCostMicros,
			&rollup.OutputCostMicros,
			&rollup.SpanCount,
			&maxEndText,
		); err != nil {
			return nil, fmt.Errorf("scan rollup row: %w", err)
		}
		if maxEndText.Valid && strings.TrimSpace(maxEndText.String) != "" {
			parsed, err := parseSQLiteTimestamp(maxEndText.String)
			if err != nil {
				return nil, fmt.Errorf("parse rollup end time %q: %w", maxEndText.String, err)
			}
			rollup.MaxEndTime = &parsed
		}
		result[traceID] = &rollup
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollup rows: %w", err)
	}

	return result, nil
}

func (s *SQLiteStore) CompactRollups(ctx context.Context, maxKeys int) (CompactStats, error) {
	if maxKeys <= 0 {
		maxKeys = 100
	}

	type deltaKey struct {
		tenantID string
		traceID  string
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT tenant_id, trace_id
FROM rollup_deltas
GROUP BY tenant_id, trace_id
HAVING COUNT(*) > 1
LIMIT ?`, maxKeys)
	if err != nil {
		return CompactStats{}, fmt.Errorf("find compactable rollup keys: %w", err)
	}
	keys := make([]deltaKey, 0, maxKeys)
	for rows.Next() {
		var key deltaKey
		if err := rows.Scan(&key.tenantID, &key.traceID); err != nil {
			rows.Close()
			return CompactStats{}, fmt.Errorf("scan rollup key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return CompactStats{}, fmt.Errorf("iterate rollup keys: %w", err)
	}
	rows.Close()

	var stats CompactStats
	for _, key := range keys {
		merged, err := s.compactRollupKey(ctx, key.tenantID, key.traceID)
		if err != nil {
			return stats, err
		}
		if merged > 1 {
			stats.KeysCompacted++
			stats.RowsMerged += merged
		}
	}

	return stats, nil
}

// compactRollupKey replaces every delta row for one key with their fold.
// Row ids are captured inside the transaction so deltas inserted concurrently
// are left untouched and picked up by a later pass.
func (s *SQLiteStore) compactRollupKey(ctx context.Context, tenantID, traceID string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	merged := 0
	err := retrySQLiteBusy(ctx, func() error {
		merged = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rollup compaction transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		rows, err := tx.QueryContext(ctx, `
SELECT rowid, input_tokens, output_tokens, input_cost_micros, output_cost_micros, span_count, CAST(max_end_time AS TEXT)
FROM rollup_deltas
WHERE tenant_id = ? AND trace_id = ?`, tenantID, traceID)
		if err != nil {
			return fmt.Errorf("read rollup deltas for compaction: %w", err)
		}

		var fold Rollup
		rowIDs := make([]any, 0, 16)
		for rows.Next() {
			var (
				rowID      int64
				delta      RollupDelta
				maxEndText sql.NullString
			)
			if err := rows.Scan(
				&rowID,
				&delta.InputTokens,
				&delta.OutputTokens,
				&delta.InputCostMicros,
				&delta.OutputCostMicros,
				&delta.SpanCount,
				&maxEndText,
			); err != nil {
				rows.Close()
				return fmt.Errorf("scan rollup delta: %w", err)
			}
			if maxEndText.Valid && strings.TrimSpace(maxEndText.String) != "" {
				parsed, err := parseSQLiteTimestamp(maxEndText.String)
				if err != nil {
					rows.Close()
					return fmt.Errorf("parse delta end time %q: %w", maxEndText.String, err)
				}
				delta.MaxEndTime = &parsed
			}

			fold.InputTokens += delta.InputTokens
			fold.OutputTokens += delta.OutputTokens
			fold.InputCostMicros += delta.InputCostMicros
			fold.OutputCostMicros += delta.OutputCostMicros
			fold.SpanCount += delta.SpanCount
			if delta.MaxEndTime != nil && (fold.MaxEndTime == nil || delta.MaxEndTime.After(*fold.MaxEndTime)) {
				fold.MaxEndTime = delta.MaxEndTime
			}
			rowIDs = append(rowIDs, rowID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate rollup deltas: %w", err)
		}
		rows.Close()

		if len(rowIDs) <= 1 {
			return nil
		}

		placeholders := make([]string, len(rowIDs))
		for i := range placeholders {
			placeholders[i] = "?"
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM rollup_deltas WHERE rowid IN ("+strings.Join(placeholders, ", ")+")", rowIDs...); err != nil {
			return fmt.Errorf("delete folded rollup deltas: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO rollup_deltas (
    tenant_id, trace_id, input_tokens, output_tokens, input_cost_micros, output_cost_micros, span_count, max_end_time
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tenantID,
			traceID,
			fold.InputTokens,
			fold.OutputTokens,
			fold.InputCostMicros,
			fold.OutputCostMicros,
			fold.SpanCount,
			nullTime(fold.MaxEndTime),
		); err != nil {
			return fmt.Errorf("insert folded rollup delta: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit rollup compaction: %w", err)
		}
		merged = len(rowIDs)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("compact rollup %s/%s: %w", tenantID, traceID, err)
	}
	return merged, nil
}

func (s *SQLiteStore) UsageSummary(ctx context.Context, filter AnalyticsFilter) (*UsageSummary, error) {
	whereSQL, args := buildSpanAnalyticsWhere(filter, sqlitePlaceholders)
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(input_cost_micros), 0),
	COALESCE(SUM(output_cost_micros), 0)
FROM spans
WHERE `+whereSQL, args...)

	var summary UsageSummary
	if err := row.Scan(
		&summary.SpanCount,
		&summary.InputTokens,
		&summary.OutputTokens,
		&summary.InputCostMicros,
		&summary.OutputCostMicros,
	); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}

	return &summary, nil
}

func (s *SQLiteStore) ModelBreakdown(ctx context.Context, filter AnalyticsFilter) ([]ModelUsage, error) {
	whereSQL, args := buildSpanAnalyticsWhere(filter, sqlitePlaceholders)
	rows, err := s.db.QueryContext(ctx, `
SELECT
	provider,
	model,
	COUNT(*) AS span_count,
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(input_cost_micros), 0),
	COALESCE(SUM(output_cost_micros), 0)
FROM spans
WHERE `+whereSQL+`
GROUP BY provider, model
ORDER BY span_count DESC, provider ASC, model ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query model breakdown: %w", err)
	}
	defer rows.Close()

	usage := make([]ModelUsage, 0)
	for rows.Next() {
		var item ModelUsage
		if err := rows.Scan(
			&item.Provider,
			&item.Model,
			&item.SpanCount,
			&item.InputTokens,
			&item.OutputTokens,
			&item.InputCostMicros,
			&item.OutputCostMicros,
		); err != nil {
			return nil, fmt.Errorf("scan model breakdown row: %w", err)
		}
		usage = append(usage, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model breakdown rows: %w", err)
	}

	return usage, nil
}

func (s *SQLiteStore) PurgeTenant(ctx context.Context, tenantID string) (PurgeResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var result PurgeResult
	err := retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin purge transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		result = PurgeResult{}
		tables := []struct {
			name  string
			count *int64
		}{
			{"trace_writes", &result.TraceWrites},
			{"spans", &result.Spans},
			{"rollup_deltas", &result.RollupDeltas},
		}
		for _, table := range tables {
			res, err := tx.ExecContext(ctx, "DELETE FROM "+table.name+" WHERE tenant_id = ?", tenantID)
			if err != nil {
				return fmt.Errorf("purge %s: %w", table.name, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("count purged %s rows: %w", table.name, err)
			}
			*table.count = affected
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit purge transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge tenant %q: %w", tenantID, err)
	}
	return result, nil
}

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries transient lock contention so ingest writes are not
// dropped when concurrent requests collide on the single sqlite writer.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		err   error
		timer *time.Timer
	)
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	defer stopTimer()

	for retries := 0; ; retries++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			stopTimer()
			timer.Reset(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectTraceWrites(rows *sql.Rows) ([]*TraceWrite, error) {
	writes := make([]*TraceWrite, 0)
	for rows.Next() {
		write, err := scanTraceWriteRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace write row: %w", err)
		}
		writes = append(writes, write)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace write rows: %w", err)
	}
	return writes, nil
}

func scanTraceWriteRow(scanner rowScanner) (*TraceWrite, error) {
	var (
		write          TraceWrite
		name           sql.NullString
		startTimeText  sql.NullString
		endTimeText    sql.NullString
		status         sql.NullString
		statusMessage  sql.NullString
		input          sql.NullString
		output         sql.NullString
		userID         sql.NullString
		sessionID      sql.NullString
		environment    sql.NullString
		tags           sql.NullString
		receivedAtText sql.NullString
	)

	if err := scanner.Scan(
		&write.TenantID,
		&write.TraceID,
		&write.Version,
		&name,
		&startTimeText,
		&endTimeText,
		&status,
		&statusMessage,
		&input,
		&output,
		&userID,
		&sessionID,
		&environment,
		&tags,
		&receivedAtText,
	); err != nil {
		return nil, err
	}

	write.Name = stringPtr(name)
	write.Status = stringPtr(status)
	write.StatusMessage = stringPtr(statusMessage)
	write.Input = stringPtr(input)
	write.Output = stringPtr(output)
	write.UserID = stringPtr(userID)
	write.SessionID = stringPtr(sessionID)
	write.Environment = stringPtr(environment)

	var err error
	if write.StartTime, err = timePtrFromText(startTimeText); err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	if write.EndTime, err = timePtrFromText(endTimeText); err != nil {
		return nil, fmt.Errorf("parse end_time: %w", err)
	}
	if tags.Valid {
		decoded, err := decodeTags(tags.String)
		if err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		write.Tags = decoded
	}
	if receivedAtText.Valid {
		parsed, err := parseSQLiteTimestamp(receivedAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse received_at: %w", err)
		}
		write.ReceivedAt = parsed
	}

	return &write, nil
}

func scanSpanRow(scanner rowScanner) (*Span, error) {
	var (
		span           Span
		startTimeText  string
		endTimeText    string
		metadata       sql.NullString
		receivedAtText sql.NullString
	)

	if err := scanner.Scan(
		&span.TenantID,
		&span.TraceID,
		&span.SpanID,
		&span.ParentSpanID,
		&span.Name,
		&span.Type,
		&startTimeText,
		&endTimeText,
		&span.Status,
		&span.StatusMessage,
		&span.Input,
		&span.Output,
		&span.Provider,
		&span.Model,
		&span.InputTokens,
		&span.OutputTokens,
		&span.InputCostMicros,
		&span.OutputCostMicros,
		&metadata,
		&receivedAtText,
	); err != nil {
		return nil, err
	}

	var err error
	if span.StartTime, err = parseSQLiteTimestamp(startTimeText); err != nil {
		return nil, fmt.Errorf("parse span start_time: %w", err)
	}
	if span.EndTime, err = parseSQLiteTimestamp(endTimeText); err != nil {
		return nil, fmt.Errorf("parse span end_time: %w", err)
	}
	if metadata.Valid && strings.TrimSpace(metadata.String) != "" {
		decoded, err := decodeTags(metadata.String)
		if err != nil {
			return nil, fmt.Errorf("decode span metadata: %w", err)
		}
		span.Metadata = decoded
	}
	if receivedAtText.Valid {
		parsed, err := parseSQLiteTimestamp(receivedAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse span received_at: %w", err)
		}
		span.ReceivedAt = parsed
	}

	return &span, nil
}

func scanRollupRow(scanner rowScanner) (*Rollup, error) {
	var (
		rollup     Rollup
		maxEndText sql.NullString
	)
	if err := scanner.Scan(
		&rollup.InputTokens,
		&rollup.OutputTokens,
		&rollup.InputCostMicros,
		&rollup.OutputCostMicros,
		&rollup.SpanCount,
		&maxEndText,
	); err != nil {
		return nil, err
	}
	if maxEndText.Valid && strings.TrimSpace(maxEndText.String) != "" {
		parsed, err := parseSQLiteTimestamp(maxEndText.String)
		if err != nil {
			return nil, fmt.Errorf("parse rollup end time %q: %w", maxEndText.String, err)
		}
		rollup.MaxEndTime = &parsed
	}
	return &rollup, nil
}

// buildTraceListHaving builds the HAVING clause for the logical-trace page
// query. Aggregates are used so the filters see the merged view: start time
// comes from the open write, identity fields from whichever write carried them.
func buildTraceListHaving(filter TraceListFilter, nextPlaceholder func(n int) string) (string, []any, error) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 6)
	ph := func() string { return nextPlaceholder(len(args) + 2) } // tenant_id occupies the first slot

	if filter.UserID != "" {
		conditions = append(conditions, "MAX(user_id) = "+ph())
		args = append(args, filter.UserID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "MAX(session_id) = "+ph())
		args = append(args, filter.SessionID)
	}
	if filter.Environment != "" {
		conditions = append(conditions, "MAX(environment) = "+ph())
		args = append(args, filter.Environment)
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "MIN(start_time) >= "+ph())
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "MIN(start_time) <= "+ph())
		args = append(args, filter.To.UTC())
	}
	if filter.Cursor != "" {
		version, traceID, err := decodeTraceCursor(filter.Cursor)
		if err != nil {
			return "", nil, err
		}
		first := ph()
		args = append(args, version)
		second := ph()
		args = append(args, version)
		third := ph()
		args = append(args, traceID)
		conditions = append(conditions, "(MAX(version) < "+first+" OR (MAX(version) = "+second+" AND trace_id < "+third+"))")
	}

	if len(conditions) == 0 {
		return "", args, nil
	}
	return "HAVING " + strings.Join(conditions, " AND "), args, nil
}

func buildSpanAnalyticsWhere(filter AnalyticsFilter, nextPlaceholder func(n int) string) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)

	conditions = append(conditions, "tenant_id = "+nextPlaceholder(1))
	args = append(args, filter.TenantID)
	if !filter.From.IsZero() {
		conditions = append(conditions, "start_time >= "+nextPlaceholder(len(args)+1))
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "start_time <= "+nextPlaceholder(len(args)+1))
		args = append(args, filter.To.UTC())
	}

	return strings.Join(conditions, " AND "), args
}

func sqlitePlaceholders(int) string { return "?" }

// encodeTraceCursor packs the last page entry into an opaque keyset cursor.
func encodeTraceCursor(version int64, traceID string) string {
	if traceID == "" {
		return ""
	}
	raw := strconv.FormatInt(version, 10) + "|" + traceID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeTraceCursor(cursor string) (int64, string, error) {
	payload, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", fmt.Errorf("%w: decode base64 cursor", ErrInvalidCursor)
	}
	parts := strings.SplitN(string(payload), "|", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return 0, "", fmt.Errorf("%w: missing trace id", ErrInvalidCursor)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: parse version", ErrInvalidCursor)
	}
	return version, strings.TrimSpace(parts[1]), nil
}

func parseSQLiteTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	withTZLayouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05 -0700 MST",
	}
	for _, layout := range withTZLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}

	withoutTZLayouts := []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range withoutTZLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported sqlite datetime format")
}

func nullString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func timePtrFromText(value sql.NullString) (*time.Time, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil, nil
	}
	parsed, err := parseSQLiteTimestamp(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func receivedAtOrNow(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}

func encodeTags(tags map[string]string) (any, error) {
	if tags == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func decodeTags(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]string{}, nil
	}
	decoded := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}
