package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/spanlight/spanlight/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStore struct {
	DSN string
	db  *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	store := &PostgresStore{
		DSN: dsn,
		db:  db,
	}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) configure() error {
	if s.db == nil {
		return fmt.Errorf("postgres database is not initialized")
	}

	s.db.SetMaxOpenConns(20)
	s.db.SetMaxIdleConns(10)
	s.db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) WriteTraceVersion(ctx context.Context, write *TraceWrite) error {
	if write == nil {
		return nil
	}

	tags, err := encodeTags(write.Tags)
	if err != nil {
		return fmt.Errorf("encode tags for trace %q: %w", write.TraceID, err)
	}

	_, err = s.db.ExecContext(ctx, `
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
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
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
	if err != nil {
		return fmt.Errorf("write trace version %q v%d: %w", write.TraceID, write.Version, err)
	}

	return nil
}

func (s *PostgresStore) WriteSpans(ctx context.Context, spans []*Span) error {
	if len(spans) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin postgres span transaction: %w", err)
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
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`)
	if err != nil {
		return fmt.Errorf("prepare postgres span insert: %w", err)
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
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("prepare postgres rollup delta insert: %w", err)
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
		return fmt.Errorf("commit postgres span transaction: %w", err)
	}
	return nil
}

const postgresTraceWriteSelectColumns = `
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
`

func (s *PostgresStore) TraceWrites(ctx context.Context, tenantID, traceID string) ([]*TraceWrite, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT "+postgresTraceWriteSelectColumns+" FROM trace_writes WHERE tenant_id = $1 AND trace_id = $2 ORDER BY version ASC, received_at ASC",
		tenantID,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query trace writes for %q: %w", traceID, err)
	}
	defer rows.Close()

	writes := make([]*TraceWrite, 0)
	for rows.Next() {
		write, err := scanPostgresTraceWriteRow(rows)
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

func (s *PostgresStore) ListTraceWrites(ctx context.Context, filter TraceListFilter) (*TraceWritePage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	havingSQL, args, err := buildTraceListHaving(filter, postgresPlaceholder)
	if err != nil {
		return nil, err
	}
	args = append([]any{filter.TenantID}, args...)
	limitPlaceholder := fmt.Sprintf("$%d", len(args)+1)
	args = append(args, limit+1)

	query := `
SELECT trace_id, MAX(version) AS latest
FROM trace_writes
WHERE tenant_id = $1
GROUP BY trace_id
` + havingSQL + `
ORDER BY latest DESC, trace_id DESC
LIMIT ` + limitPlaceholder

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
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(ids)))
	}

	writeRows, err := s.db.QueryContext(
		ctx,
		"SELECT "+postgresTraceWriteSelectColumns+" FROM trace_writes WHERE tenant_id = $1 AND trace_id IN ("+strings.Join(placeholders, ", ")+") ORDER BY trace_id, version ASC, received_at ASC",
		ids...,
	)
	if err != nil {
		return nil, fmt.Errorf("load trace writes for page: %w", err)
	}
	defer writeRows.Close()

	for writeRows.Next() {
		write, err := scanPostgresTraceWriteRow(writeRows)
		if err != nil {
			return nil, fmt.Errorf("scan trace write row: %w", err)
		}
		page.Writes[write.TraceID] = append(page.Writes[write.TraceID], write)
	}
	if err := writeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace write rows: %w", err)
	}

	return page, nil
}

const postgresSpanSelectColumns = `
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
`

func (s *PostgresStore) Spans(ctx context.Context, tenantID, traceID string) ([]*Span, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT "+postgresSpanSelectColumns+" FROM spans WHERE tenant_id = $1 AND trace_id = $2 ORDER BY start_time ASC, span_id ASC",
		tenantID,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query spans for trace %q: %w", traceID, err)
	}
	defer rows.Close()

	spans := make([]*Span, 0)
	for rows.Next() {
		span, err := scanPostgresSpanRow(rows)
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

func (s *PostgresStore) Rollup(ctx context.Context, tenantID, traceID string) (*Rollup, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(input_cost_micros), 0),
	COALESCE(SUM(output_cost_micros), 0),
	COALESCE(SUM(span_count), 0),
	MAX(max_end_time)
FROM rollup_deltas
WHERE tenant_id = $1 AND trace_id = $2`, tenantID, traceID)

	var (
		rollup Rollup
		maxEnd sql.NullTime
	)
	if err := row.Scan(
		&rollup.InputTokens,
		&rollup.OutputTokens,
		&rollup.InputCostMicros,
		&rollup.OutputCostMicros,
		&rollup.SpanCount,
		&maxEnd,
	); err != nil {
		return nil, fmt.Errorf("fold rollup for trace %q: %w", traceID, err)
	}
	if maxEnd.Valid {
		end := maxEnd.Time.UTC()
		rollup.MaxEndTime = &end
	}
	return &rollup, nil
}

func (s *PostgresStore) Rollups(ctx context.Context, tenantID string, traceIDs []string) (map[string]*Rollup, error) {
	result := make(map[string]*Rollup, len(traceIDs))
	if len(traceIDs) == 0 {
		return result, nil
	}

	args := make([]any, 0, len(traceIDs)+1)
	args = append(args, tenantID)
	placeholders := make([]string, 0, len(traceIDs))
	for _, id := range traceIDs {
		args = append(args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT
	trace_id,
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(input_cost_micros), 0),
	COALESCE(SUM(output_cost_micros), 0),
	COALESCE(SUM(span_count), 0),
	MAX(max_end_time)
FROM rollup_deltas
WHERE tenant_id = $1 AND trace_id IN (`+strings.Join(placeholders, ", ")+`)
GROUP BY trace_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("fold rollups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			traceID string
			rollup  Rollup
			maxEnd  sql.NullTime
		)
		if err := rows.Scan(
			&traceID,
			&rollup.InputTokens,
			&rollup.OutputTokens,
			&rollup.InputCostMicros,
			&rollup.OutputCostMicros,
			&rollup.SpanCount,
			&maxEnd,
		); err != nil {
			return nil, fmt.Errorf("scan rollup row: %w", err)
		}
		if maxEnd.Valid {
			end := maxEnd.Time.UTC()
			rollup.MaxEndTime = &end
		}
		result[traceID] = &rollup
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollup rows: %w", err)
	}

	return result, nil
}

func (s *PostgresStore) CompactRollups(ctx context.Context, maxKeys int) (CompactStats, error) {
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
LIMIT $1`, maxKeys)
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

func (s *PostgresStore) compactRollupKey(ctx context.Context, tenantID, traceID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rollup compaction transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// FOR UPDATE pins the delta rows so a concurrent compactor pass cannot
	// fold the same rows twice. Freshly inserted deltas are not selected and
	// survive for the next pass.
	rows, err := tx.QueryContext(ctx, `
SELECT id, input_tokens, output_tokens, input_cost_micros, output_cost_micros, span_count, max_end_time
FROM rollup_deltas
WHERE tenant_id = $1 AND trace_id = $2
FOR UPDATE`, tenantID, traceID)
	if err != nil {
		return 0, fmt.Errorf("read rollup deltas for compaction: %w", err)
	}

	var fold Rollup
	rowIDs := make([]any, 0, 16)
	for rows.Next() {
		var (
			rowID  int64
			delta  RollupDelta
			maxEnd sql.NullTime
		)
		if err := rows.Scan(
			&rowID,
			&delta.InputTokens,
			&delta.OutputTokens,
			&delta.InputCostMicros,
			&delta.OutputCostMicros,
			&delta.SpanCount,
			&maxEnd,
		); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan rollup delta: %w", err)
		}
		if maxEnd.Valid {
			end := maxEnd.Time.UTC()
			delta.MaxEndTime = &end
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
		return 0, fmt.Errorf("iterate rollup deltas: %w", err)
	}
	rows.Close()

	if len(rowIDs) <= 1 {
		return 0, nil
	}

	placeholders := make([]string, len(rowIDs))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM rollup_deltas WHERE id IN ("+strings.Join(placeholders, ", ")+")", rowIDs...); err != nil {
		return 0, fmt.Errorf("delete folded rollup deltas: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO rollup_deltas (
    tenant_id, trace_id, input_tokens, output_tokens, input_cost_micros, output_cost_micros, span_count, max_end_time
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tenantID,
		traceID,
		fold.InputTokens,
		fold.OutputTokens,
		fold.InputCostMicros,
		fold.OutputCostMicros,
		fold.SpanCount,
		nullTime(fold.MaxEndTime),
	); err != nil {
		return 0, fmt.Errorf("insert folded rollup delta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rollup compaction: %w", err)
	}
	return len(rowIDs), nil
}

func (s *PostgresStore) UsageSummary(ctx context.Context, filter AnalyticsFilter) (*UsageSummary, error) {
	whereSQL, args := buildSpanAnalyticsWhere(filter, postgresPlaceholder)
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

func (s *PostgresStore) ModelBreakdown(ctx context.Context, filter AnalyticsFilter) ([]ModelUsage, error) {
	whereSQL, args := buildSpanAnalyticsWhere(filter, postgresPlaceholder)
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

func (s *PostgresStore) PurgeTenant(ctx context.Context, tenantID string) (PurgeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("begin purge transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var result PurgeResult
	tables := []struct {
		name  string
		count *int64
	}{
		{"trace_writes", &result.TraceWrites},
		{"spans", &result.Spans},
		{"rollup_deltas", &result.RollupDeltas},
	}
	for _, table := range tables {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table.name+" WHERE tenant_id = $1", tenantID)
		if err != nil {
			return PurgeResult{}, fmt.Errorf("purge %s: %w", table.name, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return PurgeResult{}, fmt.Errorf("count purged %s rows: %w", table.name, err)
		}
		*table.count = affected
	}

	if err := tx.Commit(); err != nil {
		return PurgeResult{}, fmt.Errorf("commit purge transaction: %w", err)
	}
	return result, nil
}

func postgresPlaceholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func scanPostgresTraceWriteRow(scanner rowScanner) (*TraceWrite, error) {
	var (
		write         TraceWrite
		name          sql.NullString
		startTime     sql.NullTime
		endTime       sql.NullTime
		status        sql.NullString
		statusMessage sql.NullString
		input         sql.NullString
		output        sql.NullString
		userID        sql.NullString
		sessionID     sql.NullString
		environment   sql.NullString
		tags          sql.NullString
		receivedAt    sql.NullTime
	)

	if err := scanner.Scan(
		&write.TenantID,
		&write.TraceID,
		&write.Version,
		&name,
		&startTime,
		&endTime,
		&status,
		&statusMessage,
		&input,
		&output,
		&userID,
		&sessionID,
		&environment,
		&tags,
		&receivedAt,
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

	if startTime.Valid {
		start := startTime.Time.UTC()
		write.StartTime = &start
	}
	if endTime.Valid {
		end := endTime.Time.UTC()
		write.EndTime = &end
	}
	if tags.Valid {
		decoded, err := decodeTags(tags.String)
		if err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		write.Tags = decoded
	}
	if receivedAt.Valid {
		write.ReceivedAt = receivedAt.Time.UTC()
	}

	return &write, nil
}

func scanPostgresSpanRow(scanner rowScanner) (*Span, error) {
	var (
		span       Span
		startTime  time.Time
		endTime    time.Time
		metadata   sql.NullString
		receivedAt sql.NullTime
	)

	if err := scanner.Scan(
		&span.TenantID,
		&span.TraceID,
		&span.SpanID,
		&span.ParentSpanID,
		&span.Name,
		&span.Type,
		&startTime,
		&endTime,
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
		&receivedAt,
	); err != nil {
		return nil, err
	}

	span.StartTime = startTime.UTC()
	span.EndTime = endTime.UTC()
	if metadata.Valid && strings.TrimSpace(metadata.String) != "" {
		decoded, err := decodeTags(metadata.String)
		if err != nil {
			return nil, fmt.Errorf("decode span metadata: %w", err)
		}
		span.Metadata = decoded
	}
	if receivedAt.Valid {
		span.ReceivedAt = receivedAt.Time.UTC()
	}

	return &span, nil
}
