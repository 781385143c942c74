package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/toolgate/gateway/internal/domain/audit"
)

// SQLiteConfig holds configuration for the SQLite-based audit store.
type SQLiteConfig struct {
	// Path is the filesystem path to the SQLite database file.
	Path string
	// RetentionDays is the number of days to keep audit rows (default 7).
	RetentionDays int
	// CacheSize is the number of recent entries to keep in memory (default 1000).
	CacheSize int
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	session_id TEXT,
	identity_id TEXT,
	identity_name TEXT,
	tool_name TEXT,
	tool_arguments TEXT,
	decision TEXT,
	reason TEXT,
	rule_id TEXT,
	request_id TEXT,
	latency_micros INTEGER,
	scan_detections INTEGER,
	scan_action TEXT,
	scan_types TEXT,
	protocol TEXT,
	framework TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_records_tool_name ON audit_records(tool_name);
`

// SQLiteAuditStore implements audit.AuditStore and audit.AuditQueryStore on
// top of a single-file SQLite database, for operators who want queryable
// audit history without standing up PostgreSQL. Retention and in-memory
// caching mirror FileAuditStore's idiom.
type SQLiteAuditStore struct {
	db            *sql.DB
	cache         *auditCache
	retentionDays int
	logger        *slog.Logger
	cancel        context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewSQLiteAuditStore opens (creating if needed) the SQLite database at
// cfg.Path, ensures its schema, runs retention cleanup, populates the
// recent-records cache, and starts the daily retention loop.
func NewSQLiteAuditStore(cfg SQLiteConfig, logger *slog.Logger) (*SQLiteAuditStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit db: %w", err)
	}
	// modernc.org/sqlite serializes writes at the driver level; a single
	// connection avoids SQLITE_BUSY from concurrent writers contending
	// for the same file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SQLiteAuditStore{
		db:            db,
		cache:         newAuditCache(cfg.CacheSize),
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		cancel:        cancel,
	}

	s.runRetention()
	s.populateCache(cfg.CacheSize)
	go s.startRetentionLoop(ctx)

	return s, nil
}

// Append stores audit records as rows, one insert per record inside a
// single transaction.
func (s *SQLiteAuditStore) Append(ctx context.Context, records ...audit.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_records (
		timestamp, session_id, identity_id, identity_name, tool_name,
		tool_arguments, decision, reason, rule_id, request_id,
		latency_micros, scan_detections, scan_action, scan_types,
		protocol, framework
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		argsJSON, err := json.Marshal(rec.ToolArguments)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal tool arguments: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.SessionID, rec.IdentityID,
			rec.IdentityName, rec.ToolName, string(argsJSON), rec.Decision, rec.Reason,
			rec.RuleID, rec.RequestID, rec.LatencyMicros, rec.ScanDetections,
			rec.ScanAction, rec.ScanTypes, rec.Protocol, rec.Framework,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert audit record: %w", err)
		}
		s.cache.Add(rec)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// Flush is a no-op: Append commits its transaction synchronously, so there
// is nothing buffered to force out.
func (s *SQLiteAuditStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the retention loop and closes the database handle.
func (s *SQLiteAuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.db.Close()
}

// GetRecent returns the last n audit records from the in-memory cache,
// newest first.
func (s *SQLiteAuditStore) GetRecent(n int) []audit.AuditRecord {
	return s.cache.Recent(n)
}

// Query retrieves audit records matching filter, ordered newest first.
// Pagination is offset-based, encoded as a decimal string cursor.
func (s *SQLiteAuditStore) Query(ctx context.Context, filter audit.AuditFilter) ([]audit.AuditRecord, string, error) {
	if filter.EndTime.Sub(filter.StartTime) > 7*24*time.Hour {
		return nil, "", audit.ErrDateRangeExceeded
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	offset := 0
	if filter.Cursor != "" {
		if _, err := fmt.Sscanf(filter.Cursor, "%d", &offset); err != nil {
			offset = 0
		}
	}

	query := `SELECT timestamp, session_id, identity_id, identity_name, tool_name,
		tool_arguments, decision, reason, rule_id, request_id, latency_micros,
		scan_detections, scan_action, scan_types, protocol, framework
		FROM audit_records WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{filter.StartTime.UTC().Format(time.RFC3339Nano), filter.EndTime.UTC().Format(time.RFC3339Nano)}

	if filter.UserID != "" {
		query += " AND identity_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.ToolName != "" {
		query += " AND tool_name = ?"
		args = append(args, filter.ToolName)
	}
	if filter.Decision != "" {
		query += " AND decision = ?"
		args = append(args, filter.Decision)
	}
	if filter.Protocol != "" {
		query += " AND protocol = ?"
		args = append(args, filter.Protocol)
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []audit.AuditRecord
	for rows.Next() {
		rec, err := scanAuditRow(rows)
		if err != nil {
			return nil, "", err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(records) > limit {
		records = records[:limit]
		nextCursor = fmt.Sprintf("%d", offset+limit)
	}
	return records, nextCursor, nil
}

// QueryStats aggregates per-tool and per-decision counts for the given
// time range, for EU AI Act transparency reporting.
func (s *SQLiteAuditStore) QueryStats(ctx context.Context, start, end time.Time) (*audit.AuditStats, error) {
	stats := &audit.AuditStats{
		ByTool:     make(map[string]audit.ToolCallStats),
		ByDecision: make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tool_name, decision, COUNT(*) FROM audit_records
		WHERE timestamp >= ? AND timestamp <= ? GROUP BY tool_name, decision`,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query audit stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var toolName, decision string
		var count int64
		if err := rows.Scan(&toolName, &decision, &count); err != nil {
			return nil, err
		}
		stats.TotalCalls += count
		stats.ByDecision[decision] += count
		toolStats := stats.ByTool[toolName]
		toolStats.Calls += count
		switch decision {
		case audit.DecisionAllow:
			toolStats.Allowed += count
		case audit.DecisionDeny:
			toolStats.Denied += count
		}
		stats.ByTool[toolName] = toolStats
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	identities, err := s.countDistinct(ctx, "identity_id", start, end)
	if err != nil {
		return nil, err
	}
	stats.UniqueIdentities = identities

	sessions, err := s.countDistinct(ctx, "session_id", start, end)
	if err != nil {
		return nil, err
	}
	stats.UniqueSessions = sessions

	return stats, nil
}

func (s *SQLiteAuditStore) countDistinct(ctx context.Context, column string, start, end time.Time) (int64, error) {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(DISTINCT %s) FROM audit_records
		WHERE timestamp >= ? AND timestamp <= ? AND %s != ''`, column, column)
	err := s.db.QueryRowContext(ctx, query,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano)).Scan(&count)
	return count, err
}

func scanAuditRow(rows *sql.Rows) (audit.AuditRecord, error) {
	var rec audit.AuditRecord
	var timestamp, argsJSON string
	if err := rows.Scan(&timestamp, &rec.SessionID, &rec.IdentityID, &rec.IdentityName,
		&rec.ToolName, &argsJSON, &rec.Decision, &rec.Reason, &rec.RuleID, &rec.RequestID,
		&rec.LatencyMicros, &rec.ScanDetections, &rec.ScanAction, &rec.ScanTypes,
		&rec.Protocol, &rec.Framework,
	); err != nil {
		return rec, fmt.Errorf("scan audit row: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		rec.Timestamp = ts
	}
	if argsJSON != "" {
		_ = json.Unmarshal([]byte(argsJSON), &rec.ToolArguments)
	}
	return rec, nil
}

// runRetention deletes rows older than retentionDays.
func (s *SQLiteAuditStore) runRetention() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays).Format(time.RFC3339Nano)
	if _, err := s.db.Exec(`DELETE FROM audit_records WHERE timestamp < ?`, cutoff); err != nil && s.logger != nil {
		s.logger.Error("sqlite audit retention sweep failed", "error", err)
	}
}

// populateCache loads the most recent cacheSize records into the
// in-memory ring buffer so GetRecent serves data immediately after boot.
func (s *SQLiteAuditStore) populateCache(cacheSize int) {
	rows, err := s.db.Query(`SELECT timestamp, session_id, identity_id, identity_name, tool_name,
		tool_arguments, decision, reason, rule_id, request_id, latency_micros,
		scan_detections, scan_action, scan_types, protocol, framework
		FROM audit_records ORDER BY timestamp DESC LIMIT ?`, cacheSize)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("sqlite audit cache population failed", "error", err)
		}
		return
	}
	defer rows.Close()

	var recent []audit.AuditRecord
	for rows.Next() {
		rec, err := scanAuditRow(rows)
		if err != nil {
			continue
		}
		recent = append(recent, rec)
	}

	// recent is newest-first (DESC); the cache is a ring buffer where the
	// most recently Add()-ed entry is considered newest, so add in reverse
	// (oldest first) to preserve ordering.
	for i := len(recent) - 1; i >= 0; i-- {
		s.cache.Add(recent[i])
	}
}

// startRetentionLoop runs the retention sweep once a day until ctx is cancelled.
func (s *SQLiteAuditStore) startRetentionLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRetention()
		}
	}
}

var (
	_ audit.AuditStore      = (*SQLiteAuditStore)(nil)
	_ audit.AuditQueryStore = (*SQLiteAuditStore)(nil)
)
