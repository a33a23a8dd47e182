package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the pool
	// see the same data. Without this, each pooled connection gets a separate
	// empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read/write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	// One connection: SQLite has a single writer and per-connection pragmas.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tier_records (
			account TEXT PRIMARY KEY,
			tier TEXT NOT NULL DEFAULT 'free',
			event_id TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			account TEXT NOT NULL DEFAULT '',
			job_id TEXT NOT NULL DEFAULT '',
			event_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_account ON audit_events(account)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

// --- Tier records ---

func (s *SQLiteStore) GetTierRecord(ctx context.Context, account string) (*TierRecord, error) {
	var rec TierRecord
	var updated, created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT account, tier, event_id, updated_at, created_at FROM tier_records WHERE account = ?`,
		NormalizeAccount(account),
	).Scan(&rec.Account, &rec.Tier, &rec.EventID, &updated, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = fromNanos(updated)
	rec.CreatedAt = fromNanos(created)
	return &rec, nil
}

func (s *SQLiteStore) ApplyTierRecord(ctx context.Context, rec *TierRecord) (bool, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tier_records (account, tier, event_id, updated_at, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(account) DO UPDATE SET
		   tier = excluded.tier,
		   event_id = excluded.event_id,
		   updated_at = excluded.updated_at
		 WHERE excluded.updated_at > tier_records.updated_at
		    OR (excluded.updated_at = tier_records.updated_at
		        AND excluded.tier = ? AND tier_records.tier <> ?)`,
		NormalizeAccount(rec.Account), rec.Tier, rec.EventID, toNanos(rec.UpdatedAt), toNanos(created),
		DowngradeTier, DowngradeTier,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListTierRecords(ctx context.Context, limit, offset int) ([]TierRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account, tier, event_id, updated_at, created_at FROM tier_records
		 ORDER BY account LIMIT ? OFFSET ?`, clampLimit(limit), offset,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []TierRecord
	for rows.Next() {
		var rec TierRecord
		var updated, created int64
		if err := rows.Scan(&rec.Account, &rec.Tier, &rec.EventID, &updated, &created); err != nil {
			return nil, err
		}
		rec.UpdatedAt = fromNanos(updated)
		rec.CreatedAt = fromNanos(created)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Audit ---

func (s *SQLiteStore) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, action, account, job_id, event_id, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Action, NormalizeAccount(event.Account), event.JobID, event.EventID,
		string(event.Detail), toNanos(event.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `SELECT id, action, account, job_id, event_id, detail, created_at FROM audit_events WHERE 1=1`
	var args []any
	if filter.Action != "" {
		query += ` AND action = ?`
		args = append(args, filter.Action)
	}
	if filter.Account != "" {
		query += ` AND account = ?`
		args = append(args, NormalizeAccount(filter.Account))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var detail string
		var created int64
		if err := rows.Scan(&ev.ID, &ev.Action, &ev.Account, &ev.JobID, &ev.EventID, &detail, &created); err != nil {
			return nil, err
		}
		if detail != "" {
			ev.Detail = []byte(detail)
		}
		ev.CreatedAt = fromNanos(created)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < ?`, toNanos(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
