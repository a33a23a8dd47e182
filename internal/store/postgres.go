package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := newPostgresFromDB(db)
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// newPostgresFromDB wraps an open handle without running migrations.
func newPostgresFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tier_records (
			account TEXT PRIMARY KEY,
			tier TEXT NOT NULL DEFAULT 'free',
			event_id TEXT NOT NULL DEFAULT '',
			updated_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			account TEXT NOT NULL DEFAULT '',
			job_id TEXT NOT NULL DEFAULT '',
			event_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
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

func (s *PostgresStore) GetTierRecord(ctx context.Context, account string) (*TierRecord, error) {
	var rec TierRecord
	var updated, created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT account, tier, event_id, updated_at, created_at FROM tier_records WHERE account = $1`,
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

func (s *PostgresStore) ApplyTierRecord(ctx context.Context, rec *TierRecord) (bool, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tier_records (account, tier, event_id, updated_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT(account) DO UPDATE SET
		   tier = EXCLUDED.tier,
		   event_id = EXCLUDED.event_id,
		   updated_at = EXCLUDED.updated_at
		 WHERE EXCLUDED.updated_at > tier_records.updated_at
		    OR (EXCLUDED.updated_at = tier_records.updated_at
		        AND EXCLUDED.tier = $6 AND tier_records.tier <> $6)`,
		NormalizeAccount(rec.Account), rec.Tier, rec.EventID, toNanos(rec.UpdatedAt), toNanos(created),
		DowngradeTier,
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

func (s *PostgresStore) ListTierRecords(ctx context.Context, limit, offset int) ([]TierRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account, tier, event_id, updated_at, created_at FROM tier_records
		 ORDER BY account LIMIT $1 OFFSET $2`, clampLimit(limit), offset,
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

func (s *PostgresStore) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, action, account, job_id, event_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Action, NormalizeAccount(event.Account), event.JobID, event.EventID,
		string(event.Detail), toNanos(event.CreatedAt),
	)
	return err
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `SELECT id, action, account, job_id, event_id, detail, created_at FROM audit_events WHERE 1=1`
	var args []any
	n := 1
	if filter.Action != "" {
		query += fmt.Sprintf(` AND action = $%d`, n)
		args = append(args, filter.Action)
		n++
	}
	if filter.Account != "" {
		query += fmt.Sprintf(` AND account = $%d`, n)
		args = append(args, NormalizeAccount(filter.Account))
		n++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n, n+1)
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

func (s *PostgresStore) PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < $1`, toNanos(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
