// Package store defines the entitlement persistence interface and provides
// SQLite, PostgreSQL and Redis-cached implementations.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Store is the persistence interface for entitlements and the audit log.
type Store interface {
	// Tier records
	GetTierRecord(ctx context.Context, account string) (*TierRecord, error)
	// ApplyTierRecord upserts rec unless the stored record has an equal or
	// newer UpdatedAt. At an equal UpdatedAt a DowngradeTier write replaces
	// a different tier. It reports whether the write took effect.
	ApplyTierRecord(ctx context.Context, rec *TierRecord) (bool, error)
	ListTierRecords(ctx context.Context, limit, offset int) ([]TierRecord, error)

	// Audit
	LogAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
	PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// DowngradeTier is the tier a cancellation writes. When two events share
// a timestamp, a write of DowngradeTier replaces any other tier, so the
// result does not depend on arrival order.
const DowngradeTier = "free"

// TierRecord is the current entitlement of one account. UpdatedAt is the
// time of the billing event that produced it, not the time of the write.
type TierRecord struct {
	Account   string    `json:"account"`
	Tier      string    `json:"tier"`
	EventID   string    `json:"event_id"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEvent is a log entry for audit purposes.
type AuditEvent struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Account   string          `json:"account,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditFilter specifies criteria for filtering audit events.
type AuditFilter struct {
	Action  string
	Account string
	Limit   int
	Offset  int
}

// NormalizeAccount is the single normalization point for account
// identifiers: trimmed and case-insensitive.
func NormalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// Entitlements adapts a Store to the tier lookup used by admission control.
type Entitlements struct {
	Store Store
}

// LookupTier returns the stored tier for account. found is false when the
// account has no record, which is not an error.
func (e Entitlements) LookupTier(ctx context.Context, account string) (string, bool, error) {
	rec, err := e.Store.GetTierRecord(ctx, account)
	if err != nil {
		return "", false, err
	}
	if rec == nil {
		return "", false, nil
	}
	return rec.Tier, true, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
