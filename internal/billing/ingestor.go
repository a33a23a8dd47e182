package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/metrics"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/store"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/tier"
)

// Outcome describes what Apply did with an event.
type Outcome string

const (
	Applied Outcome = "applied" // the tier record changed
	Stale   Outcome = "stale"   // an equal or newer event was already applied
	Ignored Outcome = "ignored" // nothing to do for this event
)

// Ingestor is the only writer of tier records.
type Ingestor struct {
	store  store.Store
	policy *tier.Policy
	locks  *keyedMutex
	logger *slog.Logger
}

// NewIngestor returns an Ingestor.
func NewIngestor(s store.Store, policy *tier.Policy, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:  s,
		policy: policy,
		locks:  newKeyedMutex(),
		logger: logger.With("component", "billing"),
	}
}

// Apply updates the account's tier record for a verified event. Redelivered
// and out-of-order events are no-ops reported as Stale.
func (i *Ingestor) Apply(ctx context.Context, ev Event) (Outcome, error) {
	outcome, err := i.apply(ctx, ev)
	label := string(outcome)
	if err != nil {
		label = "error"
	}
	metrics.BillingEventsTotal.WithLabelValues(string(ev.Category), label).Inc()
	return outcome, err
}

func (i *Ingestor) apply(ctx context.Context, ev Event) (Outcome, error) {
	logger := i.logger.With("event_id", ev.ID, "event_type", ev.Type, "category", ev.Category)
	account := store.NormalizeAccount(ev.Account)

	switch ev.Category {
	case Activated, Cancelled, PaymentFailed:
		if account == "" {
			logger.Warn("billing event has no account, dropping")
			i.audit(ctx, logger, "entitlement.ignored", ev, map[string]any{"reason": "missing_account"})
			return Ignored, nil
		}
	case Unknown:
		logger.Debug("ignoring unhandled billing event")
		return Ignored, nil
	default:
		logger.Warn("unrecognized billing category")
		return Ignored, nil
	}

	var target string
	switch ev.Category {
	case Activated:
		name, ok := i.policy.TierForPrice(ev.PlanID)
		if !ok {
			logger.Warn("activation for unrecognized price, no tier change", "account", account, "plan_id", ev.PlanID)
			i.audit(ctx, logger, "entitlement.ignored", ev, map[string]any{"reason": "unknown_price", "plan_id": ev.PlanID})
			return Ignored, nil
		}
		target = name
	case Cancelled:
		target = tier.Free
	case PaymentFailed:
		logger.Warn("payment failed", "account", account)
		i.audit(ctx, logger, "billing.payment_failed", ev, nil)
		return Ignored, nil
	}

	unlock := i.locks.Lock(account)
	defer unlock()

	applied, err := i.store.ApplyTierRecord(ctx, &store.TierRecord{
		Account:   account,
		Tier:      target,
		EventID:   ev.ID,
		UpdatedAt: ev.Time,
	})
	if err != nil {
		return "", fmt.Errorf("apply tier record for %s: %w", account, err)
	}

	detail := map[string]any{"tier": target, "plan_id": ev.PlanID, "event_time": ev.Time}
	if !applied {
		logger.Info("stale billing event, no change", "account", account, "tier", target)
		i.audit(ctx, logger, "entitlement.stale", ev, detail)
		return Stale, nil
	}
	logger.Info("entitlement updated", "account", account, "tier", target)
	i.audit(ctx, logger, "entitlement.applied", ev, detail)
	return Applied, nil
}

func (i *Ingestor) audit(ctx context.Context, logger *slog.Logger, action string, ev Event, detail map[string]any) {
	if detail == nil {
		detail = map[string]any{}
	}
	detail["event_type"] = ev.Type
	raw, _ := json.Marshal(detail)
	if err := i.store.LogAuditEvent(ctx, &store.AuditEvent{
		ID:        uuid.New().String(),
		Action:    action,
		Account:   ev.Account,
		EventID:   ev.ID,
		Detail:    raw,
		CreatedAt: time.Now(),
	}); err != nil {
		logger.Warn("failed to log audit event", "action", action, "error", err)
	}
}
