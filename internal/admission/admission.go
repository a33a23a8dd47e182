// Package admission decides whether an uploaded asset may be transcribed
// under the caller's current tier.
package admission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/tier"
)

// Entitlements resolves the stored tier for an account. found is false when
// the account has never had a billing event.
type Entitlements interface {
	LookupTier(ctx context.Context, account string) (tierName string, found bool, err error)
}

// DurationProbe measures audio length in seconds.
type DurationProbe interface {
	Measure(ctx context.Context, path string) (float64, error)
}

// Decision is the outcome of Admit. Reason is nil when Admitted is true.
type Decision struct {
	Admitted bool
	Tier     string
	Limit    tier.Entry
	Duration float64
	Reason   *apperror.Error
}

// Controller combines entitlements, the tier table and the duration probe.
type Controller struct {
	entitlements Entitlements
	policy       *tier.Policy
	probe        DurationProbe
	logger       *slog.Logger
}

// New returns a Controller.
func New(entitlements Entitlements, policy *tier.Policy, probe DurationProbe, logger *slog.Logger) *Controller {
	return &Controller{
		entitlements: entitlements,
		policy:       policy,
		probe:        probe,
		logger:       logger.With("component", "admission"),
	}
}

// ResolveTier returns the effective tier for account. A missing record and a
// failed lookup both resolve to free.
func (c *Controller) ResolveTier(ctx context.Context, account string) string {
	name, found, err := c.entitlements.LookupTier(ctx, account)
	if err != nil {
		c.logger.Warn("entitlement lookup failed, using free tier", "account", account, "error", err)
		return tier.Free
	}
	if !found {
		return tier.Free
	}
	return c.policy.Resolve(name)
}

// Admit resolves the account's tier and checks the asset against it.
func (c *Controller) Admit(ctx context.Context, account, assetPath string) (Decision, error) {
	return c.AdmitTier(ctx, c.ResolveTier(ctx, account), assetPath)
}

// AdmitTier checks the asset against an explicit tier, bypassing the
// entitlement lookup. Unknown names are treated as free.
func (c *Controller) AdmitTier(ctx context.Context, tierName, assetPath string) (Decision, error) {
	entry := c.policy.LimitFor(tierName)
	d := Decision{Tier: entry.Name, Limit: entry}

	seconds, err := c.probe.Measure(ctx, assetPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return d, ctxErr
		}
		reason, ok := apperror.As(err)
		if !ok || reason.Code != apperror.DurationUnavailable {
			reason = apperror.Wrap(apperror.DurationUnavailable, err, "could not determine audio duration")
		}
		d.Reason = reason
		return d, nil
	}
	d.Duration = seconds

	if !entry.Allows(seconds) {
		limit := entry.MaxDurationSeconds()
		d.Reason = apperror.New(apperror.DurationExceeded,
			fmt.Sprintf("audio is %.0f seconds; the %s tier allows up to %.0f seconds", seconds, entry.Name, limit)).
			With("tier", entry.Name).
			With("limit_seconds", limit).
			With("duration_seconds", seconds)
		return d, nil
	}

	d.Admitted = true
	return d, nil
}
