// Package billing resolves the quota tier at startup. An active Stripe
// subscription unlocks the paid tier; everything else runs on the free tier.
// The result is resolved once and treated as immutable for the process.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/insightify/voice-gateway/pkg/gateway/ledger"
)

// Tier selects the admission policy.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// PolicyFor returns the admission policy attached to a tier.
func PolicyFor(tier Tier) ledger.Policy {
	if tier == TierPaid {
		return ledger.Policy{MaxSessionsPerDay: 50, MaxSessionDuration: 30 * time.Minute}
	}
	return ledger.Policy{MaxSessionsPerDay: 5, MaxSessionDuration: 3 * time.Minute}
}

// SubscriptionChecker reports whether billing is active. The Stripe-backed
// implementation is the default; tests supply fakes.
type SubscriptionChecker interface {
	HasActiveSubscription(ctx context.Context) (bool, error)
}

// ResolveTier decides the process tier. No API key means the free tier; a
// lookup failure also falls back to free rather than blocking startup.
func ResolveTier(ctx context.Context, checker SubscriptionChecker, logger *slog.Logger) Tier {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		logger.Info("billing not configured, using free tier")
		return TierFree
	}
	active, err := checker.HasActiveSubscription(ctx)
	if err != nil {
		logger.Warn("billing lookup failed, falling back to free tier", "error", err)
		return TierFree
	}
	if active {
		logger.Info("active subscription found, using paid tier")
		return TierPaid
	}
	logger.Info("no active subscription, using free tier")
	return TierFree
}

// StripeChecker checks for active subscriptions on the configured account.
type StripeChecker struct {
	client *stripe.Client
}

// NewStripeChecker returns nil when no API key is configured.
func NewStripeChecker(apiKey string) *StripeChecker {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	return &StripeChecker{client: stripe.NewClient(apiKey)}
}

// HasActiveSubscription reports whether the account has at least one active
// subscription.
func (c *StripeChecker) HasActiveSubscription(ctx context.Context) (bool, error) {
	params := &stripe.SubscriptionListParams{
		Status: stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Limit = stripe.Int64(1)

	for sub, err := range c.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return false, fmt.Errorf("list subscriptions: %w", err)
		}
		if sub != nil {
			return true, nil
		}
	}
	return false, nil
}
