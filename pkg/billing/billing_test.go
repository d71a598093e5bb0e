package billing

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeChecker struct {
	active bool
	err    error
}

func (c *fakeChecker) HasActiveSubscription(ctx context.Context) (bool, error) {
	return c.active, c.err
}

func TestResolveTier(t *testing.T) {
	cases := []struct {
		name    string
		checker SubscriptionChecker
		want    Tier
	}{
		{"no checker", nil, TierFree},
		{"active subscription", &fakeChecker{active: true}, TierPaid},
		{"no subscription", &fakeChecker{active: false}, TierFree},
		{"lookup failure", &fakeChecker{err: errors.New("stripe down")}, TierFree},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveTier(context.Background(), tc.checker, nil); got != tc.want {
				t.Fatalf("tier=%s want %s", got, tc.want)
			}
		})
	}
}

func TestPolicyFor(t *testing.T) {
	free := PolicyFor(TierFree)
	if free.MaxSessionsPerDay != 5 || free.MaxSessionDuration != 3*time.Minute {
		t.Fatalf("free policy=%+v", free)
	}
	paid := PolicyFor(TierPaid)
	if paid.MaxSessionsPerDay != 50 {
		t.Fatalf("paid policy=%+v", paid)
	}
	if paid.MaxSessionDuration <= free.MaxSessionDuration {
		t.Fatalf("paid duration must exceed free")
	}
}

func TestNewStripeChecker_EmptyKey(t *testing.T) {
	if c := NewStripeChecker("  "); c != nil {
		t.Fatalf("expected nil checker for blank key")
	}
}
