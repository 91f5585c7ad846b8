package entitlement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/lib/sl"
)

// ExpiryPolicy picks the expiry when several subscriptions are live at once.
type ExpiryPolicy string

const (
	// FirstMatch takes the first live product in catalog order.
	FirstMatch ExpiryPolicy = "first_match"
	// LatestExpiry takes the live product that expires last.
	LatestExpiry ExpiryPolicy = "latest_expiry"
)

func ParseExpiryPolicy(s string) (ExpiryPolicy, error) {
	switch p := ExpiryPolicy(s); p {
	case FirstMatch, LatestExpiry:
		return p, nil
	case "":
		return LatestExpiry, nil
	}
	return "", fmt.Errorf("unknown expiry policy %q", s)
}

// Reconciler computes updated profiles from commerce facts. It never reads or
// writes the identity store; callers own the read-modify-write.
type Reconciler struct {
	feed    CommerceFeed
	catalog *Catalog
	policy  ExpiryPolicy
	now     func() time.Time
	log     *slog.Logger
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithExpiryPolicy(p ExpiryPolicy) Option {
	return func(r *Reconciler) { r.policy = p }
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Reconciler) { r.log = log }
}

func NewReconciler(feed CommerceFeed, catalog *Catalog, opts ...Option) *Reconciler {
	r := &Reconciler{
		feed:    feed,
		catalog: catalog,
		policy:  LatestExpiry,
		now:     time.Now,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Now() time.Time { return r.now() }

// ApplyTransaction folds one fact into current and returns the candidate profile.
// Feed failures are logged and leave the subscription fields as they were.
func (r *Reconciler) ApplyTransaction(ctx context.Context, fact TransactionFact, current Profile) Profile {
	log := r.log.With(
		slog.String("user_id", current.ID),
		slog.String("product_id", fact.ProductID),
		slog.String("transaction_id", fact.TransactionID),
	)

	if !fact.Verified() {
		log.Warn("ignoring unverified transaction", slog.String("reason", fact.Reason))
		return current
	}

	updated := current.WithPurchase(fact.ProductID)
	if !r.catalog.IsSubscription(fact.ProductID) {
		return updated
	}

	status, err := r.feed.SubscriptionStatus(ctx, current.ID, fact.ProductID)
	if err != nil {
		log.Warn("subscription status unavailable, keeping subscription fields", sl.Err(err))
		return updated
	}
	if !status.Active || !status.Expiry.After(r.now()) {
		log.Info("subscription not active in feed, keeping subscription fields")
		return updated
	}
	return updated.WithSubscription(status.Expiry)
}

// ReconcileAll aligns profile with the feed's currently active entitlements.
// Any feed error aborts the pass and returns profile unchanged.
func (r *Reconciler) ReconcileAll(ctx context.Context, profile Profile) (Profile, error) {
	log := r.log.With(slog.String("user_id", profile.ID))

	outcomes, err := r.feed.ActiveEntitlements(ctx, profile.ID)
	if err != nil {
		return profile, fmt.Errorf("%w: active entitlements: %w", ErrFeedUnavailable, err)
	}

	updated := profile.Clone()
	for _, o := range outcomes {
		fact, ok := o.Fact()
		if !ok {
			continue
		}
		if !fact.Verified() {
			log.Warn("skipping unverified entitlement",
				slog.String("product_id", fact.ProductID), slog.String("reason", fact.Reason))
			continue
		}
		updated.PurchasedProducts.Add(fact.ProductID)
	}

	now := r.now()
	expiry, active, err := r.liveSubscription(ctx, profile.ID, now)
	if err != nil {
		return profile, err
	}

	switch {
	case !active:
		if updated.Subscribed || updated.SubscriptionExpiry != nil {
			log.Info("subscription no longer active, clearing")
		}
		updated = updated.WithoutSubscription()
	case !profile.HasActiveEntitlement(now):
		log.Info("subscription became active", slog.Time("expiry", expiry))
		updated = updated.WithSubscription(expiry)
	}
	return updated, nil
}

func (r *Reconciler) liveSubscription(ctx context.Context, userID string, now time.Time) (time.Time, bool, error) {
	var (
		best  time.Time
		found bool
	)
	for _, id := range r.catalog.SubscriptionIDs() {
		status, err := r.feed.SubscriptionStatus(ctx, userID, id)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: subscription status %s: %w", ErrFeedUnavailable, id, err)
		}
		if !status.Active || !status.Expiry.After(now) {
			continue
		}
		if !found || status.Expiry.After(best) {
			best = status.Expiry
		}
		found = true
		if r.policy == FirstMatch {
			break
		}
	}
	return best, found, nil
}
