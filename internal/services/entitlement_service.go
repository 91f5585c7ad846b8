package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/lib/sl"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/session"
)

// EntitlementService runs every profile read-modify-write under a per-user
// serializer, so concurrent sources for one user never interleave.
type EntitlementService struct {
	store      entitlement.IdentityStore
	feed       entitlement.CommerceFeed
	reconciler *entitlement.Reconciler
	serializer *entitlement.Serializer
	sessions   session.Publisher
	metrics    *metrics.Entitlements
	log        *slog.Logger
}

func NewEntitlementService(
	store entitlement.IdentityStore,
	feed entitlement.CommerceFeed,
	reconciler *entitlement.Reconciler,
	sessions session.Publisher,
	m *metrics.Entitlements,
	log *slog.Logger,
) *EntitlementService {
	return &EntitlementService{
		store:      store,
		feed:       feed,
		reconciler: reconciler,
		serializer: entitlement.NewSerializer(),
		sessions:   sessions,
		metrics:    m,
		log:        log,
	}
}

// ProcessUpdate applies one stream update and finishes it once the result is
// durable. An update that can never apply is released without requeue; any
// other failure releases it for redelivery and is returned.
func (s *EntitlementService) ProcessUpdate(ctx context.Context, u entitlement.Update) error {
	log := s.log.With(slog.String("update_id", u.ID), slog.String("user_id", u.UserID))

	if err := s.applyUpdate(ctx, u, log); err != nil {
		return s.release(ctx, u, log, err)
	}
	return s.finish(ctx, u, log)
}

func (s *EntitlementService) applyUpdate(ctx context.Context, u entitlement.Update, log *slog.Logger) error {
	if u.Resync {
		_, err := s.reconcile(ctx, u.UserID)
		return err
	}

	fact, ok := u.Outcome.Fact()
	if !ok {
		log.Info("nothing to apply", slog.String("outcome", string(u.Outcome.Kind)))
		s.metrics.Observe(metrics.ResultSkipped)
		return nil
	}
	if !fact.Verified() {
		log.Warn("skipping unverified transaction",
			slog.String("product_id", fact.ProductID), slog.String("reason", fact.Reason))
		s.metrics.Observe(metrics.ResultSkipped)
		return nil
	}

	_, err := s.apply(ctx, u.UserID, fact)
	return err
}

// Purchase runs a purchase through the feed and applies a verified result.
func (s *EntitlementService) Purchase(ctx context.Context, req entitlement.PurchaseRequest) (entitlement.Outcome, entitlement.Profile, error) {
	outcome, err := s.feed.Purchase(ctx, req)
	if err != nil {
		return entitlement.Outcome{}, entitlement.Profile{}, fmt.Errorf("%w: purchase: %w", entitlement.ErrFeedUnavailable, err)
	}

	fact, ok := outcome.Fact()
	if ok && fact.Verified() {
		p, err := s.apply(ctx, req.UserID, fact)
		if err != nil {
			return outcome, entitlement.Profile{}, err
		}
		return outcome, p, nil
	}

	if ok {
		s.log.Warn("purchase not verified",
			slog.String("user_id", req.UserID),
			slog.String("product_id", req.ProductID),
			slog.String("reason", fact.Reason))
	}
	p, err := s.Profile(ctx, req.UserID)
	if err != nil {
		return outcome, entitlement.Profile{}, err
	}
	return outcome, p, nil
}

// Restore reconciles the profile against everything the feed reports active.
func (s *EntitlementService) Restore(ctx context.Context, userID string) (entitlement.Profile, error) {
	return s.reconcile(ctx, userID)
}

func (s *EntitlementService) Profile(ctx context.Context, userID string) (entitlement.Profile, error) {
	p, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return entitlement.Profile{}, err
	}
	return *p, nil
}

func (s *EntitlementService) apply(ctx context.Context, userID string, fact entitlement.TransactionFact) (entitlement.Profile, error) {
	return s.serialized(ctx, "apply", userID, func(ctx context.Context, current entitlement.Profile) (entitlement.Profile, error) {
		return s.reconciler.ApplyTransaction(ctx, fact, current), nil
	})
}

func (s *EntitlementService) reconcile(ctx context.Context, userID string) (entitlement.Profile, error) {
	return s.serialized(ctx, "reconcile", userID, s.reconciler.ReconcileAll)
}

// serialized re-reads userID's profile, computes the next one with fn and
// writes it only when it differs.
func (s *EntitlementService) serialized(
	ctx context.Context,
	operation, userID string,
	fn func(context.Context, entitlement.Profile) (entitlement.Profile, error),
) (entitlement.Profile, error) {
	start := time.Now()
	defer func() {
		s.metrics.ReconcileDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	var result entitlement.Profile
	err := s.serializer.Do(ctx, userID, func(ctx context.Context) error {
		current, err := s.store.GetByID(ctx, userID)
		if err != nil {
			return err
		}

		next, err := fn(ctx, *current)
		if err != nil {
			return err
		}
		if next.Equal(*current) {
			s.metrics.Observe(metrics.ResultUnchanged)
			result = *current
			return nil
		}

		if err := s.store.Update(ctx, next); err != nil {
			return err
		}
		s.metrics.Observe(metrics.ResultApplied)
		result = next

		if err := s.sessions.Publish(ctx, session.Authenticated(next, s.reconciler.Now())); err != nil {
			s.log.Warn("failed to publish session state", slog.String("user_id", userID), sl.Err(err))
		}
		return nil
	})
	if err != nil {
		s.metrics.Observe(metrics.ResultFailed)
		return entitlement.Profile{}, fmt.Errorf("%s profile %s: %w", operation, userID, err)
	}
	return result, nil
}

// permanent reports failures that redelivery cannot fix.
func permanent(err error) bool {
	return errors.Is(err, entitlement.ErrProfileNotFound) || errors.Is(err, identity.ErrMapping)
}

func (s *EntitlementService) release(ctx context.Context, u entitlement.Update, log *slog.Logger, cause error) error {
	if permanent(cause) {
		log.Warn("discarding update that cannot apply", sl.Err(cause))
		s.metrics.Observe(metrics.ResultDropped)
		if err := u.Release(ctx, false); err != nil {
			log.Error("failed to discard update", sl.Err(err))
			return fmt.Errorf("discard update %s: %w", u.ID, err)
		}
		return nil
	}

	if err := u.Release(ctx, true); err != nil {
		log.Error("failed to requeue update", sl.Err(err))
	}
	return cause
}

func (s *EntitlementService) finish(ctx context.Context, u entitlement.Update, log *slog.Logger) error {
	if err := u.Finish(ctx); err != nil {
		log.Error("failed to finish update", sl.Err(err))
		return fmt.Errorf("finish update %s: %w", u.ID, err)
	}
	return nil
}
