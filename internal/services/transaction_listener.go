package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/time/rate"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/lib/sl"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/metrics"
)

type UpdateProcessor interface {
	ProcessUpdate(ctx context.Context, u entitlement.Update) error
}

// TransactionListener drains the feed's update stream for the process lifetime.
type TransactionListener struct {
	feed      entitlement.CommerceFeed
	processor UpdateProcessor
	restarts  *rate.Limiter
	metrics   *metrics.Entitlements
	log       *slog.Logger
}

func NewTransactionListener(
	feed entitlement.CommerceFeed,
	processor UpdateProcessor,
	restartEvery time.Duration,
	m *metrics.Entitlements,
	log *slog.Logger,
) *TransactionListener {
	if restartEvery <= 0 {
		restartEvery = time.Second
	}
	return &TransactionListener{
		feed:      feed,
		processor: processor,
		restarts:  rate.NewLimiter(rate.Every(restartEvery), 1),
		metrics:   m,
		log:       log.With(slog.String("component", "transaction_listener")),
	}
}

// Run blocks until ctx ends. A failed update is logged and released back to
// the stream; the listener moves on to the next one.
func (l *TransactionListener) Run(ctx context.Context) {
	first := true
	for {
		if err := l.restarts.Wait(ctx); err != nil {
			return
		}
		if !first {
			l.metrics.StreamRestarts.Inc()
			l.log.Info("re-opening transaction stream")
		}
		first = false

		updates, err := l.feed.TransactionUpdates(ctx)
		if err != nil {
			l.log.Error("failed to open transaction stream", sl.Err(err))
			sentry.CaptureException(err)
			continue
		}
		l.drain(ctx, updates)

		if ctx.Err() != nil {
			return
		}
	}
}

func (l *TransactionListener) drain(ctx context.Context, updates <-chan entitlement.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := l.processor.ProcessUpdate(ctx, u); err != nil {
				l.log.Error("failed to process transaction update",
					slog.String("update_id", u.ID), slog.String("user_id", u.UserID), sl.Err(err))
				sentry.CaptureException(err)
			}
		}
	}
}
