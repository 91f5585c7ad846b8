package revenuecat

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
)

const (
	EventInitialPurchase     = "INITIAL_PURCHASE"
	EventRenewal             = "RENEWAL"
	EventNonRenewingPurchase = "NON_RENEWING_PURCHASE"
	EventProductChange       = "PRODUCT_CHANGE"
	EventUncancellation      = "UNCANCELLATION"
	EventCancellation        = "CANCELLATION"
	EventExpiration          = "EXPIRATION"
	EventBillingIssue        = "BILLING_ISSUE"

	EnvironmentSandbox    = "SANDBOX"
	EnvironmentProduction = "PRODUCTION"
)

// EventToUpdate maps a webhook event onto the transaction stream. The second
// result is false for event types that carry nothing to reconcile.
func EventToUpdate(event *dto.RevenueCatEvent, sandbox bool) (entitlement.Update, bool) {
	switch event.Type {
	case EventInitialPurchase, EventRenewal, EventNonRenewingPurchase, EventProductChange, EventUncancellation:
		return transactionUpdate(event, sandbox), true
	case EventCancellation, EventExpiration, EventBillingIssue:
		if event.AppUserID == "" {
			return entitlement.Update{}, false
		}
		return entitlement.Update{ID: event.ID, UserID: event.AppUserID, Resync: true}, true
	default:
		return entitlement.Update{}, false
	}
}

func transactionUpdate(event *dto.RevenueCatEvent, sandbox bool) entitlement.Update {
	tx := entitlement.Transaction{
		ID:          event.TransactionID,
		ProductID:   event.ProductID,
		PurchasedAt: msToTime(event.PurchasedAtMs),
	}
	if event.ExpirationAtMs > 0 {
		exp := msToTime(event.ExpirationAtMs)
		tx.ExpiresAt = &exp
	}
	if tx.ID == "" {
		tx.ID = event.ID
	}

	u := entitlement.Update{ID: event.ID, UserID: event.AppUserID}
	switch {
	case event.AppUserID == "":
		u.Outcome = entitlement.Unverified(tx, "event has no app user id")
	case event.Environment != expectedEnvironment(sandbox):
		u.Outcome = entitlement.Unverified(tx, "event from "+event.Environment+" environment")
	default:
		u.Outcome = entitlement.Verified(tx)
	}
	return u
}

func expectedEnvironment(sandbox bool) string {
	if sandbox {
		return EnvironmentSandbox
	}
	return EnvironmentProduction
}

func msToTime(ms int64) time.Time {
	return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond)).UTC()
}
