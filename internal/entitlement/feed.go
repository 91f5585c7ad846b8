package entitlement

import (
	"context"
	"time"
)

type OutcomeKind string

const (
	OutcomeVerified   OutcomeKind = "verified"
	OutcomeUnverified OutcomeKind = "unverified"
	OutcomeCancelled  OutcomeKind = "cancelled"
	OutcomePending    OutcomeKind = "pending"
)

// Transaction is a completed purchase as reported by the commerce feed.
type Transaction struct {
	ID          string     `json:"id"`
	ProductID   string     `json:"product_id"`
	PurchasedAt time.Time  `json:"purchased_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Outcome is the result of a purchase or one element of a transaction sequence.
// Transaction is set for verified and, when known, unverified outcomes.
type Outcome struct {
	Kind        OutcomeKind  `json:"kind"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

func Verified(tx Transaction) Outcome {
	return Outcome{Kind: OutcomeVerified, Transaction: &tx}
}

func Unverified(tx Transaction, reason string) Outcome {
	return Outcome{Kind: OutcomeUnverified, Transaction: &tx, Reason: reason}
}

func Cancelled() Outcome { return Outcome{Kind: OutcomeCancelled} }

func Pending(reason string) Outcome { return Outcome{Kind: OutcomePending, Reason: reason} }

// Fact converts a verified or unverified outcome into a TransactionFact.
// Cancelled and pending outcomes carry nothing to apply.
func (o Outcome) Fact() (TransactionFact, bool) {
	if o.Transaction == nil {
		return TransactionFact{}, false
	}
	switch o.Kind {
	case OutcomeVerified:
		return TransactionFact{
			ProductID:     o.Transaction.ProductID,
			TransactionID: o.Transaction.ID,
			Verification:  VerificationVerified,
			ExpiresAt:     o.Transaction.ExpiresAt,
		}, true
	case OutcomeUnverified:
		return TransactionFact{
			ProductID:     o.Transaction.ProductID,
			TransactionID: o.Transaction.ID,
			Verification:  VerificationUnverified,
			Reason:        o.Reason,
			ExpiresAt:     o.Transaction.ExpiresAt,
		}, true
	}
	return TransactionFact{}, false
}

type Verification string

const (
	VerificationVerified   Verification = "verified"
	VerificationUnverified Verification = "unverified"
)

// TransactionFact is consumed once by the reconciler and never persisted.
type TransactionFact struct {
	ProductID     string
	TransactionID string
	Verification  Verification
	Reason        string
	ExpiresAt     *time.Time
}

func (f TransactionFact) Verified() bool { return f.Verification == VerificationVerified }

type SubscriptionStatus struct {
	Active bool
	Expiry time.Time
}

// PurchaseResult is the StoreKit result reported by the app.
type PurchaseResult string

const (
	PurchaseSuccess   PurchaseResult = "success"
	PurchaseCancelled PurchaseResult = "cancelled"
	PurchasePending   PurchaseResult = "pending"
)

type PurchaseRequest struct {
	UserID     string
	ProductID  string
	FetchToken string
	Result     PurchaseResult
}

// Update is one element of the live transaction stream. Resync updates ask for
// a full reconciliation of UserID instead of carrying a transaction.
type Update struct {
	ID      string  `json:"id"`
	UserID  string  `json:"user_id"`
	Outcome Outcome `json:"outcome"`
	Resync  bool    `json:"resync,omitempty"`

	finish  func(context.Context) error
	release func(ctx context.Context, requeue bool) error
}

// WithFinisher attaches the feed's acknowledgement hook.
func (u Update) WithFinisher(fn func(context.Context) error) Update {
	u.finish = fn
	return u
}

// Finish acknowledges the update to the feed. Call it once, after the profile
// write succeeded.
func (u Update) Finish(ctx context.Context) error {
	if u.finish == nil {
		return nil
	}
	return u.finish(ctx)
}

// WithReleaser attaches the hook that hands a failed update back to the feed.
func (u Update) WithReleaser(fn func(ctx context.Context, requeue bool) error) Update {
	u.release = fn
	return u
}

// Release gives up on an unfinished update. With requeue the feed delivers it
// again later; without, the feed discards or dead-letters it.
func (u Update) Release(ctx context.Context, requeue bool) error {
	if u.release == nil {
		return nil
	}
	return u.release(ctx, requeue)
}

// IdentityStore is the remote record store keyed by user id.
type IdentityStore interface {
	GetByID(ctx context.Context, id string) (*Profile, error)
	Insert(ctx context.Context, p Profile) error
	Update(ctx context.Context, p Profile) error
}

// CommerceFeed is the platform commerce service. Every call may fail; none retry.
type CommerceFeed interface {
	Catalog(ctx context.Context, ids []string) ([]CatalogEntry, error)
	Purchase(ctx context.Context, req PurchaseRequest) (Outcome, error)
	TransactionUpdates(ctx context.Context) (<-chan Update, error)
	ActiveEntitlements(ctx context.Context, userID string) ([]Outcome, error)
	SubscriptionStatus(ctx context.Context, userID, productID string) (SubscriptionStatus, error)
}
