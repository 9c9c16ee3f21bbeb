package db

import (
	"context"

	"linkrole-backend-go/internal/models"
)

// UserRepository defines the interface for user data storage operations.
//
// UpdateFields takes a map of document field paths to values and must be
// applied as a field-level partial update, never a full-document overwrite:
// the webhook reconciler and the dashboard may write to the same user
// document concurrently and target disjoint field sets. A nil value writes
// an explicit null (used to clear planExpiryDate).
type UserRepository interface {
	GetByID(ctx context.Context, userID string) (*models.User, error)
	// GetByStripeCustomerID queries for the single user whose
	// stripeCustomerId field equals customerID.
	GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	// GetByEmail queries for a user by exact (case-sensitive) email match,
	// limited to one result.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateFields(ctx context.Context, userID string, fields map[string]interface{}) error
	// AddCoins atomically increments the user's coin balance.
	AddCoins(ctx context.Context, userID string, amount int64) error
}

// PaymentRepository defines the interface for payment bookkeeping storage.
type PaymentRepository interface {
	// CreatePending stores an unresolvable payment event for manual
	// reconciliation and returns the new document id.
	CreatePending(ctx context.Context, pending *models.PendingPayment) (string, error)
	// AppendLedger writes a ledger entry keyed by the provider reference id.
	// Re-appending the same reference id overwrites the same entry, keeping
	// webhook redelivery idempotent.
	AppendLedger(ctx context.Context, record *models.PaymentRecord) error
}
