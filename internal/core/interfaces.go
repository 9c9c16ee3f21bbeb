package core

import (
	"context"

	"linkrole-backend-go/internal/models"
)

// UserService defines the interface for user-profile operations.
type UserService interface {
	// GetOrCreate retrieves a user by ID. If the user doesn't exist, it
	// creates a new one on the free plan.
	GetOrCreate(ctx context.Context, userID, email, displayName, photoURL string) (*models.User, bool, error)
	// GetByID retrieves a user by ID, applying the lazy plan-expiry
	// downgrade when the stored expiry date is in the past.
	GetByID(ctx context.Context, userID string) (*models.User, error)
}

// BillingService defines the interface for the payment webhook reconciler.
// Both handlers take the raw request body exactly as received on the wire;
// nothing may parse the body before signature verification.
type BillingService interface {
	// HandleStripeWebhook verifies the Stripe-Signature header against the
	// raw payload, then dispatches the event. Returns ErrWebhookSignature
	// for verification failures and ErrWebhookProcessing (wrapped) for
	// handler/store failures; unknown event types are acknowledged silently.
	HandleStripeWebhook(ctx context.Context, signatureHeader string, payload []byte) error
	// HandleFlutterwaveWebhook checks the verif-hash header against the
	// configured secret hash, then processes the legacy Flutterwave event.
	HandleFlutterwaveWebhook(ctx context.Context, verifHash string, payload []byte) error
}
