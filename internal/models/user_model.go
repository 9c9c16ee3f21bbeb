package models

import "time"

// LastPayment is the embedded "most recent transaction" view on a user
// document. It is overwritten on every successful payment; the append-only
// history lives in the payments collection (see PaymentRecord).
type LastPayment struct {
	ReferenceID string    `json:"referenceId" firestore:"referenceId"` // session / invoice / transaction id
	CustomerID  string    `json:"customerId,omitempty" firestore:"customerId,omitempty"`
	Amount      float64   `json:"amount" firestore:"amount"` // major units (e.g. 1.99 EUR)
	Currency    string    `json:"currency" firestore:"currency"`
	Date        time.Time `json:"date" firestore:"date"`
	Provider    string    `json:"provider" firestore:"provider"` // "stripe" | "flutterwave"
}

// LastPaymentFailed records the most recent failed invoice for a user.
type LastPaymentFailed struct {
	ReferenceID string    `json:"referenceId" firestore:"referenceId"`
	Date        time.Time `json:"date" firestore:"date"`
	Reason      string    `json:"reason" firestore:"reason"`
}

// User represents a user profile document in the users collection.
// The Firebase Auth UID is the document ID.
type User struct {
	ID          string `json:"id" firestore:"-"`
	Email       string `json:"email" firestore:"email"`
	DisplayName string `json:"displayName,omitempty" firestore:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty" firestore:"photoURL,omitempty"`

	// Plan entitlement state, mutated only by the webhook reconciler and the
	// lazy-expiry downgrade on read.
	Plan                     string             `json:"plan" firestore:"plan"` // "free" | "basic" | "pro" | "premium"
	PlanUpdatedAt            time.Time          `json:"planUpdatedAt,omitempty" firestore:"planUpdatedAt,omitempty"`
	PlanExpiryDate           *time.Time         `json:"planExpiryDate,omitempty" firestore:"planExpiryDate"`
	StripeCustomerID         string             `json:"stripeCustomerId,omitempty" firestore:"stripeCustomerId,omitempty"`
	StripeSubscriptionID     string             `json:"stripeSubscriptionId,omitempty" firestore:"stripeSubscriptionId,omitempty"`
	StripeSubscriptionStatus string             `json:"stripeSubscriptionStatus,omitempty" firestore:"stripeSubscriptionStatus,omitempty"`
	LastPayment              *LastPayment       `json:"lastPayment,omitempty" firestore:"lastPayment,omitempty"`
	LastPaymentFailed        *LastPaymentFailed `json:"lastPaymentFailed,omitempty" firestore:"lastPaymentFailed,omitempty"`

	// Coin balance for one-off store purchases.
	Coins int64 `json:"coins" firestore:"coins"`

	CreatedAt time.Time `json:"createdAt" firestore:"createdAt,serverTimestamp"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"updatedAt,serverTimestamp"`
}
