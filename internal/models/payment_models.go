package models

import (
	"encoding/json"
	"time"
)

// PendingPayment is written to the pending_payments collection when a payment
// event cannot be matched to any user. It carries the raw provider payload
// plus the best-effort extracted fields so an operator can reconcile it by
// hand. Pending payments are never retried automatically.
type PendingPayment struct {
	ID            string          `json:"id" firestore:"-"`
	Email         string          `json:"email,omitempty" firestore:"email,omitempty"`
	UserID        string          `json:"userId,omitempty" firestore:"userId,omitempty"`
	CustomerID    string          `json:"customerId,omitempty" firestore:"customerId,omitempty"`
	Plan          string          `json:"plan,omitempty" firestore:"plan,omitempty"`
	ReferenceID   string          `json:"referenceId,omitempty" firestore:"referenceId,omitempty"`
	Amount        float64         `json:"amount,omitempty" firestore:"amount,omitempty"`
	Currency      string          `json:"currency,omitempty" firestore:"currency,omitempty"`
	Provider      string          `json:"provider" firestore:"provider"`
	RawPayload    json.RawMessage `json:"rawPayload,omitempty" firestore:"-"`
	RawPayloadStr string          `json:"-" firestore:"rawPayload,omitempty"`
	CreatedAt     time.Time       `json:"createdAt" firestore:"createdAt,serverTimestamp"`
}

// PaymentRecord is one entry in the append-only payments ledger. The document
// ID is the provider-side reference id (checkout session, invoice or
// transaction id), so a redelivered event overwrites its own entry instead of
// duplicating it.
type PaymentRecord struct {
	ReferenceID string    `json:"referenceId" firestore:"referenceId"`
	UserID      string    `json:"userId" firestore:"userId"`
	CustomerID  string    `json:"customerId,omitempty" firestore:"customerId,omitempty"`
	Plan        string    `json:"plan,omitempty" firestore:"plan,omitempty"`
	Amount      float64   `json:"amount" firestore:"amount"`
	Currency    string    `json:"currency" firestore:"currency"`
	Provider    string    `json:"provider" firestore:"provider"`
	Kind        string    `json:"kind" firestore:"kind"` // "checkout" | "invoice" | "coins"
	Date        time.Time `json:"date" firestore:"date"`
}
