package db

import (
	"context"
	"errors"
	"fmt"
	"log"

	"cloud.google.com/go/firestore"

	"linkrole-backend-go/internal/models"
)

const (
	pendingPaymentsCollection = "pending_payments"
	paymentsCollection        = "payments"
)

// firestorePaymentRepository implements the PaymentRepository interface using Firestore.
type firestorePaymentRepository struct {
	client *firestore.Client
}

// NewFirestorePaymentRepository creates a new instance of firestorePaymentRepository.
func NewFirestorePaymentRepository(client *firestore.Client) PaymentRepository {
	if client == nil {
		log.Fatal("Firestore client is not initialized for PaymentRepository.")
	}
	return &firestorePaymentRepository{client: client}
}

// CreatePending stores an unresolvable payment event in the pending_payments
// collection for manual reconciliation. The raw payload is kept as a string
// so operators can inspect the exact provider event.
func (r *firestorePaymentRepository) CreatePending(ctx context.Context, pending *models.PendingPayment) (string, error) {
	if pending == nil {
		return "", errors.New("pending payment cannot be nil")
	}
	pending.RawPayloadStr = string(pending.RawPayload)

	docRef := r.client.Collection(pendingPaymentsCollection).NewDoc()
	if _, err := docRef.Create(ctx, pending); err != nil {
		return "", fmt.Errorf("failed to create pending payment: %w", err)
	}
	pending.ID = docRef.ID
	return docRef.ID, nil
}

// AppendLedger writes one entry to the append-only payments ledger. The
// provider reference id is the document id, so a redelivered event rewrites
// its own entry instead of producing a duplicate.
func (r *firestorePaymentRepository) AppendLedger(ctx context.Context, record *models.PaymentRecord) error {
	if record == nil {
		return errors.New("payment record cannot be nil")
	}
	if record.ReferenceID == "" {
		return errors.New("payment record requires a reference id")
	}
	_, err := r.client.Collection(paymentsCollection).Doc(record.ReferenceID).Set(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to append payment ledger entry '%s': %w", record.ReferenceID, err)
	}
	return nil
}
