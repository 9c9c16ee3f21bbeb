package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"linkrole-backend-go/internal/db"
	"linkrole-backend-go/internal/models"
)

// --- Mock repositories ---

// mockUserRepo is an in-memory UserRepository. It applies UpdateFields to the
// stored user the way Firestore would (field-level merge) and counts lookups
// per strategy so resolution-precedence tests can assert which path was
// taken.
type mockUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User

	idLookups       int
	customerLookups int
	emailLookups    int

	getErr    error
	updateErr error
	coinsErr  error
}

func newMockUserRepo(users ...*models.User) *mockUserRepo {
	m := &mockUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) GetByID(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idLookups++
	if m.getErr != nil {
		return nil, m.getErr
	}
	user, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("user '%s': %w", userID, db.ErrNotFound)
	}
	clone := *user
	return &clone, nil
}

func (m *mockUserRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customerLookups++
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, user := range m.users {
		if user.StripeCustomerID == customerID {
			clone := *user
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("customer '%s': %w", customerID, db.ErrNotFound)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emailLookups++
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, user := range m.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("email '%s': %w", email, db.ErrNotFound)
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[user.ID]; exists {
		return fmt.Errorf("user '%s' already exists", user.ID)
	}
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *mockUserRepo) UpdateFields(ctx context.Context, userID string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user '%s': %w", userID, db.ErrNotFound)
	}
	for path, value := range fields {
		applyUserField(user, path, value)
	}
	return nil
}

func (m *mockUserRepo) AddCoins(ctx context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coinsErr != nil {
		return m.coinsErr
	}
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user '%s': %w", userID, db.ErrNotFound)
	}
	user.Coins += amount
	return nil
}

// snapshot returns a copy of the stored user for assertions.
func (m *mockUserRepo) snapshot(userID string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[userID]
}

// applyUserField mirrors a Firestore field-level merge onto the struct.
func applyUserField(user *models.User, path string, value interface{}) {
	switch path {
	case "plan":
		user.Plan = value.(string)
	case "planUpdatedAt":
		user.PlanUpdatedAt = value.(time.Time)
	case "planExpiryDate":
		if value == nil {
			user.PlanExpiryDate = nil
		} else {
			t := value.(time.Time)
			user.PlanExpiryDate = &t
		}
	case "stripeCustomerId":
		user.StripeCustomerID = value.(string)
	case "stripeSubscriptionId":
		if value == nil {
			user.StripeSubscriptionID = ""
		} else {
			user.StripeSubscriptionID = value.(string)
		}
	case "stripeSubscriptionStatus":
		user.StripeSubscriptionStatus = value.(string)
	case "lastPayment":
		lp := value.(models.LastPayment)
		user.LastPayment = &lp
	case "lastPaymentFailed":
		lpf := value.(models.LastPaymentFailed)
		user.LastPaymentFailed = &lpf
	case "updatedAt":
		user.UpdatedAt = value.(time.Time)
	}
}

// mockPaymentRepo is an in-memory PaymentRepository.
type mockPaymentRepo struct {
	mu       sync.Mutex
	pendings []*models.PendingPayment
	ledger   map[string]*models.PaymentRecord

	pendingErr error
	ledgerErr  error
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{ledger: make(map[string]*models.PaymentRecord)}
}

func (m *mockPaymentRepo) CreatePending(ctx context.Context, pending *models.PendingPayment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingErr != nil {
		return "", m.pendingErr
	}
	pending.ID = fmt.Sprintf("pending-%d", len(m.pendings)+1)
	m.pendings = append(m.pendings, pending)
	return pending.ID, nil
}

func (m *mockPaymentRepo) AppendLedger(ctx context.Context, record *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledgerErr != nil {
		return m.ledgerErr
	}
	m.ledger[record.ReferenceID] = record
	return nil
}
