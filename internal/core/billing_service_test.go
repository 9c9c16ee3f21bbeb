package core

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"linkrole-backend-go/internal/config"
	"linkrole-backend-go/internal/models"
	"linkrole-backend-go/internal/plans"
)

const (
	testStripeSecret    = "whsec_test_secret"
	testFlutterwaveHash = "flw_test_hash"
)

// fixedNow is the business clock used by the service under test. Signature
// timestamps still use the real wall clock, since the verifier's replay
// window is checked against real time.
var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestBillingService(userRepo *mockUserRepo, paymentRepo *mockPaymentRepo) *billingService {
	svc := NewBillingService(userRepo, paymentRepo, &config.Config{
		StripeWebhookSecret:   testStripeSecret,
		FlutterwaveSecretHash: testFlutterwaveHash,
	}, zap.NewNop()).(*billingService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

// signedHeader builds a Stripe-Signature header for payload at the given time.
func signedHeader(payload []byte, secret string, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

// stripeEvent builds a minimal event envelope around a data.object body.
func stripeEvent(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":"2024-04-10","type":%q,"data":{"object":%s}}`, eventType, object))
}

func deliver(t *testing.T, svc *billingService, payload []byte) error {
	t.Helper()
	header := signedHeader(payload, testStripeSecret, time.Now())
	return svc.HandleStripeWebhook(context.Background(), header, payload)
}

// --- Signature verification ---

func TestStripeWebhookSignatureRoundTrip(t *testing.T) {
	svc := newTestBillingService(newMockUserRepo(), newMockPaymentRepo())
	payload := stripeEvent("product.created", `{"id":"prod_1"}`)

	err := deliver(t, svc, payload)
	require.NoError(t, err)
}

func TestStripeWebhookSignatureDocumentedScheme(t *testing.T) {
	// Recompute the signature by hand: hex(hmac-sha256("{t}.{body}", secret)).
	svc := newTestBillingService(newMockUserRepo(), newMockPaymentRepo())
	payload := stripeEvent("product.created", `{"id":"prod_1"}`)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testStripeSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	err := svc.HandleStripeWebhook(context.Background(), header, payload)
	require.NoError(t, err)
}

func TestStripeWebhookTamperedBodyRejected(t *testing.T) {
	svc := newTestBillingService(newMockUserRepo(), newMockPaymentRepo())
	payload := stripeEvent("product.created", `{"id":"prod_1"}`)
	header := signedHeader(payload, testStripeSecret, time.Now())

	// Flip one byte after signing.
	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = 'X'

	err := svc.HandleStripeWebhook(context.Background(), header, tampered)
	require.ErrorIs(t, err, ErrWebhookSignature)
}

func TestStripeWebhookTimestampOutsideTolerance(t *testing.T) {
	// HMAC is valid, but t is beyond the 300s replay window.
	svc := newTestBillingService(newMockUserRepo(), newMockPaymentRepo())
	payload := stripeEvent("product.created", `{"id":"prod_1"}`)
	header := signedHeader(payload, testStripeSecret, time.Now().Add(-10*time.Minute))

	err := svc.HandleStripeWebhook(context.Background(), header, payload)
	require.ErrorIs(t, err, ErrWebhookSignature)
}

func TestStripeWebhookMissingSignatureFields(t *testing.T) {
	svc := newTestBillingService(newMockUserRepo(), newMockPaymentRepo())
	payload := stripeEvent("product.created", `{"id":"prod_1"}`)

	for _, header := range []string{"", "t=123", "v1=deadbeef", "garbage"} {
		err := svc.HandleStripeWebhook(context.Background(), header, payload)
		assert.ErrorIs(t, err, ErrWebhookSignature, "header %q", header)
	}
}

func TestStripeWebhookWrongSecretRejected(t *testing.T) {
	svc := newTestBillingService(newMockUserRepo(), newMockPaymentRepo())
	payload := stripeEvent("product.created", `{"id":"prod_1"}`)
	header := signedHeader(payload, "whsec_other_secret", time.Now())

	err := svc.HandleStripeWebhook(context.Background(), header, payload)
	require.ErrorIs(t, err, ErrWebhookSignature)
}

// --- Checkout completion ---

const basicCheckoutObject = `{
	"id": "sess_1",
	"client_reference_id": "u123_basic",
	"customer": "cus_1",
	"amount_total": 199,
	"currency": "eur"
}`

func TestCheckoutCompletedBasicUpgrade(t *testing.T) {
	userRepo := newMockUserRepo(&models.User{ID: "u123", Email: "u123@example.com", Plan: "free"})
	paymentRepo := newMockPaymentRepo()
	svc := newTestBillingService(userRepo, paymentRepo)

	err := deliver(t, svc, stripeEvent("checkout.session.completed", basicCheckoutObject))
	require.NoError(t, err)

	user := userRepo.snapshot("u123")
	assert.Equal(t, "basic", user.Plan)
	assert.Equal(t, "cus_1", user.StripeCustomerID)
	require.NotNil(t, user.PlanExpiryDate)
	assert.WithinDuration(t, fixedNow.AddDate(0, 0, 7), *user.PlanExpiryDate, time.Second)
	require.NotNil(t, user.LastPayment)
	assert.InDelta(t, 1.99, user.LastPayment.Amount, 1e-9)
	assert.Equal(t, "eur", user.LastPayment.Currency)
	assert.Equal(t, "sess_1", user.LastPayment.ReferenceID)
	assert.Equal(t, "stripe", user.LastPayment.Provider)

	record, ok := paymentRepo.ledger["sess_1"]
	require.True(t, ok, "expected a ledger entry for the session")
	assert.Equal(t, "u123", record.UserID)
	assert.Equal(t, "checkout", record.Kind)
}

func TestCheckoutCompletedIdempotent(t *testing.T) {
	userRepo := newMockUserRepo(&models.User{ID: "u123", Email: "u123@example.com", Plan: "free"})
	paymentRepo := newMockPaymentRepo()
	svc := newTestBillingService(userRepo, paymentRepo)
	payload := stripeEvent("checkout.session.completed", basicCheckoutObject)

	require.NoError(t, deliver(t, svc, payload))
	first := userRepo.snapshot("u123")

	// Redelivery of the identical event must not change the outcome: the
	// expiry is recomputed from the clock, not incremented, and the ledger
	// entry is keyed by the session id.
	require.NoError(t, deliver(t, svc, payload))
	second := userRepo.snapshot("u123")

	assert.Equal(t, first, second)
	assert.Len(t, paymentRepo.ledger, 1)
}

func TestCheckoutCompletedUnmappedPlanFallsBackToPro(t *testing.T) {
	userRepo := newMockUserRepo(&models.User{ID: "u123", Plan: "free"})
	svc := newTestBillingService(userRepo, newMockPaymentRepo())

	object := `{"id":"sess_2","client_reference_id":"u123_mystery","customer":"cus_1","amount_total":500,"currency":"eur"}`
	require.NoError(t, deliver(t, svc, stripeEvent("checkout.session.completed", object)))

	// Documented fallback: unknown plan identifiers grant pro.
	assert.Equal(t, "pro", userRepo.snapshot("u123").Plan)
}

func TestCheckoutResolutionPrecedence(t *testing.T) {
	// u1 is matchable via the correlation token, u2 via the customer id.
	// Strategy 1 must win and strategy 2 must not even be attempted.
	u1 := &models.User{ID: "u1", Plan: "free"}
	u2 := &models.User{ID: "u2", Plan: "free", StripeCustomerID: "cus_9"}
	userRepo := newMockUserRepo(u1, u2)
	svc := newTestBillingService(userRepo, newMockPaymentRepo())

	object := `{"id":"sess_3","client_reference_id":"u1_basic","customer":"cus_9","amount_total":199,"currency":"eur"}`
	require.NoError(t, deliver(t, svc, stripeEvent("checkout.session.completed", object)))

	assert.Equal(t, "basic", userRepo.snapshot("u1").Plan)
	assert.Equal(t, "free", userRepo.snapshot("u2").Plan)
	assert.Zero(t, userRepo.customerLookups, "customer-id strategy must not run after a token match")
}

func TestCheckoutMalformedTokenFallsThrough(t *testing.T) {
	user := &models.User{ID: "u5", Plan: "free", StripeCustomerID: "cus_5"}
	userRepo := newMockUserRepo(user)
	svc := newTestBillingService(userRepo, newMockPaymentRepo())

	// No underscore: the token is treated as absent, and the customer id
	// resolves the user instead of the request failing.
	object := `{"id":"sess_4","client_reference_id":"noseparator","customer":"cus_5","amount_total":199,"currency":"eur","metadata":{"plan":"basic"}}`
	require.NoError(t, deliver(t, svc, stripeEvent("checkout.session.completed", object)))

	assert.Equal(t, "basic", userRepo.snapshot("u5").Plan)
}

func TestCheckoutUnknownCustomerCreatesPendingPayment(t *testing.T) {
	userRepo := newMockUserRepo()
	paymentRepo := newMockPaymentRepo()
	svc := newTestBillingService(userRepo, paymentRepo)

	object := `{"id":"sess_5","customer":"cus_unknown","customer_email":"ghost@example.com","amount_total":399,"currency":"eur","metadata":{"plan":"pro"}}`
	err := deliver(t, svc, stripeEvent("checkout.session.completed", object))

	// Not an error: the provider must not redeliver an event whose real
	// failure is "we don't know this customer".
	require.NoError(t, err)
	require.Len(t, paymentRepo.pendings, 1)
	pending := paymentRepo.pendings[0]
	assert.Equal(t, "ghost@example.com", pending.Email)
	assert.Equal(t, "cus_unknown", pending.CustomerID)
	assert.Equal(t, "pro", pending.Plan)
	assert.Equal(t, "sess_5", pending.ReferenceID)
	assert.NotEmpty(t, pending.RawPayload)
}

func TestCheckoutStoreWriteFailureSurfaced(t *testing.T) {
	userRepo := newMockUserRepo(&models.User{ID: "u123", Plan: "free"})
	userRepo.updateErr = fmt.Errorf("firestore unavailable")
	svc := newTestBillingService(userRepo, newMockPaymentRepo())

	err := deliver(t, svc, stripeEvent("checkout.session.completed", basicCheckoutObject))
	require.ErrorIs(t, err, ErrWebhookProcessing)
}

func TestCoinsCheckoutCreditsPackage(t *testing.T) {
	userRepo := newMockUserRepo(&models.User{ID: "u123", Plan: "basic", Coins: 10})
	paymentRepo := newMockPaymentRepo()
	svc := newTestBillingService(userRepo, paymentRepo)

	object := `{"id":"sess_6","client_reference_id":"u123_coins_popular","customer":"cus_1","amount_total":399,"currency":"eur"}`
	require.NoError(t, deliver(t, svc, stripeEvent("checkout.session.completed", object)))

	user := userRepo.snapshot("u123")
	assert.Equal(t, int64(510), user.Coins)
	// A coin purchase never touches the plan.
	assert.Equal(t, "basic", user.Plan)
	record, ok := paymentRepo.ledger["sess_6"]
	require.True(t, ok)
	assert.Equal(t, "coins", record.Kind)
}

// --- Subscription lifecycle ---

func TestSubscriptionUpdatedActiveMapsPriceID(t *testing.T) {
	user := &models.User{ID: "u7", Plan: "basic", StripeCustomerID: "cus_7"}
	userRepo := newMockUserRepo(user)
	svc := newTestBillingService(userRepo, newMockPaymentRepo())

	object := `{"id":"sub_1","customer":"cus_7","status":"active","items":{"data":[{"price":{"id":"price_pro_monthly"}}]}}`
	require.NoError(t, deliver(t, svc, stripeEvent("customer.subscription.updated", object)))

	got := userRepo.snapshot("u7")
	assert.Equal(t, "pro", got.Plan)
	assert.Equal(t, "active", got.StripeSubscriptionStatus)
	require.NotNil(t, got.PlanExpiryDate)
	assert.WithinDuration(t, fixedNow.AddDate(0, 1, 0), *got.PlanExpiryDate, time.Second)
}

func TestSubscriptionUpdatedNonActiveIgnored(t *testing.T) {
	user := &models.User{ID: "u7", Plan: "pro", StripeCustomerID: "cus_7"}
	userRepo := newMockUserRepo(user)
	svc := newTestBillingService(userRepo, newMockPaymentRepo())

	object := `{"id":"sub_1","customer":"cus_7","status":"past_due"}`
	require.NoError(t, deliver(t, svc, stripeEvent("customer.subscription.updated", object)))

	assert.Equal(t, "pro", userRepo.snapshot("u7").Plan)
}

func TestSubscriptionDeletedDowngradesUnconditionally(t *testing.T) {
	expiry := fixedNow.AddDate(1, 0, 0)
	user := &models.User{
		ID:               "u9",
		Plan:             "premium",
		StripeCustomerID: "cus_9",
		PlanExpiryDate:   &expiry, // still a year of runway; downgrade anyway
	}
	userRepo := newMockUserRepo(user)
	svc := newTestBillingService(userRepo, newMockPaymentRepo())

	object := `{"id":"sub_2","customer":"cus_9","status":"canceled"}`
	require.NoError(t, deliver(t, svc, stripeEvent("customer.subscription.deleted", object)))

	got := userRepo.snapshot("u9")
	assert.Equal(t, "free", got.Plan)
	assert.Equal(t, "subscription_cancelled", got.StripeSubscriptionStatus)
	// The customer id is retained for future re-subscription matching.
	assert.Equal(t, "cus_9", got.StripeCustomerID)
}

func TestSubscriptionDeletedUnknownCustomerAcknowledged(t *testing.T) {
	svc := newTestBillingService(newMockUserRepo(), newMockPaymentRepo())
	object := `{"id":"sub_3","customer":"cus_missing","status":"canceled"}`
	require.NoError(t, deliver(t, svc, stripeEvent("customer.subscription.deleted", object)))
}

// --- Invoices ---

func TestInvoicePaymentFailedDowngrade(t *testing.T) {
	user := &models.User{ID: "u9", Plan: "pro", StripeCustomerID: "cus_9"}
	userRepo := newMockUserRepo(user)
	svc := newTestBillingService(userRepo, newMockPaymentRepo())

	object := `{"id":"in_1","customer":"cus_9","currency":"eur"}`
	require.NoError(t, deliver(t, svc, stripeEvent("invoice.payment_failed", object)))

	got := userRepo.snapshot("u9")
	assert.Equal(t, "free", got.Plan)
	assert.Equal(t, "payment_failed", got.StripeSubscriptionStatus)
	require.NotNil(t, got.LastPaymentFailed)
	assert.Equal(t, "in_1", got.LastPaymentFailed.ReferenceID)
	assert.Equal(t, "payment_failed", got.LastPaymentFailed.Reason)
}

func TestInvoicePaymentSucceededLedgerOnly(t *testing.T) {
	expiry := fixedNow.AddDate(0, 1, 0)
	user := &models.User{ID: "u8", Plan: "pro", StripeCustomerID: "cus_8", PlanExpiryDate: &expiry}
	userRepo := newMockUserRepo(user)
	paymentRepo := newMockPaymentRepo()
	svc := newTestBillingService(userRepo, paymentRepo)

	object := `{"id":"in_2","customer":"cus_8","amount_paid":399,"currency":"eur"}`
	require.NoError(t, deliver(t, svc, stripeEvent("invoice.payment_succeeded", object)))

	got := userRepo.snapshot("u8")
	// Renewal bookkeeping only: the plan is untouched.
	assert.Equal(t, "pro", got.Plan)
	require.NotNil(t, got.LastPayment)
	assert.Equal(t, "in_2", got.LastPayment.ReferenceID)
	assert.InDelta(t, 3.99, got.LastPayment.Amount, 1e-9)

	record, ok := paymentRepo.ledger["in_2"]
	require.True(t, ok)
	assert.Equal(t, "invoice", record.Kind)
}

// --- Unknown events ---

func TestUnknownEventTypeAcknowledged(t *testing.T) {
	userRepo := newMockUserRepo(&models.User{ID: "u1", Plan: "pro"})
	paymentRepo := newMockPaymentRepo()
	svc := newTestBillingService(userRepo, paymentRepo)

	require.NoError(t, deliver(t, svc, stripeEvent("customer.created", `{"id":"cus_1"}`)))
	assert.Equal(t, "pro", userRepo.snapshot("u1").Plan)
	assert.Empty(t, paymentRepo.pendings)
	assert.Empty(t, paymentRepo.ledger)
}

// --- Flutterwave (legacy) ---

func TestFlutterwaveInvalidHashRejected(t *testing.T) {
	svc := newTestBillingService(newMockUserRepo(), newMockPaymentRepo())
	err := svc.HandleFlutterwaveWebhook(context.Background(), "wrong-hash", []byte(`{"event":"charge.completed"}`))
	require.ErrorIs(t, err, ErrInvalidWebhookHash)
}

func TestFlutterwaveChargeCompletedUpgrade(t *testing.T) {
	user := &models.User{ID: "u42", Email: "u42@example.com", Plan: "free"}
	userRepo := newMockUserRepo(user)
	paymentRepo := newMockPaymentRepo()
	svc := newTestBillingService(userRepo, paymentRepo)

	payload := []byte(`{
		"event": "charge.completed",
		"data": {
			"id": 778899,
			"status": "successful",
			"tx_ref": "premium_20240601",
			"amount": 39.99,
			"currency": "EUR",
			"customer": {"id": 1, "email": "u42@example.com"}
		}
	}`)
	require.NoError(t, svc.HandleFlutterwaveWebhook(context.Background(), testFlutterwaveHash, payload))

	got := userRepo.snapshot("u42")
	assert.Equal(t, "premium", got.Plan)
	require.NotNil(t, got.LastPayment)
	assert.Equal(t, "flutterwave", got.LastPayment.Provider)
	assert.Equal(t, "778899", got.LastPayment.ReferenceID)
	require.NotNil(t, got.PlanExpiryDate)
	assert.WithinDuration(t, fixedNow.AddDate(1, 0, 0), *got.PlanExpiryDate, time.Second)
}

func TestFlutterwaveUnknownCustomerCreatesPendingPayment(t *testing.T) {
	paymentRepo := newMockPaymentRepo()
	svc := newTestBillingService(newMockUserRepo(), paymentRepo)

	payload := []byte(`{
		"event": "charge.completed",
		"data": {
			"id": 12345,
			"status": "successful",
			"tx_ref": "pro_20240601",
			"amount": 3.99,
			"currency": "EUR",
			"customer": {"email": "ghost@example.com"}
		}
	}`)
	require.NoError(t, svc.HandleFlutterwaveWebhook(context.Background(), testFlutterwaveHash, payload))

	require.Len(t, paymentRepo.pendings, 1)
	assert.Equal(t, "flutterwave", paymentRepo.pendings[0].Provider)
	assert.Equal(t, "ghost@example.com", paymentRepo.pendings[0].Email)
}

func TestFlutterwaveSubscriptionCancelled(t *testing.T) {
	user := &models.User{ID: "u42", Email: "u42@example.com", Plan: "pro"}
	userRepo := newMockUserRepo(user)
	svc := newTestBillingService(userRepo, newMockPaymentRepo())

	payload := []byte(`{"event":"subscription.cancelled","data":{"customer":{"email":"u42@example.com"}}}`)
	require.NoError(t, svc.HandleFlutterwaveWebhook(context.Background(), testFlutterwaveHash, payload))

	got := userRepo.snapshot("u42")
	assert.Equal(t, "free", got.Plan)
	assert.Equal(t, "subscription_cancelled", got.StripeSubscriptionStatus)
}

// --- Token parsing ---

func TestParseCorrelationToken(t *testing.T) {
	cases := []struct {
		raw    string
		ok     bool
		userID string
		planID string
		coins  bool
		pkgID  string
	}{
		{"u123_basic", true, "u123", "basic", false, ""},
		{"u123_mystery", true, "u123", "mystery", false, ""},
		{"u123_coins_popular", true, "u123", "", true, "popular"},
		{"u123_coins_best_value", true, "u123", "", true, "best_value"},
		{"", false, "", "", false, ""},
		{"noseparator", false, "", "", false, ""},
		{"_basic", false, "", "", false, ""},
		{"u123_", false, "", "", false, ""},
		{"u123_coins_", false, "", "", false, ""},
	}
	for _, tc := range cases {
		tok, ok := parseCorrelationToken(tc.raw)
		assert.Equal(t, tc.ok, ok, "token %q", tc.raw)
		if tc.ok {
			assert.Equal(t, tc.userID, tok.userID, "token %q", tc.raw)
			assert.Equal(t, tc.planID, tok.planID, "token %q", tc.raw)
			assert.Equal(t, tc.coins, tok.coins, "token %q", tc.raw)
			assert.Equal(t, tc.pkgID, tok.packageID, "token %q", tc.raw)
		}
	}
}

// Guard against the enum invariant: nothing the reconciler writes may be
// outside the four canonical plans.
func TestRecognizedPlansAreCanonical(t *testing.T) {
	for _, id := range []string{"basic", "pro", "premium", "price_basic_weekly", "price_pro_monthly", "price_premium_yearly"} {
		plan, ok := plans.Normalize(id)
		require.True(t, ok, "identifier %q", id)
		assert.True(t, plans.Valid(plan))
	}
	assert.True(t, plans.Valid(plans.Fallback))
}
