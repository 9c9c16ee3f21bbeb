package core

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"linkrole-backend-go/internal/config"
	"linkrole-backend-go/internal/db"
	"linkrole-backend-go/internal/models"
	"linkrole-backend-go/internal/plans"
)

// Errors surfaced by the billing service. The handler maps
// ErrWebhookSignature to 400 and ErrInvalidWebhookHash to 401; anything else
// becomes a 500 so the provider redelivers.
var (
	ErrWebhookSignature   = errors.New("stripe webhook signature verification failed")
	ErrInvalidWebhookHash = errors.New("flutterwave webhook hash verification failed")
	ErrWebhookProcessing  = errors.New("webhook processing failed")
)

// Recognized Stripe event types. Anything else is logged and acknowledged so
// the provider does not retry events this service intentionally ignores.
const (
	eventCheckoutCompleted      = "checkout.session.completed"
	eventSubscriptionUpdated    = "customer.subscription.updated"
	eventSubscriptionDeleted    = "customer.subscription.deleted"
	eventInvoicePaymentSuccess  = "invoice.payment_succeeded"
	eventInvoicePaymentFailed   = "invoice.payment_failed"
	flwEventChargeCompleted     = "charge.completed"
	flwEventSubscriptionCancel  = "subscription.cancelled"
	reasonSubscriptionCancelled = "subscription_cancelled"
	reasonPaymentFailed         = "payment_failed"
	providerStripe              = "stripe"
	providerFlutterwave         = "flutterwave"
)

// billingService reconciles payment-provider webhook events against user
// documents: verify, classify, resolve the user, apply an idempotent plan
// mutation. It holds no per-request state; the store is the only shared
// mutable resource.
type billingService struct {
	userRepo              db.UserRepository
	paymentRepo           db.PaymentRepository
	stripeWebhookSecret   string
	flutterwaveSecretHash string
	logger                *zap.Logger
	now                   func() time.Time
}

// NewBillingService creates a BillingService wired to the given repositories
// and config. The webhook secrets are captured here; nothing on the webhook
// path reads process-wide state.
func NewBillingService(userRepo db.UserRepository, paymentRepo db.PaymentRepository, appConfig *config.Config, logger *zap.Logger) BillingService {
	return &billingService{
		userRepo:              userRepo,
		paymentRepo:           paymentRepo,
		stripeWebhookSecret:   appConfig.StripeWebhookSecret,
		flutterwaveSecretHash: appConfig.FlutterwaveSecretHash,
		logger:                logger,
		now:                   time.Now,
	}
}

// HandleStripeWebhook verifies the signature over the raw payload, then
// dispatches on the event type. Verification always runs first: a body that
// fails it is never interpreted.
func (s *billingService) HandleStripeWebhook(ctx context.Context, signatureHeader string, payload []byte) error {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.stripeWebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	eventType := string(event.Type)
	s.logger.Info("Stripe webhook event received", zap.String("type", eventType))

	switch eventType {
	case eventCheckoutCompleted:
		var session models.CheckoutSessionPayload
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("%w: decoding checkout session: %v", ErrWebhookProcessing, err)
		}
		err = s.handleCheckoutCompleted(ctx, &session, event.Data.Raw)

	case eventSubscriptionUpdated:
		var sub models.SubscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: decoding subscription: %v", ErrWebhookProcessing, err)
		}
		err = s.handleSubscriptionUpdated(ctx, &sub)

	case eventSubscriptionDeleted:
		var sub models.SubscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: decoding subscription: %v", ErrWebhookProcessing, err)
		}
		err = s.handleSubscriptionDeleted(ctx, &sub)

	case eventInvoicePaymentSuccess:
		var invoice models.InvoicePayload
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("%w: decoding invoice: %v", ErrWebhookProcessing, err)
		}
		err = s.handleInvoicePaymentSucceeded(ctx, &invoice)

	case eventInvoicePaymentFailed:
		var invoice models.InvoicePayload
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("%w: decoding invoice: %v", ErrWebhookProcessing, err)
		}
		err = s.handleInvoicePaymentFailed(ctx, &invoice)

	default:
		s.logger.Info("Unhandled Stripe event type acknowledged", zap.String("type", eventType))
		return nil
	}

	if err != nil {
		s.logger.Error("Stripe webhook handler failed", zap.String("type", eventType), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrWebhookProcessing, eventType, err)
	}
	return nil
}

// correlationToken is the parsed form of a checkout client_reference_id:
// "{userId}_{planId}" for plan purchases, "{userId}_coins_{packageId}" for
// coin purchases.
type correlationToken struct {
	userID    string
	planID    string
	coins     bool
	packageID string
}

// parseCorrelationToken splits a client_reference_id. A malformed token
// (empty, missing underscore, empty parts) is reported as absent so the
// caller falls through to the next resolution strategy instead of failing.
func parseCorrelationToken(raw string) (correlationToken, bool) {
	if raw == "" {
		return correlationToken{}, false
	}
	parts := strings.Split(raw, "_")
	if len(parts) >= 3 && parts[1] == "coins" {
		tok := correlationToken{
			userID:    parts[0],
			coins:     true,
			packageID: strings.Join(parts[2:], "_"),
		}
		if tok.userID == "" || tok.packageID == "" {
			return correlationToken{}, false
		}
		return tok, true
	}
	if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
		return correlationToken{userID: parts[0], planID: parts[1]}, true
	}
	return correlationToken{}, false
}

// resolveUser finds the user a payment event belongs to. Resolution order,
// first match wins:
//  1. correlation-token user id (authoritative for checkout events),
//  2. store query by stripeCustomerId,
//  3. store query by email (exact match, one result).
//
// Returns (nil, nil) when no strategy matched; a non-nil error means a store
// failure, not "no match".
func (s *billingService) resolveUser(ctx context.Context, token *correlationToken, customerID, email string) (*models.User, error) {
	if token != nil {
		user, err := s.userRepo.GetByID(ctx, token.userID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		s.logger.Warn("Correlation token user not found, falling through",
			zap.String("user_id", token.userID))
	}

	if customerID != "" {
		user, err := s.userRepo.GetByStripeCustomerID(ctx, customerID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}

	if email != "" {
		user, err := s.userRepo.GetByEmail(ctx, email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}

	return nil, nil
}

// normalizePlan maps a provider-side plan identifier through the catalog.
// Unknown identifiers fall back to plans.Fallback; that is the documented
// production behavior, logged at Warn because it silently grants a paid tier.
func (s *billingService) normalizePlan(identifier string) plans.Plan {
	if plan, ok := plans.Normalize(identifier); ok {
		return plan
	}
	s.logger.Warn("Unmapped plan identifier, applying fallback plan",
		zap.String("identifier", identifier),
		zap.String("fallback", string(plans.Fallback)))
	return plans.Fallback
}

// handleCheckoutCompleted applies a completed checkout: a plan purchase or a
// coin purchase, distinguished by the correlation token. Unresolvable
// sessions go to the pending-payments fallback and are still acknowledged.
func (s *billingService) handleCheckoutCompleted(ctx context.Context, session *models.CheckoutSessionPayload, raw json.RawMessage) error {
	token, hasToken := parseCorrelationToken(session.ClientReferenceID)
	if hasToken && token.coins {
		return s.handleCoinsCheckout(ctx, &token, session, raw)
	}

	var tokenRef *correlationToken
	if hasToken {
		tokenRef = &token
	}

	user, err := s.resolveUser(ctx, tokenRef, session.Customer, session.Email())
	if err != nil {
		return err
	}

	planID := ""
	if hasToken {
		planID = token.planID
	} else if session.Metadata != nil {
		planID = session.Metadata["plan"]
	}
	plan := s.normalizePlan(planID)

	now := s.now()
	amount := float64(session.AmountTotal) / 100

	if user == nil {
		return s.createPendingPayment(ctx, &models.PendingPayment{
			Email:       session.Email(),
			UserID:      tokenUserID(tokenRef),
			CustomerID:  session.Customer,
			Plan:        string(plan),
			ReferenceID: session.ID,
			Amount:      amount,
			Currency:    session.Currency,
			Provider:    providerStripe,
			RawPayload:  raw,
		})
	}

	lastPayment := models.LastPayment{
		ReferenceID: session.ID,
		CustomerID:  session.Customer,
		Amount:      amount,
		Currency:    session.Currency,
		Date:        now,
		Provider:    providerStripe,
	}

	fields := map[string]interface{}{
		"plan":             string(plan),
		"planUpdatedAt":    now,
		"planExpiryDate":   expiryValue(plan, now),
		"stripeCustomerId": session.Customer,
		"lastPayment":      lastPayment,
		"updatedAt":        now,
	}
	if session.Subscription != "" {
		fields["stripeSubscriptionId"] = session.Subscription
	}
	if err := s.userRepo.UpdateFields(ctx, user.ID, fields); err != nil {
		return err
	}

	s.logger.Info("User plan updated from checkout",
		zap.String("user_id", user.ID),
		zap.String("plan", string(plan)),
		zap.String("session_id", session.ID))

	return s.appendLedger(ctx, &models.PaymentRecord{
		ReferenceID: session.ID,
		UserID:      user.ID,
		CustomerID:  session.Customer,
		Plan:        string(plan),
		Amount:      amount,
		Currency:    session.Currency,
		Provider:    providerStripe,
		Kind:        "checkout",
		Date:        now,
	})
}

// handleCoinsCheckout credits a coin package instead of changing the plan.
// The coin balance is an increment, so a redelivered coins checkout credits
// twice; accepted for this low-value path, same as the dashboard's own
// increments.
func (s *billingService) handleCoinsCheckout(ctx context.Context, token *correlationToken, session *models.CheckoutSessionPayload, raw json.RawMessage) error {
	now := s.now()
	amount := float64(session.AmountTotal) / 100

	pkg, pkgOK := plans.CoinPackageByID(token.packageID)

	user, err := s.resolveUser(ctx, token, session.Customer, session.Email())
	if err != nil {
		return err
	}
	if user == nil || !pkgOK {
		if !pkgOK {
			s.logger.Error("Unknown coin package in checkout",
				zap.String("package_id", token.packageID),
				zap.String("session_id", session.ID))
		}
		return s.createPendingPayment(ctx, &models.PendingPayment{
			Email:       session.Email(),
			UserID:      token.userID,
			CustomerID:  session.Customer,
			ReferenceID: session.ID,
			Amount:      amount,
			Currency:    session.Currency,
			Provider:    providerStripe,
			RawPayload:  raw,
		})
	}

	if err := s.userRepo.AddCoins(ctx, user.ID, pkg.Coins); err != nil {
		return err
	}

	s.logger.Info("Coins credited from checkout",
		zap.String("user_id", user.ID),
		zap.String("package_id", pkg.ID),
		zap.Int64("coins", pkg.Coins))

	return s.appendLedger(ctx, &models.PaymentRecord{
		ReferenceID: session.ID,
		UserID:      user.ID,
		CustomerID:  session.Customer,
		Amount:      amount,
		Currency:    session.Currency,
		Provider:    providerStripe,
		Kind:        "coins",
		Date:        now,
	})
}

// handleSubscriptionUpdated applies a plan change on an active subscription.
// The event carries no transaction, so lastPayment is left untouched.
func (s *billingService) handleSubscriptionUpdated(ctx context.Context, sub *models.SubscriptionPayload) error {
	if sub.Status != "active" {
		s.logger.Info("Ignoring non-active subscription update",
			zap.String("subscription_id", sub.ID),
			zap.String("status", sub.Status))
		return nil
	}

	user, err := s.resolveUser(ctx, nil, sub.Customer, "")
	if err != nil {
		return err
	}
	if user == nil {
		s.logger.Warn("No user found for subscription update",
			zap.String("customer_id", sub.Customer))
		return nil
	}

	// Plan precedence: mapped price id, then checkout metadata, then the
	// user's current plan (a status-only update keeps the tier).
	var plan plans.Plan
	if p, ok := plans.Normalize(sub.PriceID()); ok {
		plan = p
	} else if p, ok := plans.Normalize(sub.Metadata["plan"]); ok {
		plan = p
	} else if plans.Valid(plans.Plan(user.Plan)) {
		plan = plans.Plan(user.Plan)
	} else {
		plan = s.normalizePlan(sub.PriceID())
	}

	now := s.now()
	fields := map[string]interface{}{
		"plan":                     string(plan),
		"planUpdatedAt":            now,
		"planExpiryDate":           expiryValue(plan, now),
		"stripeSubscriptionId":     sub.ID,
		"stripeSubscriptionStatus": sub.Status,
		"updatedAt":                now,
	}
	if err := s.userRepo.UpdateFields(ctx, user.ID, fields); err != nil {
		return err
	}

	s.logger.Info("User plan updated from subscription",
		zap.String("user_id", user.ID),
		zap.String("plan", string(plan)),
		zap.String("subscription_id", sub.ID))
	return nil
}

// handleSubscriptionDeleted downgrades the user unconditionally.
func (s *billingService) handleSubscriptionDeleted(ctx context.Context, sub *models.SubscriptionPayload) error {
	user, err := s.resolveUser(ctx, nil, sub.Customer, "")
	if err != nil {
		return err
	}
	if user == nil {
		s.logger.Warn("No user found for cancelled subscription",
			zap.String("customer_id", sub.Customer))
		return nil
	}
	extra := map[string]interface{}{"stripeSubscriptionId": nil}
	return s.downgradeToFree(ctx, user.ID, reasonSubscriptionCancelled, extra)
}

// handleInvoicePaymentSucceeded records a subscription renewal payment.
// Ledger-only: the plan is not touched.
func (s *billingService) handleInvoicePaymentSucceeded(ctx context.Context, invoice *models.InvoicePayload) error {
	user, err := s.resolveUser(ctx, nil, invoice.Customer, "")
	if err != nil {
		return err
	}
	if user == nil {
		s.logger.Warn("No user found for paid invoice",
			zap.String("customer_id", invoice.Customer),
			zap.String("invoice_id", invoice.ID))
		return nil
	}

	now := s.now()
	amount := float64(invoice.AmountPaid) / 100
	fields := map[string]interface{}{
		"lastPayment": models.LastPayment{
			ReferenceID: invoice.ID,
			CustomerID:  invoice.Customer,
			Amount:      amount,
			Currency:    invoice.Currency,
			Date:        now,
			Provider:    providerStripe,
		},
		"updatedAt": now,
	}
	if err := s.userRepo.UpdateFields(ctx, user.ID, fields); err != nil {
		return err
	}

	return s.appendLedger(ctx, &models.PaymentRecord{
		ReferenceID: invoice.ID,
		UserID:      user.ID,
		CustomerID:  invoice.Customer,
		Amount:      amount,
		Currency:    invoice.Currency,
		Provider:    providerStripe,
		Kind:        "invoice",
		Date:        now,
	})
}

// handleInvoicePaymentFailed downgrades the user and records the failure.
func (s *billingService) handleInvoicePaymentFailed(ctx context.Context, invoice *models.InvoicePayload) error {
	user, err := s.resolveUser(ctx, nil, invoice.Customer, "")
	if err != nil {
		return err
	}
	if user == nil {
		s.logger.Warn("No user found for failed invoice",
			zap.String("customer_id", invoice.Customer),
			zap.String("invoice_id", invoice.ID))
		return nil
	}
	extra := map[string]interface{}{
		"lastPaymentFailed": models.LastPaymentFailed{
			ReferenceID: invoice.ID,
			Date:        s.now(),
			Reason:      reasonPaymentFailed,
		},
	}
	return s.downgradeToFree(ctx, user.ID, reasonPaymentFailed, extra)
}

// downgradeToFree unconditionally sets plan=free with the triggering reason.
// stripeCustomerId is retained so a future re-subscription still resolves.
func (s *billingService) downgradeToFree(ctx context.Context, userID, reason string, extra map[string]interface{}) error {
	now := s.now()
	fields := map[string]interface{}{
		"plan":                     string(plans.Free),
		"planUpdatedAt":            now,
		"stripeSubscriptionStatus": reason,
		"updatedAt":                now,
	}
	for k, v := range extra {
		fields[k] = v
	}
	if err := s.userRepo.UpdateFields(ctx, userID, fields); err != nil {
		return err
	}
	s.logger.Info("User downgraded to free plan",
		zap.String("user_id", userID),
		zap.String("reason", reason))
	return nil
}

// createPendingPayment stores an unresolvable event for manual
// reconciliation. It never propagates a failure into the webhook response:
// redelivery cannot fix "we don't know this customer".
func (s *billingService) createPendingPayment(ctx context.Context, pending *models.PendingPayment) error {
	id, err := s.paymentRepo.CreatePending(ctx, pending)
	if err != nil {
		s.logger.Error("Failed to store pending payment",
			zap.String("reference_id", pending.ReferenceID),
			zap.Error(err))
		return nil
	}
	s.logger.Warn("Payment stored for manual reconciliation",
		zap.String("pending_id", id),
		zap.String("reference_id", pending.ReferenceID),
		zap.String("email", pending.Email),
		zap.String("customer_id", pending.CustomerID))
	return nil
}

// appendLedger writes the ledger entry; a ledger failure is logged but does
// not fail the webhook, since the user document is already consistent.
func (s *billingService) appendLedger(ctx context.Context, record *models.PaymentRecord) error {
	if err := s.paymentRepo.AppendLedger(ctx, record); err != nil {
		s.logger.Error("Failed to append payment ledger entry",
			zap.String("reference_id", record.ReferenceID),
			zap.String("user_id", record.UserID),
			zap.Error(err))
	}
	return nil
}

// HandleFlutterwaveWebhook processes events from the legacy Flutterwave
// integration. Authentication is a shared secret hash in the verif-hash
// header, compared in constant time.
func (s *billingService) HandleFlutterwaveWebhook(ctx context.Context, verifHash string, payload []byte) error {
	if s.flutterwaveSecretHash == "" {
		return fmt.Errorf("%w: flutterwave secret hash not configured", ErrInvalidWebhookHash)
	}
	if subtle.ConstantTimeCompare([]byte(verifHash), []byte(s.flutterwaveSecretHash)) != 1 {
		return ErrInvalidWebhookHash
	}

	var event models.FlutterwaveEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: decoding flutterwave event: %v", ErrWebhookProcessing, err)
	}

	s.logger.Info("Flutterwave webhook event received", zap.String("event", event.Event))

	var err error
	switch event.Event {
	case flwEventChargeCompleted:
		err = s.handleFlutterwaveCharge(ctx, &event, payload)
	case flwEventSubscriptionCancel:
		err = s.handleFlutterwaveCancellation(ctx, &event)
	default:
		s.logger.Info("Unhandled Flutterwave event acknowledged", zap.String("event", event.Event))
		return nil
	}

	if err != nil {
		s.logger.Error("Flutterwave webhook handler failed", zap.String("event", event.Event), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrWebhookProcessing, event.Event, err)
	}
	return nil
}

// handleFlutterwaveCharge applies a successful charge: plan from the meta
// block or the tx_ref prefix, user resolved by meta customer id (our user
// id) then email.
func (s *billingService) handleFlutterwaveCharge(ctx context.Context, event *models.FlutterwaveEvent, raw []byte) error {
	data := &event.Data
	if data.Status != "successful" {
		s.logger.Info("Ignoring non-successful Flutterwave charge",
			zap.String("status", data.Status),
			zap.String("tx_ref", data.TxRef))
		return nil
	}

	planID := data.Meta.Plan
	if planID == "" && data.TxRef != "" {
		planID = strings.Split(data.TxRef, "_")[0]
	}
	plan := s.normalizePlan(planID)

	var user *models.User
	var err error
	if data.Meta.CustomerID != "" {
		user, err = s.userRepo.GetByID(ctx, data.Meta.CustomerID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
	}
	if user == nil && data.Customer.Email != "" {
		user, err = s.userRepo.GetByEmail(ctx, data.Customer.Email)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
	}

	now := s.now()
	referenceID := data.ID.String()

	if user == nil {
		return s.createPendingPayment(ctx, &models.PendingPayment{
			Email:       data.Customer.Email,
			UserID:      data.Meta.CustomerID,
			Plan:        string(plan),
			ReferenceID: referenceID,
			Amount:      data.Amount,
			Currency:    data.Currency,
			Provider:    providerFlutterwave,
			RawPayload:  raw,
		})
	}

	fields := map[string]interface{}{
		"plan":           string(plan),
		"planUpdatedAt":  now,
		"planExpiryDate": expiryValue(plan, now),
		"lastPayment": models.LastPayment{
			ReferenceID: referenceID,
			Amount:      data.Amount,
			Currency:    data.Currency,
			Date:        now,
			Provider:    providerFlutterwave,
		},
		"updatedAt": now,
	}
	if err := s.userRepo.UpdateFields(ctx, user.ID, fields); err != nil {
		return err
	}

	s.logger.Info("User plan updated from Flutterwave charge",
		zap.String("user_id", user.ID),
		zap.String("plan", string(plan)),
		zap.String("tx_ref", data.TxRef))

	return s.appendLedger(ctx, &models.PaymentRecord{
		ReferenceID: referenceID,
		UserID:      user.ID,
		Plan:        string(plan),
		Amount:      data.Amount,
		Currency:    data.Currency,
		Provider:    providerFlutterwave,
		Kind:        "checkout",
		Date:        now,
	})
}

// handleFlutterwaveCancellation downgrades by customer email, the only
// correlation key Flutterwave cancellation events carry.
func (s *billingService) handleFlutterwaveCancellation(ctx context.Context, event *models.FlutterwaveEvent) error {
	email := event.Data.Customer.Email
	if email == "" {
		s.logger.Warn("Flutterwave cancellation without customer email")
		return nil
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.logger.Warn("No user found for Flutterwave cancellation", zap.String("email", email))
			return nil
		}
		return err
	}
	return s.downgradeToFree(ctx, user.ID, reasonSubscriptionCancelled, nil)
}

// expiryValue returns the plan expiry as an interface value suitable for a
// partial update: a concrete time for paid plans, nil (explicit null) for
// free.
func expiryValue(plan plans.Plan, now time.Time) interface{} {
	if expiry := plans.ExpiryFor(plan, now); expiry != nil {
		return *expiry
	}
	return nil
}

func tokenUserID(token *correlationToken) string {
	if token == nil {
		return ""
	}
	return token.userID
}
